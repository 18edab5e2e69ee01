package telnet

// OptionTable is a 256-entry table tracking one enabled/disabled flag per
// Telnet option. A plain [256]bool array rather than packed bits: a bridge handles one connection at a time, so the 256 bytes per
// direction are irrelevant and the code stays simple.
type OptionTable [256]bool

// Get reports whether opt is currently enabled.
func (t *OptionTable) Get(opt byte) bool {
	return t[opt]
}

// Set enables or disables opt.
func (t *OptionTable) Set(opt byte, enabled bool) {
	t[opt] = enabled
}
