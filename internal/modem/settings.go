package modem

import (
	"fmt"
	"strings"
)

// Settings holds one modem profile: the AT command behavior flags plus the
// 256-byte S-register file.
type Settings struct {
	Echo    bool // ATE
	Verbose bool // ATV
	Quiet   bool // ATQ
	// ResultCodesLevel (ATX, 0-4) gates which result codes above ERROR are
	// emitted.
	ResultCodesLevel int
	// DCDMode: 0 = DCD always reported high, 1 = DCD follows real carrier.
	DCDMode int
	// DTRMode: 0 = ignore DTR drop, 1 = switch to COMMAND, 2 = hang up and
	// switch to COMMAND, 3 = full reset.
	DTRMode int

	BellMode            int
	SpeakerVolume       int
	SpeakerControl      int
	ErrorCorrectionMode int
	DSRMode             int

	// SRegisters is the 256-byte S-register file, addressed by AT S<n>.
	SRegisters [256]byte
}

// Well-known S-register indices.
const (
	SRegRingsToAutoAnswer = 0
	SRegRingCount         = 1
	SRegEscapeChar        = 2
	SRegCR                = 3
	SRegLF                = 4
	SRegBackspace         = 5
	SRegWaitForDialtone   = 6
	SRegWaitForCarrier    = 7
	SRegCommaPauseTime    = 8
	SRegCarrierDetectTime = 9
	SRegCarrierLossTime   = 10
	SRegEscapeDelay       = 11
	SRegGuardTime         = 12
)

// DefaultSettings returns a Settings populated with Hayes factory defaults.
func DefaultSettings() Settings {
	s := Settings{
		Echo:             true,
		Verbose:          true,
		Quiet:            false,
		ResultCodesLevel: 4,
		DCDMode:          1,
		DTRMode:          2,
	}
	defaults := [13]byte{0, 0, 43, 13, 10, 8, 2, 60, 2, 6, 7, 95, 50}
	for i, v := range defaults {
		s.SRegisters[i] = v
	}
	return s
}

// Clone returns a deep copy (Settings has no pointer fields, so a value
// copy already is one, but Clone documents the intent at call sites like
// AT&F/AT&W/ATZ that must not alias the source).
func (s Settings) Clone() Settings {
	return s
}

// FactoryReset resets s to the default profile in place (AT&F / ATZ with no
// saved profile).
func (s *Settings) FactoryReset() {
	*s = DefaultSettings()
}

// Dump renders the active profile for AT&V: an "ACTIVE PROFILE:" header,
// one line of behavior flags, one line of B/L/M/\N values, then the low
// S-registers S0-S12 as space-separated Snn:vvv pairs.
func (s Settings) Dump() string {
	var b strings.Builder
	b.WriteString("ACTIVE PROFILE:\r\n")
	fmt.Fprintf(&b, "E%d V%d Q%d X%d &C%d &D%d &S%d\r\n",
		boolDigit(s.Echo), boolDigit(s.Verbose), boolDigit(s.Quiet),
		s.ResultCodesLevel, s.DCDMode, s.DTRMode, s.DSRMode)
	fmt.Fprintf(&b, "B%d L%d M%d \\N%d\r\n",
		s.BellMode, s.SpeakerVolume, s.SpeakerControl, s.ErrorCorrectionMode)
	for i := 0; i <= SRegGuardTime; i++ {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "S%02d:%03d", i, s.SRegisters[i])
	}
	return b.String()
}

func boolDigit(v bool) int {
	if v {
		return 1
	}
	return 0
}

// ProfileStore holds the two named profile slots AT&W can save into and ATZ
// can restore from. Profiles live only in memory; AT&W never persists
// modem profiles across restarts.
type ProfileStore struct {
	slots [2]*Settings
}

// Save stores a snapshot of s into slot n (0 or 1). Returns false if n is
// out of range.
func (p *ProfileStore) Save(n int, s Settings) bool {
	if n < 0 || n > 1 {
		return false
	}
	snapshot := s.Clone()
	p.slots[n] = &snapshot
	return true
}

// Load returns the snapshot in slot n, or (DefaultSettings(), false) if the
// slot has never been saved or n is out of range.
func (p *ProfileStore) Load(n int) (Settings, bool) {
	if n < 0 || n > 1 || p.slots[n] == nil {
		return DefaultSettings(), false
	}
	return p.slots[n].Clone(), true
}
