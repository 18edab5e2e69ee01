// Package ansifilter implements the stateful CSI-stripping scanner for the
// serial-to-network path: recognizing and selectively dropping ANSI CSI
// escape sequences while color (SGR) passes through untouched.
package ansifilter

// subState is the filter's position within an escape sequence.
type subState int

const (
	stateText subState = iota
	stateEscSeen
	stateCSI
	stateCSIParam
)

// maxPending bounds how long an incomplete sequence is held; sequences
// that never complete within this window are passed through literally on
// flush.
const maxPending = 128

// dropFinals is the cursor/screen-control CSI final-byte subset that gets
// stripped entirely on the S2N direction. SGR ('m') is deliberately absent:
// it passes through untouched.
var dropFinals = map[byte]bool{
	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true,
	'G': true, 'H': true, 'J': true, 'K': true, 'S': true, 'T': true,
	'f': true, 'n': true, 's': true, 'u': true,
}

// Filter strips CSI cursor/screen-control sequences from a byte stream
// while passing everything else (including SGR color sequences) through
// unchanged. It is stateful across Filter calls so sequences split across
// reads are still recognized.
type Filter struct {
	state   subState
	pending []byte
}

// New returns a Filter for the serial-to-network direction (strips
// cursor/screen control). Network-to-serial traffic is identity and needs
// no filter at all; callers should just forward those bytes directly.
func New() *Filter {
	return &Filter{}
}

// Write processes in and appends the bytes that should pass through to out,
// returning the extended slice.
func (f *Filter) Write(out, in []byte) []byte {
	for _, b := range in {
		out = f.step(out, b)
	}
	return out
}

func (f *Filter) step(out []byte, b byte) []byte {
	switch f.state {
	case stateText:
		if b == 0x1B {
			f.state = stateEscSeen
			f.pending = append(f.pending[:0], b)
			return out
		}
		return append(out, b)

	case stateEscSeen:
		f.pending = append(f.pending, b)
		if b == '[' {
			f.state = stateCSI
			return out
		}
		// Not a CSI introducer, so not a sequence this filter understands;
		// flush the ESC and this byte literally.
		out = append(out, f.pending...)
		f.resetPending()
		return out

	case stateCSI, stateCSIParam:
		f.pending = append(f.pending, b)
		if isCSIParamByte(b) {
			f.state = stateCSIParam
			if len(f.pending) >= maxPending {
				out = append(out, f.pending...)
				f.resetPending()
			}
			return out
		}
		// Any byte in 0x40-0x7E terminates the CSI sequence (final byte).
		if b >= 0x40 && b <= 0x7E {
			if !dropFinals[b] {
				out = append(out, f.pending...)
			}
			f.resetPending()
			return out
		}
		// Byte outside both the parameter range and the final-byte range:
		// the sequence is malformed. Flush it literally and resync.
		out = append(out, f.pending...)
		f.resetPending()
		return out
	}
	return out
}

func isCSIParamByte(b byte) bool {
	return (b >= '0' && b <= '9') || b == ';' || b == '?'
}

func (f *Filter) resetPending() {
	f.state = stateText
	f.pending = f.pending[:0]
}

// Flush returns any incomplete sequence currently buffered, passed
// through literally, and resets the filter to TEXT. Callers should invoke this when a connection is torn down or a read
// boundary forces the buffered prefix out.
func (f *Filter) Flush(out []byte) []byte {
	out = append(out, f.pending...)
	f.resetPending()
	return out
}
