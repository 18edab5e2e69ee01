package modem

import "fmt"

// ResultCode enumerates the Hayes result codes.
type ResultCode int

const (
	ResultOK ResultCode = iota
	ResultConnect
	ResultRing
	ResultNoCarrier
	ResultError
	ResultNoDialtone
	ResultBusy
	ResultNoAnswer
)

func (r ResultCode) verboseText() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultConnect:
		return "CONNECT"
	case ResultRing:
		return "RING"
	case ResultNoCarrier:
		return "NO CARRIER"
	case ResultError:
		return "ERROR"
	case ResultNoDialtone:
		return "NO DIALTONE"
	case ResultBusy:
		return "BUSY"
	case ResultNoAnswer:
		return "NO ANSWER"
	default:
		return "ERROR"
	}
}

func (r ResultCode) numericDigit() int {
	switch r {
	case ResultOK:
		return 0
	case ResultConnect:
		return 1
	case ResultRing:
		return 2
	case ResultNoCarrier:
		return 3
	case ResultError:
		return 4
	case ResultNoDialtone:
		return 6
	case ResultBusy:
		return 7
	case ResultNoAnswer:
		return 8
	default:
		return 4
	}
}

// gatedByLevel reports whether a code above ERROR is suppressed by the
// current result_codes_level (ATX).
func (r ResultCode) gatedByLevel(level int) bool {
	switch r {
	case ResultNoDialtone:
		return level < 2
	case ResultBusy:
		return level < 3
	case ResultNoAnswer:
		return level < 4
	default:
		return false
	}
}

// FormatResult renders a result code per the modem's current settings, or
// returns ("", false) if it is suppressed (quiet mode, or gated by X-level).
// bps is only used for ResultConnect when level >= 1; pass 0 to omit it.
func FormatResult(s Settings, r ResultCode, bps int) (string, bool) {
	if s.Quiet {
		return "", false
	}
	if r.gatedByLevel(s.ResultCodesLevel) {
		return "", false
	}

	const crlf = "\r\n"
	if !s.Verbose {
		return crlf + fmt.Sprintf("%d", r.numericDigit()) + crlf, true
	}

	text := r.verboseText()
	if r == ResultConnect && bps > 0 && s.ResultCodesLevel >= 1 {
		text = fmt.Sprintf("CONNECT %d", bps)
	}
	return crlf + text + crlf, true
}

// FormatInfo frames an informational payload (an S-register query value, an
// ATI identity line, the AT&V dump) for the DTE. Info payloads are emitted
// even in numeric mode, but quiet mode suppresses them along with the
// result codes.
func FormatInfo(s Settings, text string) string {
	if s.Quiet {
		return ""
	}
	return "\r\n" + text + "\r\n"
}
