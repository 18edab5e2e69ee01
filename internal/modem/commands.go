package modem

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stlalpha/modembridge/internal/bridgeerr"
)

func bridgeErrProtocol(reason string) error {
	return fmt.Errorf("%w: %s", bridgeerr.ErrProtocol, reason)
}

// token is one parsed command out of an AT chain.
type token struct {
	name string // E,V,Q,X,H,A,O,Z,I,D,B,L,M,&C,&D,&F,&S,&V,&W,\N,S
	num  int

	sregIndex int
	sregOp    byte // 0 none, '?' query, '=' write
	sregValue int

	dialString string
}

// tokenizeChain splits the tail of an AT line (everything after the leading
// "AT") into a left-to-right command chain. Returns an
// error if any token is unrecognized; the caller aborts the whole chain
// with ERROR on a tokenizing failure, matching "first failure" semantics.
func tokenizeChain(tail string) ([]token, error) {
	s := strings.ToUpper(strings.ReplaceAll(tail, " ", ""))
	var out []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '&':
			if i+1 >= len(s) {
				return nil, bridgeErrProtocol("truncated & command")
			}
			name := "&" + string(s[i+1])
			i += 2
			switch name {
			case "&C", "&D", "&F", "&S", "&V", "&W":
				n, consumed := readDigits(s[i:])
				i += consumed
				out = append(out, token{name: name, num: n})
			default:
				return nil, bridgeErrProtocol("unknown & command " + name)
			}
		case c == '\\':
			if i+1 >= len(s) || s[i+1] != 'N' {
				return nil, bridgeErrProtocol("unknown backslash command")
			}
			i += 2
			n, consumed := readDigits(s[i:])
			i += consumed
			out = append(out, token{name: "\\N", num: n})
		case c == 'S':
			i++
			idx, consumed := readDigits(s[i:])
			i += consumed
			if i >= len(s) || (s[i] != '?' && s[i] != '=') {
				return nil, bridgeErrProtocol("malformed S-register access")
			}
			op := s[i]
			i++
			t := token{name: "S", sregIndex: idx, sregOp: op}
			if op == '=' {
				val, consumed := readDigits(s[i:])
				i += consumed
				if val < 0 || val > 255 {
					return nil, bridgeErrProtocol("S-register value out of byte range")
				}
				t.sregValue = val
			}
			out = append(out, t)
		case c == 'D':
			i++
			out = append(out, token{name: "D", dialString: s[i:]})
			i = len(s)
		case isCommandLetter(c):
			i++
			n, consumed := readDigits(s[i:])
			i += consumed
			out = append(out, token{name: string(c), num: n})
		default:
			return nil, bridgeErrProtocol("unrecognized command letter")
		}
	}
	return out, nil
}

func isCommandLetter(c byte) bool {
	switch c {
	case 'E', 'V', 'Q', 'X', 'H', 'A', 'O', 'Z', 'I', 'B', 'L', 'M':
		return true
	}
	return false
}

// readDigits reads a run of leading ASCII digits from s, defaulting to 0 if
// none are present.
func readDigits(s string) (int, int) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, 0
	}
	n, _ := strconv.Atoi(s[:end])
	return n, end
}

// execChain runs a parsed chain against e's settings left-to-right,
// aborting on the first command that fails. It returns the result code for
// the whole chain; state transitions (answer, hangup, return-to-online,
// reset) are applied to e as side effects.
func (e *Engine) execChain(tokens []token) ResultCode {
	for _, t := range tokens {
		if !e.execOne(t) {
			return ResultError
		}
	}
	return ResultOK
}

func (e *Engine) execOne(t token) bool {
	switch t.name {
	case "E":
		e.settings.Echo = t.num != 0
	case "V":
		e.settings.Verbose = t.num != 0
	case "Q":
		e.settings.Quiet = t.num != 0
	case "X":
		if t.num < 0 || t.num > 4 {
			return false
		}
		e.settings.ResultCodesLevel = t.num
	case "B":
		e.settings.BellMode = t.num
	case "L":
		e.settings.SpeakerVolume = t.num
	case "M":
		e.settings.SpeakerControl = t.num
	case "\\N":
		e.settings.ErrorCorrectionMode = t.num
	case "H":
		e.hangup()
	case "A":
		e.answer()
	case "O":
		e.returnToOnline()
	case "Z":
		e.resetToProfile(t.num)
	case "I":
		e.pendingInfo = append(e.pendingInfo,
			FormatInfo(e.settings, "MODEMBRIDGE EMULATED MODEM")...)
	case "D":
		// Dial string is accepted and ignored; the bridge has
		// no real call-placement semantics of its own.
		e.answer()
	case "&F":
		e.settings.FactoryReset()
	case "&W":
		e.profiles.Save(t.num, e.settings)
	case "&V":
		e.pendingInfo = append(e.pendingInfo,
			FormatInfo(e.settings, e.settings.Dump())...)
	case "&C":
		if t.num != 0 && t.num != 1 {
			return false
		}
		e.settings.DCDMode = t.num
	case "&D":
		if t.num < 0 || t.num > 3 {
			return false
		}
		e.settings.DTRMode = t.num
	case "&S":
		e.settings.DSRMode = t.num
	case "S":
		if t.sregIndex < 0 || t.sregIndex > 255 {
			return false
		}
		if t.sregOp == '=' {
			if t.sregIndex == SRegCR && t.sregValue > 127 {
				return false
			}
			e.settings.SRegisters[t.sregIndex] = byte(t.sregValue)
		} else {
			e.pendingInfo = append(e.pendingInfo, FormatInfo(e.settings,
				fmt.Sprintf("%03d", e.settings.SRegisters[t.sregIndex]))...)
			e.lastQueriedRegister = t.sregIndex
		}
	default:
		return false
	}
	return true
}
