// Package telnet implements the bridge's Telnet protocol engine:
// IAC byte-stuffing on egress, an 8-state IAC parser on ingress, WILL/WONT/
// DO/DONT option negotiation with loop prevention, and subnegotiation framing
// for TERMINAL-TYPE and LINEMODE.
package telnet

import (
	"github.com/stlalpha/modembridge/internal/bridgeerr"
)

// Telnet command bytes (RFC 854).
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Subnegotiation Begin
	GA   byte = 249 // Go Ahead
	EL   byte = 248 // Erase Line
	EC   byte = 247 // Erase Character
	AYT  byte = 246 // Are You There
	AO   byte = 245 // Abort Output
	IP   byte = 244 // Interrupt Process
	BRK  byte = 243 // Break
	DM   byte = 242 // Data Mark
	NOP  byte = 241 // No Operation
	SE   byte = 240 // Subnegotiation End
)

// Options supported. Any option outside this set is
// rejected: a peer WILL gets DONT, a peer DO gets WONT.
const (
	OptBinary   byte = 0
	OptEcho     byte = 1
	OptSGA      byte = 3
	OptTermType byte = 24
	OptNAWS     byte = 31
	OptLinemode byte = 34
)

// TerminalType subnegotiation subcommands (RFC 1091).
const (
	TermTypeIs   byte = 0
	TermTypeSend byte = 1
)

// State is one of the 8 IAC-parser states.
type State int

const (
	StateData State = iota
	StateIAC
	StateWill
	StateWont
	StateDo
	StateDont
	StateSB
	StateSBIAC
)

func (s State) String() string {
	switch s {
	case StateData:
		return "DATA"
	case StateIAC:
		return "IAC"
	case StateWill:
		return "WILL"
	case StateWont:
		return "WONT"
	case StateDo:
		return "DO"
	case StateDont:
		return "DONT"
	case StateSB:
		return "SB"
	case StateSBIAC:
		return "SB_IAC"
	default:
		return "UNKNOWN"
	}
}

// maxSubnegBuffer bounds the subnegotiation accumulation buffer; oversized
// payloads are truncated with a recorded violation.
const maxSubnegBuffer = 4096

// NegotiationSink receives the bytes the engine wants to send back over the
// wire as a side effect of processing ingress bytes (replies to WILL/DO,
// AYT's "[Yes]", TERMINAL-TYPE IS responses, …). Kept as a narrow interface
// so the engine never owns a net.Conn directly; wire ownership stays with
// the caller.
type NegotiationSink interface {
	SendTelnet(b []byte)
}

// Anomaly records a non-fatal protocol violation observed by the parser.
type Anomaly struct {
	Reason string
}

// Engine is the Telnet protocol engine for one connection. Callers
// serialize input parsing and output escaping per connection.
type Engine struct {
	state       State
	sbOption    byte
	sbHasOption bool // first byte after SB sets sbOption; later bytes accumulate
	sbData      []byte
	sbTruncated bool

	local  OptionTable // local_enabled: "we are doing opt"
	remote OptionTable // remote_enabled: "peer is doing opt"

	termType string

	sink      NegotiationSink
	anomalies []Anomaly

	sgaLocal  bool // cached view of local[OptSGA] for GA handling
	sgaRemote bool
}

// NewEngine creates a Telnet engine with the default terminal type "ANSI".
func NewEngine(sink NegotiationSink) *Engine {
	return &Engine{
		state:    StateData,
		termType: "ANSI",
		sink:     sink,
	}
}

// SetTerminalType overrides the string reported in reply to SB TTYPE SEND.
func (e *Engine) SetTerminalType(t string) {
	if t != "" {
		e.termType = t
	}
}

// OpenConnection sends the proactive option offers for a fresh
// connection: WILL SGA, DO SGA, DO ECHO, WILL TERMINAL-TYPE.
func (e *Engine) OpenConnection() {
	e.requestLocal(OptSGA, true)   // WILL SGA
	e.requestRemote(OptSGA, true)  // DO SGA
	e.requestRemote(OptEcho, true) // DO ECHO
	e.requestLocal(OptTermType, true)  // WILL TERMINAL-TYPE
}

// Egress escapes IAC (0xFF) bytes for transmission. dst must have capacity
// for at least 2*len(src); ErrBufferFull is returned otherwise.
func Egress(dst, src []byte) (int, error) {
	if len(dst) < 2*len(src) {
		return 0, bridgeerr.ErrBufferFull
	}
	n := 0
	for _, b := range src {
		dst[n] = b
		n++
		if b == IAC {
			dst[n] = IAC
			n++
		}
	}
	return n, nil
}

// Ingress feeds raw bytes from the wire through the 8-state parser. Decoded
// data bytes are appended to out and returned; out may be reused/grown by
// the caller across calls. Any side-effect replies (negotiation acks, AYT,
// TERMINAL-TYPE IS) are sent via the engine's NegotiationSink as they are
// produced.
func (e *Engine) Ingress(in []byte, out []byte) []byte {
	for _, b := range in {
		switch e.state {
		case StateData:
			if b == IAC {
				e.state = StateIAC
			} else {
				out = append(out, b)
			}

		case StateIAC:
			switch b {
			case IAC:
				out = append(out, 0xFF)
				e.state = StateData
			case WILL:
				e.state = StateWill
			case WONT:
				e.state = StateWont
			case DO:
				e.state = StateDo
			case DONT:
				e.state = StateDont
			case SB:
				e.sbData = e.sbData[:0]
				e.sbTruncated = false
				e.sbHasOption = false
				e.state = StateSB
			case NOP:
				e.state = StateData
			case GA:
				e.handleGA()
				e.state = StateData
			case AYT:
				e.sendRaw([]byte("[Yes]\r\n"))
				e.state = StateData
			case DM, IP, AO, BRK, EC, EL:
				// Acknowledged silently: the contract is not to crash, not
				// to implement full out-of-band semantics.
				e.state = StateData
			default:
				e.state = StateData
			}

		case StateWill, StateWont, StateDo, StateDont:
			e.handleNegotiation(e.state, b)
			e.state = StateData

		case StateSB:
			if !e.sbHasOption {
				e.sbOption = b
				e.sbHasOption = true
				continue
			}
			if b == IAC {
				e.state = StateSBIAC
			} else if len(e.sbData) < maxSubnegBuffer {
				e.sbData = append(e.sbData, b)
			} else {
				e.sbTruncated = true
			}

		case StateSBIAC:
			switch b {
			case SE:
				e.completeSubnegotiation()
				e.state = StateData
			case IAC:
				if len(e.sbData) < maxSubnegBuffer {
					e.sbData = append(e.sbData, IAC)
				} else {
					e.sbTruncated = true
				}
				e.state = StateSB
			default:
				e.anomalies = append(e.anomalies, Anomaly{Reason: "subnegotiation aborted: unexpected byte after IAC"})
				e.state = StateData
			}
		}
	}
	return out
}

// Anomalies returns and clears the accumulated protocol anomalies.
func (e *Engine) Anomalies() []Anomaly {
	a := e.anomalies
	e.anomalies = nil
	return a
}

// State returns the parser's current state (for tests/diagnostics).
func (e *Engine) State() State {
	return e.state
}

// LocalEnabled reports whether the given option is enabled in our direction.
func (e *Engine) LocalEnabled(opt byte) bool { return e.local.Get(opt) }

// RemoteEnabled reports whether the given option is enabled in the peer's
// direction.
func (e *Engine) RemoteEnabled(opt byte) bool { return e.remote.Get(opt) }

func (e *Engine) sendRaw(b []byte) {
	if e.sink != nil {
		e.sink.SendTelnet(b)
	}
}

func (e *Engine) handleGA() {
	if e.sgaLocal || e.sgaRemote {
		return // SGA in effect either direction: GA is ignored
	}
	e.anomalies = append(e.anomalies, Anomaly{Reason: "unexpected GA with SGA not negotiated"})
}

func (e *Engine) handleNegotiation(state State, opt byte) {
	switch state {
	case StateWill:
		e.peerOffersRemote(opt, true)
	case StateWont:
		e.peerOffersRemote(opt, false)
	case StateDo:
		e.peerRequestsLocal(opt, true)
	case StateDont:
		e.peerRequestsLocal(opt, false)
	}
}

func supportedOption(opt byte) bool {
	switch opt {
	case OptBinary, OptEcho, OptSGA, OptTermType, OptNAWS, OptLinemode:
		return true
	default:
		return false
	}
}

// peerOffersRemote handles an incoming WILL/WONT: the peer is telling us
// about ITS side (remote_enabled).
func (e *Engine) peerOffersRemote(opt byte, want bool) {
	current := e.remote.Get(opt)
	if current == want {
		return // loop prevention: no change, no reply
	}
	accept := want && supportedOption(opt)
	e.remote.Set(opt, accept)
	if opt == OptSGA {
		e.sgaRemote = accept
	}
	if want {
		if accept {
			e.sendCmd(DO, opt)
		} else {
			e.sendCmd(DONT, opt)
		}
	} else {
		e.sendCmd(DONT, opt)
	}
}

// peerRequestsLocal handles an incoming DO/DONT: the peer is asking about
// OUR side (local_enabled).
func (e *Engine) peerRequestsLocal(opt byte, want bool) {
	current := e.local.Get(opt)
	if current == want {
		return
	}
	accept := want && supportedOption(opt)
	if opt == OptEcho {
		// The bridge never performs character echo itself locally; that is
		// the Hayes modem engine's job on the serial side. Only a request to
		// turn ECHO off is ever honored here.
		accept = false
	}
	e.local.Set(opt, accept)
	if opt == OptSGA {
		e.sgaLocal = accept
	}
	if want {
		if accept {
			e.sendCmd(WILL, opt)
		} else {
			e.sendCmd(WONT, opt)
		}
	} else {
		e.sendCmd(WONT, opt)
	}
}

// requestLocal proactively asks the peer to let us enable/disable opt
// (sends WILL/WONT) without waiting for a DO/DONT first.
func (e *Engine) requestLocal(opt byte, enable bool) {
	e.local.Set(opt, enable)
	if opt == OptSGA {
		e.sgaLocal = enable
	}
	if enable {
		e.sendCmd(WILL, opt)
	} else {
		e.sendCmd(WONT, opt)
	}
}

// requestRemote proactively asks the peer to enable/disable opt on their
// side (sends DO/DONT).
func (e *Engine) requestRemote(opt byte, enable bool) {
	if enable {
		e.sendCmd(DO, opt)
	} else {
		e.sendCmd(DONT, opt)
	}
}

func (e *Engine) sendCmd(cmd, opt byte) {
	e.sendRaw([]byte{IAC, cmd, opt})
}

func (e *Engine) completeSubnegotiation() {
	if e.sbTruncated {
		e.anomalies = append(e.anomalies, Anomaly{Reason: "subnegotiation truncated at 4096 bytes"})
	}
	switch e.sbOption {
	case OptTermType:
		e.handleTermTypeSubneg()
	case OptLinemode:
		e.handleLinemodeSubneg()
	}
}

func (e *Engine) handleTermTypeSubneg() {
	if len(e.sbData) == 0 {
		return
	}
	switch e.sbData[0] {
	case TermTypeSend:
		reply := make([]byte, 0, len(e.termType)+8)
		reply = append(reply, IAC, SB, OptTermType, TermTypeIs)
		reply = append(reply, []byte(e.termType)...)
		reply = append(reply, IAC, SE)
		e.sendRaw(reply)
	case TermTypeIs:
		if len(e.sbData) > 1 {
			e.termType = string(e.sbData[1:])
		}
	}
}
