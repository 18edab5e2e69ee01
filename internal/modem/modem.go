// Package modem implements the Hayes-compatible AT command engine that
// fronts the serial side of the bridge: command-mode line
// assembly and dispatch, result-code formatting, the +++ escape-guard
// detector, unsolicited hardware-line passthrough, and the DCD/DTR coupling
// rules that move the modem between its five states.
package modem

import (
	"sync"
	"time"

	"github.com/stlalpha/modembridge/internal/events"
)

// Engine is the modem's full runtime state: settings, S-registers, saved
// profiles, the command-line assembler, and the escape detector. It is
// guarded by a single mutex since both the serial worker (byte ingress) and
// the supervisor (DCD/DTR-driven transitions) call into it, matching the
// bridge-wide lock-ordering contract (the modem mutex sits below the
// supervisor state mutex and above the pipe mutexes).
type Engine struct {
	mu sync.Mutex

	state    State
	settings Settings
	profiles ProfileStore

	line    LineAssembler
	esc     EscapeDetector
	hwLine  HardwareLineMatcher
	events  *events.Queue

	ringCount           int
	lastQueriedRegister int
	lastConnectBPS      int
	pendingResult       *ResultCode
	pendingInfo         []byte
}

// NewEngine constructs a modem in its initial DISCONNECTED state. ev may be
// nil, in which case hardware and connection events are dropped silently.
func NewEngine(ev *events.Queue) *Engine {
	return &Engine{
		state:    StateDisconnected,
		settings: DefaultSettings(),
		events:   ev,
	}
}

// Initialize transitions DISCONNECTED -> COMMAND, as happens once the
// enclosing program has successfully opened the serial line.
func (e *Engine) Initialize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateCommand
}

// State returns the current modem state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Settings returns a copy of the modem's current settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings.Clone()
}

// FeedCommandByte processes one byte of command-mode serial input and
// returns the bytes (echo plus any completed result code) to write back to
// the DTE. It is only meaningful while State() == StateCommand.
func (e *Engine) FeedCommandByte(b byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := e.line.Feed(b, e.settings)
	out := append([]byte{}, res.Echo...)
	if !res.Complete {
		return out
	}
	return append(out, e.handleLine(res.Line)...)
}

// handleLine dispatches one assembled command line and returns its
// formatted result code. Caller holds e.mu.
func (e *Engine) handleLine(line string) []byte {
	if line == "" {
		text, ok := FormatResult(e.settings, ResultOK, 0)
		if !ok {
			return nil
		}
		return []byte(text)
	}

	if len(line) < 2 || !isATPrefix(line) {
		text, ok := FormatResult(e.settings, ResultError, 0)
		if !ok {
			return nil
		}
		return []byte(text)
	}

	e.pendingResult = nil
	e.pendingInfo = nil
	tokens, err := tokenizeChain(line[2:])
	var result ResultCode
	if err != nil {
		result = ResultError
	} else {
		result = e.execChain(tokens)
		if result == ResultOK && e.pendingResult != nil {
			result = *e.pendingResult
		}
	}

	out := e.pendingInfo
	e.pendingInfo = nil
	text, ok := FormatResult(e.settings, result, e.lastConnectBPS)
	if !ok {
		return out
	}
	return append(out, text...)
}

func isATPrefix(line string) bool {
	return (line[0] == 'A' || line[0] == 'a') && (line[1] == 'T' || line[1] == 't')
}

// FeedOnlineByte processes one byte of online-mode serial input through the
// escape detector and returns the bytes that should be forwarded to the
// network side right now (possibly none, while a candidate escape sequence
// is pending).
func (e *Engine) FeedOnlineByte(b byte, now time.Time) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	guard := guardDuration(e.settings)
	escByte := e.settings.SRegisters[SRegEscapeChar]
	return e.esc.Feed(escByte, b, now, guard)
}

// PollEscape must be called regularly (e.g. once per scheduler tick) while
// ONLINE so that a completed three-plus run is recognized even if no
// further bytes arrive to drive FeedOnlineByte. It returns the bytes to
// write back to the DTE (the OK result) and whether the switch happened.
func (e *Engine) PollEscape(now time.Time) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateOnline || !e.esc.Poll(now) {
		return nil, false
	}
	e.state = StateCommand
	text, ok := FormatResult(e.settings, ResultOK, 0)
	if !ok {
		return nil, true
	}
	return []byte(text), true
}

func guardDuration(s Settings) time.Duration {
	return time.Duration(s.SRegisters[SRegGuardTime]) * 20 * time.Millisecond
}

// FeedHardwareByte processes one byte from a real attached modem's status
// channel, updating ring/connect/disconnect state instead of ever
// forwarding the line as data.
func (e *Engine) FeedHardwareByte(b byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev, bps, ok := e.hwLine.Feed(b)
	if !ok {
		return nil
	}
	switch ev {
	case HWRing:
		e.ringCount++
		e.emitEvent(events.RingDetected, "")
		if e.settings.SRegisters[SRegRingsToAutoAnswer] > 0 &&
			e.ringCount >= int(e.settings.SRegisters[SRegRingsToAutoAnswer]) {
			e.ringCount = 0
			e.emitEvent(events.AutoAnswerTriggered, "")
			e.answerLocked()
		}
		if e.settings.Quiet {
			return nil
		}
		text, ok := FormatResult(e.settings, ResultRing, 0)
		if !ok {
			return nil
		}
		return []byte(text)
	case HWConnect:
		e.lastConnectBPS = bps
		e.state = StateOnline
		e.esc.Reset()
		if e.events != nil {
			e.events.EmitConnect(bps)
		}
		return nil
	case HWNoCarrier:
		e.state = StateCommand
		e.emitEvent(events.CarrierLost, "hardware NO CARRIER")
		return nil
	}
	return nil
}

func (e *Engine) emitEvent(kind events.Kind, reason string) {
	if e.events == nil {
		return
	}
	e.events.Emit(kind, reason)
}

// OnDCDFallingEdge handles a carrier drop: losing DCD while ONLINE
// tears down the call and returns the modem to COMMAND (via DISCONNECTED's
// lifecycle being driven by the caller for the network-side teardown; the
// modem's own state goes straight to COMMAND so a fresh AT line works).
func (e *Engine) OnDCDFallingEdge() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateOnline {
		return nil
	}
	e.state = StateCommand
	e.esc.Reset()
	e.emitEvent(events.CarrierLost, "DCD falling edge")

	text, ok := FormatResult(e.settings, ResultNoCarrier, 0)
	if !ok {
		return nil
	}
	return []byte(text)
}

// OnDTRFallingEdge applies the configured dtr_mode behavior.
func (e *Engine) OnDTRFallingEdge() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.settings.DTRMode {
	case 0:
		return nil
	case 1:
		e.state = StateCommand
		e.esc.Reset()
		return nil
	case 2:
		e.state = StateCommand
		e.esc.Reset()
		e.emitEvent(events.DTRDropped, "hangup on DTR drop")
		text, ok := FormatResult(e.settings, ResultNoCarrier, 0)
		if !ok {
			return nil
		}
		return []byte(text)
	case 3:
		e.settings.FactoryReset()
		e.state = StateCommand
		e.esc.Reset()
		e.emitEvent(events.DTRDropped, "full reset on DTR drop")
		return nil
	}
	return nil
}

// DCDLine reports the serial-control signal value a caller should present
// for DCD, per dcd_mode.
func (e *Engine) DCDLine() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settings.DCDMode == 0 {
		return true
	}
	return e.state == StateOnline
}

func (e *Engine) answer() {
	e.answerLocked()
}

// answerLocked transitions to ONLINE, as driven by ATA or software
// auto-answer. Caller holds e.mu.
func (e *Engine) answerLocked() {
	e.state = StateOnline
	e.esc.Reset()
	result := ResultConnect
	e.pendingResult = &result
}

func (e *Engine) hangup() {
	e.state = StateCommand
	e.esc.Reset()
}

func (e *Engine) returnToOnline() {
	if e.state == StateCommand {
		e.state = StateOnline
		e.esc.Reset()
	}
	result := ResultConnect
	e.pendingResult = &result
}

func (e *Engine) resetToProfile(n int) {
	if loaded, ok := e.profiles.Load(n); ok {
		e.settings = loaded
	} else {
		e.settings.FactoryReset()
	}
	e.state = StateCommand
	e.esc.Reset()
	e.line.Reset()
}

// LastQueriedRegister returns the index of the most recent S<n>? query, for
// a caller that wants to format the read-out differently from the default
// three-digit rendering.
func (e *Engine) LastQueriedRegister() (int, byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastQueriedRegister, e.settings.SRegisters[e.lastQueriedRegister]
}
