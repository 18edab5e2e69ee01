// Package supervisor implements the bridge's ten-state lifecycle machine:
// a static transition table, per-state timeouts, and exponential-backoff
// recovery from ERROR.
package supervisor

import (
	"sync"
	"time"

	"github.com/stlalpha/modembridge/internal/bridgeerr"
)

// State is one of the ten supervisor states.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateConnecting
	StateNegotiating
	StateDataTransfer
	StateFlushing
	StateShuttingDown
	StateTerminated
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateReady:
		return "READY"
	case StateConnecting:
		return "CONNECTING"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateDataTransfer:
		return "DATA_TRANSFER"
	case StateFlushing:
		return "FLUSHING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateTerminated:
		return "TERMINATED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event names the triggers driving transitions.
type Event string

const (
	EventInit            Event = "init"
	EventOK              Event = "ok"
	EventConnectRequest  Event = "connect_request"
	EventTCPUp           Event = "tcp_up"
	EventNegComplete     Event = "neg_complete"
	EventDisconnect      Event = "disconnect"
	EventDCDFall         Event = "dcd_fall"
	EventDrained         Event = "drained"
	EventShutdown        Event = "shutdown"
	EventFatal           Event = "fatal"
	EventReset           Event = "reset"
)

// Per-state timeouts. Zero means no timeout.
var timeouts = map[State]time.Duration{
	StateConnecting:   30 * time.Second,
	StateNegotiating:  15 * time.Second,
	StateFlushing:     10 * time.Second,
	StateShuttingDown: 10 * time.Second,
}

// transitions is the static validation table. "any" transitions (shutdown,
// fatal) are checked separately since they apply from every state.
var transitions = map[State]map[Event]State{
	StateUninitialized: {EventInit: StateInitializing},
	StateInitializing:  {EventOK: StateReady},
	StateReady:         {EventConnectRequest: StateConnecting},
	StateConnecting:    {EventTCPUp: StateNegotiating},
	StateNegotiating:   {EventNegComplete: StateDataTransfer},
	StateDataTransfer: {
		EventDisconnect: StateFlushing,
		EventDCDFall:    StateFlushing,
	},
	StateFlushing:     {EventDrained: StateReady},
	StateShuttingDown: {EventDrained: StateTerminated},
	StateError:        {EventReset: StateReady},
}

const backoffCap = 32 * time.Second

// Supervisor owns the bridge's state mutex and condition variable; every
// state change is validated against the static graph, and workers are
// woken via Broadcast on the same condition variable used for shutdown
// signaling.
type Supervisor struct {
	mu   sync.Mutex
	cond *sync.Cond

	state       State
	deadline    time.Time
	hasDeadline bool
	errorReason string
	backoff     time.Duration
}

// New creates a Supervisor in UNINITIALIZED.
func New() *Supervisor {
	s := &Supervisor{state: StateUninitialized}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Fire applies event ev at time now. It returns bridgeerr.ErrStateInvalid
// if ev has no edge from the current state (and the event isn't one of the
// universal shutdown/fatal triggers).
func (s *Supervisor) Fire(ev Event, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev == EventShutdown {
		s.state = StateShuttingDown
		s.setDeadline(now, StateShuttingDown)
		s.cond.Broadcast()
		return nil
	}
	if ev == EventFatal {
		s.enterError(now, "fatal")
		s.cond.Broadcast()
		return nil
	}

	next, ok := transitions[s.state][ev]
	if !ok {
		return bridgeerr.ErrStateInvalid
	}
	s.state = next
	s.setDeadline(now, next)
	if next == StateReady {
		s.backoff = 0
	}
	s.cond.Broadcast()
	return nil
}

func (s *Supervisor) setDeadline(now time.Time, st State) {
	d, ok := timeouts[st]
	if !ok {
		s.hasDeadline = false
		return
	}
	s.deadline = now.Add(d)
	s.hasDeadline = true
}

// CheckTimeout must be called periodically from the supervisor tick. If
// the current state's deadline has passed, it transitions to ERROR with a
// recorded reason and schedules recovery per exponential backoff (cap
// 32s). In ERROR the deadline is that backoff, which AttemptRecovery
// consumes, so CheckTimeout leaves ERROR alone.
func (s *Supervisor) CheckTimeout(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateError || !s.hasDeadline || now.Before(s.deadline) {
		return
	}
	s.enterError(now, "timeout in "+s.state.String())
	s.cond.Broadcast()
}

func (s *Supervisor) enterError(now time.Time, reason string) {
	s.state = StateError
	s.errorReason = reason
	s.hasDeadline = false
	if s.backoff == 0 {
		s.backoff = 1 * time.Second
	} else {
		s.backoff *= 2
		if s.backoff > backoffCap {
			s.backoff = backoffCap
		}
	}
	s.deadline = now.Add(s.backoff)
	s.hasDeadline = true
}

// ErrorReason returns the reason recorded for the most recent ERROR entry.
func (s *Supervisor) ErrorReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorReason
}

// AttemptRecovery fires EventReset if currently in ERROR and the backoff
// deadline has passed. Returns whether recovery was attempted.
func (s *Supervisor) AttemptRecovery(now time.Time) bool {
	s.mu.Lock()
	if s.state != StateError || now.Before(s.deadline) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	return s.Fire(EventReset, now) == nil
}

// Wait blocks until the state changes from current or the deadline passes,
// whichever comes first; used by workers to observe supervisor-driven
// transitions (e.g. shutdown) at their suspension points.
func (s *Supervisor) Wait(current State, deadline time.Time) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.state == current {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			break
		}
		if deadline.IsZero() {
			s.cond.Wait()
			continue
		}
		timer := time.AfterFunc(time.Until(deadline), func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		s.cond.Wait()
		timer.Stop()
		break
	}
	return s.state
}
