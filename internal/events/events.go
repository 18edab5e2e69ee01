// Package events implements the bounded event channel that breaks the cyclic
// ownership between the Hayes modem engine and the supervisor: the
// modem engine never holds a reference to the supervisor, it only emits
// events into this queue, which the supervisor polls on its tick.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the event categories the modem engine and pipeline can
// raise for the supervisor to observe.
type Kind int

const (
	// RingDetected fires once per unsolicited RING line recognized on the
	// hardware passthrough path.
	RingDetected Kind = iota
	// CarrierGained marks a DCD rising edge or a logical call coming up. No
	// component emits it; a hardware CONNECT is reported as HardwareConnect.
	CarrierGained
	// CarrierLost fires on a DCD falling edge or NO CARRIER.
	CarrierLost
	// DTRDropped fires when the modem engine hangs up (dtr_mode 2) or resets
	// (dtr_mode 3) on a DTR falling edge.
	DTRDropped
	// HardwareConnect fires when an external modem's unsolicited "CONNECT
	// <bps>" line is recognized.
	HardwareConnect
	// AutoAnswerTriggered fires when the engine auto-issues ATA after S0
	// rings. The software-mediated two-ring answer does not emit it.
	AutoAnswerTriggered
)

func (k Kind) String() string {
	switch k {
	case RingDetected:
		return "RING_DETECTED"
	case CarrierGained:
		return "CARRIER_GAINED"
	case CarrierLost:
		return "CARRIER_LOST"
	case DTRDropped:
		return "DTR_DROPPED"
	case HardwareConnect:
		return "HARDWARE_CONNECT"
	case AutoAnswerTriggered:
		return "AUTO_ANSWER_TRIGGERED"
	default:
		return "UNKNOWN"
	}
}

// Event is one occurrence stamped with a correlation ID so a single call's
// lifecycle (ring -> connect -> data transfer -> carrier loss) can be traced
// through logs even though it crosses the modem engine, pipeline, and
// supervisor.
type Event struct {
	ID            uuid.UUID
	Kind          Kind
	At            time.Time
	BitsPerSecond int // populated for HardwareConnect; 0 otherwise
	Reason        string
}

// Queue is a bounded, non-blocking-on-producer event channel. Producers
// never block: a full queue drops the oldest-unread event rather than stall
// the modem engine's read loop.
type Queue struct {
	ch chan Event
}

// NewQueue creates a Queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Event, capacity)}
}

// Emit stamps and enqueues an event. If the queue is full, the oldest queued
// event is discarded to make room; producers (the modem engine) must never
// block on a slow supervisor.
func (q *Queue) Emit(kind Kind, reason string) {
	q.emit(Event{ID: uuid.New(), Kind: kind, At: time.Now(), Reason: reason})
}

// EmitConnect is Emit specialized for HardwareConnect, carrying the parsed
// connect speed.
func (q *Queue) EmitConnect(bps int) {
	q.emit(Event{ID: uuid.New(), Kind: HardwareConnect, At: time.Now(), BitsPerSecond: bps})
}

func (q *Queue) emit(ev Event) {
	select {
	case q.ch <- ev:
		return
	default:
	}
	// Queue full: drop the oldest event to make room, never block the
	// producer.
	select {
	case <-q.ch:
	default:
	}
	select {
	case q.ch <- ev:
	default:
	}
}

// Poll returns the next queued event, or ok=false if the queue is empty.
// Called from the supervisor's tick; never blocks.
func (q *Queue) Poll() (Event, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	default:
		return Event{}, false
	}
}

// Len reports how many events are currently queued (for tests/metrics).
func (q *Queue) Len() int {
	return len(q.ch)
}
