package events

import "testing"

func TestEmitPollRoundTrip(t *testing.T) {
	q := NewQueue(4)
	q.Emit(RingDetected, "first ring")

	ev, ok := q.Poll()
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Kind != RingDetected || ev.Reason != "first ring" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.ID.String() == "" {
		t.Fatal("expected a stamped correlation ID")
	}
}

func TestPollEmptyQueue(t *testing.T) {
	q := NewQueue(2)
	if _, ok := q.Poll(); ok {
		t.Fatal("expected no event on empty queue")
	}
}

func TestEmitDropsOldestWhenFull(t *testing.T) {
	q := NewQueue(2)
	q.Emit(RingDetected, "1")
	q.Emit(RingDetected, "2")
	q.Emit(RingDetected, "3") // queue had capacity 2; "1" should be dropped

	first, ok := q.Poll()
	if !ok || first.Reason != "2" {
		t.Fatalf("expected event '2' to survive, got %+v ok=%v", first, ok)
	}
	second, ok := q.Poll()
	if !ok || second.Reason != "3" {
		t.Fatalf("expected event '3' to survive, got %+v ok=%v", second, ok)
	}
	if _, ok := q.Poll(); ok {
		t.Fatal("expected queue drained")
	}
}

func TestEmitConnectCarriesSpeed(t *testing.T) {
	q := NewQueue(1)
	q.EmitConnect(33600)
	ev, ok := q.Poll()
	if !ok || ev.Kind != HardwareConnect || ev.BitsPerSecond != 33600 {
		t.Fatalf("unexpected event: %+v ok=%v", ev, ok)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		RingDetected:        "RING_DETECTED",
		CarrierGained:       "CARRIER_GAINED",
		CarrierLost:         "CARRIER_LOST",
		DTRDropped:          "DTR_DROPPED",
		HardwareConnect:     "HARDWARE_CONNECT",
		AutoAnswerTriggered: "AUTO_ANSWER_TRIGGERED",
		Kind(99):            "UNKNOWN",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}
