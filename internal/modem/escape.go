package modem

import "time"

// EscapeDetector implements the Hayes +++ escape-guard algorithm:
// online-mode bytes equal to S2 are withheld from the network while a
// candidate escape sequence is being assembled, and either discarded (on
// successful guard-timed completion) or released as ordinary data (on any
// guard failure). The timing rules mirror the classic Hayes plusCnt/lastPlus
// bookkeeping pattern.
type EscapeDetector struct {
	count   int
	pending []byte

	lastPlus    time.Time
	hasLastPlus bool

	lastNonPlus    time.Time
	hasLastNonPlus bool

	confirming bool
	confirmAt  time.Time
}

// Reset clears all accumulated state, for use whenever the modem freshly
// enters ONLINE mode.
func (d *EscapeDetector) Reset() {
	*d = EscapeDetector{}
}

// Feed processes one online-mode byte read from the DTE. It returns the
// bytes (zero or more) that should be forwarded to the network immediately;
// bytes withheld as part of a candidate escape sequence are not included
// until the sequence either fails (and is flushed as data) or succeeds (and
// is discarded for good by Poll).
func (d *EscapeDetector) Feed(escByte, b byte, now time.Time, guard time.Duration) []byte {
	if b != escByte {
		out := append(append([]byte{}, d.pending...), b)
		d.pending = nil
		d.count = 0
		d.confirming = false
		d.lastNonPlus, d.hasLastNonPlus = now, true
		return out
	}

	// Post-silence guard: another escape char before the confirmation
	// deadline breaks the run, which is released as ordinary data.
	if d.confirming && now.Before(d.confirmAt) {
		out := append(append([]byte{}, d.pending...), b)
		d.pending = nil
		d.count = 0
		d.confirming = false
		d.lastNonPlus, d.hasLastNonPlus = now, true
		return out
	}

	// Pre-silence guard: a qualifying run can only start after at least one
	// guard-time of quiet from the DTE (excluding other escape-char bytes,
	// which carry their own inter-character rule below).
	if d.count == 0 && d.hasLastNonPlus && now.Sub(d.lastNonPlus) < guard {
		d.lastNonPlus = now
		return []byte{b}
	}

	// Inter-character guard: too long a gap since the previous pending plus
	// flushes what was pending and restarts the count at this byte.
	if d.hasLastPlus && now.Sub(d.lastPlus) > guard {
		out := append([]byte{}, d.pending...)
		d.pending = []byte{b}
		d.count = 1
		d.lastPlus, d.hasLastPlus = now, true
		d.confirming = false
		return out
	}

	d.count++
	d.pending = append(d.pending, b)
	d.lastPlus, d.hasLastPlus = now, true
	if d.count == 3 {
		d.confirming = true
		d.confirmAt = now.Add(guard)
	}
	return nil
}

// Poll checks whether a completed three-plus run has now cleared its
// post-silence confirmation window. The caller must invoke Poll regularly
// (e.g. each scheduler tick) while online so that a silent completion (no
// further bytes arrive to drive Feed) is still detected. Returns true
// exactly once, the first time the deadline has passed.
func (d *EscapeDetector) Poll(now time.Time) bool {
	if !d.confirming || now.Before(d.confirmAt) {
		return false
	}
	d.confirming = false
	d.pending = nil
	d.count = 0
	return true
}

// Pending reports the escape-char bytes currently withheld, for diagnostics
// and tests. The caller must not retain the returned slice.
func (d *EscapeDetector) Pending() []byte {
	return d.pending
}
