// Package doublebuffer implements the pipelines' enhanced double buffer:
// writes append to a sub-region, reads drain a main region, and an
// atomic role-swap occurs under the buffer's own mutex whenever main runs
// dry while sub has bytes. Watermark crossings drive pipeline-level
// backpressure and bounded growth/shrink.
package doublebuffer

import (
	"math"
	"sync"

	"github.com/stlalpha/modembridge/internal/bridgeerr"
)

// Watermark is a fill-level classification.
type Watermark int

const (
	WatermarkEmpty Watermark = iota
	WatermarkLow
	WatermarkNormal
	WatermarkHigh
	WatermarkCritical
)

func (w Watermark) String() string {
	switch w {
	case WatermarkEmpty:
		return "EMPTY"
	case WatermarkLow:
		return "LOW"
	case WatermarkNormal:
		return "NORMAL"
	case WatermarkHigh:
		return "HIGH"
	case WatermarkCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Thresholds, as fractions of capacity.
const (
	highFraction     = 0.80
	lowFraction      = 0.20
	criticalFraction = 0.95
)

const defaultGrowthStep = 512

// Buffer is the enhanced double buffer. One pipeline direction owns one
// Buffer; it is written by one producer and drained by one consumer, with
// backpressure state observed by the scheduler.
type Buffer struct {
	mu sync.Mutex

	main []byte
	sub  []byte

	capacity int
	maxSize  int
	growStep int

	blocked bool

	// consecutive counts of quanta spent above/below the growth/shrink
	// thresholds, used to decide when to resize.
	aboveGrowThreshold   int
	belowShrinkThreshold int

	bytesDropped uint64
}

// New creates a Buffer with the given initial and maximum capacity.
func New(initialCapacity, maxSize int) (*Buffer, error) {
	if initialCapacity <= 0 || maxSize < initialCapacity {
		return nil, bridgeerr.ErrInvalidArg
	}
	return &Buffer{
		capacity: initialCapacity,
		maxSize:  maxSize,
		growStep: defaultGrowthStep,
	}, nil
}

// Write appends data to the sub region. Bytes that would take the fill past
// the CRITICAL mark (95% of capacity, rounded up to a whole byte) are
// dropped and the drop counter increases by exactly the rejected size. If
// fill crosses HIGH,
// the buffer marks itself blocked; callers should stop writing until
// Watermark() falls to LOW or below.
func (b *Buffer) Write(data []byte) (accepted int, watermark Watermark) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fill := len(b.main) + len(b.sub)
	room := b.capacity - fill
	critical := int(math.Ceil(float64(b.capacity) * criticalFraction))

	n := len(data)
	if fill+n > critical {
		allowed := critical - fill
		if allowed < 0 {
			allowed = 0
		}
		dropped := n - allowed
		if dropped > 0 {
			b.bytesDropped += uint64(dropped)
			n = allowed
		}
	}
	if n > room {
		n = room
	}
	if n > 0 {
		b.sub = append(b.sub, data[:n]...)
	}

	b.maybeSwap()
	wm := b.watermarkLocked()
	if wm >= WatermarkHigh {
		b.blocked = true
	}
	return n, wm
}

// Read drains up to len(p) bytes from main, swapping sub into main whenever
// main is empty and sub has data, so one call can return bytes from both
// regions in FIFO order.
func (b *Buffer) Read(p []byte) (int, Watermark) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeSwap()
	n := copy(p, b.main)
	b.main = b.main[n:]
	if n < len(p) {
		b.maybeSwap()
		m := copy(p[n:], b.main)
		b.main = b.main[m:]
		n += m
	}

	wm := b.watermarkLocked()
	if wm <= WatermarkLow {
		b.blocked = false
	}
	return n, wm
}

// maybeSwap performs the atomic role-swap: when main is exhausted and sub
// holds bytes, sub becomes main and sub resets to empty. Caller holds b.mu.
func (b *Buffer) maybeSwap() {
	if len(b.main) == 0 && len(b.sub) > 0 {
		b.main, b.sub = b.sub, b.main[:0]
	}
}

// Blocked reports whether the pipeline should currently refuse writes
// (crossed HIGH, not yet back down to LOW).
func (b *Buffer) Blocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blocked
}

// Dropped returns the cumulative count of bytes discarded at CRITICAL.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytesDropped
}

// Watermark reports the buffer's current fill classification.
func (b *Buffer) Watermark() Watermark {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watermarkLocked()
}

func (b *Buffer) watermarkLocked() Watermark {
	fill := len(b.main) + len(b.sub)
	if fill == 0 {
		return WatermarkEmpty
	}
	frac := float64(fill) / float64(b.capacity)
	switch {
	case frac >= criticalFraction:
		return WatermarkCritical
	case frac >= highFraction:
		return WatermarkHigh
	case frac <= lowFraction:
		return WatermarkLow
	default:
		return WatermarkNormal
	}
}

// Tick records one scheduling quantum's observed fill level and grows or
// shrinks the buffer's capacity if the fill has stayed on one side of the
// growth/shrink threshold for enough consecutive quanta. growQuanta and
// shrinkQuanta are the consecutive-quantum thresholds the caller has
// configured (e.g. 5 and 10).
func (b *Buffer) Tick(growQuanta, shrinkQuanta int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wm := b.watermarkLocked()
	switch {
	case wm >= WatermarkHigh:
		b.aboveGrowThreshold++
		b.belowShrinkThreshold = 0
	case wm <= WatermarkLow:
		b.belowShrinkThreshold++
		b.aboveGrowThreshold = 0
	default:
		b.aboveGrowThreshold = 0
		b.belowShrinkThreshold = 0
	}

	if b.aboveGrowThreshold >= growQuanta && b.capacity < b.maxSize {
		grown := b.capacity + b.growStep
		if grown > b.maxSize {
			grown = b.maxSize
		}
		b.capacity = grown
		b.aboveGrowThreshold = 0
	}
	if b.belowShrinkThreshold >= shrinkQuanta && b.capacity > b.growStep {
		b.capacity -= b.growStep
		b.belowShrinkThreshold = 0
	}
}

// Capacity returns the buffer's current (possibly grown/shrunk) capacity.
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}
