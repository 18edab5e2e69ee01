// Package fairsched implements the bridge's quantum-based fair scheduler:
// starvation override first, then weighted round-robin, handing out a
// time-and-byte quantum that adapts to observed latency.
package fairsched

import "time"

// Direction identifies one of the two cooperating pipelines.
type Direction int

const (
	DirSerial Direction = iota
	DirTelnet
)

func (d Direction) String() string {
	if d == DirSerial {
		return "serial"
	}
	return "telnet"
}

func other(d Direction) Direction {
	if d == DirSerial {
		return DirTelnet
	}
	return DirSerial
}

// Bounds on the adaptive quantum.
const (
	MinQuantum     = 10 * time.Millisecond
	MaxQuantum     = 200 * time.Millisecond
	DefaultQuantum = 50 * time.Millisecond

	DefaultStarvationThreshold = 500 * time.Millisecond
	DefaultLatencyTarget       = 100 * time.Millisecond

	quantumStep = 10 * time.Millisecond
)

type directionState struct {
	weight         int
	credit         int
	nonEmpty       bool
	lastProgressAt time.Time
	hasProgressed  bool
	currentQuantum time.Duration
	quantumBytes   int
}

// Scheduler hands out scheduling grants between the serial and telnet
// pipelines. It holds no locks of its own: the supervisor tick owns calling
// it; there is a single coordinating caller.
type Scheduler struct {
	dirs                [2]directionState
	starvationThreshold time.Duration
	latencyTarget       time.Duration
	quantumBytes        int
	lastGrant           Direction
	hasLastGrant        bool
}

// New builds a Scheduler with the given serial:telnet weight ratio (e.g.
// 5,5 for even fairness, 7,3 for throughput-biased, or 2,1 for low-baud
// serial fairness) and a byte budget per quantum.
func New(serialWeight, telnetWeight, quantumBytes int) *Scheduler {
	s := &Scheduler{
		starvationThreshold: DefaultStarvationThreshold,
		latencyTarget:       DefaultLatencyTarget,
		quantumBytes:        quantumBytes,
	}
	s.dirs[DirSerial] = directionState{weight: serialWeight, currentQuantum: DefaultQuantum, quantumBytes: quantumBytes}
	s.dirs[DirTelnet] = directionState{weight: telnetWeight, currentQuantum: DefaultQuantum, quantumBytes: quantumBytes}
	return s
}

// SetNonEmpty records whether d currently has bytes pending.
func (s *Scheduler) SetNonEmpty(d Direction, nonEmpty bool) {
	s.dirs[d].nonEmpty = nonEmpty
}

// Grant is one scheduling decision: which direction runs, and its budget.
type Grant struct {
	Direction Direction
	Quantum   time.Duration
	Bytes     int
	Starved   bool
}

// Next picks the direction to run at time now, per the three-step policy of
// starvation override first, then weighted round-robin.
func (s *Scheduler) Next(now time.Time) (Grant, bool) {
	a, b := &s.dirs[0], &s.dirs[1]
	if !a.nonEmpty && !b.nonEmpty {
		return Grant{}, false
	}

	for d := range s.dirs {
		ds := &s.dirs[d]
		if ds.nonEmpty && ds.hasProgressed && now.Sub(ds.lastProgressAt) >= s.starvationThreshold {
			return s.grant(Direction(d), true), true
		}
	}

	next := s.pickRoundRobin()
	return s.grant(next, false), true
}

func (s *Scheduler) pickRoundRobin() Direction {
	a, b := &s.dirs[DirSerial], &s.dirs[DirTelnet]
	switch {
	case a.nonEmpty && !b.nonEmpty:
		return DirSerial
	case b.nonEmpty && !a.nonEmpty:
		return DirTelnet
	}

	// Both non-empty: surplus round robin. Each direction accrues credit
	// proportional to its weight every pick; whichever has the larger
	// credit goes next, and spends total-weight worth of credit, so over
	// many picks the split converges to weight[a]:weight[b].
	a.credit += a.weight
	b.credit += b.weight
	total := a.weight + b.weight

	var chosen Direction
	if a.credit >= b.credit {
		chosen = DirSerial
	} else {
		chosen = DirTelnet
	}
	s.dirs[chosen].credit -= total
	return chosen
}

func (s *Scheduler) grant(d Direction, starved bool) Grant {
	ds := &s.dirs[d]
	s.lastGrant = d
	s.hasLastGrant = true
	return Grant{Direction: d, Quantum: ds.currentQuantum, Bytes: ds.quantumBytes, Starved: starved}
}

// RecordProgress marks that d made drain progress at time t, resetting its
// starvation clock.
func (s *Scheduler) RecordProgress(d Direction, t time.Time) {
	s.dirs[d].lastProgressAt = t
	s.dirs[d].hasProgressed = true
}

// AdaptQuantum grows or shrinks d's quantum by one step based on observed
// per-quantum latency against the target.
func (s *Scheduler) AdaptQuantum(d Direction, observed time.Duration) {
	ds := &s.dirs[d]
	switch {
	case observed > s.latencyTarget:
		ds.currentQuantum -= quantumStep
		if ds.currentQuantum < MinQuantum {
			ds.currentQuantum = MinQuantum
		}
	case observed < s.latencyTarget/2:
		ds.currentQuantum += quantumStep
		if ds.currentQuantum > MaxQuantum {
			ds.currentQuantum = MaxQuantum
		}
	}
}

// CurrentQuantum reports d's present quantum budget.
func (s *Scheduler) CurrentQuantum(d Direction) time.Duration {
	return s.dirs[d].currentQuantum
}
