package pipeline

import (
	"time"

	"github.com/stlalpha/modembridge/internal/doublebuffer"
	"github.com/stlalpha/modembridge/internal/fairsched"
)

// updatePipelineState derives a Pipeline's own small state
// from its buffer's current watermark, called after every Read/Write.
func updatePipelineState(p *Pipeline, wm doublebuffer.Watermark) {
	switch {
	case wm >= doublebuffer.WatermarkHigh:
		p.state = StateBlocked
	case wm == doublebuffer.WatermarkEmpty:
		p.state = StateIdle
	default:
		p.state = StateActive
	}
}

// Tick drives the buffer growth/shrink accounting and the fair
// scheduler. It should be called once per scheduling tick
// (e.g. every 10ms) by the owning goroutine, typically the same loop that
// calls PollEscape. Each call counts as one quantum for the buffers'
// consecutive-quantum bookkeeping; now drives the grant deadline and the
// scheduler's starvation clock.
func (m *Manager) Tick(now time.Time) {
	m.S2N.buf.Tick(growQuanta, shrinkQuanta)
	m.N2S.buf.Tick(growQuanta, shrinkQuanta)

	s2nPending := m.S2N.buf.Watermark() != doublebuffer.WatermarkEmpty
	n2sPending := m.N2S.buf.Watermark() != doublebuffer.WatermarkEmpty || m.serialResp.Available() > 0
	m.sched.SetNonEmpty(fairsched.DirSerial, s2nPending)
	m.sched.SetNonEmpty(fairsched.DirTelnet, n2sPending)

	if m.hasGrant && now.Before(m.grantDeadline) {
		return
	}
	if m.hasGrant {
		m.sched.AdaptQuantum(m.currentGrant.Direction, now.Sub(m.grantStart))
	}

	grant, ok := m.sched.Next(now)
	if !ok {
		m.hasGrant = false
		return
	}
	m.currentGrant = grant
	m.hasGrant = true
	m.grantStart = now
	m.grantDeadline = now.Add(grant.Quantum)
	m.sched.RecordProgress(grant.Direction, now)

	granted := m.S2N
	if grant.Direction == fairsched.DirTelnet {
		granted = m.N2S
	}
	granted.lastQuantumStart = now
	granted.bytesInQuantum = 0
}

// NetworkBudget reports how many S2N bytes the network worker may drain
// right now: the scheduler's granted byte budget if DirSerial currently
// holds the grant, else zero.
func (m *Manager) NetworkBudget() int {
	if m.hasGrant && m.currentGrant.Direction == fairsched.DirSerial {
		return m.currentGrant.Bytes
	}
	return 0
}

// SerialBudget reports how many N2S bytes the serial worker may drain right
// now, mirroring NetworkBudget for DirTelnet. The serial response queue is
// exempt from this budget entirely (DrainToSerial always drains it first);
// the budget only bounds ordinary forwarded N2S user data.
func (m *Manager) SerialBudget() int {
	if m.hasGrant && m.currentGrant.Direction == fairsched.DirTelnet {
		return m.currentGrant.Bytes
	}
	return 0
}

// ShouldPauseSerialRead reports whether the serial worker should stop
// reading fresh bytes from the DTE because S2N is backed up past HIGH.
func (m *Manager) ShouldPauseSerialRead() bool { return m.S2N.buf.Blocked() }

// ShouldPauseNetworkRead reports whether the network worker should stop
// reading fresh bytes from the host because N2S is backed up past HIGH.
func (m *Manager) ShouldPauseNetworkRead() bool { return m.N2S.buf.Blocked() }
