package pipeline

import (
	"time"

	"github.com/stlalpha/modembridge/internal/modem"
	"github.com/stlalpha/modembridge/internal/telnet"
)

// FeedSerialChunk processes bytes arriving from the serial line. Command-mode bytes go through the Hayes line assembler;
// online-mode bytes go through the escape detector and, once cleared for
// forwarding, through the ANSI filter and the Telnet egress escaper before
// landing in S2N's buffer. Any modem response bytes (echo, result codes,
// RING) are pushed to the serial response queue rather than returned, since
// they are never this call's concern to deliver; the serial worker drains
// that queue itself.
func (m *Manager) FeedSerialChunk(in []byte, now time.Time) {
	if m.hardwareFronting {
		for _, b := range in {
			if out := m.Modem.FeedHardwareByte(b); len(out) > 0 {
				m.serialResp.Write(out)
			}
		}
		return
	}

	var forward []byte
	for _, b := range in {
		if m.Modem.State() == modem.StateCommand {
			if out := m.Modem.FeedCommandByte(b); len(out) > 0 {
				m.serialResp.Write(out)
			}
		} else {
			forward = append(forward, m.Modem.FeedOnlineByte(b, now)...)
		}
	}
	m.forwardOnline(forward)
}

// forwardOnline pushes bytes cleared by the escape detector through the
// ANSI filter (S2N-only) and the Telnet egress escaper, then
// into S2N's buffer.
func (m *Manager) forwardOnline(cleared []byte) {
	if len(cleared) == 0 {
		return
	}
	filtered := m.ansi.Write(nil, cleared)
	if len(filtered) == 0 {
		return
	}
	dst := make([]byte, 2*len(filtered))
	n, err := telnet.Egress(dst, filtered)
	if err != nil {
		// Destination undersized is impossible here (2x is always enough per
		// telnet.Egress's own contract); treat as a programming error we
		// cannot recover gracefully from, dropping rather than corrupting the
		// stream with a partial escape.
		return
	}
	m.S2N.buf.Write(dst[:n])
}

// PollEscape must be driven once per scheduler tick while the modem is
// ONLINE so a completed +++ guard sequence is recognized even with no
// further serial bytes arriving. Any OK result is queued to
// the serial response queue.
func (m *Manager) PollEscape(now time.Time) {
	if out, switched := m.Modem.PollEscape(now); switched && len(out) > 0 {
		m.serialResp.Write(out)
	}
}

// OnDCDFallingEdge handles a carrier-drop signal observed by the serial
// worker: the modem's NO CARRIER text, if any, is queued to
// the serial response queue.
func (m *Manager) OnDCDFallingEdge() {
	if out := m.Modem.OnDCDFallingEdge(); len(out) > 0 {
		m.serialResp.Write(out)
	}
}

// OnDTRFallingEdge handles a DTR-drop signal per the dtr_mode table.
func (m *Manager) OnDTRFallingEdge() {
	if out := m.Modem.OnDTRFallingEdge(); len(out) > 0 {
		m.serialResp.Write(out)
	}
}

// DrainToSerial fills dst with bytes the serial worker should write next,
// never exceeding len(dst). The response queue is always drained first and
// completely ahead of any N2S user data within the space available, so a
// modem response never interleaves mid-byte with forwarded data.
// N2S user data is further capped by SerialBudget, the scheduler's granted
// byte budget for this quantum.
func (m *Manager) DrainToSerial(dst []byte) int {
	n, _ := m.serialResp.Read(dst)
	if n >= len(dst) {
		return n
	}
	remaining := dst[n:]
	if budget := m.SerialBudget(); budget < len(remaining) {
		remaining = remaining[:budget]
	}
	if len(remaining) == 0 {
		return n
	}
	m2, wm := m.N2S.buf.Read(remaining)
	updatePipelineState(m.N2S, wm)
	m.N2S.bytesInQuantum += m2
	return n + m2
}
