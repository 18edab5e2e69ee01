package pipeline

// FeedNetworkChunk processes bytes arriving from the network endpoint. They pass through the Telnet engine's ingress
// parser; decoded data bytes are N2S-bound (the ANSI filter is identity on
// this direction, it only strips serial-to-net) and land directly
// in N2S's buffer. Negotiation replies are sent via Manager.SendTelnet as a
// side effect of Ingress itself.
func (m *Manager) FeedNetworkChunk(in []byte) {
	data := m.Telnet.Ingress(in, nil)
	if len(data) == 0 {
		return
	}
	m.N2S.buf.Write(data)
}

// DrainToNetwork fills dst with bytes the network worker should write next,
// capped at both len(dst) and NetworkBudget (the scheduler's granted byte
// budget for this quantum).
func (m *Manager) DrainToNetwork(dst []byte) int {
	if budget := m.NetworkBudget(); budget < len(dst) {
		dst = dst[:budget]
	}
	n, wm := m.S2N.buf.Read(dst)
	updatePipelineState(m.S2N, wm)
	m.S2N.bytesInQuantum += n
	return n
}
