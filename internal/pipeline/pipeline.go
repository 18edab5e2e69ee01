// Package pipeline implements the bridge's dual-pipeline manager: two
// opposing byte pipelines, SERIAL_TO_NET (S2N) and NET_TO_SERIAL (N2S),
// sharing a half-duplex serial line, each backed by
// an enhanced double buffer (internal/doublebuffer), arbitrated by the
// quantum-based fair scheduler (internal/fairsched), with the Hayes filter
// (internal/modem) on the S2N ingress path and the Telnet engine
// (internal/telnet) on both the N2S ingress path and as the S2N egress
// escaper.
package pipeline

import (
	"time"

	"github.com/stlalpha/modembridge/internal/ansifilter"
	"github.com/stlalpha/modembridge/internal/bytepipe"
	"github.com/stlalpha/modembridge/internal/doublebuffer"
	"github.com/stlalpha/modembridge/internal/events"
	"github.com/stlalpha/modembridge/internal/fairsched"
	"github.com/stlalpha/modembridge/internal/modem"
	"github.com/stlalpha/modembridge/internal/telnet"
)

// State is a pipeline's own small state machine, independent
// of the bridge supervisor's ten states.
type State int

const (
	StateIdle State = iota
	StateActive
	StateBlocked
	StateErrorState
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateBlocked:
		return "BLOCKED"
	case StateErrorState:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// defaultBufferInitial and defaultBufferMax size each direction's enhanced
// double buffer; defaultQuantumBytes is the scheduler's per-quantum byte
// budget. Values chosen to comfortably hold several command lines or a
// couple of telnet negotiation bursts at once.
const (
	defaultBufferInitial = 2048
	defaultBufferMax     = 65536
	defaultQuantumBytes  = 512

	growQuanta   = 5
	shrinkQuanta = 10
)

// Pipeline is one direction's state: its buffer and the fairness/backpressure
// bookkeeping the scheduler and caller observe.
type Pipeline struct {
	dir   fairsched.Direction
	buf   *doublebuffer.Buffer
	state State

	lastQuantumStart time.Time
	bytesInQuantum   int
}

func newPipeline(dir fairsched.Direction) (*Pipeline, error) {
	b, err := doublebuffer.New(defaultBufferInitial, defaultBufferMax)
	if err != nil {
		return nil, err
	}
	return &Pipeline{dir: dir, buf: b, state: StateIdle}, nil
}

// State reports the pipeline's own state.
func (p *Pipeline) State() State { return p.state }

// Watermark reports the underlying buffer's fill classification.
func (p *Pipeline) Watermark() doublebuffer.Watermark { return p.buf.Watermark() }

// Manager ties the two pipelines, the fair scheduler, the Hayes modem
// engine and the Telnet engine together.
type Manager struct {
	S2N *Pipeline // serial -> network
	N2S *Pipeline // network -> serial

	Modem  *modem.Engine
	Telnet *telnet.Engine

	ansi *ansifilter.Filter

	// serialResp is the "serial writer's queue": modem-engine
	// response bytes (echo, result codes, unsolicited RING) that must never
	// interleave mid-byte with N2S user data on the half-duplex serial line.
	// It is drained with strict priority over N2S by the serial worker.
	serialResp *bytepipe.Pipe

	sched *fairsched.Scheduler

	currentGrant   fairsched.Grant
	hasGrant       bool
	grantDeadline  time.Time
	grantStart     time.Time

	hardwareFronting bool

	events *events.Queue
}

// NewManager builds a Manager with fresh pipelines, scheduler and filters.
// serialWeight/telnetWeight set the fairsched.New ratio; hardwareFronting
// selects whether incoming serial bytes while not in command mode are
// treated as a real attached modem's status line (FeedHardwareByte) instead
// of the softmodem's own online-mode escape detector (FeedOnlineByte).
func NewManager(ev *events.Queue, serialWeight, telnetWeight int, hardwareFronting bool) (*Manager, error) {
	s2n, err := newPipeline(fairsched.DirSerial)
	if err != nil {
		return nil, err
	}
	n2s, err := newPipeline(fairsched.DirTelnet)
	if err != nil {
		return nil, err
	}
	resp, err := bytepipe.New(4096)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		S2N:              s2n,
		N2S:              n2s,
		Modem:            modem.NewEngine(ev),
		ansi:             ansifilter.New(),
		serialResp:       resp,
		sched:            fairsched.New(serialWeight, telnetWeight, defaultQuantumBytes),
		hardwareFronting: hardwareFronting,
		events:           ev,
	}
	m.Telnet = telnet.NewEngine(m)
	return m, nil
}

// SendTelnet implements telnet.NegotiationSink: replies the Telnet engine
// generates as a side effect of ingress (negotiation acks, AYT, TERMINAL-
// TYPE IS) are network-bound, so they go straight into S2N's buffer
// alongside ordinary forwarded data.
func (m *Manager) SendTelnet(b []byte) {
	m.S2N.buf.Write(b)
}
