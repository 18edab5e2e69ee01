// Command modembridge presents a Hayes-compatible modem to a serial DTE and
// bridges its "calls" to a Telnet host over TCP.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/stlalpha/modembridge/internal/config"
	"github.com/stlalpha/modembridge/internal/events"
	"github.com/stlalpha/modembridge/internal/healthcheck"
	"github.com/stlalpha/modembridge/internal/logging"
	"github.com/stlalpha/modembridge/internal/modem"
	"github.com/stlalpha/modembridge/internal/netendpoint"
	"github.com/stlalpha/modembridge/internal/pipeline"
	"github.com/stlalpha/modembridge/internal/serialline"
	"github.com/stlalpha/modembridge/internal/supervisor"
)

const (
	tickInterval   = 10 * time.Millisecond
	ioChunkSize    = 4096
	readDeadline   = 100 * time.Millisecond
	negotiateQuiet = 3 * time.Second
	answerWindow   = 6 * time.Second
)

// bridge holds the assembled components and the small amount of call state
// the supervisor loop tracks across ticks.
type bridge struct {
	cfg config.BridgeConfig

	port serialline.Port
	mgr  *pipeline.Manager
	sup  *supervisor.Supervisor
	ev   *events.Queue

	epMu sync.Mutex
	ep   *netendpoint.Endpoint

	// Software-mediated auto-answer: timestamp of the first RING in the
	// current window, zero when no window is open.
	firstRing time.Time

	// DTE control-signal edge tracking.
	lastDSR bool

	// negMu guards the negotiation timestamps, written by the dial
	// goroutine and the network worker and read by the tick loop.
	negMu          sync.Mutex
	negotiateStart time.Time
	lastNegTraffic time.Time

	shutdown chan struct{}
	wg       sync.WaitGroup
}

func main() {
	configPath := flag.String("config", "modembridge.json", "path to bridge configuration")
	debug := flag.Bool("debug", false, "enable debug logging")
	simulate := flag.Bool("simulate", false, "use a PTY loopback instead of a real serial device")
	flag.Parse()

	logging.DebugEnabled = *debug || os.Getenv("DEBUG") == "1"

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	b, cleanup, err := assemble(cfg, *simulate)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hc := healthcheck.New(cfg.HealthCheckCommand, cfg.HealthCheckSchedule, b.mgr.Modem, b.sup)
	if err := hc.Start(ctx); err != nil {
		log.Fatalf("FATAL: healthcheck: %v", err)
	}

	if err := b.run(ctx); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if b.sup.State() == supervisor.StateError {
		logging.Error("bridge terminated in ERROR: %s", b.sup.ErrorReason())
		os.Exit(1)
	}
}

// assemble opens the serial side, builds the pipeline manager and walks
// the supervisor to READY. The returned cleanup closes the port, which
// also releases the device lock.
func assemble(cfg config.BridgeConfig, simulate bool) (*bridge, func(), error) {
	sup := supervisor.New()
	now := time.Now()
	if err := sup.Fire(supervisor.EventInit, now); err != nil {
		return nil, nil, err
	}

	var port serialline.Port
	if simulate {
		sim, err := serialline.OpenSim()
		if err != nil {
			return nil, nil, err
		}
		logging.Info("simulated serial line at %s", sim.SlavePath())
		port = sim
	} else {
		// Open acquires the UUCP device lock itself and Close releases it.
		var err error
		port, err = serialline.Open(serialline.Config{
			Device:   cfg.Device,
			Baud:     cfg.Baud,
			Parity:   parseParity(cfg.Parity),
			DataBits: cfg.DataBits,
			StopBits: cfg.StopBits,
			Flow:     parseFlow(cfg.Flow),
		})
		if err != nil {
			return nil, nil, err
		}
	}
	cleanup := func() { port.Close() }

	ev := events.NewQueue(64)
	mgr, err := pipeline.NewManager(ev, cfg.SerialWeight, cfg.TelnetWeight, cfg.HardwareFronting)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if cfg.TerminalType != "" {
		mgr.Telnet.SetTerminalType(cfg.TerminalType)
	}
	mgr.Modem.Initialize()
	if cfg.InitString != "" && cfg.HardwareFronting {
		logging.Info("sending modem init string: %s", cfg.InitString)
		for _, cmd := range strings.Split(cfg.InitString, ";") {
			cmd = strings.TrimSpace(cmd)
			if cmd == "" {
				continue
			}
			if _, err := port.Write(append([]byte(cmd), '\r')); err != nil {
				cleanup()
				return nil, nil, err
			}
		}
	}

	if err := sup.Fire(supervisor.EventOK, time.Now()); err != nil {
		cleanup()
		return nil, nil, err
	}
	logging.Info("bridge ready on %s, host %s:%d", cfg.Device, cfg.Host, cfg.Port)

	b := &bridge{
		cfg:      cfg,
		port:     port,
		mgr:      mgr,
		sup:      sup,
		ev:       ev,
		shutdown: make(chan struct{}),
	}
	return b, cleanup, nil
}

func parseParity(s string) serialline.Parity {
	switch s {
	case "O":
		return serialline.ParityOdd
	case "E":
		return serialline.ParityEven
	default:
		return serialline.ParityNone
	}
}

func parseFlow(s string) serialline.Flow {
	switch s {
	case "rtscts":
		return serialline.FlowRTSCTS
	case "xonxoff":
		return serialline.FlowXonXoff
	case "both":
		return serialline.FlowBoth
	default:
		return serialline.FlowNone
	}
}

// run starts the two I/O workers and drives the supervisor tick until ctx
// is cancelled and the state machine reaches a terminal state.
func (b *bridge) run(ctx context.Context) error {
	b.wg.Add(2)
	go b.serialWorker()
	go b.networkWorker()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.beginShutdown()
			b.wg.Wait()
			b.sup.Fire(supervisor.EventDrained, time.Now())
			return nil
		case now := <-ticker.C:
			b.tick(now)
			if st := b.sup.State(); st == supervisor.StateTerminated {
				close(b.shutdown)
				b.wg.Wait()
				return nil
			}
		}
	}
}

// beginShutdown moves the supervisor into SHUTTING_DOWN and wakes the
// workers so they exit at their next suspension point.
func (b *bridge) beginShutdown() {
	b.sup.Fire(supervisor.EventShutdown, time.Now())
	close(b.shutdown)
	b.teardownNetwork()
}

// tick is the supervisor's periodic duty cycle: scheduler bookkeeping,
// escape-guard polling, event drains, state timeouts and call control.
func (b *bridge) tick(now time.Time) {
	b.mgr.Tick(now)
	b.mgr.PollEscape(now)
	b.sup.CheckTimeout(now)
	b.pollControlSignals()
	b.drainEvents(now)
	b.driveCall(now)
}

// pollControlSignals watches the DTE's ready signal for falling edges. A
// DTE wired through a null-modem cable presents its DTR on our DSR pin.
func (b *bridge) pollControlSignals() {
	dsr, err := b.port.GetDSR()
	if err != nil {
		return
	}
	if b.lastDSR && !dsr {
		logging.Info("DTE dropped DTR")
		b.mgr.OnDTRFallingEdge()
		if b.mgr.Modem.State() != modem.StateOnline {
			if b.sup.State() == supervisor.StateDataTransfer {
				b.sup.Fire(supervisor.EventDisconnect, time.Now())
			}
			b.teardownNetwork()
		}
	}
	b.lastDSR = dsr
}

// drainEvents consumes the modem engine's event queue.
func (b *bridge) drainEvents(now time.Time) {
	for {
		ev, ok := b.ev.Poll()
		if !ok {
			return
		}
		logging.Debug("event %s (%s) id=%s", ev.Kind, ev.Reason, ev.ID)
		switch ev.Kind {
		case events.RingDetected:
			b.onRing(now)
		case events.CarrierLost:
			b.onCarrierLost()
		case events.CarrierGained, events.HardwareConnect:
			// Call-up bookkeeping happens in driveCall once the modem engine
			// reports ONLINE.
		}
	}
}

// onRing implements the software-mediated auto-answer window: two RINGs
// within the window and the bridge issues ATA on the DTE's behalf.
func (b *bridge) onRing(now time.Time) {
	if b.cfg.AutoAnswer != config.AutoAnswerSoftware {
		return
	}
	if b.firstRing.IsZero() || now.Sub(b.firstRing) > answerWindow {
		b.firstRing = now
		return
	}
	b.firstRing = time.Time{}
	logging.Info("auto-answering after second RING")
	b.mgr.FeedSerialChunk([]byte("ATA\r"), now)
}

// onCarrierLost tears the network side down and pushes the supervisor
// through FLUSHING.
func (b *bridge) onCarrierLost() {
	now := time.Now()
	if b.sup.State() == supervisor.StateDataTransfer {
		b.sup.Fire(supervisor.EventDCDFall, now)
	}
	b.teardownNetwork()
}

// driveCall keeps the supervisor's call states in step with the modem
// engine: dial when the modem goes off-hook, finish negotiation, flush and
// return to READY when the call ends.
func (b *bridge) driveCall(now time.Time) {
	st := b.sup.State()
	online := b.mgr.Modem.State() == modem.StateOnline

	switch st {
	case supervisor.StateReady:
		if online {
			b.sup.Fire(supervisor.EventConnectRequest, now)
			go b.dial()
		}
	case supervisor.StateNegotiating:
		b.negMu.Lock()
		started, last := b.negotiateStart, b.lastNegTraffic
		b.negMu.Unlock()
		if now.Sub(started) >= supervisorNegCap || now.Sub(last) >= negotiateQuiet {
			b.sup.Fire(supervisor.EventNegComplete, now)
		}
	case supervisor.StateDataTransfer:
		if !online {
			b.sup.Fire(supervisor.EventDisconnect, now)
			b.teardownNetwork()
		}
	case supervisor.StateFlushing:
		if b.flushed() {
			b.sup.Fire(supervisor.EventDrained, now)
		}
	case supervisor.StateError:
		if b.sup.AttemptRecovery(now) {
			logging.Info("recovered to READY")
		}
	}
}

// supervisorNegCap mirrors the NEGOTIATING state timeout so driveCall never
// waits for CheckTimeout to fire an ERROR on a quiet but healthy peer.
const supervisorNegCap = 15 * time.Second

// flushed reports whether both pipeline buffers have drained.
func (b *bridge) flushed() bool {
	return b.mgr.S2N.State() == pipeline.StateIdle && b.mgr.N2S.State() == pipeline.StateIdle
}

// dial connects the network side. It runs on its own goroutine since a TCP
// connect can block for seconds; completion is reported through the
// supervisor and, on failure, through the modem's carrier path.
func (b *bridge) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ep, err := netendpoint.Dial(ctx, b.cfg.Host, b.cfg.Port)
	now := time.Now()
	if err != nil {
		logging.Warn("dial %s:%d failed: %v", b.cfg.Host, b.cfg.Port, err)
		b.mgr.OnDCDFallingEdge()
		b.sup.Fire(supervisor.EventFatal, now)
		b.sup.AttemptRecovery(now.Add(time.Millisecond))
		return
	}
	b.epMu.Lock()
	b.ep = ep
	b.epMu.Unlock()
	b.sup.Fire(supervisor.EventTCPUp, now)
	b.negMu.Lock()
	b.negotiateStart = now
	b.lastNegTraffic = now
	b.negMu.Unlock()
	b.mgr.Telnet.OpenConnection()
	logging.Info("connected to %s:%d", b.cfg.Host, b.cfg.Port)
}

func (b *bridge) endpoint() *netendpoint.Endpoint {
	b.epMu.Lock()
	defer b.epMu.Unlock()
	return b.ep
}

func (b *bridge) teardownNetwork() {
	b.epMu.Lock()
	defer b.epMu.Unlock()
	if b.ep != nil {
		b.ep.Close()
		b.ep = nil
	}
}

// serialWorker owns the serial line: it reads DTE bytes into the S2N path
// and drains modem responses plus N2S data back out.
func (b *bridge) serialWorker() {
	defer b.wg.Done()
	buf := make([]byte, ioChunkSize)
	out := make([]byte, ioChunkSize)
	for {
		select {
		case <-b.shutdown:
			return
		default:
		}

		progress := false
		if !b.mgr.ShouldPauseSerialRead() {
			n, err := b.port.Read(buf)
			if err != nil {
				logging.Error("serial read: %v", err)
				b.sup.Fire(supervisor.EventFatal, time.Now())
				return
			}
			if n > 0 {
				b.mgr.FeedSerialChunk(buf[:n], time.Now())
				progress = true
			}
		}

		if n := b.mgr.DrainToSerial(out); n > 0 {
			if _, err := b.port.Write(out[:n]); err != nil {
				logging.Error("serial write: %v", err)
				b.sup.Fire(supervisor.EventFatal, time.Now())
				return
			}
			progress = true
		}

		if !progress {
			time.Sleep(tickInterval)
		}
	}
}

// networkWorker owns the TCP endpoint: it reads host bytes into the N2S
// path and drains S2N data out to the host. While no call is up it idles.
func (b *bridge) networkWorker() {
	defer b.wg.Done()
	buf := make([]byte, ioChunkSize)
	out := make([]byte, ioChunkSize)
	for {
		select {
		case <-b.shutdown:
			return
		default:
		}

		ep := b.endpoint()
		if ep == nil {
			time.Sleep(readDeadline)
			continue
		}

		progress := false
		if !b.mgr.ShouldPauseNetworkRead() {
			n, err := ep.Read(buf)
			if err != nil {
				b.onNetworkDown(err)
				continue
			}
			if n > 0 {
				b.mgr.FeedNetworkChunk(buf[:n])
				b.negMu.Lock()
				b.lastNegTraffic = time.Now()
				b.negMu.Unlock()
				progress = true
			}
		}

		if n := b.mgr.DrainToNetwork(out); n > 0 {
			if _, err := ep.Write(out[:n]); err != nil {
				b.onNetworkDown(err)
				continue
			}
			progress = true
		}

		if !progress {
			time.Sleep(tickInterval)
		}
	}
}

// onNetworkDown handles a fatal socket error: NO CARRIER toward the DTE,
// FLUSHING in the supervisor, endpoint torn down.
func (b *bridge) onNetworkDown(err error) {
	logging.Warn("network endpoint down: %v", err)
	b.mgr.OnDCDFallingEdge()
	if b.sup.State() == supervisor.StateDataTransfer {
		b.sup.Fire(supervisor.EventDisconnect, time.Now())
	}
	b.teardownNetwork()
}
