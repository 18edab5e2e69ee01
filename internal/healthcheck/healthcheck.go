// Package healthcheck periodically runs the configured modem health-check
// command string against the modem engine while the bridge is idle. A
// failing check is logged; it never forces a state transition by itself.
package healthcheck

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/stlalpha/modembridge/internal/logging"
	"github.com/stlalpha/modembridge/internal/modem"
	"github.com/stlalpha/modembridge/internal/supervisor"
)

// defaultSchedule runs the check hourly (cron with a seconds field).
const defaultSchedule = "0 0 * * * *"

// Checker owns the cron scheduler driving the periodic health check.
type Checker struct {
	command  string
	schedule string
	engine   *modem.Engine
	sup      *supervisor.Supervisor

	cron    *cron.Cron
	mu      sync.Mutex
	running bool

	// Failures counts checks that returned ERROR since start.
	failures int
}

// New builds a Checker for the given semicolon-separated AT command string.
// An empty command disables the checker; Start becomes a no-op.
func New(command, schedule string, engine *modem.Engine, sup *supervisor.Supervisor) *Checker {
	if schedule == "" {
		schedule = defaultSchedule
	}
	return &Checker{command: command, schedule: schedule, engine: engine, sup: sup}
}

// Start registers the cron entry and begins scheduling. It returns
// immediately; the check runs on the cron goroutine until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) error {
	if c.command == "" {
		logging.Debug("healthcheck: no command configured, disabled")
		return nil
	}
	c.cron = cron.New(cron.WithSeconds())
	if _, err := c.cron.AddFunc(c.schedule, c.runOnce); err != nil {
		return err
	}
	c.cron.Start()
	logging.Info("healthcheck: scheduled %q (%s)", c.command, c.schedule)
	go func() {
		<-ctx.Done()
		stopCtx := c.cron.Stop()
		<-stopCtx.Done()
	}()
	return nil
}

// Failures reports how many checks have failed since Start.
func (c *Checker) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// runOnce executes the check if the bridge is idle and no prior check is
// still in flight.
func (c *Checker) runOnce() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		logging.Warn("healthcheck: previous check still running, skipping")
		return
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	if st := c.sup.State(); st != supervisor.StateReady {
		logging.Debug("healthcheck: skipped, bridge is %s", st)
		return
	}

	for _, cmd := range strings.Split(c.command, ";") {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		resp := c.execute(cmd)
		if bytes.Contains(resp, []byte("ERROR")) || bytes.Contains(resp, []byte("\r\n4\r\n")) {
			c.mu.Lock()
			c.failures++
			n := c.failures
			c.mu.Unlock()
			logging.Warn("healthcheck: %q failed (%d failures total)", cmd, n)
			return
		}
	}
	logging.Debug("healthcheck: ok")
}

// execute feeds one AT line through the engine's command parser and collects
// everything it echoes or responds.
func (c *Checker) execute(cmd string) []byte {
	var out []byte
	for i := 0; i < len(cmd); i++ {
		out = append(out, c.engine.FeedCommandByte(cmd[i])...)
	}
	out = append(out, c.engine.FeedCommandByte('\r')...)
	return out
}
