// Package netendpoint implements the bridge's network endpoint: dialing
// host:port, non-blocking byte I/O via a short read-deadline loop, teardown,
// and a reconnect policy.
package netendpoint

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/stlalpha/modembridge/internal/bridgeerr"
)

// readTimeout bounds each non-blocking Read attempt.
const readTimeout = 100 * time.Millisecond

// Endpoint wraps a single TCP connection to the host side of the bridge.
type Endpoint struct {
	conn net.Conn
	host string
	port int
}

// Dial connects to host:port within ctx's deadline. The blocking dial
// itself is bounded by ctx; all reads after connect are non-blocking via
// Read's own short deadline.
func Dial(ctx context.Context, host string, port int) (*Endpoint, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s:%d: %v", bridgeerr.ErrIOFatal, host, port, err)
	}
	return &Endpoint{conn: conn, host: host, port: port}, nil
}

// Read performs one read bounded by readTimeout. A timeout with zero bytes
// is reported as (0, nil), "no data right now", matching the serial
// line's
// Read contract so pipeline code can treat both sources uniformly. Any other
// error (including EOF) is fatal and surfaces as bridgeerr.ErrIOFatal.
func (e *Endpoint) Read(buf []byte) (int, error) {
	e.conn.SetReadDeadline(time.Now().Add(readTimeout))
	n, err := e.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil
		}
		return n, fmt.Errorf("%w: %v", bridgeerr.ErrIOFatal, err)
	}
	return n, nil
}

// Write sends buf, blocking until fully written or the connection fails.
func (e *Endpoint) Write(buf []byte) (int, error) {
	n, err := e.conn.Write(buf)
	if err != nil {
		return n, fmt.Errorf("%w: %v", bridgeerr.ErrIOFatal, err)
	}
	return n, nil
}

// Close tears down the connection.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// Host and Port report the endpoint's configured target, for reconnect and
// logging.
func (e *Endpoint) Host() string { return e.host }
func (e *Endpoint) Port() int    { return e.port }

// ReconnectPolicy governs automatic redial attempts: exponential backoff
// capped at 32s, the same shape supervisor.Supervisor uses for its
// ERROR->READY recovery, so one backoff implementation serves both call
// sites.
type ReconnectPolicy struct {
	backoff time.Duration
	cap     time.Duration
}

const defaultReconnectCap = 32 * time.Second

// NewReconnectPolicy creates a policy starting from a 1s backoff, capped at
// 32s, doubling on every failure and resetting on success.
func NewReconnectPolicy() *ReconnectPolicy {
	return &ReconnectPolicy{cap: defaultReconnectCap}
}

// NextDelay returns how long to wait before the next redial attempt and
// advances the backoff for the following call.
func (r *ReconnectPolicy) NextDelay() time.Duration {
	if r.backoff == 0 {
		r.backoff = time.Second
	} else {
		r.backoff *= 2
		if r.backoff > r.cap {
			r.backoff = r.cap
		}
	}
	return r.backoff
}

// Reset clears the backoff after a successful connection.
func (r *ReconnectPolicy) Reset() {
	r.backoff = 0
}

// DialWithRetry attempts to connect, retrying per policy until ctx is
// cancelled or a connection succeeds.
func DialWithRetry(ctx context.Context, host string, port int, policy *ReconnectPolicy) (*Endpoint, error) {
	for {
		ep, err := Dial(ctx, host, port)
		if err == nil {
			policy.Reset()
			return ep, nil
		}
		delay := policy.NextDelay()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
