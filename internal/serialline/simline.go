package serialline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/stlalpha/modembridge/internal/bridgeerr"
)

// SimPort is a PTY-backed Port double: it opens a pseudo-terminal pair and
// presents the master side as the serial line, so tests and the bridge's
// developer "-simulate" mode can exercise the full modem/pipeline stack
// without real hardware. Modem-control signals have no PTY equivalent, so
// they are plain test-settable booleans.
type SimPort struct {
	mu            sync.Mutex
	master, slave *os.File
	dtr, rts      bool
	dcd, dsr, cts bool
	small         []byte
	closed        bool
}

// OpenSim creates a SimPort. SlavePath returns the path a test harness (or a
// second process acting as the DTE) can open to drive the other end.
func OpenSim() (*SimPort, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	return &SimPort{master: master, slave: slave, small: make([]byte, 0, minCommandBufferSize)}, nil
}

// SlavePath returns the pseudo-terminal's slave device path.
func (s *SimPort) SlavePath() string { return s.slave.Name() }

// SlaveFile exposes the slave file descriptor directly, for tests that want
// to write/read the DTE side in-process rather than reopening the path.
func (s *SimPort) SlaveFile() *os.File { return s.slave }

func (s *SimPort) Read(buf []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, bridgeerr.ErrClosed
	}
	s.master.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	n, err := s.master.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", bridgeerr.ErrIOFatal, err)
	}
	return n, nil
}

func (s *SimPort) Write(buf []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, bridgeerr.ErrClosed
	}
	return s.master.Write(buf)
}

func (s *SimPort) ReadLine(buf []byte, deadline time.Time) (int, error) {
	for {
		if idx := indexCRLF(s.small); idx >= 0 {
			n := copy(buf, s.small[:idx+1])
			s.small = append(s.small[:0], s.small[idx+1:]...)
			return n, nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, nil
		}
		tmp := make([]byte, 256)
		n, err := s.Read(tmp)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		s.small = append(s.small, tmp[:n]...)
	}
}

// SetBaudrate is a no-op on a PTY: there is no real line rate to change, but
// the call succeeds so callers need not special-case the simulator.
func (s *SimPort) SetBaudrate(int) error { return nil }

func (s *SimPort) SetDTR(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dtr = on
	return nil
}

func (s *SimPort) SetRTS(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rts = on
	return nil
}

// GetDCD reports a test-injected carrier state; SetDCD lets a test drive it.
func (s *SimPort) GetDCD() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dcd, nil
}

func (s *SimPort) GetDSR() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dsr, nil
}

func (s *SimPort) GetCTS() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cts, nil
}

// SetDCD/SetDSR/SetCTS let a test simulate hardware signal edges directly,
// since a PTY has no real modem-control lines of its own.
func (s *SimPort) SetDCD(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dcd = on
}

func (s *SimPort) SetDSR(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dsr = on
}

func (s *SimPort) SetCTS(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cts = on
}

func (s *SimPort) DTRDropHangup() error {
	if err := s.SetDTR(false); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond) // simulated line: no need for the real 1s hold
	return s.SetDTR(true)
}

func (s *SimPort) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.slave.Close()
	return s.master.Close()
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

var _ Port = (*SimPort)(nil)
