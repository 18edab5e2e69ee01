// Package serialline wraps the OS serial device: raw-mode byte
// I/O, dynamic baudrate changes, modem-control signal read/write (DTR, RTS,
// DCD, DSR, CTS), hangup, and UUCP-style device locking. It never interprets
// the bytes it moves; that is the Hayes modem engine's job. This package is
// only the transport.
package serialline

import (
	"time"

	"github.com/stlalpha/modembridge/internal/bridgeerr"
)

// Parity selects the serial line's parity mode.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// Flow selects the serial line's flow-control mode.
type Flow int

const (
	FlowNone Flow = iota
	FlowRTSCTS
	FlowXonXoff
	FlowBoth
)

// Config describes how to open a serial device.
type Config struct {
	Device   string
	Baud     int
	Parity   Parity
	DataBits int // 7 or 8
	StopBits int // 1 or 2
	Flow     Flow
}

// Port is the serial line abstraction. Exactly one goroutine (the serial
// worker) calls Read/Write; the supervisor may call the
// modem-control setters/getters from a different goroutine, so those are
// serialized internally via a short critical section.
//
// Port is implemented per-OS: termios_linux.go backs it with termios2 and
// TIOCM* ioctls over golang.org/x/sys/unix; simline.go provides a PTY-backed
// double for tests and the bridge's "-simulate" developer mode that needs no
// real hardware.
type Port interface {
	// Read performs one non-blocking read. 0 means no data is currently
	// available; a negative count is never returned, and a fatal I/O condition
	// is instead reported as bridgeerr.ErrIOFatal and the caller must re-open.
	Read(buf []byte) (int, error)
	// Write performs one non-blocking write, retrying transient EAGAIN up to
	// 3 times before draining the remainder.
	Write(buf []byte) (int, error)
	// ReadLine scans an internal small buffer for a CR- or LF-terminated
	// record, blocking until one is found or deadline passes.
	ReadLine(buf []byte, deadline time.Time) (int, error)

	SetBaudrate(baud int) error
	SetDTR(on bool) error
	SetRTS(on bool) error
	GetDCD() (bool, error)
	GetDSR() (bool, error)
	GetCTS() (bool, error)
	// DTRDropHangup drops DTR for at least one second then restores it
	//.
	DTRDropHangup() error

	Close() error
}

// minCommandBufferSize is the minimum usable size for a
// command-accumulation buffer; ReadLine implementations size their internal
// scratch buffer to at least this so a full AT line always fits.
const minCommandBufferSize = 1024

// validate rejects parameter combinations the serial layer cannot open.
func (c Config) validate() error {
	if c.Device == "" || c.Baud <= 0 {
		return bridgeerr.ErrInvalidArg
	}
	if c.DataBits != 7 && c.DataBits != 8 {
		return bridgeerr.ErrInvalidArg
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return bridgeerr.ErrInvalidArg
	}
	return nil
}
