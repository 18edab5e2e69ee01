// Package bridgeerr defines the bridge-wide error taxonomy used by
// every component so callers can dispatch on errors.Is instead of parsing
// strings.
package bridgeerr

import "errors"

var (
	// ErrInvalidArg marks a caller bug: null/invalid input at an API boundary.
	ErrInvalidArg = errors.New("invalid argument")
	// ErrTimeout marks a deadline expiring with no progress; recovered per
	// state-machine policy.
	ErrTimeout = errors.New("timeout")
	// ErrIOTransient marks a retryable I/O condition (EAGAIN, short write).
	ErrIOTransient = errors.New("transient i/o error")
	// ErrIOFatal marks an unrecoverable I/O condition that must surface to
	// the supervisor as ERROR (device gone, socket reset).
	ErrIOFatal = errors.New("fatal i/o error")
	// ErrBufferFull marks backpressure at HIGH or a drop at CRITICAL.
	ErrBufferFull = errors.New("buffer full")
	// ErrProtocol marks a protocol-level violation (bad IAC, oversized
	// subnegotiation, malformed AT line).
	ErrProtocol = errors.New("protocol violation")
	// ErrStateInvalid marks a disallowed state transition: a programming bug.
	ErrStateInvalid = errors.New("invalid state transition")
	// ErrClosed marks use of a component after it was torn down.
	ErrClosed = errors.New("closed")
)
