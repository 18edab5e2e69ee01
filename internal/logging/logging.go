// Package logging provides level-prefixed logging utilities for the bridge.
package logging

import "log"

// DebugEnabled controls whether Debug() produces output.
// Set via -debug flag or DEBUG=1 environment variable.
var DebugEnabled bool

// Debug logs a message only when DebugEnabled is true.
func Debug(format string, args ...any) {
	if DebugEnabled {
		log.Printf("DEBUG: "+format, args...)
	}
}

// Info logs an informational message unconditionally.
func Info(format string, args ...any) {
	log.Printf("INFO: "+format, args...)
}

// Warn logs a recoverable-condition message unconditionally.
func Warn(format string, args ...any) {
	log.Printf("WARN: "+format, args...)
}

// Error logs a failure unconditionally.
func Error(format string, args ...any) {
	log.Printf("ERROR: "+format, args...)
}
