package afe

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrTransient is returned when the engine could not produce a frame
	// this time around. Callers back off briefly and retry.
	ErrTransient = errors.New("afe: transient engine error")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("afe: engine closed")

	// ErrWakeDisabled is returned when a wake trigger arrives while the
	// wake net is off.
	ErrWakeDisabled = errors.New("afe: wake net disabled")

	// ErrBadFeed is returned when a Feed call has the wrong frame size.
	ErrBadFeed = errors.New("afe: feed size mismatch")
)

// transient wraps a cause so errors.Is(err, ErrTransient) holds.
func transient(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}
