package audioio

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotRunning is returned when reading or writing before Start.
	ErrNotRunning = errors.New("audioio: not running")

	// ErrTimeout is returned when a write could not complete in time.
	ErrTimeout = errors.New("audioio: timeout")
)

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start begins audio capture.
	Start(ctx context.Context) error

	// Stop halts audio capture.
	// It is safe to call Stop multiple times.
	Stop() error

	// Read reads raw PCM16 little-endian bytes into p, waiting at most
	// timeout for data. A read that times out returns the bytes gathered so
	// far (possibly zero) and a nil error. Any error is an I/O failure.
	Read(p []byte, timeout time.Duration) (int, error)

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "exec", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// ReadCalls is the total number of Read calls that returned data.
	ReadCalls int64 `json:"read_calls"`

	// BytesRead is the total number of bytes read.
	BytesRead int64 `json:"bytes_read"`

	// Timeouts is the number of reads that returned no data in time.
	Timeouts int64 `json:"timeouts"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
