package audioio

import (
	"context"
	"io"
	"time"
)

// Sink plays audio to a speaker or other output device.
type Sink interface {
	// Start begins audio playback.
	Start(ctx context.Context) error

	// Stop halts audio playback.
	// It is safe to call Stop multiple times.
	Stop() error

	// WriteAll writes every byte of p (raw PCM16 little-endian at the sink's
	// sample rate) or fails. It returns ErrTimeout if the device does not
	// accept the data within timeout.
	WriteAll(p []byte, timeout time.Duration) error

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "exec", "rtp", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the sink cannot be restarted.
	io.Closer
}

// SinkStats contains statistics about the audio sink.
type SinkStats struct {
	// Writes is the total number of successful WriteAll calls.
	Writes int64 `json:"writes"`

	// BytesWritten is the total number of bytes written.
	BytesWritten int64 `json:"bytes_written"`

	// Timeouts is the number of writes that timed out.
	Timeouts int64 `json:"timeouts"`

	// Running indicates if the sink is currently playing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
