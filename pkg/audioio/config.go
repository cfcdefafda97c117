// Package audioio provides audio capture and playback for the voice pipeline.
//
// This package supports multiple backends:
//   - exec - arecord/aplay subprocess pipes (Linux boards with ALSA utils)
//   - rtp  - Opus over RTP speaker sink, registered by pkg/audioio/rtp
//   - mock - CI/Testing without hardware
//
// The backend is selected automatically based on the platform, or can be
// explicitly specified via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendExec pipes raw PCM through arecord / aplay.
	BackendExec Backend = "exec"
	// BackendRTP streams Opus frames over RTP (sink only).
	BackendRTP Backend = "rtp"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (selects best available for platform)
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000 (what the front end and transcription expect)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the size of audio buffers.
	// Default: 20ms (320 samples at 16kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the platform-specific device identifier.
	// Examples:
	//   - exec: "default", "hw:0,0", "plughw:1,0"
	//   - rtp: ignored
	//   - mock: ignored
	Device string `yaml:"device" json:"device"`

	// Address is the destination host:port for network sinks.
	Address string `yaml:"address" json:"address"`

	// PayloadType is the RTP payload type for network sinks.
	// Default: 111 (dynamic Opus)
	PayloadType uint8 `yaml:"payload_type" json:"payload_type"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		Device:         "default",
		PayloadType:    111,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	if c.Backend == BackendRTP && c.Address == "" {
		return fmt.Errorf("address is required for the %s backend", BackendRTP)
	}
	return nil
}

// BufferSize returns the number of samples per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (assuming int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2 // 2 bytes per int16 sample
}

// BytesDuration returns how long n bytes of PCM16 audio play for.
func (c *Config) BytesDuration(n int) time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := n / (2 * c.Channels)
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}
