package recorder

import (
	"errors"
	"log/slog"
)

// Config holds recorder configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Dir receives the audio{idx}.wav files.
	Dir string

	// MountPoint is where the durable flush sentinel is written.
	// Defaults to Dir.
	MountPoint string

	SampleRate int
	BitDepth   int
	Channels   int

	// StartIndex is the first recording index.
	StartIndex int

	// Resume starts numbering after the highest audio{idx}.wav already in
	// Dir, so a restart never overwrites earlier recordings.
	Resume bool

	// KeepDiscarded leaves discarded recordings on disk.
	KeepDiscarded bool

	// OnFlushFailure is called whenever the durable flush fails.
	OnFlushFailure func(err error)

	Logger *slog.Logger
}

// Option is a functional option for configuring the recorder.
type Option func(*Config)

// WithDir sets the recording directory.
func WithDir(dir string) Option {
	return func(c *Config) {
		c.Dir = dir
	}
}

// WithMountPoint sets where the flush sentinel is created.
func WithMountPoint(mount string) Option {
	return func(c *Config) {
		c.MountPoint = mount
	}
}

// WithSampleRate sets the WAV sample rate.
func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

// WithStartIndex sets the first recording index.
func WithStartIndex(idx int) Option {
	return func(c *Config) {
		c.StartIndex = idx
	}
}

// WithResume continues numbering after existing recordings.
func WithResume(enabled bool) Option {
	return func(c *Config) {
		c.Resume = enabled
	}
}

// WithKeepDiscarded keeps discarded recordings on disk.
func WithKeepDiscarded(keep bool) Option {
	return func(c *Config) {
		c.KeepDiscarded = keep
	}
}

// WithFlushFailureHook sets the flush failure callback.
func WithFlushFailureHook(fn func(err error)) Option {
	return func(c *Config) {
		c.OnFlushFailure = fn
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns mono 16-bit 16 kHz recordings in /vfat.
func DefaultConfig() *Config {
	return &Config{
		Dir:        "/vfat",
		SampleRate: 16000,
		BitDepth:   16,
		Channels:   1,
		Logger:     slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Dir == "":
		return errors.New("recorder: directory required")
	case c.SampleRate <= 0:
		return errors.New("recorder: sample rate must be positive")
	case c.BitDepth != 16:
		return errors.New("recorder: only 16-bit recordings are supported")
	case c.Channels != 1:
		return errors.New("recorder: only mono recordings are supported")
	case c.StartIndex < 0:
		return errors.New("recorder: start index must not be negative")
	}
	return nil
}
