package afe

import (
	"errors"
	"log/slog"
	"time"
)

// Config holds the energy engine configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	SampleRate     int
	FeedChunkSize  int
	FeedChannels   int
	FetchChunkSize int

	// FetchTimeout bounds how long Fetch waits for a frame.
	FetchTimeout time.Duration

	// Queue is the number of frames buffered between Feed and Fetch.
	// Feeding into a full queue drops the oldest frame.
	Queue int

	// VAD hysteresis on normalized RMS.
	SpeechThreshold  float64
	SilenceThreshold float64
	SpeechFrames     int
	SilenceFrames    int

	// PreRoll is how much audio before speech onset is returned as Cache.
	PreRoll time.Duration

	// CommandTimeout is how long Detect waits for a command after Clean.
	CommandTimeout time.Duration

	// WakeOnSpeech raises the wake flag on speech onset, for hands-free
	// use without a wake word model.
	WakeOnSpeech bool

	// CommandOnSpeech makes the command matcher accept any speech as
	// command id 0.
	CommandOnSpeech bool

	Logger *slog.Logger
}

// Option is a functional option for configuring the energy engine.
type Option func(*Config)

// WithSampleRate sets the engine sample rate.
func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

// WithChunkSizes sets the feed and fetch frame sizes.
func WithChunkSizes(feed, fetch int) Option {
	return func(c *Config) {
		c.FeedChunkSize = feed
		c.FetchChunkSize = fetch
	}
}

// WithFeedChannels sets the number of interleaved microphone channels.
func WithFeedChannels(n int) Option {
	return func(c *Config) {
		c.FeedChannels = n
	}
}

// WithVADThresholds sets the hysteresis thresholds.
func WithVADThresholds(speech, silence float64) Option {
	return func(c *Config) {
		c.SpeechThreshold = speech
		c.SilenceThreshold = silence
	}
}

// WithVADFrames sets how many consecutive frames flip the VAD state.
func WithVADFrames(speech, silence int) Option {
	return func(c *Config) {
		c.SpeechFrames = speech
		c.SilenceFrames = silence
	}
}

// WithPreRoll sets the pre-roll cache duration.
func WithPreRoll(d time.Duration) Option {
	return func(c *Config) {
		c.PreRoll = d
	}
}

// WithCommandTimeout sets the command matcher timeout.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.CommandTimeout = d
	}
}

// WithFetchTimeout sets how long Fetch waits for a frame.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.FetchTimeout = d
	}
}

// WithWakeOnSpeech enables the speech-onset wake trigger.
func WithWakeOnSpeech(enabled bool) Option {
	return func(c *Config) {
		c.WakeOnSpeech = enabled
	}
}

// WithCommandOnSpeech makes any speech satisfy the command matcher.
func WithCommandOnSpeech(enabled bool) Option {
	return func(c *Config) {
		c.CommandOnSpeech = enabled
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns defaults for a 16 kHz mono microphone.
func DefaultConfig() *Config {
	return &Config{
		SampleRate:       16000,
		FeedChunkSize:    256,
		FeedChannels:     1,
		FetchChunkSize:   256,
		FetchTimeout:     100 * time.Millisecond,
		Queue:            128,
		SpeechThreshold:  0.015,
		SilenceThreshold: 0.008,
		SpeechFrames:     3,
		SilenceFrames:    8,
		PreRoll:          300 * time.Millisecond,
		CommandTimeout:   6 * time.Second,
		Logger:           slog.Default(),
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
	case c.SampleRate <= 0:
		return errors.New("afe: sample rate must be positive")
	case c.FeedChunkSize <= 0 || c.FetchChunkSize <= 0:
		return errors.New("afe: chunk sizes must be positive")
	case c.FeedChannels <= 0:
		return errors.New("afe: feed channels must be positive")
	case c.SilenceThreshold > c.SpeechThreshold:
		return errors.New("afe: silence threshold above speech threshold")
	case c.FetchTimeout <= 0:
		return errors.New("afe: fetch timeout must be positive")
	}
	return nil
}
