package session

import (
	"errors"
	"log/slog"
	"time"
)

// DefaultExitPhrase ends a conversation when it comes back as a transcript.
const DefaultExitPhrase = "再见"

// Config holds state machine configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// SilenceSeconds of continuous VAD silence end a recording.
	SilenceSeconds int

	// RetryDelay is the back-off after a transient front end error.
	RetryDelay time.Duration

	// ExitPhrase is the transcript that ends the conversation.
	ExitPhrase string

	// SkipCommandConfirm goes straight from wake word to recording.
	SkipCommandConfirm bool

	// Continuous keeps recording after each dispatch, opening the next
	// recording immediately, until the exit phrase comes back.
	Continuous bool

	Hooks  Hooks
	Logger *slog.Logger
}

// Hooks observe the state machine. All fields are optional and are called
// synchronously from the machine goroutine.
type Hooks struct {
	OnStateChange         func(from, to State, reason string)
	OnRecordingStarted    func(index int, path string)
	OnRecordingDispatched func(index int, path string, samples int64)
	OnRecordingDiscarded  func(index int, path string, samples int64, reason string)
	OnResponse            func(resp string, state State)
	OnTransientError      func(err error)
	OnStorageError        func(err error)
}

// Option is a functional option for configuring the state machine.
type Option func(*Config)

// WithSilenceSeconds sets how long silence must last to end a recording.
func WithSilenceSeconds(seconds int) Option {
	return func(c *Config) {
		c.SilenceSeconds = seconds
	}
}

// WithRetryDelay sets the back-off after transient fetch errors.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		c.RetryDelay = d
	}
}

// WithExitPhrase sets the conversation-ending transcript.
func WithExitPhrase(phrase string) Option {
	return func(c *Config) {
		c.ExitPhrase = phrase
	}
}

// WithSkipCommandConfirm enables the two-state variant.
func WithSkipCommandConfirm(skip bool) Option {
	return func(c *Config) {
		c.SkipCommandConfirm = skip
	}
}

// WithContinuous enables continuous conversation.
func WithContinuous(enabled bool) Option {
	return func(c *Config) {
		c.Continuous = enabled
	}
}

// WithHooks sets the observer callbacks.
func WithHooks(h Hooks) Option {
	return func(c *Config) {
		c.Hooks = h
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the three-state machine with a two second silence
// window.
func DefaultConfig() *Config {
	return &Config{
		SilenceSeconds: 2,
		RetryDelay:     10 * time.Millisecond,
		ExitPhrase:     DefaultExitPhrase,
		Logger:         slog.Default(),
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
	if c.SilenceSeconds <= 0 {
		return errors.New("session: silence seconds must be positive")
	}
	if c.RetryDelay < 0 {
		return errors.New("session: retry delay must not be negative")
	}
	return nil
}
