package tts

import (
	"log/slog"
	"time"
)

// Config is shared by the synthesis providers. Fields a provider does not
// use are ignored: OpenAI has no voice settings and ElevenLabs no retries.
type Config struct {
	APIKey  string
	BaseURL string

	VoiceID string
	ModelID string
	Speed   float64

	// OutputFormat selects the ElevenLabs PCM rate. OpenAI always
	// returns 24kHz.
	OutputFormat  Encoding
	VoiceSettings VoiceSettings

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// VoiceSettings are the ElevenLabs voice_settings sent at the start of
// each utterance.
type VoiceSettings struct {
	Stability       float64
	SimilarityBoost float64
	Style           float64
	SpeakerBoost    bool
}

// Option configures a provider.
type Option func(*Config)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL points the provider at another endpoint, e.g. a test server.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithVoice sets the voice name (OpenAI) or voice ID (ElevenLabs).
func WithVoice(voice string) Option {
	return func(c *Config) { c.VoiceID = voice }
}

func WithModel(model string) Option {
	return func(c *Config) { c.ModelID = model }
}

// WithSpeed sets the speaking rate, 1.0 being normal.
func WithSpeed(speed float64) Option {
	return func(c *Config) { c.Speed = speed }
}

func WithOutputFormat(enc Encoding) Option {
	return func(c *Config) { c.OutputFormat = enc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry sets how often a failed OpenAI request is retried and the
// base delay between attempts.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns the board defaults: 16kHz output so ElevenLabs
// audio needs no resampling, and the fastest ElevenLabs model.
func DefaultConfig() *Config {
	return &Config{
		ModelID:      "eleven_turbo_v2_5",
		Speed:        1.0,
		OutputFormat: EncodingPCM16,
		VoiceSettings: VoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			SpeakerBoost:    true,
		},
		Timeout:    60 * time.Second,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Apply applies opts in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the fields every provider needs.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.Speed < 0.25 || c.Speed > 4.0 {
		return ErrBadSpeed
	}
	return nil
}
