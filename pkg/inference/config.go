package inference

import (
	"log/slog"
	"time"
)

// Defaults for the DeepSeek chat endpoint.
const (
	DefaultBaseURL     = "https://api.deepseek.com"
	DefaultModel       = "deepseek-chat"
	DefaultMaxTokens   = 2048
	DefaultTemperature = 1.0
	DefaultTopP        = 1.0
)

// Config holds provider configuration.
type Config struct {
	// Connection
	BaseURL string // API base URL
	APIKey  string // API key (optional for local providers)

	Model string // Default chat model

	// Request defaults
	MaxTokens   int
	Temperature float64
	TopP        float64

	Timeout time.Duration

	// Retry configuration
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the API base URL.
// Examples: "https://api.deepseek.com", "http://localhost:11434/v1"
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the default chat model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithTopP sets the default nucleus sampling value.
func WithTopP(p float64) Option {
	return func(c *Config) { c.TopP = p }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry configures retry behavior.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the DeepSeek defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     DefaultBaseURL,
		Model:       DefaultModel,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		Timeout:     30 * time.Second,
		MaxRetries:  2,
		RetryDelay:  250 * time.Millisecond,
		Logger:      slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Model == "" {
		return ErrNoModel
	}
	// API key is optional for local providers like Ollama
	return nil
}
