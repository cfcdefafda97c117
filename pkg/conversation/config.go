package conversation

import (
	"log/slog"

	"github.com/teslashibe/go-voicebox/pkg/metrics"
)

// Phrases and prompt used when nothing else is configured.
const (
	DefaultSystemPrompt = "接下来的请求来自一个语音转文字服务，请小心中间可能有一些字词被识别成同音的字词。请不要使用列表，不要包含*，回答保持一个段落。"
	DefaultGreeting     = "你好，乐鑫"
	DefaultExitPhrase   = "再见"
	DefaultGoodbye      = "再见"

	// DefaultHistorySize is how many transcript entries Recent keeps.
	DefaultHistorySize = 50
)

// LLM sampling used for spoken replies.
const (
	DefaultMaxTokens   = 512
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
)

// Hooks are optional callbacks fired from the worker goroutine.
type Hooks struct {
	// OnTranscript fires for every non-empty transcript.
	OnTranscript func(turnID, text string)

	// OnReply fires when the LLM answers.
	OnReply func(turnID, text string)

	// OnError fires when a stage of a turn fails.
	OnError func(turnID string, stage Stage, err error)

	// OnTurnComplete fires once per TranscribeFile message.
	OnTurnComplete func(turn Turn)

	// OnSpeaking fires before and after each utterance.
	OnSpeaking func(active bool)
}

// Config configures a Worker.
type Config struct {
	SystemPrompt string
	Greeting     string
	ExitPhrase   string
	Goodbye      string

	MaxTokens   int
	Temperature float64
	TopP        float64

	// HistorySize bounds the entries kept for Recent.
	HistorySize int

	Hooks   Hooks
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Option is a functional option for configuring a Worker.
type Option func(*Config)

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		SystemPrompt: DefaultSystemPrompt,
		Greeting:     DefaultGreeting,
		ExitPhrase:   DefaultExitPhrase,
		Goodbye:      DefaultGoodbye,
		MaxTokens:    DefaultMaxTokens,
		Temperature:  DefaultTemperature,
		TopP:         DefaultTopP,
		HistorySize:  DefaultHistorySize,
		Logger:       slog.Default(),
	}
}

// WithSystemPrompt sets the prompt the LLM context is primed with.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) { c.SystemPrompt = prompt }
}

// WithGreeting sets the utterance spoken at startup. Empty disables it.
func WithGreeting(text string) Option {
	return func(c *Config) { c.Greeting = text }
}

// WithExitPhrase sets the transcript that ends a conversation.
func WithExitPhrase(phrase string) Option {
	return func(c *Config) { c.ExitPhrase = phrase }
}

// WithGoodbye sets the utterance spoken for the exit phrase.
func WithGoodbye(text string) Option {
	return func(c *Config) { c.Goodbye = text }
}

// WithSampling sets the LLM generation parameters.
func WithSampling(maxTokens int, temperature, topP float64) Option {
	return func(c *Config) {
		c.MaxTokens = maxTokens
		c.Temperature = temperature
		c.TopP = topP
	}
}

// WithHistorySize bounds the transcript history.
func WithHistorySize(n int) Option {
	return func(c *Config) { c.HistorySize = n }
}

// WithHooks sets event callbacks.
func WithHooks(h Hooks) Option {
	return func(c *Config) { c.Hooks = h }
}

// WithMetrics records stage latencies and turn outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SystemPrompt == "" {
		return ErrNoSystemPrompt
	}
	return nil
}
