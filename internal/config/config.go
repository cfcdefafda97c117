// Package config loads the voicebox application configuration.
//
// Configuration comes from an optional YAML file layered over Default, then
// from environment variables. Secrets are normally provided through the
// environment only.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-voicebox/pkg/conversation"
	"github.com/teslashibe/go-voicebox/pkg/tts"
)

// Config is the application configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Audio        AudioConfig        `yaml:"audio"`
	FrontEnd     FrontEndConfig     `yaml:"frontend"`
	Session      SessionConfig      `yaml:"session"`
	Recorder     RecorderConfig     `yaml:"recorder"`
	Transcribe   TranscribeConfig   `yaml:"transcribe"`
	LLM          LLMConfig          `yaml:"llm"`
	TTS          TTSConfig          `yaml:"tts"`
	Conversation ConversationConfig `yaml:"conversation"`
	Web          WebConfig          `yaml:"web"`
}

// AudioConfig selects the microphone and speaker backends.
type AudioConfig struct {
	Input  DeviceConfig `yaml:"input"`
	Output DeviceConfig `yaml:"output"`
}

// DeviceConfig configures one audio device.
type DeviceConfig struct {
	Backend     string `yaml:"backend"`
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	Device      string `yaml:"device,omitempty"`
	Address     string `yaml:"address,omitempty"`
	PayloadType uint8  `yaml:"payload_type,omitempty"`
}

// FrontEndConfig tunes the software acoustic front end.
type FrontEndConfig struct {
	SpeechThreshold  float64       `yaml:"speech_threshold"`
	SilenceThreshold float64       `yaml:"silence_threshold"`
	PreRoll          time.Duration `yaml:"preroll"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	WakeOnSpeech     bool          `yaml:"wake_on_speech"`
	CommandOnSpeech  bool          `yaml:"command_on_speech"`
}

// SessionConfig configures the state machine.
type SessionConfig struct {
	SilenceSeconds     int  `yaml:"silence_seconds"`
	SkipCommandConfirm bool `yaml:"skip_command_confirm"`
	Continuous         bool `yaml:"continuous"`
}

// RecorderConfig configures where recordings are written.
type RecorderConfig struct {
	Dir           string `yaml:"dir"`
	MountPoint    string `yaml:"mount_point,omitempty"`
	Resume        bool   `yaml:"resume"`
	KeepDiscarded bool   `yaml:"keep_discarded"`
}

// TranscribeConfig selects the speech-to-text provider.
type TranscribeConfig struct {
	Provider        string        `yaml:"provider"`
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	Language        string        `yaml:"language"`
	FieldName       string        `yaml:"field_name,omitempty"`
	GoogleAPIKey    string        `yaml:"-"`
	CredentialsFile string        `yaml:"credentials_file,omitempty"`
}

// LLMConfig configures the chat completion backend.
type LLMConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"-"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	TopP         float64       `yaml:"top_p"`
	SystemPrompt string        `yaml:"system_prompt"`
	Timeout      time.Duration `yaml:"timeout"`

	// Fallback endpoint tried when the primary fails. Disabled when
	// FallbackBaseURL is empty.
	FallbackBaseURL string `yaml:"fallback_base_url"`
	FallbackModel   string `yaml:"fallback_model"`
	FallbackAPIKey  string `yaml:"-"`
}

// TTSConfig configures speech synthesis and playback.
type TTSConfig struct {
	Provider         string        `yaml:"provider"`
	Voice            string        `yaml:"voice"`
	Model            string        `yaml:"model"`
	Speed            float64       `yaml:"speed"`
	MaxChunkChars    int           `yaml:"max_chunk_chars"`
	ChunkDelay       time.Duration `yaml:"chunk_delay"`
	OpenAIAPIKey     string        `yaml:"-"`
	ElevenLabsAPIKey string        `yaml:"-"`
	ElevenLabsVoice  string        `yaml:"elevenlabs_voice"`
}

// ConversationConfig holds the worker phrases.
type ConversationConfig struct {
	Greeting    string `yaml:"greeting"`
	ExitPhrase  string `yaml:"exit_phrase"`
	Goodbye     string `yaml:"goodbye"`
	HistorySize int    `yaml:"history_size"`
}

// WebConfig configures the dashboard.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Input:  DeviceConfig{Backend: "auto", SampleRate: 16000, Channels: 1, Device: "default"},
			Output: DeviceConfig{Backend: "auto", SampleRate: 16000, Channels: 1, Device: "default", PayloadType: 111},
		},
		FrontEnd: FrontEndConfig{
			SpeechThreshold:  0.015,
			SilenceThreshold: 0.008,
			PreRoll:          300 * time.Millisecond,
			CommandTimeout:   6 * time.Second,
		},
		Session: SessionConfig{
			SilenceSeconds: 2,
		},
		Recorder: RecorderConfig{
			Dir: "/vfat",
		},
		Transcribe: TranscribeConfig{
			Provider: "http",
			URL:      "http://localhost:8000/transcribe",
			Timeout:  30 * time.Second,
			Language: "zh-CN",
		},
		LLM: LLMConfig{
			BaseURL:      "https://api.deepseek.com",
			Model:        "deepseek-chat",
			MaxTokens:    conversation.DefaultMaxTokens,
			Temperature:  conversation.DefaultTemperature,
			TopP:         conversation.DefaultTopP,
			SystemPrompt: conversation.DefaultSystemPrompt,
			Timeout:      60 * time.Second,
		},
		TTS: TTSConfig{
			Provider:      "openai",
			Voice:         "alloy",
			Model:         "tts-1",
			Speed:         1.0,
			MaxChunkChars: tts.DefaultMaxChunkChars,
			ChunkDelay:    tts.DefaultChunkDelay,
		},
		Conversation: ConversationConfig{
			Greeting:    conversation.DefaultGreeting,
			ExitPhrase:  conversation.DefaultExitPhrase,
			Goodbye:     conversation.DefaultGoodbye,
			HistorySize: conversation.DefaultHistorySize,
		},
		Web: WebConfig{
			Enabled: true,
			Addr:    ":8080",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("VOICEBOX_LLM_FALLBACK_API_KEY"); v != "" {
		c.LLM.FallbackAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.TTS.OpenAIAPIKey = v
	}
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" {
		c.TTS.ElevenLabsAPIKey = v
	}
	if v := os.Getenv("GOOGLE_SPEECH_API_KEY"); v != "" {
		c.Transcribe.GoogleAPIKey = v
	}
	if v := os.Getenv("VOICEBOX_TRANSCRIBE_URL"); v != "" {
		c.Transcribe.URL = v
	}
	if v := os.Getenv("VOICEBOX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("VOICEBOX_WEB_ADDR"); v != "" {
		c.Web.Addr = v
	}
}

// Validate checks the configuration. API keys are not required here so that
// offline subcommands work; providers report missing keys themselves.
func (c *Config) Validate() error {
	var errs []error

	if c.Audio.Input.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid input sample rate: %d", c.Audio.Input.SampleRate))
	}
	if c.Audio.Output.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid output sample rate: %d", c.Audio.Output.SampleRate))
	}
	if c.Session.SilenceSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid silence seconds: %d", c.Session.SilenceSeconds))
	}
	if c.Recorder.Dir == "" {
		errs = append(errs, errors.New("recorder dir is required"))
	}

	switch c.Transcribe.Provider {
	case "http":
		if c.Transcribe.URL == "" {
			errs = append(errs, errors.New("transcribe url is required for the http provider"))
		}
	case "google":
	default:
		errs = append(errs, fmt.Errorf("unknown transcribe provider: %q", c.Transcribe.Provider))
	}

	switch c.TTS.Provider {
	case "openai", "elevenlabs", "chain", "mock":
	default:
		errs = append(errs, fmt.Errorf("unknown tts provider: %q", c.TTS.Provider))
	}
	if c.TTS.MaxChunkChars <= 0 {
		errs = append(errs, fmt.Errorf("invalid max chunk chars: %d", c.TTS.MaxChunkChars))
	}
	if c.TTS.Speed <= 0 {
		errs = append(errs, fmt.Errorf("invalid tts speed: %v", c.TTS.Speed))
	}

	if c.LLM.BaseURL == "" || c.LLM.Model == "" {
		errs = append(errs, errors.New("llm base_url and model are required"))
	}
	if c.Web.Enabled && c.Web.Addr == "" {
		errs = append(errs, errors.New("web addr is required when the dashboard is enabled"))
	}

	return errors.Join(errs...)
}
