package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-voicebox/internal/config"
	"github.com/teslashibe/go-voicebox/pkg/audioio"
	"github.com/teslashibe/go-voicebox/pkg/inference"
	"github.com/teslashibe/go-voicebox/pkg/transcribe"
	"github.com/teslashibe/go-voicebox/pkg/tts"
)

func audioConfig(d config.DeviceConfig) audioio.Config {
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.Backend(d.Backend)
	cfg.SampleRate = d.SampleRate
	cfg.Channels = d.Channels
	cfg.Device = d.Device
	cfg.Address = d.Address
	if d.PayloadType != 0 {
		cfg.PayloadType = d.PayloadType
	}
	return cfg
}

func newTranscriber(ctx context.Context, cfg config.TranscribeConfig, logger *slog.Logger) (transcribe.Provider, error) {
	switch cfg.Provider {
	case "google":
		opts := []transcribe.GoogleOption{
			transcribe.WithLanguage(cfg.Language),
			transcribe.WithGoogleLogger(logger),
		}
		if cfg.GoogleAPIKey != "" {
			opts = append(opts, transcribe.WithAPIKey(cfg.GoogleAPIKey))
		}
		if cfg.CredentialsFile != "" {
			opts = append(opts, transcribe.WithCredentialsFile(cfg.CredentialsFile))
		}
		return transcribe.NewGoogle(ctx, opts...)
	case "http":
		opts := []transcribe.HTTPOption{
			transcribe.WithURL(cfg.URL),
			transcribe.WithTimeout(cfg.Timeout),
			transcribe.WithLogger(logger),
		}
		if cfg.FieldName != "" {
			opts = append(opts, transcribe.WithFieldName(cfg.FieldName))
		}
		return transcribe.NewHTTP(opts...)
	default:
		return nil, fmt.Errorf("unknown transcribe provider: %q", cfg.Provider)
	}
}

// newLLM builds the conversation context. With a fallback endpoint
// configured, requests go to the primary first and then the fallback.
func newLLM(cfg config.LLMConfig, logger *slog.Logger) (*inference.Session, error) {
	primary, err := inference.NewClient(
		inference.WithBaseURL(cfg.BaseURL),
		inference.WithAPIKey(cfg.APIKey),
		inference.WithModel(cfg.Model),
		inference.WithTimeout(cfg.Timeout),
		inference.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	var provider inference.Provider = primary
	if cfg.FallbackBaseURL != "" {
		model := cfg.FallbackModel
		if model == "" {
			model = cfg.Model
		}
		fallback, err := inference.NewClient(
			inference.WithBaseURL(cfg.FallbackBaseURL),
			inference.WithAPIKey(cfg.FallbackAPIKey),
			inference.WithModel(model),
			inference.WithTimeout(cfg.Timeout),
			inference.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("llm fallback: %w", err)
		}
		if provider, err = inference.NewChainWithLogger(logger, primary, fallback); err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
	}

	sess := inference.NewSession(provider)
	sess.SetLogger(logger)
	return sess, nil
}

// newSpeech builds the synthesis provider. "chain" tries ElevenLabs first
// and falls back to OpenAI.
func newSpeech(cfg config.TTSConfig, logger *slog.Logger) (tts.Provider, error) {
	openai := func() (tts.Provider, error) {
		return tts.NewOpenAI(
			tts.WithAPIKey(cfg.OpenAIAPIKey),
			tts.WithVoice(cfg.Voice),
			tts.WithModel(cfg.Model),
			tts.WithSpeed(cfg.Speed),
			tts.WithLogger(logger),
		)
	}
	elevenlabs := func() (tts.Provider, error) {
		return tts.NewElevenLabs(
			tts.WithAPIKey(cfg.ElevenLabsAPIKey),
			tts.WithVoice(cfg.ElevenLabsVoice),
			tts.WithSpeed(cfg.Speed),
			tts.WithLogger(logger),
		)
	}

	switch cfg.Provider {
	case "openai":
		return openai()
	case "elevenlabs":
		return elevenlabs()
	case "chain":
		el, err := elevenlabs()
		if err != nil {
			return nil, err
		}
		oa, err := openai()
		if err != nil {
			return nil, err
		}
		return tts.NewChainWithLogger(logger, el, oa)
	case "mock":
		return tts.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown tts provider: %q", cfg.Provider)
	}
}
