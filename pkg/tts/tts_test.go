package tts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-voicebox/pkg/tts"
)

func TestMockSilence(t *testing.T) {
	mock := tts.NewMock()
	ctx := context.Background()

	result, err := mock.Synthesize(ctx, "你好，乐鑫")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(result.Audio) != 5*tts.MockBytesPerChar || result.CharCount != 5 {
		t.Errorf("audio = %d bytes for %d chars", len(result.Audio), result.CharCount)
	}
	if result.Format.SampleRate != 16000 || result.Duration != 100*time.Millisecond {
		t.Errorf("format = %+v, duration = %v", result.Format, result.Duration)
	}

	stream, err := mock.Stream(ctx, "再见")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()
	first, _ := stream.Read()
	rest, _ := stream.Read()
	if len(first) != 2*tts.MockBytesPerChar || rest != nil {
		t.Errorf("reads = %d then %v", len(first), rest)
	}

	if mock.CallCount("Synthesize") != 1 || mock.CallCount("Stream") != 1 {
		t.Errorf("calls = %+v", mock.Calls())
	}
	if mock.Name() != "mock" {
		t.Errorf("Name = %q", mock.Name())
	}
}

func TestFailingMock(t *testing.T) {
	boom := errors.New("offline")
	mock := tts.NewFailingMock(boom)
	ctx := context.Background()

	if _, err := mock.Synthesize(ctx, "你好"); !errors.Is(err, boom) {
		t.Errorf("Synthesize err = %v", err)
	}
	if _, err := mock.Stream(ctx, "你好"); !errors.Is(err, boom) {
		t.Errorf("Stream err = %v", err)
	}
	if err := mock.Health(ctx); !errors.Is(err, boom) {
		t.Errorf("Health err = %v", err)
	}
}

func TestConfig(t *testing.T) {
	cfg := tts.DefaultConfig()
	cfg.Apply(
		tts.WithVoice("nova"),
		tts.WithModel("tts-1-hd"),
		tts.WithTimeout(5*time.Second),
		tts.WithOutputFormat(tts.EncodingPCM22),
		tts.WithSpeed(1.25),
	)
	if cfg.VoiceID != "nova" || cfg.ModelID != "tts-1-hd" || cfg.Timeout != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.OutputFormat != tts.EncodingPCM22 || cfg.Speed != 1.25 {
		t.Errorf("cfg = %+v", cfg)
	}

	if err := cfg.Validate(); !errors.Is(err, tts.ErrNoAPIKey) {
		t.Errorf("Validate without key = %v", err)
	}
	cfg.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	for _, speed := range []float64{0, 0.1, 4.5} {
		cfg.Speed = speed
		if err := cfg.Validate(); !errors.Is(err, tts.ErrBadSpeed) {
			t.Errorf("speed %v: err = %v", speed, err)
		}
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
		forbidden bool
	}{
		{429, true, false},
		{500, true, false},
		{503, true, false},
		{401, false, true},
		{403, false, true},
		{400, false, false},
	}
	for _, tt := range tests {
		err := &tts.APIError{Provider: "openai", StatusCode: tt.status}
		if err.IsRetryable() != tt.retryable || err.IsForbidden() != tt.forbidden {
			t.Errorf("%d: retryable=%v forbidden=%v", tt.status, err.IsRetryable(), err.IsForbidden())
		}
	}

	err := &tts.APIError{Provider: "openai", StatusCode: 400, Code: "invalid_input", Message: "bad request"}
	if got := err.Error(); got != "tts: openai returned 400 invalid_input: bad request" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrapError(t *testing.T) {
	inner := errors.New("connection reset")
	err := tts.WrapError("elevenlabs", inner)
	if err.Error() != "tts: elevenlabs: connection reset" || !errors.Is(err, inner) {
		t.Errorf("err = %v", err)
	}
	if tts.WrapError("elevenlabs", nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestEncodingSampleRate(t *testing.T) {
	tests := map[tts.Encoding]int{
		tts.EncodingPCM16: 16000,
		tts.EncodingPCM22: 22050,
		tts.EncodingPCM24: 24000,
		tts.EncodingPCM44: 44100,
		"mp3_44100_128":   16000,
	}
	for enc, want := range tests {
		if got := enc.SampleRate(); got != want {
			t.Errorf("%s: %d, want %d", enc, got, want)
		}
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	t.Run("needs a provider", func(t *testing.T) {
		if _, err := tts.NewChain(); !errors.Is(err, tts.ErrProviderUnavailable) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("first success wins", func(t *testing.T) {
		first, second := tts.NewMock(), tts.NewMock()
		chain, _ := tts.NewChain(first, second)
		if _, err := chain.Stream(ctx, "你好"); err != nil {
			t.Fatalf("Stream: %v", err)
		}
		if first.CallCount("Stream") != 1 || second.CallCount("Stream") != 0 {
			t.Error("only the first provider should be asked")
		}
	})

	t.Run("falls back", func(t *testing.T) {
		backup := tts.NewMock()
		chain, _ := tts.NewChain(tts.NewFailingMock(errors.New("websocket closed")), backup)
		result, err := chain.Synthesize(ctx, "你好")
		if err != nil || len(result.Audio) == 0 {
			t.Fatalf("Synthesize = %v, %v", result, err)
		}
		if backup.CallCount("Synthesize") != 1 {
			t.Error("backup not used")
		}
	})

	t.Run("all fail", func(t *testing.T) {
		e1, e2 := errors.New("fail 1"), errors.New("fail 2")
		chain, _ := tts.NewChain(tts.NewFailingMock(e1), tts.NewFailingMock(e2))
		_, err := chain.Stream(ctx, "你好")
		if !errors.Is(err, tts.ErrAllProvidersFailed) || !errors.Is(err, e1) || !errors.Is(err, e2) {
			t.Errorf("err = %v", err)
		}
		if err := chain.Health(ctx); !errors.Is(err, tts.ErrAllProvidersFailed) {
			t.Errorf("Health = %v", err)
		}
	})

	t.Run("healthy while one provider is", func(t *testing.T) {
		chain, _ := tts.NewChain(tts.NewFailingMock(errors.New("down")), tts.NewMock())
		if err := chain.Health(ctx); err != nil {
			t.Errorf("Health = %v", err)
		}
		if chain.Name() != "mock>mock" {
			t.Errorf("Name = %q", chain.Name())
		}
	})

	t.Run("cancelled context stops the walk", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		backup := tts.NewMock()
		chain, _ := tts.NewChain(tts.NewFailingMock(context.Canceled), backup)
		if _, err := chain.Stream(cctx, "你好"); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
		if backup.CallCount("Stream") != 0 {
			t.Error("backup should not be tried after cancellation")
		}
	})
}
