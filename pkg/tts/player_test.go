package tts_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/teslashibe/go-voicebox/pkg/audioio"
	"github.com/teslashibe/go-voicebox/pkg/tts"
)

func startedSink(t *testing.T, rate int) *audioio.MockSink {
	t.Helper()
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	cfg.SampleRate = rate
	sink := audioio.NewMockSink(cfg, slog.Default())
	if err := sink.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestPlayerSpeaksChunksInOrder(t *testing.T) {
	mock := tts.NewMock()
	sink := startedSink(t, 16000)
	player := tts.NewPlayer(mock, sink, tts.WithMaxChunkChars(2), tts.WithChunkDelay(0))

	if err := player.Speak(context.Background(), "你好。再见。"); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	var texts []string
	for _, c := range mock.Calls() {
		texts = append(texts, c.Text)
	}
	if len(texts) != 2 || texts[0] != "你好" || texts[1] != "再见" {
		t.Errorf("streamed %q", texts)
	}

	if got := len(sink.Writes()); got != 2 {
		t.Errorf("writes = %d, want 2", got)
	}
	if got := len(sink.Bytes()); got != 4*tts.MockBytesPerChar {
		t.Errorf("bytes = %d, want %d", got, 4*tts.MockBytesPerChar)
	}

	stats := player.Stats()
	if stats.Utterances != 1 || stats.Chunks != 2 || stats.ChunkErrors != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPlayerPunctuationOnlyIsSilent(t *testing.T) {
	mock := tts.NewMock()
	sink := startedSink(t, 16000)
	player := tts.NewPlayer(mock, sink, tts.WithMaxChunkChars(2), tts.WithChunkDelay(0))

	if err := player.Speak(context.Background(), "。。。。。。"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if n := len(mock.Calls()); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
	if n := len(sink.Writes()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
}

func TestPlayerSkipsFailedChunk(t *testing.T) {
	boom := errors.New("synthesis failed")
	mock := tts.NewMock()
	ok := mock.SynthesizeFunc
	mock.SynthesizeFunc = func(ctx context.Context, text string) (*tts.AudioResult, error) {
		if text == "坏的" {
			return nil, boom
		}
		return ok(ctx, text)
	}

	var hookIndex = -1
	sink := startedSink(t, 16000)
	player := tts.NewPlayer(mock, sink,
		tts.WithMaxChunkChars(2),
		tts.WithChunkDelay(0),
		tts.WithChunkErrorHook(func(index int, chunk string, err error) {
			hookIndex = index
			if !errors.Is(err, boom) {
				t.Errorf("hook err = %v", err)
			}
		}),
	)

	err := player.Speak(context.Background(), "好的。坏的。好的。")
	if !errors.Is(err, tts.ErrChunksFailed) {
		t.Fatalf("err = %v, want ErrChunksFailed", err)
	}
	if hookIndex != 1 {
		t.Errorf("hook index = %d, want 1", hookIndex)
	}
	if got := len(sink.Writes()); got != 2 {
		t.Errorf("writes = %d, want 2 (failed chunk skipped)", got)
	}

	stats := player.Stats()
	if stats.Chunks != 2 || stats.ChunkErrors != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPlayerResamplesToSinkRate(t *testing.T) {
	mock := tts.NewMock()
	mock.SynthesizeFunc = func(ctx context.Context, text string) (*tts.AudioResult, error) {
		return &tts.AudioResult{
			Audio:  make([]byte, 480),
			Format: tts.AudioFormat{Encoding: tts.EncodingPCM24, SampleRate: 24000, Channels: 1},
		}, nil
	}
	sink := startedSink(t, 16000)
	player := tts.NewPlayer(mock, sink, tts.WithChunkDelay(0))

	if err := player.Speak(context.Background(), "你好"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if got := len(sink.Bytes()); got != 320 {
		t.Errorf("bytes = %d, want 320", got)
	}
}

func TestPlayerWriteFailureSkipsChunk(t *testing.T) {
	sink := startedSink(t, 16000)
	calls := 0
	sink.WriteFunc = func(p []byte, timeout time.Duration) error {
		calls++
		if timeout != tts.DefaultWriteTimeout {
			t.Errorf("timeout = %v", timeout)
		}
		if calls == 1 {
			return audioio.ErrTimeout
		}
		return nil
	}

	player := tts.NewPlayer(tts.NewMock(), sink, tts.WithMaxChunkChars(2), tts.WithChunkDelay(0))
	err := player.Speak(context.Background(), "一二。三四。")
	if !errors.Is(err, tts.ErrChunksFailed) {
		t.Fatalf("err = %v", err)
	}
	if got := len(sink.Writes()); got != 1 {
		t.Errorf("writes = %d, want 1", got)
	}
}

func TestPlayerStopsOnCancel(t *testing.T) {
	mock := tts.NewMock()
	sink := startedSink(t, 16000)
	player := tts.NewPlayer(mock, sink, tts.WithMaxChunkChars(2), tts.WithChunkDelay(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := player.Speak(ctx, "一二。三四。五六。")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if got := mock.CallCount("Stream"); got != 1 {
		t.Errorf("streamed %d chunks, want 1", got)
	}
}
