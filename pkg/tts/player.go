package tts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voicebox/pkg/audioio"
)

// Playback defaults.
const (
	DefaultChunkDelay   = 100 * time.Millisecond
	DefaultWriteTimeout = 1000 * time.Millisecond
)

// PlayerConfig configures chunked playback.
type PlayerConfig struct {
	MaxChunkChars int
	ChunkDelay    time.Duration
	WriteTimeout  time.Duration

	// OnChunkError is called for every chunk that could not be played.
	OnChunkError func(index int, chunk string, err error)

	Logger *slog.Logger
}

// PlayerOption configures a Player.
type PlayerOption func(*PlayerConfig)

// WithMaxChunkChars sets the chunk size limit in characters.
func WithMaxChunkChars(n int) PlayerOption {
	return func(c *PlayerConfig) { c.MaxChunkChars = n }
}

// WithChunkDelay sets the pause after each played chunk.
func WithChunkDelay(d time.Duration) PlayerOption {
	return func(c *PlayerConfig) { c.ChunkDelay = d }
}

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(d time.Duration) PlayerOption {
	return func(c *PlayerConfig) { c.WriteTimeout = d }
}

// WithChunkErrorHook sets OnChunkError.
func WithChunkErrorHook(fn func(index int, chunk string, err error)) PlayerOption {
	return func(c *PlayerConfig) { c.OnChunkError = fn }
}

// WithPlayerLogger sets the structured logger.
func WithPlayerLogger(l *slog.Logger) PlayerOption {
	return func(c *PlayerConfig) { c.Logger = l }
}

// PlayerStats contains playback counters.
type PlayerStats struct {
	Utterances  int64 `json:"utterances"`
	Chunks      int64 `json:"chunks"`
	ChunkErrors int64 `json:"chunk_errors"`
	BytesPlayed int64 `json:"bytes_played"`
}

// Player speaks text through a Provider onto an audio sink.
type Player struct {
	provider Provider
	sink     audioio.Sink
	config   PlayerConfig
	logger   *slog.Logger

	utterances  atomic.Int64
	chunks      atomic.Int64
	chunkErrors atomic.Int64
	bytesPlayed atomic.Int64
}

// NewPlayer creates a player. The sink must already be started.
func NewPlayer(provider Provider, sink audioio.Sink, opts ...PlayerOption) *Player {
	cfg := PlayerConfig{
		MaxChunkChars: DefaultMaxChunkChars,
		ChunkDelay:    DefaultChunkDelay,
		WriteTimeout:  DefaultWriteTimeout,
		Logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = DefaultMaxChunkChars
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	return &Player{
		provider: provider,
		sink:     sink,
		config:   cfg,
		logger:   cfg.Logger.With("component", "tts.player"),
	}
}

// Speak chunks text and plays the chunks in order. A chunk that fails to
// synthesize or play is skipped and the rest are still attempted. The
// returned error wraps ErrChunksFailed when any chunk was skipped, or is
// the context error if ctx ends first.
func (p *Player) Speak(ctx context.Context, text string) error {
	chunks := SplitChunks(text, p.config.MaxChunkChars)
	p.utterances.Add(1)

	failed := 0
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		p.logger.Debug("playing chunk", "index", i+1, "total", len(chunks), "text", chunk)

		if err := p.playChunk(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			p.chunkErrors.Add(1)
			p.logger.Error("chunk failed", "index", i+1, "error", err)
			if p.config.OnChunkError != nil {
				p.config.OnChunkError(i, chunk, err)
			}
			continue
		}
		p.chunks.Add(1)

		if p.config.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.config.ChunkDelay):
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrChunksFailed, failed, len(chunks))
	}
	return nil
}

func (p *Player) playChunk(ctx context.Context, chunk string) error {
	stream, err := p.provider.Stream(ctx, chunk)
	if err != nil {
		return err
	}
	defer stream.Close()

	from := stream.Format().SampleRate
	to := p.sink.Config().SampleRate

	for {
		data, err := stream.Read()
		if err != nil {
			return err
		}
		if data == nil {
			return nil
		}
		if from > 0 && to > 0 && from != to {
			data = audioio.ResampleBytes(data, from, to)
		}
		if err := p.sink.WriteAll(data, p.config.WriteTimeout); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
		p.bytesPlayed.Add(int64(len(data)))
	}
}

// Chunks previews how text would be split.
func (p *Player) Chunks(text string) []string {
	return SplitChunks(text, p.config.MaxChunkChars)
}

// Stats returns playback counters.
func (p *Player) Stats() PlayerStats {
	return PlayerStats{
		Utterances:  p.utterances.Load(),
		Chunks:      p.chunks.Load(),
		ChunkErrors: p.chunkErrors.Load(),
		BytesPlayed: p.bytesPlayed.Load(),
	}
}
