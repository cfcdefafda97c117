// Package capture moves microphone audio into the acoustic front end.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voicebox/pkg/afe"
	"github.com/teslashibe/go-voicebox/pkg/audioio"
)

// ReadTimeout bounds each microphone read.
const ReadTimeout = 100 * time.Millisecond

// ErrHardwareIO wraps read and feed failures. They end the loop.
var ErrHardwareIO = errors.New("capture: hardware I/O error")

// Loop reads fixed-size chunks from a Source and feeds them to a FrontEnd.
type Loop struct {
	src    audioio.Source
	fe     afe.FrontEnd
	logger *slog.Logger

	chunks atomic.Int64
	bytes  atomic.Int64
}

// Stats reports capture counters.
type Stats struct {
	ChunksFed int64 `json:"chunks_fed"`
	BytesRead int64 `json:"bytes_read"`
}

// New creates a capture loop. A nil logger uses slog.Default.
func New(src audioio.Source, fe afe.FrontEnd, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		src:    src,
		fe:     fe,
		logger: logger.With("component", "capture"),
	}
}

// Run feeds the front end until ctx is cancelled (returning nil) or a read
// or feed fails (returning an ErrHardwareIO error).
func (l *Loop) Run(ctx context.Context) error {
	chunkSize := l.fe.FeedChunkSize()
	channels := l.fe.FeedChannels()
	buf := make([]byte, 2*chunkSize*channels)

	l.logger.Info("capture loop started",
		"source", l.src.Name(),
		"chunk_samples", chunkSize,
		"channels", channels,
		"chunk_bytes", len(buf),
	)

	for {
		if ctx.Err() != nil {
			l.logger.Info("capture loop stopped", "chunks", l.chunks.Load())
			return nil
		}

		filled, err := l.fill(ctx, buf)
		if err != nil {
			l.logger.Error("microphone read failed", "error", err)
			return fmt.Errorf("%w: read: %w", ErrHardwareIO, err)
		}
		if !filled {
			continue
		}

		if err := l.fe.Feed(audioio.BytesToSamples(buf)); err != nil {
			l.logger.Error("front end feed failed", "error", err)
			return fmt.Errorf("%w: feed: %w", ErrHardwareIO, err)
		}
		l.chunks.Add(1)
	}
}

// fill accumulates short reads until buf is full. It reports false if ctx
// was cancelled first.
func (l *Loop) fill(ctx context.Context, buf []byte) (bool, error) {
	off := 0
	for off < len(buf) {
		if ctx.Err() != nil {
			return false, nil
		}
		n, err := l.src.Read(buf[off:], ReadTimeout)
		off += n
		l.bytes.Add(int64(n))
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// Stats returns capture counters.
func (l *Loop) Stats() Stats {
	return Stats{
		ChunksFed: l.chunks.Load(),
		BytesRead: l.bytes.Load(),
	}
}
