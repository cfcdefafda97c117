// Package rtp provides an audio sink that streams Opus-encoded speech to a
// networked speaker over RTP/UDP.
//
// Importing the package registers the "rtp" backend with audioio:
//
//	import _ "github.com/teslashibe/go-voicebox/pkg/audioio/rtp"
package rtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-voicebox/pkg/audioio"
)

const (
	// FrameDuration is the Opus frame length sent per packet.
	FrameDuration = 20 * time.Millisecond

	// clockRate is the RTP clock for Opus, fixed at 48kHz regardless of
	// the encoded sample rate.
	clockRate = 48000

	maxPacketBytes = 1275
)

func init() {
	audioio.RegisterSink(audioio.BackendRTP, func(cfg audioio.Config, logger *slog.Logger) (audioio.Sink, error) {
		return NewSink(cfg, logger)
	})
}

// Sink encodes PCM16 into Opus frames and sends them as RTP packets.
type Sink struct {
	cfg    audioio.Config
	logger *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	enc     *opus.Encoder
	running bool
	closed  bool

	ssrc      uint32
	seq       uint16
	timestamp uint32
	lastSend  time.Time

	frameSamples int
	packetBuf    []byte

	// Stats
	writes       atomic.Int64
	bytesWritten atomic.Int64
	timeouts     atomic.Int64
	packets      atomic.Int64
}

// NewSink creates an RTP sink for cfg.Address. The Opus encoder is created
// up front so an unsupported sample rate fails early.
func NewSink(cfg audioio.Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Address == "" {
		return nil, errors.New("rtp: address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("rtp: create opus encoder: %w", err)
	}

	return &Sink{
		cfg:          cfg,
		logger:       logger.With("component", "audioio.rtp_sink", "address", cfg.Address),
		enc:          enc,
		ssrc:         rand.Uint32(),
		seq:          uint16(rand.Intn(1 << 16)),
		timestamp:    rand.Uint32(),
		frameSamples: cfg.SampleRate * int(FrameDuration/time.Millisecond) / 1000,
		packetBuf:    make([]byte, maxPacketBytes),
	}, nil
}

// Start opens the UDP socket.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("rtp: dial %s: %w", s.cfg.Address, err)
	}

	s.conn = conn
	s.running = true
	s.logger.Info("rtp sink started",
		"sample_rate", s.cfg.SampleRate,
		"payload_type", s.cfg.PayloadType,
		"ssrc", s.ssrc,
	)
	return nil
}

// WriteAll encodes p as consecutive 20 ms Opus frames and sends them paced
// at real time. A trailing partial frame is padded with silence. timeout
// bounds each packet send.
func (s *Sink) WriteAll(p []byte, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if !s.running {
		return audioio.ErrNotRunning
	}

	samples := audioio.BytesToSamples(p)
	step := s.frameSamples * s.cfg.Channels
	// a gap since the last packet starts a new talkspurt
	marker := time.Since(s.lastSend) > 2*FrameDuration
	start := time.Now()

	for off, n := 0, 0; off < len(samples); off, n = off+step, n+1 {
		frame := make([]int16, step)
		copy(frame, samples[off:min(off+step, len(samples))])

		encoded, err := s.enc.Encode(frame, s.packetBuf)
		if err != nil {
			return fmt.Errorf("rtp: opus encode: %w", err)
		}

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         marker,
				PayloadType:    s.cfg.PayloadType,
				SequenceNumber: s.seq,
				Timestamp:      s.timestamp,
				SSRC:           s.ssrc,
			},
			Payload: s.packetBuf[:encoded],
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("rtp: marshal packet: %w", err)
		}

		if wait := time.Until(start.Add(time.Duration(n) * FrameDuration)); wait > 0 {
			time.Sleep(wait)
		}

		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("rtp: set write deadline: %w", err)
		}
		if _, err := s.conn.Write(raw); err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				s.timeouts.Add(1)
				return fmt.Errorf("rtp: send packet %d: %w", s.seq, audioio.ErrTimeout)
			}
			return fmt.Errorf("rtp: send packet %d: %w", s.seq, err)
		}

		marker = false
		s.seq++
		s.timestamp += uint32(clockRate * FrameDuration / time.Second)
		s.lastSend = time.Now()
		s.packets.Add(1)
	}

	s.writes.Add(1)
	s.bytesWritten.Add(int64(len(p)))
	return nil
}

// Stop closes the socket.
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	err := s.conn.Close()
	s.conn = nil
	s.logger.Info("rtp sink stopped", "packets", s.packets.Load())
	return err
}

// Config returns the audio configuration.
func (s *Sink) Config() audioio.Config {
	return s.cfg
}

// Name returns "rtp".
func (s *Sink) Name() string {
	return string(audioio.BackendRTP)
}

// Close stops the sink and prevents restarts.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns sink statistics.
func (s *Sink) Stats() audioio.SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return audioio.SinkStats{
		Writes:       s.writes.Load(),
		BytesWritten: s.bytesWritten.Load(),
		Timeouts:     s.timeouts.Load(),
		Running:      running,
		Backend:      string(audioio.BackendRTP),
	}
}

// Packets returns the number of RTP packets sent.
func (s *Sink) Packets() int64 {
	return s.packets.Load()
}

var _ audioio.SinkWithStats = (*Sink)(nil)
