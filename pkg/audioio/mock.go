package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence, a sine wave, or scripted PCM).
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool

	// Stats
	readCalls atomic.Int64
	bytesRead atomic.Int64

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
	realtime  bool

	// scripted PCM, served before synthetic audio
	script   []byte
	eofAfter bool
	err      error
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithPCM queues samples to be served before synthetic audio. When eof is
// set, Read returns io.EOF once the samples are consumed.
func WithPCM(samples []int16, eof bool) MockSourceOption {
	return func(m *MockSource) {
		m.script = append(m.script, SamplesToBytes(samples)...)
		m.eofAfter = eof
	}
}

// WithRealtime paces reads at the configured sample rate.
func WithRealtime() MockSourceOption {
	return func(m *MockSource) {
		m.realtime = true
	}
}

// WithReadError makes every Read fail with err.
func WithReadError(err error) MockSourceOption {
	return func(m *MockSource) {
		m.err = err
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		frequency: 0, // Silence by default
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.logger.Info("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
		"scripted_bytes", len(m.script),
	)

	return nil
}

// Read fills p with the next audio bytes.
func (m *MockSource) Read(p []byte, timeout time.Duration) (int, error) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if !m.running {
		m.mu.Unlock()
		return 0, ErrNotRunning
	}
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return 0, err
	}

	var n int
	if len(m.script) > 0 {
		n = copy(p, m.script)
		m.script = m.script[n:]
	} else if m.eofAfter {
		m.mu.Unlock()
		return 0, io.EOF
	} else {
		n = m.generate(p)
	}
	realtime := m.realtime
	m.mu.Unlock()

	if realtime {
		if d := m.cfg.BytesDuration(n); d > 0 {
			time.Sleep(min(d, timeout))
		}
	}

	m.readCalls.Add(1)
	m.bytesRead.Add(int64(n))
	return n, nil
}

func (m *MockSource) generate(p []byte) int {
	channels := m.cfg.Channels
	frames := len(p) / (2 * channels)

	for i := 0; i < frames; i++ {
		var sample int16
		if m.frequency > 0 {
			v := m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate))
			sample = int16(v * 32767)

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			p[off] = byte(sample)
			p[off+1] = byte(sample >> 8)
		}
	}

	return frames * channels * 2
}

// Stop halts audio generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false
	m.logger.Info("mock audio source stopped")

	return nil
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ReadCalls: m.readCalls.Load(),
		BytesRead: m.bytesRead.Load(),
		Running:   running,
		Backend:   "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)

// MockSink is a mock audio sink for testing.
// It keeps everything written to it and tracks statistics.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	buffer  []byte
	writes  [][]byte

	// WriteFunc, when set, is consulted before each write. A non-nil
	// error fails the write.
	WriteFunc func(p []byte, timeout time.Duration) error

	// Stats
	writeCount   atomic.Int64
	bytesWritten atomic.Int64
	timeouts     atomic.Int64
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &MockSink{
		cfg:    cfg,
		logger: logger,
	}
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}

	m.running = true
	m.logger.Info("mock audio sink started")

	return nil
}

// Stop halts audio acceptance.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.running = false
		m.logger.Info("mock audio sink stopped")
	}

	return nil
}

// WriteAll accepts p in full.
func (m *MockSink) WriteAll(p []byte, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if !m.running {
		return ErrNotRunning
	}
	if m.WriteFunc != nil {
		if err := m.WriteFunc(p, timeout); err != nil {
			if err == ErrTimeout {
				m.timeouts.Add(1)
			}
			return err
		}
	}

	m.buffer = append(m.buffer, p...)
	m.writes = append(m.writes, append([]byte(nil), p...))

	m.writeCount.Add(1)
	m.bytesWritten.Add(int64(len(p)))

	return nil
}

// Bytes returns a copy of everything written so far.
func (m *MockSink) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buffer...)
}

// Writes returns a copy of each individual write.
func (m *MockSink) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// Clear discards recorded audio.
func (m *MockSink) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer = m.buffer[:0]
	m.writes = nil
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SinkStats{
		Writes:       m.writeCount.Load(),
		BytesWritten: m.bytesWritten.Load(),
		Timeouts:     m.timeouts.Load(),
		Running:      running,
		Backend:      "mock",
	}
}

// Ensure MockSink implements SinkWithStats.
var _ SinkWithStats = (*MockSink)(nil)
