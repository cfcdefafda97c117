package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	arecordBin = "arecord"
	aplayBin   = "aplay"
)

// pcmArgs builds the raw PCM16 argument list shared by arecord and aplay.
func pcmArgs(cfg Config) []string {
	args := []string{
		"-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
	}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return args
}

// ExecSource captures audio by reading raw PCM from an arecord subprocess.
type ExecSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  *os.File
	running bool
	closed  bool

	// Stats
	readCalls atomic.Int64
	bytesRead atomic.Int64
	timeouts  atomic.Int64
}

// NewExecSource creates a source backed by arecord.
func NewExecSource(cfg Config, logger *slog.Logger) *ExecSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecSource{
		cfg:    cfg,
		logger: logger.With("component", "audioio.exec_source"),
	}
}

// Start launches arecord.
func (s *ExecSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, arecordBin, pcmArgs(s.cfg)...)
	cmd.Stdout = w
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return fmt.Errorf("start %s: %w", arecordBin, err)
	}
	// the child holds its own copy of the write end
	w.Close()

	s.cmd = cmd
	s.stdout = r
	s.running = true

	s.logger.Info("capture started",
		"device", s.cfg.Device,
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
		"pid", cmd.Process.Pid,
	)
	return nil
}

// Read reads up to len(p) bytes, waiting at most timeout.
func (s *ExecSource) Read(p []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	stdout := s.stdout
	running := s.running
	s.mu.Unlock()

	if !running || stdout == nil {
		return 0, ErrNotRunning
	}

	if err := stdout.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, fmt.Errorf("set read deadline: %w", err)
	}

	n, err := stdout.Read(p)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if n == 0 {
			s.timeouts.Add(1)
		}
		err = nil
	}
	if n > 0 {
		s.readCalls.Add(1)
		s.bytesRead.Add(int64(n))
	}
	if err != nil {
		return n, fmt.Errorf("%s read: %w", arecordBin, err)
	}
	return n, nil
}

// Stop terminates arecord.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	stopProcess(s.cmd)
	s.stdout.Close()
	s.stdout = nil
	s.cmd = nil

	s.logger.Info("capture stopped")
	return nil
}

// Config returns the audio configuration.
func (s *ExecSource) Config() Config {
	return s.cfg
}

// Name returns "exec".
func (s *ExecSource) Name() string {
	return string(BackendExec)
}

// Close stops capture and prevents restarts.
func (s *ExecSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns source statistics.
func (s *ExecSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ReadCalls: s.readCalls.Load(),
		BytesRead: s.bytesRead.Load(),
		Timeouts:  s.timeouts.Load(),
		Running:   running,
		Backend:   string(BackendExec),
	}
}

var _ SourceWithStats = (*ExecSource)(nil)

// ExecSink plays audio by writing raw PCM into an aplay subprocess.
type ExecSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   *os.File
	running bool
	closed  bool

	// Stats
	writes       atomic.Int64
	bytesWritten atomic.Int64
	timeouts     atomic.Int64
}

// NewExecSink creates a sink backed by aplay.
func NewExecSink(cfg Config, logger *slog.Logger) *ExecSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.exec_sink"),
	}
}

// Start launches aplay.
func (s *ExecSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, aplayBin, pcmArgs(s.cfg)...)
	cmd.Stdin = r
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return fmt.Errorf("start %s: %w", aplayBin, err)
	}
	r.Close()

	s.cmd = cmd
	s.stdin = w
	s.running = true

	s.logger.Info("playback started",
		"device", s.cfg.Device,
		"sample_rate", s.cfg.SampleRate,
		"pid", cmd.Process.Pid,
	)
	return nil
}

// WriteAll writes p to aplay, failing with ErrTimeout if the pipe does not
// drain within timeout.
func (s *ExecSink) WriteAll(p []byte, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if !s.running || s.stdin == nil {
		return ErrNotRunning
	}

	if err := s.stdin.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	// os.File.Write loops until p is written or an error occurs
	n, err := s.stdin.Write(p)
	s.bytesWritten.Add(int64(n))
	if errors.Is(err, os.ErrDeadlineExceeded) {
		s.timeouts.Add(1)
		return fmt.Errorf("%s wrote %d/%d bytes: %w", aplayBin, n, len(p), ErrTimeout)
	}
	if err != nil {
		return fmt.Errorf("%s write: %w", aplayBin, err)
	}

	s.writes.Add(1)
	return nil
}

// Stop closes aplay's input and terminates it.
func (s *ExecSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	s.stdin.Close()
	s.stdin = nil
	stopProcess(s.cmd)
	s.cmd = nil

	s.logger.Info("playback stopped")
	return nil
}

// Config returns the audio configuration.
func (s *ExecSink) Config() Config {
	return s.cfg
}

// Name returns "exec".
func (s *ExecSink) Name() string {
	return string(BackendExec)
}

// Close stops playback and prevents restarts.
func (s *ExecSink) Close() error {
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
func (s *ExecSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		Writes:       s.writes.Load(),
		BytesWritten: s.bytesWritten.Load(),
		Timeouts:     s.timeouts.Load(),
		Running:      running,
		Backend:      string(BackendExec),
	}
}

var _ SinkWithStats = (*ExecSink)(nil)

func stopProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	cmd.Process.Signal(os.Interrupt)

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		cmd.Process.Kill()
		<-done
	}
}
