// Package recorder segments speech into numbered WAV files and makes them
// durable before they are handed to transcription.
package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// FlushFileName is the sentinel created and fsynced at the mount point.
const FlushFileName = "flush.tmp"

const wavFormatPCM = 1

var fileNameRe = regexp.MustCompile(`^audio(\d+)\.wav$`)

// FileName returns the recording file name for idx.
func FileName(idx int) string {
	return fmt.Sprintf("audio%d.wav", idx)
}

// Segmenter allocates recording sessions. At most one session is open at a
// time and indices are never reused.
type Segmenter struct {
	cfg    *Config
	logger *slog.Logger

	mu   sync.Mutex
	next int
	open *Session

	opened        atomic.Int64
	flushFailures atomic.Int64
}

// Stats reports recorder counters.
type Stats struct {
	NextIndex     int   `json:"next_index"`
	Opened        int64 `json:"opened"`
	FlushFailures int64 `json:"flush_failures"`
	Open          bool  `json:"open"`
}

// New creates a Segmenter, creating the recording directory if needed.
func New(opts ...Option) (*Segmenter, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MountPoint == "" {
		cfg.MountPoint = cfg.Dir
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, storageErr("mkdir", cfg.Dir, err)
	}

	s := &Segmenter{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "recorder"),
		next:   cfg.StartIndex,
	}

	if cfg.Resume {
		if last, ok := highestIndex(cfg.Dir); ok && last+1 > s.next {
			s.next = last + 1
		}
	}

	s.logger.Info("recorder ready", "dir", cfg.Dir, "mount", cfg.MountPoint, "next_index", s.next)
	return s, nil
}

func highestIndex(dir string) (int, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, false
	}
	best, found := 0, false
	for _, e := range entries {
		m := fileNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if !found || n > best {
			best, found = n, true
		}
	}
	return best, found
}

// Open allocates the next index and creates its WAV file. The index is
// consumed even when creation fails.
func (s *Segmenter) Open() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open != nil {
		return nil, ErrSessionOpen
	}

	idx := s.next
	s.next++
	path := filepath.Join(s.cfg.Dir, FileName(idx))

	f, err := os.Create(path)
	if err != nil {
		return nil, storageErr("create", path, err)
	}

	enc := wav.NewEncoder(f, s.cfg.SampleRate, s.cfg.BitDepth, s.cfg.Channels, wavFormatPCM)
	format := &audio.Format{NumChannels: s.cfg.Channels, SampleRate: s.cfg.SampleRate}

	sess := &Session{
		seg:    s,
		index:  idx,
		path:   path,
		file:   f,
		enc:    enc,
		buf:    &audio.IntBuffer{Format: format, SourceBitDepth: s.cfg.BitDepth},
		opened: time.Now(),
	}

	// emit the RIFF and data headers so even an empty session is a valid file
	if err := enc.Write(sess.buf); err != nil {
		f.Close()
		return nil, storageErr("write header", path, err)
	}

	s.open = sess
	s.opened.Add(1)
	s.logger.Debug("recording opened", "index", idx, "path", path)
	return sess, nil
}

// Current returns the open session, if any.
func (s *Segmenter) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// CloseAndFlush finalizes sess and then performs the durable flush.
// A flush failure is logged and reported through OnFlushFailure but does
// not fail the call.
func (s *Segmenter) CloseAndFlush(sess *Session) error {
	if err := sess.Close(); err != nil {
		return err
	}
	if err := s.Flush(); err != nil {
		s.flushFailures.Add(1)
		s.logger.Warn("durable flush failed", "mount", s.cfg.MountPoint, "error", err)
		if s.cfg.OnFlushFailure != nil {
			s.cfg.OnFlushFailure(err)
		}
	}
	return nil
}

// Discard finalizes sess without flushing. Unless KeepDiscarded is set the
// file is removed.
func (s *Segmenter) Discard(sess *Session) error {
	err := sess.Close()
	if !s.cfg.KeepDiscarded {
		if rmErr := os.Remove(sess.path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove discarded recording", "path", sess.path, "error", rmErr)
		}
	}
	s.logger.Debug("recording discarded", "index", sess.index, "samples", sess.Samples())
	return err
}

// Flush forces buffered filesystem writes out to the medium by creating,
// syncing and removing a sentinel file at the mount point.
func (s *Segmenter) Flush() error {
	path := filepath.Join(s.cfg.MountPoint, FlushFileName)

	f, err := os.Create(path)
	if err != nil {
		return storageErr("create", path, err)
	}
	syncErr := f.Sync()
	closeErr := f.Close()
	rmErr := os.Remove(path)

	switch {
	case syncErr != nil:
		return storageErr("fsync", path, syncErr)
	case closeErr != nil:
		return storageErr("close", path, closeErr)
	case rmErr != nil:
		return storageErr("remove", path, rmErr)
	}
	return nil
}

// Stats returns recorder counters.
func (s *Segmenter) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		NextIndex:     s.next,
		Opened:        s.opened.Load(),
		FlushFailures: s.flushFailures.Load(),
		Open:          s.open != nil,
	}
}

func (s *Segmenter) release(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == sess {
		s.open = nil
	}
}

// Session is one recording being written.
type Session struct {
	seg    *Segmenter
	index  int
	path   string
	file   *os.File
	enc    *wav.Encoder
	buf    *audio.IntBuffer
	opened time.Time

	mu      sync.Mutex
	samples int64
	closed  bool
}

// Index returns the recording index.
func (r *Session) Index() int { return r.index }

// Path returns the WAV file path.
func (r *Session) Path() string { return r.path }

// Samples returns the number of samples appended so far.
func (r *Session) Samples() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// Duration returns the recorded audio length.
func (r *Session) Duration() time.Duration {
	return time.Duration(r.Samples()) * time.Second / time.Duration(r.buf.Format.SampleRate)
}

// Age returns how long the session has been open.
func (r *Session) Age() time.Duration {
	return time.Since(r.opened)
}

// Append writes samples in arrival order.
func (r *Session) Append(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrSessionClosed
	}

	if cap(r.buf.Data) < len(samples) {
		r.buf.Data = make([]int, len(samples))
	}
	r.buf.Data = r.buf.Data[:len(samples)]
	for i, v := range samples {
		r.buf.Data[i] = int(v)
	}

	if err := r.enc.Write(r.buf); err != nil {
		return storageErr("write", r.path, err)
	}
	r.samples += int64(len(samples))
	return nil
}

// Close finalizes the WAV header and closes the file. Closing twice is a
// no-op.
func (r *Session) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	defer r.seg.release(r)

	encErr := r.enc.Close()
	fileErr := r.file.Close()
	if encErr != nil {
		return storageErr("finalize", r.path, encErr)
	}
	return storageErr("close", r.path, fileErr)
}
