// Package session drives the wake word, command and recording state
// machine on top of the acoustic front end.
//
// The machine runs on its own goroutine. Each iteration fetches one frame,
// polls the response channel once without blocking, then acts on the frame
// according to the current state. Finished recordings leave through the
// control channel; the machine never waits on the conversation worker.
package session

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voicebox/pkg/afe"
	"github.com/teslashibe/go-voicebox/pkg/dispatch"
	"github.com/teslashibe/go-voicebox/pkg/recorder"
)

// State is the machine state.
type State int32

const (
	// WakeWordDetecting waits for the wake word. It is the initial state.
	WakeWordDetecting State = iota
	// CommandConfirming waits for the command matcher.
	CommandConfirming
	// Recording writes speech to the current recording.
	Recording
)

func (s State) String() string {
	switch s {
	case WakeWordDetecting:
		return "wake_word_detecting"
	case CommandConfirming:
		return "command_confirming"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Segmenter is the part of the recorder the machine needs.
type Segmenter interface {
	Open() (*recorder.Session, error)
	CloseAndFlush(s *recorder.Session) error
	Discard(s *recorder.Session) error
}

// Machine is the session state machine.
type Machine struct {
	cfg    *Config
	logger *slog.Logger

	fe  afe.FrontEnd
	rec Segmenter
	bus *dispatch.Bus

	threshold int

	// owned by the Run goroutine
	silence int
	sess    *recorder.Session

	state atomic.Int32

	statsMu sync.Mutex
	stats   Stats
}

// Stats reports machine counters.
type Stats struct {
	State            string `json:"state"`
	SilenceFrames    int    `json:"silence_frames"`
	SilenceThreshold int    `json:"silence_threshold"`
	RecordingIndex   int    `json:"recording_index"`
	Wakes            int64  `json:"wakes"`
	CommandTimeouts  int64  `json:"command_timeouts"`
	Dispatched       int64  `json:"dispatched"`
	Discarded        int64  `json:"discarded"`
	Exits            int64  `json:"exits"`
	TransientErrors  int64  `json:"transient_errors"`
	StorageErrors    int64  `json:"storage_errors"`
	DroppedResponses int64  `json:"dropped_responses"`
}

// New creates a machine in WakeWordDetecting.
func New(fe afe.FrontEnd, rec Segmenter, bus *dispatch.Bus, opts ...Option) (*Machine, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Machine{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "session"),
		fe:        fe,
		rec:       rec,
		bus:       bus,
		threshold: SilenceThreshold(fe.SampleRate(), fe.FetchChunkSize(), cfg.SilenceSeconds),
	}
	m.stats.RecordingIndex = -1
	return m, nil
}

// SilenceThreshold is the number of consecutive silent frames that end a
// recording: round(sampleRate / fetchChunkSize) x silenceSeconds.
func SilenceThreshold(sampleRate, fetchChunkSize, silenceSeconds int) int {
	if fetchChunkSize <= 0 {
		return 0
	}
	perSecond := int(math.Round(float64(sampleRate) / float64(fetchChunkSize)))
	return perSecond * silenceSeconds
}

// State returns the current state. Safe for concurrent use.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Stats returns a snapshot of the machine counters. Safe for concurrent use.
func (m *Machine) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	s := m.stats
	s.State = m.State().String()
	s.SilenceThreshold = m.threshold
	return s
}

// Run steps the machine until ctx is cancelled. An open recording is
// finalized without dispatch on the way out.
func (m *Machine) Run(ctx context.Context) error {
	m.logger.Info("session machine started",
		"state", m.State(),
		"silence_threshold", m.threshold,
		"continuous", m.cfg.Continuous,
		"skip_command_confirm", m.cfg.SkipCommandConfirm,
	)

	for ctx.Err() == nil {
		if err := m.Step(ctx); err != nil {
			m.shutdown()
			return err
		}
	}

	m.shutdown()
	m.logger.Info("session machine stopped")
	return nil
}

func (m *Machine) shutdown() {
	if m.sess != nil {
		m.discard("shutdown")
	}
}

// Step runs one iteration. It returns an error only when the front end is
// closed; every other failure is handled in place.
func (m *Machine) Step(ctx context.Context) error {
	res, err := m.fe.Fetch()
	if err == nil && (res == nil || !res.OK) {
		err = afe.ErrTransient
	}
	if err != nil {
		if errors.Is(err, afe.ErrClosed) {
			return err
		}
		m.transientError(err)
		m.sleep(ctx, m.cfg.RetryDelay)
		return nil
	}

	if m.pollResponse() {
		return nil
	}

	switch m.State() {
	case WakeWordDetecting:
		m.onWakeWordDetecting(res)
	case CommandConfirming:
		m.onCommandConfirming(res)
	case Recording:
		m.onRecording(res)
	}
	return nil
}

// pollResponse takes at most one response. It reports true when the exit
// phrase ended the conversation and the frame should be skipped.
func (m *Machine) pollResponse() bool {
	resp, ok, err := m.bus.Response.TryRecv()
	if err != nil || !ok {
		return false
	}

	state := m.State()
	if h := m.cfg.Hooks.OnResponse; h != nil {
		h(resp, state)
	}

	if state != Recording {
		m.logger.Debug("dropping response outside recording", "state", state, "response", resp)
		m.bump(func(s *Stats) { s.DroppedResponses++ })
		return false
	}

	m.logger.Info("received response", "response", resp)
	if resp != m.cfg.ExitPhrase {
		return false
	}

	m.discard("exit phrase")
	m.bump(func(s *Stats) { s.Exits++ })
	m.enableWakeNet()
	m.transition(WakeWordDetecting, "exit phrase")
	return true
}

func (m *Machine) onWakeWordDetecting(res *afe.FetchResult) {
	if !res.WakeDetected {
		return
	}
	m.bump(func(s *Stats) { s.Wakes++ })

	if err := m.fe.DisableWakeNet(); err != nil {
		m.logger.Warn("disable wake net failed", "error", err)
	}

	if m.cfg.SkipCommandConfirm {
		m.startConversation("wake word detected")
		return
	}

	if err := m.fe.Clean(); err != nil {
		m.logger.Warn("command matcher reset failed", "error", err)
	}
	m.transition(CommandConfirming, "wake word detected")
}

func (m *Machine) onCommandConfirming(res *afe.FetchResult) {
	outcome, err := m.fe.Detect(res.Data)
	if err != nil {
		m.transientError(err)
		return
	}

	switch outcome {
	case afe.Detected:
		ids, err := m.fe.Results()
		if err != nil {
			m.logger.Warn("reading command results failed", "error", err)
		}
		m.logger.Info("command detected", "ids", ids)
		m.startConversation("command detected")
	case afe.Timeout:
		m.bump(func(s *Stats) { s.CommandTimeouts++ })
		m.enableWakeNet()
		m.transition(WakeWordDetecting, "command timeout")
	}
}

// startConversation resets the worker's context, drops responses left
// over from an earlier conversation and opens the first recording.
func (m *Machine) startConversation(reason string) {
	m.send(dispatch.NewRestartSession())

	for {
		resp, ok, _ := m.bus.Response.TryRecv()
		if !ok {
			break
		}
		m.logger.Debug("dropping stale response", "response", resp)
		m.bump(func(s *Stats) { s.DroppedResponses++ })
	}

	if err := m.open(); err != nil {
		m.storageError(err)
		return
	}
	m.silence = 0
	m.transition(Recording, reason)
}

func (m *Machine) onRecording(res *afe.FetchResult) {
	if res.VAD == afe.Speech {
		if m.silence > 0 {
			m.logger.Debug("speech resumed", "silent_frames", m.silence)
		}
		m.silence = 0
		m.setSilence(0)

		if err := m.sess.Append(res.Cache); err != nil {
			m.storageError(err)
			return
		}
		if err := m.sess.Append(res.Data); err != nil {
			m.storageError(err)
		}
		return
	}

	m.silence++
	m.setSilence(m.silence)
	if m.silence < m.threshold {
		return
	}
	m.silence = 0
	m.setSilence(0)

	if m.cfg.Continuous {
		if m.sess.Samples() == 0 {
			m.logger.Debug("silence with empty recording, keeping it open", "index", m.sess.Index())
			return
		}
		if err := m.dispatch(); err != nil {
			m.storageError(err)
			return
		}
		if err := m.open(); err != nil {
			m.storageError(err)
		}
		return
	}

	if m.sess.Samples() == 0 {
		m.discard("no speech")
	} else if err := m.dispatch(); err != nil {
		m.storageError(err)
		return
	}
	m.enableWakeNet()
	m.transition(WakeWordDetecting, "silence")
}

func (m *Machine) open() error {
	sess, err := m.rec.Open()
	if err != nil {
		return err
	}
	m.sess = sess
	m.statsMu.Lock()
	m.stats.RecordingIndex = sess.Index()
	m.statsMu.Unlock()

	m.logger.Info("recording started", "index", sess.Index(), "path", sess.Path())
	if h := m.cfg.Hooks.OnRecordingStarted; h != nil {
		h(sess.Index(), sess.Path())
	}
	return nil
}

// dispatch closes and flushes the current recording, then hands it to the
// worker.
func (m *Machine) dispatch() error {
	sess := m.sess
	m.sess = nil
	if err := m.rec.CloseAndFlush(sess); err != nil {
		return err
	}

	m.send(dispatch.NewTranscribeFile(sess.Path()))
	m.bump(func(s *Stats) { s.Dispatched++ })
	m.logger.Info("recording dispatched",
		"index", sess.Index(),
		"path", sess.Path(),
		"samples", sess.Samples(),
		"duration", sess.Duration(),
		"open_for", sess.Age(),
	)
	if h := m.cfg.Hooks.OnRecordingDispatched; h != nil {
		h(sess.Index(), sess.Path(), sess.Samples())
	}
	return nil
}

func (m *Machine) discard(reason string) {
	sess := m.sess
	if sess == nil {
		return
	}
	m.sess = nil

	if err := m.rec.Discard(sess); err != nil {
		m.logger.Warn("finalizing discarded recording failed", "path", sess.Path(), "error", err)
	}
	m.bump(func(s *Stats) { s.Discarded++ })
	m.logger.Info("recording discarded", "index", sess.Index(), "reason", reason, "samples", sess.Samples())
	if h := m.cfg.Hooks.OnRecordingDiscarded; h != nil {
		h(sess.Index(), sess.Path(), sess.Samples(), reason)
	}
}

func (m *Machine) send(msg dispatch.ControlMessage) {
	if err := m.bus.Control.Send(msg); err != nil {
		m.logger.Error("failed to send control message", "message", msg, "error", err)
	}
}

// storageError abandons the current recording and returns to wake word
// detection.
func (m *Machine) storageError(err error) {
	m.logger.Error("recording storage error", "error", err)
	m.bump(func(s *Stats) { s.StorageErrors++ })
	if h := m.cfg.Hooks.OnStorageError; h != nil {
		h(err)
	}

	m.discard("storage error")
	m.silence = 0
	m.setSilence(0)
	m.enableWakeNet()
	m.transition(WakeWordDetecting, "storage error")
}

func (m *Machine) transientError(err error) {
	m.logger.Debug("front end transient error", "state", m.State(), "error", err)
	m.bump(func(s *Stats) { s.TransientErrors++ })
	if h := m.cfg.Hooks.OnTransientError; h != nil {
		h(err)
	}
}

func (m *Machine) enableWakeNet() {
	if err := m.fe.EnableWakeNet(); err != nil {
		m.logger.Warn("enable wake net failed", "error", err)
	}
}

func (m *Machine) transition(to State, reason string) {
	from := m.State()
	if from == to {
		return
	}
	m.state.Store(int32(to))
	m.logger.Info("state transition", "from", from, "to", to, "reason", reason)
	if h := m.cfg.Hooks.OnStateChange; h != nil {
		h(from, to, reason)
	}
}

func (m *Machine) bump(fn func(*Stats)) {
	m.statsMu.Lock()
	fn(&m.stats)
	m.statsMu.Unlock()
}

func (m *Machine) setSilence(n int) {
	m.statsMu.Lock()
	m.stats.SilenceFrames = n
	m.statsMu.Unlock()
}

func (m *Machine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
