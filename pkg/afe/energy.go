package afe

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voicebox/pkg/audioio"
)

// Energy is a software front end. Voice activity comes from RMS energy with
// hysteresis, the wake word is raised by TriggerWake (or by speech onset
// when WakeOnSpeech is set), and commands are resolved by TriggerCommand.
type Energy struct {
	cfg    *Config
	logger *slog.Logger

	frames chan []int16
	done   chan struct{}
	closed atomic.Bool

	feedMu  sync.Mutex
	pending []int16

	mu          sync.Mutex
	wakeEnabled bool
	wakePending bool
	command     *int
	results     []int
	cleanedAt   time.Time
	now         func() time.Time

	// fetch side, owned by the single Fetch caller
	vad      vadState
	preroll  [][]int16
	maxRoll  int
	cacheBuf []int16
	out      FetchResult

	overruns atomic.Int64
	fetched  atomic.Int64
}

// NewEnergy creates a software front end.
func NewEnergy(opts ...Option) (*Energy, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 1
	}

	frameDur := time.Duration(cfg.FetchChunkSize) * time.Second / time.Duration(cfg.SampleRate)
	maxRoll := 0
	if frameDur > 0 {
		maxRoll = int(cfg.PreRoll / frameDur)
	}

	return &Energy{
		cfg:         cfg,
		logger:      cfg.Logger.With("component", "afe.energy"),
		frames:      make(chan []int16, cfg.Queue),
		done:        make(chan struct{}),
		wakeEnabled: true,
		now:         time.Now,
		vad: vadState{
			speechThreshold:  cfg.SpeechThreshold,
			silenceThreshold: cfg.SilenceThreshold,
			speechFrames:     cfg.SpeechFrames,
			silenceFrames:    cfg.SilenceFrames,
		},
		maxRoll: maxRoll,
	}, nil
}

func (e *Energy) FeedChunkSize() int  { return e.cfg.FeedChunkSize }
func (e *Energy) FeedChannels() int   { return e.cfg.FeedChannels }
func (e *Energy) FetchChunkSize() int { return e.cfg.FetchChunkSize }
func (e *Energy) SampleRate() int     { return e.cfg.SampleRate }

// Feed downmixes samples to mono and queues complete fetch frames.
func (e *Energy) Feed(samples []int16) error {
	if e.closed.Load() {
		return ErrClosed
	}
	want := e.cfg.FeedChunkSize * e.cfg.FeedChannels
	if len(samples) != want {
		return fmt.Errorf("%w: got %d samples, want %d", ErrBadFeed, len(samples), want)
	}

	mono := audioio.DownmixToMono(samples, e.cfg.FeedChannels)

	e.feedMu.Lock()
	defer e.feedMu.Unlock()

	e.pending = append(e.pending, mono...)
	size := e.cfg.FetchChunkSize
	for len(e.pending) >= size {
		frame := make([]int16, size)
		copy(frame, e.pending[:size])
		e.pending = e.pending[size:]
		e.enqueue(frame)
	}
	if len(e.pending) == 0 {
		e.pending = e.pending[:0:0]
	}
	return nil
}

func (e *Energy) enqueue(frame []int16) {
	for {
		select {
		case e.frames <- frame:
			return
		default:
		}
		// drop the oldest frame so capture never blocks
		select {
		case <-e.frames:
			if n := e.overruns.Add(1); n == 1 || n%100 == 0 {
				e.logger.Warn("frame queue full, dropping audio", "overruns", n)
			}
		default:
		}
	}
}

// Fetch waits up to FetchTimeout for the next frame and runs VAD and wake
// detection on it. The returned result is valid until the next Fetch.
func (e *Energy) Fetch() (*FetchResult, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	timer := time.NewTimer(e.cfg.FetchTimeout)
	defer timer.Stop()

	var frame []int16
	select {
	case <-e.done:
		return nil, ErrClosed
	case frame = <-e.frames:
	case <-timer.C:
		return nil, transient("no frame within %v", e.cfg.FetchTimeout)
	}
	e.fetched.Add(1)

	wasSpeech := e.vad.inSpeech
	isSpeech := e.vad.update(audioio.RMS(frame))
	onset := isSpeech && !wasSpeech

	e.out = FetchResult{Data: frame, OK: true}
	if isSpeech {
		e.out.VAD = Speech
	}

	if onset {
		e.cacheBuf = e.cacheBuf[:0]
		for _, f := range e.preroll {
			e.cacheBuf = append(e.cacheBuf, f...)
		}
		e.preroll = e.preroll[:0]
		e.out.Cache = e.cacheBuf
	} else if !isSpeech && e.maxRoll > 0 {
		if len(e.preroll) == e.maxRoll {
			copy(e.preroll, e.preroll[1:])
			e.preroll = e.preroll[:e.maxRoll-1]
		}
		e.preroll = append(e.preroll, frame)
	}

	e.mu.Lock()
	if e.wakeEnabled && (e.wakePending || (e.cfg.WakeOnSpeech && onset)) {
		e.out.WakeDetected = true
		e.wakePending = false
	}
	e.mu.Unlock()

	return &e.out, nil
}

// EnableWakeNet turns wake detection on.
func (e *Energy) EnableWakeNet() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wakeEnabled = true
	return nil
}

// DisableWakeNet turns wake detection off and drops any pending trigger.
func (e *Energy) DisableWakeNet() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wakeEnabled = false
	e.wakePending = false
	return nil
}

// WakeEnabled reports whether wake detection is on.
func (e *Energy) WakeEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wakeEnabled
}

// TriggerWake raises the wake flag on the next fetched frame.
func (e *Energy) TriggerWake() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.wakeEnabled {
		return ErrWakeDisabled
	}
	e.wakePending = true
	e.logger.Info("wake triggered")
	return nil
}

// TriggerCommand makes the next Detect report id.
func (e *Energy) TriggerCommand(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.command = &id
	e.logger.Info("command triggered", "id", id)
}

// Detect resolves a pending command, accepts speech when CommandOnSpeech is
// set, or times out CommandTimeout after the last Clean.
func (e *Energy) Detect(frame []int16) (DetectState, error) {
	if e.closed.Load() {
		return NoMatch, ErrClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.command != nil {
		e.results = []int{*e.command}
		e.command = nil
		return Detected, nil
	}
	if e.cfg.CommandOnSpeech && audioio.RMS(frame) >= e.cfg.SpeechThreshold {
		e.results = []int{0}
		return Detected, nil
	}
	if !e.cleanedAt.IsZero() && e.now().Sub(e.cleanedAt) >= e.cfg.CommandTimeout {
		e.cleanedAt = time.Time{}
		return Timeout, nil
	}
	return NoMatch, nil
}

// Results returns the ids from the last Detected outcome.
func (e *Energy) Results() ([]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.results...), nil
}

// Clean resets the command matcher and restarts its timeout.
func (e *Energy) Clean() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = nil
	e.command = nil
	e.cleanedAt = e.now()
	return nil
}

// Overruns returns the number of frames dropped because Fetch fell behind.
func (e *Energy) Overruns() int64 {
	return e.overruns.Load()
}

// Close releases the engine. Blocked Fetch calls return ErrClosed.
func (e *Energy) Close() error {
	if e.closed.CompareAndSwap(false, true) {
		close(e.done)
	}
	return nil
}

var _ FrontEnd = (*Energy)(nil)

// vadState is an RMS voice activity detector with hysteresis.
type vadState struct {
	speechThreshold  float64
	silenceThreshold float64
	speechFrames     int
	silenceFrames    int

	inSpeech     bool
	speechCount  int
	silenceCount int
}

func (v *vadState) update(level float64) bool {
	if v.inSpeech {
		if level < v.silenceThreshold {
			v.silenceCount++
			if v.silenceCount >= v.silenceFrames {
				v.inSpeech = false
				v.silenceCount = 0
			}
		} else {
			v.silenceCount = 0
		}
	} else {
		if level >= v.speechThreshold {
			v.speechCount++
			if v.speechCount >= v.speechFrames {
				v.inSpeech = true
				v.speechCount = 0
			}
		} else {
			v.speechCount = 0
		}
	}
	return v.inSpeech
}
