package afe

import (
	"sync"
)

// Step is one scripted Fetch outcome. A nil Result with a nil Err yields a
// transient error, mirroring an engine that returned nothing.
type Step struct {
	Result *FetchResult
	Err    error
}

// Call records one invocation on a Scripted engine.
type Call struct {
	Method string
	Args   []any
}

// Scripted is a deterministic front end that replays a script.
// Fetch pops Steps in order; once exhausted it returns Idle (or a
// transient error when Idle is nil). Detect pops Detections in order and
// returns NoMatch once exhausted.
type Scripted struct {
	Steps      []Step
	Detections []DetectState
	CommandIDs []int
	Idle       *FetchResult

	FeedSize    int
	Channels    int
	FetchSize   int
	Rate        int
	FeedFunc    func(samples []int16) error
	OnExhausted func()

	mu          sync.Mutex
	calls       []Call
	wakeEnabled bool
	exhausted   bool
	fed         [][]int16
	closed      bool
}

// NewScripted creates a scripted engine at 16 kHz with 256 sample frames.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{
		Steps:       steps,
		FeedSize:    256,
		Channels:    1,
		FetchSize:   256,
		Rate:        16000,
		wakeEnabled: true,
	}
}

// SpeechStep returns a Speech frame of n samples with the given value.
func SpeechStep(n int, value int16) Step {
	return Step{Result: &FetchResult{VAD: Speech, Data: fill(n, value), OK: true}}
}

// SilenceStep returns a Silence frame of n zero samples.
func SilenceStep(n int) Step {
	return Step{Result: &FetchResult{VAD: Silence, Data: make([]int16, n), OK: true}}
}

// WakeStep returns a Silence frame with the wake flag set.
func WakeStep(n int) Step {
	return Step{Result: &FetchResult{WakeDetected: true, VAD: Silence, Data: make([]int16, n), OK: true}}
}

func fill(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func (s *Scripted) record(method string, args ...any) {
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

func (s *Scripted) FeedChunkSize() int  { return s.FeedSize }
func (s *Scripted) FeedChannels() int   { return s.Channels }
func (s *Scripted) FetchChunkSize() int { return s.FetchSize }
func (s *Scripted) SampleRate() int     { return s.Rate }

// Feed records the samples.
func (s *Scripted) Feed(samples []int16) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.fed = append(s.fed, append([]int16(nil), samples...))
	fn := s.FeedFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(samples)
	}
	return nil
}

// Fetch pops the next step.
func (s *Scripted) Fetch() (*FetchResult, error) {
	s.mu.Lock()
	s.record("Fetch")

	if len(s.Steps) == 0 {
		first := !s.exhausted
		s.exhausted = true
		idle := s.Idle
		cb := s.OnExhausted
		s.mu.Unlock()

		if first && cb != nil {
			cb()
		}
		if idle == nil {
			return nil, transient("script exhausted")
		}
		return idle.Copy(), nil
	}

	step := s.Steps[0]
	s.Steps = s.Steps[1:]
	s.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	if step.Result == nil {
		return nil, transient("engine returned no result")
	}
	if !step.Result.OK {
		return nil, transient("engine returned a failed result")
	}
	return step.Result, nil
}

func (s *Scripted) EnableWakeNet() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("EnableWakeNet")
	s.wakeEnabled = true
	return nil
}

func (s *Scripted) DisableWakeNet() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DisableWakeNet")
	s.wakeEnabled = false
	return nil
}

// Detect pops the next scripted detection.
func (s *Scripted) Detect(frame []int16) (DetectState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Detect", len(frame))

	if len(s.Detections) == 0 {
		return NoMatch, nil
	}
	d := s.Detections[0]
	s.Detections = s.Detections[1:]
	return d, nil
}

// Results returns CommandIDs.
func (s *Scripted) Results() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Results")
	return append([]int(nil), s.CommandIDs...), nil
}

func (s *Scripted) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Clean")
	return nil
}

func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Close")
	s.closed = true
	return nil
}

// Push appends steps to the script.
func (s *Scripted) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Steps = append(s.Steps, steps...)
	s.exhausted = false
}

// Calls returns the recorded calls, excluding Feed.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times method was called.
func (s *Scripted) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Fed returns a copy of every Feed call's samples.
func (s *Scripted) Fed() [][]int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]int16, len(s.fed))
	copy(out, s.fed)
	return out
}

// WakeEnabled reports the wake net state.
func (s *Scripted) WakeEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakeEnabled
}

// Reset clears recorded calls and fed audio.
func (s *Scripted) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.fed = nil
}

var _ FrontEnd = (*Scripted)(nil)
