package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-voicebox/pkg/afe"
	"github.com/teslashibe/go-voicebox/pkg/dispatch"
	"github.com/teslashibe/go-voicebox/pkg/recorder"
)

// At 1024 Hz with 256 sample frames there are 4 frames per second, so a
// one second silence window is 4 frames.
const (
	testRate  = 1024
	testFrame = 256
)

type harness struct {
	t   *testing.T
	fe  *afe.Scripted
	rec *recorder.Segmenter
	bus *dispatch.Bus
	m   *Machine
	dir string

	transitions []string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, dir: t.TempDir()}

	h.fe = afe.NewScripted()
	h.fe.Rate = testRate
	h.fe.FetchSize = testFrame

	rec, err := recorder.New(recorder.WithDir(h.dir), recorder.WithSampleRate(testRate))
	if err != nil {
		t.Fatalf("recorder.New: %v", err)
	}
	h.rec = rec
	h.bus = dispatch.NewBus()

	base := []Option{
		WithSilenceSeconds(1),
		WithRetryDelay(0),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithHooks(Hooks{
			OnStateChange: func(from, to State, reason string) {
				h.transitions = append(h.transitions, from.String()+"->"+to.String())
			},
		}),
	}
	m, err := New(h.fe, h.rec, h.bus, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.m = m
	return h
}

// run pushes steps and executes exactly one machine step per script entry.
func (h *harness) run(steps ...afe.Step) {
	h.t.Helper()
	h.fe.Push(steps...)
	for range steps {
		if err := h.m.Step(context.Background()); err != nil {
			h.t.Fatalf("Step: %v", err)
		}
	}
}

func (h *harness) control() []dispatch.ControlMessage {
	var out []dispatch.ControlMessage
	for {
		msg, ok, _ := h.bus.Control.TryRecv()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

func silence(n int) []afe.Step {
	steps := make([]afe.Step, n)
	for i := range steps {
		steps[i] = afe.SilenceStep(testFrame)
	}
	return steps
}

func TestSilenceThreshold(t *testing.T) {
	tests := []struct {
		rate, frame, secs, want int
	}{
		{16000, 256, 2, 126},
		{16000, 512, 2, 62},
		{16000, 160, 1, 100},
		{1024, 256, 1, 4},
		{16000, 0, 2, 0},
	}
	for _, tt := range tests {
		if got := SilenceThreshold(tt.rate, tt.frame, tt.secs); got != tt.want {
			t.Errorf("SilenceThreshold(%d, %d, %d) = %d, want %d", tt.rate, tt.frame, tt.secs, got, tt.want)
		}
	}
}

func TestMachine_WakeCommandRecordDispatch(t *testing.T) {
	h := newHarness(t)
	h.fe.Detections = []afe.DetectState{afe.NoMatch, afe.Detected}

	h.run(afe.WakeStep(testFrame))
	if h.m.State() != CommandConfirming {
		t.Fatalf("after wake: %v", h.m.State())
	}
	if h.fe.WakeEnabled() {
		t.Error("wake net should be disabled while confirming")
	}
	if h.fe.CallCount("Clean") != 1 {
		t.Error("command matcher should be reset on wake")
	}

	h.run(afe.SilenceStep(testFrame), afe.SilenceStep(testFrame))
	if h.m.State() != Recording {
		t.Fatalf("after command: %v", h.m.State())
	}

	msgs := h.control()
	if len(msgs) != 1 || msgs[0].Kind != dispatch.RestartSession {
		t.Fatalf("control = %v, want a single RestartSession", msgs)
	}

	h.run(afe.SpeechStep(testFrame, 100), afe.SpeechStep(testFrame, 200))
	h.run(silence(3)...)
	if h.m.State() != Recording {
		t.Fatal("three silent frames should not end the recording")
	}
	h.run(afe.SilenceStep(testFrame))

	if h.m.State() != WakeWordDetecting {
		t.Fatalf("after silence: %v", h.m.State())
	}
	if !h.fe.WakeEnabled() {
		t.Error("wake net should be re-enabled")
	}

	msgs = h.control()
	want := filepath.Join(h.dir, "audio0.wav")
	if len(msgs) != 1 || msgs[0].Kind != dispatch.TranscribeFile || msgs[0].Path != want {
		t.Fatalf("control = %v, want TranscribeFile(%s)", msgs, want)
	}

	stats := h.m.Stats()
	if stats.Dispatched != 1 || stats.Wakes != 1 {
		t.Errorf("Stats = %+v", stats)
	}

	wantTransitions := []string{
		"wake_word_detecting->command_confirming",
		"command_confirming->recording",
		"recording->wake_word_detecting",
	}
	if len(h.transitions) != len(wantTransitions) {
		t.Fatalf("transitions = %v", h.transitions)
	}
	for i := range wantTransitions {
		if h.transitions[i] != wantTransitions[i] {
			t.Errorf("transition %d = %s, want %s", i, h.transitions[i], wantTransitions[i])
		}
	}
}

func TestMachine_DispatchLogsRecordingAge(t *testing.T) {
	var logs bytes.Buffer
	h := newHarness(t,
		WithSkipCommandConfirm(true),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	h.run(afe.WakeStep(testFrame), afe.SpeechStep(testFrame, 100))
	h.run(silence(4)...)

	var line string
	for _, l := range strings.Split(logs.String(), "\n") {
		if strings.Contains(l, "recording dispatched") {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("no dispatch log in:\n%s", logs.String())
	}
	if !strings.Contains(line, "open_for=") {
		t.Errorf("dispatch log = %q", line)
	}
}

func TestMachine_RecordingIncludesPreRoll(t *testing.T) {
	h := newHarness(t, WithSkipCommandConfirm(true))
	h.run(afe.WakeStep(testFrame))

	onset := afe.SpeechStep(testFrame, 7)
	onset.Result.Cache = make([]int16, 3*testFrame)
	h.run(onset)

	var samples int64
	h.m.cfg.Hooks.OnRecordingDispatched = func(index int, path string, n int64) { samples = n }
	h.run(silence(4)...)

	if samples != 4*testFrame {
		t.Errorf("dispatched %d samples, want cache plus frame = %d", samples, 4*testFrame)
	}
}

func TestMachine_CommandTimeout(t *testing.T) {
	h := newHarness(t)
	h.fe.Detections = []afe.DetectState{afe.NoMatch, afe.Timeout}

	h.run(afe.WakeStep(testFrame), afe.SilenceStep(testFrame), afe.SilenceStep(testFrame))

	if h.m.State() != WakeWordDetecting {
		t.Fatalf("state = %v", h.m.State())
	}
	if !h.fe.WakeEnabled() {
		t.Error("wake net should be re-enabled after timeout")
	}
	if msgs := h.control(); len(msgs) != 0 {
		t.Errorf("timeout should not send control messages, got %v", msgs)
	}
	if h.m.Stats().CommandTimeouts != 1 {
		t.Error("timeout not counted")
	}
}

func TestMachine_EmptyRecordingNotDispatched(t *testing.T) {
	h := newHarness(t, WithSkipCommandConfirm(true))

	h.run(afe.WakeStep(testFrame))
	h.control()
	h.run(silence(4)...)

	if h.m.State() != WakeWordDetecting {
		t.Fatalf("state = %v", h.m.State())
	}
	if msgs := h.control(); len(msgs) != 0 {
		t.Fatalf("empty recording dispatched: %v", msgs)
	}
	if h.m.Stats().Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", h.m.Stats().Discarded)
	}
}

func TestMachine_SpeechResetsSilence(t *testing.T) {
	h := newHarness(t, WithSkipCommandConfirm(true))
	h.run(afe.WakeStep(testFrame))

	for i := 0; i < 3; i++ {
		h.run(afe.SpeechStep(testFrame, 1))
		h.run(silence(3)...)
		if h.m.State() != Recording {
			t.Fatalf("round %d: recording ended early", i)
		}
		if got := h.m.Stats().SilenceFrames; got != 3 {
			t.Errorf("round %d: SilenceFrames = %d, want 3", i, got)
		}
	}

	h.run(afe.SilenceStep(testFrame))
	if h.m.State() != WakeWordDetecting {
		t.Fatal("fourth consecutive silent frame should end the recording")
	}
	if h.m.Stats().SilenceFrames != 0 {
		t.Error("silence counter should reset at the threshold")
	}
}

func TestMachine_ExitPhraseDuringRecording(t *testing.T) {
	h := newHarness(t, WithSkipCommandConfirm(true))
	h.run(afe.WakeStep(testFrame), afe.SpeechStep(testFrame, 1))
	h.control()

	h.bus.Response.Send(DefaultExitPhrase)
	h.run(afe.SpeechStep(testFrame, 1))

	if h.m.State() != WakeWordDetecting {
		t.Fatalf("state = %v", h.m.State())
	}
	if !h.fe.WakeEnabled() {
		t.Error("wake net should be re-enabled")
	}
	if h.rec.Current() != nil {
		t.Error("recording should be finalized")
	}
	if msgs := h.control(); len(msgs) != 0 {
		t.Errorf("exit phrase should not dispatch, got %v", msgs)
	}

	stats := h.m.Stats()
	if stats.Exits != 1 || stats.Discarded != 1 {
		t.Errorf("Stats = %+v", stats)
	}

	// the next recording gets a fresh index
	h.run(afe.WakeStep(testFrame))
	if cur := h.rec.Current(); cur == nil || cur.Index() != 1 {
		t.Fatalf("next recording = %v, want index 1", cur)
	}
}

func TestMachine_ResponsesOutsideRecordingAreDropped(t *testing.T) {
	h := newHarness(t)

	h.bus.Response.Send(DefaultExitPhrase)
	h.run(afe.SilenceStep(testFrame))

	if h.m.State() != WakeWordDetecting {
		t.Fatalf("state = %v", h.m.State())
	}
	if h.m.Stats().DroppedResponses != 1 || h.m.Stats().Exits != 0 {
		t.Errorf("Stats = %+v", h.m.Stats())
	}
	if h.bus.Response.Len() != 0 {
		t.Error("response should be consumed")
	}
}

func TestMachine_NonExitResponseKeepsRecording(t *testing.T) {
	h := newHarness(t, WithSkipCommandConfirm(true))
	h.run(afe.WakeStep(testFrame))

	var seen []string
	h.m.cfg.Hooks.OnResponse = func(resp string, state State) { seen = append(seen, resp) }

	h.bus.Response.Send("今天天气怎么样")
	h.bus.Response.Send("再见吧")
	h.run(afe.SpeechStep(testFrame, 1), afe.SpeechStep(testFrame, 1))

	if h.m.State() != Recording {
		t.Fatalf("state = %v, only the exact exit phrase ends the conversation", h.m.State())
	}
	if len(seen) != 2 {
		t.Errorf("responses seen = %v, want one per step", seen)
	}
	if cur := h.rec.Current(); cur == nil || cur.Samples() != 2*testFrame {
		t.Error("speech frames should still be recorded")
	}
}

func TestMachine_StaleResponsesDroppedOnNewConversation(t *testing.T) {
	h := newHarness(t, WithSkipCommandConfirm(true))

	h.bus.Response.Send("old answer")
	h.bus.Response.Send(DefaultExitPhrase)
	h.bus.Response.Send(DefaultExitPhrase)
	h.run(afe.WakeStep(testFrame))

	if h.m.State() != Recording {
		t.Fatalf("state = %v", h.m.State())
	}
	h.run(afe.SpeechStep(testFrame, 1))
	if h.m.State() != Recording {
		t.Fatal("a stale exit phrase ended the new conversation")
	}
}

func TestMachine_SkipCommandConfirm(t *testing.T) {
	h := newHarness(t, WithSkipCommandConfirm(true))
	h.run(afe.WakeStep(testFrame))

	if h.m.State() != Recording {
		t.Fatalf("state = %v", h.m.State())
	}
	if h.fe.CallCount("Detect") != 0 {
		t.Error("command matcher should not run")
	}
	msgs := h.control()
	if len(msgs) != 1 || msgs[0].Kind != dispatch.RestartSession {
		t.Errorf("control = %v, want RestartSession", msgs)
	}
}

func TestMachine_Continuous(t *testing.T) {
	h := newHarness(t, WithSkipCommandConfirm(true), WithContinuous(true))
	h.run(afe.WakeStep(testFrame))
	h.control()

	h.run(afe.SpeechStep(testFrame, 1))
	h.run(silence(4)...)

	if h.m.State() != Recording {
		t.Fatalf("continuous mode left recording: %v", h.m.State())
	}
	msgs := h.control()
	if len(msgs) != 1 || msgs[0].Path != filepath.Join(h.dir, "audio0.wav") {
		t.Fatalf("control = %v", msgs)
	}
	cur := h.rec.Current()
	if cur == nil || cur.Index() != 1 {
		t.Fatalf("next recording should already be open, got %v", cur)
	}

	// silence with nothing recorded keeps the same recording open
	h.run(silence(8)...)
	if msgs := h.control(); len(msgs) != 0 {
		t.Errorf("empty recording dispatched: %v", msgs)
	}
	if h.rec.Current() != cur {
		t.Error("empty recording should be kept")
	}

	h.bus.Response.Send(DefaultExitPhrase)
	h.run(afe.SilenceStep(testFrame))
	if h.m.State() != WakeWordDetecting {
		t.Fatalf("exit phrase should end the conversation, state = %v", h.m.State())
	}
}

func TestMachine_IndicesStrictlyIncrease(t *testing.T) {
	h := newHarness(t, WithSkipCommandConfirm(true))

	var indices []int
	h.m.cfg.Hooks.OnRecordingStarted = func(index int, path string) { indices = append(indices, index) }

	for i := 0; i < 3; i++ {
		h.run(afe.WakeStep(testFrame), afe.SpeechStep(testFrame, 1))
		h.run(silence(4)...)
	}
	h.run(afe.WakeStep(testFrame))
	h.bus.Response.Send(DefaultExitPhrase)
	h.run(afe.SilenceStep(testFrame))
	h.run(afe.WakeStep(testFrame))

	if len(indices) != 5 {
		t.Fatalf("indices = %v", indices)
	}
	for i := 1; i < len(indices); i++ {
		if indices[i] <= indices[i-1] {
			t.Fatalf("indices not strictly increasing: %v", indices)
		}
	}
}

func TestMachine_TransientErrors(t *testing.T) {
	h := newHarness(t, WithSkipCommandConfirm(true))
	h.run(afe.WakeStep(testFrame))

	var hooked int
	h.m.cfg.Hooks.OnTransientError = func(error) { hooked++ }

	h.run(
		afe.Step{},
		afe.Step{Result: &afe.FetchResult{VAD: afe.Speech, Data: make([]int16, testFrame)}},
		afe.Step{Err: errors.New("engine hiccup")},
	)

	if h.m.State() != Recording {
		t.Fatalf("transient errors changed state to %v", h.m.State())
	}
	if hooked != 3 || h.m.Stats().TransientErrors != 3 {
		t.Errorf("hooked = %d, stats = %+v", hooked, h.m.Stats())
	}
	if h.rec.Current().Samples() != 0 {
		t.Error("failed frames must not be recorded")
	}
}

func TestMachine_TransientBackoff(t *testing.T) {
	h := newHarness(t, WithRetryDelay(30*time.Millisecond))
	h.fe.Push(afe.Step{})

	start := time.Now()
	if err := h.m.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Step returned after %v, want a back-off", elapsed)
	}
}

func TestMachine_ClosedFrontEndStops(t *testing.T) {
	h := newHarness(t)
	h.fe.Push(afe.Step{Err: afe.ErrClosed})

	if err := h.m.Step(context.Background()); !errors.Is(err, afe.ErrClosed) {
		t.Fatalf("Step = %v, want ErrClosed", err)
	}
}

type failingSegmenter struct {
	*recorder.Segmenter
	failOpen int
}

func (f *failingSegmenter) Open() (*recorder.Session, error) {
	if f.failOpen > 0 {
		f.failOpen--
		return nil, &recorder.StorageError{Op: "create", Path: "audio0.wav", Err: errors.New("read-only file system")}
	}
	return f.Segmenter.Open()
}

func TestMachine_StorageErrorReturnsToWake(t *testing.T) {
	fe := afe.NewScripted()
	fe.Rate, fe.FetchSize = testRate, testFrame

	rec, err := recorder.New(recorder.WithDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	seg := &failingSegmenter{Segmenter: rec, failOpen: 1}

	var storageErr error
	m, err := New(fe, seg, dispatch.NewBus(),
		WithSkipCommandConfirm(true),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithHooks(Hooks{OnStorageError: func(err error) { storageErr = err }}),
	)
	if err != nil {
		t.Fatal(err)
	}

	fe.Push(afe.WakeStep(testFrame))
	m.Step(context.Background())

	if m.State() != WakeWordDetecting {
		t.Fatalf("state = %v", m.State())
	}
	if !fe.WakeEnabled() {
		t.Error("wake net should be re-enabled after a storage error")
	}
	if !errors.Is(storageErr, recorder.ErrStorage) {
		t.Errorf("hook error = %v", storageErr)
	}

	// the machine recovers on the next wake
	fe.Push(afe.WakeStep(testFrame))
	m.Step(context.Background())
	if m.State() != Recording {
		t.Fatalf("state after retry = %v", m.State())
	}
}

func TestMachine_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, WithSkipCommandConfirm(true))
	h.fe.Push(afe.WakeStep(testFrame), afe.SpeechStep(testFrame, 1))
	h.fe.Idle = &afe.FetchResult{VAD: afe.Speech, Data: make([]int16, testFrame), OK: true}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}

	if h.rec.Current() != nil {
		t.Error("open recording should be finalized on shutdown")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default: %v", err)
	}
	if _, err := New(afe.NewScripted(), nil, dispatch.NewBus(), WithSilenceSeconds(0)); err == nil {
		t.Error("zero silence window should be rejected")
	}
}
