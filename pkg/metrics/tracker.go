package metrics

import (
	"sync"
	"time"
)

// historySize is how many finished turns the tracker keeps.
const historySize = 100

// TurnLatency tracks one conversation turn. All latencies are measured
// from dispatch, the moment the recording was handed to the worker.
type TurnLatency struct {
	TurnID string `json:"turn_id"`

	DispatchTime     time.Time `json:"dispatch_time"`
	TranscriptTime   time.Time `json:"transcript_time"`
	ReplyTime        time.Time `json:"reply_time"`
	PlaybackDoneTime time.Time `json:"playback_done_time"`

	Transcribe time.Duration `json:"transcribe"`
	LLM        time.Duration `json:"llm"`
	Playback   time.Duration `json:"playback"`
	Total      time.Duration `json:"total"`

	Outcome string `json:"outcome"`
}

// Tracker collects per-turn latencies. It is goroutine-safe.
type Tracker struct {
	mu      sync.Mutex
	current TurnLatency
	history []TurnLatency
}

// NewTracker creates a tracker.
func NewTracker() *Tracker {
	return &Tracker{
		history: make([]TurnLatency, 0, historySize),
	}
}

// Begin starts a new turn.
func (t *Tracker) Begin(turnID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = TurnLatency{TurnID: turnID, DispatchTime: time.Now()}
}

// MarkTranscript records when transcription completed.
func (t *Tracker) MarkTranscript() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.TranscriptTime = time.Now()
	t.current.Transcribe = t.current.TranscriptTime.Sub(t.current.DispatchTime)
}

// MarkReply records when the LLM reply arrived.
func (t *Tracker) MarkReply() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.ReplyTime = time.Now()
	if !t.current.TranscriptTime.IsZero() {
		t.current.LLM = t.current.ReplyTime.Sub(t.current.TranscriptTime)
	}
}

// Finish closes the turn with outcome and archives it.
func (t *Tracker) Finish(outcome string) TurnLatency {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.current.Outcome = outcome
	t.current.PlaybackDoneTime = now
	t.current.Total = now.Sub(t.current.DispatchTime)
	if last := t.lastMark(); !last.IsZero() {
		t.current.Playback = now.Sub(last)
	}

	t.history = append(t.history, t.current)
	if len(t.history) > historySize {
		t.history = t.history[1:]
	}

	return t.current
}

// lastMark is the reply time, or the transcript time for turns that
// never reached the LLM. Must be called with mu held.
func (t *Tracker) lastMark() time.Time {
	if !t.current.ReplyTime.IsZero() {
		return t.current.ReplyTime
	}
	return t.current.TranscriptTime
}

// Current returns the turn in progress.
func (t *Tracker) Current() TurnLatency {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Recent returns up to n finished turns, oldest first.
func (t *Tracker) Recent(n int) []TurnLatency {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.history) {
		n = len(t.history)
	}
	out := make([]TurnLatency, n)
	copy(out, t.history[len(t.history)-n:])
	return out
}

// Average returns mean latencies over the archived turns.
func (t *Tracker) Average() TurnLatency {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.history) == 0 {
		return TurnLatency{}
	}

	var avg TurnLatency
	for _, h := range t.history {
		avg.Transcribe += h.Transcribe
		avg.LLM += h.LLM
		avg.Playback += h.Playback
		avg.Total += h.Total
	}

	n := time.Duration(len(t.history))
	avg.Transcribe /= n
	avg.LLM /= n
	avg.Playback /= n
	avg.Total /= n
	return avg
}

// FormatLatency renders the stage latencies on one line.
func (l TurnLatency) FormatLatency() string {
	return formatDuration(l.Transcribe) + " ASR | " +
		formatDuration(l.LLM) + " LLM | " +
		formatDuration(l.Playback) + " TTS | " +
		formatDuration(l.Total) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
