// Package conversation runs the conversation worker: it turns dispatched
// recordings into transcripts, asks the LLM for a reply and speaks it.
//
// The worker owns the LLM context. It talks to the session state machine
// only through the dispatch bus: control messages come in, transcripts and
// error strings go out on the response channel.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voicebox/pkg/dispatch"
	"github.com/teslashibe/go-voicebox/pkg/inference"
	"github.com/teslashibe/go-voicebox/pkg/metrics"
	"github.com/teslashibe/go-voicebox/pkg/transcribe"
)

// Stage identifies the part of a turn that failed.
type Stage string

const (
	StageTranscribe Stage = metrics.StageTranscribe
	StageLLM        Stage = metrics.StageLLM
	StageTTS        Stage = metrics.StageTTS
)

// Turn outcomes.
const (
	OutcomeReplied         = "replied"
	OutcomeExit            = "exit"
	OutcomeEmpty           = "empty"
	OutcomeTranscribeError = "transcribe_error"
	OutcomeLLMError        = "llm_error"
	OutcomeSpeechError     = "speech_error"
)

// LLM is the conversation context the worker drives.
// *inference.Session implements it.
type LLM interface {
	Configure(params ...inference.Param)
	Prime(prompt string)
	SendMessage(ctx context.Context, text string, role inference.Role) (string, error)
}

// Speaker plays text aloud. *tts.Player implements it.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Turn is the result of handling one recording.
type Turn struct {
	ID         string              `json:"id"`
	Path       string              `json:"path"`
	Transcript string              `json:"transcript,omitempty"`
	Reply      string              `json:"reply,omitempty"`
	Outcome    string              `json:"outcome"`
	Error      string              `json:"error,omitempty"`
	Latency    metrics.TurnLatency `json:"latency"`
}

// Entry is one line of the running conversation.
type Entry struct {
	TurnID string    `json:"turn_id"`
	Role   string    `json:"role"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// Stats contains worker counters.
type Stats struct {
	Turns            int64 `json:"turns"`
	Replies          int64 `json:"replies"`
	Exits            int64 `json:"exits"`
	EmptyTranscripts int64 `json:"empty_transcripts"`
	TranscribeErrors int64 `json:"transcribe_errors"`
	LLMErrors        int64 `json:"llm_errors"`
	SpeechErrors     int64 `json:"speech_errors"`
	Restarts         int64 `json:"restarts"`
	Speaking         bool  `json:"speaking"`
}

// Worker consumes control messages until shutdown.
type Worker struct {
	bus         *dispatch.Bus
	transcriber transcribe.Provider
	llm         LLM
	speaker     Speaker
	config      Config
	tracker     *metrics.Tracker
	logger      *slog.Logger

	mu      sync.Mutex
	entries []Entry

	turns            atomic.Int64
	replies          atomic.Int64
	exits            atomic.Int64
	emptyTranscripts atomic.Int64
	transcribeErrors atomic.Int64
	llmErrors        atomic.Int64
	speechErrors     atomic.Int64
	restarts         atomic.Int64
	speaking         atomic.Bool
}

// New creates a worker.
func New(bus *dispatch.Bus, tr transcribe.Provider, llm LLM, speaker Speaker, opts ...Option) (*Worker, error) {
	switch {
	case bus == nil:
		return nil, ErrNoBus
	case tr == nil:
		return nil, ErrNoTranscriber
	case llm == nil:
		return nil, ErrNoLLM
	case speaker == nil:
		return nil, ErrNoSpeaker
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Worker{
		bus:         bus,
		transcriber: tr,
		llm:         llm,
		speaker:     speaker,
		config:      cfg,
		tracker:     metrics.NewTracker(),
		logger:      cfg.Logger.With("component", "conversation.worker"),
	}, nil
}

// Run primes the LLM, speaks the greeting and handles control messages
// until Shutdown, ctx cancellation or a closed control channel.
func (w *Worker) Run(ctx context.Context) error {
	w.llm.Configure(
		inference.MaxTokens(w.config.MaxTokens),
		inference.Temperature(w.config.Temperature),
		inference.TopP(w.config.TopP),
	)
	w.llm.Prime(w.config.SystemPrompt)
	w.logger.Info("llm context primed",
		"max_tokens", w.config.MaxTokens,
		"temperature", w.config.Temperature,
		"top_p", w.config.TopP,
	)

	if w.config.Greeting != "" {
		if err := w.speak(ctx, w.config.Greeting); err != nil {
			w.logger.Warn("greeting failed", "error", err)
		}
	}

	for {
		msg, err := w.bus.Control.Recv(ctx)
		if err != nil {
			if errors.Is(err, dispatch.ErrClosed) {
				w.logger.Info("control channel closed, worker stopping")
				return nil
			}
			if ctx.Err() != nil {
				w.logger.Info("worker stopping", "reason", ctx.Err())
				return nil
			}
			return err
		}

		switch msg.Kind {
		case dispatch.TranscribeFile:
			w.handleTranscribe(ctx, msg.Path)
		case dispatch.RestartSession:
			w.restart()
		case dispatch.Shutdown:
			w.logger.Info("shutdown requested, worker stopping")
			return nil
		default:
			w.logger.Warn("unknown control message", "kind", msg.Kind)
		}
	}
}

// restart drops the conversation back to the system prompt.
func (w *Worker) restart() {
	w.llm.Prime(w.config.SystemPrompt)
	w.restarts.Add(1)
	w.logger.Info("conversation restarted")
}

func (w *Worker) handleTranscribe(ctx context.Context, path string) {
	turn := Turn{ID: uuid.NewString(), Path: path}
	w.tracker.Begin(turn.ID)
	w.turns.Add(1)
	logger := w.logger.With("turn_id", turn.ID)
	logger.Info("transcribing", "path", path)

	defer func() {
		turn.Latency = w.tracker.Finish(turn.Outcome)
		w.config.Metrics.RecordTurn(turn.Outcome, turn.Latency.Total)
		logger.Info("turn complete", "outcome", turn.Outcome, "latency", turn.Latency.FormatLatency())
		if w.config.Hooks.OnTurnComplete != nil {
			w.config.Hooks.OnTurnComplete(turn)
		}
	}()

	start := time.Now()
	text, err := w.transcriber.Transcribe(ctx, path)
	w.config.Metrics.RecordStage(metrics.StageTranscribe, time.Since(start), err)
	w.tracker.MarkTranscript()
	if err != nil {
		w.transcribeErrors.Add(1)
		turn.Outcome = OutcomeTranscribeError
		turn.Error = err.Error()
		logger.Error("transcription failed", "error", err)
		w.respond(dispatch.ErrorResponse(err))
		w.addEntry(turn.ID, "error", err.Error())
		w.fireError(turn.ID, StageTranscribe, err)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		w.emptyTranscripts.Add(1)
		turn.Outcome = OutcomeEmpty
		logger.Info("empty transcript")
		return
	}

	turn.Transcript = text
	logger.Info("transcript", "text", text)
	w.respond(text)
	w.addEntry(turn.ID, string(inference.RoleUser), text)
	if w.config.Hooks.OnTranscript != nil {
		w.config.Hooks.OnTranscript(turn.ID, text)
	}

	if text == w.config.ExitPhrase {
		w.exits.Add(1)
		turn.Outcome = OutcomeExit
		if err := w.speak(ctx, w.config.Goodbye); err != nil {
			logger.Warn("goodbye failed", "error", err)
		}
		return
	}

	start = time.Now()
	reply, err := w.llm.SendMessage(ctx, text, inference.RoleUser)
	w.config.Metrics.RecordStage(metrics.StageLLM, time.Since(start), err)
	if err != nil {
		w.llmErrors.Add(1)
		turn.Outcome = OutcomeLLMError
		turn.Error = err.Error()
		logger.Error("llm request failed", "error", err)
		w.fireError(turn.ID, StageLLM, err)
		return
	}
	w.tracker.MarkReply()

	w.replies.Add(1)
	turn.Reply = reply
	turn.Outcome = OutcomeReplied
	logger.Info("reply", "text", reply)
	w.addEntry(turn.ID, string(inference.RoleAssistant), reply)
	if w.config.Hooks.OnReply != nil {
		w.config.Hooks.OnReply(turn.ID, reply)
	}

	start = time.Now()
	err = w.speak(ctx, reply)
	w.config.Metrics.RecordStage(metrics.StageTTS, time.Since(start), err)
	if err != nil {
		w.speechErrors.Add(1)
		turn.Outcome = OutcomeSpeechError
		turn.Error = err.Error()
		logger.Warn("playback incomplete", "error", err)
		w.fireError(turn.ID, StageTTS, err)
	}
}

func (w *Worker) speak(ctx context.Context, text string) error {
	w.speaking.Store(true)
	if w.config.Hooks.OnSpeaking != nil {
		w.config.Hooks.OnSpeaking(true)
	}
	defer func() {
		w.speaking.Store(false)
		if w.config.Hooks.OnSpeaking != nil {
			w.config.Hooks.OnSpeaking(false)
		}
	}()
	return w.speaker.Speak(ctx, text)
}

func (w *Worker) respond(resp string) {
	if err := w.bus.Response.Send(resp); err != nil {
		w.logger.Warn("response not delivered", "error", err)
	}
}

func (w *Worker) fireError(turnID string, stage Stage, err error) {
	if w.config.Hooks.OnError != nil {
		w.config.Hooks.OnError(turnID, stage, err)
	}
}

func (w *Worker) addEntry(turnID, role, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, Entry{TurnID: turnID, Role: role, Text: text, Time: time.Now()})
	if n := w.config.HistorySize; n > 0 && len(w.entries) > n {
		w.entries = w.entries[len(w.entries)-n:]
	}
}

// Recent returns the kept conversation entries, oldest first.
func (w *Worker) Recent() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Tracker returns the per-turn latency tracker.
func (w *Worker) Tracker() *metrics.Tracker {
	return w.tracker
}

// Stats returns worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Turns:            w.turns.Load(),
		Replies:          w.replies.Load(),
		Exits:            w.exits.Load(),
		EmptyTranscripts: w.emptyTranscripts.Load(),
		TranscribeErrors: w.transcribeErrors.Load(),
		LLMErrors:        w.llmErrors.Load(),
		SpeechErrors:     w.speechErrors.Load(),
		Restarts:         w.restarts.Load(),
		Speaking:         w.speaking.Load(),
	}
}
