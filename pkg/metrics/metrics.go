// Package metrics exposes Prometheus collectors for the voice pipeline and
// a per-turn latency tracker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "voicebox"

// Stage names used for latency and error labels.
const (
	StageTranscribe = "transcribe"
	StageLLM        = "llm"
	StageTTS        = "tts"
)

// Metrics holds all Prometheus collectors for one pipeline. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session state machine
	StateTransitions *prometheus.CounterVec
	State            *prometheus.GaugeVec
	Wakes            prometheus.Counter
	CommandTimeouts  prometheus.Counter
	ExitPhrases      prometheus.Counter
	DroppedResponses prometheus.Counter
	TransientErrors  prometheus.Counter
	StorageErrors    prometheus.Counter

	// Recordings
	RecordingsDispatched prometheus.Counter
	RecordingsDiscarded  *prometheus.CounterVec
	SamplesRecorded      prometheus.Counter
	RecordingDuration    prometheus.Histogram
	FlushFailures        prometheus.Counter

	// Conversation worker
	Turns        *prometheus.CounterVec
	StageLatency *prometheus.HistogramVec
	StageErrors  *prometheus.CounterVec
	ChunkErrors  prometheus.Counter
	TurnLatency  prometheus.Histogram
}

// New creates collectors on a dedicated registry. Go runtime and process
// collectors are registered alongside.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(registry)

	return &Metrics{
		registry: registry,

		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		Wakes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_words_total",
			Help:      "Wake words detected",
		}),
		CommandTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_timeouts_total",
			Help:      "Command confirmations that timed out",
		}),
		ExitPhrases: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exit_phrases_total",
			Help:      "Sessions ended by the exit phrase",
		}),
		DroppedResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_responses_total",
			Help:      "Worker responses received outside a recording",
		}),
		TransientErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_transient_errors_total",
			Help:      "Front end fetch failures that were retried",
		}),
		StorageErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Recording sessions abandoned on storage failure",
		}),

		RecordingsDispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_dispatched_total",
			Help:      "Recordings finalized and sent for transcription",
		}),
		RecordingsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_discarded_total",
			Help:      "Recordings abandoned without transcription",
		}, []string{"reason"}),
		SamplesRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_recorded_total",
			Help:      "PCM samples written to dispatched recordings",
		}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Audio length of dispatched recordings",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 20, 30},
		}),
		FlushFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Durable flushes that failed after a recording closed",
		}),

		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome",
		}, []string{"outcome"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each conversation stage",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
		StageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Failures by conversation stage",
		}, []string{"stage"}),
		ChunkErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_chunk_errors_total",
			Help:      "Speech chunks skipped after a synthesis or playback failure",
		}),
		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from dispatch to the end of playback",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTransition counts a state change and moves the state gauge.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
	m.State.WithLabelValues(from).Set(0)
	m.State.WithLabelValues(to).Set(1)
}

// RecordDispatch records a recording handed to the worker.
func (m *Metrics) RecordDispatch(samples int64, sampleRate int) {
	if m == nil {
		return
	}
	m.RecordingsDispatched.Inc()
	m.SamplesRecorded.Add(float64(samples))
	if sampleRate > 0 {
		m.RecordingDuration.Observe(float64(samples) / float64(sampleRate))
	}
}

// RecordDiscard records an abandoned recording.
func (m *Metrics) RecordDiscard(reason string) {
	if m == nil {
		return
	}
	m.RecordingsDiscarded.WithLabelValues(reason).Inc()
}

// RecordStage observes one stage duration and counts a failure if err is set.
func (m *Metrics) RecordStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.StageErrors.WithLabelValues(stage).Inc()
	}
}

// RecordTurn counts a finished turn and its total duration.
func (m *Metrics) RecordTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.TurnLatency.Observe(d.Seconds())
	}
}

// RecordWake counts a detected wake word.
func (m *Metrics) RecordWake() {
	if m != nil {
		m.Wakes.Inc()
	}
}

// RecordCommandTimeout counts a command window that expired.
func (m *Metrics) RecordCommandTimeout() {
	if m != nil {
		m.CommandTimeouts.Inc()
	}
}

// RecordExit counts a session ended by the exit phrase.
func (m *Metrics) RecordExit() {
	if m != nil {
		m.ExitPhrases.Inc()
	}
}

// RecordDroppedResponse counts a response that arrived outside a recording.
func (m *Metrics) RecordDroppedResponse() {
	if m != nil {
		m.DroppedResponses.Inc()
	}
}

// RecordTransientError counts a retried front end failure.
func (m *Metrics) RecordTransientError() {
	if m != nil {
		m.TransientErrors.Inc()
	}
}

// RecordStorageError counts an abandoned recording session.
func (m *Metrics) RecordStorageError() {
	if m != nil {
		m.StorageErrors.Inc()
	}
}

// RecordFlushFailure counts a failed durable flush.
func (m *Metrics) RecordFlushFailure() {
	if m != nil {
		m.FlushFailures.Inc()
	}
}

// RecordChunkError counts a skipped speech chunk.
func (m *Metrics) RecordChunkError() {
	if m != nil {
		m.ChunkErrors.Inc()
	}
}
