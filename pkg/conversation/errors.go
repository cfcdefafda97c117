package conversation

import "errors"

// Sentinel errors for the conversation package.
var (
	// ErrNoBus is returned when the worker has no dispatch bus.
	ErrNoBus = errors.New("conversation: dispatch bus is required")

	// ErrNoTranscriber is returned when no transcription provider is set.
	ErrNoTranscriber = errors.New("conversation: transcriber is required")

	// ErrNoLLM is returned when no conversation context is set.
	ErrNoLLM = errors.New("conversation: llm session is required")

	// ErrNoSpeaker is returned when no speech output is set.
	ErrNoSpeaker = errors.New("conversation: speaker is required")

	// ErrNoSystemPrompt is returned when the system prompt is empty.
	ErrNoSystemPrompt = errors.New("conversation: system prompt is required")
)
