package tts

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoAPIKey  = errors.New("tts: missing API key")
	ErrNoVoiceID = errors.New("tts: elevenlabs needs a voice ID")
	ErrBadSpeed  = errors.New("tts: speed must be between 0.25 and 4.0")

	// ErrStreamClosed is returned by Read after Close or cancellation.
	ErrStreamClosed = errors.New("tts: stream closed")

	// ErrProviderUnavailable is returned when there is nothing to speak
	// through, such as an empty Chain.
	ErrProviderUnavailable = errors.New("tts: no provider configured")

	// ErrAllProvidersFailed wraps the per-provider errors when every
	// provider in a Chain refused a chunk.
	ErrAllProvidersFailed = errors.New("tts: no provider could speak")

	// ErrChunksFailed is returned by Player.Speak when chunks were skipped.
	ErrChunksFailed = errors.New("tts: chunks failed")
)

// APIError is a non-2xx answer from a synthesis endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	status := fmt.Sprint(e.StatusCode)
	if e.Code != "" {
		status += " " + e.Code
	}
	return fmt.Sprintf("tts: %s returned %s: %s", e.Provider, status, e.Message)
}

// IsRetryable reports rate limiting and server-side failures.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsForbidden reports a rejected key or a voice the key cannot use.
func (e *APIError) IsForbidden() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// ProviderError tags a transport or decoding failure with its provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return "tts: " + e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// WrapError tags err with provider. A nil err stays nil.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}
