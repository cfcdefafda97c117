package transcribe

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoURL is returned when the HTTP provider has no endpoint.
	ErrNoURL = errors.New("transcribe: endpoint URL required")

	// ErrNoCredentials is returned when the Google provider has neither an
	// API key nor default credentials.
	ErrNoCredentials = errors.New("transcribe: credentials required")

	// ErrEmptyAudio is returned for a recording without samples.
	ErrEmptyAudio = errors.New("transcribe: empty audio")
)

// APIError represents an error response from a transcription API.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the response body or API error message.
	Message string

	// Provider identifies which provider returned the error.
	Provider string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("transcribe [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}
