package inference

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoAPIKey = errors.New("inference: DeepSeek needs an API key")
	ErrNoModel  = errors.New("inference: model required")

	// ErrNoChoices is returned when a completion comes back empty.
	ErrNoChoices = errors.New("inference: completion has no choices")

	// ErrProviderUnavailable is returned by an empty Chain and an
	// unconfigured Mock.
	ErrProviderUnavailable = errors.New("inference: no endpoint configured")

	// ErrAllProvidersFailed wraps the per-endpoint errors when no endpoint
	// in a Chain produced a reply.
	ErrAllProvidersFailed = errors.New("inference: no endpoint answered")
)

// APIError is a non-2xx answer from a chat completions endpoint.
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
	return fmt.Sprintf("inference: %s returned %s: %s", e.Provider, status, e.Message)
}

// IsUnauthorized reports a missing or rejected API key.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsRetryable reports rate limiting and server-side failures.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ProviderError tags a transport or decoding failure with its endpoint.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return "inference: " + e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// WrapError tags err with provider. A nil err stays nil.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}
