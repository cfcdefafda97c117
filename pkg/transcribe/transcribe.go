// Package transcribe turns finished WAV recordings into text.
//
// Two providers are available: HTTP posts the file to a transcription
// server as multipart form data, Google calls Cloud Speech-to-Text.
package transcribe

import (
	"context"
	"encoding/json"
	"strings"
)

// Provider transcribes a WAV file.
type Provider interface {
	// Transcribe returns the recognized text for the recording at path.
	// An empty string means nothing was recognized.
	Transcribe(ctx context.Context, path string) (string, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}

// CleanTranscript trims whitespace and surrounding quotes from a server
// response. A body that is a JSON string is decoded first so escaped
// characters come through intact.
func CleanTranscript(body string) string {
	s := strings.TrimSpace(body)
	if strings.HasPrefix(s, `"`) {
		var decoded string
		if json.Unmarshal([]byte(s), &decoded) == nil {
			return strings.TrimSpace(decoded)
		}
	}
	return strings.Trim(s, `"`)
}
