package transcribe

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	TranscribeFunc func(ctx context.Context, path string) (string, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one Transcribe invocation.
type MockCall struct {
	Path string
	Time time.Time
}

// NewMock returns a mock that always transcribes to text.
func NewMock(text string) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, path string) (string, error) {
			return text, nil
		},
	}
}

// NewMockSequence returns a mock that hands out texts in order, then
// empty strings.
func NewMockSequence(texts ...string) *Mock {
	var mu sync.Mutex
	return &Mock{
		TranscribeFunc: func(ctx context.Context, path string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(texts) == 0 {
				return "", nil
			}
			t := texts[0]
			texts = texts[1:]
			return t, nil
		},
	}
}

// Transcribe calls TranscribeFunc and records the call.
func (m *Mock) Transcribe(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Path: path, Time: time.Now()})
	fn := m.TranscribeFunc
	m.mu.Unlock()

	if fn == nil {
		return "", nil
	}
	return fn(ctx, path)
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Calls returns the recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
