package tts

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"
)

// MockBytesPerChar is how much 16kHz PCM16 silence the default mock
// produces per character: 20ms.
const MockBytesPerChar = 640

// Mock is an offline Provider. By default it answers every chunk with
// silence proportional to its length, which is what the "mock" tts
// setting plays on a board without network access.
type Mock struct {
	// SynthesizeFunc produces the audio for a chunk. Stream plays its
	// result as a single read unless StreamFunc is set.
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)
	StreamFunc     func(ctx context.Context, text string) (AudioStream, error)

	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one Synthesize or Stream call.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock returns a mock that synthesizes silence.
func NewMock() *Mock {
	return &Mock{SynthesizeFunc: silence}
}

// NewFailingMock returns a mock whose every call fails with err.
func NewFailingMock(err error) *Mock {
	return &Mock{Err: err}
}

func silence(_ context.Context, text string) (*AudioResult, error) {
	chars := utf8.RuneCountInString(text)
	return &AudioResult{
		Audio:     make([]byte, chars*MockBytesPerChar),
		Format:    AudioFormat{Encoding: EncodingPCM16, SampleRate: 16000, Channels: 1},
		CharCount: chars,
		Duration:  time.Duration(chars) * 20 * time.Millisecond,
	}, nil
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.record("Synthesize", text)
	return m.synthesize(ctx, text)
}

func (m *Mock) Stream(ctx context.Context, text string) (AudioStream, error) {
	m.record("Stream", text)
	if m.StreamFunc != nil && m.Err == nil {
		return m.StreamFunc(ctx, text)
	}
	res, err := m.synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	return &bufferStream{data: res.Audio, format: res.Format}, nil
}

func (m *Mock) synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.SynthesizeFunc == nil {
		return nil, WrapError("mock", ErrProviderUnavailable)
	}
	return m.SynthesizeFunc(ctx, text)
}

func (m *Mock) Health(ctx context.Context) error { return m.Err }

func (m *Mock) Close() error { return nil }

func (m *Mock) record(method, text string) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: method, Text: text, Time: time.Now()})
	m.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount counts recorded calls to method.
func (m *Mock) CallCount(method string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// bufferStream plays a finished buffer as one read.
type bufferStream struct {
	data   []byte
	done   bool
	format AudioFormat
}

func (s *bufferStream) Read() ([]byte, error) {
	if s.done || len(s.data) == 0 {
		return nil, nil
	}
	s.done = true
	return s.data, nil
}

func (s *bufferStream) Close() error        { return nil }
func (s *bufferStream) Format() AudioFormat { return s.format }

var _ Provider = (*Mock)(nil)
