package tts_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-voicebox/pkg/tts"
)

func TestOpenAIStreamsPCM(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req["response_format"] != "pcm" || req["voice"] != "nova" || req["input"] != "你好" || req["speed"] != 1.25 {
			t.Errorf("request = %v", req)
		}

		// Split mid-sample to exercise alignment.
		w.Write(pcm[:5])
		w.(http.Flusher).Flush()
		w.Write(pcm[5:])
	}))
	defer server.Close()

	p, err := tts.NewOpenAI(
		tts.WithAPIKey("test-key"),
		tts.WithBaseURL(server.URL),
		tts.WithVoice(tts.VoiceNova),
		tts.WithSpeed(1.25),
	)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	defer p.Close()

	result, err := p.Synthesize(context.Background(), "你好")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(result.Audio) != string(pcm[:10]) {
		t.Errorf("audio = %v, want %v", result.Audio, pcm[:10])
	}
	if result.Format.SampleRate != 24000 || result.Format.Encoding != tts.EncodingPCM24 {
		t.Errorf("format = %+v", result.Format)
	}
	if result.CharCount != 2 {
		t.Errorf("chars = %d", result.CharCount)
	}
}

func TestOpenAIRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte{0, 0})
	}))
	defer server.Close()

	p, _ := tts.NewOpenAI(
		tts.WithAPIKey("k"),
		tts.WithBaseURL(server.URL),
		tts.WithRetry(2, time.Millisecond),
	)

	if _, err := p.Synthesize(context.Background(), "hi"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "Incorrect API key", "code": "invalid_api_key"}}`))
	}))
	defer server.Close()

	p, _ := tts.NewOpenAI(
		tts.WithAPIKey("bad"),
		tts.WithBaseURL(server.URL),
		tts.WithRetry(3, time.Millisecond),
	)

	_, err := p.Stream(context.Background(), "hi")
	var apiErr *tts.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if !apiErr.IsForbidden() || apiErr.Code != "invalid_api_key" || apiErr.Message != "Incorrect API key" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOpenAIStreamCloseStopsReads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 8))
	}))
	defer server.Close()

	p, _ := tts.NewOpenAI(tts.WithAPIKey("k"), tts.WithBaseURL(server.URL))
	stream, err := p.Stream(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	stream.Close()

	if _, err := stream.Read(); !errors.Is(err, tts.ErrStreamClosed) {
		t.Errorf("err = %v, want ErrStreamClosed", err)
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := tts.NewOpenAI(); !errors.Is(err, tts.ErrNoAPIKey) {
		t.Errorf("err = %v", err)
	}
}
