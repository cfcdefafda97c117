package tts_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicebox/pkg/tts"
)

type wsReply struct {
	Audio   string `json:"audio,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    int    `json:"code,omitempty"`
}

type wsLog struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (l *wsLog) add(m map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
}

func (l *wsLog) all() []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]map[string]any(nil), l.msgs...)
}

func elevenLabsServer(t *testing.T, replies []wsReply) (*httptest.Server, *wsLog) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	received := &wsLog{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "test-key" {
			t.Errorf("xi-api-key = %q", r.Header.Get("xi-api-key"))
		}
		if r.URL.Path != "/voice-1/stream-input" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != "pcm_16000" {
			t.Errorf("output_format = %s", got)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received.add(msg)
			if msg["text"] == "" {
				break
			}
		}
		for _, reply := range replies {
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
		conn.ReadMessage()
	}))
	t.Cleanup(server.Close)
	return server, received
}

func newTestElevenLabs(t *testing.T, server *httptest.Server) *tts.ElevenLabs {
	t.Helper()
	p, err := tts.NewElevenLabs(
		tts.WithAPIKey("test-key"),
		tts.WithVoice("voice-1"),
		tts.WithBaseURL("ws"+strings.TrimPrefix(server.URL, "http")),
	)
	if err != nil {
		t.Fatalf("NewElevenLabs: %v", err)
	}
	return p
}

func TestElevenLabsStream(t *testing.T) {
	chunk1 := []byte{1, 0, 2, 0}
	chunk2 := []byte{3, 0}
	server, received := elevenLabsServer(t, []wsReply{
		{Audio: base64.StdEncoding.EncodeToString(chunk1)},
		{Audio: base64.StdEncoding.EncodeToString(chunk2)},
		{IsFinal: true},
	})
	p := newTestElevenLabs(t, server)

	result, err := p.Synthesize(context.Background(), "你好")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(result.Audio) != string(append(chunk1, chunk2...)) {
		t.Errorf("audio = %v", result.Audio)
	}
	if result.Format.SampleRate != 16000 {
		t.Errorf("rate = %d", result.Format.SampleRate)
	}

	msgs := received.all()
	if len(msgs) != 3 {
		t.Fatalf("received %d messages, want BOS, text, EOS", len(msgs))
	}
	if msgs[0]["text"] != " " || msgs[0]["voice_settings"] == nil {
		t.Errorf("BOS = %v", msgs[0])
	}
	if msgs[1]["text"] != "你好 " {
		t.Errorf("text = %v", msgs[1])
	}
	if msgs[2]["text"] != "" {
		t.Errorf("EOS = %v", msgs[2])
	}
}

func TestElevenLabsServerError(t *testing.T) {
	server, _ := elevenLabsServer(t, []wsReply{
		{Message: "Invalid API key", Error: "auth_error", Code: 1008},
	})
	p := newTestElevenLabs(t, server)

	_, err := p.Synthesize(context.Background(), "你好")
	var apiErr *tts.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Code != "auth_error" || apiErr.Message != "Invalid API key" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestElevenLabsRejectedHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()
	p := newTestElevenLabs(t, server)

	_, err := p.Stream(context.Background(), "你好")
	var apiErr *tts.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsForbidden() {
		t.Fatalf("err = %v", err)
	}
}

func TestNewElevenLabsRequiresVoice(t *testing.T) {
	if _, err := tts.NewElevenLabs(tts.WithAPIKey("k")); !errors.Is(err, tts.ErrNoVoiceID) {
		t.Errorf("err = %v", err)
	}
}
