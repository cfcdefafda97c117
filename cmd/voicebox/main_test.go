package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/teslashibe/go-voicebox/internal/config"
	"github.com/teslashibe/go-voicebox/pkg/inference"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "voicebox "+version) {
		t.Errorf("out = %q", out)
	}
}

func TestChunks(t *testing.T) {
	out, err := execute(t, "chunks", "--log-level", "error", "--max", "6", "你好。今天天气很好！")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasSuffix(lines[0], "你好") || !strings.HasSuffix(lines[1], "今天天气很好") {
		t.Errorf("chunks = %q", lines)
	}
}

func TestChunksBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicebox.yaml")
	if err := os.WriteFile(path, []byte("tts:\n  provider: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "chunks", "--config", path, "hi"); err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Errorf("err = %v", err)
	}
}

func TestTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"你好"`))
	}))
	defer server.Close()
	t.Setenv("VOICEBOX_TRANSCRIBE_URL", server.URL)

	wav := filepath.Join(t.TempDir(), "audio0.wav")
	if err := os.WriteFile(wav, wavHeader(), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "transcribe", "--log-level", "error", wav)
	if err != nil {
		t.Fatalf("transcribe: %v\n%s", err, out)
	}
	if !strings.Contains(out, "你好") {
		t.Errorf("out = %q", out)
	}
}

func TestNewTranscriberFieldName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("audio"); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write([]byte(`"你好"`))
	}))
	defer server.Close()

	cfg := config.Default().Transcribe
	cfg.URL = server.URL
	cfg.FieldName = "audio"
	tr, err := newTranscriber(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newTranscriber: %v", err)
	}

	wav := filepath.Join(t.TempDir(), "audio0.wav")
	if err := os.WriteFile(wav, wavHeader(), 0o644); err != nil {
		t.Fatal(err)
	}
	text, err := tr.Transcribe(context.Background(), wav)
	if err != nil || text != "你好" {
		t.Errorf("Transcribe = %q, %v", text, err)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	t.Setenv("VOICEBOX_TRANSCRIBE_URL", "http://127.0.0.1:1/transcribe")
	out, err := execute(t, "transcribe", "--log-level", "error", filepath.Join(t.TempDir(), "missing.wav"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out, "Error:") {
		t.Errorf("out = %q", out)
	}
}

func TestNewLLMFallsBack(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer primary.Close()

	var model string
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if bytes.Contains(body, []byte(`"model":"qwen2.5"`)) {
			model = "qwen2.5"
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"晴天"},"finish_reason":"stop"}]}`))
	}))
	defer fallback.Close()

	cfg := config.Default().LLM
	cfg.BaseURL = primary.URL
	cfg.FallbackBaseURL = fallback.URL
	cfg.FallbackModel = "qwen2.5"

	sess, err := newLLM(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newLLM: %v", err)
	}
	reply, err := sess.SendMessage(context.Background(), "今天天气怎么样", inference.RoleUser)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != "晴天" {
		t.Errorf("reply = %q", reply)
	}
	if model != "qwen2.5" {
		t.Error("fallback request did not use the fallback model")
	}
}

// wavHeader is a 44-byte PCM16 mono 16 kHz header followed by two samples.
func wavHeader() []byte {
	b := []byte("RIFF\x28\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x80\x3e\x00\x00\x00\x7d\x00\x00\x02\x00\x10\x00data\x04\x00\x00\x00")
	return append(b, 0x10, 0x00, 0xf0, 0xff)
}
