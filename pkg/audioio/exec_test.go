package audioio

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPCMArgs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = "plughw:1,0"

	got := strings.Join(pcmArgs(cfg), " ")
	want := "-q -t raw -f S16_LE -r 16000 -c 1 -D plughw:1,0"
	if got != want {
		t.Errorf("pcmArgs = %q, want %q", got, want)
	}

	cfg.Device = ""
	if strings.Contains(strings.Join(pcmArgs(cfg), " "), "-D") {
		t.Error("empty device should not pass -D")
	}
}

func TestExecSource_ReadBeforeStart(t *testing.T) {
	src := NewExecSource(DefaultConfig(), nil)
	defer src.Close()

	if _, err := src.Read(make([]byte, 640), 10*time.Millisecond); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
	if src.Name() != "exec" {
		t.Errorf("Name() = %q", src.Name())
	}
}

func TestExecSink_WriteBeforeStart(t *testing.T) {
	sink := NewExecSink(DefaultConfig(), nil)
	defer sink.Close()

	if err := sink.WriteAll(make([]byte, 640), 10*time.Millisecond); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
}
