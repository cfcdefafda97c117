package rtp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-voicebox/pkg/audioio"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSink_SendsPacedOpusFrames(t *testing.T) {
	listener := listenUDP(t)

	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendRTP
	cfg.Address = listener.LocalAddr().String()

	sink, err := NewSink(cfg, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	defer sink.Close()

	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 50ms of audio: two full frames plus a padded partial frame
	samples := make([]int16, 800)
	for i := range samples {
		samples[i] = int16((i % 40) * 500)
	}
	if err := sink.WriteAll(audioio.SamplesToBytes(samples), time.Second); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	dec, err := opus.NewDecoder(cfg.SampleRate, 1)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	buf := make([]byte, 1500)
	pcm := make([]int16, 960)
	var prev *rtp.Packet
	for i := 0; i < 3; i++ {
		listener.SetReadDeadline(time.Now().Add(time.Second))
		n, err := listener.Read(buf)
		if err != nil {
			t.Fatalf("read packet %d: %v", i, err)
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.Fatalf("unmarshal packet %d: %v", i, err)
		}

		if pkt.PayloadType != cfg.PayloadType {
			t.Errorf("packet %d payload type = %d, want %d", i, pkt.PayloadType, cfg.PayloadType)
		}
		if i == 0 && !pkt.Marker {
			t.Error("first packet of a talkspurt should carry the marker bit")
		}
		if prev != nil {
			if pkt.SequenceNumber != prev.SequenceNumber+1 {
				t.Errorf("sequence gap: %d after %d", pkt.SequenceNumber, prev.SequenceNumber)
			}
			if pkt.Timestamp-prev.Timestamp != 960 {
				t.Errorf("timestamp step = %d, want 960", pkt.Timestamp-prev.Timestamp)
			}
			if pkt.SSRC != prev.SSRC {
				t.Error("SSRC changed mid-stream")
			}
		}

		decoded, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			t.Fatalf("decode packet %d: %v", i, err)
		}
		if decoded != 320 {
			t.Errorf("packet %d decoded %d samples, want 320", i, decoded)
		}
		prev = pkt
	}

	if got := sink.Packets(); got != 3 {
		t.Errorf("Packets() = %d, want 3", got)
	}
	if stats := sink.Stats(); stats.Writes != 1 || stats.BytesWritten != 1600 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestSink_RegisteredBackend(t *testing.T) {
	listener := listenUDP(t)

	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendRTP
	cfg.Address = listener.LocalAddr().String()

	sink, err := audioio.NewSink(cfg, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	defer sink.Close()

	if sink.Name() != "rtp" {
		t.Errorf("Name() = %q, want rtp", sink.Name())
	}
}

func TestSink_WriteBeforeStart(t *testing.T) {
	cfg := audioio.DefaultConfig()
	cfg.Address = "127.0.0.1:5004"

	sink, err := NewSink(cfg, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	defer sink.Close()

	if err := sink.WriteAll(make([]byte, 640), time.Second); err != audioio.ErrNotRunning {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestNewSink_RequiresAddress(t *testing.T) {
	if _, err := NewSink(audioio.DefaultConfig(), nil); err == nil {
		t.Error("expected error without address")
	}
}
