package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	fws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, backlog int) *Hub {
	t.Helper()
	h := New("test", backlog, quiet())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func fakeClient(h *Hub, buf int) *Client {
	return &Client{hub: h, send: make(chan Message, buf)}
}

func recv(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		return msg, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}, false
	}
}

func waitClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.ClientCount(); got != want {
		t.Fatalf("ClientCount() = %d, want %d", got, want)
	}
}

func TestHub_FanOut(t *testing.T) {
	h := startHub(t, 0)
	a, b := fakeClient(h, 4), fakeClient(h, 4)
	h.join(a)
	h.join(b)
	waitClients(t, h, 2)

	h.Publish(EventTranscript, map[string]string{"text": "你好"})

	for _, c := range []*Client{a, b} {
		msg, _ := recv(t, c)
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != EventTranscript {
			t.Errorf("type = %s", ev.Type)
		}
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := startHub(t, 0)
	slow := fakeClient(h, 1)
	fast := fakeClient(h, 8)
	h.join(slow)
	h.join(fast)

	for i := 1; i <= 3; i++ {
		h.Publish(EventState, i)
	}

	for i := 0; i < 3; i++ {
		recv(t, fast)
	}
	recv(t, slow)
	if _, ok := recv(t, slow); ok {
		t.Error("slow client channel should be closed")
	}
	if got := h.Stats().SlowClients; got != 1 {
		t.Errorf("SlowClients = %d", got)
	}
	waitClients(t, h, 1)
}

func TestHub_BacklogReplayedToNewClient(t *testing.T) {
	h := startHub(t, 2)
	first := fakeClient(h, 8)
	h.join(first)

	for _, s := range []string{"a", "b", "c"} {
		h.Publish(EventState, s)
	}
	for i := 0; i < 3; i++ {
		recv(t, first)
	}

	late := fakeClient(h, 8)
	h.join(late)
	var got []string
	for i := 0; i < 2; i++ {
		msg, _ := recv(t, late)
		var ev Event
		json.Unmarshal(msg.Data, &ev)
		got = append(got, ev.Data.(string))
	}
	if got[0] != "b" || got[1] != "c" {
		t.Errorf("backlog = %v, want [b c]", got)
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	h := New("test", 0, quiet())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	c := fakeClient(h, 1)
	h.join(c)
	cancel()
	<-stopped

	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
	if h.join(fakeClient(h, 1)) {
		t.Error("join after stop should fail")
	}
	if h.IsRunning() {
		t.Error("IsRunning() after stop")
	}
}

func TestHub_WebsocketClient(t *testing.T) {
	h := startHub(t, 4)
	h.Publish(EventState, "recording")

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/ws", RequireUpgrade)
	app.Get("/ws/events", h.Handler())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	defer app.Shutdown()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != EventState || ev.Data != "recording" {
		t.Errorf("event = %+v", ev)
	}

	ws.Close()
	waitClients(t, h, 0)
}

func TestClient_RunWaitsForWriter(t *testing.T) {
	h := startHub(t, 0)
	returned := make(chan bool, 1)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws/events", fws.New(func(conn *fws.Conn) {
		c := NewClient(h, conn)
		c.Run()
		select {
		case <-c.done:
			returned <- true
		default:
			returned <- false
		}
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	defer app.Shutdown()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitClients(t, h, 1)
	h.Publish(EventSpeaking, true)
	ws.Close()

	select {
	case stopped := <-returned:
		if !stopped {
			t.Error("Run returned while the write pump was still using the connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the peer closed")
	}
}

func TestRequireUpgrade(t *testing.T) {
	app := fiber.New()
	app.Use("/ws", RequireUpgrade)
	app.Get("/ws/events", func(c *fiber.Ctx) error { return c.SendStatus(200) })

	resp, err := app.Test(httptest.NewRequest("GET", "/ws/events", nil))
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}
