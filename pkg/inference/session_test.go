package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSessionSystemMessageMakesNoCall(t *testing.T) {
	mock := NewMock()
	sess := NewSession(mock)

	reply, err := sess.SendMessage(context.Background(), "be brief", RoleSystem)
	if err != nil || reply != "" {
		t.Fatalf("SendMessage(system) = %q, %v", reply, err)
	}
	if mock.CallCount("Chat") != 0 {
		t.Error("system messages must not call the provider")
	}
	if sess.Len() != 1 {
		t.Errorf("Len = %d, want 1", sess.Len())
	}
}

func TestSessionSendMessage(t *testing.T) {
	mock := NewMockReply("晴天")
	sess := NewSession(mock)
	sess.Configure(MaxTokens(512), Temperature(0.7), TopP(0.9))
	sess.Prime("be brief")

	reply, err := sess.SendMessage(context.Background(), "今天天气怎么样", RoleUser)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != "晴天" {
		t.Errorf("reply = %q", reply)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	req := reqs[0]
	if req.MaxTokens != 512 || *req.Temperature != 0.7 || *req.TopP != 0.9 {
		t.Errorf("params = %d/%v/%v", req.MaxTokens, *req.Temperature, *req.TopP)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem || req.Messages[1].Content != "今天天气怎么样" {
		t.Errorf("messages = %+v", req.Messages)
	}

	hist := sess.History()
	want := []Message{
		NewSystemMessage("be brief"),
		NewUserMessage("今天天气怎么样"),
		NewAssistantMessage("晴天"),
	}
	if len(hist) != len(want) {
		t.Fatalf("history = %v", hist)
	}
	for i := range want {
		if hist[i] != want[i] {
			t.Errorf("history[%d] = %v, want %v", i, hist[i], want[i])
		}
	}
}

func TestSessionFailureKeepsUserTurn(t *testing.T) {
	boom := errors.New("network down")
	sess := NewSession(NewFailingMock(boom))
	sess.Prime("p")

	if _, err := sess.SendMessage(context.Background(), "hello", RoleUser); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	hist := sess.History()
	if len(hist) != 2 || hist[1].Role != RoleUser {
		t.Errorf("history = %v", hist)
	}
}

func TestSessionClearHistoryKeepsSystemTurns(t *testing.T) {
	sess := NewSession(NewMock())
	ctx := context.Background()

	sess.SendMessage(ctx, "first", RoleSystem)
	sess.SendMessage(ctx, "second", RoleSystem)
	sess.SendMessage(ctx, "hi", RoleUser)
	sess.SendMessage(ctx, "again", RoleUser)

	sess.ClearHistory()

	hist := sess.History()
	if len(hist) != 2 || hist[0].Content != "first" || hist[1].Content != "second" {
		t.Errorf("history after clear = %v", hist)
	}

	// clearing an empty session is fine
	empty := NewSession(NewMock())
	empty.ClearHistory()
	if empty.Len() != 0 {
		t.Error("empty session grew")
	}
}

func TestSessionPrimeIsIdempotent(t *testing.T) {
	sess := NewSession(NewMock())
	ctx := context.Background()

	sess.Prime("prompt")
	sess.SendMessage(ctx, "hi", RoleUser)
	sess.Prime("prompt")
	sess.Prime("prompt")

	hist := sess.History()
	if len(hist) != 1 || hist[0] != NewSystemMessage("prompt") {
		t.Errorf("history = %v, want exactly the system prompt", hist)
	}
}

func TestSessionConfigureOmittedKeepsValues(t *testing.T) {
	sess := NewSession(NewMock())
	if mt, temp, p := sess.Params(); mt != DefaultMaxTokens || temp != DefaultTemperature || p != DefaultTopP {
		t.Fatalf("defaults = %d/%v/%v", mt, temp, p)
	}

	sess.Configure(MaxTokens(512), TopP(0.9))
	mt, temp, p := sess.Params()
	if mt != 512 || temp != DefaultTemperature || p != 0.9 {
		t.Errorf("params = %d/%v/%v", mt, temp, p)
	}
}

func TestSessionZeroTemperatureReachesServer(t *testing.T) {
	var got chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(okCompletion))
	}))
	defer server.Close()

	client, err := NewClient(WithBaseURL(server.URL), WithTemperature(1.0))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	sess := NewSession(client)
	sess.Configure(Temperature(0))

	if _, temp, _ := sess.Params(); temp != 0 {
		t.Fatalf("temperature = %v, want 0", temp)
	}
	if _, err := sess.SendMessage(context.Background(), "你好", RoleUser); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got.Temperature != 0 {
		t.Errorf("sent temperature = %v, want 0", got.Temperature)
	}
}

func TestMessageString(t *testing.T) {
	if got := NewUserMessage("hi").String(); got != "[user]: hi" {
		t.Errorf("String = %q", got)
	}
}

func ptr[T any](v T) *T { return &v }
