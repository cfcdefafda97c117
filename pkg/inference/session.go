package inference

import (
	"context"
	"log/slog"
	"sync"
)

// Session is an ordered chat history bound to a Provider.
// It is safe for concurrent use; requests are serialized.
type Session struct {
	provider Provider
	logger   *slog.Logger

	mu          sync.Mutex
	history     []Message
	maxTokens   int
	temperature float64
	topP        float64
}

// NewSession creates an empty session with the DeepSeek request defaults.
func NewSession(p Provider) *Session {
	return &Session{
		provider:    p,
		logger:      slog.Default().With("component", "inference.session"),
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		topP:        DefaultTopP,
	}
}

// SetLogger replaces the session logger.
func (s *Session) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	s.logger = logger.With("component", "inference.session")
	s.mu.Unlock()
}

// Param sets one request parameter on a Session.
type Param func(*Session)

// MaxTokens bounds the reply length.
func MaxTokens(n int) Param {
	return func(s *Session) { s.maxTokens = n }
}

// Temperature sets the sampling temperature. Zero is greedy decoding.
func Temperature(t float64) Param {
	return func(s *Session) { s.temperature = t }
}

// TopP sets the nucleus sampling mass.
func TopP(p float64) Param {
	return func(s *Session) { s.topP = p }
}

// Configure applies params. Parameters that are not passed keep their
// current value.
func (s *Session) Configure(params ...Param) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range params {
		p(s)
	}
}

// Params returns the current request parameters.
func (s *Session) Params() (maxTokens int, temperature, topP float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxTokens, s.temperature, s.topP
}

// SendMessage appends text under role. System messages only extend the
// history. Any other role sends the whole history to the provider and the
// reply is appended as an assistant turn.
//
// The message stays in the history when the request fails.
func (s *Session) SendMessage(ctx context.Context, text string, role Role) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, Message{Role: role, Content: text})
	if role == RoleSystem {
		return "", nil
	}

	temperature, topP := s.temperature, s.topP
	resp, err := s.provider.Chat(ctx, &ChatRequest{
		Messages:    append([]Message(nil), s.history...),
		MaxTokens:   s.maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	})
	if err != nil {
		return "", err
	}

	s.history = append(s.history, NewAssistantMessage(resp.Message.Content))
	s.logger.Info("reply received",
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
		"turns", len(s.history),
	)
	return resp.Message.Content, nil
}

// ClearHistory drops every non-system turn.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = s.systemTurns()
}

// Prime clears the history and leaves exactly one system turn holding
// prompt. Priming twice with the same prompt is a no-op.
func (s *Session) Prime(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = []Message{NewSystemMessage(prompt)}
}

// History returns a copy of the conversation.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// Len returns the number of turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Session) systemTurns() []Message {
	var out []Message
	for _, m := range s.history {
		if m.Role == RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
