// Package inference provides chat completions for the conversation worker.
//
// A Provider sends a full message history and returns the assistant reply.
// Client talks to any OpenAI-compatible chat completions endpoint and
// defaults to DeepSeek. Session keeps the ordered conversation history on
// top of a Provider.
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithAPIKey(os.Getenv("DEEPSEEK_API_KEY")),
//	)
//	defer client.Close()
//
//	sess := inference.NewSession(client)
//	sess.Configure(inference.MaxTokens(512), inference.Temperature(0.7), inference.TopP(0.9))
//	sess.Prime("Answer in one short paragraph.")
//	reply, _ := sess.SendMessage(ctx, "Hello!", inference.RoleUser)
package inference

import (
	"context"
)

// Provider is the chat completion interface.
type Provider interface {
	// Chat generates a response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation history.
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0). Nil uses the client default.
	Temperature *float64

	// TopP controls nucleus sampling. Nil uses the client default.
	TopP *float64

	// Stop sequences that halt generation.
	Stop []string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's response.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
