package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Chain asks each endpoint in turn until one replies. The voicebox uses it
// to fall back from DeepSeek to a second OpenAI-compatible server when
// llm.fallback_base_url is set.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain returns ErrProviderUnavailable when called without providers.
func NewChain(providers ...Provider) (*Chain, error) {
	return NewChainWithLogger(slog.Default(), providers...)
}

// NewChainWithLogger is NewChain with a caller-supplied logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "inference.chain"),
	}, nil
}

// Chat returns the first reply. The history is the same for every
// endpoint, so a fallback answer continues the same conversation.
func (c *Chain) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var errs []error
	for i, p := range c.providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback endpoint replied", "endpoint", i, "model", resp.Model)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
		c.logger.Warn("endpoint failed", "endpoint", i, "error", err)
	}
	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}

// Health succeeds while at least one endpoint is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Health(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(c.providers) {
		return fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
	}
	return nil
}

// Close closes every endpoint.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

var _ Provider = (*Chain)(nil)
