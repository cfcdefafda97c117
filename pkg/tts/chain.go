package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Chain speaks through the first provider that accepts a chunk. The
// voicebox "chain" setting puts ElevenLabs in front of OpenAI so a lost
// websocket still produces speech.
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
		logger:    logger.With("component", "tts.chain"),
	}, nil
}

// Name lists the providers in order, e.g. "elevenlabs>openai".
func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ">")
}

func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	return firstOf(ctx, c, "synthesize", func(p Provider) (*AudioResult, error) {
		return p.Synthesize(ctx, text)
	})
}

func (c *Chain) Stream(ctx context.Context, text string) (AudioStream, error) {
	return firstOf(ctx, c, "stream", func(p Provider) (AudioStream, error) {
		return p.Stream(ctx, text)
	})
}

// Health succeeds while at least one provider is healthy.
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

// Close closes every provider.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// firstOf calls op on each provider in turn and returns the first success.
// When all fail, the error wraps ErrAllProvidersFailed and each failure.
func firstOf[T any](ctx context.Context, c *Chain, op string, call func(Provider) (T, error)) (T, error) {
	var zero T
	var errs []error
	for _, p := range c.providers {
		v, err := call(p)
		if err == nil {
			if len(errs) > 0 {
				c.logger.Info("fell back", "op", op, "provider", p.Name(), "skipped", len(errs))
			}
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		errs = append(errs, err)
		c.logger.Warn("provider failed", "op", op, "provider", p.Name(), "error", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}

var _ Provider = (*Chain)(nil)
