package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zentrohq/zentro/internal/observability"
)

// Generator wraps a provider for single-shot text generation with retries.
// Used by the follow-up composer, where a run is one prompt in, one short
// message out, no tools and no history.
type Generator struct {
	Provider LLMProvider
	Model    string
	System   string

	// MaxRetries is the number of additional attempts after a failure.
	MaxRetries int

	// BaseDelay is the first retry delay; the delay before retry n is
	// BaseDelay * n, growing linearly.
	BaseDelay time.Duration

	// Metrics counts retried requests when non-nil.
	Metrics *observability.Metrics

	// sleep is replaceable in tests.
	sleep func(context.Context, time.Duration) error
}

// Generate issues a completion and drains the stream into trimmed text. Any
// non-cancellation failure is retried up to MaxRetries additional times;
// cancellation propagates immediately and is never retried. After the
// retries are exhausted the last error is returned.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	sleep := g.sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= g.MaxRetries; attempt++ {
		if attempt > 0 {
			if g.Metrics != nil {
				g.Metrics.LLMRequestRetries.WithLabelValues(g.Provider.Name()).Inc()
			}
			if err := sleep(ctx, g.BaseDelay*time.Duration(attempt)); err != nil {
				return "", err
			}
		}

		text, err := g.once(ctx, prompt)
		if err == nil {
			return strings.TrimSpace(text), nil
		}
		if isCancellation(ctx, err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (g *Generator) once(ctx context.Context, prompt string) (string, error) {
	req := &CompletionRequest{
		Model:    g.Model,
		System:   g.System,
		Messages: []CompletionMessage{{Role: "user", Content: prompt}},
	}
	chunks, err := g.Provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		text.WriteString(chunk.Text)
	}
	return text.String(), nil
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
