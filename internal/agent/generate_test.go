package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zentrohq/zentro/internal/observability"
)

// scriptProvider returns one canned outcome per Complete call. The last
// outcome repeats once the script runs out.
type scriptProvider struct {
	mu       sync.Mutex
	calls    int
	outcomes []func() (<-chan *CompletionChunk, error)
}

func (p *scriptProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	i := p.calls
	p.calls++
	if i >= len(p.outcomes) {
		i = len(p.outcomes) - 1
	}
	outcome := p.outcomes[i]
	p.mu.Unlock()
	return outcome()
}

func (p *scriptProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptProvider) Name() string        { return "stub" }
func (p *scriptProvider) SupportsTools() bool { return true }

func textStream(parts ...string) func() (<-chan *CompletionChunk, error) {
	return func() (<-chan *CompletionChunk, error) {
		ch := make(chan *CompletionChunk, len(parts)+1)
		for _, part := range parts {
			ch <- &CompletionChunk{Text: part}
		}
		ch <- &CompletionChunk{Done: true}
		close(ch)
		return ch, nil
	}
}

func failOpen(err error) func() (<-chan *CompletionChunk, error) {
	return func() (<-chan *CompletionChunk, error) { return nil, err }
}

func TestGenerate_RetriesThenSucceeds(t *testing.T) {
	boom := errors.New("upstream flaked")
	provider := &scriptProvider{outcomes: []func() (<-chan *CompletionChunk, error){
		failOpen(boom),
		failOpen(boom),
		textStream("  All good.  "),
	}}

	var delays []time.Duration
	g := &Generator{
		Provider:   provider,
		MaxRetries: 3,
		BaseDelay:  time.Second,
		sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}

	text, err := g.Generate(context.Background(), "compose")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "All good." {
		t.Errorf("text = %q, want trimmed result", text)
	}
	if provider.callCount() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.callCount())
	}
	if len(delays) != 2 {
		t.Fatalf("delays = %v, want 2 sleeps", delays)
	}
	if delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("delays = %v, want linear growth [1s 2s]", delays)
	}
}

func TestGenerate_ExhaustsRetries(t *testing.T) {
	boom := errors.New("persistent failure")
	provider := &scriptProvider{outcomes: []func() (<-chan *CompletionChunk, error){failOpen(boom)}}

	g := &Generator{
		Provider:   provider,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		sleep:      func(context.Context, time.Duration) error { return nil },
	}

	_, err := g.Generate(context.Background(), "compose")
	if !errors.Is(err, boom) {
		t.Errorf("expected last error, got %v", err)
	}
	if provider.callCount() != 3 {
		t.Errorf("provider calls = %d, want maxRetries+1 = 3", provider.callCount())
	}
}

func TestGenerate_CountsRetries(t *testing.T) {
	boom := errors.New("upstream flaked")
	provider := &scriptProvider{outcomes: []func() (<-chan *CompletionChunk, error){
		failOpen(boom),
		failOpen(boom),
		textStream("Done."),
	}}

	metrics := observability.NewMetrics()
	g := &Generator{
		Provider:   provider,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Metrics:    metrics,
		sleep:      func(context.Context, time.Duration) error { return nil },
	}

	if _, err := g.Generate(context.Background(), "compose"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.LLMRequestRetries.WithLabelValues("stub")); got != 2 {
		t.Errorf("retry counter = %v, want 2", got)
	}
}

func TestGenerate_CancellationNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &scriptProvider{outcomes: []func() (<-chan *CompletionChunk, error){
		func() (<-chan *CompletionChunk, error) {
			cancel()
			return nil, ctx.Err()
		},
	}}

	g := &Generator{Provider: provider, MaxRetries: 5, BaseDelay: time.Millisecond}

	_, err := g.Generate(ctx, "compose")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, cancellation must not retry", provider.callCount())
	}
}

func TestGenerate_StreamError(t *testing.T) {
	boom := errors.New("mid-stream failure")
	provider := &scriptProvider{outcomes: []func() (<-chan *CompletionChunk, error){
		func() (<-chan *CompletionChunk, error) {
			ch := make(chan *CompletionChunk, 2)
			ch <- &CompletionChunk{Text: "partial"}
			ch <- &CompletionChunk{Error: boom, Done: true}
			close(ch)
			return ch, nil
		},
		textStream("Recovered."),
	}}

	g := &Generator{
		Provider:   provider,
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		sleep:      func(context.Context, time.Duration) error { return nil },
	}

	text, err := g.Generate(context.Background(), "compose")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Recovered." {
		t.Errorf("text = %q, want result of retry", text)
	}
	if provider.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", provider.callCount())
	}
}
