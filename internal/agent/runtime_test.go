package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zentrohq/zentro/internal/observability"
	"github.com/zentrohq/zentro/pkg/models"
)

// memCheckpoints is an in-memory CheckpointStore.
type memCheckpoints struct {
	mu        sync.Mutex
	snapshots map[string][]byte
	waitErr   error
	waits     atomic.Int32
	block     chan struct{} // non-nil: WaitReady blocks until closed
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{snapshots: make(map[string][]byte)}
}

func (m *memCheckpoints) WaitReady(ctx context.Context) error {
	m.waits.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.waitErr
}

func (m *memCheckpoints) Get(ctx context.Context, threadID string, out any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.snapshots[threadID]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (m *memCheckpoints) Put(ctx context.Context, threadID string, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[threadID] = raw
	return nil
}

// echoTool records executions and returns a fixed result.
type echoTool struct {
	name   string
	output string
	calls  atomic.Int32
}

func (t *echoTool) Name() string            { return t.name }
func (t *echoTool) Description() string     { return "test tool" }
func (t *echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	t.calls.Add(1)
	return &ToolResult{Content: t.output}, nil
}

func testRuntime(t *testing.T, provider LLMProvider, cp CheckpointStore, tools ...Tool) *Runtime {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	r, err := NewRuntime(Config{
		Provider:    provider,
		Tools:       tools,
		Checkpoints: cp,
		Logger:      logger,
		Model:       "test-model",
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	return r
}

// reqRecorder keeps the last completion request it served.
type reqRecorder struct {
	last *CompletionRequest
}

func (p *reqRecorder) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.last = req
	return textStream("ok")()
}

func (p *reqRecorder) Name() string        { return "stub" }
func (p *reqRecorder) SupportsTools() bool { return true }

func TestInvoke_AppliesSamplingConfig(t *testing.T) {
	provider := &reqRecorder{}
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	r, err := NewRuntime(Config{
		Provider:    provider,
		Checkpoints: newMemCheckpoints(),
		Logger:      logger,
		Model:       "test-model",
		MaxTokens:   512,
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	if _, err := r.Invoke(context.Background(), "42:abc", "hi"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if provider.last == nil {
		t.Fatal("provider never saw a request")
	}
	if provider.last.MaxTokens != 512 {
		t.Errorf("max tokens = %d, want 512", provider.last.MaxTokens)
	}
	if provider.last.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", provider.last.Temperature)
	}
}

func toolCallStream(text string, call *models.ToolCall) func() (<-chan *CompletionChunk, error) {
	return func() (<-chan *CompletionChunk, error) {
		ch := make(chan *CompletionChunk, 3)
		if text != "" {
			ch <- &CompletionChunk{Text: text}
		}
		ch <- &CompletionChunk{ToolCall: call}
		ch <- &CompletionChunk{Done: true}
		close(ch)
		return ch, nil
	}
}

func TestInvoke_ToolLoop(t *testing.T) {
	tool := &echoTool{name: "task_create", output: "Task 3 created: Test"}
	provider := &scriptProvider{outcomes: []func() (<-chan *CompletionChunk, error){
		toolCallStream("Hello", &models.ToolCall{
			ID: "call-1", Name: "task_create", Input: json.RawMessage(`{"title":"Test"}`),
		}),
		textStream(" World"),
	}}
	cp := newMemCheckpoints()
	r := testRuntime(t, provider, cp, tool)

	text, err := r.Invoke(context.Background(), "42:abc", "Create a task called Test")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if text != " World" {
		t.Errorf("final text = %q, want %q", text, " World")
	}
	if tool.calls.Load() != 1 {
		t.Errorf("tool executed %d times, want 1", tool.calls.Load())
	}

	var snap snapshot
	found, err := cp.Get(context.Background(), "42:abc", &snap)
	if err != nil || !found {
		t.Fatalf("checkpoint missing: found=%v err=%v", found, err)
	}
	// user, assistant+tool_call, tool result, final assistant
	if len(snap.Messages) != 4 {
		t.Fatalf("checkpoint has %d messages, want 4", len(snap.Messages))
	}
	if snap.Messages[1].ToolCalls[0].Name != "task_create" {
		t.Errorf("assistant turn missing tool call: %+v", snap.Messages[1])
	}
	if snap.Messages[2].ToolResults[0].Content != "Task 3 created: Test" {
		t.Errorf("tool turn = %+v", snap.Messages[2])
	}
}

func TestInvoke_ResumesFromCheckpoint(t *testing.T) {
	provider := &scriptProvider{outcomes: []func() (<-chan *CompletionChunk, error){
		textStream("First answer"),
		textStream("Second answer"),
	}}
	cp := newMemCheckpoints()
	r := testRuntime(t, provider, cp)

	if _, err := r.Invoke(context.Background(), "7:t", "first"); err != nil {
		t.Fatalf("first invoke: %v", err)
	}
	if _, err := r.Invoke(context.Background(), "7:t", "second"); err != nil {
		t.Fatalf("second invoke: %v", err)
	}

	var snap snapshot
	if _, err := cp.Get(context.Background(), "7:t", &snap); err != nil {
		t.Fatal(err)
	}
	// Two user/assistant exchanges accumulated in one snapshot.
	if len(snap.Messages) != 4 {
		t.Fatalf("checkpoint has %d messages, want 4", len(snap.Messages))
	}
	if snap.Messages[2].Content != "second" || snap.Messages[2].Role != "user" {
		t.Errorf("resumed history out of order: %+v", snap.Messages)
	}
}

func TestStream_EventOrder(t *testing.T) {
	tool := &echoTool{name: "task_create", output: "Done"}
	provider := &scriptProvider{outcomes: []func() (<-chan *CompletionChunk, error){
		toolCallStream("Hello", &models.ToolCall{
			ID: "call-1", Name: "task_create", Input: json.RawMessage(`{"title":"Test"}`),
		}),
		textStream(" World"),
	}}
	r := testRuntime(t, provider, newMemCheckpoints(), tool)

	events, err := r.Stream(context.Background(), "42:abc", "go")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var got []TraceKind
	for ev := range events {
		got = append(got, ev.Kind)
		if ev.Kind == TraceError {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}
	want := []TraceKind{TraceText, TraceToolStart, TraceToolEnd, TraceText, TraceDone}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStream_ErrorEvent(t *testing.T) {
	boom := errors.New("provider down")
	provider := &scriptProvider{outcomes: []func() (<-chan *CompletionChunk, error){failOpen(boom)}}
	cp := newMemCheckpoints()
	r := testRuntime(t, provider, cp)

	events, err := r.Stream(context.Background(), "42:abc", "go")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var last TraceEvent
	for ev := range events {
		last = ev
	}
	if last.Kind != TraceError || !errors.Is(last.Err, boom) {
		t.Errorf("last event = %+v, want error event wrapping %v", last, boom)
	}

	if _, ok := cp.snapshots["42:abc"]; ok {
		t.Error("failed run must not write a checkpoint")
	}
}

func TestStream_NotReady(t *testing.T) {
	notReady := errors.New("checkpoint store not ready")
	cp := newMemCheckpoints()
	cp.waitErr = notReady
	provider := &scriptProvider{outcomes: []func() (<-chan *CompletionChunk, error){textStream("x")}}
	r := testRuntime(t, provider, cp)

	if _, err := r.Stream(context.Background(), "1:a", "go"); !errors.Is(err, notReady) {
		t.Errorf("Stream err = %v, want readiness failure", err)
	}
	if _, err := r.Invoke(context.Background(), "1:a", "go"); !errors.Is(err, notReady) {
		t.Errorf("Invoke err = %v, want readiness failure", err)
	}
}

func TestConcurrentFirstUse_SharesOneWait(t *testing.T) {
	cp := newMemCheckpoints()
	cp.block = make(chan struct{})
	provider := &scriptProvider{outcomes: []func() (<-chan *CompletionChunk, error){textStream("ok")}}
	r := testRuntime(t, provider, cp)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Invoke(context.Background(), fmt.Sprintf("%d:t", i), "go"); err != nil {
				t.Errorf("invoke %d: %v", i, err)
			}
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(cp.block)
	wg.Wait()

	// ensureReady is entered once per run, but the blocked first wait must
	// have been shared by every racer.
	if waits := cp.waits.Load(); waits != 1 {
		t.Errorf("WaitReady executed %d times during first use, want 1", waits)
	}
}

// slowProvider blocks inside the stream until released, tracking overlap.
type slowProvider struct {
	mu      sync.Mutex
	active  int
	peak    int
	release chan struct{}
}

func (p *slowProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	ch := make(chan *CompletionChunk)
	go func() {
		defer close(ch)
		p.mu.Lock()
		p.active++
		if p.active > p.peak {
			p.peak = p.active
		}
		p.mu.Unlock()

		<-p.release

		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		ch <- &CompletionChunk{Text: "done"}
		ch <- &CompletionChunk{Done: true}
	}()
	return ch, nil
}

func (p *slowProvider) Name() string        { return "slow" }
func (p *slowProvider) SupportsTools() bool { return false }

func TestSameThread_Serialized(t *testing.T) {
	provider := &slowProvider{release: make(chan struct{})}
	r := testRuntime(t, provider, newMemCheckpoints())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Invoke(context.Background(), "9:same", "go"); err != nil {
				t.Errorf("invoke: %v", err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	if provider.peak != 1 {
		t.Errorf("peak concurrency on one thread = %d, want 1", provider.peak)
	}
}

func TestDistinctThreads_RunConcurrently(t *testing.T) {
	provider := &slowProvider{release: make(chan struct{})}
	r := testRuntime(t, provider, newMemCheckpoints())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Invoke(context.Background(), fmt.Sprintf("%d:thread", i), "go"); err != nil {
				t.Errorf("invoke: %v", err)
			}
		}(i)
	}

	deadline := time.After(time.Second)
	for {
		provider.mu.Lock()
		peak := provider.peak
		provider.mu.Unlock()
		if peak == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("distinct threads never overlapped")
		case <-time.After(time.Millisecond):
		}
	}

	close(provider.release)
	wg.Wait()
}

func TestInvoke_MaxIterations(t *testing.T) {
	tool := &echoTool{name: "task_get", output: "row"}
	// Every turn requests another tool call, never a final answer.
	looping := toolCallStream("", &models.ToolCall{
		ID: "c", Name: "task_get", Input: json.RawMessage(`{}`),
	})
	provider := &scriptProvider{outcomes: []func() (<-chan *CompletionChunk, error){looping}}
	r := testRuntime(t, provider, newMemCheckpoints(), tool)

	_, err := r.Invoke(context.Background(), "1:loop", "go")
	if !errors.Is(err, ErrMaxIterations) {
		t.Errorf("err = %v, want ErrMaxIterations", err)
	}
}
