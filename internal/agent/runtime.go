// Package agent implements the conversational runtime: a tool-calling loop
// over a streaming model provider with durable per-thread checkpoints.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zentrohq/zentro/internal/identity"
	"github.com/zentrohq/zentro/internal/infra"
	"github.com/zentrohq/zentro/internal/observability"
	"github.com/zentrohq/zentro/pkg/models"
)

// DefaultSystemPrompt is used when the config does not set one.
const DefaultSystemPrompt = "You are zentrow, an agent for task management. " +
	"DO NOT TALK ABOUT OTHER TOPICS. ESPECIALLY DO NOT TALK ABOUT POLITICS OR PHILOSOPHY."

// ErrMaxIterations is returned when a run exceeds the tool-loop bound
// without producing a final answer.
var ErrMaxIterations = errors.New("agent: tool loop exceeded max iterations")

// CheckpointStore is the slice of the checkpoint store the runtime needs.
type CheckpointStore interface {
	WaitReady(ctx context.Context) error
	Get(ctx context.Context, threadID string, out any) (bool, error)
	Put(ctx context.Context, threadID string, state any) error
}

// TraceKind tags a raw trace event emitted during a run.
type TraceKind int

const (
	TraceText TraceKind = iota
	TraceToolStart
	TraceToolEnd
	TraceError
	TraceDone
)

// TraceEvent is one raw event of a streaming run, before normalization by
// the stream package.
type TraceEvent struct {
	Kind   TraceKind
	Text   string
	Tool   string
	Input  json.RawMessage
	Output string
	Err    error
}

// Config assembles a Runtime.
type Config struct {
	Provider    LLMProvider
	Tools       []Tool
	Checkpoints CheckpointStore
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Tracer      *observability.Tracer

	Model         string
	System        string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
}

// Runtime executes conversations. It is application-scoped: built once at
// startup and shared by every request. Concurrent calls on the same thread
// id are serialized; distinct threads run independently.
type Runtime struct {
	provider    LLMProvider
	tools       map[string]Tool
	toolList    []Tool
	checkpoints CheckpointStore
	logger      *observability.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer

	model         string
	system        string
	maxTokens     int
	temperature   float64
	maxIterations int

	// init collapses concurrent first-use readiness waits into one.
	init infra.Group[string, struct{}]

	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// snapshot is the durable per-thread conversation state.
type snapshot struct {
	Messages []CompletionMessage `json:"messages"`
}

// NewRuntime validates the config and builds a runtime.
func NewRuntime(cfg Config) (*Runtime, error) {
	if cfg.Provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	if cfg.Checkpoints == nil {
		return nil, errors.New("agent: checkpoint store is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("agent: logger is required")
	}
	if cfg.System == "" {
		cfg.System = DefaultSystemPrompt
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}

	tools := make(map[string]Tool, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		tools[tool.Name()] = tool
	}

	return &Runtime{
		provider:      cfg.Provider,
		tools:         tools,
		toolList:      cfg.Tools,
		checkpoints:   cfg.Checkpoints,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		model:         cfg.Model,
		system:        cfg.System,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		maxIterations: cfg.MaxIterations,
		locks:         make(map[string]*threadLock),
	}, nil
}

// Invoke runs the conversation to completion and returns the final
// assistant text.
func (r *Runtime) Invoke(ctx context.Context, threadID, prompt string) (string, error) {
	start := time.Now()
	text, err := r.run(ctx, threadID, prompt, nil)
	r.observeRun("invoke", start, err)
	return text, err
}

// Stream runs the conversation and delivers raw trace events as they
// happen. The channel is closed after a TraceDone or TraceError event. A
// fresh call re-executes the model; streams are finite, not restartable.
func (r *Runtime) Stream(ctx context.Context, threadID, prompt string) (<-chan TraceEvent, error) {
	if err := r.ensureReady(ctx); err != nil {
		return nil, err
	}

	events := make(chan TraceEvent, 16)
	go func() {
		defer close(events)
		start := time.Now()
		emit := func(ev TraceEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
		_, err := r.run(ctx, threadID, prompt, emit)
		r.observeRun("stream", start, err)
		if err != nil {
			emit(TraceEvent{Kind: TraceError, Err: err})
			return
		}
		emit(TraceEvent{Kind: TraceDone})
	}()
	return events, nil
}

// ensureReady blocks until the checkpoint store is usable. Concurrent first
// callers share one wait.
func (r *Runtime) ensureReady(ctx context.Context) error {
	_, err, _ := r.init.Do("ready", func() (struct{}, error) {
		return struct{}{}, r.checkpoints.WaitReady(ctx)
	})
	return err
}

// lockThread serializes runs per thread id with a refcounted mutex map, so
// idle threads do not leak lock entries.
func (r *Runtime) lockThread(threadID string) func() {
	r.mu.Lock()
	l, ok := r.locks[threadID]
	if !ok {
		l = &threadLock{}
		r.locks[threadID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, threadID)
		}
		r.mu.Unlock()
	}
}

func (r *Runtime) run(ctx context.Context, threadID, prompt string, emit func(TraceEvent)) (string, error) {
	if err := r.ensureReady(ctx); err != nil {
		return "", err
	}
	if emit == nil {
		emit = func(TraceEvent) {}
	}

	unlock := r.lockThread(threadID)
	defer unlock()

	ctx = observability.WithThreadID(ctx, threadID)
	if userID, ok := identity.ParseThreadID(threadID); ok {
		ctx = identity.WithUser(ctx, userID)
		ctx = observability.WithUserID(ctx, userID)
	}

	var snap snapshot
	if _, err := r.checkpoints.Get(ctx, threadID, &snap); err != nil {
		return "", fmt.Errorf("load checkpoint: %w", err)
	}
	snap.Messages = append(snap.Messages, CompletionMessage{Role: "user", Content: prompt})

	var final string
	iterations := 0
	for {
		if iterations >= r.maxIterations {
			return "", ErrMaxIterations
		}
		iterations++

		text, calls, err := r.completeOnce(ctx, snap.Messages, emit)
		if err != nil {
			return "", err
		}

		snap.Messages = append(snap.Messages, CompletionMessage{
			Role:      "assistant",
			Content:   text,
			ToolCalls: calls,
		})

		if len(calls) == 0 {
			final = text
			break
		}

		results := make([]models.ToolResult, 0, len(calls))
		for _, call := range calls {
			result, err := r.executeTool(ctx, call, emit)
			if err != nil {
				return "", err
			}
			results = append(results, *result)
		}
		snap.Messages = append(snap.Messages, CompletionMessage{
			Role:        "tool",
			ToolResults: results,
		})
	}

	if r.metrics != nil {
		r.metrics.AgentIterations.Observe(float64(iterations))
	}

	// The run already succeeded from the caller's point of view; a failed
	// checkpoint write loses resumability, not the answer.
	if err := r.checkpoints.Put(ctx, threadID, &snap); err != nil {
		r.logger.Error(ctx, "checkpoint persist failed", "error", err)
	}

	return final, nil
}

// completeOnce issues one model call, relaying text deltas and collecting
// requested tool calls.
func (r *Runtime) completeOnce(ctx context.Context, messages []CompletionMessage, emit func(TraceEvent)) (string, []models.ToolCall, error) {
	req := &CompletionRequest{
		Model:       r.model,
		System:      r.system,
		Messages:    messages,
		Tools:       r.toolList,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	}

	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.StartLLMRequest(ctx, r.provider.Name(), r.model)
		defer span.End()
	}

	chunks, err := r.provider.Complete(ctx, req)
	if err != nil {
		r.countLLM("error")
		return "", nil, fmt.Errorf("model completion: %w", err)
	}

	var (
		text  strings.Builder
		calls []models.ToolCall
	)
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			r.countLLM("error")
			return "", nil, fmt.Errorf("model stream: %w", chunk.Error)
		case chunk.ToolCall != nil:
			calls = append(calls, *chunk.ToolCall)
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			emit(TraceEvent{Kind: TraceText, Text: chunk.Text})
		case chunk.Done:
			if r.metrics != nil && (chunk.InputTokens > 0 || chunk.OutputTokens > 0) {
				r.metrics.LLMTokens.WithLabelValues(r.provider.Name(), r.model, "input").Add(float64(chunk.InputTokens))
				r.metrics.LLMTokens.WithLabelValues(r.provider.Name(), r.model, "output").Add(float64(chunk.OutputTokens))
			}
		}
	}

	r.countLLM("ok")
	return text.String(), calls, nil
}

func (r *Runtime) executeTool(ctx context.Context, call models.ToolCall, emit func(TraceEvent)) (*models.ToolResult, error) {
	emit(TraceEvent{Kind: TraceToolStart, Tool: call.Name, Input: call.Input})

	start := time.Now()
	tool, ok := r.tools[call.Name]

	var result *ToolResult
	if !ok {
		result = &ToolResult{Content: fmt.Sprintf("unknown tool %q", call.Name), IsError: true}
	} else {
		var err error
		if r.tracer != nil {
			toolCtx, span := r.tracer.StartToolExecution(ctx, call.Name)
			result, err = tool.Execute(toolCtx, call.Input)
			span.End()
		} else {
			result, err = tool.Execute(ctx, call.Input)
		}
		if err != nil {
			if r.metrics != nil {
				r.metrics.ToolExecutions.WithLabelValues(call.Name, "error").Inc()
			}
			return nil, fmt.Errorf("tool %s: %w", call.Name, err)
		}
	}

	if r.metrics != nil {
		status := "ok"
		if result.IsError {
			status = "tool_error"
		}
		r.metrics.ToolExecutions.WithLabelValues(call.Name, status).Inc()
		r.metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}
	r.logger.Debug(ctx, "tool executed", "tool", call.Name, "is_error", result.IsError)

	emit(TraceEvent{Kind: TraceToolEnd, Tool: call.Name, Output: result.Content})
	return &models.ToolResult{
		ToolCallID: call.ID,
		Content:    result.Content,
		IsError:    result.IsError,
	}, nil
}

func (r *Runtime) countLLM(status string) {
	if r.metrics != nil {
		r.metrics.LLMRequests.WithLabelValues(r.provider.Name(), r.model, status).Inc()
	}
}

func (r *Runtime) observeRun(mode string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		status = "cancelled"
	case err != nil:
		status = "error"
	}
	r.metrics.AgentRuns.WithLabelValues(mode, status).Inc()
	r.metrics.AgentRunDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
