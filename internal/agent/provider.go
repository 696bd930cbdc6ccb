package agent

import (
	"context"
	"encoding/json"

	"github.com/zentrohq/zentro/pkg/models"
)

// LLMProvider is the contract between the runtime and a model backend.
//
// Implementations must be safe for concurrent use; the runtime may issue
// completions for different threads simultaneously.
type LLMProvider interface {
	// Complete sends a request and returns a stream of chunks. The channel
	// is closed after the Done chunk or an Error chunk.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name ("openai", "anthropic").
	Name() string

	// SupportsTools reports whether the provider handles tool calling.
	SupportsTools() bool
}

// CompletionRequest carries one model invocation: history, system prompt,
// tool surface, and generation parameters.
type CompletionRequest struct {
	// Model overrides the provider's default model when set.
	Model string `json:"model"`

	// System sets the assistant's behavior. Handled separately from
	// messages by both backends.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools the model may call this turn. Empty disables tool use.
	Tools []Tool `json:"-"`

	// MaxTokens bounds the response length; 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature adjusts sampling; zero value uses the provider default.
	Temperature float64 `json:"temperature,omitempty"`
}

// CompletionMessage is one turn of the conversation. Role is "user",
// "assistant", or "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is one element of a streaming response. Exactly one of
// Text, ToolCall, Done, or Error is meaningful per chunk.
type CompletionChunk struct {
	// Text is a partial response delta.
	Text string `json:"text,omitempty"`

	// ToolCall is a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true on the final chunk of a successful stream.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	// Token usage, populated on the Done chunk when the backend reports it.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Tool is an executable capability offered to the model.
type Tool interface {
	// Name returns the function-calling name (alphanumeric, underscores).
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema of the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Domain failures come back as a ToolResult
	// with IsError set; a returned error means infrastructure failure.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is a tool's output on its way back to the model.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
