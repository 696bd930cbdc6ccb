package models

import "encoding/json"

// ExecutionEventType tags one entry of the normalized execution trace.
type ExecutionEventType string

const (
	// EventToken carries a chunk of generated assistant text.
	EventToken ExecutionEventType = "token"

	// EventToolStart marks the beginning of a tool invocation.
	EventToolStart ExecutionEventType = "tool_start"

	// EventToolEnd marks the completion of a tool invocation.
	EventToolEnd ExecutionEventType = "tool_end"

	// EventError terminates the trace after a generation failure.
	EventError ExecutionEventType = "error"
)

// ExecutionEvent is one entry of the client-facing execution trace. The
// populated fields depend on Type:
//
//	token:      Content
//	tool_start: Name, Input
//	tool_end:   Name, Output
//	error:      Message
//
// Events are emitted in strict causal order: a tool_end never precedes its
// tool_start, and token events keep generation order.
type ExecutionEvent struct {
	Type    ExecutionEventType `json:"type"`
	Content string             `json:"content,omitempty"`
	Name    string             `json:"name,omitempty"`
	Input   json.RawMessage    `json:"input,omitempty"`
	Output  string             `json:"output,omitempty"`
	Message string             `json:"message,omitempty"`
}

// ToolCall is a model-issued request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool execution, fed back to the model.
// Domain failures travel here with IsError set, never as transport errors.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
