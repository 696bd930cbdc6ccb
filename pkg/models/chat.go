package models

import "time"

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Chat is one conversation with the assistant. ThreadID is the durable
// conversation key in the form "<user-id>:<opaque-token>" and ties the chat
// to its checkpoint.
type Chat struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ThreadID  string    `json:"thread_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is a single entry in a chat's transcript.
type ChatMessage struct {
	ID        int64       `json:"id"`
	ChatID    int64       `json:"chat_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// FollowUpStatus tracks the lifecycle of a generated follow-up.
type FollowUpStatus string

const (
	FollowUpPending      FollowUpStatus = "pending"
	FollowUpSent         FollowUpStatus = "sent"
	FollowUpAcknowledged FollowUpStatus = "acknowledged"
)

// TaskFollowUp is a generated reminder about an overdue task, addressed to
// one of its assignees.
type TaskFollowUp struct {
	ID          int64          `json:"id"`
	TaskID      int64          `json:"task_id"`
	RecipientID int64          `json:"recipient_id"`
	Message     string         `json:"message"`
	Reason      string         `json:"reason"`
	Status      FollowUpStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// FollowUpStats aggregates follow-ups by status.
type FollowUpStats struct {
	Pending      int64 `json:"pending"`
	Sent         int64 `json:"sent"`
	Acknowledged int64 `json:"acknowledged"`
	Total        int64 `json:"total"`
}
