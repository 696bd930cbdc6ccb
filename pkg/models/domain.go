// Package models defines the shared domain types for Zentro: projects and
// their tasks, the chat log kept per conversation thread, and the normalized
// execution events emitted while the assistant runs.
package models

import "time"

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	StatusDraft      TaskStatus = "draft"
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusInReview   TaskStatus = "in_review"
	StatusDone       TaskStatus = "done"
	StatusBlocked    TaskStatus = "blocked"
)

// ValidTaskStatus reports whether s is a known task status.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case StatusDraft, StatusTodo, StatusInProgress, StatusInReview, StatusDone, StatusBlocked:
		return true
	}
	return false
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
	PriorityBlocker  Priority = "blocker"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical, PriorityBlocker:
		return true
	}
	return false
}

// User is an account that can own projects, be assigned tasks, and talk to
// the assistant.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Project groups epics, sprints, and tasks under a short key.
type Project struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatorID   *int64    `json:"creator_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProjectMember is a user's membership row in a project.
type ProjectMember struct {
	ProjectID int64  `json:"project_id"`
	UserID    int64  `json:"user_id"`
	Role      string `json:"role"`
}

// ProjectMemberDetail joins a membership row with the user behind it, for
// member listings.
type ProjectMemberDetail struct {
	UserID   int64  `json:"user_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// Epic is a large body of work inside a project.
type Epic struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Sprint is a time-boxed iteration. At most one sprint per project is active
// at a time; SetActiveSprint enforces that.
type Sprint struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Name      string    `json:"name"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	IsActive  bool      `json:"is_active"`
}

// Task is a unit of work. EpicID and SprintID are optional associations;
// DueDate drives the overdue follow-up sweep.
type Task struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	EpicID      *int64     `json:"epic_id,omitempty"`
	SprintID    *int64     `json:"sprint_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	Estimate    *int       `json:"estimate,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatorID   *int64     `json:"creator_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskPatch describes a partial update to a task. Nil fields are left
// unchanged.
type TaskPatch struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Status      *TaskStatus `json:"status,omitempty"`
	Priority    *Priority   `json:"priority,omitempty"`
	EpicID      *int64      `json:"epic_id,omitempty"`
	SprintID    *int64      `json:"sprint_id,omitempty"`
	Estimate    *int        `json:"estimate,omitempty"`
	DueDate     *time.Time  `json:"due_date,omitempty"`
}

// StatusCount is one row of a tasks-by-status aggregation.
type StatusCount struct {
	Status TaskStatus `json:"status"`
	Count  int64      `json:"count"`
}
