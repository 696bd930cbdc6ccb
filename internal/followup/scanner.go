// Package followup implements the overdue-task sweep: for every overdue
// task assignee without a pending reminder, compose a short follow-up
// message and persist it for later delivery.
package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/zentrohq/zentro/internal/agent"
	"github.com/zentrohq/zentro/internal/observability"
	"github.com/zentrohq/zentro/internal/store"
	"github.com/zentrohq/zentro/pkg/models"
)

const composerSystemPrompt = "You write one short, friendly reminder about an overdue task. " +
	"Two sentences at most. No greetings, no sign-off."

// Generator is the slice of the retry-wrapped generator the scanner needs.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Scanner runs the overdue sweep.
type Scanner struct {
	store     *store.Store
	generator Generator
	logger    *observability.Logger
	metrics   *observability.Metrics

	// now is replaceable in tests.
	now func() time.Time
}

// NewScanner builds a scanner. Metrics may be nil.
func NewScanner(st *store.Store, generator Generator, logger *observability.Logger, metrics *observability.Metrics) *Scanner {
	return &Scanner{
		store:     st,
		generator: generator,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

type candidate struct {
	task        models.Task
	recipientID int64
}

// Run sweeps once and returns the number of follow-ups created. A failure
// on one task is logged and skips that task; the sweep itself only fails on
// infrastructure errors in the read phase.
func (s *Scanner) Run(ctx context.Context) (int, error) {
	var candidates []candidate
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		tasks, err := tx.ListOverdueTasks(ctx, s.now())
		if err != nil {
			return err
		}
		for _, task := range tasks {
			assignees, err := tx.ListTaskAssignees(ctx, task.ID)
			if err != nil {
				return err
			}
			for _, recipientID := range assignees {
				pending, err := tx.HasPendingFollowUp(ctx, task.ID, recipientID)
				if err != nil {
					return err
				}
				if !pending {
					candidates = append(candidates, candidate{task: task, recipientID: recipientID})
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("followup: list overdue tasks: %w", err)
	}

	created := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		if err := s.compose(ctx, c); err != nil {
			s.logger.Error(ctx, "follow-up skipped",
				"task_id", c.task.ID, "recipient_id", c.recipientID, "error", err)
			continue
		}
		created++
		if s.metrics != nil {
			s.metrics.FollowUpsSent.Inc()
		}
	}

	s.logger.Info(ctx, "follow-up sweep complete", "created", created)
	return created, nil
}

func (s *Scanner) compose(ctx context.Context, c candidate) error {
	reason := Reason(c.task.DueDate)

	message, err := s.generator.Generate(ctx, composerPrompt(c.task, reason))
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}

	kind := "no_due_date"
	if c.task.DueDate != nil {
		kind = "due_date"
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		// Re-check inside the write transaction; another sweep may have won.
		pending, err := tx.HasPendingFollowUp(ctx, c.task.ID, c.recipientID)
		if err != nil {
			return err
		}
		if pending {
			return nil
		}
		_, err = tx.CreateFollowUp(ctx, c.task.ID, c.recipientID, message, reason)
		return err
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.FollowUpsByKind.WithLabelValues(kind).Inc()
	}
	return nil
}

// Reason renders the human-readable explanation stored with a follow-up.
func Reason(dueDate *time.Time) string {
	if dueDate == nil {
		return "This task is overdue."
	}
	return fmt.Sprintf("This task was due on %s.", dueDate.Format("January 2, 2006"))
}

func composerPrompt(task models.Task, reason string) string {
	prompt := fmt.Sprintf("Task %d: %q (status %s, priority %s). %s",
		task.ID, task.Title, task.Status, task.Priority, reason)
	if task.Description != "" {
		prompt += " Description: " + task.Description
	}
	return prompt
}

// NewGenerator binds the retry-wrapped generator used by the sweep. Metrics
// may be nil.
func NewGenerator(provider agent.LLMProvider, model string, maxRetries int, baseDelay time.Duration, metrics *observability.Metrics) *agent.Generator {
	return &agent.Generator{
		Provider:   provider,
		Model:      model,
		System:     composerSystemPrompt,
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		Metrics:    metrics,
	}
}
