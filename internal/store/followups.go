package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zentrohq/zentro/pkg/models"
)

// CreateFollowUp inserts a pending follow-up.
func (t *Tx) CreateFollowUp(ctx context.Context, taskID, recipientID int64, message, reason string) (*models.TaskFollowUp, error) {
	var f models.TaskFollowUp
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO task_followups (task_id, recipient_id, message, reason, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, task_id, recipient_id, message, reason, status, created_at, updated_at`,
		taskID, recipientID, message, reason, models.FollowUpPending,
	).Scan(&f.ID, &f.TaskID, &f.RecipientID, &f.Message, &f.Reason, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// HasPendingFollowUp reports whether the (task, recipient) pair already has
// a pending follow-up. The sweep uses this to avoid duplicate nudges.
func (t *Tx) HasPendingFollowUp(ctx context.Context, taskID, recipientID int64) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx,
		`SELECT 1 FROM task_followups
		 WHERE task_id = $1 AND recipient_id = $2 AND status = $3`,
		taskID, recipientID, models.FollowUpPending,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListFollowUps returns a recipient's follow-ups, optionally filtered by
// status, newest first.
func (t *Tx) ListFollowUps(ctx context.Context, recipientID int64, status models.FollowUpStatus) ([]models.TaskFollowUp, error) {
	query := `SELECT id, task_id, recipient_id, message, reason, status, created_at, updated_at
		 FROM task_followups WHERE recipient_id = $1`
	args := []any{recipientID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followups []models.TaskFollowUp
	for rows.Next() {
		var f models.TaskFollowUp
		if err := rows.Scan(&f.ID, &f.TaskID, &f.RecipientID, &f.Message, &f.Reason, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		followups = append(followups, f)
	}
	return followups, rows.Err()
}

// UpdateFollowUpStatus moves a follow-up through its lifecycle. Only the
// recipient may acknowledge.
func (t *Tx) UpdateFollowUpStatus(ctx context.Context, id, recipientID int64, status models.FollowUpStatus) (*models.TaskFollowUp, error) {
	switch status {
	case models.FollowUpPending, models.FollowUpSent, models.FollowUpAcknowledged:
	default:
		return nil, Servicef("invalid follow-up status %q", status)
	}

	var f models.TaskFollowUp
	err := t.tx.QueryRowContext(ctx,
		`UPDATE task_followups SET status = $3, updated_at = now()
		 WHERE id = $1 AND recipient_id = $2
		 RETURNING id, task_id, recipient_id, message, reason, status, created_at, updated_at`,
		id, recipientID, status,
	).Scan(&f.ID, &f.TaskID, &f.RecipientID, &f.Message, &f.Reason, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundf("follow-up %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FollowUpStats aggregates a recipient's follow-ups by status.
func (t *Tx) FollowUpStats(ctx context.Context, recipientID int64) (*models.FollowUpStats, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM task_followups
		 WHERE recipient_id = $1 GROUP BY status`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats models.FollowUpStats
	for rows.Next() {
		var (
			status models.FollowUpStatus
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case models.FollowUpPending:
			stats.Pending = count
		case models.FollowUpSent:
			stats.Sent = count
		case models.FollowUpAcknowledged:
			stats.Acknowledged = count
		}
		stats.Total += count
	}
	return &stats, rows.Err()
}

// AllFollowUpStats aggregates follow-ups across every recipient. Used by
// the CLI stats command.
func (t *Tx) AllFollowUpStats(ctx context.Context) (*models.FollowUpStats, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM task_followups GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats models.FollowUpStats
	for rows.Next() {
		var (
			status models.FollowUpStatus
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case models.FollowUpPending:
			stats.Pending = count
		case models.FollowUpSent:
			stats.Sent = count
		case models.FollowUpAcknowledged:
			stats.Acknowledged = count
		}
		stats.Total += count
	}
	return &stats, rows.Err()
}

// PurgeAcknowledgedFollowUps deletes acknowledged follow-ups older than
// cutoff and returns how many were removed.
func (t *Tx) PurgeAcknowledgedFollowUps(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM task_followups WHERE status = $1 AND updated_at < $2`,
		models.FollowUpAcknowledged, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
