package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zentrohq/zentro/pkg/models"
)

// CreateSprint inserts a sprint. New sprints start inactive.
func (t *Tx) CreateSprint(ctx context.Context, projectID int64, name string, startsAt, endsAt time.Time) (*models.Sprint, error) {
	if name == "" {
		return nil, Servicef("sprint name must not be empty")
	}
	if !endsAt.IsZero() && !startsAt.IsZero() && endsAt.Before(startsAt) {
		return nil, Servicef("sprint end date is before its start date")
	}
	if _, err := t.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	var s models.Sprint
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO sprints (project_id, name, starts_at, ends_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, project_id, name, starts_at, ends_at, is_active`,
		projectID, name, startsAt, endsAt,
	).Scan(&s.ID, &s.ProjectID, &s.Name, &s.StartsAt, &s.EndsAt, &s.IsActive)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSprint fetches a sprint by id.
func (t *Tx) GetSprint(ctx context.Context, id int64) (*models.Sprint, error) {
	var s models.Sprint
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, project_id, name, starts_at, ends_at, is_active
		 FROM sprints WHERE id = $1`, id,
	).Scan(&s.ID, &s.ProjectID, &s.Name, &s.StartsAt, &s.EndsAt, &s.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundf("sprint %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSprints returns a project's sprints ordered by id.
func (t *Tx) ListSprints(ctx context.Context, projectID int64) ([]models.Sprint, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, project_id, name, starts_at, ends_at, is_active
		 FROM sprints WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sprints []models.Sprint
	for rows.Next() {
		var s models.Sprint
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Name, &s.StartsAt, &s.EndsAt, &s.IsActive); err != nil {
			return nil, err
		}
		sprints = append(sprints, s)
	}
	return sprints, rows.Err()
}

// SetActiveSprint marks the sprint active and deactivates every other sprint
// of the same project. Both writes happen in the caller's transaction, so
// the at-most-one-active invariant holds at commit.
func (t *Tx) SetActiveSprint(ctx context.Context, sprintID int64) (*models.Sprint, error) {
	s, err := t.GetSprint(ctx, sprintID)
	if err != nil {
		return nil, err
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE sprints SET is_active = FALSE WHERE project_id = $1 AND id != $2 AND is_active`,
		s.ProjectID, sprintID); err != nil {
		return nil, err
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE sprints SET is_active = TRUE WHERE id = $1`, sprintID); err != nil {
		return nil, err
	}

	s.IsActive = true
	return s, nil
}

// GetActiveSprint returns the project's active sprint, or NotFound when none
// is active.
func (t *Tx) GetActiveSprint(ctx context.Context, projectID int64) (*models.Sprint, error) {
	var s models.Sprint
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, project_id, name, starts_at, ends_at, is_active
		 FROM sprints WHERE project_id = $1 AND is_active`, projectID,
	).Scan(&s.ID, &s.ProjectID, &s.Name, &s.StartsAt, &s.EndsAt, &s.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundf("no active sprint in project %d", projectID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
