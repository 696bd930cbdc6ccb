package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zentrohq/zentro/pkg/models"
)

// CreateEpic inserts an epic under an existing project.
func (t *Tx) CreateEpic(ctx context.Context, projectID int64, name, description string) (*models.Epic, error) {
	if name == "" {
		return nil, Servicef("epic name must not be empty")
	}
	if _, err := t.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	var e models.Epic
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO epics (project_id, name, description) VALUES ($1, $2, $3)
		 RETURNING id, project_id, name, description`,
		projectID, name, description,
	).Scan(&e.ID, &e.ProjectID, &e.Name, &e.Description)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEpic fetches an epic by id.
func (t *Tx) GetEpic(ctx context.Context, id int64) (*models.Epic, error) {
	var e models.Epic
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, project_id, name, description FROM epics WHERE id = $1`, id,
	).Scan(&e.ID, &e.ProjectID, &e.Name, &e.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundf("epic %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEpics returns a project's epics ordered by id.
func (t *Tx) ListEpics(ctx context.Context, projectID int64) ([]models.Epic, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, project_id, name, description FROM epics
		 WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var epics []models.Epic
	for rows.Next() {
		var e models.Epic
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Description); err != nil {
			return nil, err
		}
		epics = append(epics, e)
	}
	return epics, rows.Err()
}
