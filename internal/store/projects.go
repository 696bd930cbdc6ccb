package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/zentrohq/zentro/pkg/models"
)

// CreateProject inserts a project and adds the creator as its first member.
// The key defaults to the upper-cased first letters of the name when empty.
func (t *Tx) CreateProject(ctx context.Context, key, name, description string, creatorID *int64) (*models.Project, error) {
	if name == "" {
		return nil, Servicef("project name must not be empty")
	}
	if key == "" {
		key = deriveProjectKey(name)
	}

	var p models.Project
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO projects (key, name, description, creator_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, key, name, description, creator_id, created_at`,
		key, name, description, creatorID,
	).Scan(&p.ID, &p.Key, &p.Name, &p.Description, &p.CreatorID, &p.CreatedAt)
	if isUniqueViolation(err) {
		return nil, Conflictf("project key %q already exists", key)
	}
	if err != nil {
		return nil, err
	}

	if creatorID != nil {
		if err := t.AddProjectMember(ctx, p.ID, *creatorID, "owner"); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// GetProject fetches a project by id.
func (t *Tx) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, key, name, description, creator_id, created_at
		 FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Key, &p.Name, &p.Description, &p.CreatorID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundf("project %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns the projects userID is a member of, ordered by id.
func (t *Tx) ListProjects(ctx context.Context, userID int64) ([]models.Project, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT p.id, p.key, p.name, p.description, p.creator_id, p.created_at
		 FROM projects p
		 JOIN project_members m ON m.project_id = p.id
		 WHERE m.user_id = $1
		 ORDER BY p.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Key, &p.Name, &p.Description, &p.CreatorID, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// AddProjectMember adds userID to the project. Adding an existing member
// yields Conflict.
func (t *Tx) AddProjectMember(ctx context.Context, projectID, userID int64, role string) error {
	if role == "" {
		role = "member"
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role) VALUES ($1, $2, $3)`,
		projectID, userID, role)
	if isUniqueViolation(err) {
		return Conflictf("user %d is already a member of project %d", userID, projectID)
	}
	return err
}

// ListProjectMembers returns the project's members with their user details,
// ordered by user id.
func (t *Tx) ListProjectMembers(ctx context.Context, projectID int64) ([]models.ProjectMemberDetail, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT m.user_id, u.full_name, u.email, m.role
		 FROM project_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.project_id = $1
		 ORDER BY m.user_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.ProjectMemberDetail
	for rows.Next() {
		var m models.ProjectMemberDetail
		if err := rows.Scan(&m.UserID, &m.FullName, &m.Email, &m.Role); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// IsProjectMember reports whether userID belongs to the project.
func (t *Tx) IsProjectMember(ctx context.Context, projectID, userID int64) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx,
		`SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func deriveProjectKey(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		r := []rune(word)[0]
		b.WriteRune(r)
	}
	key := strings.ToUpper(b.String())
	if len(key) > 8 {
		key = key[:8]
	}
	return key
}
