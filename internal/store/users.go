package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zentrohq/zentro/pkg/models"
)

// CreateUser inserts a user. A duplicate email yields Conflict.
func (t *Tx) CreateUser(ctx context.Context, email, fullName string) (*models.User, error) {
	var u models.User
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO users (email, full_name) VALUES ($1, $2)
		 RETURNING id, email, full_name, created_at`,
		email, fullName,
	).Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt)
	if isUniqueViolation(err) {
		return nil, Conflictf("user with email %q already exists", email)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser fetches a user by id.
func (t *Tx) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, email, full_name, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundf("user %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches a user by email. Used by the dev token endpoint.
func (t *Tx) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, email, full_name, created_at FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundf("user with email %q", email)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users ordered by id.
func (t *Tx) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, email, full_name, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
