package store

import (
	"context"
	"fmt"
	"time"
)

// migration is one ordered schema change. Migrations are applied exactly
// once, tracked in schema_migrations by name.
type migration struct {
	Name string
	SQL  string
}

var migrations = []migration{
	{
		Name: "001_users",
		SQL: `CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			full_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		Name: "002_projects",
		SQL: `CREATE TABLE IF NOT EXISTS projects (
			id BIGSERIAL PRIMARY KEY,
			key TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			creator_id BIGINT REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		Name: "003_project_members",
		SQL: `CREATE TABLE IF NOT EXISTS project_members (
			project_id BIGINT NOT NULL REFERENCES projects(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			role TEXT NOT NULL DEFAULT 'member',
			PRIMARY KEY (project_id, user_id)
		)`,
	},
	{
		Name: "004_epics",
		SQL: `CREATE TABLE IF NOT EXISTS epics (
			id BIGSERIAL PRIMARY KEY,
			project_id BIGINT NOT NULL REFERENCES projects(id),
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
	},
	{
		Name: "005_sprints",
		SQL: `CREATE TABLE IF NOT EXISTS sprints (
			id BIGSERIAL PRIMARY KEY,
			project_id BIGINT NOT NULL REFERENCES projects(id),
			name TEXT NOT NULL,
			starts_at TIMESTAMPTZ,
			ends_at TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	},
	{
		Name: "006_tasks",
		SQL: `CREATE TABLE IF NOT EXISTS tasks (
			id BIGSERIAL PRIMARY KEY,
			project_id BIGINT NOT NULL REFERENCES projects(id),
			epic_id BIGINT REFERENCES epics(id),
			sprint_id BIGINT REFERENCES sprints(id),
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'todo',
			priority TEXT NOT NULL DEFAULT 'medium',
			estimate INT,
			due_date TIMESTAMPTZ,
			creator_id BIGINT REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		Name: "007_task_assignees",
		SQL: `CREATE TABLE IF NOT EXISTS task_assignees (
			task_id BIGINT NOT NULL REFERENCES tasks(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			PRIMARY KEY (task_id, user_id)
		)`,
	},
	{
		Name: "008_chats",
		SQL: `CREATE TABLE IF NOT EXISTS chats (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			thread_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		Name: "009_chat_messages",
		SQL: `CREATE TABLE IF NOT EXISTS chat_messages (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL REFERENCES chats(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		Name: "010_task_followups",
		SQL: `CREATE TABLE IF NOT EXISTS task_followups (
			id BIGSERIAL PRIMARY KEY,
			task_id BIGINT NOT NULL REFERENCES tasks(id),
			recipient_id BIGINT NOT NULL REFERENCES users(id),
			message TEXT NOT NULL,
			reason TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		Name: "011_indexes",
		SQL: `CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
		CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_date) WHERE due_date IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages(chat_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_followups_recipient ON task_followups(recipient_id, status)`,
	},
}

// AppliedMigration is one row of migration history.
type AppliedMigration struct {
	Name      string
	AppliedAt time.Time
}

// Migrate applies all pending migrations in order. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := s.appliedSet(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Name] {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Name, err)
		}
		s.logger.Info(ctx, "migration applied", "name", m.Name)
	}
	return nil
}

// MigrationStatus lists applied migrations in application order.
func (s *Store) MigrationStatus(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, applied_at FROM schema_migrations ORDER BY applied_at, name`)
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Name, &m.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) appliedSet(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
