package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zentrohq/zentro/pkg/models"
)

const taskColumns = `id, project_id, epic_id, sprint_id, title, description,
	status, priority, estimate, due_date, creator_id, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var task models.Task
	err := row.Scan(
		&task.ID, &task.ProjectID, &task.EpicID, &task.SprintID,
		&task.Title, &task.Description, &task.Status, &task.Priority,
		&task.Estimate, &task.DueDate, &task.CreatorID,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask inserts a task into an existing project.
func (t *Tx) CreateTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	if task.Title == "" {
		return nil, Servicef("task title must not be empty")
	}
	if task.Status == "" {
		task.Status = models.StatusTodo
	}
	if !models.ValidTaskStatus(task.Status) {
		return nil, Servicef("invalid task status %q", task.Status)
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}
	if !models.ValidPriority(task.Priority) {
		return nil, Servicef("invalid task priority %q", task.Priority)
	}
	if _, err := t.GetProject(ctx, task.ProjectID); err != nil {
		return nil, err
	}

	row := t.tx.QueryRowContext(ctx,
		`INSERT INTO tasks (project_id, epic_id, sprint_id, title, description,
			status, priority, estimate, due_date, creator_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+taskColumns,
		task.ProjectID, task.EpicID, task.SprintID, task.Title, task.Description,
		task.Status, task.Priority, task.Estimate, task.DueDate, task.CreatorID)
	return scanTask(row)
}

// GetTask fetches a task by id.
func (t *Tx) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundf("task %d", id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateTask applies a partial update. Nil patch fields leave the column
// unchanged.
func (t *Tx) UpdateTask(ctx context.Context, id int64, patch models.TaskPatch) (*models.Task, error) {
	if patch.Status != nil && !models.ValidTaskStatus(*patch.Status) {
		return nil, Servicef("invalid task status %q", *patch.Status)
	}
	if patch.Priority != nil && !models.ValidPriority(*patch.Priority) {
		return nil, Servicef("invalid task priority %q", *patch.Priority)
	}

	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Priority != nil {
		add("priority", *patch.Priority)
	}
	if patch.EpicID != nil {
		add("epic_id", *patch.EpicID)
	}
	if patch.SprintID != nil {
		add("sprint_id", *patch.SprintID)
	}
	if patch.Estimate != nil {
		add("estimate", *patch.Estimate)
	}
	if patch.DueDate != nil {
		add("due_date", *patch.DueDate)
	}

	row := t.tx.QueryRowContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING `+taskColumns,
		args...)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundf("task %d", id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateTaskStatus changes only the workflow status.
func (t *Tx) UpdateTaskStatus(ctx context.Context, id int64, status models.TaskStatus) (*models.Task, error) {
	if !models.ValidTaskStatus(status) {
		return nil, Servicef("invalid task status %q", status)
	}
	row := t.tx.QueryRowContext(ctx,
		`UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+taskColumns,
		id, status)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundf("task %d", id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task together with its assignee and follow-up rows.
func (t *Tx) DeleteTask(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM task_assignees WHERE task_id = $1`, id); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM task_followups WHERE task_id = $1`, id); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return NotFoundf("task %d", id)
	}
	return nil
}

// ListTasksAssignedTo returns the tasks a user is assigned to, ordered by id.
func (t *Tx) ListTasksAssignedTo(ctx context.Context, userID int64) ([]models.Task, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 JOIN task_assignees a ON a.task_id = tasks.id
		 WHERE a.user_id = $1
		 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// AssignTask assigns userID to the task. Assigning an already-assigned user
// is a no-op; the bool reports whether a new assignment was made.
func (t *Tx) AssignTask(ctx context.Context, taskID, userID int64) (bool, error) {
	if _, err := t.GetTask(ctx, taskID); err != nil {
		return false, err
	}
	if _, err := t.GetUser(ctx, userID); err != nil {
		return false, err
	}

	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO task_assignees (task_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (task_id, user_id) DO NOTHING`,
		taskID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UnassignTask removes userID from the task. Removing a non-assignee yields
// NotFound.
func (t *Tx) UnassignTask(ctx context.Context, taskID, userID int64) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM task_assignees WHERE task_id = $1 AND user_id = $2`,
		taskID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return NotFoundf("user %d is not assigned to task %d", userID, taskID)
	}
	return nil
}

// ListTaskAssignees returns the user ids assigned to a task.
func (t *Tx) ListTaskAssignees(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT user_id FROM task_assignees WHERE task_id = $1 ORDER BY user_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchTasks matches the query case-insensitively against title and
// description. projectID of 0 searches across all projects.
func (t *Tx) SearchTasks(ctx context.Context, projectID int64, query string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 25
	}
	pattern := "%" + query + "%"

	var (
		rows *sql.Rows
		err  error
	)
	if projectID > 0 {
		rows, err = t.tx.QueryContext(ctx,
			`SELECT `+taskColumns+` FROM tasks
			 WHERE project_id = $1 AND (title ILIKE $2 OR description ILIKE $2)
			 ORDER BY id LIMIT $3`,
			projectID, pattern, limit)
	} else {
		rows, err = t.tx.QueryContext(ctx,
			`SELECT `+taskColumns+` FROM tasks
			 WHERE title ILIKE $1 OR description ILIKE $1
			 ORDER BY id LIMIT $2`,
			pattern, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// CountTasksByStatus aggregates a project's tasks per status.
func (t *Tx) CountTasksByStatus(ctx context.Context, projectID int64) ([]models.StatusCount, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE project_id = $1
		 GROUP BY status ORDER BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.StatusCount
	for rows.Next() {
		var c models.StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// ListOverdueTasks returns tasks due strictly before now and not done,
// oldest due date first.
func (t *Tx) ListOverdueTasks(ctx context.Context, now time.Time) ([]models.Task, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE due_date IS NOT NULL AND due_date < $1 AND status != $2
		 ORDER BY due_date`, now, models.StatusDone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}
