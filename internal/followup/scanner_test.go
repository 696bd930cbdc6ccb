package followup

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/zentrohq/zentro/internal/observability"
	"github.com/zentrohq/zentro/internal/store"
)

// stubGenerator returns canned messages per prompt, or an error.
type stubGenerator struct {
	message string
	err     error
	calls   int
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls++
	return g.message, g.err
}

func newTestScanner(t *testing.T, gen Generator) (*Scanner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	st := store.NewWithDB(db, logger, nil)
	return NewScanner(st, gen, logger, observability.NewMetrics()), mock
}

func TestReason(t *testing.T) {
	due := time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC)

	if got := Reason(&due); got != "This task was due on March 9, 2026." {
		t.Errorf("Reason(due) = %q", got)
	}
	if got := Reason(nil); got != "This task is overdue." {
		t.Errorf("Reason(nil) = %q", got)
	}
}

func taskCols() []string {
	return []string{"id", "project_id", "epic_id", "sprint_id", "title", "description",
		"status", "priority", "estimate", "due_date", "creator_id", "created_at", "updated_at"}
}

func followUpCols() []string {
	return []string{"id", "task_id", "recipient_id", "message", "reason", "status", "created_at", "updated_at"}
}

func TestRun_CreatesFollowUps(t *testing.T) {
	gen := &stubGenerator{message: "Quick nudge: the report is overdue."}
	s, mock := newTestScanner(t, gen)

	now := time.Now()
	due := now.AddDate(0, 0, -3)

	// Read phase: one overdue task with one assignee and no pending nudge.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM tasks`).
		WillReturnRows(sqlmock.NewRows(taskCols()).
			AddRow(11, 1, nil, nil, "Ship report", "", "in_progress", "high", nil, due, nil, now, now))
	mock.ExpectQuery(`SELECT user_id FROM task_assignees`).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(7))
	mock.ExpectQuery(`SELECT 1 FROM task_followups`).
		WithArgs(int64(11), int64(7), "pending").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectCommit()

	// Write phase: dedupe re-check then insert.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM task_followups`).
		WithArgs(int64(11), int64(7), "pending").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectQuery(`INSERT INTO task_followups`).
		WillReturnRows(sqlmock.NewRows(followUpCols()).
			AddRow(1, 11, 7, gen.message, Reason(&due), "pending", now, now))
	mock.ExpectCommit()

	created, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRun_SkipsPendingPairs(t *testing.T) {
	gen := &stubGenerator{message: "unused"}
	s, mock := newTestScanner(t, gen)

	now := time.Now()
	due := now.AddDate(0, 0, -1)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM tasks`).
		WillReturnRows(sqlmock.NewRows(taskCols()).
			AddRow(11, 1, nil, nil, "Ship report", "", "todo", "medium", nil, due, nil, now, now))
	mock.ExpectQuery(`SELECT user_id FROM task_assignees`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(7))
	mock.ExpectQuery(`SELECT 1 FROM task_followups`).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectCommit()

	created, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0", created)
	}
	if gen.calls != 0 {
		t.Errorf("generator calls = %d, want 0", gen.calls)
	}
}

func TestRun_GenerationFailureSkipsTask(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model unavailable")}
	s, mock := newTestScanner(t, gen)

	now := time.Now()
	due := now.AddDate(0, 0, -2)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM tasks`).
		WillReturnRows(sqlmock.NewRows(taskCols()).
			AddRow(11, 1, nil, nil, "Ship report", "", "todo", "medium", nil, due, nil, now, now).
			AddRow(12, 1, nil, nil, "Write docs", "", "todo", "low", nil, due, nil, now, now))
	mock.ExpectQuery(`SELECT user_id FROM task_assignees`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(7))
	mock.ExpectQuery(`SELECT 1 FROM task_followups`).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectQuery(`SELECT user_id FROM task_assignees`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(7))
	mock.ExpectQuery(`SELECT 1 FROM task_followups`).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectCommit()

	created, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("a per-task failure must not abort the sweep: %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0", created)
	}
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, want one per candidate", gen.calls)
	}
}
