package checkpoint

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zentrohq/zentro/internal/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Output: io.Discard})
}

func TestWaitReady_TimesOut(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// Never started: readiness can only come from the timeout path.
	s := NewWithDB(db, 30*time.Millisecond, testLogger(), nil)

	start := time.Now()
	err = s.WaitReady(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("returned after %v, expected to wait for the timeout", elapsed)
	}
}

func TestWaitReady_CancelledContext(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := NewWithDB(db, time.Minute, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.WaitReady(ctx); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestStore_Lifecycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS agent_checkpoints`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO agent_checkpoints`).
		WithArgs("42:abc", []byte(`{"turns":1}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT state FROM agent_checkpoints`).
		WithArgs("42:abc").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow([]byte(`{"turns":1}`)))
	mock.ExpectQuery(`SELECT state FROM agent_checkpoints`).
		WithArgs("42:missing").
		WillReturnRows(sqlmock.NewRows([]string{"state"}))

	s := NewWithDB(db, time.Second, testLogger(), nil)
	s.Start(context.Background())
	defer s.Close()

	ctx := context.Background()
	if err := s.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	if err := s.Put(ctx, "42:abc", map[string]int{"turns": 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var state map[string]int
	found, err := s.Get(ctx, "42:abc", &state)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || state["turns"] != 1 {
		t.Errorf("Get = (%v, %v), want turns=1", state, found)
	}

	found, err = s.Get(ctx, "42:missing", &state)
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if found {
		t.Error("missing snapshot reported as found")
	}
}

func TestMetrics_RecordOpsAndReadyWait(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS agent_checkpoints`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO agent_checkpoints`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM agent_checkpoints`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	metrics := observability.NewMetrics()
	s := NewWithDB(db, time.Second, testLogger(), metrics)
	s.Start(context.Background())
	defer s.Close()

	ctx := context.Background()
	if err := s.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if err := s.Put(ctx, "42:abc", map[string]int{"turns": 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, "42:abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var out map[string]int
	if _, err := NewWithDB(db, time.Minute, testLogger(), metrics).Get(ctx, "42:abc", &out); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Get on an unstarted store = %v, want ErrNotReady", err)
	}

	for _, tt := range []struct {
		op, status string
		want       float64
	}{
		{"put", "ok", 1},
		{"delete", "ok", 1},
		{"get", "error", 1},
	} {
		got := testutil.ToFloat64(metrics.CheckpointOps.WithLabelValues(tt.op, tt.status))
		if got != tt.want {
			t.Errorf("CheckpointOps{%s,%s} = %v, want %v", tt.op, tt.status, got, tt.want)
		}
	}

	families, err := metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var waits uint64
	for _, fam := range families {
		if fam.GetName() == "zentro_checkpoint_ready_wait_seconds" {
			waits = fam.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	if waits != 1 {
		t.Errorf("ready wait observations = %d, want 1", waits)
	}
}

func TestOps_BeforeReady(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := NewWithDB(db, time.Minute, testLogger(), nil)

	if err := s.Put(context.Background(), "1:a", struct{}{}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Put before ready = %v, want ErrNotReady", err)
	}
	if _, err := s.Get(context.Background(), "1:a", &struct{}{}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Get before ready = %v, want ErrNotReady", err)
	}
}
