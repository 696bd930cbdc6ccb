// Package checkpoint persists per-thread conversation snapshots so that an
// agent run can resume a conversation after a restart.
//
// One supervised background goroutine per process owns an exclusive pinned
// database connection for the store's lifetime. Readiness is signaled by
// closing a channel, never polled, and shutdown runs connection teardown to
// completion before Close returns.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/zentrohq/zentro/internal/observability"
	"github.com/zentrohq/zentro/internal/retry"
)

// ErrNotReady is returned when the store has not finished initializing
// within the caller's wait budget. Callers fail fast instead of hanging on
// an unavailable database.
var ErrNotReady = errors.New("checkpoint store not ready")

// Store is the durable snapshot store. All statements run on a single
// pinned connection, serialized by a mutex.
type Store struct {
	db           *sql.DB
	ownsDB       bool
	readyTimeout time.Duration
	logger       *observability.Logger
	metrics      *observability.Metrics

	mu   sync.Mutex
	conn *sql.Conn

	ready  chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// Open creates a store on a fresh connection pool. Start must be called
// before use. Metrics may be nil.
func Open(dsn string, readyTimeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	s := NewWithDB(db, readyTimeout, logger, metrics)
	s.ownsDB = true
	return s, nil
}

// NewWithDB creates a store over an existing handle. Used by tests.
func NewWithDB(db *sql.DB, readyTimeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Store {
	return &Store{
		db:           db,
		readyTimeout: readyTimeout,
		logger:       logger,
		metrics:      metrics,
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the supervisor goroutine. It pins one connection with
// exponential backoff, ensures the checkpoint table, signals readiness, and
// then holds the connection until the store is closed.
func (s *Store) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		defer close(s.done)

		var conn *sql.Conn
		result := retry.Do(runCtx, retry.Exponential(6, 500*time.Millisecond, 10*time.Second), func() error {
			c, err := s.db.Conn(runCtx)
			if err != nil {
				return err
			}
			if _, err := c.ExecContext(runCtx, `CREATE TABLE IF NOT EXISTS agent_checkpoints (
				thread_id TEXT PRIMARY KEY,
				state JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`); err != nil {
				c.Close()
				return err
			}
			conn = c
			return nil
		})
		if result.Err != nil {
			s.logger.Error(runCtx, "checkpoint store failed to initialize",
				"error", result.Err, "attempts", result.Attempts)
			return
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		close(s.ready)
		s.logger.Info(runCtx, "checkpoint store ready", "attempts", result.Attempts)

		<-runCtx.Done()

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
		if s.ownsDB {
			s.db.Close()
		}
	}()
}

// WaitReady blocks until the store is ready, bounded by the configured
// timeout and the caller's context. Expiry of either yields ErrNotReady.
func (s *Store) WaitReady(ctx context.Context) error {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.CheckpointReadyWait.Observe(time.Since(start).Seconds())
		}
	}()

	timer := time.NewTimer(s.readyTimeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrNotReady, ctx.Err())
	case <-timer.C:
		return ErrNotReady
	}
}

// Close stops the supervisor and blocks until the pinned connection has been
// torn down.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	return nil
}

func (s *Store) pinned() (*sql.Conn, error) {
	select {
	case <-s.ready:
	default:
		return nil, ErrNotReady
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, ErrNotReady
	}
	return conn, nil
}

func (s *Store) countOp(op string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.CheckpointOps.WithLabelValues(op, status).Inc()
}

// Put upserts the snapshot for a thread.
func (s *Store) Put(ctx context.Context, threadID string, state any) (err error) {
	defer func() { s.countOp("put", err) }()

	conn, err := s.pinned()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = conn.ExecContext(ctx,
		`INSERT INTO agent_checkpoints (thread_id, state, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (thread_id) DO UPDATE SET state = $2, updated_at = now()`,
		threadID, raw)
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Get loads the snapshot for a thread into out. The bool reports whether a
// snapshot existed.
func (s *Store) Get(ctx context.Context, threadID string, out any) (found bool, err error) {
	defer func() { s.countOp("get", err) }()

	conn, err := s.pinned()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var raw []byte
	err = conn.QueryRowContext(ctx,
		`SELECT state FROM agent_checkpoints WHERE thread_id = $1`, threadID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get checkpoint: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return true, nil
}

// Delete drops a thread's snapshot. Deleting a missing snapshot is not an
// error.
func (s *Store) Delete(ctx context.Context, threadID string) (err error) {
	defer func() { s.countOp("delete", err) }()

	conn, err := s.pinned()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := conn.ExecContext(ctx,
		`DELETE FROM agent_checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
