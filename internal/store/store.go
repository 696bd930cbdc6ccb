// Package store implements the Postgres-backed domain store: projects,
// epics, sprints, tasks, users, chats, and follow-ups, with a transactional
// surface for the tool layer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/zentrohq/zentro/internal/observability"
	"github.com/zentrohq/zentro/internal/retry"
)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store owns the database handle. All domain reads and writes go through
// transactions obtained from WithTx.
type Store struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Open connects to Postgres and verifies the connection with a few retried
// pings, so a service starting alongside its database does not flap. Metrics
// may be nil.
func Open(ctx context.Context, dsn string, opts Options, logger *observability.Logger, metrics *observability.Metrics) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	result := retry.Do(ctx, retry.Linear(5, time.Second), func() error {
		return db.PingContext(ctx)
	})
	if result.Err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", result.Err)
	}

	logger.Info(ctx, "database connected", "attempts", result.Attempts)
	return &Store{db: db, logger: logger, metrics: metrics}, nil
}

// NewWithDB wraps an existing handle. Used by tests with sqlmock.
func NewWithDB(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *Store {
	return &Store{db: db, logger: logger, metrics: metrics}
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity, for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx is one domain transaction. Every entity operation hangs off Tx so that
// a tool dispatch is atomic end to end.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	start := time.Now()
	err := s.withTx(ctx, fn)
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.DBTransactions.WithLabelValues(status).Inc()
		s.metrics.DBTxDuration.Observe(time.Since(start).Seconds())
	}
	return err
}

func (s *Store) withTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
