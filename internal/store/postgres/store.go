// Package postgres is the production ledger store. Writers lock the payment
// and accrual rows they read, and transactions that lose a serialization race
// or a deadlock are replayed.
package postgres

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"subscription-ledger/internal/core"
)

//go:embed schema.sql
var schema string

const (
	DefaultMaxRetries = 3

	retryBaseDelay = 20 * time.Millisecond
	retryMaxDelay  = 500 * time.Millisecond

	schemaVersion   = "001"
	migrationLockID = 7462839
)

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	MaxRetries int
	Logger     logrus.FieldLogger
}

// Store implements core.Store on a pgx pool.
type Store struct {
	pool  *pgxpool.Pool
	retry failsafe.Executor[any]
	log   logrus.FieldLogger
}

// New wraps pool. The store owns the pool and closes it in Close.
func New(pool *pgxpool.Pool, opts Options) *Store {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	log := opts.Logger.WithField("component", "postgres_store")

	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(retryBaseDelay, retryMaxDelay).
		WithMaxRetries(opts.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool { return isRetryable(err) }).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			log.WithError(e.LastError()).WithField("attempt", e.Attempts()).Warn("retrying ledger transaction")
		}).
		Build()

	return &Store{pool: pool, retry: failsafe.With[any](policy), log: log}
}

// isRetryable reports serialization failures and deadlocks.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// Migrate applies the embedded schema under an advisory lock, so concurrent
// starts apply it once. The schema's checksum is recorded in schema_migrations
// and an unchanged schema is skipped.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	sum := sha256.Sum256([]byte(schema))
	checksum := hex.EncodeToString(sum[:])

	var existing string
	err = tx.QueryRow(ctx, "SELECT checksum FROM schema_migrations WHERE version = $1", schemaVersion).Scan(&existing)
	switch {
	case err == nil && existing == checksum:
		s.log.WithField("version", schemaVersion).Debug("schema up to date")
		return tx.Commit(ctx)
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}

	if _, err := tx.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO schema_migrations (version, checksum) VALUES ($1, $2)
ON CONFLICT (version) DO UPDATE SET checksum = EXCLUDED.checksum, applied_at = now()`,
		schemaVersion, checksum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	s.log.WithFields(logrus.Fields{"version": schemaVersion, "checksum": checksum[:12]}).Info("schema applied")
	return nil
}

func (s *Store) Update(ctx context.Context, fn func(tx core.Tx) error) error {
	return s.retry.WithContext(ctx).Run(func() error {
		return s.run(ctx, pgx.TxOptions{}, false, fn)
	})
}

func (s *Store) View(ctx context.Context, fn func(tx core.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, true, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, readOnly bool, fn func(tx core.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(&tx{q: pgTx, lock: !readOnly}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
