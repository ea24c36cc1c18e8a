package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"subscription-ledger/internal/config"
	"subscription-ledger/internal/core"
	"subscription-ledger/internal/store/memory"
	"subscription-ledger/internal/store/postgres"
	"subscription-ledger/internal/store/sqlite"
)

func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	if connStr == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse DATABASE_URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

// OpenStore opens the configured ledger store and brings its schema up to date.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log logrus.FieldLogger) (core.Store, error) {
	var store core.Store
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store = postgres.New(pool, postgres.Options{MaxRetries: cfg.TxMaxRetries, Logger: log})
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		store = s
	case config.DriverMemory:
		store = memory.New()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	log.WithField("driver", cfg.Driver).Info("ledger store ready")
	return store, nil
}
