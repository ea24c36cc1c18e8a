package db

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"subscription-ledger/internal/config"
	"subscription-ledger/internal/core"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestOpenStore_Drivers(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []config.StoreConfig{
		{Driver: config.DriverMemory},
		{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "ledger.db")},
	} {
		t.Run(cfg.Driver, func(t *testing.T) {
			store, err := OpenStore(ctx, cfg, quietLogger())
			if err != nil {
				t.Fatalf("OpenStore: %v", err)
			}
			defer store.Close()
			err = store.Update(ctx, func(tx core.Tx) error {
				return tx.InsertCustomer(ctx, &core.Customer{Name: "Acme", Active: true})
			})
			if err != nil {
				t.Fatalf("insert: %v", err)
			}
		})
	}
}

func TestOpenStore_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenStore(ctx, config.StoreConfig{Driver: "mongo"}, quietLogger()); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := OpenStore(ctx, config.StoreConfig{Driver: config.DriverPostgres}, quietLogger()); err == nil {
		t.Error("expected error for missing DATABASE_URL")
	}
}
