package sqlite_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"subscription-ledger/internal/core"
	"subscription-ledger/internal/store/sqlite"
	"subscription-ledger/internal/store/storetest"
)

func openTestStore(t *testing.T) core.Store {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), log)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, openTestStore)
}

func TestSQLiteStore_MigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSQLiteStore_ViewIsReadOnly(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	ctx := context.Background()
	err := s.View(ctx, func(tx core.Tx) error {
		return tx.InsertCustomer(ctx, &core.Customer{Name: "nope"})
	})
	if err == nil {
		t.Fatal("expected write inside View to fail")
	}
}
