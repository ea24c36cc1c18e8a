package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"subscription-ledger/internal/core"
	"subscription-ledger/internal/store/memory"
	"subscription-ledger/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store {
		return memory.New()
	})
}

func TestMemoryStore_ViewIsReadOnly(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	err := s.View(ctx, func(tx core.Tx) error {
		return tx.InsertCustomer(ctx, &core.Customer{Name: "nope"})
	})
	if err == nil {
		t.Fatal("expected write inside View to fail")
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := memory.New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := s.Update(context.Background(), func(core.Tx) error { return nil })
	if !errors.Is(err, core.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestMemoryStore_RollbackIsolatesPointerFields(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	end := time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)
	price := decimal.RequireFromString("80")
	sub := core.Subscription{CustomerID: 1, PlanID: 2, StartDate: end.AddDate(-1, 0, 1), EndDate: &end, PriceOverride: &price, Active: true}
	if err := s.Update(ctx, func(tx core.Tx) error { return tx.InsertSubscription(ctx, &sub) }); err != nil {
		t.Fatalf("InsertSubscription: %v", err)
	}
	// The caller's own pointers are not the stored ones.
	end = end.AddDate(1, 0, 0)

	failed := errors.New("abort")
	err := s.Update(ctx, func(tx core.Tx) error {
		got, err := tx.GetSubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		*got.EndDate = got.EndDate.AddDate(5, 0, 0)
		*got.PriceOverride = decimal.Zero
		return failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("expected the callback error, got %v", err)
	}

	err = s.View(ctx, func(tx core.Tx) error {
		got, err := tx.GetSubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		if want := time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC); !got.EndDate.Equal(want) {
			t.Errorf("end date = %s, want %s", got.EndDate, want)
		}
		if !got.PriceOverride.Equal(price) {
			t.Errorf("price override = %s, want %s", got.PriceOverride, price)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}
