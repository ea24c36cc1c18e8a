package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a customer's position as of a date.
//
//	Owed            = Σ accruals + Σ adjustment effects − Σ allocations
//	CreditOnAccount = Σ payments − Σ allocations from them
//	Net             = Owed − CreditOnAccount (only when requested)
//
// Cancelled accruals and their adjustments are excluded. An allocation is
// counted against Owed only once its accrual is dated on or before AsOf;
// until then it stays in CreditOnAccount.
type Balance struct {
	CustomerID      int              `json:"customer_id"`
	AsOf            time.Time        `json:"as_of"`
	Accrued         decimal.Decimal  `json:"accrued"`
	Adjustments     decimal.Decimal  `json:"adjustments"`
	Allocated       decimal.Decimal  `json:"allocated"`
	Owed            decimal.Decimal  `json:"owed"`
	CreditOnAccount decimal.Decimal  `json:"credit_on_account"`
	Net             *decimal.Decimal `json:"net,omitempty"`
}

// BalanceService derives balances. It never writes.
type BalanceService interface {
	// Balance computes the customer's balance as of asOf (zero means today).
	Balance(ctx context.Context, customerID int, asOf time.Time, includeCredit bool) (*Balance, error)
}

type balanceService struct {
	base
}

func NewBalanceService(store Store, clock Clock) BalanceService {
	return &balanceService{base: newBase(store, clock, nil)}
}

func (s *balanceService) Balance(ctx context.Context, customerID int, asOf time.Time, includeCredit bool) (*Balance, error) {
	day := s.dateOr(asOf)
	var out *Balance
	err := s.store.View(ctx, func(tx Tx) error {
		if _, err := tx.GetCustomer(ctx, customerID); err != nil {
			return err
		}
		b, err := computeBalance(ctx, tx, customerID, day)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if includeCredit {
		net := out.Owed.Sub(out.CreditOnAccount)
		out.Net = &net
	}
	return out, nil
}

// computeBalance folds the customer's ledger rows as of day.
func computeBalance(ctx context.Context, tx Tx, customerID int, day time.Time) (*Balance, error) {
	b := &Balance{
		CustomerID:      customerID,
		AsOf:            day,
		Accrued:         decimal.Zero,
		Adjustments:     decimal.Zero,
		Allocated:       decimal.Zero,
		CreditOnAccount: decimal.Zero,
	}

	accruals, err := tx.ListAccruals(ctx, AccrualFilter{CustomerID: customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list accruals: %w", err)
	}
	counted := make(map[int]bool, len(accruals))
	for _, a := range accruals {
		if a.Status == AccrualCancelled || a.AccrualDate.After(day) {
			continue
		}
		counted[a.ID] = true
		b.Accrued = b.Accrued.Add(a.Amount)
	}

	adjs, err := tx.ListAdjustments(ctx, AdjustmentFilter{CustomerID: customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	for _, adj := range adjs {
		if adj.Date.After(day) {
			continue
		}
		if adj.AccrualID != nil && !counted[*adj.AccrualID] {
			continue
		}
		b.Adjustments = b.Adjustments.Add(adj.Effect())
	}

	payments, err := tx.ListPayments(ctx, PaymentFilter{CustomerID: customerID, To: &day})
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	received := make(map[int]bool, len(payments))
	for _, p := range payments {
		received[p.ID] = true
		b.CreditOnAccount = b.CreditOnAccount.Add(p.Amount)
	}

	allocs, err := tx.ListAllocations(ctx, AllocationFilter{CustomerID: customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	for _, al := range allocs {
		// An allocation counts by its own date, even before its accrual falls due.
		if al.AllocatedOn.After(day) {
			continue
		}
		b.Allocated = b.Allocated.Add(al.Amount)
		if received[al.PaymentID] {
			b.CreditOnAccount = b.CreditOnAccount.Sub(al.Amount)
		}
	}

	b.Owed = b.Accrued.Add(b.Adjustments).Sub(b.Allocated)
	return b, nil
}
