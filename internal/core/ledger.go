package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Ledger groups every engine service over one store.
type Ledger struct {
	Catalog     CatalogService
	Accruals    AccrualService
	Payments    PaymentService
	Allocations AllocationService
	Adjustments AdjustmentService
	Balances    BalanceService
	Reports     ReportingService

	// Clock supplies today for callers that default dates and periods.
	Clock Clock
}

// Options tunes a Ledger. Zero values fall back to defaults.
type Options struct {
	Clock             Clock
	Logger            logrus.FieldLogger
	ReportConcurrency int
}

func NewLedger(store Store, opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	balances := NewBalanceService(store, opts.Clock)
	return &Ledger{
		Catalog:     NewCatalogService(store, opts.Clock, opts.Logger),
		Accruals:    NewAccrualService(store, opts.Clock, opts.Logger),
		Payments:    NewPaymentService(store, opts.Clock, opts.Logger),
		Allocations: NewAllocationService(store, opts.Clock, opts.Logger),
		Adjustments: NewAdjustmentService(store, opts.Clock, opts.Logger),
		Balances:    balances,
		Reports:     NewReportingService(store, opts.Clock, opts.ReportConcurrency),
		Clock:       opts.Clock,
	}
}

// base holds what every service needs.
type base struct {
	store Store
	clock Clock
	log   logrus.FieldLogger
}

func newBase(store Store, clock Clock, log logrus.FieldLogger) base {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return base{store: store, clock: clock, log: log}
}

func (b base) today() time.Time {
	return DateOnly(b.clock.Now())
}

// dateOr returns the day of t, or today when t is zero.
func (b base) dateOr(t time.Time) time.Time {
	if t.IsZero() {
		return b.today()
	}
	return DateOnly(t)
}

// ── Accrual position ──────────────────────────────────────────────────────────

// AccrualPosition is the derived money state of one accrual.
// EffectiveOwed = Amount + Adjustments; Outstanding = max(EffectiveOwed − Paid, 0).
type AccrualPosition struct {
	Accrual       Accrual         `json:"accrual"`
	Adjustments   decimal.Decimal `json:"adjustments"`
	EffectiveOwed decimal.Decimal `json:"effective_owed"`
	Paid          decimal.Decimal `json:"paid"`
	Outstanding   decimal.Decimal `json:"outstanding"`
}

func newPosition(a Accrual, allocs []Allocation, adjs []Adjustment) AccrualPosition {
	pos := AccrualPosition{Accrual: a, Adjustments: decimal.Zero, Paid: decimal.Zero}
	for _, adj := range adjs {
		pos.Adjustments = pos.Adjustments.Add(adj.Effect())
	}
	for _, al := range allocs {
		pos.Paid = pos.Paid.Add(al.Amount)
	}
	pos.EffectiveOwed = a.Amount.Add(pos.Adjustments)
	pos.Outstanding = pos.EffectiveOwed.Sub(pos.Paid)
	if pos.Outstanding.IsNegative() || a.Status == AccrualCancelled {
		pos.Outstanding = decimal.Zero
	}
	return pos
}

// loadPosition reads the allocations and adjustments of a and folds them.
func loadPosition(ctx context.Context, tx Tx, a *Accrual) (AccrualPosition, error) {
	allocs, err := tx.ListAllocations(ctx, AllocationFilter{AccrualID: a.ID})
	if err != nil {
		return AccrualPosition{}, fmt.Errorf("failed to list allocations of accrual %d: %w", a.ID, err)
	}
	adjs, err := tx.ListAdjustments(ctx, AdjustmentFilter{AccrualID: a.ID})
	if err != nil {
		return AccrualPosition{}, fmt.Errorf("failed to list adjustments of accrual %d: %w", a.ID, err)
	}
	return newPosition(*a, allocs, adjs), nil
}

// deriveStatus maps paid against effective owed. CANCELLED is terminal.
func deriveStatus(current AccrualStatus, effective, paid decimal.Decimal) AccrualStatus {
	switch {
	case current == AccrualCancelled:
		return AccrualCancelled
	case paid.GreaterThanOrEqual(effective):
		return AccrualPaid
	case paid.IsPositive():
		return AccrualPartiallyPaid
	default:
		return AccrualPending
	}
}

// syncStatus recomputes the status of a and persists it when it moved.
func syncStatus(ctx context.Context, tx Tx, a *Accrual) (AccrualPosition, error) {
	pos, err := loadPosition(ctx, tx, a)
	if err != nil {
		return pos, err
	}
	next := deriveStatus(a.Status, pos.EffectiveOwed, pos.Paid)
	if next != a.Status {
		if err := tx.UpdateAccrualStatus(ctx, a.ID, next); err != nil {
			return pos, fmt.Errorf("failed to update accrual %d status: %w", a.ID, err)
		}
		a.Status = next
		pos.Accrual.Status = next
	}
	return pos, nil
}

func requirePositive(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &InvalidAmountError{Field: field, Amount: amount, Reason: "must be greater than zero"}
	}
	return nil
}
