package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the durable ledger. Every mutating operation of the engine runs
// inside exactly one Update call; reads that must be consistent run inside View.
type Store interface {
	// Update runs fn in a read-write transaction. Any error from fn rolls back
	// every write made through tx.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Migrate creates the schema if it does not exist.
	Migrate(ctx context.Context) error

	Close() error
}

// Tx is the set of record operations available inside a transaction.
// Getters return *NotFoundError for missing ids. Inside Update, getters on
// payments and accruals lock the row until the transaction ends.
// Insert methods assign ID and CreatedAt on the passed record.
type Tx interface {
	InsertCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id int) (*Customer, error)
	UpdateCustomer(ctx context.Context, c *Customer) error
	DeleteCustomer(ctx context.Context, id int) error
	ListCustomers(ctx context.Context, f CustomerFilter) ([]Customer, error)

	InsertPlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, id int) (*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error
	DeletePlan(ctx context.Context, id int) error
	ListPlans(ctx context.Context, f PlanFilter) ([]Plan, error)

	InsertSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, id int) (*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error
	DeleteSubscription(ctx context.Context, id int) error
	ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]Subscription, error)

	// InsertAccrual returns *DuplicateAccrualError when the subscription
	// already has an accrual for the period. The transaction stays usable.
	InsertAccrual(ctx context.Context, a *Accrual) error
	GetAccrual(ctx context.Context, id int) (*Accrual, error)
	UpdateAccrualStatus(ctx context.Context, id int, status AccrualStatus) error
	DeleteAccrual(ctx context.Context, id int) error
	// ListAccruals orders by period, accrual date, then id.
	ListAccruals(ctx context.Context, f AccrualFilter) ([]Accrual, error)

	InsertPayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id int) (*Payment, error)
	UpdatePaymentRemaining(ctx context.Context, id int, remaining decimal.Decimal) error
	DeletePayment(ctx context.Context, id int) error
	// ListPayments orders by payment date, then id.
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)

	InsertAllocation(ctx context.Context, a *Allocation) error
	GetAllocation(ctx context.Context, id int) (*Allocation, error)
	DeleteAllocation(ctx context.Context, id int) error
	// ListAllocations orders by id.
	ListAllocations(ctx context.Context, f AllocationFilter) ([]Allocation, error)

	InsertAdjustment(ctx context.Context, a *Adjustment) error
	GetAdjustment(ctx context.Context, id int) (*Adjustment, error)
	DeleteAdjustment(ctx context.Context, id int) error
	// ListAdjustments orders by date, then id.
	ListAdjustments(ctx context.Context, f AdjustmentFilter) ([]Adjustment, error)
}

// ── Filters ───────────────────────────────────────────────────────────────────
// Zero-valued fields do not filter.

type CustomerFilter struct {
	ActiveOnly bool
}

type PlanFilter struct {
	ActiveOnly bool
}

type SubscriptionFilter struct {
	CustomerID int
	PlanID     int
	ActiveOnly bool
}

type AccrualFilter struct {
	CustomerID     int
	SubscriptionID int
	PlanID         int
	Period         *Period
	Statuses       []AccrualStatus
	// DueOnOrBefore keeps accruals whose accrual date is not after this day.
	DueOnOrBefore *time.Time
}

type PaymentFilter struct {
	CustomerID int
	From       *time.Time
	To         *time.Time
}

type AllocationFilter struct {
	PaymentID  int
	AccrualID  int
	CustomerID int
}

type AdjustmentFilter struct {
	CustomerID       int
	AccrualID        int
	CustomerWideOnly bool
}

// MatchStatus reports whether s passes the filter's status list.
func (f AccrualFilter) MatchStatus(s AccrualStatus) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, v := range f.Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Clock supplies the current time to services.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
