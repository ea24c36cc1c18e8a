package app

import (
	"context"
	"io"

	"subscription-ledger/internal/core"
)

// ApplicationService is the single interface all front-ends (CLI, Web) call.
// It decouples presentation from the ledger engine. Implementations must contain
// no fmt.Println, no ANSI codes, and no display logic of any kind.
// Dates are passed as YYYY-MM-DD strings and periods as YYYY-MM; an empty
// string means today or the current period.
type ApplicationService interface {
	// ── Customers ──

	CreateCustomer(ctx context.Context, req CustomerRequest) (*CustomerResult, error)
	UpdateCustomer(ctx context.Context, id int, req CustomerRequest) (*CustomerResult, error)
	SetCustomerActive(ctx context.Context, id int, active bool) (*CustomerResult, error)

	// DeleteCustomer removes a customer with no subscriptions or ledger history.
	DeleteCustomer(ctx context.Context, id int) error
	GetCustomer(ctx context.Context, id int) (*CustomerResult, error)
	ListCustomers(ctx context.Context, activeOnly bool) (*CustomerListResult, error)

	// ── Plans ──

	CreatePlan(ctx context.Context, req PlanRequest) (*PlanResult, error)
	UpdatePlan(ctx context.Context, id int, req PlanRequest) (*PlanResult, error)
	SetPlanActive(ctx context.Context, id int, active bool) (*PlanResult, error)
	DeletePlan(ctx context.Context, id int) error
	ListPlans(ctx context.Context, activeOnly bool) (*PlanListResult, error)

	// ── Subscriptions ──

	Subscribe(ctx context.Context, req SubscribeRequest) (*SubscriptionResult, error)
	UpdateSubscription(ctx context.Context, id int, req UpdateSubscriptionRequest) (*SubscriptionResult, error)
	SetSubscriptionActive(ctx context.Context, id int, active bool) (*SubscriptionResult, error)
	DeleteSubscription(ctx context.Context, id int) error
	ListSubscriptions(ctx context.Context, customerID int, activeOnly bool) (*SubscriptionListResult, error)

	// ── Accruals ──

	// GenerateAccruals runs one generation for a period. Re-running the same
	// period creates nothing new and reports the existing accruals as duplicates.
	GenerateAccruals(ctx context.Context, req GenerateAccrualsRequest) (*GenerateAccrualsResult, error)
	ListAccruals(ctx context.Context, q AccrualQuery) (*AccrualListResult, error)
	GetAccrual(ctx context.Context, id int) (*AccrualResult, error)
	CancelAccrual(ctx context.Context, id int) (*AccrualResult, error)
	DeleteAccrual(ctx context.Context, id int) error

	// ── Payments and allocation ──

	// RegisterPayment records a payment and, when AutoAllocate is set, runs
	// automatic allocation as a second, separate transaction.
	RegisterPayment(ctx context.Context, req RegisterPaymentRequest) (*PaymentResult, error)
	GetPayment(ctx context.Context, id int) (*PaymentResult, error)
	ListPayments(ctx context.Context, q PaymentQuery) (*PaymentListResult, error)
	DeletePayment(ctx context.Context, id int) error

	AllocateAuto(ctx context.Context, paymentID int, date string) (*core.AllocationResult, error)
	AllocateManual(ctx context.Context, req ManualAllocationRequest) (*core.AllocationResult, error)
	Deallocate(ctx context.Context, allocationID int) (*core.Allocation, error)

	// ── Adjustments ──

	ApplyAdjustment(ctx context.Context, req AdjustmentRequest) (*core.Adjustment, error)
	DeleteAdjustment(ctx context.Context, id int) error
	ListAdjustments(ctx context.Context, customerID int) (*AdjustmentListResult, error)

	// ── Balances and reports ──

	GetBalance(ctx context.Context, customerID int, asOf string, includeCredit bool) (*BalanceResult, error)
	GetStatement(ctx context.Context, customerID int, from, to string) (*StatementResult, error)

	// GetDelinquents lists customers with accruals older than days still unpaid.
	// A nil days uses the configured default.
	GetDelinquents(ctx context.Context, asOf string, days *int) (*DelinquencyResult, error)
	GetCollections(ctx context.Context, period string) (*CollectionsResult, error)
	GetDashboard(ctx context.Context, asOf string) (*DashboardResult, error)

	// ExportCSV writes one table as CSV.
	ExportCSV(ctx context.Context, table string, w io.Writer) error
}
