package app

import "subscription-ledger/internal/core"

// CustomerResult is returned by customer operations.
type CustomerResult struct {
	Customer *core.Customer `json:"customer"`
}

// CustomerListResult is returned by ListCustomers.
type CustomerListResult struct {
	Customers []core.Customer `json:"customers"`
}

// PlanResult is returned by plan operations.
type PlanResult struct {
	Plan *core.Plan `json:"plan"`
}

// PlanListResult is returned by ListPlans.
type PlanListResult struct {
	Plans []core.Plan `json:"plans"`
}

// SubscriptionResult is returned by subscription operations.
type SubscriptionResult struct {
	Subscription *core.Subscription `json:"subscription"`
}

// SubscriptionListResult is returned by ListSubscriptions.
type SubscriptionListResult struct {
	Subscriptions []core.Subscription `json:"subscriptions"`
}

// DuplicateAccrual names an accrual a generation run found already present.
type DuplicateAccrual struct {
	SubscriptionID int `json:"subscription_id"`
	CustomerID     int `json:"customer_id"`
	ExistingID     int `json:"existing_accrual_id"`
}

// GenerateAccrualsResult is returned by GenerateAccruals. RunID tags the
// run's log lines.
type GenerateAccrualsResult struct {
	RunID      string                     `json:"run_id"`
	Period     core.Period                `json:"period"`
	Created    []core.Accrual             `json:"created"`
	Duplicates []DuplicateAccrual         `json:"duplicates"`
	Skipped    []core.SkippedSubscription `json:"skipped"`
}

// AccrualListResult is returned by ListAccruals.
type AccrualListResult struct {
	Accruals []core.Accrual `json:"accruals"`
}

// AccrualResult is returned by single-accrual operations and carries the
// accrual's current position.
type AccrualResult struct {
	Position *core.AccrualPosition `json:"position"`
}

// PaymentResult is returned by payment operations. Allocation is set when the
// payment was auto-allocated on registration.
type PaymentResult struct {
	Payment     *core.Payment          `json:"payment"`
	State       string                 `json:"allocation_state"`
	Allocations []core.Allocation      `json:"allocations,omitempty"`
	Allocation  *core.AllocationResult `json:"auto_allocation,omitempty"`
}

// PaymentListResult is returned by ListPayments.
type PaymentListResult struct {
	Payments []core.Payment `json:"payments"`
}

// AdjustmentListResult is returned by ListAdjustments.
type AdjustmentListResult struct {
	Adjustments []core.Adjustment `json:"adjustments"`
}

// BalanceResult is returned by GetBalance.
type BalanceResult struct {
	Currency string        `json:"currency"`
	Balance  *core.Balance `json:"balance"`
}

// StatementResult is returned by GetStatement.
type StatementResult struct {
	Currency  string          `json:"currency"`
	Statement *core.Statement `json:"statement"`
}

// DelinquencyResult is returned by GetDelinquents.
type DelinquencyResult struct {
	Currency string                 `json:"currency"`
	Report   *core.DelinquencyReport `json:"report"`
}

// CollectionsResult is returned by GetCollections.
type CollectionsResult struct {
	Currency string                 `json:"currency"`
	Report   *core.CollectionsReport `json:"report"`
}

// DashboardResult is returned by GetDashboard.
type DashboardResult struct {
	Currency  string          `json:"currency"`
	Dashboard *core.Dashboard `json:"dashboard"`
}
