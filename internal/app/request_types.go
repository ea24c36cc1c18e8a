package app

import (
	"github.com/shopspring/decimal"
)

// CustomerRequest is the input for creating or editing a customer.
type CustomerRequest struct {
	Name          string `json:"name"`
	TaxID         string `json:"tax_id"`
	ContactPerson string `json:"contact_person"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	Notes         string `json:"notes"`
}

// PlanRequest is the input for creating or editing a plan.
type PlanRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	Periodicity string          `json:"periodicity"` // monthly (default), quarterly, yearly
}

// SubscribeRequest is the input for subscribing a customer to a plan.
type SubscribeRequest struct {
	CustomerID    int              `json:"customer_id"`
	PlanID        int              `json:"plan_id"`
	StartDate     string           `json:"start_date"`
	EndDate       string           `json:"end_date"`
	PriceOverride *decimal.Decimal `json:"price_override"`
	Notes         string           `json:"notes"`
}

// UpdateSubscriptionRequest edits a subscription. Nil fields are unchanged;
// an empty EndDate string or a ClearPriceOverride flag removes the value.
type UpdateSubscriptionRequest struct {
	EndDate            *string          `json:"end_date"`
	PriceOverride      *decimal.Decimal `json:"price_override"`
	ClearPriceOverride bool             `json:"clear_price_override"`
	Notes              *string          `json:"notes"`
}

// GenerateAccrualsRequest is the input for one accrual generation run.
type GenerateAccrualsRequest struct {
	Period          string `json:"period"`
	SubscriptionIDs []int  `json:"subscription_ids"`
	Notes           string `json:"notes"`
}

// AccrualQuery filters ListAccruals.
type AccrualQuery struct {
	CustomerID     int
	SubscriptionID int
	Period         string
	Status         string
	OpenOnly       bool
}

// RegisterPaymentRequest is the input for recording a received payment.
type RegisterPaymentRequest struct {
	CustomerID   int             `json:"customer_id"`
	Amount       decimal.Decimal `json:"amount"`
	PaymentDate  string          `json:"payment_date"`
	Method       string          `json:"method"`
	Reference    string          `json:"reference"`
	Notes        string          `json:"notes"`
	AutoAllocate bool            `json:"auto_allocate"`
}

// PaymentQuery filters ListPayments.
type PaymentQuery struct {
	CustomerID int
	From       string
	To         string
}

// ManualAllocationRequest applies explicit amounts of one payment to accruals.
type ManualAllocationRequest struct {
	PaymentID int                   `json:"payment_id"`
	Date      string                `json:"date"`
	Lines     []AllocationLineInput `json:"lines"`
}

// AllocationLineInput is a single line in a ManualAllocationRequest.
type AllocationLineInput struct {
	AccrualID int             `json:"accrual_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// AdjustmentRequest is the input for a manual correction.
type AdjustmentRequest struct {
	CustomerID int             `json:"customer_id"`
	AccrualID  *int            `json:"accrual_id"`
	Kind       string          `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Date       string          `json:"date"`
	Reason     string          `json:"reason"`
}
