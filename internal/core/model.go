package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID            int       `json:"id"`
	Name          string    `json:"name"`
	TaxID         string    `json:"tax_id,omitempty"`
	ContactPerson string    `json:"contact_person,omitempty"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Address       string    `json:"address,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Plan struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	Periodicity Periodicity     `json:"periodicity"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Subscription binds a customer to a plan for a date range.
// PriceOverride, when set, replaces the plan's base amount for this customer.
type Subscription struct {
	ID            int              `json:"id"`
	CustomerID    int              `json:"customer_id"`
	PlanID        int              `json:"plan_id"`
	StartDate     time.Time        `json:"start_date"`
	EndDate       *time.Time       `json:"end_date,omitempty"`
	PriceOverride *decimal.Decimal `json:"price_override,omitempty"`
	Active        bool             `json:"active"`
	Notes         string           `json:"notes,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// EffectivePrice is the override when present, else the plan's base amount.
func (s Subscription) EffectivePrice(plan Plan) decimal.Decimal {
	if s.PriceOverride != nil {
		return *s.PriceOverride
	}
	return plan.BaseAmount
}

// Covers reports whether the subscription's date range overlaps the period.
func (s Subscription) Covers(p Period) bool {
	if s.StartDate.After(p.End()) {
		return false
	}
	if s.EndDate != nil && s.EndDate.Before(p.Start()) {
		return false
	}
	return true
}

type AccrualStatus string

const (
	AccrualPending       AccrualStatus = "PENDING"
	AccrualPartiallyPaid AccrualStatus = "PARTIALLY_PAID"
	AccrualPaid          AccrualStatus = "PAID"
	AccrualCancelled     AccrualStatus = "CANCELLED"
)

// Open reports whether the accrual can still receive allocations.
func (s AccrualStatus) Open() bool {
	return s == AccrualPending || s == AccrualPartiallyPaid
}

// Accrual is the amount owed by a customer for one subscription period.
// Amount never changes after creation; adjustments move the effective amount.
type Accrual struct {
	ID             int             `json:"id"`
	CustomerID     int             `json:"customer_id"`
	SubscriptionID int             `json:"subscription_id"`
	PlanID         int             `json:"plan_id"`
	Period         Period          `json:"period"`
	Amount         decimal.Decimal `json:"amount"`
	AccrualDate    time.Time       `json:"accrual_date"`
	Status         AccrualStatus   `json:"status"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type PaymentAllocationState string

const (
	PaymentUnallocated        PaymentAllocationState = "UNALLOCATED"
	PaymentPartiallyAllocated PaymentAllocationState = "PARTIALLY_ALLOCATED"
	PaymentFullyAllocated     PaymentAllocationState = "ALLOCATED"
)

type Payment struct {
	ID          int             `json:"id"`
	CustomerID  int             `json:"customer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Remaining   decimal.Decimal `json:"remaining"`
	PaymentDate time.Time       `json:"payment_date"`
	Method      string          `json:"method,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AllocationState is derived from Remaining.
func (p Payment) AllocationState() PaymentAllocationState {
	switch {
	case p.Remaining.Equal(p.Amount):
		return PaymentUnallocated
	case p.Remaining.IsZero():
		return PaymentFullyAllocated
	default:
		return PaymentPartiallyAllocated
	}
}

// Allocation applies part of a payment to one accrual.
type Allocation struct {
	ID          int             `json:"id"`
	PaymentID   int             `json:"payment_id"`
	AccrualID   int             `json:"accrual_id"`
	CustomerID  int             `json:"customer_id"`
	Amount      decimal.Decimal `json:"amount"`
	AllocatedOn time.Time       `json:"allocated_on"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AdjustmentKind string

const (
	AdjustmentBonus      AdjustmentKind = "BONUS"
	AdjustmentSurcharge  AdjustmentKind = "SURCHARGE"
	AdjustmentCreditNote AdjustmentKind = "CREDIT_NOTE"
	AdjustmentDebitNote  AdjustmentKind = "DEBIT_NOTE"
	AdjustmentOther      AdjustmentKind = "OTHER"
)

// AdjustmentKinds lists the accepted kinds in display order.
var AdjustmentKinds = []AdjustmentKind{
	AdjustmentBonus, AdjustmentSurcharge, AdjustmentCreditNote, AdjustmentDebitNote, AdjustmentOther,
}

func (k AdjustmentKind) Valid() bool {
	for _, v := range AdjustmentKinds {
		if k == v {
			return true
		}
	}
	return false
}

// Adjustment corrects what a customer owes, either on one accrual or on the account as a whole.
type Adjustment struct {
	ID         int             `json:"id"`
	CustomerID int             `json:"customer_id"`
	AccrualID  *int            `json:"accrual_id,omitempty"`
	Kind       AdjustmentKind  `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Date       time.Time       `json:"date"`
	Reason     string          `json:"reason,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Effect is the signed change to the amount owed.
// Bonuses and credit notes reduce it, surcharges and debit notes raise it,
// OTHER keeps the sign it was entered with.
func (a Adjustment) Effect() decimal.Decimal {
	switch a.Kind {
	case AdjustmentBonus, AdjustmentCreditNote:
		return a.Amount.Abs().Neg()
	case AdjustmentSurcharge, AdjustmentDebitNote:
		return a.Amount.Abs()
	default:
		return a.Amount
	}
}
