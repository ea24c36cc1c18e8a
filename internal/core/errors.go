package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrStoreClosed is returned by stores once Close has been called.
var ErrStoreClosed = errors.New("ledger: store is closed")

// InvalidAmountError reports an amount that is zero, negative, or otherwise out of range.
type InvalidAmountError struct {
	Field  string
	Amount decimal.Decimal
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid %s %s: %s", e.Field, e.Amount.String(), e.Reason)
}

// DuplicateAccrualError reports an existing accrual for a (subscription, period) pair.
type DuplicateAccrualError struct {
	SubscriptionID int
	CustomerID     int
	Period         Period
	ExistingID     int
}

func (e *DuplicateAccrualError) Error() string {
	if e.ExistingID != 0 {
		return fmt.Sprintf("subscription %d already accrued for %s (accrual %d)", e.SubscriptionID, e.Period, e.ExistingID)
	}
	return fmt.Sprintf("subscription %d already accrued for %s", e.SubscriptionID, e.Period)
}

// OverAllocationError reports an allocation or adjustment that would exceed what is available.
// AccrualID is zero when the payment's remaining amount is the limiting side.
type OverAllocationError struct {
	PaymentID int
	AccrualID int
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *OverAllocationError) Error() string {
	if e.AccrualID != 0 {
		return fmt.Sprintf("over-allocation on accrual %d: requested %s, available %s",
			e.AccrualID, e.Requested.StringFixed(2), e.Available.StringFixed(2))
	}
	return fmt.Sprintf("over-allocation on payment %d: requested %s, remaining %s",
		e.PaymentID, e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

// CrossCustomerError reports an attempt to link records of two different customers.
type CrossCustomerError struct {
	CustomerID        int
	AccrualCustomerID int
	AccrualID         int
}

func (e *CrossCustomerError) Error() string {
	return fmt.Sprintf("accrual %d belongs to customer %d, not customer %d",
		e.AccrualID, e.AccrualCustomerID, e.CustomerID)
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Entity string
	ID     int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// InUseError reports a delete blocked by dependent records.
type InUseError struct {
	Entity string
	ID     int
	Reason string
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("%s %d cannot be deleted: %s", e.Entity, e.ID, e.Reason)
}

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsDuplicate reports whether err wraps a DuplicateAccrualError.
func IsDuplicate(err error) bool {
	var d *DuplicateAccrualError
	return errors.As(err, &d)
}
