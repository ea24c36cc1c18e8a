package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AllocationLine asks for Amount of a payment to be applied to one accrual.
type AllocationLine struct {
	AccrualID int             `json:"accrual_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// AllocationResult reports what an allocation call created.
type AllocationResult struct {
	Payment        Payment         `json:"payment"`
	Allocations    []Allocation    `json:"allocations"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	Remaining      decimal.Decimal `json:"remaining"`
}

// AllocationService applies payments to accruals.
type AllocationService interface {
	// AllocateAuto walks the customer's open accruals oldest first and applies
	// min(outstanding, remaining) to each until the payment is exhausted.
	// A zero on means today.
	AllocateAuto(ctx context.Context, paymentID int, on time.Time) (*AllocationResult, error)

	// AllocateManual applies the given lines atomically. Any invalid line
	// rejects the whole request and nothing is written.
	AllocateManual(ctx context.Context, paymentID int, lines []AllocationLine, on time.Time) (*AllocationResult, error)

	// Deallocate deletes one allocation and returns its amount to the payment.
	Deallocate(ctx context.Context, allocationID int) (*Allocation, error)

	ListAllocations(ctx context.Context, f AllocationFilter) ([]Allocation, error)
}

type allocationService struct {
	base
}

func NewAllocationService(store Store, clock Clock, log logrus.FieldLogger) AllocationService {
	return &allocationService{base: newBase(store, clock, log)}
}

// ── Automatic ─────────────────────────────────────────────────────────────────

func (s *allocationService) AllocateAuto(ctx context.Context, paymentID int, on time.Time) (*AllocationResult, error) {
	day := s.dateOr(on)
	var result *AllocationResult

	err := s.store.Update(ctx, func(tx Tx) error {
		payment, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		result = &AllocationResult{TotalAllocated: decimal.Zero, Remaining: payment.Remaining}
		if !payment.Remaining.IsPositive() {
			result.Payment = *payment
			return nil
		}

		open, err := tx.ListAccruals(ctx, AccrualFilter{
			CustomerID: payment.CustomerID,
			Statuses:   []AccrualStatus{AccrualPending, AccrualPartiallyPaid},
		})
		if err != nil {
			return fmt.Errorf("failed to list open accruals: %w", err)
		}
		sortOldestFirst(open)

		remaining := payment.Remaining
		for i := range open {
			if !remaining.IsPositive() {
				break
			}
			// Re-read under lock before deciding the amount.
			a, err := tx.GetAccrual(ctx, open[i].ID)
			if err != nil {
				return err
			}
			pos, err := loadPosition(ctx, tx, a)
			if err != nil {
				return err
			}
			if !pos.Outstanding.IsPositive() {
				continue
			}
			amount := decimal.Min(pos.Outstanding, remaining)
			alloc, err := s.apply(ctx, tx, payment, a, amount, day)
			if err != nil {
				return err
			}
			remaining = remaining.Sub(amount)
			result.Allocations = append(result.Allocations, *alloc)
			result.TotalAllocated = result.TotalAllocated.Add(amount)
		}

		if err := tx.UpdatePaymentRemaining(ctx, payment.ID, remaining); err != nil {
			return fmt.Errorf("failed to update payment %d: %w", payment.ID, err)
		}
		payment.Remaining = remaining
		result.Payment = *payment
		result.Remaining = remaining
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"payment_id":  paymentID,
		"mode":        "auto",
		"allocations": len(result.Allocations),
		"allocated":   result.TotalAllocated.StringFixed(2),
		"remaining":   result.Remaining.StringFixed(2),
	}).Info("payment allocated")
	return result, nil
}

// sortOldestFirst orders by period, accrual date, then id.
func sortOldestFirst(accruals []Accrual) {
	sort.SliceStable(accruals, func(i, j int) bool {
		a, b := accruals[i], accruals[j]
		if a.Period != b.Period {
			return a.Period.Before(b.Period)
		}
		if !a.AccrualDate.Equal(b.AccrualDate) {
			return a.AccrualDate.Before(b.AccrualDate)
		}
		return a.ID < b.ID
	})
}

// ── Manual ────────────────────────────────────────────────────────────────────

func (s *allocationService) AllocateManual(ctx context.Context, paymentID int, lines []AllocationLine, on time.Time) (*AllocationResult, error) {
	if len(lines) == 0 {
		return nil, &ValidationError{Field: "lines", Message: "at least one allocation line is required"}
	}

	// Merge repeated accruals so the per-accrual check sees the full request.
	requested := make(map[int]decimal.Decimal, len(lines))
	order := make([]int, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		if err := requirePositive("allocation amount", l.Amount); err != nil {
			return nil, err
		}
		if _, ok := requested[l.AccrualID]; !ok {
			order = append(order, l.AccrualID)
			requested[l.AccrualID] = decimal.Zero
		}
		requested[l.AccrualID] = requested[l.AccrualID].Add(l.Amount)
		total = total.Add(l.Amount)
	}

	day := s.dateOr(on)
	var result *AllocationResult

	err := s.store.Update(ctx, func(tx Tx) error {
		payment, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}

		// 1. Validate every line before writing anything.
		targets := make([]*Accrual, 0, len(order))
		for _, id := range order {
			a, err := tx.GetAccrual(ctx, id)
			if err != nil {
				return err
			}
			if a.CustomerID != payment.CustomerID {
				return &CrossCustomerError{CustomerID: payment.CustomerID, AccrualCustomerID: a.CustomerID, AccrualID: a.ID}
			}
			if a.Status == AccrualCancelled {
				return &ValidationError{Field: "accrual_id", Message: fmt.Sprintf("accrual %d is cancelled", a.ID)}
			}
			pos, err := loadPosition(ctx, tx, a)
			if err != nil {
				return err
			}
			if requested[id].GreaterThan(pos.Outstanding) {
				return &OverAllocationError{PaymentID: paymentID, AccrualID: a.ID, Requested: requested[id], Available: pos.Outstanding}
			}
			targets = append(targets, a)
		}
		if total.GreaterThan(payment.Remaining) {
			return &OverAllocationError{PaymentID: paymentID, Requested: total, Available: payment.Remaining}
		}

		// 2. Write.
		result = &AllocationResult{TotalAllocated: total}
		for _, a := range targets {
			alloc, err := s.apply(ctx, tx, payment, a, requested[a.ID], day)
			if err != nil {
				return err
			}
			result.Allocations = append(result.Allocations, *alloc)
		}
		remaining := payment.Remaining.Sub(total)
		if err := tx.UpdatePaymentRemaining(ctx, payment.ID, remaining); err != nil {
			return fmt.Errorf("failed to update payment %d: %w", payment.ID, err)
		}
		payment.Remaining = remaining
		result.Payment = *payment
		result.Remaining = remaining
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"payment_id":  paymentID,
		"mode":        "manual",
		"allocations": len(result.Allocations),
		"allocated":   result.TotalAllocated.StringFixed(2),
		"remaining":   result.Remaining.StringFixed(2),
	}).Info("payment allocated")
	return result, nil
}

// apply inserts one allocation and moves the accrual's status. The caller owns
// the payment's remaining amount.
func (s *allocationService) apply(ctx context.Context, tx Tx, p *Payment, a *Accrual, amount decimal.Decimal, day time.Time) (*Allocation, error) {
	alloc := &Allocation{
		PaymentID:   p.ID,
		AccrualID:   a.ID,
		CustomerID:  p.CustomerID,
		Amount:      amount,
		AllocatedOn: day,
		CreatedAt:   s.clock.Now(),
	}
	if err := tx.InsertAllocation(ctx, alloc); err != nil {
		return nil, fmt.Errorf("failed to insert allocation: %w", err)
	}
	if _, err := syncStatus(ctx, tx, a); err != nil {
		return nil, err
	}
	return alloc, nil
}

// ── Deallocate ────────────────────────────────────────────────────────────────

func (s *allocationService) Deallocate(ctx context.Context, allocationID int) (*Allocation, error) {
	var removed *Allocation
	var status AccrualStatus
	err := s.store.Update(ctx, func(tx Tx) error {
		alloc, err := tx.GetAllocation(ctx, allocationID)
		if err != nil {
			return err
		}
		payment, err := tx.GetPayment(ctx, alloc.PaymentID)
		if err != nil {
			return err
		}
		accrual, err := tx.GetAccrual(ctx, alloc.AccrualID)
		if err != nil {
			return err
		}
		if err := tx.DeleteAllocation(ctx, alloc.ID); err != nil {
			return fmt.Errorf("failed to delete allocation %d: %w", alloc.ID, err)
		}
		remaining := payment.Remaining.Add(alloc.Amount)
		if remaining.GreaterThan(payment.Amount) {
			return fmt.Errorf("payment %d remaining %s would exceed amount %s",
				payment.ID, remaining.StringFixed(2), payment.Amount.StringFixed(2))
		}
		if err := tx.UpdatePaymentRemaining(ctx, payment.ID, remaining); err != nil {
			return fmt.Errorf("failed to update payment %d: %w", payment.ID, err)
		}
		if _, err := syncStatus(ctx, tx, accrual); err != nil {
			return err
		}
		removed = alloc
		status = accrual.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"allocation_id":  removed.ID,
		"payment_id":     removed.PaymentID,
		"accrual_id":     removed.AccrualID,
		"customer_id":    removed.CustomerID,
		"amount":         removed.Amount.StringFixed(2),
		"allocated_on":   removed.AllocatedOn.Format("2006-01-02"),
		"accrual_status": status,
	}).Warn("allocation reversed")
	return removed, nil
}

func (s *allocationService) ListAllocations(ctx context.Context, f AllocationFilter) ([]Allocation, error) {
	var out []Allocation
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListAllocations(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	return out, nil
}
