package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ApplyAdjustmentRequest is the input for a manual correction.
// AccrualID nil makes the adjustment customer-wide. Zero Date means today.
type ApplyAdjustmentRequest struct {
	CustomerID int
	AccrualID  *int
	Kind       AdjustmentKind
	Amount     decimal.Decimal
	Date       time.Time
	Reason     string
}

// AdjustmentService records bonuses, surcharges, and credit/debit notes.
type AdjustmentService interface {
	// Apply records the adjustment. When it targets an accrual, the accrual's
	// status is recomputed, and the adjustment is refused if it would leave the
	// accrual owing less than what has already been allocated to it.
	Apply(ctx context.Context, req ApplyAdjustmentRequest) (*Adjustment, error)

	// Delete reverses an adjustment under the same guard.
	Delete(ctx context.Context, id int) error

	ListAdjustments(ctx context.Context, f AdjustmentFilter) ([]Adjustment, error)
}

type adjustmentService struct {
	base
}

func NewAdjustmentService(store Store, clock Clock, log logrus.FieldLogger) AdjustmentService {
	return &adjustmentService{base: newBase(store, clock, log)}
}

func (s *adjustmentService) Apply(ctx context.Context, req ApplyAdjustmentRequest) (*Adjustment, error) {
	kind := AdjustmentKind(strings.ToUpper(strings.TrimSpace(string(req.Kind))))
	if !kind.Valid() {
		return nil, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown adjustment kind %q", req.Kind)}
	}
	if req.Amount.IsZero() {
		return nil, &InvalidAmountError{Field: "adjustment amount", Amount: req.Amount, Reason: "must not be zero"}
	}

	adj := &Adjustment{
		CustomerID: req.CustomerID,
		AccrualID:  req.AccrualID,
		Kind:       kind,
		Amount:     req.Amount,
		Date:       s.dateOr(req.Date),
		Reason:     strings.TrimSpace(req.Reason),
		CreatedAt:  s.clock.Now(),
	}

	err := s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.GetCustomer(ctx, req.CustomerID); err != nil {
			return err
		}
		var target *Accrual
		if req.AccrualID != nil {
			a, err := tx.GetAccrual(ctx, *req.AccrualID)
			if err != nil {
				return err
			}
			if a.CustomerID != req.CustomerID {
				return &CrossCustomerError{CustomerID: req.CustomerID, AccrualCustomerID: a.CustomerID, AccrualID: a.ID}
			}
			if a.Status == AccrualCancelled {
				return &ValidationError{Field: "accrual_id", Message: fmt.Sprintf("accrual %d is cancelled", a.ID)}
			}
			pos, err := loadPosition(ctx, tx, a)
			if err != nil {
				return err
			}
			if err := guardEffective(pos, adj.Effect()); err != nil {
				return err
			}
			target = a
		}
		if err := tx.InsertAdjustment(ctx, adj); err != nil {
			return fmt.Errorf("failed to insert adjustment: %w", err)
		}
		if target != nil {
			if _, err := syncStatus(ctx, tx, target); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"adjustment_id": adj.ID,
		"customer_id":   adj.CustomerID,
		"kind":          adj.Kind,
		"effect":        adj.Effect().StringFixed(2),
	}
	if adj.AccrualID != nil {
		fields["accrual_id"] = *adj.AccrualID
	}
	s.log.WithFields(fields).Info("adjustment applied")
	return adj, nil
}

// guardEffective refuses a change that drops effective owed below what is already paid.
func guardEffective(pos AccrualPosition, delta decimal.Decimal) error {
	next := pos.EffectiveOwed.Add(delta)
	if next.LessThan(pos.Paid) {
		return &OverAllocationError{
			AccrualID: pos.Accrual.ID,
			Requested: pos.Paid,
			Available: decimal.Max(next, decimal.Zero),
		}
	}
	return nil
}

func (s *adjustmentService) Delete(ctx context.Context, id int) error {
	var removed *Adjustment
	err := s.store.Update(ctx, func(tx Tx) error {
		adj, err := tx.GetAdjustment(ctx, id)
		if err != nil {
			return err
		}
		var target *Accrual
		if adj.AccrualID != nil {
			a, err := tx.GetAccrual(ctx, *adj.AccrualID)
			if err != nil {
				return err
			}
			pos, err := loadPosition(ctx, tx, a)
			if err != nil {
				return err
			}
			if a.Status != AccrualCancelled {
				if err := guardEffective(pos, adj.Effect().Neg()); err != nil {
					return err
				}
			}
			target = a
		}
		if err := tx.DeleteAdjustment(ctx, id); err != nil {
			return fmt.Errorf("failed to delete adjustment %d: %w", id, err)
		}
		if target != nil {
			if _, err := syncStatus(ctx, tx, target); err != nil {
				return err
			}
		}
		removed = adj
		return nil
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"adjustment_id": id,
		"customer_id":   removed.CustomerID,
		"kind":          removed.Kind,
		"amount":        removed.Amount.StringFixed(2),
	}).Warn("adjustment reversed")
	return nil
}

func (s *adjustmentService) ListAdjustments(ctx context.Context, f AdjustmentFilter) ([]Adjustment, error) {
	var out []Adjustment
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListAdjustments(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	return out, nil
}
