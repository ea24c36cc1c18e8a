package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// GenerateRequest selects the period and, optionally, a subset of subscriptions.
type GenerateRequest struct {
	Period          Period
	SubscriptionIDs []int
	Notes           string
}

// SkippedSubscription explains why a subscription produced no accrual.
type SkippedSubscription struct {
	SubscriptionID int    `json:"subscription_id"`
	Reason         string `json:"reason"`
}

// GenerateResult is the outcome of one generation run. Duplicates are not failures:
// the run commits every accrual it could create.
type GenerateResult struct {
	Period     Period                   `json:"period"`
	Created    []Accrual                `json:"created"`
	Duplicates []*DuplicateAccrualError `json:"-"`
	Skipped    []SkippedSubscription    `json:"skipped"`
}

// AccrualService generates and maintains accruals.
type AccrualService interface {
	// Generate creates one PENDING accrual per eligible subscription for the period,
	// dated on the period's last day, all in a single transaction.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	GetAccrual(ctx context.Context, id int) (*Accrual, error)
	ListAccruals(ctx context.Context, f AccrualFilter) ([]Accrual, error)

	// Position returns amount, adjustments, paid, and outstanding for one accrual.
	Position(ctx context.Context, id int) (*AccrualPosition, error)

	// Cancel marks an accrual CANCELLED. Refused once the accrual has allocations.
	Cancel(ctx context.Context, id int) (*Accrual, error)

	// Delete removes an accrual that has no allocations and no adjustments.
	Delete(ctx context.Context, id int) error
}

type accrualService struct {
	base
}

func NewAccrualService(store Store, clock Clock, log logrus.FieldLogger) AccrualService {
	return &accrualService{base: newBase(store, clock, log)}
}

// ── Generate ──────────────────────────────────────────────────────────────────

func (s *accrualService) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if _, err := NewPeriod(req.Period.Year, int(req.Period.Month)); err != nil {
		return nil, err
	}
	result := &GenerateResult{Period: req.Period}
	now := s.clock.Now()

	err := s.store.Update(ctx, func(tx Tx) error {
		// Reset in case the store retries the transaction.
		result.Created, result.Duplicates, result.Skipped = nil, nil, nil

		subs, err := s.candidates(ctx, tx, req.SubscriptionIDs)
		if err != nil {
			return err
		}

		customers := map[int]*Customer{}
		plans := map[int]*Plan{}
		for _, sub := range subs {
			customer, ok := customers[sub.CustomerID]
			if !ok {
				if customer, err = tx.GetCustomer(ctx, sub.CustomerID); err != nil {
					return err
				}
				customers[sub.CustomerID] = customer
			}
			plan, ok := plans[sub.PlanID]
			if !ok {
				if plan, err = tx.GetPlan(ctx, sub.PlanID); err != nil {
					return err
				}
				plans[sub.PlanID] = plan
			}

			if reason := ineligibility(sub, customer, plan, req.Period); reason != "" {
				result.Skipped = append(result.Skipped, SkippedSubscription{SubscriptionID: sub.ID, Reason: reason})
				continue
			}

			a := &Accrual{
				CustomerID:     sub.CustomerID,
				SubscriptionID: sub.ID,
				PlanID:         sub.PlanID,
				Period:         req.Period,
				Amount:         sub.EffectivePrice(*plan),
				AccrualDate:    req.Period.End(),
				Status:         AccrualPending,
				Notes:          req.Notes,
				CreatedAt:      now,
			}
			if err := tx.InsertAccrual(ctx, a); err != nil {
				var dup *DuplicateAccrualError
				if errors.As(err, &dup) {
					dup.CustomerID = sub.CustomerID
					result.Duplicates = append(result.Duplicates, dup)
					continue
				}
				return fmt.Errorf("failed to insert accrual for subscription %d: %w", sub.ID, err)
			}
			result.Created = append(result.Created, *a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"period":     req.Period.String(),
		"created":    len(result.Created),
		"duplicates": len(result.Duplicates),
		"skipped":    len(result.Skipped),
	}).Info("accruals generated")
	return result, nil
}

// candidates returns the requested subscriptions, or every subscription when ids is empty.
func (s *accrualService) candidates(ctx context.Context, tx Tx, ids []int) ([]Subscription, error) {
	if len(ids) == 0 {
		subs, err := tx.ListSubscriptions(ctx, SubscriptionFilter{})
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		return subs, nil
	}
	seen := make(map[int]bool, len(ids))
	subs := make([]Subscription, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		sub, err := tx.GetSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, nil
}

// ineligibility returns why sub must not accrue in p, or "" when it must.
func ineligibility(sub Subscription, c *Customer, p *Plan, period Period) string {
	switch {
	case !sub.Active:
		return "subscription inactive"
	case !c.Active:
		return "customer inactive"
	case !p.Active:
		return "plan inactive"
	case !sub.Covers(period):
		return "outside subscription dates"
	case !p.Periodicity.DueIn(PeriodOf(sub.StartDate), period):
		return fmt.Sprintf("not due for %s billing", p.Periodicity)
	}
	return ""
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *accrualService) GetAccrual(ctx context.Context, id int) (*Accrual, error) {
	var out *Accrual
	err := s.store.View(ctx, func(tx Tx) error {
		a, err := tx.GetAccrual(ctx, id)
		out = a
		return err
	})
	return out, err
}

func (s *accrualService) ListAccruals(ctx context.Context, f AccrualFilter) ([]Accrual, error) {
	var out []Accrual
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListAccruals(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list accruals: %w", err)
	}
	return out, nil
}

func (s *accrualService) Position(ctx context.Context, id int) (*AccrualPosition, error) {
	var out AccrualPosition
	err := s.store.View(ctx, func(tx Tx) error {
		a, err := tx.GetAccrual(ctx, id)
		if err != nil {
			return err
		}
		out, err = loadPosition(ctx, tx, a)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ── Cancel / Delete ───────────────────────────────────────────────────────────

func (s *accrualService) Cancel(ctx context.Context, id int) (*Accrual, error) {
	var out *Accrual
	err := s.store.Update(ctx, func(tx Tx) error {
		a, err := tx.GetAccrual(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == AccrualCancelled {
			out = a
			return nil
		}
		allocs, err := tx.ListAllocations(ctx, AllocationFilter{AccrualID: id})
		if err != nil {
			return err
		}
		if len(allocs) > 0 {
			return &InUseError{Entity: "accrual", ID: id, Reason: "payments are allocated to it; deallocate them first"}
		}
		if err := tx.UpdateAccrualStatus(ctx, id, AccrualCancelled); err != nil {
			return err
		}
		a.Status = AccrualCancelled
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"accrual_id": id, "customer_id": out.CustomerID}).Info("accrual cancelled")
	return out, nil
}

func (s *accrualService) Delete(ctx context.Context, id int) error {
	var customerID int
	err := s.store.Update(ctx, func(tx Tx) error {
		a, err := tx.GetAccrual(ctx, id)
		if err != nil {
			return err
		}
		customerID = a.CustomerID
		allocs, err := tx.ListAllocations(ctx, AllocationFilter{AccrualID: id})
		if err != nil {
			return err
		}
		if len(allocs) > 0 {
			return &InUseError{Entity: "accrual", ID: id, Reason: "payments are allocated to it"}
		}
		adjs, err := tx.ListAdjustments(ctx, AdjustmentFilter{AccrualID: id})
		if err != nil {
			return err
		}
		if len(adjs) > 0 {
			return &InUseError{Entity: "accrual", ID: id, Reason: "adjustments reference it"}
		}
		return tx.DeleteAccrual(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"accrual_id": id, "customer_id": customerID}).Warn("accrual deleted")
	return nil
}

// dueFilter is an AccrualFilter for a customer's accruals dated on or before asOf.
func dueFilter(customerID int, asOf time.Time, statuses ...AccrualStatus) AccrualFilter {
	d := DateOnly(asOf)
	return AccrualFilter{CustomerID: customerID, DueOnOrBefore: &d, Statuses: statuses}
}
