package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CustomerInput holds the editable customer fields.
type CustomerInput struct {
	Name          string
	TaxID         string
	ContactPerson string
	Email         string
	Phone         string
	Address       string
	Notes         string
}

func (in CustomerInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Message: "customer name is required"}
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return &ValidationError{Field: "email", Message: fmt.Sprintf("invalid email %q", in.Email)}
	}
	return nil
}

// PlanInput holds the editable plan fields.
type PlanInput struct {
	Name        string
	Description string
	BaseAmount  decimal.Decimal
	Periodicity Periodicity
}

func (in PlanInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Message: "plan name is required"}
	}
	if err := requirePositive("base_amount", in.BaseAmount); err != nil {
		return err
	}
	if _, err := ParsePeriodicity(string(in.Periodicity)); err != nil {
		return err
	}
	return nil
}

// SubscriptionInput creates a subscription. Zero StartDate means today.
type SubscriptionInput struct {
	CustomerID    int
	PlanID        int
	StartDate     time.Time
	EndDate       *time.Time
	PriceOverride *decimal.Decimal
	Notes         string
}

// SubscriptionChange edits an existing subscription. Nil fields are left as they are;
// ClearEndDate and ClearPriceOverride remove the optional values.
type SubscriptionChange struct {
	EndDate            *time.Time
	ClearEndDate       bool
	PriceOverride      *decimal.Decimal
	ClearPriceOverride bool
	Notes              *string
}

// ── Interface ─────────────────────────────────────────────────────────────────

// CatalogService maintains customers, plans, and subscriptions.
// Deactivation is the normal way to retire a record; hard deletes are refused
// once any ledger history references the record.
type CatalogService interface {
	CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error)
	UpdateCustomer(ctx context.Context, id int, in CustomerInput) (*Customer, error)
	SetCustomerActive(ctx context.Context, id int, active bool) (*Customer, error)
	DeleteCustomer(ctx context.Context, id int) error
	GetCustomer(ctx context.Context, id int) (*Customer, error)
	ListCustomers(ctx context.Context, activeOnly bool) ([]Customer, error)

	CreatePlan(ctx context.Context, in PlanInput) (*Plan, error)
	UpdatePlan(ctx context.Context, id int, in PlanInput) (*Plan, error)
	SetPlanActive(ctx context.Context, id int, active bool) (*Plan, error)
	DeletePlan(ctx context.Context, id int) error
	GetPlan(ctx context.Context, id int) (*Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)

	Subscribe(ctx context.Context, in SubscriptionInput) (*Subscription, error)
	UpdateSubscription(ctx context.Context, id int, ch SubscriptionChange) (*Subscription, error)
	SetSubscriptionActive(ctx context.Context, id int, active bool) (*Subscription, error)
	DeleteSubscription(ctx context.Context, id int) error
	GetSubscription(ctx context.Context, id int) (*Subscription, error)
	ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]Subscription, error)
}

// ── Implementation ────────────────────────────────────────────────────────────

type catalogService struct {
	base
}

func NewCatalogService(store Store, clock Clock, log logrus.FieldLogger) CatalogService {
	return &catalogService{base: newBase(store, clock, log)}
}

// ── Customers ─────────────────────────────────────────────────────────────────

func (s *catalogService) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	c := &Customer{Active: true, CreatedAt: now, UpdatedAt: now}
	applyCustomerInput(c, in)
	err := s.store.Update(ctx, func(tx Tx) error {
		return tx.InsertCustomer(ctx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	s.log.WithFields(logrus.Fields{"customer_id": c.ID, "name": c.Name}).Info("customer created")
	return c, nil
}

func (s *catalogService) UpdateCustomer(ctx context.Context, id int, in CustomerInput) (*Customer, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var out *Customer
	err := s.store.Update(ctx, func(tx Tx) error {
		c, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		applyCustomerInput(c, in)
		c.UpdatedAt = s.clock.Now()
		if err := tx.UpdateCustomer(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func applyCustomerInput(c *Customer, in CustomerInput) {
	c.Name = strings.TrimSpace(in.Name)
	c.TaxID = strings.TrimSpace(in.TaxID)
	c.ContactPerson = in.ContactPerson
	c.Email = strings.TrimSpace(in.Email)
	c.Phone = in.Phone
	c.Address = in.Address
	c.Notes = in.Notes
}

func (s *catalogService) SetCustomerActive(ctx context.Context, id int, active bool) (*Customer, error) {
	var out *Customer
	err := s.store.Update(ctx, func(tx Tx) error {
		c, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		c.Active = active
		c.UpdatedAt = s.clock.Now()
		out = c
		return tx.UpdateCustomer(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"customer_id": id, "active": active}).Info("customer status changed")
	return out, nil
}

// DeleteCustomer refuses when the customer has any subscription, accrual, payment, or adjustment.
func (s *catalogService) DeleteCustomer(ctx context.Context, id int) error {
	return s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.GetCustomer(ctx, id); err != nil {
			return err
		}
		subs, err := tx.ListSubscriptions(ctx, SubscriptionFilter{CustomerID: id})
		if err != nil {
			return err
		}
		if len(subs) > 0 {
			return &InUseError{Entity: "customer", ID: id, Reason: fmt.Sprintf("%d subscription(s) exist; deactivate the customer instead", len(subs))}
		}
		accruals, err := tx.ListAccruals(ctx, AccrualFilter{CustomerID: id})
		if err != nil {
			return err
		}
		if len(accruals) > 0 {
			return &InUseError{Entity: "customer", ID: id, Reason: "accruals exist; deactivate the customer instead"}
		}
		payments, err := tx.ListPayments(ctx, PaymentFilter{CustomerID: id})
		if err != nil {
			return err
		}
		if len(payments) > 0 {
			return &InUseError{Entity: "customer", ID: id, Reason: "payments exist; deactivate the customer instead"}
		}
		adjs, err := tx.ListAdjustments(ctx, AdjustmentFilter{CustomerID: id})
		if err != nil {
			return err
		}
		if len(adjs) > 0 {
			return &InUseError{Entity: "customer", ID: id, Reason: "adjustments exist; deactivate the customer instead"}
		}
		return tx.DeleteCustomer(ctx, id)
	})
}

func (s *catalogService) GetCustomer(ctx context.Context, id int) (*Customer, error) {
	var out *Customer
	err := s.store.View(ctx, func(tx Tx) error {
		c, err := tx.GetCustomer(ctx, id)
		out = c
		return err
	})
	return out, err
}

func (s *catalogService) ListCustomers(ctx context.Context, activeOnly bool) ([]Customer, error) {
	var out []Customer
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListCustomers(ctx, CustomerFilter{ActiveOnly: activeOnly})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return out, nil
}

// ── Plans ─────────────────────────────────────────────────────────────────────

func (s *catalogService) CreatePlan(ctx context.Context, in PlanInput) (*Plan, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	p := &Plan{Active: true, CreatedAt: now, UpdatedAt: now}
	applyPlanInput(p, in)
	if err := s.store.Update(ctx, func(tx Tx) error { return tx.InsertPlan(ctx, p) }); err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}
	s.log.WithFields(logrus.Fields{"plan_id": p.ID, "name": p.Name, "amount": p.BaseAmount.StringFixed(2)}).Info("plan created")
	return p, nil
}

func (s *catalogService) UpdatePlan(ctx context.Context, id int, in PlanInput) (*Plan, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var out *Plan
	err := s.store.Update(ctx, func(tx Tx) error {
		p, err := tx.GetPlan(ctx, id)
		if err != nil {
			return err
		}
		applyPlanInput(p, in)
		p.UpdatedAt = s.clock.Now()
		out = p
		return tx.UpdatePlan(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func applyPlanInput(p *Plan, in PlanInput) {
	p.Name = strings.TrimSpace(in.Name)
	p.Description = in.Description
	p.BaseAmount = in.BaseAmount
	p.Periodicity, _ = ParsePeriodicity(string(in.Periodicity))
}

func (s *catalogService) SetPlanActive(ctx context.Context, id int, active bool) (*Plan, error) {
	var out *Plan
	err := s.store.Update(ctx, func(tx Tx) error {
		p, err := tx.GetPlan(ctx, id)
		if err != nil {
			return err
		}
		p.Active = active
		p.UpdatedAt = s.clock.Now()
		out = p
		return tx.UpdatePlan(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"plan_id": id, "active": active}).Info("plan status changed")
	return out, nil
}

func (s *catalogService) DeletePlan(ctx context.Context, id int) error {
	return s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.GetPlan(ctx, id); err != nil {
			return err
		}
		subs, err := tx.ListSubscriptions(ctx, SubscriptionFilter{PlanID: id})
		if err != nil {
			return err
		}
		if len(subs) > 0 {
			return &InUseError{Entity: "plan", ID: id, Reason: fmt.Sprintf("referenced by %d subscription(s); deactivate the plan instead", len(subs))}
		}
		return tx.DeletePlan(ctx, id)
	})
}

func (s *catalogService) GetPlan(ctx context.Context, id int) (*Plan, error) {
	var out *Plan
	err := s.store.View(ctx, func(tx Tx) error {
		p, err := tx.GetPlan(ctx, id)
		out = p
		return err
	})
	return out, err
}

func (s *catalogService) ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error) {
	var out []Plan
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListPlans(ctx, PlanFilter{ActiveOnly: activeOnly})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return out, nil
}

// ── Subscriptions ─────────────────────────────────────────────────────────────

func (s *catalogService) Subscribe(ctx context.Context, in SubscriptionInput) (*Subscription, error) {
	start := s.dateOr(in.StartDate)
	if in.EndDate != nil {
		end := DateOnly(*in.EndDate)
		if end.Before(start) {
			return nil, &ValidationError{Field: "end_date", Message: "end date is before start date"}
		}
		in.EndDate = &end
	}
	if in.PriceOverride != nil {
		if err := requirePositive("price_override", *in.PriceOverride); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	sub := &Subscription{
		CustomerID:    in.CustomerID,
		PlanID:        in.PlanID,
		StartDate:     start,
		EndDate:       in.EndDate,
		PriceOverride: in.PriceOverride,
		Notes:         in.Notes,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.GetCustomer(ctx, in.CustomerID); err != nil {
			return err
		}
		if _, err := tx.GetPlan(ctx, in.PlanID); err != nil {
			return err
		}
		return tx.InsertSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"customer_id":     sub.CustomerID,
		"plan_id":         sub.PlanID,
	}).Info("subscription created")
	return sub, nil
}

func (s *catalogService) UpdateSubscription(ctx context.Context, id int, ch SubscriptionChange) (*Subscription, error) {
	if ch.PriceOverride != nil {
		if err := requirePositive("price_override", *ch.PriceOverride); err != nil {
			return nil, err
		}
	}
	var out *Subscription
	err := s.store.Update(ctx, func(tx Tx) error {
		sub, err := tx.GetSubscription(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case ch.ClearEndDate:
			sub.EndDate = nil
		case ch.EndDate != nil:
			end := DateOnly(*ch.EndDate)
			if end.Before(sub.StartDate) {
				return &ValidationError{Field: "end_date", Message: "end date is before start date"}
			}
			sub.EndDate = &end
		}
		switch {
		case ch.ClearPriceOverride:
			sub.PriceOverride = nil
		case ch.PriceOverride != nil:
			sub.PriceOverride = ch.PriceOverride
		}
		if ch.Notes != nil {
			sub.Notes = *ch.Notes
		}
		sub.UpdatedAt = s.clock.Now()
		out = sub
		return tx.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *catalogService) SetSubscriptionActive(ctx context.Context, id int, active bool) (*Subscription, error) {
	var out *Subscription
	err := s.store.Update(ctx, func(tx Tx) error {
		sub, err := tx.GetSubscription(ctx, id)
		if err != nil {
			return err
		}
		sub.Active = active
		sub.UpdatedAt = s.clock.Now()
		out = sub
		return tx.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"subscription_id": id, "active": active}).Info("subscription status changed")
	return out, nil
}

func (s *catalogService) DeleteSubscription(ctx context.Context, id int) error {
	return s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.GetSubscription(ctx, id); err != nil {
			return err
		}
		accruals, err := tx.ListAccruals(ctx, AccrualFilter{SubscriptionID: id})
		if err != nil {
			return err
		}
		if len(accruals) > 0 {
			return &InUseError{Entity: "subscription", ID: id, Reason: "accruals exist; deactivate the subscription instead"}
		}
		return tx.DeleteSubscription(ctx, id)
	})
}

func (s *catalogService) GetSubscription(ctx context.Context, id int) (*Subscription, error) {
	var out *Subscription
	err := s.store.View(ctx, func(tx Tx) error {
		sub, err := tx.GetSubscription(ctx, id)
		out = sub
		return err
	})
	return out, err
}

func (s *catalogService) ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]Subscription, error) {
	var out []Subscription
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListSubscriptions(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return out, nil
}
