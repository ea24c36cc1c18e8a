package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RegisterPaymentRequest is the input for recording received cash.
// Zero PaymentDate means today.
type RegisterPaymentRequest struct {
	CustomerID  int
	Amount      decimal.Decimal
	PaymentDate time.Time
	Method      string
	Reference   string
	Notes       string
}

// PaymentService records payments. Registration never allocates.
type PaymentService interface {
	Register(ctx context.Context, req RegisterPaymentRequest) (*Payment, error)
	GetPayment(ctx context.Context, id int) (*Payment, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)
	// Delete removes a payment that has no allocations.
	Delete(ctx context.Context, id int) error
}

type paymentService struct {
	base
}

func NewPaymentService(store Store, clock Clock, log logrus.FieldLogger) PaymentService {
	return &paymentService{base: newBase(store, clock, log)}
}

func (s *paymentService) Register(ctx context.Context, req RegisterPaymentRequest) (*Payment, error) {
	if err := requirePositive("payment amount", req.Amount); err != nil {
		return nil, err
	}
	p := &Payment{
		CustomerID:  req.CustomerID,
		Amount:      req.Amount,
		Remaining:   req.Amount,
		PaymentDate: s.dateOr(req.PaymentDate),
		Method:      strings.TrimSpace(req.Method),
		Reference:   strings.TrimSpace(req.Reference),
		Notes:       req.Notes,
		CreatedAt:   s.clock.Now(),
	}
	err := s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.GetCustomer(ctx, req.CustomerID); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"payment_id":  p.ID,
		"customer_id": p.CustomerID,
		"amount":      p.Amount.StringFixed(2),
		"method":      p.Method,
	}).Info("payment registered")
	return p, nil
}

func (s *paymentService) GetPayment(ctx context.Context, id int) (*Payment, error) {
	var out *Payment
	err := s.store.View(ctx, func(tx Tx) error {
		p, err := tx.GetPayment(ctx, id)
		out = p
		return err
	})
	return out, err
}

func (s *paymentService) ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error) {
	var out []Payment
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListPayments(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return out, nil
}

func (s *paymentService) Delete(ctx context.Context, id int) error {
	err := s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.GetPayment(ctx, id); err != nil {
			return err
		}
		allocs, err := tx.ListAllocations(ctx, AllocationFilter{PaymentID: id})
		if err != nil {
			return err
		}
		if len(allocs) > 0 {
			return &InUseError{Entity: "payment", ID: id, Reason: fmt.Sprintf("%d allocation(s) exist; deallocate them first", len(allocs))}
		}
		return tx.DeletePayment(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.WithField("payment_id", id).Warn("payment deleted")
	return nil
}
