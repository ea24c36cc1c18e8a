package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"subscription-ledger/internal/core"
)

type tx struct {
	db       *gorm.DB
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func first[R any](ctx context.Context, db *gorm.DB, entity string, id int) (*R, error) {
	var row R
	err := db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &core.NotFoundError{Entity: entity, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %d: %w", entity, id, err)
	}
	return &row, nil
}

func (t *tx) create(ctx context.Context, entity string, row any) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := t.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert %s: %w", entity, err)
	}
	return nil
}

func (t *tx) save(ctx context.Context, entity string, id int, row any) error {
	if err := t.writable(); err != nil {
		return err
	}
	res := t.db.WithContext(ctx).Select("*").Omit("created_at").Updates(row)
	if res.Error != nil {
		return fmt.Errorf("failed to update %s %d: %w", entity, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return &core.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

func (t *tx) remove(ctx context.Context, entity string, id int, model any) error {
	if err := t.writable(); err != nil {
		return err
	}
	res := t.db.WithContext(ctx).Delete(model, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete %s %d: %w", entity, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return &core.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

func (t *tx) setColumn(ctx context.Context, entity string, id int, model any, column string, value any) error {
	if err := t.writable(); err != nil {
		return err
	}
	res := t.db.WithContext(ctx).Model(model).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("failed to update %s %d: %w", entity, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return &core.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

// ── Customers ─────────────────────────────────────────────────────────────────

func (t *tx) InsertCustomer(ctx context.Context, c *core.Customer) error {
	row := customerToRow(c)
	if err := t.create(ctx, "customer", &row); err != nil {
		return err
	}
	*c = row.toCore()
	return nil
}

func (t *tx) GetCustomer(ctx context.Context, id int) (*core.Customer, error) {
	row, err := first[customerRow](ctx, t.db, "customer", id)
	if err != nil {
		return nil, err
	}
	c := row.toCore()
	return &c, nil
}

func (t *tx) UpdateCustomer(ctx context.Context, c *core.Customer) error {
	row := customerToRow(c)
	return t.save(ctx, "customer", c.ID, &row)
}

func (t *tx) DeleteCustomer(ctx context.Context, id int) error {
	return t.remove(ctx, "customer", id, &customerRow{})
}

func (t *tx) ListCustomers(ctx context.Context, f core.CustomerFilter) ([]core.Customer, error) {
	q := t.db.WithContext(ctx).Order("name, id")
	if f.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	var rows []customerRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	out := make([]core.Customer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCore())
	}
	return out, nil
}

// ── Plans ─────────────────────────────────────────────────────────────────────

func (t *tx) InsertPlan(ctx context.Context, p *core.Plan) error {
	row := planToRow(p)
	if err := t.create(ctx, "plan", &row); err != nil {
		return err
	}
	*p = row.toCore()
	return nil
}

func (t *tx) GetPlan(ctx context.Context, id int) (*core.Plan, error) {
	row, err := first[planRow](ctx, t.db, "plan", id)
	if err != nil {
		return nil, err
	}
	p := row.toCore()
	return &p, nil
}

func (t *tx) UpdatePlan(ctx context.Context, p *core.Plan) error {
	row := planToRow(p)
	return t.save(ctx, "plan", p.ID, &row)
}

func (t *tx) DeletePlan(ctx context.Context, id int) error {
	return t.remove(ctx, "plan", id, &planRow{})
}

func (t *tx) ListPlans(ctx context.Context, f core.PlanFilter) ([]core.Plan, error) {
	q := t.db.WithContext(ctx).Order("name, id")
	if f.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	var rows []planRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	out := make([]core.Plan, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCore())
	}
	return out, nil
}

// ── Subscriptions ─────────────────────────────────────────────────────────────

func (t *tx) InsertSubscription(ctx context.Context, s *core.Subscription) error {
	row := subscriptionToRow(s)
	if err := t.create(ctx, "subscription", &row); err != nil {
		return err
	}
	s.ID, s.CreatedAt, s.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
	return nil
}

func (t *tx) GetSubscription(ctx context.Context, id int) (*core.Subscription, error) {
	row, err := first[subscriptionRow](ctx, t.db, "subscription", id)
	if err != nil {
		return nil, err
	}
	s, err := row.toCore()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *tx) UpdateSubscription(ctx context.Context, s *core.Subscription) error {
	row := subscriptionToRow(s)
	return t.save(ctx, "subscription", s.ID, &row)
}

func (t *tx) DeleteSubscription(ctx context.Context, id int) error {
	return t.remove(ctx, "subscription", id, &subscriptionRow{})
}

func (t *tx) ListSubscriptions(ctx context.Context, f core.SubscriptionFilter) ([]core.Subscription, error) {
	q := t.db.WithContext(ctx).Order("id")
	if f.CustomerID != 0 {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.PlanID != 0 {
		q = q.Where("plan_id = ?", f.PlanID)
	}
	if f.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	var rows []subscriptionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	out := make([]core.Subscription, 0, len(rows))
	for _, r := range rows {
		s, err := r.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ── Accruals ──────────────────────────────────────────────────────────────────

func (t *tx) InsertAccrual(ctx context.Context, a *core.Accrual) error {
	if err := t.writable(); err != nil {
		return err
	}
	row := accrualToRow(a)
	res := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("failed to insert accrual: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var existing accrualRow
		err := t.db.WithContext(ctx).
			Where("subscription_id = ? AND year = ? AND month = ?", a.SubscriptionID, a.Period.Year, int(a.Period.Month)).
			First(&existing).Error
		if err != nil {
			return fmt.Errorf("failed to load existing accrual: %w", err)
		}
		return &core.DuplicateAccrualError{
			SubscriptionID: a.SubscriptionID,
			CustomerID:     a.CustomerID,
			Period:         a.Period,
			ExistingID:     existing.ID,
		}
	}
	a.ID, a.CreatedAt = row.ID, row.CreatedAt
	return nil
}

func (t *tx) GetAccrual(ctx context.Context, id int) (*core.Accrual, error) {
	row, err := first[accrualRow](ctx, t.db, "accrual", id)
	if err != nil {
		return nil, err
	}
	a, err := row.toCore()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *tx) UpdateAccrualStatus(ctx context.Context, id int, status core.AccrualStatus) error {
	return t.setColumn(ctx, "accrual", id, &accrualRow{}, "status", string(status))
}

func (t *tx) DeleteAccrual(ctx context.Context, id int) error {
	return t.remove(ctx, "accrual", id, &accrualRow{})
}

func (t *tx) ListAccruals(ctx context.Context, f core.AccrualFilter) ([]core.Accrual, error) {
	q := t.db.WithContext(ctx).Order("year, month, accrual_date, id")
	if f.CustomerID != 0 {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.SubscriptionID != 0 {
		q = q.Where("subscription_id = ?", f.SubscriptionID)
	}
	if f.PlanID != 0 {
		q = q.Where("plan_id = ?", f.PlanID)
	}
	if f.Period != nil {
		q = q.Where("year = ? AND month = ?", f.Period.Year, int(f.Period.Month))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.DueOnOrBefore != nil {
		q = q.Where("accrual_date <= ?", fmtDate(*f.DueOnOrBefore))
	}
	var rows []accrualRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list accruals: %w", err)
	}
	out := make([]core.Accrual, 0, len(rows))
	for _, r := range rows {
		a, err := r.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ── Payments ──────────────────────────────────────────────────────────────────

func (t *tx) InsertPayment(ctx context.Context, p *core.Payment) error {
	row := paymentToRow(p)
	if err := t.create(ctx, "payment", &row); err != nil {
		return err
	}
	p.ID, p.CreatedAt = row.ID, row.CreatedAt
	return nil
}

func (t *tx) GetPayment(ctx context.Context, id int) (*core.Payment, error) {
	row, err := first[paymentRow](ctx, t.db, "payment", id)
	if err != nil {
		return nil, err
	}
	p, err := row.toCore()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) UpdatePaymentRemaining(ctx context.Context, id int, remaining decimal.Decimal) error {
	return t.setColumn(ctx, "payment", id, &paymentRow{}, "remaining", remaining)
}

func (t *tx) DeletePayment(ctx context.Context, id int) error {
	return t.remove(ctx, "payment", id, &paymentRow{})
}

func (t *tx) ListPayments(ctx context.Context, f core.PaymentFilter) ([]core.Payment, error) {
	q := t.db.WithContext(ctx).Order("payment_date, id")
	if f.CustomerID != 0 {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.From != nil {
		q = q.Where("payment_date >= ?", fmtDate(*f.From))
	}
	if f.To != nil {
		q = q.Where("payment_date <= ?", fmtDate(*f.To))
	}
	var rows []paymentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	out := make([]core.Payment, 0, len(rows))
	for _, r := range rows {
		p, err := r.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ── Allocations ───────────────────────────────────────────────────────────────

func (t *tx) InsertAllocation(ctx context.Context, a *core.Allocation) error {
	if _, err := first[paymentRow](ctx, t.db, "payment", a.PaymentID); err != nil {
		return err
	}
	if _, err := first[accrualRow](ctx, t.db, "accrual", a.AccrualID); err != nil {
		return err
	}
	row := allocationToRow(a)
	if err := t.create(ctx, "allocation", &row); err != nil {
		return err
	}
	a.ID, a.CreatedAt = row.ID, row.CreatedAt
	return nil
}

func (t *tx) GetAllocation(ctx context.Context, id int) (*core.Allocation, error) {
	row, err := first[allocationRow](ctx, t.db, "allocation", id)
	if err != nil {
		return nil, err
	}
	a, err := row.toCore()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *tx) DeleteAllocation(ctx context.Context, id int) error {
	return t.remove(ctx, "allocation", id, &allocationRow{})
}

func (t *tx) ListAllocations(ctx context.Context, f core.AllocationFilter) ([]core.Allocation, error) {
	q := t.db.WithContext(ctx).Order("id")
	if f.PaymentID != 0 {
		q = q.Where("payment_id = ?", f.PaymentID)
	}
	if f.AccrualID != 0 {
		q = q.Where("accrual_id = ?", f.AccrualID)
	}
	if f.CustomerID != 0 {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	var rows []allocationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	out := make([]core.Allocation, 0, len(rows))
	for _, r := range rows {
		a, err := r.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ── Adjustments ───────────────────────────────────────────────────────────────

func (t *tx) InsertAdjustment(ctx context.Context, a *core.Adjustment) error {
	row := adjustmentToRow(a)
	if err := t.create(ctx, "adjustment", &row); err != nil {
		return err
	}
	a.ID, a.CreatedAt = row.ID, row.CreatedAt
	return nil
}

func (t *tx) GetAdjustment(ctx context.Context, id int) (*core.Adjustment, error) {
	row, err := first[adjustmentRow](ctx, t.db, "adjustment", id)
	if err != nil {
		return nil, err
	}
	a, err := row.toCore()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *tx) DeleteAdjustment(ctx context.Context, id int) error {
	return t.remove(ctx, "adjustment", id, &adjustmentRow{})
}

func (t *tx) ListAdjustments(ctx context.Context, f core.AdjustmentFilter) ([]core.Adjustment, error) {
	q := t.db.WithContext(ctx).Order("date, id")
	if f.CustomerID != 0 {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.AccrualID != 0 {
		q = q.Where("accrual_id = ?", f.AccrualID)
	}
	if f.CustomerWideOnly {
		q = q.Where("accrual_id IS NULL")
	}
	var rows []adjustmentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	out := make([]core.Adjustment, 0, len(rows))
	for _, r := range rows {
		a, err := r.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
