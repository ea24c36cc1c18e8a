package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"subscription-ledger/internal/core"
)

type tx struct {
	q    pgx.Tx
	lock bool
}

// where accumulates AND-ed conditions. Each "?" in a condition becomes the
// next positional parameter.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(w.args)), 1))
}

func (w *where) raw(cond string) { w.conds = append(w.conds, cond) }

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (t *tx) forUpdate() string {
	if t.lock {
		return " FOR UPDATE"
	}
	return ""
}

func notFound(err error, entity string, id int) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &core.NotFoundError{Entity: entity, ID: id}
	}
	return fmt.Errorf("failed to fetch %s %d: %w", entity, id, err)
}

func (t *tx) execOne(ctx context.Context, entity string, id int, sql string, args ...any) error {
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to write %s %d: %w", entity, id, err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

// tsOrNow lets the database stamp zero times.
func tsOrNow(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// ── Customers ─────────────────────────────────────────────────────────────────

const customerColumns = "id, name, tax_id, contact_person, email, phone, address, notes, active, created_at, updated_at"

func scanCustomer(row pgx.Row) (core.Customer, error) {
	var c core.Customer
	err := row.Scan(&c.ID, &c.Name, &c.TaxID, &c.ContactPerson, &c.Email, &c.Phone, &c.Address, &c.Notes,
		&c.Active, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (t *tx) InsertCustomer(ctx context.Context, c *core.Customer) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO customers (name, tax_id, contact_person, email, phone, address, notes, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9::timestamptz, NOW()), COALESCE($10::timestamptz, NOW()))
		RETURNING id, created_at, updated_at
	`, c.Name, c.TaxID, c.ContactPerson, c.Email, c.Phone, c.Address, c.Notes, c.Active,
		tsOrNow(c.CreatedAt), tsOrNow(c.UpdatedAt)).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

func (t *tx) GetCustomer(ctx context.Context, id int) (*core.Customer, error) {
	c, err := scanCustomer(t.q.QueryRow(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "customer", id)
	}
	return &c, nil
}

func (t *tx) UpdateCustomer(ctx context.Context, c *core.Customer) error {
	return t.execOne(ctx, "customer", c.ID, `
		UPDATE customers
		SET name = $1, tax_id = $2, contact_person = $3, email = $4, phone = $5, address = $6, notes = $7,
		    active = $8, updated_at = COALESCE($9::timestamptz, NOW())
		WHERE id = $10
	`, c.Name, c.TaxID, c.ContactPerson, c.Email, c.Phone, c.Address, c.Notes, c.Active, tsOrNow(c.UpdatedAt), c.ID)
}

func (t *tx) DeleteCustomer(ctx context.Context, id int) error {
	return t.execOne(ctx, "customer", id, "DELETE FROM customers WHERE id = $1", id)
}

func (t *tx) ListCustomers(ctx context.Context, f core.CustomerFilter) ([]core.Customer, error) {
	var w where
	if f.ActiveOnly {
		w.raw("active")
	}
	rows, err := t.q.Query(ctx, "SELECT "+customerColumns+" FROM customers"+w.String()+" ORDER BY name, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (core.Customer, error) { return scanCustomer(r) })
	if err != nil {
		return nil, fmt.Errorf("failed to scan customers: %w", err)
	}
	return out, nil
}

// ── Plans ─────────────────────────────────────────────────────────────────────

const planColumns = "id, name, description, base_amount, periodicity, active, created_at, updated_at"

func scanPlan(row pgx.Row) (core.Plan, error) {
	var p core.Plan
	var periodicity string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.BaseAmount, &periodicity, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	p.Periodicity = core.Periodicity(periodicity)
	return p, err
}

func (t *tx) InsertPlan(ctx context.Context, p *core.Plan) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO plans (name, description, base_amount, periodicity, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, NOW()), COALESCE($7::timestamptz, NOW()))
		RETURNING id, created_at, updated_at
	`, p.Name, p.Description, p.BaseAmount, string(p.Periodicity), p.Active,
		tsOrNow(p.CreatedAt), tsOrNow(p.UpdatedAt)).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

func (t *tx) GetPlan(ctx context.Context, id int) (*core.Plan, error) {
	p, err := scanPlan(t.q.QueryRow(ctx, "SELECT "+planColumns+" FROM plans WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "plan", id)
	}
	return &p, nil
}

func (t *tx) UpdatePlan(ctx context.Context, p *core.Plan) error {
	return t.execOne(ctx, "plan", p.ID, `
		UPDATE plans
		SET name = $1, description = $2, base_amount = $3, periodicity = $4, active = $5,
		    updated_at = COALESCE($6::timestamptz, NOW())
		WHERE id = $7
	`, p.Name, p.Description, p.BaseAmount, string(p.Periodicity), p.Active, tsOrNow(p.UpdatedAt), p.ID)
}

func (t *tx) DeletePlan(ctx context.Context, id int) error {
	return t.execOne(ctx, "plan", id, "DELETE FROM plans WHERE id = $1", id)
}

func (t *tx) ListPlans(ctx context.Context, f core.PlanFilter) ([]core.Plan, error) {
	var w where
	if f.ActiveOnly {
		w.raw("active")
	}
	rows, err := t.q.Query(ctx, "SELECT "+planColumns+" FROM plans"+w.String()+" ORDER BY name, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (core.Plan, error) { return scanPlan(r) })
	if err != nil {
		return nil, fmt.Errorf("failed to scan plans: %w", err)
	}
	return out, nil
}

// ── Subscriptions ─────────────────────────────────────────────────────────────

const subscriptionColumns = "id, customer_id, plan_id, start_date, end_date, price_override, active, notes, created_at, updated_at"

func scanSubscription(row pgx.Row) (core.Subscription, error) {
	var s core.Subscription
	var override decimal.NullDecimal
	err := row.Scan(&s.ID, &s.CustomerID, &s.PlanID, &s.StartDate, &s.EndDate, &override, &s.Active, &s.Notes,
		&s.CreatedAt, &s.UpdatedAt)
	if override.Valid {
		v := override.Decimal
		s.PriceOverride = &v
	}
	return s, err
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func (t *tx) InsertSubscription(ctx context.Context, s *core.Subscription) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO subscriptions (customer_id, plan_id, start_date, end_date, price_override, active, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::timestamptz, NOW()), COALESCE($9::timestamptz, NOW()))
		RETURNING id, created_at, updated_at
	`, s.CustomerID, s.PlanID, s.StartDate, s.EndDate, nullDecimal(s.PriceOverride), s.Active, s.Notes,
		tsOrNow(s.CreatedAt), tsOrNow(s.UpdatedAt)).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (t *tx) GetSubscription(ctx context.Context, id int) (*core.Subscription, error) {
	s, err := scanSubscription(t.q.QueryRow(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "subscription", id)
	}
	return &s, nil
}

func (t *tx) UpdateSubscription(ctx context.Context, s *core.Subscription) error {
	return t.execOne(ctx, "subscription", s.ID, `
		UPDATE subscriptions
		SET customer_id = $1, plan_id = $2, start_date = $3, end_date = $4, price_override = $5, active = $6,
		    notes = $7, updated_at = COALESCE($8::timestamptz, NOW())
		WHERE id = $9
	`, s.CustomerID, s.PlanID, s.StartDate, s.EndDate, nullDecimal(s.PriceOverride), s.Active, s.Notes,
		tsOrNow(s.UpdatedAt), s.ID)
}

func (t *tx) DeleteSubscription(ctx context.Context, id int) error {
	return t.execOne(ctx, "subscription", id, "DELETE FROM subscriptions WHERE id = $1", id)
}

func (t *tx) ListSubscriptions(ctx context.Context, f core.SubscriptionFilter) ([]core.Subscription, error) {
	var w where
	if f.CustomerID != 0 {
		w.add("customer_id = ?", f.CustomerID)
	}
	if f.PlanID != 0 {
		w.add("plan_id = ?", f.PlanID)
	}
	if f.ActiveOnly {
		w.raw("active")
	}
	rows, err := t.q.Query(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions"+w.String()+" ORDER BY id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (core.Subscription, error) { return scanSubscription(r) })
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscriptions: %w", err)
	}
	return out, nil
}

// ── Accruals ──────────────────────────────────────────────────────────────────

const accrualColumns = "id, customer_id, subscription_id, plan_id, year, month, amount, accrual_date, status, notes, created_at"

func scanAccrual(row pgx.Row) (core.Accrual, error) {
	var a core.Accrual
	var month int
	var status string
	err := row.Scan(&a.ID, &a.CustomerID, &a.SubscriptionID, &a.PlanID, &a.Period.Year, &month, &a.Amount,
		&a.AccrualDate, &status, &a.Notes, &a.CreatedAt)
	a.Period.Month = time.Month(month)
	a.Status = core.AccrualStatus(status)
	return a, err
}

// InsertAccrual relies on the (subscription_id, year, month) constraint, so
// concurrent generators for the same period cannot both succeed.
func (t *tx) InsertAccrual(ctx context.Context, a *core.Accrual) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO accruals (customer_id, subscription_id, plan_id, year, month, amount, accrual_date, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10::timestamptz, NOW()))
		ON CONFLICT (subscription_id, year, month) DO NOTHING
		RETURNING id, created_at
	`, a.CustomerID, a.SubscriptionID, a.PlanID, a.Period.Year, int(a.Period.Month), a.Amount, a.AccrualDate,
		string(a.Status), a.Notes, tsOrNow(a.CreatedAt)).Scan(&a.ID, &a.CreatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to insert accrual: %w", err)
	}

	var existing int
	err = t.q.QueryRow(ctx,
		"SELECT id FROM accruals WHERE subscription_id = $1 AND year = $2 AND month = $3",
		a.SubscriptionID, a.Period.Year, int(a.Period.Month),
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to load existing accrual: %w", err)
	}
	return &core.DuplicateAccrualError{
		SubscriptionID: a.SubscriptionID,
		CustomerID:     a.CustomerID,
		Period:         a.Period,
		ExistingID:     existing,
	}
}

func (t *tx) GetAccrual(ctx context.Context, id int) (*core.Accrual, error) {
	a, err := scanAccrual(t.q.QueryRow(ctx, "SELECT "+accrualColumns+" FROM accruals WHERE id = $1"+t.forUpdate(), id))
	if err != nil {
		return nil, notFound(err, "accrual", id)
	}
	return &a, nil
}

func (t *tx) UpdateAccrualStatus(ctx context.Context, id int, status core.AccrualStatus) error {
	return t.execOne(ctx, "accrual", id, "UPDATE accruals SET status = $1 WHERE id = $2", string(status), id)
}

func (t *tx) DeleteAccrual(ctx context.Context, id int) error {
	return t.execOne(ctx, "accrual", id, "DELETE FROM accruals WHERE id = $1", id)
}

func (t *tx) ListAccruals(ctx context.Context, f core.AccrualFilter) ([]core.Accrual, error) {
	var w where
	if f.CustomerID != 0 {
		w.add("customer_id = ?", f.CustomerID)
	}
	if f.SubscriptionID != 0 {
		w.add("subscription_id = ?", f.SubscriptionID)
	}
	if f.PlanID != 0 {
		w.add("plan_id = ?", f.PlanID)
	}
	if f.Period != nil {
		w.add("year = ?", f.Period.Year)
		w.add("month = ?", int(f.Period.Month))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.add("status = ANY(?)", statuses)
	}
	if f.DueOnOrBefore != nil {
		w.add("accrual_date <= ?", *f.DueOnOrBefore)
	}
	rows, err := t.q.Query(ctx,
		"SELECT "+accrualColumns+" FROM accruals"+w.String()+" ORDER BY year, month, accrual_date, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accruals: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (core.Accrual, error) { return scanAccrual(r) })
	if err != nil {
		return nil, fmt.Errorf("failed to scan accruals: %w", err)
	}
	return out, nil
}

// ── Payments ──────────────────────────────────────────────────────────────────

const paymentColumns = "id, customer_id, amount, remaining, payment_date, method, reference, notes, created_at"

func scanPayment(row pgx.Row) (core.Payment, error) {
	var p core.Payment
	err := row.Scan(&p.ID, &p.CustomerID, &p.Amount, &p.Remaining, &p.PaymentDate, &p.Method, &p.Reference,
		&p.Notes, &p.CreatedAt)
	return p, err
}

func (t *tx) InsertPayment(ctx context.Context, p *core.Payment) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO payments (customer_id, amount, remaining, payment_date, method, reference, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::timestamptz, NOW()))
		RETURNING id, created_at
	`, p.CustomerID, p.Amount, p.Remaining, p.PaymentDate, p.Method, p.Reference, p.Notes,
		tsOrNow(p.CreatedAt)).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (t *tx) GetPayment(ctx context.Context, id int) (*core.Payment, error) {
	p, err := scanPayment(t.q.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1"+t.forUpdate(), id))
	if err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &p, nil
}

func (t *tx) UpdatePaymentRemaining(ctx context.Context, id int, remaining decimal.Decimal) error {
	return t.execOne(ctx, "payment", id, "UPDATE payments SET remaining = $1 WHERE id = $2", remaining, id)
}

func (t *tx) DeletePayment(ctx context.Context, id int) error {
	return t.execOne(ctx, "payment", id, "DELETE FROM payments WHERE id = $1", id)
}

func (t *tx) ListPayments(ctx context.Context, f core.PaymentFilter) ([]core.Payment, error) {
	var w where
	if f.CustomerID != 0 {
		w.add("customer_id = ?", f.CustomerID)
	}
	if f.From != nil {
		w.add("payment_date >= ?", *f.From)
	}
	if f.To != nil {
		w.add("payment_date <= ?", *f.To)
	}
	rows, err := t.q.Query(ctx,
		"SELECT "+paymentColumns+" FROM payments"+w.String()+" ORDER BY payment_date, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (core.Payment, error) { return scanPayment(r) })
	if err != nil {
		return nil, fmt.Errorf("failed to scan payments: %w", err)
	}
	return out, nil
}

// ── Allocations ───────────────────────────────────────────────────────────────

const allocationColumns = "id, payment_id, accrual_id, customer_id, amount, allocated_on, created_at"

func scanAllocation(row pgx.Row) (core.Allocation, error) {
	var a core.Allocation
	err := row.Scan(&a.ID, &a.PaymentID, &a.AccrualID, &a.CustomerID, &a.Amount, &a.AllocatedOn, &a.CreatedAt)
	return a, err
}

func (t *tx) exists(ctx context.Context, table, entity string, id int) error {
	var found bool
	err := t.q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+table+" WHERE id = $1)", id).Scan(&found)
	if err != nil {
		return fmt.Errorf("failed to check %s %d: %w", entity, id, err)
	}
	if !found {
		return &core.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

func (t *tx) InsertAllocation(ctx context.Context, a *core.Allocation) error {
	if err := t.exists(ctx, "payments", "payment", a.PaymentID); err != nil {
		return err
	}
	if err := t.exists(ctx, "accruals", "accrual", a.AccrualID); err != nil {
		return err
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO allocations (payment_id, accrual_id, customer_id, amount, allocated_on, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, NOW()))
		RETURNING id, created_at
	`, a.PaymentID, a.AccrualID, a.CustomerID, a.Amount, a.AllocatedOn, tsOrNow(a.CreatedAt)).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert allocation: %w", err)
	}
	return nil
}

func (t *tx) GetAllocation(ctx context.Context, id int) (*core.Allocation, error) {
	a, err := scanAllocation(t.q.QueryRow(ctx, "SELECT "+allocationColumns+" FROM allocations WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "allocation", id)
	}
	return &a, nil
}

func (t *tx) DeleteAllocation(ctx context.Context, id int) error {
	return t.execOne(ctx, "allocation", id, "DELETE FROM allocations WHERE id = $1", id)
}

func (t *tx) ListAllocations(ctx context.Context, f core.AllocationFilter) ([]core.Allocation, error) {
	var w where
	if f.PaymentID != 0 {
		w.add("payment_id = ?", f.PaymentID)
	}
	if f.AccrualID != 0 {
		w.add("accrual_id = ?", f.AccrualID)
	}
	if f.CustomerID != 0 {
		w.add("customer_id = ?", f.CustomerID)
	}
	rows, err := t.q.Query(ctx, "SELECT "+allocationColumns+" FROM allocations"+w.String()+" ORDER BY id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (core.Allocation, error) { return scanAllocation(r) })
	if err != nil {
		return nil, fmt.Errorf("failed to scan allocations: %w", err)
	}
	return out, nil
}

// ── Adjustments ───────────────────────────────────────────────────────────────

const adjustmentColumns = "id, customer_id, accrual_id, kind, amount, date, reason, created_at"

func scanAdjustment(row pgx.Row) (core.Adjustment, error) {
	var a core.Adjustment
	var kind string
	err := row.Scan(&a.ID, &a.CustomerID, &a.AccrualID, &kind, &a.Amount, &a.Date, &a.Reason, &a.CreatedAt)
	a.Kind = core.AdjustmentKind(kind)
	return a, err
}

func (t *tx) InsertAdjustment(ctx context.Context, a *core.Adjustment) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO adjustments (customer_id, accrual_id, kind, amount, date, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, NOW()))
		RETURNING id, created_at
	`, a.CustomerID, a.AccrualID, string(a.Kind), a.Amount, a.Date, a.Reason, tsOrNow(a.CreatedAt)).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert adjustment: %w", err)
	}
	return nil
}

func (t *tx) GetAdjustment(ctx context.Context, id int) (*core.Adjustment, error) {
	a, err := scanAdjustment(t.q.QueryRow(ctx, "SELECT "+adjustmentColumns+" FROM adjustments WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "adjustment", id)
	}
	return &a, nil
}

func (t *tx) DeleteAdjustment(ctx context.Context, id int) error {
	return t.execOne(ctx, "adjustment", id, "DELETE FROM adjustments WHERE id = $1", id)
}

func (t *tx) ListAdjustments(ctx context.Context, f core.AdjustmentFilter) ([]core.Adjustment, error) {
	var w where
	if f.CustomerID != 0 {
		w.add("customer_id = ?", f.CustomerID)
	}
	if f.AccrualID != 0 {
		w.add("accrual_id = ?", f.AccrualID)
	}
	if f.CustomerWideOnly {
		w.raw("accrual_id IS NULL")
	}
	rows, err := t.q.Query(ctx,
		"SELECT "+adjustmentColumns+" FROM adjustments"+w.String()+" ORDER BY date, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (core.Adjustment, error) { return scanAdjustment(r) })
	if err != nil {
		return nil, fmt.Errorf("failed to scan adjustments: %w", err)
	}
	return out, nil
}
