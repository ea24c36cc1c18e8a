// Package memory is an in-process ledger store. Writers are serialized; each
// Update works on a copy of the state that replaces the live state only when
// the callback succeeds.
package memory

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"subscription-ledger/internal/core"
)

var errReadOnly = errors.New("memory store: write in read-only transaction")

type state struct {
	seq int

	customers     map[int]core.Customer
	plans         map[int]core.Plan
	subscriptions map[int]core.Subscription
	accruals      map[int]core.Accrual
	payments      map[int]core.Payment
	allocations   map[int]core.Allocation
	adjustments   map[int]core.Adjustment
}

func newState() *state {
	return &state{
		customers:     make(map[int]core.Customer),
		plans:         make(map[int]core.Plan),
		subscriptions: make(map[int]core.Subscription),
		accruals:      make(map[int]core.Accrual),
		payments:      make(map[int]core.Payment),
		allocations:   make(map[int]core.Allocation),
		adjustments:   make(map[int]core.Adjustment),
	}
}

func (s *state) clone() *state {
	return &state{
		seq:           s.seq,
		customers:     maps.Clone(s.customers),
		plans:         maps.Clone(s.plans),
		subscriptions: cloneWith(s.subscriptions, detachSubscription),
		accruals:      maps.Clone(s.accruals),
		payments:      maps.Clone(s.payments),
		allocations:   maps.Clone(s.allocations),
		adjustments:   cloneWith(s.adjustments, detachAdjustment),
	}
}

func cloneWith[V any](m map[int]V, detach func(V) V) map[int]V {
	out := make(map[int]V, len(m))
	for k, v := range m {
		out[k] = detach(v)
	}
	return out
}

// detachSubscription copies the optional fields so no caller shares them with
// the stored row.
func detachSubscription(s core.Subscription) core.Subscription {
	if s.EndDate != nil {
		end := *s.EndDate
		s.EndDate = &end
	}
	if s.PriceOverride != nil {
		price := *s.PriceOverride
		s.PriceOverride = &price
	}
	return s
}

func detachAdjustment(a core.Adjustment) core.Adjustment {
	if a.AccrualID != nil {
		id := *a.AccrualID
		a.AccrualID = &id
	}
	return a
}

func (s *state) nextID() int {
	s.seq++
	return s.seq
}

// Store implements core.Store in memory.
type Store struct {
	mu     sync.RWMutex
	data   *state
	closed bool
}

func New() *Store {
	return &Store{data: newState()}
}

func (s *Store) Update(ctx context.Context, fn func(tx core.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx core.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return core.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&tx{st: s.data, readOnly: true})
}

func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type tx struct {
	st       *state
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func notFound(entity string, id int) error {
	return &core.NotFoundError{Entity: entity, ID: id}
}

// ── Customers ─────────────────────────────────────────────────────────────────

func (t *tx) InsertCustomer(_ context.Context, c *core.Customer) error {
	if err := t.writable(); err != nil {
		return err
	}
	c.ID = t.st.nextID()
	t.st.customers[c.ID] = *c
	return nil
}

func (t *tx) GetCustomer(_ context.Context, id int) (*core.Customer, error) {
	c, ok := t.st.customers[id]
	if !ok {
		return nil, notFound("customer", id)
	}
	return &c, nil
}

func (t *tx) UpdateCustomer(_ context.Context, c *core.Customer) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.customers[c.ID]; !ok {
		return notFound("customer", c.ID)
	}
	t.st.customers[c.ID] = *c
	return nil
}

func (t *tx) DeleteCustomer(_ context.Context, id int) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.customers[id]; !ok {
		return notFound("customer", id)
	}
	delete(t.st.customers, id)
	return nil
}

func (t *tx) ListCustomers(_ context.Context, f core.CustomerFilter) ([]core.Customer, error) {
	out := []core.Customer{}
	for _, c := range t.st.customers {
		if f.ActiveOnly && !c.Active {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ── Plans ─────────────────────────────────────────────────────────────────────

func (t *tx) InsertPlan(_ context.Context, p *core.Plan) error {
	if err := t.writable(); err != nil {
		return err
	}
	p.ID = t.st.nextID()
	t.st.plans[p.ID] = *p
	return nil
}

func (t *tx) GetPlan(_ context.Context, id int) (*core.Plan, error) {
	p, ok := t.st.plans[id]
	if !ok {
		return nil, notFound("plan", id)
	}
	return &p, nil
}

func (t *tx) UpdatePlan(_ context.Context, p *core.Plan) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.plans[p.ID]; !ok {
		return notFound("plan", p.ID)
	}
	t.st.plans[p.ID] = *p
	return nil
}

func (t *tx) DeletePlan(_ context.Context, id int) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.plans[id]; !ok {
		return notFound("plan", id)
	}
	delete(t.st.plans, id)
	return nil
}

func (t *tx) ListPlans(_ context.Context, f core.PlanFilter) ([]core.Plan, error) {
	out := []core.Plan{}
	for _, p := range t.st.plans {
		if f.ActiveOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ── Subscriptions ─────────────────────────────────────────────────────────────

func (t *tx) InsertSubscription(_ context.Context, s *core.Subscription) error {
	if err := t.writable(); err != nil {
		return err
	}
	s.ID = t.st.nextID()
	t.st.subscriptions[s.ID] = detachSubscription(*s)
	return nil
}

func (t *tx) GetSubscription(_ context.Context, id int) (*core.Subscription, error) {
	s, ok := t.st.subscriptions[id]
	if !ok {
		return nil, notFound("subscription", id)
	}
	s = detachSubscription(s)
	return &s, nil
}

func (t *tx) UpdateSubscription(_ context.Context, s *core.Subscription) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.subscriptions[s.ID]; !ok {
		return notFound("subscription", s.ID)
	}
	t.st.subscriptions[s.ID] = detachSubscription(*s)
	return nil
}

func (t *tx) DeleteSubscription(_ context.Context, id int) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.subscriptions[id]; !ok {
		return notFound("subscription", id)
	}
	delete(t.st.subscriptions, id)
	return nil
}

func (t *tx) ListSubscriptions(_ context.Context, f core.SubscriptionFilter) ([]core.Subscription, error) {
	out := []core.Subscription{}
	for _, s := range t.st.subscriptions {
		if f.CustomerID != 0 && s.CustomerID != f.CustomerID {
			continue
		}
		if f.PlanID != 0 && s.PlanID != f.PlanID {
			continue
		}
		if f.ActiveOnly && !s.Active {
			continue
		}
		out = append(out, detachSubscription(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ── Accruals ──────────────────────────────────────────────────────────────────

func (t *tx) InsertAccrual(_ context.Context, a *core.Accrual) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, existing := range t.st.accruals {
		if existing.SubscriptionID == a.SubscriptionID && existing.Period == a.Period {
			return &core.DuplicateAccrualError{
				SubscriptionID: a.SubscriptionID,
				CustomerID:     a.CustomerID,
				Period:         a.Period,
				ExistingID:     existing.ID,
			}
		}
	}
	a.ID = t.st.nextID()
	t.st.accruals[a.ID] = *a
	return nil
}

func (t *tx) GetAccrual(_ context.Context, id int) (*core.Accrual, error) {
	a, ok := t.st.accruals[id]
	if !ok {
		return nil, notFound("accrual", id)
	}
	return &a, nil
}

func (t *tx) UpdateAccrualStatus(_ context.Context, id int, status core.AccrualStatus) error {
	if err := t.writable(); err != nil {
		return err
	}
	a, ok := t.st.accruals[id]
	if !ok {
		return notFound("accrual", id)
	}
	a.Status = status
	t.st.accruals[id] = a
	return nil
}

func (t *tx) DeleteAccrual(_ context.Context, id int) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.accruals[id]; !ok {
		return notFound("accrual", id)
	}
	delete(t.st.accruals, id)
	return nil
}

func (t *tx) ListAccruals(_ context.Context, f core.AccrualFilter) ([]core.Accrual, error) {
	out := []core.Accrual{}
	for _, a := range t.st.accruals {
		if f.CustomerID != 0 && a.CustomerID != f.CustomerID {
			continue
		}
		if f.SubscriptionID != 0 && a.SubscriptionID != f.SubscriptionID {
			continue
		}
		if f.PlanID != 0 && a.PlanID != f.PlanID {
			continue
		}
		if f.Period != nil && a.Period != *f.Period {
			continue
		}
		if f.DueOnOrBefore != nil && a.AccrualDate.After(*f.DueOnOrBefore) {
			continue
		}
		if !f.MatchStatus(a.Status) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Period != b.Period {
			return a.Period.Before(b.Period)
		}
		if !a.AccrualDate.Equal(b.AccrualDate) {
			return a.AccrualDate.Before(b.AccrualDate)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// ── Payments ──────────────────────────────────────────────────────────────────

func (t *tx) InsertPayment(_ context.Context, p *core.Payment) error {
	if err := t.writable(); err != nil {
		return err
	}
	p.ID = t.st.nextID()
	t.st.payments[p.ID] = *p
	return nil
}

func (t *tx) GetPayment(_ context.Context, id int) (*core.Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return nil, notFound("payment", id)
	}
	return &p, nil
}

func (t *tx) UpdatePaymentRemaining(_ context.Context, id int, remaining decimal.Decimal) error {
	if err := t.writable(); err != nil {
		return err
	}
	p, ok := t.st.payments[id]
	if !ok {
		return notFound("payment", id)
	}
	p.Remaining = remaining
	t.st.payments[id] = p
	return nil
}

func (t *tx) DeletePayment(_ context.Context, id int) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.payments[id]; !ok {
		return notFound("payment", id)
	}
	delete(t.st.payments, id)
	return nil
}

func (t *tx) ListPayments(_ context.Context, f core.PaymentFilter) ([]core.Payment, error) {
	out := []core.Payment{}
	for _, p := range t.st.payments {
		if f.CustomerID != 0 && p.CustomerID != f.CustomerID {
			continue
		}
		if f.From != nil && p.PaymentDate.Before(*f.From) {
			continue
		}
		if f.To != nil && p.PaymentDate.After(*f.To) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].PaymentDate.Before(out[j].PaymentDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ── Allocations ───────────────────────────────────────────────────────────────

func (t *tx) InsertAllocation(_ context.Context, a *core.Allocation) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.payments[a.PaymentID]; !ok {
		return notFound("payment", a.PaymentID)
	}
	if _, ok := t.st.accruals[a.AccrualID]; !ok {
		return notFound("accrual", a.AccrualID)
	}
	a.ID = t.st.nextID()
	t.st.allocations[a.ID] = *a
	return nil
}

func (t *tx) GetAllocation(_ context.Context, id int) (*core.Allocation, error) {
	a, ok := t.st.allocations[id]
	if !ok {
		return nil, notFound("allocation", id)
	}
	return &a, nil
}

func (t *tx) DeleteAllocation(_ context.Context, id int) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.allocations[id]; !ok {
		return notFound("allocation", id)
	}
	delete(t.st.allocations, id)
	return nil
}

func (t *tx) ListAllocations(_ context.Context, f core.AllocationFilter) ([]core.Allocation, error) {
	out := []core.Allocation{}
	for _, a := range t.st.allocations {
		if f.PaymentID != 0 && a.PaymentID != f.PaymentID {
			continue
		}
		if f.AccrualID != 0 && a.AccrualID != f.AccrualID {
			continue
		}
		if f.CustomerID != 0 && a.CustomerID != f.CustomerID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ── Adjustments ───────────────────────────────────────────────────────────────

func (t *tx) InsertAdjustment(_ context.Context, a *core.Adjustment) error {
	if err := t.writable(); err != nil {
		return err
	}
	a.ID = t.st.nextID()
	t.st.adjustments[a.ID] = detachAdjustment(*a)
	return nil
}

func (t *tx) GetAdjustment(_ context.Context, id int) (*core.Adjustment, error) {
	a, ok := t.st.adjustments[id]
	if !ok {
		return nil, notFound("adjustment", id)
	}
	a = detachAdjustment(a)
	return &a, nil
}

func (t *tx) DeleteAdjustment(_ context.Context, id int) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.adjustments[id]; !ok {
		return notFound("adjustment", id)
	}
	delete(t.st.adjustments, id)
	return nil
}

func (t *tx) ListAdjustments(_ context.Context, f core.AdjustmentFilter) ([]core.Adjustment, error) {
	out := []core.Adjustment{}
	for _, a := range t.st.adjustments {
		if f.CustomerID != 0 && a.CustomerID != f.CustomerID {
			continue
		}
		if f.AccrualID != 0 && (a.AccrualID == nil || *a.AccrualID != f.AccrualID) {
			continue
		}
		if f.CustomerWideOnly && a.AccrualID != nil {
			continue
		}
		out = append(out, detachAdjustment(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
