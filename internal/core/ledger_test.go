package core_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"subscription-ledger/internal/core"
	"subscription-ledger/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	ctx    context.Context
	store  core.Store
	clock  *fixedClock
	ledger *core.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	clock := &fixedClock{now: date(2024, time.June, 15)}
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{
		ctx:    context.Background(),
		store:  store,
		clock:  clock,
		ledger: core.NewLedger(store, core.Options{Clock: clock, Logger: log}),
	}
}

func (f *fixture) customer(t *testing.T, name string) *core.Customer {
	t.Helper()
	c, err := f.ledger.Catalog.CreateCustomer(f.ctx, core.CustomerInput{Name: name})
	if err != nil {
		t.Fatalf("CreateCustomer %s: %v", name, err)
	}
	return c
}

func (f *fixture) plan(t *testing.T, name, amount string, per core.Periodicity) *core.Plan {
	t.Helper()
	p, err := f.ledger.Catalog.CreatePlan(f.ctx, core.PlanInput{Name: name, BaseAmount: dec(amount), Periodicity: per})
	if err != nil {
		t.Fatalf("CreatePlan %s: %v", name, err)
	}
	return p
}

func (f *fixture) subscribe(t *testing.T, c *core.Customer, p *core.Plan, start time.Time) *core.Subscription {
	t.Helper()
	s, err := f.ledger.Catalog.Subscribe(f.ctx, core.SubscriptionInput{CustomerID: c.ID, PlanID: p.ID, StartDate: start})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return s
}

func (f *fixture) generate(t *testing.T, y int, m time.Month) *core.GenerateResult {
	t.Helper()
	res, err := f.ledger.Accruals.Generate(f.ctx, core.GenerateRequest{Period: core.Period{Year: y, Month: m}})
	if err != nil {
		t.Fatalf("Generate %d-%02d: %v", y, m, err)
	}
	return res
}

func (f *fixture) pay(t *testing.T, c *core.Customer, amount string) *core.Payment {
	t.Helper()
	p, err := f.ledger.Payments.Register(f.ctx, core.RegisterPaymentRequest{CustomerID: c.ID, Amount: dec(amount), Method: "transfer"})
	if err != nil {
		t.Fatalf("Register %s: %v", amount, err)
	}
	return p
}

func (f *fixture) position(t *testing.T, accrualID int) *core.AccrualPosition {
	t.Helper()
	pos, err := f.ledger.Accruals.Position(f.ctx, accrualID)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	return pos
}

// singleAccrual sets up one customer with one 100.00 accrual for January 2024.
func singleAccrual(t *testing.T, f *fixture) (*core.Customer, core.Accrual) {
	t.Helper()
	c := f.customer(t, "Acme")
	p := f.plan(t, "Basic", "100.00", core.Monthly)
	f.subscribe(t, c, p, date(2024, time.January, 1))
	res := f.generate(t, 2024, time.January)
	if len(res.Created) != 1 {
		t.Fatalf("expected 1 accrual, got %d", len(res.Created))
	}
	return c, res.Created[0]
}

// ── Generation ────────────────────────────────────────────────────────────────

func TestGenerate_CreatesPendingAccrualOnLastDay(t *testing.T) {
	f := newFixture(t)
	_, a := singleAccrual(t, f)

	if a.Status != core.AccrualPending {
		t.Errorf("expected PENDING, got %s", a.Status)
	}
	if !a.Amount.Equal(dec("100")) {
		t.Errorf("expected amount 100, got %s", a.Amount)
	}
	if !a.AccrualDate.Equal(date(2024, time.January, 31)) {
		t.Errorf("expected accrual date 2024-01-31, got %s", a.AccrualDate)
	}
}

func TestGenerate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	singleAccrual(t, f)

	second := f.generate(t, 2024, time.January)
	if len(second.Created) != 0 {
		t.Errorf("expected no new accruals, got %d", len(second.Created))
	}
	if len(second.Duplicates) != 1 {
		t.Fatalf("expected 1 duplicate, got %d", len(second.Duplicates))
	}
	if second.Duplicates[0].ExistingID == 0 {
		t.Error("expected duplicate to carry the existing accrual id")
	}

	all, err := f.ledger.Accruals.ListAccruals(f.ctx, core.AccrualFilter{})
	if err != nil {
		t.Fatalf("ListAccruals: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 accrual after two runs, got %d", len(all))
	}
}

func TestGenerate_Eligibility(t *testing.T) {
	f := newFixture(t)
	p := f.plan(t, "Basic", "50.00", core.Monthly)
	quarterly := f.plan(t, "Quarterly", "120.00", core.Quarterly)

	active := f.customer(t, "Active")
	f.subscribe(t, active, p, date(2024, time.January, 10))

	inactive := f.customer(t, "Inactive")
	f.subscribe(t, inactive, p, date(2024, time.January, 1))
	if _, err := f.ledger.Catalog.SetCustomerActive(f.ctx, inactive.ID, false); err != nil {
		t.Fatalf("SetCustomerActive: %v", err)
	}

	ended := f.customer(t, "Ended")
	end := date(2024, time.February, 28)
	if _, err := f.ledger.Catalog.Subscribe(f.ctx, core.SubscriptionInput{
		CustomerID: ended.ID, PlanID: p.ID, StartDate: date(2023, time.June, 1), EndDate: &end,
	}); err != nil {
		t.Fatalf("Subscribe ended: %v", err)
	}

	future := f.customer(t, "Future")
	f.subscribe(t, future, p, date(2024, time.April, 1))

	q := f.customer(t, "Quarterly")
	f.subscribe(t, q, quarterly, date(2024, time.January, 1))

	override := dec("35.00")
	discounted := f.customer(t, "Discounted")
	if _, err := f.ledger.Catalog.Subscribe(f.ctx, core.SubscriptionInput{
		CustomerID: discounted.ID, PlanID: p.ID, StartDate: date(2024, time.January, 1), PriceOverride: &override,
	}); err != nil {
		t.Fatalf("Subscribe discounted: %v", err)
	}

	res := f.generate(t, 2024, time.March)
	got := map[int]decimal.Decimal{}
	for _, a := range res.Created {
		got[a.CustomerID] = a.Amount
	}
	if len(got) != 2 {
		t.Fatalf("expected accruals for 2 customers, got %d (%v)", len(got), res.Skipped)
	}
	if amt, ok := got[active.ID]; !ok || !amt.Equal(dec("50")) {
		t.Errorf("expected 50 for active customer, got %v", amt)
	}
	if amt, ok := got[discounted.ID]; !ok || !amt.Equal(override) {
		t.Errorf("expected override 35 for discounted customer, got %v", amt)
	}
	if len(res.Skipped) != 4 {
		t.Errorf("expected 4 skipped subscriptions, got %d", len(res.Skipped))
	}

	april := f.generate(t, 2024, time.April)
	foundQuarterly := false
	for _, a := range april.Created {
		if a.CustomerID == q.ID {
			foundQuarterly = true
		}
	}
	if !foundQuarterly {
		t.Error("expected quarterly subscription to accrue in April")
	}
}

func TestGenerate_UnknownSubscription(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Accruals.Generate(f.ctx, core.GenerateRequest{
		Period:          core.Period{Year: 2024, Month: time.January},
		SubscriptionIDs: []int{999},
	})
	if !core.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

// ── Payments and allocation ───────────────────────────────────────────────────

func TestRegister_RejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	for _, amt := range []string{"0", "-5"} {
		_, err := f.ledger.Payments.Register(f.ctx, core.RegisterPaymentRequest{CustomerID: c.ID, Amount: dec(amt)})
		var ia *core.InvalidAmountError
		if !errors.As(err, &ia) {
			t.Errorf("amount %s: expected InvalidAmountError, got %v", amt, err)
		}
	}
	payments, _ := f.ledger.Payments.ListPayments(f.ctx, core.PaymentFilter{})
	if len(payments) != 0 {
		t.Errorf("expected no payments, got %d", len(payments))
	}
}

func TestAllocation_PartialThenFull(t *testing.T) {
	f := newFixture(t)
	c, a := singleAccrual(t, f)

	p1 := f.pay(t, c, "60.00")
	res, err := f.ledger.Allocations.AllocateAuto(f.ctx, p1.ID, time.Time{})
	if err != nil {
		t.Fatalf("AllocateAuto p1: %v", err)
	}
	if !res.Remaining.IsZero() {
		t.Errorf("expected p1 fully allocated, remaining %s", res.Remaining)
	}
	pos := f.position(t, a.ID)
	if pos.Accrual.Status != core.AccrualPartiallyPaid {
		t.Errorf("expected PARTIALLY_PAID, got %s", pos.Accrual.Status)
	}
	if !pos.Outstanding.Equal(dec("40")) {
		t.Errorf("expected outstanding 40, got %s", pos.Outstanding)
	}

	p2 := f.pay(t, c, "40.00")
	if _, err := f.ledger.Allocations.AllocateAuto(f.ctx, p2.ID, time.Time{}); err != nil {
		t.Fatalf("AllocateAuto p2: %v", err)
	}
	pos = f.position(t, a.ID)
	if pos.Accrual.Status != core.AccrualPaid {
		t.Errorf("expected PAID, got %s", pos.Accrual.Status)
	}

	bal, err := f.ledger.Balances.Balance(f.ctx, c.ID, time.Time{}, true)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.Owed.IsZero() {
		t.Errorf("expected balance 0, got %s", bal.Owed)
	}
	if !bal.CreditOnAccount.IsZero() || bal.Net == nil || !bal.Net.IsZero() {
		t.Errorf("expected no credit and net 0, got credit %s net %v", bal.CreditOnAccount, bal.Net)
	}
}

func TestAllocation_BonusReducesEffectiveOwed(t *testing.T) {
	f := newFixture(t)
	c, a := singleAccrual(t, f)

	accrualID := a.ID
	if _, err := f.ledger.Adjustments.Apply(f.ctx, core.ApplyAdjustmentRequest{
		CustomerID: c.ID, AccrualID: &accrualID, Kind: core.AdjustmentBonus, Amount: dec("20"), Reason: "loyalty",
	}); err != nil {
		t.Fatalf("Apply bonus: %v", err)
	}
	pos := f.position(t, a.ID)
	if !pos.EffectiveOwed.Equal(dec("80")) {
		t.Fatalf("expected effective owed 80, got %s", pos.EffectiveOwed)
	}

	p := f.pay(t, c, "80.00")
	if _, err := f.ledger.Allocations.AllocateAuto(f.ctx, p.ID, time.Time{}); err != nil {
		t.Fatalf("AllocateAuto: %v", err)
	}
	pos = f.position(t, a.ID)
	if pos.Accrual.Status != core.AccrualPaid {
		t.Errorf("expected PAID, got %s", pos.Accrual.Status)
	}
	bal, _ := f.ledger.Balances.Balance(f.ctx, c.ID, time.Time{}, false)
	if !bal.Owed.IsZero() {
		t.Errorf("expected balance 0, got %s", bal.Owed)
	}
	if bal.Net != nil {
		t.Error("expected Net to be omitted when credit is not requested")
	}
}

func TestAllocateManual_OverAllocationWritesNothing(t *testing.T) {
	f := newFixture(t)
	c, a := singleAccrual(t, f)
	p := f.pay(t, c, "200.00")

	_, err := f.ledger.Allocations.AllocateManual(f.ctx, p.ID,
		[]core.AllocationLine{{AccrualID: a.ID, Amount: dec("150")}}, time.Time{})
	var oa *core.OverAllocationError
	if !errors.As(err, &oa) {
		t.Fatalf("expected OverAllocationError, got %v", err)
	}
	if oa.AccrualID != a.ID || !oa.Available.Equal(dec("100")) {
		t.Errorf("unexpected error detail: %+v", oa)
	}

	allocs, _ := f.ledger.Allocations.ListAllocations(f.ctx, core.AllocationFilter{PaymentID: p.ID})
	if len(allocs) != 0 {
		t.Errorf("expected no allocations, got %d", len(allocs))
	}
	got, _ := f.ledger.Payments.GetPayment(f.ctx, p.ID)
	if !got.Remaining.Equal(dec("200")) {
		t.Errorf("expected remaining 200, got %s", got.Remaining)
	}
}

func TestAllocateManual_Validation(t *testing.T) {
	f := newFixture(t)
	c, a := singleAccrual(t, f)
	other := f.customer(t, "Other")
	p := f.pay(t, c, "50.00")
	otherPay := f.pay(t, other, "50.00")

	t.Run("CrossCustomer", func(t *testing.T) {
		_, err := f.ledger.Allocations.AllocateManual(f.ctx, otherPay.ID,
			[]core.AllocationLine{{AccrualID: a.ID, Amount: dec("10")}}, time.Time{})
		var cc *core.CrossCustomerError
		if !errors.As(err, &cc) {
			t.Fatalf("expected CrossCustomerError, got %v", err)
		}
	})

	t.Run("ExceedsPaymentRemaining", func(t *testing.T) {
		_, err := f.ledger.Allocations.AllocateManual(f.ctx, p.ID,
			[]core.AllocationLine{{AccrualID: a.ID, Amount: dec("30")}, {AccrualID: a.ID, Amount: dec("30")}}, time.Time{})
		var oa *core.OverAllocationError
		if !errors.As(err, &oa) {
			t.Fatalf("expected OverAllocationError, got %v", err)
		}
		if oa.AccrualID != 0 {
			t.Errorf("expected payment-side over-allocation, got accrual %d", oa.AccrualID)
		}
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		_, err := f.ledger.Allocations.AllocateManual(f.ctx, p.ID,
			[]core.AllocationLine{{AccrualID: a.ID, Amount: dec("0")}}, time.Time{})
		var ia *core.InvalidAmountError
		if !errors.As(err, &ia) {
			t.Fatalf("expected InvalidAmountError, got %v", err)
		}
	})

	t.Run("MissingAccrual", func(t *testing.T) {
		_, err := f.ledger.Allocations.AllocateManual(f.ctx, p.ID,
			[]core.AllocationLine{{AccrualID: 9999, Amount: dec("10")}}, time.Time{})
		if !core.IsNotFound(err) {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("Success", func(t *testing.T) {
		res, err := f.ledger.Allocations.AllocateManual(f.ctx, p.ID,
			[]core.AllocationLine{{AccrualID: a.ID, Amount: dec("50")}}, date(2024, time.February, 3))
		if err != nil {
			t.Fatalf("AllocateManual: %v", err)
		}
		if len(res.Allocations) != 1 || !res.Remaining.IsZero() {
			t.Fatalf("unexpected result: %+v", res)
		}
		if !res.Allocations[0].AllocatedOn.Equal(date(2024, time.February, 3)) {
			t.Errorf("expected allocation date 2024-02-03, got %s", res.Allocations[0].AllocatedOn)
		}
		if res.Payment.AllocationState() != core.PaymentFullyAllocated {
			t.Errorf("expected ALLOCATED, got %s", res.Payment.AllocationState())
		}
	})
}

func TestAllocateAuto_OldestFirstWithLeftover(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	p := f.plan(t, "Basic", "100.00", core.Monthly)
	f.subscribe(t, c, p, date(2024, time.January, 1))
	// Generate out of order; allocation must still follow the period.
	mar := f.generate(t, 2024, time.March).Created[0]
	jan := f.generate(t, 2024, time.January).Created[0]
	feb := f.generate(t, 2024, time.February).Created[0]

	pay := f.pay(t, c, "250.00")
	res, err := f.ledger.Allocations.AllocateAuto(f.ctx, pay.ID, time.Time{})
	if err != nil {
		t.Fatalf("AllocateAuto: %v", err)
	}
	if len(res.Allocations) != 3 {
		t.Fatalf("expected 3 allocations, got %d", len(res.Allocations))
	}
	want := []struct {
		id     int
		amount string
	}{{jan.ID, "100"}, {feb.ID, "100"}, {mar.ID, "50"}}
	for i, w := range want {
		if res.Allocations[i].AccrualID != w.id || !res.Allocations[i].Amount.Equal(dec(w.amount)) {
			t.Errorf("allocation %d: expected accrual %d amount %s, got accrual %d amount %s",
				i, w.id, w.amount, res.Allocations[i].AccrualID, res.Allocations[i].Amount)
		}
	}

	// A second payment larger than what is left keeps the excess unallocated.
	extra := f.pay(t, c, "80.00")
	res, err = f.ledger.Allocations.AllocateAuto(f.ctx, extra.ID, time.Time{})
	if err != nil {
		t.Fatalf("AllocateAuto extra: %v", err)
	}
	if !res.TotalAllocated.Equal(dec("50")) || !res.Remaining.Equal(dec("30")) {
		t.Errorf("expected 50 allocated and 30 left, got %s and %s", res.TotalAllocated, res.Remaining)
	}

	bal, _ := f.ledger.Balances.Balance(f.ctx, c.ID, time.Time{}, true)
	if !bal.Owed.IsZero() || !bal.CreditOnAccount.Equal(dec("30")) || !bal.Net.Equal(dec("-30")) {
		t.Errorf("expected owed 0, credit 30, net -30; got %s, %s, %s", bal.Owed, bal.CreditOnAccount, bal.Net)
	}

	// Nothing left to allocate is a no-op.
	res, err = f.ledger.Allocations.AllocateAuto(f.ctx, pay.ID, time.Time{})
	if err != nil || len(res.Allocations) != 0 {
		t.Errorf("expected no-op, got %v / %d allocations", err, len(res.Allocations))
	}
}

func TestDeallocate_RestoresPaymentAndStatus(t *testing.T) {
	f := newFixture(t)
	c, a := singleAccrual(t, f)
	p := f.pay(t, c, "100.00")
	res, err := f.ledger.Allocations.AllocateAuto(f.ctx, p.ID, time.Time{})
	if err != nil {
		t.Fatalf("AllocateAuto: %v", err)
	}

	removed, err := f.ledger.Allocations.Deallocate(f.ctx, res.Allocations[0].ID)
	if err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
	if !removed.Amount.Equal(dec("100")) {
		t.Errorf("expected removed amount 100, got %s", removed.Amount)
	}
	got, _ := f.ledger.Payments.GetPayment(f.ctx, p.ID)
	if !got.Remaining.Equal(dec("100")) {
		t.Errorf("expected remaining restored to 100, got %s", got.Remaining)
	}
	if pos := f.position(t, a.ID); pos.Accrual.Status != core.AccrualPending {
		t.Errorf("expected PENDING, got %s", pos.Accrual.Status)
	}
	if _, err := f.ledger.Allocations.Deallocate(f.ctx, res.Allocations[0].ID); !core.IsNotFound(err) {
		t.Errorf("expected NotFoundError on second deallocate, got %v", err)
	}
}

// ── Adjustments ───────────────────────────────────────────────────────────────

func TestAdjustment_GuardsAllocatedAmount(t *testing.T) {
	f := newFixture(t)
	c, a := singleAccrual(t, f)
	p := f.pay(t, c, "100.00")
	if _, err := f.ledger.Allocations.AllocateAuto(f.ctx, p.ID, time.Time{}); err != nil {
		t.Fatalf("AllocateAuto: %v", err)
	}

	id := a.ID
	_, err := f.ledger.Adjustments.Apply(f.ctx, core.ApplyAdjustmentRequest{
		CustomerID: c.ID, AccrualID: &id, Kind: core.AdjustmentCreditNote, Amount: dec("10"),
	})
	var oa *core.OverAllocationError
	if !errors.As(err, &oa) {
		t.Fatalf("expected OverAllocationError, got %v", err)
	}

	surcharge, err := f.ledger.Adjustments.Apply(f.ctx, core.ApplyAdjustmentRequest{
		CustomerID: c.ID, AccrualID: &id, Kind: core.AdjustmentSurcharge, Amount: dec("15"),
	})
	if err != nil {
		t.Fatalf("Apply surcharge: %v", err)
	}
	if pos := f.position(t, a.ID); pos.Accrual.Status != core.AccrualPartiallyPaid || !pos.Outstanding.Equal(dec("15")) {
		t.Errorf("expected PARTIALLY_PAID with 15 outstanding, got %s / %s", pos.Accrual.Status, pos.Outstanding)
	}

	if err := f.ledger.Adjustments.Delete(f.ctx, surcharge.ID); err != nil {
		t.Fatalf("Delete surcharge: %v", err)
	}
	if pos := f.position(t, a.ID); pos.Accrual.Status != core.AccrualPaid {
		t.Errorf("expected PAID after removing surcharge, got %s", pos.Accrual.Status)
	}
}

func TestAdjustment_Validation(t *testing.T) {
	f := newFixture(t)
	c, a := singleAccrual(t, f)
	other := f.customer(t, "Other")
	id := a.ID

	_, err := f.ledger.Adjustments.Apply(f.ctx, core.ApplyAdjustmentRequest{CustomerID: c.ID, Kind: core.AdjustmentBonus, Amount: decimal.Zero})
	var ia *core.InvalidAmountError
	if !errors.As(err, &ia) {
		t.Errorf("expected InvalidAmountError, got %v", err)
	}

	_, err = f.ledger.Adjustments.Apply(f.ctx, core.ApplyAdjustmentRequest{CustomerID: other.ID, AccrualID: &id, Kind: core.AdjustmentBonus, Amount: dec("5")})
	var cc *core.CrossCustomerError
	if !errors.As(err, &cc) {
		t.Errorf("expected CrossCustomerError, got %v", err)
	}

	_, err = f.ledger.Adjustments.Apply(f.ctx, core.ApplyAdjustmentRequest{CustomerID: c.ID, Kind: "REFUND", Amount: dec("5")})
	var ve *core.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestAdjustment_CustomerWideFeedsBalanceOnly(t *testing.T) {
	f := newFixture(t)
	c, a := singleAccrual(t, f)

	if _, err := f.ledger.Adjustments.Apply(f.ctx, core.ApplyAdjustmentRequest{
		CustomerID: c.ID, Kind: core.AdjustmentDebitNote, Amount: dec("12.50"), Date: date(2024, time.February, 1),
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if pos := f.position(t, a.ID); !pos.EffectiveOwed.Equal(dec("100")) {
		t.Errorf("expected accrual untouched, effective owed %s", pos.EffectiveOwed)
	}
	bal, _ := f.ledger.Balances.Balance(f.ctx, c.ID, time.Time{}, false)
	if !bal.Owed.Equal(dec("112.50")) {
		t.Errorf("expected owed 112.50, got %s", bal.Owed)
	}
	early, _ := f.ledger.Balances.Balance(f.ctx, c.ID, date(2024, time.January, 31), false)
	if !early.Owed.Equal(dec("100")) {
		t.Errorf("expected owed 100 as of 2024-01-31, got %s", early.Owed)
	}
}

// ── Balance ───────────────────────────────────────────────────────────────────

func TestBalance_AsOfAndPurity(t *testing.T) {
	f := newFixture(t)
	c, _ := singleAccrual(t, f)
	f.generate(t, 2024, time.February)

	before, _ := f.ledger.Balances.Balance(f.ctx, c.ID, date(2024, time.January, 30), false)
	if !before.Owed.IsZero() {
		t.Errorf("expected 0 before first accrual date, got %s", before.Owed)
	}
	jan, _ := f.ledger.Balances.Balance(f.ctx, c.ID, date(2024, time.January, 31), false)
	if !jan.Owed.Equal(dec("100")) {
		t.Errorf("expected 100 at 2024-01-31, got %s", jan.Owed)
	}
	first, _ := f.ledger.Balances.Balance(f.ctx, c.ID, time.Time{}, true)
	second, _ := f.ledger.Balances.Balance(f.ctx, c.ID, time.Time{}, true)
	if !first.Owed.Equal(dec("200")) || !first.Owed.Equal(second.Owed) || !first.Net.Equal(*second.Net) {
		t.Errorf("expected stable 200, got %s then %s", first.Owed, second.Owed)
	}

	if _, err := f.ledger.Balances.Balance(f.ctx, 4242, time.Time{}, false); !core.IsNotFound(err) {
		t.Errorf("expected NotFoundError for unknown customer, got %v", err)
	}
}

func TestBalance_PrepaymentCountsByAllocationDate(t *testing.T) {
	f := newFixture(t)
	c, _ := singleAccrual(t, f)
	pay, err := f.ledger.Payments.Register(f.ctx, core.RegisterPaymentRequest{
		CustomerID: c.ID, Amount: dec("60"), PaymentDate: date(2024, time.January, 10), Method: "cash",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.ledger.Allocations.AllocateAuto(f.ctx, pay.ID, date(2024, time.January, 10)); err != nil {
		t.Fatalf("AllocateAuto: %v", err)
	}

	// The accrual is dated 2024-01-31; the allocation already counts on the 15th.
	mid, err := f.ledger.Balances.Balance(f.ctx, c.ID, date(2024, time.January, 15), true)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !mid.Owed.Equal(dec("-60")) || !mid.Allocated.Equal(dec("60")) {
		t.Errorf("expected owed -60 and allocated 60, got %s / %s", mid.Owed, mid.Allocated)
	}
	if !mid.CreditOnAccount.IsZero() || !mid.Net.Equal(dec("-60")) {
		t.Errorf("expected credit 0 and net -60, got %s / %s", mid.CreditOnAccount, mid.Net)
	}

	end, _ := f.ledger.Balances.Balance(f.ctx, c.ID, date(2024, time.January, 31), false)
	if !end.Owed.Equal(dec("40")) {
		t.Errorf("expected owed 40 once the accrual is due, got %s", end.Owed)
	}
}

func TestBalance_NoAccrualsIsZero(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Fresh")
	bal, err := f.ledger.Balances.Balance(f.ctx, c.ID, time.Time{}, true)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.Owed.IsZero() || !bal.Net.IsZero() {
		t.Errorf("expected zero balance, got %s / %s", bal.Owed, bal.Net)
	}
}

// ── Cancel and deletion guards ────────────────────────────────────────────────

func TestCancelAndDeleteGuards(t *testing.T) {
	f := newFixture(t)
	c, a := singleAccrual(t, f)
	p := f.pay(t, c, "30.00")
	res, err := f.ledger.Allocations.AllocateAuto(f.ctx, p.ID, time.Time{})
	if err != nil {
		t.Fatalf("AllocateAuto: %v", err)
	}

	var inUse *core.InUseError
	if _, err := f.ledger.Accruals.Cancel(f.ctx, a.ID); !errors.As(err, &inUse) {
		t.Errorf("expected InUseError cancelling allocated accrual, got %v", err)
	}
	if err := f.ledger.Payments.Delete(f.ctx, p.ID); !errors.As(err, &inUse) {
		t.Errorf("expected InUseError deleting allocated payment, got %v", err)
	}
	if err := f.ledger.Catalog.DeleteCustomer(f.ctx, c.ID); !errors.As(err, &inUse) {
		t.Errorf("expected InUseError deleting customer with history, got %v", err)
	}

	if _, err := f.ledger.Allocations.Deallocate(f.ctx, res.Allocations[0].ID); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
	cancelled, err := f.ledger.Accruals.Cancel(f.ctx, a.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != core.AccrualCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}
	bal, _ := f.ledger.Balances.Balance(f.ctx, c.ID, time.Time{}, false)
	if !bal.Owed.IsZero() {
		t.Errorf("expected cancelled accrual excluded from balance, got %s", bal.Owed)
	}
	_, err = f.ledger.Allocations.AllocateManual(f.ctx, p.ID, []core.AllocationLine{{AccrualID: a.ID, Amount: dec("1")}}, time.Time{})
	var ve *core.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError allocating to cancelled accrual, got %v", err)
	}

	if err := f.ledger.Payments.Delete(f.ctx, p.ID); err != nil {
		t.Errorf("Delete payment: %v", err)
	}
	if err := f.ledger.Accruals.Delete(f.ctx, a.ID); err != nil {
		t.Errorf("Delete accrual: %v", err)
	}
}

func TestCatalog_DeleteGuards(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	p := f.plan(t, "Basic", "10", core.Monthly)
	sub := f.subscribe(t, c, p, date(2024, time.January, 1))

	var inUse *core.InUseError
	if err := f.ledger.Catalog.DeletePlan(f.ctx, p.ID); !errors.As(err, &inUse) {
		t.Errorf("expected InUseError deleting referenced plan, got %v", err)
	}
	if err := f.ledger.Catalog.DeleteSubscription(f.ctx, sub.ID); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	if err := f.ledger.Catalog.DeletePlan(f.ctx, p.ID); err != nil {
		t.Errorf("DeletePlan: %v", err)
	}
	if err := f.ledger.Catalog.DeleteCustomer(f.ctx, c.ID); err != nil {
		t.Errorf("DeleteCustomer: %v", err)
	}
	if _, err := f.ledger.Catalog.GetCustomer(f.ctx, c.ID); !core.IsNotFound(err) {
		t.Errorf("expected NotFoundError after delete, got %v", err)
	}
}

func TestCatalog_Validation(t *testing.T) {
	f := newFixture(t)
	var ve *core.ValidationError
	if _, err := f.ledger.Catalog.CreateCustomer(f.ctx, core.CustomerInput{Name: "  "}); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for blank name, got %v", err)
	}
	var ia *core.InvalidAmountError
	if _, err := f.ledger.Catalog.CreatePlan(f.ctx, core.PlanInput{Name: "Free", BaseAmount: decimal.Zero}); !errors.As(err, &ia) {
		t.Errorf("expected InvalidAmountError for zero plan amount, got %v", err)
	}
	c := f.customer(t, "Acme")
	if _, err := f.ledger.Catalog.Subscribe(f.ctx, core.SubscriptionInput{CustomerID: c.ID, PlanID: 777}); !core.IsNotFound(err) {
		t.Errorf("expected NotFoundError for unknown plan, got %v", err)
	}
}
