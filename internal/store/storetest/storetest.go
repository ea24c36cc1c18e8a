// Package storetest holds the behaviour every core.Store backend must share.
// Backends call Run from their own tests with a factory for empty stores.
package storetest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"subscription-ledger/internal/core"
)

// Factory returns a migrated, empty store. The suite closes it.
type Factory func(t *testing.T) core.Store

func Run(t *testing.T, open Factory) {
	t.Run("CatalogRoundTrip", func(t *testing.T) { testCatalogRoundTrip(t, open(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, open(t)) })
	t.Run("DuplicateAccrualKeepsTxUsable", func(t *testing.T) { testDuplicateAccrual(t, open(t)) })
	t.Run("AccrualOrderingAndFilters", func(t *testing.T) { testAccrualFilters(t, open(t)) })
	t.Run("PaymentsAndAllocations", func(t *testing.T) { testPaymentsAndAllocations(t, open(t)) })
	t.Run("AdjustmentFilters", func(t *testing.T) { testAdjustmentFilters(t, open(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("LedgerScenarios", func(t *testing.T) { testLedgerScenarios(t, open(t)) })
	t.Run("ConcurrentAllocationsSerialize", func(t *testing.T) { testConcurrentAllocations(t, open(t)) })
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type seed struct {
	customer core.Customer
	plan     core.Plan
	sub      core.Subscription
}

func seedCatalog(t *testing.T, s core.Store, name string) seed {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	var out seed
	err := s.Update(ctx, func(tx core.Tx) error {
		out.customer = core.Customer{Name: name, Email: "billing@example.com", Active: true, CreatedAt: now, UpdatedAt: now}
		if err := tx.InsertCustomer(ctx, &out.customer); err != nil {
			return err
		}
		out.plan = core.Plan{Name: name + " plan", BaseAmount: dec("100.00"), Periodicity: core.Monthly, Active: true, CreatedAt: now, UpdatedAt: now}
		if err := tx.InsertPlan(ctx, &out.plan); err != nil {
			return err
		}
		out.sub = core.Subscription{CustomerID: out.customer.ID, PlanID: out.plan.ID, StartDate: day(2024, time.January, 1), Active: true, CreatedAt: now, UpdatedAt: now}
		return tx.InsertSubscription(ctx, &out.sub)
	})
	if err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return out
}

func accrualFor(sd seed, p core.Period) *core.Accrual {
	return &core.Accrual{
		CustomerID:     sd.customer.ID,
		SubscriptionID: sd.sub.ID,
		PlanID:         sd.plan.ID,
		Period:         p,
		Amount:         sd.plan.BaseAmount,
		AccrualDate:    p.End(),
		Status:         core.AccrualPending,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

func testCatalogRoundTrip(t *testing.T, s core.Store) {
	defer s.Close()
	ctx := context.Background()
	sd := seedCatalog(t, s, "Acme")

	override := dec("80.50")
	end := day(2024, time.December, 31)
	err := s.Update(ctx, func(tx core.Tx) error {
		sub, err := tx.GetSubscription(ctx, sd.sub.ID)
		if err != nil {
			return err
		}
		sub.PriceOverride = &override
		sub.EndDate = &end
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		c, err := tx.GetCustomer(ctx, sd.customer.ID)
		if err != nil {
			return err
		}
		c.Active = false
		return tx.UpdateCustomer(ctx, c)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = s.View(ctx, func(tx core.Tx) error {
		sub, err := tx.GetSubscription(ctx, sd.sub.ID)
		if err != nil {
			return err
		}
		if sub.PriceOverride == nil || !sub.PriceOverride.Equal(override) {
			t.Errorf("expected override 80.50, got %v", sub.PriceOverride)
		}
		if sub.EndDate == nil || !sub.EndDate.Equal(end) {
			t.Errorf("expected end date %s, got %v", end, sub.EndDate)
		}
		if !sub.StartDate.Equal(day(2024, time.January, 1)) {
			t.Errorf("expected start 2024-01-01, got %s", sub.StartDate)
		}
		plan, err := tx.GetPlan(ctx, sd.plan.ID)
		if err != nil {
			return err
		}
		if !plan.BaseAmount.Equal(dec("100")) || plan.Periodicity != core.Monthly {
			t.Errorf("unexpected plan: %+v", plan)
		}
		active, err := tx.ListCustomers(ctx, core.CustomerFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		if len(active) != 0 {
			t.Errorf("expected no active customers, got %d", len(active))
		}
		all, err := tx.ListCustomers(ctx, core.CustomerFilter{})
		if err != nil {
			return err
		}
		if len(all) != 1 || all[0].Email != "billing@example.com" {
			t.Errorf("unexpected customers: %+v", all)
		}
		subs, err := tx.ListSubscriptions(ctx, core.SubscriptionFilter{CustomerID: sd.customer.ID})
		if err != nil {
			return err
		}
		if len(subs) != 1 {
			t.Errorf("expected 1 subscription, got %d", len(subs))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func testNotFound(t *testing.T, s core.Store) {
	defer s.Close()
	ctx := context.Background()
	_ = s.View(ctx, func(tx core.Tx) error {
		checks := map[string]error{}
		_, checks["customer"] = tx.GetCustomer(ctx, 424242)
		_, checks["plan"] = tx.GetPlan(ctx, 424242)
		_, checks["subscription"] = tx.GetSubscription(ctx, 424242)
		_, checks["accrual"] = tx.GetAccrual(ctx, 424242)
		_, checks["payment"] = tx.GetPayment(ctx, 424242)
		_, checks["allocation"] = tx.GetAllocation(ctx, 424242)
		_, checks["adjustment"] = tx.GetAdjustment(ctx, 424242)
		for entity, err := range checks {
			var nf *core.NotFoundError
			if !errors.As(err, &nf) {
				t.Errorf("%s: expected NotFoundError, got %v", entity, err)
				continue
			}
			if nf.Entity != entity {
				t.Errorf("expected entity %s, got %s", entity, nf.Entity)
			}
		}
		return nil
	})
}

func testDuplicateAccrual(t *testing.T, s core.Store) {
	defer s.Close()
	ctx := context.Background()
	sd := seedCatalog(t, s, "Acme")
	jan := core.Period{Year: 2024, Month: time.January}
	feb := core.Period{Year: 2024, Month: time.February}

	var first core.Accrual
	err := s.Update(ctx, func(tx core.Tx) error {
		a := accrualFor(sd, jan)
		if err := tx.InsertAccrual(ctx, a); err != nil {
			return err
		}
		first = *a
		err := tx.InsertAccrual(ctx, accrualFor(sd, jan))
		var dup *core.DuplicateAccrualError
		if !errors.As(err, &dup) {
			t.Fatalf("expected DuplicateAccrualError, got %v", err)
		}
		if dup.ExistingID != a.ID || dup.Period != jan {
			t.Errorf("unexpected duplicate detail: %+v", dup)
		}
		return tx.InsertAccrual(ctx, accrualFor(sd, feb))
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = s.View(ctx, func(tx core.Tx) error {
		list, err := tx.ListAccruals(ctx, core.AccrualFilter{SubscriptionID: sd.sub.ID})
		if err != nil {
			t.Fatalf("ListAccruals: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 accruals, got %d", len(list))
		}
		got := list[0]
		if got.ID != first.ID || got.Period != jan || !got.AccrualDate.Equal(day(2024, time.January, 31)) || got.Status != core.AccrualPending {
			t.Errorf("unexpected accrual: %+v", got)
		}
		return nil
	})
}

func testAccrualFilters(t *testing.T, s core.Store) {
	defer s.Close()
	ctx := context.Background()
	sd := seedCatalog(t, s, "Acme")
	periods := []core.Period{{Year: 2024, Month: time.March}, {Year: 2023, Month: time.December}, {Year: 2024, Month: time.January}}

	err := s.Update(ctx, func(tx core.Tx) error {
		for _, p := range periods {
			if err := tx.InsertAccrual(ctx, accrualFor(sd, p)); err != nil {
				return err
			}
		}
		list, err := tx.ListAccruals(ctx, core.AccrualFilter{})
		if err != nil {
			return err
		}
		return tx.UpdateAccrualStatus(ctx, list[0].ID, core.AccrualPaid)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = s.View(ctx, func(tx core.Tx) error {
		list, _ := tx.ListAccruals(ctx, core.AccrualFilter{CustomerID: sd.customer.ID})
		want := []string{"2023-12", "2024-01", "2024-03"}
		if len(list) != len(want) {
			t.Fatalf("expected %d accruals, got %d", len(want), len(list))
		}
		for i, w := range want {
			if list[i].Period.String() != w {
				t.Errorf("position %d: expected %s, got %s", i, w, list[i].Period)
			}
		}

		open, _ := tx.ListAccruals(ctx, core.AccrualFilter{Statuses: []core.AccrualStatus{core.AccrualPending, core.AccrualPartiallyPaid}})
		if len(open) != 2 {
			t.Errorf("expected 2 open accruals, got %d", len(open))
		}

		cutoff := day(2024, time.January, 31)
		due, _ := tx.ListAccruals(ctx, core.AccrualFilter{DueOnOrBefore: &cutoff})
		if len(due) != 2 {
			t.Errorf("expected 2 accruals due by 2024-01-31, got %d", len(due))
		}

		mar := core.Period{Year: 2024, Month: time.March}
		one, _ := tx.ListAccruals(ctx, core.AccrualFilter{Period: &mar})
		if len(one) != 1 || one[0].Period != mar {
			t.Errorf("expected only March, got %+v", one)
		}
		return nil
	})
}

func testPaymentsAndAllocations(t *testing.T, s core.Store) {
	defer s.Close()
	ctx := context.Background()
	sd := seedCatalog(t, s, "Acme")

	var payment core.Payment
	var accrual core.Accrual
	err := s.Update(ctx, func(tx core.Tx) error {
		a := accrualFor(sd, core.Period{Year: 2024, Month: time.January})
		if err := tx.InsertAccrual(ctx, a); err != nil {
			return err
		}
		accrual = *a
		for _, d := range []int{20, 5} {
			p := &core.Payment{CustomerID: sd.customer.ID, Amount: dec("75.25"), Remaining: dec("75.25"),
				PaymentDate: day(2024, time.February, d), Method: "transfer", CreatedAt: time.Now().UTC()}
			if err := tx.InsertPayment(ctx, p); err != nil {
				return err
			}
			payment = *p
		}
		al := &core.Allocation{PaymentID: payment.ID, AccrualID: accrual.ID, CustomerID: sd.customer.ID,
			Amount: dec("50.25"), AllocatedOn: day(2024, time.February, 6), CreatedAt: time.Now().UTC()}
		if err := tx.InsertAllocation(ctx, al); err != nil {
			return err
		}
		return tx.UpdatePaymentRemaining(ctx, payment.ID, dec("25.00"))
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = s.View(ctx, func(tx core.Tx) error {
		p, err := tx.GetPayment(ctx, payment.ID)
		if err != nil {
			t.Fatalf("GetPayment: %v", err)
		}
		if !p.Remaining.Equal(dec("25")) || !p.Amount.Equal(dec("75.25")) {
			t.Errorf("unexpected payment amounts: %s / %s", p.Amount, p.Remaining)
		}
		list, _ := tx.ListPayments(ctx, core.PaymentFilter{CustomerID: sd.customer.ID})
		if len(list) != 2 || !list[0].PaymentDate.Equal(day(2024, time.February, 5)) {
			t.Errorf("expected payments ordered by date, got %+v", list)
		}
		from, to := day(2024, time.February, 6), day(2024, time.February, 20)
		ranged, _ := tx.ListPayments(ctx, core.PaymentFilter{From: &from, To: &to})
		if len(ranged) != 1 {
			t.Errorf("expected 1 payment in range, got %d", len(ranged))
		}
		allocs, _ := tx.ListAllocations(ctx, core.AllocationFilter{AccrualID: accrual.ID})
		if len(allocs) != 1 || !allocs[0].Amount.Equal(dec("50.25")) || !allocs[0].AllocatedOn.Equal(day(2024, time.February, 6)) {
			t.Errorf("unexpected allocations: %+v", allocs)
		}
		byCustomer, _ := tx.ListAllocations(ctx, core.AllocationFilter{CustomerID: sd.customer.ID, PaymentID: payment.ID})
		if len(byCustomer) != 1 {
			t.Errorf("expected 1 allocation by customer and payment, got %d", len(byCustomer))
		}
		return nil
	})
}

func testAdjustmentFilters(t *testing.T, s core.Store) {
	defer s.Close()
	ctx := context.Background()
	sd := seedCatalog(t, s, "Acme")

	var accrualID int
	err := s.Update(ctx, func(tx core.Tx) error {
		a := accrualFor(sd, core.Period{Year: 2024, Month: time.January})
		if err := tx.InsertAccrual(ctx, a); err != nil {
			return err
		}
		accrualID = a.ID
		adjs := []core.Adjustment{
			{CustomerID: sd.customer.ID, AccrualID: &accrualID, Kind: core.AdjustmentBonus, Amount: dec("10"), Date: day(2024, time.February, 2), Reason: "promo"},
			{CustomerID: sd.customer.ID, Kind: core.AdjustmentDebitNote, Amount: dec("4.5"), Date: day(2024, time.February, 1)},
		}
		for i := range adjs {
			adjs[i].CreatedAt = time.Now().UTC()
			if err := tx.InsertAdjustment(ctx, &adjs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = s.View(ctx, func(tx core.Tx) error {
		all, _ := tx.ListAdjustments(ctx, core.AdjustmentFilter{CustomerID: sd.customer.ID})
		if len(all) != 2 || all[0].Kind != core.AdjustmentDebitNote {
			t.Errorf("expected adjustments ordered by date, got %+v", all)
		}
		scoped, _ := tx.ListAdjustments(ctx, core.AdjustmentFilter{AccrualID: accrualID})
		if len(scoped) != 1 || scoped[0].AccrualID == nil || *scoped[0].AccrualID != accrualID || scoped[0].Reason != "promo" {
			t.Errorf("unexpected accrual-scoped adjustments: %+v", scoped)
		}
		wide, _ := tx.ListAdjustments(ctx, core.AdjustmentFilter{CustomerID: sd.customer.ID, CustomerWideOnly: true})
		if len(wide) != 1 || wide[0].AccrualID != nil || !wide[0].Amount.Equal(dec("4.5")) {
			t.Errorf("unexpected customer-wide adjustments: %+v", wide)
		}
		return nil
	})
}

func testRollback(t *testing.T, s core.Store) {
	defer s.Close()
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.Update(ctx, func(tx core.Tx) error {
		c := &core.Customer{Name: "Ghost", Active: true, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	_ = s.View(ctx, func(tx core.Tx) error {
		list, _ := tx.ListCustomers(ctx, core.CustomerFilter{})
		if len(list) != 0 {
			t.Errorf("expected rollback to leave no customers, got %d", len(list))
		}
		return nil
	})
}

type clockAt time.Time

func (c clockAt) Now() time.Time { return time.Time(c) }

// testLedgerScenarios drives the engine services against the backend.
func testLedgerScenarios(t *testing.T, s core.Store) {
	defer s.Close()
	ctx := context.Background()
	log := logrus.New()
	log.SetOutput(io.Discard)
	l := core.NewLedger(s, core.Options{Clock: clockAt(day(2024, time.June, 15)), Logger: log})

	c, err := l.Catalog.CreateCustomer(ctx, core.CustomerInput{Name: "Scenario"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	p, err := l.Catalog.CreatePlan(ctx, core.PlanInput{Name: "Std", BaseAmount: dec("100"), Periodicity: core.Monthly})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if _, err := l.Catalog.Subscribe(ctx, core.SubscriptionInput{CustomerID: c.ID, PlanID: p.ID, StartDate: day(2024, time.January, 1)}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	jan := core.Period{Year: 2024, Month: time.January}
	res, err := l.Accruals.Generate(ctx, core.GenerateRequest{Period: jan})
	if err != nil || len(res.Created) != 1 {
		t.Fatalf("Generate: %v (%+v)", err, res)
	}
	again, err := l.Accruals.Generate(ctx, core.GenerateRequest{Period: jan})
	if err != nil || len(again.Created) != 0 || len(again.Duplicates) != 1 {
		t.Fatalf("second Generate: %v (%+v)", err, again)
	}
	accrual := res.Created[0]

	// Manual over-allocation is refused atomically.
	big, err := l.Payments.Register(ctx, core.RegisterPaymentRequest{CustomerID: c.ID, Amount: dec("200")})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err = l.Allocations.AllocateManual(ctx, big.ID, []core.AllocationLine{{AccrualID: accrual.ID, Amount: dec("150")}}, time.Time{})
	var oa *core.OverAllocationError
	if !errors.As(err, &oa) {
		t.Fatalf("expected OverAllocationError, got %v", err)
	}
	if err := l.Payments.Delete(ctx, big.ID); err != nil {
		t.Fatalf("Delete payment: %v", err)
	}

	// Bonus then partial payments.
	id := accrual.ID
	if _, err := l.Adjustments.Apply(ctx, core.ApplyAdjustmentRequest{CustomerID: c.ID, AccrualID: &id, Kind: core.AdjustmentBonus, Amount: dec("20")}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	p1, _ := l.Payments.Register(ctx, core.RegisterPaymentRequest{CustomerID: c.ID, Amount: dec("60")})
	if _, err := l.Allocations.AllocateAuto(ctx, p1.ID, time.Time{}); err != nil {
		t.Fatalf("AllocateAuto p1: %v", err)
	}
	pos, _ := l.Accruals.Position(ctx, accrual.ID)
	if pos.Accrual.Status != core.AccrualPartiallyPaid || !pos.Outstanding.Equal(dec("20")) {
		t.Errorf("expected PARTIALLY_PAID with 20 outstanding, got %s / %s", pos.Accrual.Status, pos.Outstanding)
	}
	p2, _ := l.Payments.Register(ctx, core.RegisterPaymentRequest{CustomerID: c.ID, Amount: dec("40")})
	auto, err := l.Allocations.AllocateAuto(ctx, p2.ID, time.Time{})
	if err != nil {
		t.Fatalf("AllocateAuto p2: %v", err)
	}
	if !auto.TotalAllocated.Equal(dec("20")) || !auto.Remaining.Equal(dec("20")) {
		t.Errorf("expected 20 allocated and 20 left, got %s / %s", auto.TotalAllocated, auto.Remaining)
	}
	pos, _ = l.Accruals.Position(ctx, accrual.ID)
	if pos.Accrual.Status != core.AccrualPaid {
		t.Errorf("expected PAID, got %s", pos.Accrual.Status)
	}

	bal, err := l.Balances.Balance(ctx, c.ID, time.Time{}, true)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.Owed.IsZero() || !bal.CreditOnAccount.Equal(dec("20")) || !bal.Net.Equal(dec("-20")) {
		t.Errorf("expected owed 0, credit 20, net -20; got %s / %s / %s", bal.Owed, bal.CreditOnAccount, bal.Net)
	}

	removed, err := l.Allocations.Deallocate(ctx, auto.Allocations[0].ID)
	if err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
	got, _ := l.Payments.GetPayment(ctx, removed.PaymentID)
	if !got.Remaining.Equal(dec("40")) {
		t.Errorf("expected remaining 40 after deallocation, got %s", got.Remaining)
	}
}

// testConcurrentAllocations races automatic and manual allocations from two
// payments against one accrual; the totals must still reconcile.
func testConcurrentAllocations(t *testing.T, s core.Store) {
	defer s.Close()
	ctx := context.Background()
	log := logrus.New()
	log.SetOutput(io.Discard)
	l := core.NewLedger(s, core.Options{Clock: clockAt(day(2024, time.June, 15)), Logger: log})

	c, err := l.Catalog.CreateCustomer(ctx, core.CustomerInput{Name: "Contended"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	p, err := l.Catalog.CreatePlan(ctx, core.PlanInput{Name: "Std", BaseAmount: dec("100"), Periodicity: core.Monthly})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if _, err := l.Catalog.Subscribe(ctx, core.SubscriptionInput{CustomerID: c.ID, PlanID: p.ID, StartDate: day(2024, time.January, 1)}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	res, err := l.Accruals.Generate(ctx, core.GenerateRequest{Period: core.Period{Year: 2024, Month: time.January}})
	if err != nil || len(res.Created) != 1 {
		t.Fatalf("Generate: %v (%+v)", err, res)
	}
	accrual := res.Created[0]

	payments := make([]*core.Payment, 2)
	for i := range payments {
		if payments[i], err = l.Payments.Register(ctx, core.RegisterPaymentRequest{CustomerID: c.ID, Amount: dec("80")}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	const workers = 12
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pay := payments[i%2]
			var err error
			if i%3 == 0 {
				_, err = l.Allocations.AllocateAuto(ctx, pay.ID, time.Time{})
			} else {
				lines := []core.AllocationLine{{AccrualID: accrual.ID, Amount: dec("15")}}
				_, err = l.Allocations.AllocateManual(ctx, pay.ID, lines, time.Time{})
			}
			var oa *core.OverAllocationError
			if err != nil && !errors.As(err, &oa) {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected allocation error: %v", err)
	}

	var onAccrual []core.Allocation
	err = s.View(ctx, func(tx core.Tx) error {
		var err error
		onAccrual, err = tx.ListAllocations(ctx, core.AllocationFilter{AccrualID: accrual.ID})
		if err != nil {
			return err
		}
		for _, pay := range payments {
			got, err := tx.GetPayment(ctx, pay.ID)
			if err != nil {
				return err
			}
			allocs, err := tx.ListAllocations(ctx, core.AllocationFilter{PaymentID: pay.ID})
			if err != nil {
				return err
			}
			sum := decimal.Zero
			for _, a := range allocs {
				sum = sum.Add(a.Amount)
			}
			if sum.GreaterThan(got.Amount) {
				t.Errorf("payment %d: allocated %s exceeds amount %s", pay.ID, sum, got.Amount)
			}
			if !got.Remaining.Equal(got.Amount.Sub(sum)) {
				t.Errorf("payment %d: remaining %s, want %s", pay.ID, got.Remaining, got.Amount.Sub(sum))
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	total := decimal.Zero
	for _, a := range onAccrual {
		total = total.Add(a.Amount)
	}
	// The automatic runs always fill the accrual; nothing may go past it.
	if !total.Equal(dec("100")) {
		t.Errorf("accrual %d: allocated %s, want exactly 100", accrual.ID, total)
	}
	pos, err := l.Accruals.Position(ctx, accrual.ID)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos.Accrual.Status != core.AccrualPaid || !pos.Outstanding.IsZero() {
		t.Errorf("expected PAID with nothing outstanding, got %s / %s", pos.Accrual.Status, pos.Outstanding)
	}
}
