package core_test

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"subscription-ledger/internal/core"
)

func TestReporting_StatementRunningBalance(t *testing.T) {
	f := newFixture(t)
	c, a := singleAccrual(t, f)
	f.generate(t, 2024, time.February)

	id := a.ID
	if _, err := f.ledger.Adjustments.Apply(f.ctx, core.ApplyAdjustmentRequest{
		CustomerID: c.ID, AccrualID: &id, Kind: core.AdjustmentBonus, Amount: dec("10"), Date: date(2024, time.February, 5),
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := f.ledger.Payments.Register(f.ctx, core.RegisterPaymentRequest{
		CustomerID: c.ID, Amount: dec("90"), PaymentDate: date(2024, time.February, 10), Method: "cash",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	st, err := f.ledger.Reports.Statement(f.ctx, c.ID, nil, nil)
	if err != nil {
		t.Fatalf("Statement: %v", err)
	}
	wantKinds := []core.StatementEntryKind{core.EntryAccrual, core.EntryAdjustment, core.EntryPayment, core.EntryAccrual}
	wantRunning := []string{"100", "90", "0", "100"}
	if len(st.Lines) != len(wantKinds) {
		t.Fatalf("expected %d lines, got %d", len(wantKinds), len(st.Lines))
	}
	for i, line := range st.Lines {
		if line.Kind != wantKinds[i] {
			t.Errorf("line %d: expected kind %s, got %s", i, wantKinds[i], line.Kind)
		}
		if !line.RunningBalance.Equal(dec(wantRunning[i])) {
			t.Errorf("line %d: expected running %s, got %s", i, wantRunning[i], line.RunningBalance)
		}
	}
	if !st.ClosingBalance.Equal(dec("100")) {
		t.Errorf("expected closing 100, got %s", st.ClosingBalance)
	}

	from := date(2024, time.February, 1)
	ranged, err := f.ledger.Reports.Statement(f.ctx, c.ID, &from, nil)
	if err != nil {
		t.Fatalf("Statement ranged: %v", err)
	}
	if !ranged.OpeningBalance.Equal(dec("100")) || len(ranged.Lines) != 3 {
		t.Errorf("expected opening 100 and 3 lines, got %s and %d", ranged.OpeningBalance, len(ranged.Lines))
	}
}

func TestReporting_Delinquents(t *testing.T) {
	f := newFixture(t)
	p := f.plan(t, "Basic", "100.00", core.Monthly)
	late := f.customer(t, "Late Payer")
	onTime := f.customer(t, "On Time")
	f.subscribe(t, late, p, date(2024, time.April, 1))
	f.subscribe(t, onTime, p, date(2024, time.April, 1))
	f.generate(t, 2024, time.April)
	f.generate(t, 2024, time.May)

	pay := f.pay(t, onTime, "200.00")
	if _, err := f.ledger.Allocations.AllocateAuto(f.ctx, pay.ID, time.Time{}); err != nil {
		t.Fatalf("AllocateAuto: %v", err)
	}

	// Clock is 2024-06-15: April (30 Apr) is 46 days old, May (31 May) is 15.
	report, err := f.ledger.Reports.Delinquents(f.ctx, time.Time{}, 30)
	if err != nil {
		t.Fatalf("Delinquents: %v", err)
	}
	if len(report.Customers) != 1 {
		t.Fatalf("expected 1 delinquent customer, got %d", len(report.Customers))
	}
	d := report.Customers[0]
	if d.Customer.ID != late.ID || d.OverdueAccruals != 1 || !d.OverdueAmount.Equal(dec("100")) {
		t.Errorf("unexpected delinquent entry: %+v", d)
	}
	if d.OldestPeriod != (core.Period{Year: 2024, Month: time.April}) {
		t.Errorf("expected oldest period 2024-04, got %s", d.OldestPeriod)
	}

	all, _ := f.ledger.Reports.Delinquents(f.ctx, time.Time{}, 0)
	if len(all.Customers) != 1 || !all.Total.Equal(dec("200")) {
		t.Errorf("expected 200 overdue with zero grace, got %s across %d", all.Total, len(all.Customers))
	}
}

func TestReporting_CollectionsAndDashboard(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	p := f.plan(t, "Basic", "100.00", core.Monthly)
	f.subscribe(t, c, p, date(2024, time.June, 1))
	f.generate(t, 2024, time.June)

	for _, in := range []struct {
		amount, method string
		day            int
	}{{"40", "cash", 2}, {"25", "card", 3}, {"15", "cash", 9}} {
		if _, err := f.ledger.Payments.Register(f.ctx, core.RegisterPaymentRequest{
			CustomerID: c.ID, Amount: dec(in.amount), Method: in.method, PaymentDate: date(2024, time.June, in.day),
		}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if _, err := f.ledger.Payments.Register(f.ctx, core.RegisterPaymentRequest{
		CustomerID: c.ID, Amount: dec("99"), PaymentDate: date(2024, time.May, 31),
	}); err != nil {
		t.Fatalf("Register May: %v", err)
	}

	rep, err := f.ledger.Reports.Collections(f.ctx, core.Period{Year: 2024, Month: time.June})
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if rep.Count != 3 || !rep.Total.Equal(dec("80")) {
		t.Errorf("expected 3 payments totalling 80, got %d / %s", rep.Count, rep.Total)
	}
	if len(rep.ByMethod) != 2 || rep.ByMethod[0].Method != "cash" || !rep.ByMethod[0].Amount.Equal(dec("55")) {
		t.Errorf("unexpected method breakdown: %+v", rep.ByMethod)
	}

	dash, err := f.ledger.Reports.Dashboard(f.ctx, time.Time{})
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if dash.ActiveCustomers != 1 || dash.ActivePlans != 1 || dash.ActiveSubscriptions != 1 {
		t.Errorf("unexpected counts: %+v", dash)
	}
	if !dash.AccruedThisPeriod.Equal(dec("100")) {
		t.Errorf("expected accrued 100 for June, got %s", dash.AccruedThisPeriod)
	}
	if !dash.CollectedThisPeriod.Equal(dec("80")) {
		t.Errorf("expected collected 80, got %s", dash.CollectedThisPeriod)
	}
	// June accrual is dated the 30th, after the 15th, so nothing is owed yet.
	if !dash.TotalOwed.IsZero() || !dash.TotalCredit.Equal(dec("179")) {
		t.Errorf("expected owed 0 and credit 179, got %s / %s", dash.TotalOwed, dash.TotalCredit)
	}
}

func TestReporting_DashboardKeepsInactiveDebt(t *testing.T) {
	f := newFixture(t)
	c, _ := singleAccrual(t, f)
	if _, err := f.ledger.Catalog.SetCustomerActive(f.ctx, c.ID, false); err != nil {
		t.Fatalf("SetCustomerActive: %v", err)
	}

	bal, err := f.ledger.Balances.Balance(f.ctx, c.ID, time.Time{}, false)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	dash, err := f.ledger.Reports.Dashboard(f.ctx, time.Time{})
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if dash.ActiveCustomers != 0 {
		t.Errorf("expected 0 active customers, got %d", dash.ActiveCustomers)
	}
	if !bal.Owed.Equal(dec("100")) || !dash.TotalOwed.Equal(bal.Owed) {
		t.Errorf("expected total owed %s to include the inactive customer, got %s", bal.Owed, dash.TotalOwed)
	}
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t)
	c, _ := singleAccrual(t, f)
	if _, err := f.ledger.Catalog.UpdateCustomer(f.ctx, c.ID, core.CustomerInput{Name: "=cmd()"}); err != nil {
		t.Fatalf("UpdateCustomer: %v", err)
	}

	var buf bytes.Buffer
	if err := core.ExportCSV(f.ctx, f.store, "customers", &buf); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "id" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if !strings.HasPrefix(rows[1][1], "'") {
		t.Errorf("expected formula cell to be escaped, got %q", rows[1][1])
	}

	buf.Reset()
	if err := core.ExportCSV(f.ctx, f.store, "accruals", &buf); err != nil {
		t.Fatalf("ExportCSV accruals: %v", err)
	}
	if !strings.Contains(buf.String(), "2024-01,100.00,2024-01-31,PENDING") {
		t.Errorf("unexpected accrual export: %s", buf.String())
	}

	if err := core.ExportCSV(f.ctx, f.store, "ledger", &buf); err == nil {
		t.Error("expected error for unknown table")
	}
}
