package app_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"subscription-ledger/internal/app"
	"subscription-ledger/internal/core"
	"subscription-ledger/internal/metrics"
	"subscription-ledger/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T) (app.ApplicationService, *metrics.Collector) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	ledger := core.NewLedger(store, core.Options{
		Clock:  fixedClock{now: time.Date(2024, time.June, 15, 9, 0, 0, 0, time.UTC)},
		Logger: log,
	})
	m := metrics.NewCollector()
	svc := app.NewAppService(store, ledger, m, app.Options{Currency: "EUR", DelinquencyDays: 30, Logger: log})
	return svc, m
}

func scrape(t *testing.T, m *metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

// seed creates one customer on a 100.00 monthly plan starting in January.
func seed(t *testing.T, svc app.ApplicationService) (customerID, subID int) {
	t.Helper()
	ctx := context.Background()
	c, err := svc.CreateCustomer(ctx, app.CustomerRequest{Name: "Acme"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	p, err := svc.CreatePlan(ctx, app.PlanRequest{Name: "Basic", BaseAmount: dec("100")})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if p.Plan.Periodicity != core.Monthly {
		t.Fatalf("default periodicity = %q, want monthly", p.Plan.Periodicity)
	}
	s, err := svc.Subscribe(ctx, app.SubscribeRequest{CustomerID: c.Customer.ID, PlanID: p.Plan.ID, StartDate: "2024-01-01"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return c.Customer.ID, s.Subscription.ID
}

func TestGenerateAccrualsReportsDuplicates(t *testing.T) {
	svc, m := newService(t)
	ctx := context.Background()
	seed(t, svc)

	first, err := svc.GenerateAccruals(ctx, app.GenerateAccrualsRequest{Period: "2024-05"})
	if err != nil {
		t.Fatalf("GenerateAccruals: %v", err)
	}
	if len(first.Created) != 1 || len(first.Duplicates) != 0 {
		t.Fatalf("first run created=%d duplicates=%d, want 1/0", len(first.Created), len(first.Duplicates))
	}
	if first.RunID == "" {
		t.Error("expected a run id")
	}

	second, err := svc.GenerateAccruals(ctx, app.GenerateAccrualsRequest{Period: "2024-05"})
	if err != nil {
		t.Fatalf("GenerateAccruals (rerun): %v", err)
	}
	if len(second.Created) != 0 || len(second.Duplicates) != 1 {
		t.Fatalf("rerun created=%d duplicates=%d, want 0/1", len(second.Created), len(second.Duplicates))
	}
	if second.Duplicates[0].ExistingID != first.Created[0].ID {
		t.Errorf("duplicate points at %d, want %d", second.Duplicates[0].ExistingID, first.Created[0].ID)
	}
	if second.RunID == first.RunID {
		t.Error("run ids should differ between runs")
	}

	if !strings.Contains(scrape(t, m), "subscription_ledger_accruals_duplicate_total 1") {
		t.Error("expected one duplicate in the metrics exposition")
	}
}

func TestGenerateAccrualsDefaultsToClockPeriod(t *testing.T) {
	svc, _ := newService(t)
	seed(t, svc)

	res, err := svc.GenerateAccruals(context.Background(), app.GenerateAccrualsRequest{})
	if err != nil {
		t.Fatalf("GenerateAccruals: %v", err)
	}
	want := core.Period{Year: 2024, Month: time.June}
	if res.Period != want {
		t.Errorf("period = %v, want %v", res.Period, want)
	}
	if len(res.Created) != 1 || res.Created[0].Period != want {
		t.Errorf("expected one June accrual, got %+v", res.Created)
	}
}

func TestRegisterPaymentWithAutoAllocate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	customerID, _ := seed(t, svc)

	for _, p := range []string{"2024-04", "2024-05"} {
		if _, err := svc.GenerateAccruals(ctx, app.GenerateAccrualsRequest{Period: p}); err != nil {
			t.Fatalf("GenerateAccruals %s: %v", p, err)
		}
	}

	res, err := svc.RegisterPayment(ctx, app.RegisterPaymentRequest{
		CustomerID:   customerID,
		Amount:       dec("150"),
		PaymentDate:  "2024-06-01",
		Method:       "transfer",
		AutoAllocate: true,
	})
	if err != nil {
		t.Fatalf("RegisterPayment: %v", err)
	}
	if res.Allocation == nil {
		t.Fatal("expected an auto allocation result")
	}
	if !res.Allocation.TotalAllocated.Equal(dec("150")) {
		t.Errorf("allocated %s, want 150", res.Allocation.TotalAllocated)
	}
	if res.State != string(core.PaymentFullyAllocated) {
		t.Errorf("state = %s, want %s", res.State, core.PaymentFullyAllocated)
	}

	open, err := svc.ListAccruals(ctx, app.AccrualQuery{CustomerID: customerID, OpenOnly: true})
	if err != nil {
		t.Fatalf("ListAccruals: %v", err)
	}
	if len(open.Accruals) != 1 || open.Accruals[0].Status != core.AccrualPartiallyPaid {
		t.Fatalf("open accruals = %+v, want one PARTIALLY_PAID", open.Accruals)
	}

	bal, err := svc.GetBalance(ctx, customerID, "", true)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Currency != "EUR" {
		t.Errorf("currency = %s, want EUR", bal.Currency)
	}
	if !bal.Balance.Owed.Equal(dec("50")) {
		t.Errorf("owed = %s, want 50", bal.Balance.Owed)
	}
}

func TestManualAllocationAndDeallocation(t *testing.T) {
	svc, m := newService(t)
	ctx := context.Background()
	customerID, _ := seed(t, svc)

	gen, err := svc.GenerateAccruals(ctx, app.GenerateAccrualsRequest{Period: "2024-05"})
	if err != nil {
		t.Fatalf("GenerateAccruals: %v", err)
	}
	accrualID := gen.Created[0].ID

	pay, err := svc.RegisterPayment(ctx, app.RegisterPaymentRequest{CustomerID: customerID, Amount: dec("80"), PaymentDate: "2024-06-02"})
	if err != nil {
		t.Fatalf("RegisterPayment: %v", err)
	}

	_, err = svc.AllocateManual(ctx, app.ManualAllocationRequest{
		PaymentID: pay.Payment.ID,
		Lines:     []app.AllocationLineInput{{AccrualID: accrualID, Amount: dec("90")}},
	})
	var over *core.OverAllocationError
	if !errors.As(err, &over) {
		t.Fatalf("expected OverAllocationError, got %v", err)
	}
	if app.ErrorKind(err) != "over_allocation" {
		t.Errorf("ErrorKind = %s, want over_allocation", app.ErrorKind(err))
	}
	if !strings.Contains(scrape(t, m), `subscription_ledger_operation_errors_total{kind="over_allocation",operation="allocate_manual"} 1`) {
		t.Error("expected the rejected allocation in the metrics exposition")
	}

	res, err := svc.AllocateManual(ctx, app.ManualAllocationRequest{
		PaymentID: pay.Payment.ID,
		Lines:     []app.AllocationLineInput{{AccrualID: accrualID, Amount: dec("60")}},
	})
	if err != nil {
		t.Fatalf("AllocateManual: %v", err)
	}
	if !res.Remaining.Equal(dec("20")) {
		t.Errorf("remaining = %s, want 20", res.Remaining)
	}

	if _, err := svc.Deallocate(ctx, res.Allocations[0].ID); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
	got, err := svc.GetPayment(ctx, pay.Payment.ID)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if !got.Payment.Remaining.Equal(dec("80")) || len(got.Allocations) != 0 {
		t.Errorf("after deallocation remaining=%s allocations=%d, want 80/0", got.Payment.Remaining, len(got.Allocations))
	}
	if got.State != string(core.PaymentUnallocated) {
		t.Errorf("state = %s, want %s", got.State, core.PaymentUnallocated)
	}
}

func TestAdjustmentAndAccrualPosition(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	customerID, _ := seed(t, svc)

	gen, err := svc.GenerateAccruals(ctx, app.GenerateAccrualsRequest{Period: "2024-05"})
	if err != nil {
		t.Fatalf("GenerateAccruals: %v", err)
	}
	id := gen.Created[0].ID

	if _, err := svc.ApplyAdjustment(ctx, app.AdjustmentRequest{
		CustomerID: customerID, AccrualID: &id, Kind: "BONUS", Amount: dec("25"), Reason: "loyalty",
	}); err != nil {
		t.Fatalf("ApplyAdjustment: %v", err)
	}

	pos, err := svc.GetAccrual(ctx, id)
	if err != nil {
		t.Fatalf("GetAccrual: %v", err)
	}
	if !pos.Position.EffectiveOwed.Equal(dec("75")) {
		t.Errorf("effective owed = %s, want 75", pos.Position.EffectiveOwed)
	}

	adjs, err := svc.ListAdjustments(ctx, customerID)
	if err != nil {
		t.Fatalf("ListAdjustments: %v", err)
	}
	if len(adjs.Adjustments) != 1 {
		t.Fatalf("adjustments = %d, want 1", len(adjs.Adjustments))
	}

	cancelled, err := svc.CancelAccrual(ctx, id)
	if err != nil {
		t.Fatalf("CancelAccrual: %v", err)
	}
	if cancelled.Position.Accrual.Status != core.AccrualCancelled {
		t.Errorf("status = %s, want CANCELLED", cancelled.Position.Accrual.Status)
	}
}

func TestInputValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	customerID, _ := seed(t, svc)

	tests := []struct {
		name string
		call func() error
		kind string
	}{
		{"bad period", func() error {
			_, err := svc.GenerateAccruals(ctx, app.GenerateAccrualsRequest{Period: "2024-13"})
			return err
		}, "validation"},
		{"bad payment date", func() error {
			_, err := svc.RegisterPayment(ctx, app.RegisterPaymentRequest{CustomerID: customerID, Amount: dec("1"), PaymentDate: "06/01/2024"})
			return err
		}, "validation"},
		{"bad periodicity", func() error {
			_, err := svc.CreatePlan(ctx, app.PlanRequest{Name: "Odd", BaseAmount: dec("1"), Periodicity: "weekly"})
			return err
		}, "validation"},
		{"zero payment", func() error {
			_, err := svc.RegisterPayment(ctx, app.RegisterPaymentRequest{CustomerID: customerID, Amount: decimal.Zero})
			return err
		}, "invalid_amount"},
		{"unknown customer", func() error {
			_, err := svc.GetCustomer(ctx, 9999)
			return err
		}, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := app.ErrorKind(err); got != tt.kind {
				t.Errorf("ErrorKind = %s, want %s (err: %v)", got, tt.kind, err)
			}
		})
	}
}

func TestReportsCarryCurrency(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	customerID, _ := seed(t, svc)

	if _, err := svc.GenerateAccruals(ctx, app.GenerateAccrualsRequest{Period: "2024-04"}); err != nil {
		t.Fatalf("GenerateAccruals: %v", err)
	}
	if _, err := svc.RegisterPayment(ctx, app.RegisterPaymentRequest{CustomerID: customerID, Amount: dec("40"), PaymentDate: "2024-06-10", Method: "cash"}); err != nil {
		t.Fatalf("RegisterPayment: %v", err)
	}

	del, err := svc.GetDelinquents(ctx, "2024-06-15", nil)
	if err != nil {
		t.Fatalf("GetDelinquents: %v", err)
	}
	if del.Report.Days != 30 || len(del.Report.Customers) != 1 {
		t.Errorf("delinquents days=%d customers=%d, want 30/1", del.Report.Days, len(del.Report.Customers))
	}

	col, err := svc.GetCollections(ctx, "2024-06")
	if err != nil {
		t.Fatalf("GetCollections: %v", err)
	}
	if col.Currency != "EUR" || !col.Report.Total.Equal(dec("40")) {
		t.Errorf("collections currency=%s total=%s, want EUR/40", col.Currency, col.Report.Total)
	}

	st, err := svc.GetStatement(ctx, customerID, "", "")
	if err != nil {
		t.Fatalf("GetStatement: %v", err)
	}
	if !st.Statement.ClosingBalance.Equal(dec("60")) {
		t.Errorf("closing balance = %s, want 60", st.Statement.ClosingBalance)
	}

	var buf bytes.Buffer
	if err := svc.ExportCSV(ctx, "payments", &buf); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Errorf("csv lines = %d, want header plus one row", lines)
	}
}
