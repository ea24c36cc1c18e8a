package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ── Report types ──────────────────────────────────────────────────────────────

type StatementEntryKind string

const (
	EntryAccrual    StatementEntryKind = "ACCRUAL"
	EntryAdjustment StatementEntryKind = "ADJUSTMENT"
	EntryPayment    StatementEntryKind = "PAYMENT"
)

// StatementLine is one dated movement on a customer account.
// RunningBalance is cumulative debit minus credit (positive = customer owes).
type StatementLine struct {
	Date           time.Time          `json:"date"`
	Kind           StatementEntryKind `json:"kind"`
	SourceID       int                `json:"source_id"`
	Description    string             `json:"description"`
	Debit          decimal.Decimal    `json:"debit"`
	Credit         decimal.Decimal    `json:"credit"`
	RunningBalance decimal.Decimal    `json:"running_balance"`
}

// Statement is a customer's account history. OpeningBalance sums every
// movement dated before From.
type Statement struct {
	Customer       Customer        `json:"customer"`
	From           *time.Time      `json:"from,omitempty"`
	To             *time.Time      `json:"to,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Lines          []StatementLine `json:"lines"`
	TotalDebit     decimal.Decimal `json:"total_debit"`
	TotalCredit    decimal.Decimal `json:"total_credit"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

// DelinquentCustomer is an active customer with overdue open accruals.
type DelinquentCustomer struct {
	Customer        Customer        `json:"customer"`
	OverdueAccruals int             `json:"overdue_accruals"`
	OverdueAmount   decimal.Decimal `json:"overdue_amount"`
	OldestPeriod    Period          `json:"oldest_period"`
}

type DelinquencyReport struct {
	AsOf      time.Time            `json:"as_of"`
	Days      int                  `json:"days"`
	Cutoff    time.Time            `json:"cutoff"`
	Customers []DelinquentCustomer `json:"customers"`
	Total     decimal.Decimal      `json:"total"`
}

type MethodTotal struct {
	Method string          `json:"method"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// CollectionsReport sums the payments received in one month.
type CollectionsReport struct {
	Period   Period          `json:"period"`
	Count    int             `json:"count"`
	Total    decimal.Decimal `json:"total"`
	ByMethod []MethodTotal   `json:"by_method"`
}

// Dashboard holds the headline figures for a day.
type Dashboard struct {
	AsOf                time.Time       `json:"as_of"`
	Period              Period          `json:"period"`
	ActiveCustomers     int             `json:"active_customers"`
	ActivePlans         int             `json:"active_plans"`
	ActiveSubscriptions int             `json:"active_subscriptions"`
	AccruedThisPeriod   decimal.Decimal `json:"accrued_this_period"`
	CollectedThisPeriod decimal.Decimal `json:"collected_this_period"`
	TotalOwed           decimal.Decimal `json:"total_owed"`
	TotalCredit         decimal.Decimal `json:"total_credit"`
}

// ── Interface ─────────────────────────────────────────────────────────────────

// ReportingService provides read-only reports over the ledger.
type ReportingService interface {
	// Statement lists accruals (debit), adjustments (signed), and payments (credit)
	// ordered by date, then accruals before adjustments before payments, then id.
	// from and to are optional bounds.
	Statement(ctx context.Context, customerID int, from, to *time.Time) (*Statement, error)

	// Delinquents lists active customers with open accruals dated at least days before asOf.
	Delinquents(ctx context.Context, asOf time.Time, days int) (*DelinquencyReport, error)

	// Collections sums payments dated within the period, broken down by method.
	Collections(ctx context.Context, p Period) (*CollectionsReport, error)

	Dashboard(ctx context.Context, asOf time.Time) (*Dashboard, error)
}

// ── Implementation ────────────────────────────────────────────────────────────

// DefaultReportConcurrency bounds per-customer fan-out in reports.
const DefaultReportConcurrency = 4

type reportingService struct {
	base
	concurrency int
}

func NewReportingService(store Store, clock Clock, concurrency int) ReportingService {
	if concurrency <= 0 {
		concurrency = DefaultReportConcurrency
	}
	return &reportingService{base: newBase(store, clock, nil), concurrency: concurrency}
}

// ── Statement ─────────────────────────────────────────────────────────────────

func (s *reportingService) Statement(ctx context.Context, customerID int, from, to *time.Time) (*Statement, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, &ValidationError{Field: "to", Message: "end of range is before start"}
	}
	var out *Statement
	err := s.store.View(ctx, func(tx Tx) error {
		c, err := tx.GetCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		entries, err := customerEntries(ctx, tx, customerID)
		if err != nil {
			return err
		}

		st := &Statement{
			Customer:       *c,
			From:           from,
			To:             to,
			OpeningBalance: decimal.Zero,
			TotalDebit:     decimal.Zero,
			TotalCredit:    decimal.Zero,
			Lines:          []StatementLine{},
		}
		running := decimal.Zero
		for _, e := range entries {
			delta := e.Debit.Sub(e.Credit)
			if from != nil && e.Date.Before(DateOnly(*from)) {
				st.OpeningBalance = st.OpeningBalance.Add(delta)
				running = running.Add(delta)
				continue
			}
			if to != nil && e.Date.After(DateOnly(*to)) {
				continue
			}
			running = running.Add(delta)
			e.RunningBalance = running
			st.TotalDebit = st.TotalDebit.Add(e.Debit)
			st.TotalCredit = st.TotalCredit.Add(e.Credit)
			st.Lines = append(st.Lines, e)
		}
		st.ClosingBalance = running
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var entryRank = map[StatementEntryKind]int{EntryAccrual: 0, EntryAdjustment: 1, EntryPayment: 2}

// customerEntries returns every non-cancelled movement of a customer in statement order.
func customerEntries(ctx context.Context, tx Tx, customerID int) ([]StatementLine, error) {
	accruals, err := tx.ListAccruals(ctx, AccrualFilter{CustomerID: customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list accruals: %w", err)
	}
	adjs, err := tx.ListAdjustments(ctx, AdjustmentFilter{CustomerID: customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	payments, err := tx.ListPayments(ctx, PaymentFilter{CustomerID: customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	cancelled := map[int]bool{}
	entries := make([]StatementLine, 0, len(accruals)+len(adjs)+len(payments))
	for _, a := range accruals {
		if a.Status == AccrualCancelled {
			cancelled[a.ID] = true
			continue
		}
		entries = append(entries, StatementLine{
			Date:        a.AccrualDate,
			Kind:        EntryAccrual,
			SourceID:    a.ID,
			Description: fmt.Sprintf("Accrual %s (subscription %d)", a.Period, a.SubscriptionID),
			Debit:       a.Amount,
			Credit:      decimal.Zero,
		})
	}
	for _, adj := range adjs {
		if adj.AccrualID != nil && cancelled[*adj.AccrualID] {
			continue
		}
		line := StatementLine{
			Date:        adj.Date,
			Kind:        EntryAdjustment,
			SourceID:    adj.ID,
			Description: adjustmentLabel(adj),
			Debit:       decimal.Zero,
			Credit:      decimal.Zero,
		}
		if eff := adj.Effect(); eff.IsPositive() {
			line.Debit = eff
		} else {
			line.Credit = eff.Neg()
		}
		entries = append(entries, line)
	}
	for _, p := range payments {
		desc := "Payment"
		if p.Method != "" {
			desc += " (" + p.Method + ")"
		}
		if p.Reference != "" {
			desc += " ref " + p.Reference
		}
		entries = append(entries, StatementLine{
			Date:        p.PaymentDate,
			Kind:        EntryPayment,
			SourceID:    p.ID,
			Description: desc,
			Debit:       decimal.Zero,
			Credit:      p.Amount,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if entryRank[a.Kind] != entryRank[b.Kind] {
			return entryRank[a.Kind] < entryRank[b.Kind]
		}
		return a.SourceID < b.SourceID
	})
	return entries, nil
}

func adjustmentLabel(adj Adjustment) string {
	label := strings.ReplaceAll(strings.ToLower(string(adj.Kind)), "_", " ")
	label = strings.ToUpper(label[:1]) + label[1:]
	if adj.AccrualID != nil {
		label += fmt.Sprintf(" on accrual %d", *adj.AccrualID)
	}
	if adj.Reason != "" {
		label += ": " + adj.Reason
	}
	return label
}

// ── Delinquents ───────────────────────────────────────────────────────────────

func (s *reportingService) Delinquents(ctx context.Context, asOf time.Time, days int) (*DelinquencyReport, error) {
	if days < 0 {
		return nil, &ValidationError{Field: "days", Message: "must not be negative"}
	}
	day := s.dateOr(asOf)
	cutoff := day.AddDate(0, 0, -days)

	customers, err := s.activeCustomers(ctx)
	if err != nil {
		return nil, err
	}

	found := make([]*DelinquentCustomer, len(customers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range customers {
		i := i
		g.Go(func() error {
			return s.store.View(gctx, func(tx Tx) error {
				open, err := tx.ListAccruals(gctx, dueFilter(customers[i].ID, cutoff, AccrualPending, AccrualPartiallyPaid))
				if err != nil {
					return err
				}
				d := &DelinquentCustomer{Customer: customers[i], OverdueAmount: decimal.Zero}
				for j := range open {
					pos, err := loadPosition(gctx, tx, &open[j])
					if err != nil {
						return err
					}
					if !pos.Outstanding.IsPositive() {
						continue
					}
					if d.OverdueAccruals == 0 {
						d.OldestPeriod = open[j].Period
					}
					d.OverdueAccruals++
					d.OverdueAmount = d.OverdueAmount.Add(pos.Outstanding)
				}
				if d.OverdueAccruals > 0 {
					found[i] = d
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute delinquency: %w", err)
	}

	report := &DelinquencyReport{AsOf: day, Days: days, Cutoff: cutoff, Total: decimal.Zero, Customers: []DelinquentCustomer{}}
	for _, d := range found {
		if d == nil {
			continue
		}
		report.Customers = append(report.Customers, *d)
		report.Total = report.Total.Add(d.OverdueAmount)
	}
	sort.SliceStable(report.Customers, func(i, j int) bool {
		a, b := report.Customers[i], report.Customers[j]
		if !a.OverdueAmount.Equal(b.OverdueAmount) {
			return a.OverdueAmount.GreaterThan(b.OverdueAmount)
		}
		return a.Customer.Name < b.Customer.Name
	})
	return report, nil
}

func (s *reportingService) activeCustomers(ctx context.Context) ([]Customer, error) {
	var customers []Customer
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		customers, err = tx.ListCustomers(ctx, CustomerFilter{ActiveOnly: true})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return customers, nil
}

// ── Collections ───────────────────────────────────────────────────────────────

func (s *reportingService) Collections(ctx context.Context, p Period) (*CollectionsReport, error) {
	from, to := p.Start(), p.End()
	var payments []Payment
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		payments, err = tx.ListPayments(ctx, PaymentFilter{From: &from, To: &to})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	report := &CollectionsReport{Period: p, Total: decimal.Zero, ByMethod: []MethodTotal{}}
	idx := map[string]int{}
	for _, pay := range payments {
		method := pay.Method
		if method == "" {
			method = "unspecified"
		}
		i, ok := idx[method]
		if !ok {
			i = len(report.ByMethod)
			idx[method] = i
			report.ByMethod = append(report.ByMethod, MethodTotal{Method: method, Amount: decimal.Zero})
		}
		report.ByMethod[i].Count++
		report.ByMethod[i].Amount = report.ByMethod[i].Amount.Add(pay.Amount)
		report.Count++
		report.Total = report.Total.Add(pay.Amount)
	}
	sort.SliceStable(report.ByMethod, func(i, j int) bool {
		a, b := report.ByMethod[i], report.ByMethod[j]
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.GreaterThan(b.Amount)
		}
		return a.Method < b.Method
	})
	return report, nil
}

// ── Dashboard ─────────────────────────────────────────────────────────────────

func (s *reportingService) Dashboard(ctx context.Context, asOf time.Time) (*Dashboard, error) {
	day := s.dateOr(asOf)
	period := PeriodOf(day)
	d := &Dashboard{
		AsOf:                day,
		Period:              period,
		AccruedThisPeriod:   decimal.Zero,
		CollectedThisPeriod: decimal.Zero,
		TotalOwed:           decimal.Zero,
		TotalCredit:         decimal.Zero,
	}

	var customers []Customer
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		// Totals cover every customer; deactivating one does not clear its debt.
		if customers, err = tx.ListCustomers(ctx, CustomerFilter{}); err != nil {
			return err
		}
		for _, c := range customers {
			if c.Active {
				d.ActiveCustomers++
			}
		}
		plans, err := tx.ListPlans(ctx, PlanFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		subs, err := tx.ListSubscriptions(ctx, SubscriptionFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		d.ActivePlans, d.ActiveSubscriptions = len(plans), len(subs)

		accruals, err := tx.ListAccruals(ctx, AccrualFilter{Period: &period})
		if err != nil {
			return err
		}
		for _, a := range accruals {
			if a.Status != AccrualCancelled {
				d.AccruedThisPeriod = d.AccruedThisPeriod.Add(a.Amount)
			}
		}
		from := period.Start()
		payments, err := tx.ListPayments(ctx, PaymentFilter{From: &from, To: &day})
		if err != nil {
			return err
		}
		for _, p := range payments {
			d.CollectedThisPeriod = d.CollectedThisPeriod.Add(p.Amount)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load dashboard: %w", err)
	}

	balances := make([]*Balance, len(customers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range customers {
		i := i
		g.Go(func() error {
			return s.store.View(gctx, func(tx Tx) error {
				b, err := computeBalance(gctx, tx, customers[i].ID, day)
				balances[i] = b
				return err
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute balances: %w", err)
	}
	for _, b := range balances {
		d.TotalOwed = d.TotalOwed.Add(b.Owed)
		d.TotalCredit = d.TotalCredit.Add(b.CreditOnAccount)
	}
	return d, nil
}
