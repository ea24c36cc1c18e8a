package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"subscription-ledger/internal/core"
	"subscription-ledger/internal/metrics"
)

// Options configures the application service.
type Options struct {
	Currency        string
	DelinquencyDays int
	Logger          logrus.FieldLogger
}

type appService struct {
	store   core.Store
	ledger  *core.Ledger
	metrics *metrics.Collector
	opts    Options
	log     logrus.FieldLogger
}

// NewAppService constructs an appService that satisfies ApplicationService.
// collector may be nil.
func NewAppService(store core.Store, ledger *core.Ledger, collector *metrics.Collector, opts Options) ApplicationService {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &appService{
		store:   store,
		ledger:  ledger,
		metrics: collector,
		opts:    opts,
		log:     opts.Logger.WithField("component", "app"),
	}
}

// ErrorKind classifies err for metrics and logs.
func ErrorKind(err error) string {
	var (
		nf  *core.NotFoundError
		dup *core.DuplicateAccrualError
		oa  *core.OverAllocationError
		cc  *core.CrossCustomerError
		ia  *core.InvalidAmountError
		ve  *core.ValidationError
		iu  *core.InUseError
	)
	switch {
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &dup):
		return "duplicate"
	case errors.As(err, &oa):
		return "over_allocation"
	case errors.As(err, &cc):
		return "cross_customer"
	case errors.As(err, &ia):
		return "invalid_amount"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &iu):
		return "in_use"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}

// observe records a failed operation. It returns err unchanged.
func (s *appService) observe(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := ErrorKind(err)
	if s.metrics != nil {
		s.metrics.OperationFailed(op, kind)
	}
	entry := s.log.WithError(err).WithFields(logrus.Fields{"operation": op, "kind": kind})
	if kind == "internal" {
		entry.Error("ledger operation failed")
	} else {
		entry.Debug("ledger operation rejected")
	}
	return err
}

// ── Argument parsing ──────────────────────────────────────────────────────────

// parseDate returns the zero time for "", which services read as today.
func parseDate(field, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	t, err := core.ParseDate(s)
	if err != nil {
		return time.Time{}, &core.ValidationError{Field: field, Message: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s)}
	}
	return t, nil
}

func parseOptionalDate(field, s string) (*time.Time, error) {
	t, err := parseDate(field, s)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

func (s *appService) parsePeriod(p string) (core.Period, error) {
	if strings.TrimSpace(p) == "" {
		return core.PeriodOf(s.ledger.Clock.Now()), nil
	}
	return core.ParsePeriod(p)
}

// ── Customers ─────────────────────────────────────────────────────────────────

func (r CustomerRequest) input() core.CustomerInput {
	return core.CustomerInput{
		Name: r.Name, TaxID: r.TaxID, ContactPerson: r.ContactPerson, Email: r.Email,
		Phone: r.Phone, Address: r.Address, Notes: r.Notes,
	}
}

func (s *appService) CreateCustomer(ctx context.Context, req CustomerRequest) (*CustomerResult, error) {
	c, err := s.ledger.Catalog.CreateCustomer(ctx, req.input())
	if err != nil {
		return nil, s.observe("create_customer", err)
	}
	return &CustomerResult{Customer: c}, nil
}

func (s *appService) UpdateCustomer(ctx context.Context, id int, req CustomerRequest) (*CustomerResult, error) {
	c, err := s.ledger.Catalog.UpdateCustomer(ctx, id, req.input())
	if err != nil {
		return nil, s.observe("update_customer", err)
	}
	return &CustomerResult{Customer: c}, nil
}

func (s *appService) SetCustomerActive(ctx context.Context, id int, active bool) (*CustomerResult, error) {
	c, err := s.ledger.Catalog.SetCustomerActive(ctx, id, active)
	if err != nil {
		return nil, s.observe("set_customer_active", err)
	}
	return &CustomerResult{Customer: c}, nil
}

func (s *appService) DeleteCustomer(ctx context.Context, id int) error {
	return s.observe("delete_customer", s.ledger.Catalog.DeleteCustomer(ctx, id))
}

func (s *appService) GetCustomer(ctx context.Context, id int) (*CustomerResult, error) {
	c, err := s.ledger.Catalog.GetCustomer(ctx, id)
	if err != nil {
		return nil, s.observe("get_customer", err)
	}
	return &CustomerResult{Customer: c}, nil
}

func (s *appService) ListCustomers(ctx context.Context, activeOnly bool) (*CustomerListResult, error) {
	customers, err := s.ledger.Catalog.ListCustomers(ctx, activeOnly)
	if err != nil {
		return nil, s.observe("list_customers", err)
	}
	return &CustomerListResult{Customers: customers}, nil
}

// ── Plans ─────────────────────────────────────────────────────────────────────

func (r PlanRequest) input() (core.PlanInput, error) {
	per, err := core.ParsePeriodicity(r.Periodicity)
	if err != nil {
		return core.PlanInput{}, err
	}
	return core.PlanInput{Name: r.Name, Description: r.Description, BaseAmount: r.BaseAmount, Periodicity: per}, nil
}

func (s *appService) CreatePlan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	in, err := req.input()
	if err != nil {
		return nil, s.observe("create_plan", err)
	}
	p, err := s.ledger.Catalog.CreatePlan(ctx, in)
	if err != nil {
		return nil, s.observe("create_plan", err)
	}
	return &PlanResult{Plan: p}, nil
}

func (s *appService) UpdatePlan(ctx context.Context, id int, req PlanRequest) (*PlanResult, error) {
	in, err := req.input()
	if err != nil {
		return nil, s.observe("update_plan", err)
	}
	p, err := s.ledger.Catalog.UpdatePlan(ctx, id, in)
	if err != nil {
		return nil, s.observe("update_plan", err)
	}
	return &PlanResult{Plan: p}, nil
}

func (s *appService) SetPlanActive(ctx context.Context, id int, active bool) (*PlanResult, error) {
	p, err := s.ledger.Catalog.SetPlanActive(ctx, id, active)
	if err != nil {
		return nil, s.observe("set_plan_active", err)
	}
	return &PlanResult{Plan: p}, nil
}

func (s *appService) DeletePlan(ctx context.Context, id int) error {
	return s.observe("delete_plan", s.ledger.Catalog.DeletePlan(ctx, id))
}

func (s *appService) ListPlans(ctx context.Context, activeOnly bool) (*PlanListResult, error) {
	plans, err := s.ledger.Catalog.ListPlans(ctx, activeOnly)
	if err != nil {
		return nil, s.observe("list_plans", err)
	}
	return &PlanListResult{Plans: plans}, nil
}

// ── Subscriptions ─────────────────────────────────────────────────────────────

func (s *appService) Subscribe(ctx context.Context, req SubscribeRequest) (*SubscriptionResult, error) {
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		return nil, s.observe("subscribe", err)
	}
	end, err := parseOptionalDate("end_date", req.EndDate)
	if err != nil {
		return nil, s.observe("subscribe", err)
	}
	sub, err := s.ledger.Catalog.Subscribe(ctx, core.SubscriptionInput{
		CustomerID:    req.CustomerID,
		PlanID:        req.PlanID,
		StartDate:     start,
		EndDate:       end,
		PriceOverride: req.PriceOverride,
		Notes:         req.Notes,
	})
	if err != nil {
		return nil, s.observe("subscribe", err)
	}
	return &SubscriptionResult{Subscription: sub}, nil
}

func (s *appService) UpdateSubscription(ctx context.Context, id int, req UpdateSubscriptionRequest) (*SubscriptionResult, error) {
	ch := core.SubscriptionChange{
		PriceOverride:      req.PriceOverride,
		ClearPriceOverride: req.ClearPriceOverride,
		Notes:              req.Notes,
	}
	if req.EndDate != nil {
		end, err := parseOptionalDate("end_date", *req.EndDate)
		if err != nil {
			return nil, s.observe("update_subscription", err)
		}
		ch.EndDate = end
		ch.ClearEndDate = end == nil
	}
	sub, err := s.ledger.Catalog.UpdateSubscription(ctx, id, ch)
	if err != nil {
		return nil, s.observe("update_subscription", err)
	}
	return &SubscriptionResult{Subscription: sub}, nil
}

func (s *appService) SetSubscriptionActive(ctx context.Context, id int, active bool) (*SubscriptionResult, error) {
	sub, err := s.ledger.Catalog.SetSubscriptionActive(ctx, id, active)
	if err != nil {
		return nil, s.observe("set_subscription_active", err)
	}
	return &SubscriptionResult{Subscription: sub}, nil
}

func (s *appService) DeleteSubscription(ctx context.Context, id int) error {
	return s.observe("delete_subscription", s.ledger.Catalog.DeleteSubscription(ctx, id))
}

func (s *appService) ListSubscriptions(ctx context.Context, customerID int, activeOnly bool) (*SubscriptionListResult, error) {
	subs, err := s.ledger.Catalog.ListSubscriptions(ctx, core.SubscriptionFilter{CustomerID: customerID, ActiveOnly: activeOnly})
	if err != nil {
		return nil, s.observe("list_subscriptions", err)
	}
	return &SubscriptionListResult{Subscriptions: subs}, nil
}

// ── Accruals ──────────────────────────────────────────────────────────────────

func (s *appService) GenerateAccruals(ctx context.Context, req GenerateAccrualsRequest) (*GenerateAccrualsResult, error) {
	period, err := s.parsePeriod(req.Period)
	if err != nil {
		return nil, s.observe("generate_accruals", err)
	}
	runID := uuid.New().String()
	log := s.log.WithFields(logrus.Fields{"run_id": runID, "period": period.String()})
	log.Info("accrual generation started")

	res, err := s.ledger.Accruals.Generate(ctx, core.GenerateRequest{
		Period:          period,
		SubscriptionIDs: req.SubscriptionIDs,
		Notes:           req.Notes,
	})
	if err != nil {
		return nil, s.observe("generate_accruals", err)
	}

	out := &GenerateAccrualsResult{
		RunID:      runID,
		Period:     res.Period,
		Created:    res.Created,
		Duplicates: make([]DuplicateAccrual, 0, len(res.Duplicates)),
		Skipped:    res.Skipped,
	}
	for _, d := range res.Duplicates {
		out.Duplicates = append(out.Duplicates, DuplicateAccrual{
			SubscriptionID: d.SubscriptionID,
			CustomerID:     d.CustomerID,
			ExistingID:     d.ExistingID,
		})
	}
	if s.metrics != nil {
		s.metrics.AccrualsGenerated(len(out.Created), len(out.Duplicates))
	}
	log.WithFields(logrus.Fields{
		"created":    len(out.Created),
		"duplicates": len(out.Duplicates),
		"skipped":    len(out.Skipped),
	}).Info("accrual generation finished")
	return out, nil
}

func (s *appService) ListAccruals(ctx context.Context, q AccrualQuery) (*AccrualListResult, error) {
	f := core.AccrualFilter{CustomerID: q.CustomerID, SubscriptionID: q.SubscriptionID}
	if q.Period != "" {
		p, err := core.ParsePeriod(q.Period)
		if err != nil {
			return nil, s.observe("list_accruals", err)
		}
		f.Period = &p
	}
	switch {
	case q.Status != "":
		f.Statuses = []core.AccrualStatus{core.AccrualStatus(strings.ToUpper(q.Status))}
	case q.OpenOnly:
		f.Statuses = []core.AccrualStatus{core.AccrualPending, core.AccrualPartiallyPaid}
	}
	accruals, err := s.ledger.Accruals.ListAccruals(ctx, f)
	if err != nil {
		return nil, s.observe("list_accruals", err)
	}
	return &AccrualListResult{Accruals: accruals}, nil
}

func (s *appService) GetAccrual(ctx context.Context, id int) (*AccrualResult, error) {
	pos, err := s.ledger.Accruals.Position(ctx, id)
	if err != nil {
		return nil, s.observe("get_accrual", err)
	}
	return &AccrualResult{Position: pos}, nil
}

func (s *appService) CancelAccrual(ctx context.Context, id int) (*AccrualResult, error) {
	if _, err := s.ledger.Accruals.Cancel(ctx, id); err != nil {
		return nil, s.observe("cancel_accrual", err)
	}
	return s.GetAccrual(ctx, id)
}

func (s *appService) DeleteAccrual(ctx context.Context, id int) error {
	return s.observe("delete_accrual", s.ledger.Accruals.Delete(ctx, id))
}

// ── Payments and allocation ───────────────────────────────────────────────────

func (s *appService) RegisterPayment(ctx context.Context, req RegisterPaymentRequest) (*PaymentResult, error) {
	day, err := parseDate("payment_date", req.PaymentDate)
	if err != nil {
		return nil, s.observe("register_payment", err)
	}
	p, err := s.ledger.Payments.Register(ctx, core.RegisterPaymentRequest{
		CustomerID:  req.CustomerID,
		Amount:      req.Amount,
		PaymentDate: day,
		Method:      req.Method,
		Reference:   req.Reference,
		Notes:       req.Notes,
	})
	if err != nil {
		return nil, s.observe("register_payment", err)
	}
	if s.metrics != nil {
		s.metrics.PaymentRegistered(p.Amount.InexactFloat64())
	}

	res := &PaymentResult{Payment: p, State: string(p.AllocationState())}
	if !req.AutoAllocate {
		return res, nil
	}
	// The payment stays registered even if allocation fails.
	alloc, err := s.AllocateAuto(ctx, p.ID, req.PaymentDate)
	if err != nil {
		return nil, fmt.Errorf("payment %d registered but automatic allocation failed: %w", p.ID, err)
	}
	res.Payment = &alloc.Payment
	res.State = string(alloc.Payment.AllocationState())
	res.Allocation = alloc
	return res, nil
}

func (s *appService) GetPayment(ctx context.Context, id int) (*PaymentResult, error) {
	p, err := s.ledger.Payments.GetPayment(ctx, id)
	if err != nil {
		return nil, s.observe("get_payment", err)
	}
	allocs, err := s.ledger.Allocations.ListAllocations(ctx, core.AllocationFilter{PaymentID: id})
	if err != nil {
		return nil, s.observe("get_payment", err)
	}
	return &PaymentResult{Payment: p, State: string(p.AllocationState()), Allocations: allocs}, nil
}

func (s *appService) ListPayments(ctx context.Context, q PaymentQuery) (*PaymentListResult, error) {
	from, err := parseOptionalDate("from", q.From)
	if err != nil {
		return nil, s.observe("list_payments", err)
	}
	to, err := parseOptionalDate("to", q.To)
	if err != nil {
		return nil, s.observe("list_payments", err)
	}
	payments, err := s.ledger.Payments.ListPayments(ctx, core.PaymentFilter{CustomerID: q.CustomerID, From: from, To: to})
	if err != nil {
		return nil, s.observe("list_payments", err)
	}
	return &PaymentListResult{Payments: payments}, nil
}

func (s *appService) DeletePayment(ctx context.Context, id int) error {
	return s.observe("delete_payment", s.ledger.Payments.Delete(ctx, id))
}

func (s *appService) AllocateAuto(ctx context.Context, paymentID int, date string) (*core.AllocationResult, error) {
	day, err := parseDate("date", date)
	if err != nil {
		return nil, s.observe("allocate_auto", err)
	}
	res, err := s.ledger.Allocations.AllocateAuto(ctx, paymentID, day)
	if err != nil {
		return nil, s.observe("allocate_auto", err)
	}
	if s.metrics != nil {
		s.metrics.Allocated("auto", len(res.Allocations))
	}
	return res, nil
}

func (s *appService) AllocateManual(ctx context.Context, req ManualAllocationRequest) (*core.AllocationResult, error) {
	day, err := parseDate("date", req.Date)
	if err != nil {
		return nil, s.observe("allocate_manual", err)
	}
	lines := make([]core.AllocationLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = core.AllocationLine{AccrualID: l.AccrualID, Amount: l.Amount}
	}
	res, err := s.ledger.Allocations.AllocateManual(ctx, req.PaymentID, lines, day)
	if err != nil {
		return nil, s.observe("allocate_manual", err)
	}
	if s.metrics != nil {
		s.metrics.Allocated("manual", len(res.Allocations))
	}
	return res, nil
}

func (s *appService) Deallocate(ctx context.Context, allocationID int) (*core.Allocation, error) {
	a, err := s.ledger.Allocations.Deallocate(ctx, allocationID)
	if err != nil {
		return nil, s.observe("deallocate", err)
	}
	if s.metrics != nil {
		s.metrics.Deallocated()
	}
	return a, nil
}

// ── Adjustments ───────────────────────────────────────────────────────────────

func (s *appService) ApplyAdjustment(ctx context.Context, req AdjustmentRequest) (*core.Adjustment, error) {
	day, err := parseDate("date", req.Date)
	if err != nil {
		return nil, s.observe("apply_adjustment", err)
	}
	adj, err := s.ledger.Adjustments.Apply(ctx, core.ApplyAdjustmentRequest{
		CustomerID: req.CustomerID,
		AccrualID:  req.AccrualID,
		Kind:       core.AdjustmentKind(req.Kind),
		Amount:     req.Amount,
		Date:       day,
		Reason:     req.Reason,
	})
	if err != nil {
		return nil, s.observe("apply_adjustment", err)
	}
	if s.metrics != nil {
		s.metrics.Adjusted(string(adj.Kind))
	}
	return adj, nil
}

func (s *appService) DeleteAdjustment(ctx context.Context, id int) error {
	return s.observe("delete_adjustment", s.ledger.Adjustments.Delete(ctx, id))
}

func (s *appService) ListAdjustments(ctx context.Context, customerID int) (*AdjustmentListResult, error) {
	adjs, err := s.ledger.Adjustments.ListAdjustments(ctx, core.AdjustmentFilter{CustomerID: customerID})
	if err != nil {
		return nil, s.observe("list_adjustments", err)
	}
	return &AdjustmentListResult{Adjustments: adjs}, nil
}

// ── Balances and reports ──────────────────────────────────────────────────────

func (s *appService) GetBalance(ctx context.Context, customerID int, asOf string, includeCredit bool) (*BalanceResult, error) {
	day, err := parseDate("as_of", asOf)
	if err != nil {
		return nil, s.observe("get_balance", err)
	}
	b, err := s.ledger.Balances.Balance(ctx, customerID, day, includeCredit)
	if err != nil {
		return nil, s.observe("get_balance", err)
	}
	return &BalanceResult{Currency: s.opts.Currency, Balance: b}, nil
}

func (s *appService) GetStatement(ctx context.Context, customerID int, from, to string) (*StatementResult, error) {
	fromDate, err := parseOptionalDate("from", from)
	if err != nil {
		return nil, s.observe("get_statement", err)
	}
	toDate, err := parseOptionalDate("to", to)
	if err != nil {
		return nil, s.observe("get_statement", err)
	}
	st, err := s.ledger.Reports.Statement(ctx, customerID, fromDate, toDate)
	if err != nil {
		return nil, s.observe("get_statement", err)
	}
	return &StatementResult{Currency: s.opts.Currency, Statement: st}, nil
}

func (s *appService) GetDelinquents(ctx context.Context, asOf string, days *int) (*DelinquencyResult, error) {
	day, err := parseDate("as_of", asOf)
	if err != nil {
		return nil, s.observe("get_delinquents", err)
	}
	n := s.opts.DelinquencyDays
	if days != nil {
		n = *days
	}
	rep, err := s.ledger.Reports.Delinquents(ctx, day, n)
	if err != nil {
		return nil, s.observe("get_delinquents", err)
	}
	return &DelinquencyResult{Currency: s.opts.Currency, Report: rep}, nil
}

func (s *appService) GetCollections(ctx context.Context, period string) (*CollectionsResult, error) {
	p, err := s.parsePeriod(period)
	if err != nil {
		return nil, s.observe("get_collections", err)
	}
	rep, err := s.ledger.Reports.Collections(ctx, p)
	if err != nil {
		return nil, s.observe("get_collections", err)
	}
	return &CollectionsResult{Currency: s.opts.Currency, Report: rep}, nil
}

func (s *appService) GetDashboard(ctx context.Context, asOf string) (*DashboardResult, error) {
	day, err := parseDate("as_of", asOf)
	if err != nil {
		return nil, s.observe("get_dashboard", err)
	}
	d, err := s.ledger.Reports.Dashboard(ctx, day)
	if err != nil {
		return nil, s.observe("get_dashboard", err)
	}
	return &DashboardResult{Currency: s.opts.Currency, Dashboard: d}, nil
}

func (s *appService) ExportCSV(ctx context.Context, table string, w io.Writer) error {
	return s.observe("export_csv", core.ExportCSV(ctx, s.store, table, w))
}
