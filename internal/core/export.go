package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ExportTables lists the tables ExportCSV accepts.
var ExportTables = []string{"customers", "plans", "subscriptions", "accruals", "payments", "allocations", "adjustments"}

// ExportCSV writes one table as CSV, header first, in store order.
// Cells that could be read as spreadsheet formulas are prefixed with a quote.
func ExportCSV(ctx context.Context, store Store, table string, w io.Writer) error {
	cw := csv.NewWriter(w)
	err := store.View(ctx, func(tx Tx) error {
		switch table {
		case "customers":
			rows, err := tx.ListCustomers(ctx, CustomerFilter{})
			if err != nil {
				return err
			}
			_ = cw.Write([]string{"id", "name", "tax_id", "contact_person", "email", "phone", "address", "active", "notes"})
			for _, c := range rows {
				_ = cw.Write([]string{itoa(c.ID), csvSafe(c.Name), csvSafe(c.TaxID), csvSafe(c.ContactPerson),
					csvSafe(c.Email), csvSafe(c.Phone), csvSafe(c.Address), strconv.FormatBool(c.Active), csvSafe(c.Notes)})
			}
		case "plans":
			rows, err := tx.ListPlans(ctx, PlanFilter{})
			if err != nil {
				return err
			}
			_ = cw.Write([]string{"id", "name", "description", "base_amount", "periodicity", "active"})
			for _, p := range rows {
				_ = cw.Write([]string{itoa(p.ID), csvSafe(p.Name), csvSafe(p.Description), money(p.BaseAmount),
					string(p.Periodicity), strconv.FormatBool(p.Active)})
			}
		case "subscriptions":
			rows, err := tx.ListSubscriptions(ctx, SubscriptionFilter{})
			if err != nil {
				return err
			}
			_ = cw.Write([]string{"id", "customer_id", "plan_id", "start_date", "end_date", "price_override", "active", "notes"})
			for _, s := range rows {
				end, override := "", ""
				if s.EndDate != nil {
					end = isoDate(*s.EndDate)
				}
				if s.PriceOverride != nil {
					override = money(*s.PriceOverride)
				}
				_ = cw.Write([]string{itoa(s.ID), itoa(s.CustomerID), itoa(s.PlanID), isoDate(s.StartDate), end, override,
					strconv.FormatBool(s.Active), csvSafe(s.Notes)})
			}
		case "accruals":
			rows, err := tx.ListAccruals(ctx, AccrualFilter{})
			if err != nil {
				return err
			}
			_ = cw.Write([]string{"id", "customer_id", "subscription_id", "plan_id", "period", "amount", "accrual_date", "status"})
			for _, a := range rows {
				_ = cw.Write([]string{itoa(a.ID), itoa(a.CustomerID), itoa(a.SubscriptionID), itoa(a.PlanID),
					a.Period.String(), money(a.Amount), isoDate(a.AccrualDate), string(a.Status)})
			}
		case "payments":
			rows, err := tx.ListPayments(ctx, PaymentFilter{})
			if err != nil {
				return err
			}
			_ = cw.Write([]string{"id", "customer_id", "payment_date", "amount", "remaining", "method", "reference", "notes"})
			for _, p := range rows {
				_ = cw.Write([]string{itoa(p.ID), itoa(p.CustomerID), isoDate(p.PaymentDate), money(p.Amount), money(p.Remaining),
					csvSafe(p.Method), csvSafe(p.Reference), csvSafe(p.Notes)})
			}
		case "allocations":
			rows, err := tx.ListAllocations(ctx, AllocationFilter{})
			if err != nil {
				return err
			}
			_ = cw.Write([]string{"id", "payment_id", "accrual_id", "customer_id", "amount", "allocated_on"})
			for _, a := range rows {
				_ = cw.Write([]string{itoa(a.ID), itoa(a.PaymentID), itoa(a.AccrualID), itoa(a.CustomerID),
					money(a.Amount), isoDate(a.AllocatedOn)})
			}
		case "adjustments":
			rows, err := tx.ListAdjustments(ctx, AdjustmentFilter{})
			if err != nil {
				return err
			}
			_ = cw.Write([]string{"id", "customer_id", "accrual_id", "kind", "amount", "effect", "date", "reason"})
			for _, a := range rows {
				ref := ""
				if a.AccrualID != nil {
					ref = itoa(*a.AccrualID)
				}
				_ = cw.Write([]string{itoa(a.ID), itoa(a.CustomerID), ref, string(a.Kind), money(a.Amount),
					money(a.Effect()), isoDate(a.Date), csvSafe(a.Reason)})
			}
		default:
			return &ValidationError{Field: "table", Message: fmt.Sprintf("unknown table %q", table)}
		}
		return nil
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func itoa(i int) string { return strconv.Itoa(i) }

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func isoDate(t time.Time) string { return t.Format("2006-01-02") }

func csvSafe(s string) string {
	if len(s) == 0 {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}
