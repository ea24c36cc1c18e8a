package sqlite

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"subscription-ledger/internal/core"
)

// Calendar dates are stored as ISO text so they survive the driver without a
// time zone. Money is stored as decimal text.
const dateLayout = "2006-01-02"

type customerRow struct {
	ID            int    `gorm:"primaryKey;autoIncrement"`
	Name          string `gorm:"type:text;not null;index"`
	TaxID         string `gorm:"type:text"`
	ContactPerson string `gorm:"type:text"`
	Email         string `gorm:"type:text"`
	Phone         string `gorm:"type:text"`
	Address       string `gorm:"type:text"`
	Notes         string `gorm:"type:text"`
	Active        bool   `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (customerRow) TableName() string { return "customers" }

type planRow struct {
	ID          int             `gorm:"primaryKey;autoIncrement"`
	Name        string          `gorm:"type:text;not null;index"`
	Description string          `gorm:"type:text"`
	BaseAmount  decimal.Decimal `gorm:"type:text;not null"`
	Periodicity string          `gorm:"type:text;not null"`
	Active      bool            `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (planRow) TableName() string { return "plans" }

type subscriptionRow struct {
	ID            int                 `gorm:"primaryKey;autoIncrement"`
	CustomerID    int                 `gorm:"not null;index"`
	PlanID        int                 `gorm:"not null;index"`
	StartDate     string              `gorm:"type:text;not null"`
	EndDate       *string             `gorm:"type:text"`
	PriceOverride decimal.NullDecimal `gorm:"type:text"`
	Active        bool                `gorm:"not null"`
	Notes         string              `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (subscriptionRow) TableName() string { return "subscriptions" }

type accrualRow struct {
	ID             int             `gorm:"primaryKey;autoIncrement"`
	CustomerID     int             `gorm:"not null;index"`
	SubscriptionID int             `gorm:"not null;uniqueIndex:ux_accruals_subscription_period,priority:1"`
	PlanID         int             `gorm:"not null;index"`
	Year           int             `gorm:"not null;uniqueIndex:ux_accruals_subscription_period,priority:2"`
	Month          int             `gorm:"not null;uniqueIndex:ux_accruals_subscription_period,priority:3"`
	Amount         decimal.Decimal `gorm:"type:text;not null"`
	AccrualDate    string          `gorm:"type:text;not null;index"`
	Status         string          `gorm:"type:text;not null"`
	Notes          string          `gorm:"type:text"`
	CreatedAt      time.Time
}

func (accrualRow) TableName() string { return "accruals" }

type paymentRow struct {
	ID          int             `gorm:"primaryKey;autoIncrement"`
	CustomerID  int             `gorm:"not null;index"`
	Amount      decimal.Decimal `gorm:"type:text;not null"`
	Remaining   decimal.Decimal `gorm:"type:text;not null"`
	PaymentDate string          `gorm:"type:text;not null;index"`
	Method      string          `gorm:"type:text"`
	Reference   string          `gorm:"type:text"`
	Notes       string          `gorm:"type:text"`
	CreatedAt   time.Time
}

func (paymentRow) TableName() string { return "payments" }

type allocationRow struct {
	ID          int             `gorm:"primaryKey;autoIncrement"`
	PaymentID   int             `gorm:"not null;index"`
	AccrualID   int             `gorm:"not null;index"`
	CustomerID  int             `gorm:"not null;index"`
	Amount      decimal.Decimal `gorm:"type:text;not null"`
	AllocatedOn string          `gorm:"type:text;not null"`
	CreatedAt   time.Time
}

func (allocationRow) TableName() string { return "allocations" }

type adjustmentRow struct {
	ID         int             `gorm:"primaryKey;autoIncrement"`
	CustomerID int             `gorm:"not null;index"`
	AccrualID  *int            `gorm:"index"`
	Kind       string          `gorm:"type:text;not null"`
	Amount     decimal.Decimal `gorm:"type:text;not null"`
	Date       string          `gorm:"type:text;not null"`
	Reason     string          `gorm:"type:text"`
	CreatedAt  time.Time
}

func (adjustmentRow) TableName() string { return "adjustments" }

func allModels() []any {
	return []any{
		&customerRow{}, &planRow{}, &subscriptionRow{},
		&accrualRow{}, &paymentRow{}, &allocationRow{}, &adjustmentRow{},
	}
}

// ── Conversions ───────────────────────────────────────────────────────────────

func fmtDate(t time.Time) string { return t.Format(dateLayout) }

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored date %q: %w", s, err)
	}
	return t, nil
}

func customerToRow(c *core.Customer) customerRow {
	return customerRow{
		ID: c.ID, Name: c.Name, TaxID: c.TaxID, ContactPerson: c.ContactPerson, Email: c.Email,
		Phone: c.Phone, Address: c.Address, Notes: c.Notes, Active: c.Active,
		CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
	}
}

func (r customerRow) toCore() core.Customer {
	return core.Customer{
		ID: r.ID, Name: r.Name, TaxID: r.TaxID, ContactPerson: r.ContactPerson, Email: r.Email,
		Phone: r.Phone, Address: r.Address, Notes: r.Notes, Active: r.Active,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func planToRow(p *core.Plan) planRow {
	return planRow{
		ID: p.ID, Name: p.Name, Description: p.Description, BaseAmount: p.BaseAmount,
		Periodicity: string(p.Periodicity), Active: p.Active, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (r planRow) toCore() core.Plan {
	return core.Plan{
		ID: r.ID, Name: r.Name, Description: r.Description, BaseAmount: r.BaseAmount,
		Periodicity: core.Periodicity(r.Periodicity), Active: r.Active, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func subscriptionToRow(s *core.Subscription) subscriptionRow {
	row := subscriptionRow{
		ID: s.ID, CustomerID: s.CustomerID, PlanID: s.PlanID, StartDate: fmtDate(s.StartDate),
		Active: s.Active, Notes: s.Notes, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}
	if s.EndDate != nil {
		end := fmtDate(*s.EndDate)
		row.EndDate = &end
	}
	if s.PriceOverride != nil {
		row.PriceOverride = decimal.NewNullDecimal(*s.PriceOverride)
	}
	return row
}

func (r subscriptionRow) toCore() (core.Subscription, error) {
	start, err := parseDate(r.StartDate)
	if err != nil {
		return core.Subscription{}, err
	}
	s := core.Subscription{
		ID: r.ID, CustomerID: r.CustomerID, PlanID: r.PlanID, StartDate: start,
		Active: r.Active, Notes: r.Notes, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.EndDate != nil {
		end, err := parseDate(*r.EndDate)
		if err != nil {
			return core.Subscription{}, err
		}
		s.EndDate = &end
	}
	if r.PriceOverride.Valid {
		v := r.PriceOverride.Decimal
		s.PriceOverride = &v
	}
	return s, nil
}

func accrualToRow(a *core.Accrual) accrualRow {
	return accrualRow{
		ID: a.ID, CustomerID: a.CustomerID, SubscriptionID: a.SubscriptionID, PlanID: a.PlanID,
		Year: a.Period.Year, Month: int(a.Period.Month), Amount: a.Amount, AccrualDate: fmtDate(a.AccrualDate),
		Status: string(a.Status), Notes: a.Notes, CreatedAt: a.CreatedAt,
	}
}

func (r accrualRow) toCore() (core.Accrual, error) {
	day, err := parseDate(r.AccrualDate)
	if err != nil {
		return core.Accrual{}, err
	}
	return core.Accrual{
		ID: r.ID, CustomerID: r.CustomerID, SubscriptionID: r.SubscriptionID, PlanID: r.PlanID,
		Period: core.Period{Year: r.Year, Month: time.Month(r.Month)}, Amount: r.Amount, AccrualDate: day,
		Status: core.AccrualStatus(r.Status), Notes: r.Notes, CreatedAt: r.CreatedAt,
	}, nil
}

func paymentToRow(p *core.Payment) paymentRow {
	return paymentRow{
		ID: p.ID, CustomerID: p.CustomerID, Amount: p.Amount, Remaining: p.Remaining,
		PaymentDate: fmtDate(p.PaymentDate), Method: p.Method, Reference: p.Reference, Notes: p.Notes,
		CreatedAt: p.CreatedAt,
	}
}

func (r paymentRow) toCore() (core.Payment, error) {
	day, err := parseDate(r.PaymentDate)
	if err != nil {
		return core.Payment{}, err
	}
	return core.Payment{
		ID: r.ID, CustomerID: r.CustomerID, Amount: r.Amount, Remaining: r.Remaining, PaymentDate: day,
		Method: r.Method, Reference: r.Reference, Notes: r.Notes, CreatedAt: r.CreatedAt,
	}, nil
}

func allocationToRow(a *core.Allocation) allocationRow {
	return allocationRow{
		ID: a.ID, PaymentID: a.PaymentID, AccrualID: a.AccrualID, CustomerID: a.CustomerID,
		Amount: a.Amount, AllocatedOn: fmtDate(a.AllocatedOn), CreatedAt: a.CreatedAt,
	}
}

func (r allocationRow) toCore() (core.Allocation, error) {
	day, err := parseDate(r.AllocatedOn)
	if err != nil {
		return core.Allocation{}, err
	}
	return core.Allocation{
		ID: r.ID, PaymentID: r.PaymentID, AccrualID: r.AccrualID, CustomerID: r.CustomerID,
		Amount: r.Amount, AllocatedOn: day, CreatedAt: r.CreatedAt,
	}, nil
}

func adjustmentToRow(a *core.Adjustment) adjustmentRow {
	return adjustmentRow{
		ID: a.ID, CustomerID: a.CustomerID, AccrualID: a.AccrualID, Kind: string(a.Kind),
		Amount: a.Amount, Date: fmtDate(a.Date), Reason: a.Reason, CreatedAt: a.CreatedAt,
	}
}

func (r adjustmentRow) toCore() (core.Adjustment, error) {
	day, err := parseDate(r.Date)
	if err != nil {
		return core.Adjustment{}, err
	}
	return core.Adjustment{
		ID: r.ID, CustomerID: r.CustomerID, AccrualID: r.AccrualID, Kind: core.AdjustmentKind(r.Kind),
		Amount: r.Amount, Date: day, Reason: r.Reason, CreatedAt: r.CreatedAt,
	}, nil
}
