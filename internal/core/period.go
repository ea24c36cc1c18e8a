package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is a calendar month billing cycle.
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod validates year and month and returns the Period.
func NewPeriod(year, month int) (Period, error) {
	if year < 1900 || year > 9999 {
		return Period{}, &ValidationError{Field: "year", Message: fmt.Sprintf("year %d out of range", year)}
	}
	if month < 1 || month > 12 {
		return Period{}, &ValidationError{Field: "month", Message: fmt.Sprintf("month %d out of range", month)}
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// ParsePeriod parses a "YYYY-MM" string.
func ParsePeriod(s string) (Period, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return Period{}, &ValidationError{Field: "period", Message: fmt.Sprintf("invalid period %q, expected YYYY-MM", s)}
	}
	y, err := strconv.Atoi(parts[0])
	if err != nil {
		return Period{}, &ValidationError{Field: "period", Message: fmt.Sprintf("invalid year in %q", s)}
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return Period{}, &ValidationError{Field: "period", Message: fmt.Sprintf("invalid month in %q", s)}
	}
	return NewPeriod(y, m)
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Start is the first day of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the last day of the period. Accruals are dated on it.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

// Index is a monotonically increasing month number, useful for ordering and distance.
func (p Period) Index() int {
	return p.Year*12 + int(p.Month) - 1
}

func (p Period) Before(o Period) bool { return p.Index() < o.Index() }

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// MarshalText renders the period as "YYYY-MM".
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Periodicity is how often a plan bills.
type Periodicity string

const (
	Monthly   Periodicity = "monthly"
	Quarterly Periodicity = "quarterly"
	Yearly    Periodicity = "yearly"
)

// ParsePeriodicity accepts the canonical names; empty means monthly.
func ParsePeriodicity(s string) (Periodicity, error) {
	switch Periodicity(strings.ToLower(strings.TrimSpace(s))) {
	case "", Monthly:
		return Monthly, nil
	case Quarterly:
		return Quarterly, nil
	case Yearly:
		return Yearly, nil
	}
	return "", &ValidationError{Field: "periodicity", Message: fmt.Sprintf("unknown periodicity %q", s)}
}

// Months is the length of one billing cycle in months.
func (p Periodicity) Months() int {
	switch p {
	case Quarterly:
		return 3
	case Yearly:
		return 12
	default:
		return 1
	}
}

// DueIn reports whether a subscription that started in first bills in period p.
// Cycles are anchored on the start month.
func (p Periodicity) DueIn(first, period Period) bool {
	diff := period.Index() - first.Index()
	if diff < 0 {
		return false
	}
	return diff%p.Months() == 0
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Message: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s)}
	}
	return t, nil
}
