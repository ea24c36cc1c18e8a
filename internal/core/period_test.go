package core_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"subscription-ledger/internal/core"
)

func TestPeriod_ParseAndBounds(t *testing.T) {
	tests := []struct {
		in        string
		wantEnd   string
		expectErr bool
	}{
		{in: "2024-01", wantEnd: "2024-01-31"},
		{in: "2024-02", wantEnd: "2024-02-29"},
		{in: "2023-02", wantEnd: "2023-02-28"},
		{in: " 2024-12 ", wantEnd: "2024-12-31"},
		{in: "2024-13", expectErr: true},
		{in: "2024", expectErr: true},
		{in: "abcd-01", expectErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := core.ParsePeriod(tt.in)
			if tt.expectErr {
				var ve *core.ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePeriod: %v", err)
			}
			if got := p.End().Format("2006-01-02"); got != tt.wantEnd {
				t.Errorf("expected end %s, got %s", tt.wantEnd, got)
			}
			if p.Start().Day() != 1 {
				t.Errorf("expected start on day 1, got %d", p.Start().Day())
			}
		})
	}
}

func TestPeriod_TextRoundTrip(t *testing.T) {
	p, _ := core.NewPeriod(2025, 3)
	b, _ := p.MarshalText()
	if string(b) != "2025-03" {
		t.Fatalf("expected 2025-03, got %s", b)
	}
	var back core.Period
	if err := back.UnmarshalText(b); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if back != p {
		t.Errorf("expected %v, got %v", p, back)
	}
}

func TestPeriodicity_DueIn(t *testing.T) {
	start := core.Period{Year: 2024, Month: time.November}
	tests := []struct {
		name string
		per  core.Periodicity
		at   core.Period
		want bool
	}{
		{"monthly start", core.Monthly, start, true},
		{"monthly later", core.Monthly, core.Period{Year: 2025, Month: time.April}, true},
		{"before start", core.Monthly, core.Period{Year: 2024, Month: time.October}, false},
		{"quarterly start", core.Quarterly, start, true},
		{"quarterly +1", core.Quarterly, core.Period{Year: 2024, Month: time.December}, false},
		{"quarterly +3", core.Quarterly, core.Period{Year: 2025, Month: time.February}, true},
		{"yearly +11", core.Yearly, core.Period{Year: 2025, Month: time.October}, false},
		{"yearly +12", core.Yearly, core.Period{Year: 2025, Month: time.November}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.per.DueIn(start, tt.at); got != tt.want {
				t.Errorf("DueIn(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestAdjustment_EffectSign(t *testing.T) {
	ten := decimal.NewFromInt(10)
	tests := []struct {
		kind   core.AdjustmentKind
		amount decimal.Decimal
		want   string
	}{
		{core.AdjustmentBonus, ten, "-10"},
		{core.AdjustmentBonus, ten.Neg(), "-10"},
		{core.AdjustmentCreditNote, ten, "-10"},
		{core.AdjustmentSurcharge, ten.Neg(), "10"},
		{core.AdjustmentDebitNote, ten, "10"},
		{core.AdjustmentOther, ten.Neg(), "-10"},
		{core.AdjustmentOther, ten, "10"},
	}
	for _, tt := range tests {
		adj := core.Adjustment{Kind: tt.kind, Amount: tt.amount}
		if got := adj.Effect().String(); got != tt.want {
			t.Errorf("%s %s: expected effect %s, got %s", tt.kind, tt.amount, tt.want, got)
		}
	}
}

func TestPayment_AllocationState(t *testing.T) {
	p := core.Payment{Amount: decimal.NewFromInt(100), Remaining: decimal.NewFromInt(100)}
	if p.AllocationState() != core.PaymentUnallocated {
		t.Errorf("expected UNALLOCATED, got %s", p.AllocationState())
	}
	p.Remaining = decimal.NewFromInt(30)
	if p.AllocationState() != core.PaymentPartiallyAllocated {
		t.Errorf("expected PARTIALLY_ALLOCATED, got %s", p.AllocationState())
	}
	p.Remaining = decimal.Zero
	if p.AllocationState() != core.PaymentFullyAllocated {
		t.Errorf("expected ALLOCATED, got %s", p.AllocationState())
	}
}
