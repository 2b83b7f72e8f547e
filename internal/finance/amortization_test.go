package finance

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"financing-api/internal/model"
)

var scheduleStart = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", value, err)
	}
	return d
}

func TestComputeSchedulePrice(t *testing.T) {
	result, err := ComputeSchedule(dec(t, "50000"), dec(t, "12"), 48, model.SystemPrice, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Entries) != 48 {
		t.Fatalf("expected 48 entries, got %d", len(result.Entries))
	}

	// Constant installment across all periods except the clamped last one.
	installment := dec(t, "1301.68")
	for _, entry := range result.Entries[:47] {
		if !entry.Payment.Equal(installment) {
			t.Fatalf("entry %d: expected payment %s, got %s", entry.Number, installment, entry.Payment)
		}
	}
	if !result.Entries[47].Payment.Equal(dec(t, "1301.81")) {
		t.Errorf("expected last payment 1301.81, got %s", result.Entries[47].Payment)
	}

	// Sum of amortization portions equals the principal exactly thanks to
	// the final-period clamp.
	sumAmortization := decimal.Zero
	sumPayments := decimal.Zero
	for _, entry := range result.Entries {
		sumAmortization = sumAmortization.Add(entry.Amortization)
		sumPayments = sumPayments.Add(entry.Payment)
	}
	if !sumAmortization.Equal(dec(t, "50000")) {
		t.Errorf("expected amortization sum 50000, got %s", sumAmortization)
	}
	if !sumPayments.Equal(result.TotalPaid) {
		t.Errorf("schedule sum %s does not match TotalPaid %s", sumPayments, result.TotalPaid)
	}

	if !result.TotalPaid.Equal(dec(t, "62480.77")) {
		t.Errorf("expected total paid 62480.77, got %s", result.TotalPaid)
	}
	if !result.TotalInterest.Equal(dec(t, "12480.77")) {
		t.Errorf("expected total interest 12480.77, got %s", result.TotalInterest)
	}
	if !result.Entries[47].RemainingBalance.IsZero() {
		t.Errorf("expected zero final balance, got %s", result.Entries[47].RemainingBalance)
	}
}

func TestComputeSchedulePriceZeroRate(t *testing.T) {
	result, err := ComputeSchedule(dec(t, "1200"), decimal.Zero, 12, model.SystemPrice, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, entry := range result.Entries {
		if !entry.Payment.Equal(dec(t, "100")) {
			t.Fatalf("entry %d: expected payment 100, got %s", entry.Number, entry.Payment)
		}
		if !entry.Interest.IsZero() {
			t.Fatalf("entry %d: expected zero interest, got %s", entry.Number, entry.Interest)
		}
	}
	if !result.TotalInterest.IsZero() {
		t.Errorf("expected zero total interest, got %s", result.TotalInterest)
	}
}

func TestComputeScheduleSAC(t *testing.T) {
	result, err := ComputeSchedule(dec(t, "50000"), dec(t, "12"), 48, model.SystemSAC, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	amortization := dec(t, "1041.67")
	for _, entry := range result.Entries[:47] {
		if !entry.Amortization.Equal(amortization) {
			t.Fatalf("entry %d: expected amortization %s, got %s", entry.Number, amortization, entry.Amortization)
		}
	}

	first := result.Entries[0]
	last := result.Entries[47]
	if !first.Payment.Equal(dec(t, "1516.11")) {
		t.Errorf("expected first payment 1516.11, got %s", first.Payment)
	}
	if !last.Payment.Equal(dec(t, "1051.39")) {
		t.Errorf("expected last payment 1051.39, got %s", last.Payment)
	}

	// Installments strictly decrease while the rate is positive.
	for i := 1; i < len(result.Entries); i++ {
		if !result.Entries[i].Payment.LessThan(result.Entries[i-1].Payment) {
			t.Fatalf("entry %d: payment %s not smaller than previous %s",
				result.Entries[i].Number, result.Entries[i].Payment, result.Entries[i-1].Payment)
		}
	}

	if !result.TotalInterest.Equal(dec(t, "11623.74")) {
		t.Errorf("expected total interest 11623.74, got %s", result.TotalInterest)
	}

	price, err := ComputeSchedule(dec(t, "50000"), dec(t, "12"), 48, model.SystemPrice, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.TotalInterest.LessThan(price.TotalInterest) {
		t.Errorf("SAC interest %s should be below PRICE interest %s", result.TotalInterest, price.TotalInterest)
	}
}

func TestComputeScheduleDeterministic(t *testing.T) {
	first, err := ComputeSchedule(dec(t, "75000"), dec(t, "15.5"), 36, model.SystemPrice, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ComputeSchedule(dec(t, "75000"), dec(t, "15.5"), 36, model.SystemPrice, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.TotalPaid.Equal(second.TotalPaid) || !first.TotalInterest.Equal(second.TotalInterest) {
		t.Errorf("identical inputs produced different totals: %s/%s vs %s/%s",
			first.TotalPaid, first.TotalInterest, second.TotalPaid, second.TotalInterest)
	}
}

func TestComputeScheduleInvalidInputs(t *testing.T) {
	cases := []struct {
		name      string
		principal string
		rate      string
		term      int
		system    model.AmortizationSystem
		field     string
	}{
		{"zero term", "1000", "10", 0, model.SystemPrice, "term_months"},
		{"negative term", "1000", "10", -6, model.SystemSAC, "term_months"},
		{"zero principal", "0", "10", 12, model.SystemPrice, "principal"},
		{"negative principal", "-500", "10", 12, model.SystemPrice, "principal"},
		{"unsupported system", "1000", "10", 12, model.AmortizationSystem("AMERICAN"), "system"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeSchedule(dec(t, tc.principal), dec(t, tc.rate), tc.term, tc.system, scheduleStart)
			var invalidInput *model.InvalidInputError
			if !errors.As(err, &invalidInput) {
				t.Fatalf("expected InvalidInputError, got %v", err)
			}
			if invalidInput.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, invalidInput.Field)
			}
		})
	}
}

func TestMonthlyRateCompoundConversion(t *testing.T) {
	rate := MonthlyRate(dec(t, "12"))
	// (1.12)^(1/12)-1, not 12%/12.
	if rate < 0.009488 || rate > 0.009489 {
		t.Errorf("expected compound monthly rate near 0.9489%%, got %f", rate)
	}
	if MonthlyRate(decimal.Zero) != 0 {
		t.Errorf("expected zero monthly rate for zero annual rate")
	}
}
