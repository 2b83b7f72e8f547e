// Package finance holds the pure computational core of the proposal engine:
// amortization schedule generation (PRICE and SAC) and the effective-rate
// solver. Functions here have no side effects and are deterministic for
// identical inputs, so they are safe to call in parallel across proposals
// and to re-run for idempotent recomputation.
package finance

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"financing-api/internal/model"
)

// monthsPerYear and percent are the fixed conversion constants for nominal
// annual rates expressed as percentages.
const (
	monthsPerYear = 12
	percent       = 100
)

// ScheduleResult is the output of ComputeSchedule.
type ScheduleResult struct {
	Entries       []model.PaymentScheduleEntry
	TotalPaid     decimal.Decimal
	TotalInterest decimal.Decimal
}

// MonthlyRate converts a nominal annual rate (percent) to an effective
// monthly rate using compound conversion:
//
//	monthlyRate = (1 + annualRate/100)^(1/12) - 1
//
// PRICE and SAC installments are computed on this monthly rate, not on
// annualRate/12. The conversion is deliberately explicit and centralized so
// the schedule and the CET annualization stay consistent.
func MonthlyRate(annualRatePercent decimal.Decimal) float64 {
	annual := annualRatePercent.InexactFloat64()
	if annual == 0 {
		return 0
	}
	return math.Pow(1+annual/percent, 1.0/monthsPerYear) - 1
}

// ComputeSchedule produces the full installment schedule for the given
// principal, nominal annual rate (percent), term and amortization system.
// Due dates are offset month by month from start. All currency rounding is
// round half to even, applied once at the end of each period's computation;
// the final period's amortization is clamped so the remaining balance
// reaches exactly zero, absorbing rounding drift.
func ComputeSchedule(principal, annualRatePercent decimal.Decimal, termMonths int, system model.AmortizationSystem, start time.Time) (ScheduleResult, error) {
	if termMonths <= 0 {
		return ScheduleResult{}, &model.InvalidInputError{Field: "term_months", Reason: "term must be at least 1 month"}
	}
	if !principal.IsPositive() {
		return ScheduleResult{}, &model.InvalidInputError{Field: "principal", Reason: "principal must be greater than zero"}
	}
	if !system.Valid() {
		return ScheduleResult{}, &model.InvalidInputError{Field: "system", Reason: "amortization system must be PRICE or SAC"}
	}

	monthlyRate := decimal.NewFromFloat(MonthlyRate(annualRatePercent))
	term := decimal.NewFromInt(int64(termMonths))

	switch system {
	case model.SystemPrice:
		return priceSchedule(principal, monthlyRate, term, termMonths, start), nil
	case model.SystemSAC:
		return sacSchedule(principal, monthlyRate, term, termMonths, start), nil
	}
	// Valid() already filtered everything else.
	return ScheduleResult{}, &model.InvalidInputError{Field: "system", Reason: "amortization system must be PRICE or SAC"}
}

// priceSchedule implements the French amortization system: a constant total
// installment A = P*i/(1-(1+i)^-n), declining interest portion, growing
// amortization portion.
func priceSchedule(principal, monthlyRate, term decimal.Decimal, termMonths int, start time.Time) ScheduleResult {
	var installment decimal.Decimal
	if monthlyRate.IsZero() {
		installment = principal.Div(term).RoundBank(2)
	} else {
		p := principal.InexactFloat64()
		i := monthlyRate.InexactFloat64()
		a := p * i / (1 - math.Pow(1+i, -float64(termMonths)))
		installment = decimal.NewFromFloat(a).RoundBank(2)
	}

	result := ScheduleResult{
		Entries:       make([]model.PaymentScheduleEntry, 0, termMonths),
		TotalPaid:     decimal.Zero,
		TotalInterest: decimal.Zero,
	}

	balance := principal
	for n := 1; n <= termMonths; n++ {
		interest := balance.Mul(monthlyRate).RoundBank(2)
		amortization := installment.Sub(interest)
		payment := installment
		if n == termMonths {
			// Clamp the last period so the balance closes at exactly zero.
			amortization = balance
			payment = amortization.Add(interest)
		}
		balance = balance.Sub(amortization)

		result.Entries = append(result.Entries, model.PaymentScheduleEntry{
			Number:           n,
			DueDate:          start.AddDate(0, n, 0),
			Amortization:     amortization,
			Interest:         interest,
			Payment:          payment,
			RemainingBalance: balance,
		})
		result.TotalPaid = result.TotalPaid.Add(payment)
		result.TotalInterest = result.TotalInterest.Add(interest)
	}

	return result
}

// sacSchedule implements the constant-amortization system: the amortization
// portion P/n is identical every period, interest declines with the balance,
// so the total installment strictly decreases while the rate is positive.
func sacSchedule(principal, monthlyRate, term decimal.Decimal, termMonths int, start time.Time) ScheduleResult {
	amortization := principal.Div(term).RoundBank(2)

	result := ScheduleResult{
		Entries:       make([]model.PaymentScheduleEntry, 0, termMonths),
		TotalPaid:     decimal.Zero,
		TotalInterest: decimal.Zero,
	}

	balance := principal
	for n := 1; n <= termMonths; n++ {
		interest := balance.Mul(monthlyRate).RoundBank(2)
		portion := amortization
		if n == termMonths {
			portion = balance
		}
		payment := portion.Add(interest)
		balance = balance.Sub(portion)

		result.Entries = append(result.Entries, model.PaymentScheduleEntry{
			Number:           n,
			DueDate:          start.AddDate(0, n, 0),
			Amortization:     portion,
			Interest:         interest,
			Payment:          payment,
			RemainingBalance: balance,
		})
		result.TotalPaid = result.TotalPaid.Add(payment)
		result.TotalInterest = result.TotalInterest.Add(interest)
	}

	return result
}
