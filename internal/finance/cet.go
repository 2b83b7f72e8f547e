package finance

import (
	"math"

	"github.com/shopspring/decimal"

	"financing-api/internal/model"
)

// Solver bounds. The periodic rate is searched in [0, 100%] per month; any
// real financing falls well inside that interval and bounding the search
// avoids divergence on malformed cash flows.
const (
	cetMaxIterations = 100
	cetRateLow       = 0.0
	cetRateHigh      = 1.0
	cetRelativeTol   = 1e-6
)

// BuildCashFlows assembles the borrower-perspective cash-flow vector for the
// CET computation: the disbursed amount (principal minus upfront fees) as a
// negative flow at period 0, followed by each scheduled installment at
// periods 1..N.
func BuildCashFlows(disbursed decimal.Decimal, entries []model.PaymentScheduleEntry) []float64 {
	flows := make([]float64, 0, len(entries)+1)
	flows = append(flows, -disbursed.InexactFloat64())
	for _, entry := range entries {
		flows = append(flows, entry.Payment.InexactFloat64())
	}
	return flows
}

// SolveCET finds the periodic rate r with NPV(r) = 0 for the given cash-flow
// vector and returns the annualized effective rate as a percentage,
// CET = (1+r)^12 - 1. Newton-Raphson runs first; whenever it stalls or steps
// outside the bounded interval the solver falls back to bisection. The
// iteration budget is fixed; exhausting it returns CETConvergenceError
// instead of an unreliable value.
func SolveCET(flows []float64) (decimal.Decimal, error) {
	if len(flows) < 2 {
		return decimal.Zero, &model.InvalidInputError{Field: "cash_flows", Reason: "at least one installment is required"}
	}

	tol := cetRelativeTol * math.Abs(flows[0])
	if tol == 0 {
		tol = cetRelativeTol
	}

	if rate, ok := newton(flows, tol); ok {
		return annualize(rate), nil
	}
	rate, err := bisect(flows, tol)
	if err != nil {
		return decimal.Zero, err
	}
	return annualize(rate), nil
}

func npv(flows []float64, rate float64) float64 {
	var sum float64
	for t, cf := range flows {
		sum += cf / math.Pow(1+rate, float64(t))
	}
	return sum
}

func npvDerivative(flows []float64, rate float64) float64 {
	var sum float64
	for t, cf := range flows {
		if t == 0 {
			continue
		}
		sum -= float64(t) * cf / math.Pow(1+rate, float64(t+1))
	}
	return sum
}

func newton(flows []float64, tol float64) (float64, bool) {
	rate := 0.01
	for i := 0; i < cetMaxIterations; i++ {
		value := npv(flows, rate)
		if math.Abs(value) < tol {
			return rate, true
		}
		derivative := npvDerivative(flows, rate)
		if derivative == 0 || math.IsNaN(derivative) {
			return 0, false
		}
		next := rate - value/derivative
		if next < cetRateLow || next > cetRateHigh || math.IsNaN(next) {
			return 0, false
		}
		rate = next
	}
	return 0, false
}

func bisect(flows []float64, tol float64) (float64, error) {
	low, high := cetRateLow, cetRateHigh
	valueLow := npv(flows, low)
	if math.Abs(valueLow) < tol {
		return low, nil
	}
	valueHigh := npv(flows, high)
	if (valueLow > 0) == (valueHigh > 0) {
		// No sign change inside the bounded interval; the root, if any,
		// lies outside the sane search range.
		return 0, &model.CETConvergenceError{Iterations: 0, LastRate: high}
	}

	var mid float64
	for i := 0; i < 2*cetMaxIterations; i++ {
		mid = (low + high) / 2
		value := npv(flows, mid)
		if math.Abs(value) < tol {
			return mid, nil
		}
		if (value > 0) == (valueLow > 0) {
			low, valueLow = mid, value
		} else {
			high = mid
		}
	}
	return 0, &model.CETConvergenceError{Iterations: 2 * cetMaxIterations, LastRate: mid}
}

func annualize(monthlyRate float64) decimal.Decimal {
	annual := math.Pow(1+monthlyRate, monthsPerYear) - 1
	return decimal.NewFromFloat(annual * percent).RoundBank(2)
}
