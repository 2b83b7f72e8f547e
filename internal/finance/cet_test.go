package finance

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"financing-api/internal/model"
)

func priceFlows(t *testing.T, principal, rate string, term int, fee string) []float64 {
	t.Helper()
	result, err := ComputeSchedule(dec(t, principal), dec(t, rate), term, model.SystemPrice, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return BuildCashFlows(dec(t, principal).Sub(dec(t, fee)), result.Entries)
}

func TestSolveCETMatchesNominalRateWithoutFees(t *testing.T) {
	cet, err := SolveCET(priceFlows(t, "50000", "12", 48, "0"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// With no upfront fees the effective cost equals the nominal rate.
	if !cet.Equal(dec(t, "12")) {
		t.Errorf("expected CET 12%%, got %s", cet)
	}

	cet, err = SolveCET(priceFlows(t, "10000", "18", 24, "0"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cet.Equal(dec(t, "18")) {
		t.Errorf("expected CET 18%%, got %s", cet)
	}
}

func TestSolveCETIncludesUpfrontFee(t *testing.T) {
	cet, err := SolveCET(priceFlows(t, "50000", "12", 48, "1000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cet.Equal(dec(t, "13.21")) {
		t.Errorf("expected CET 13.21%%, got %s", cet)
	}
	if !cet.GreaterThan(dec(t, "12")) {
		t.Errorf("CET with fees must exceed the nominal rate, got %s", cet)
	}
}

func TestSolveCETIdempotent(t *testing.T) {
	flows := priceFlows(t, "50000", "12", 48, "1000")
	first, err := SolveCET(flows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := SolveCET(flows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Equal(second) {
		t.Errorf("solver not idempotent: %s vs %s", first, second)
	}
}

func TestSolveCETZeroRate(t *testing.T) {
	result, err := ComputeSchedule(dec(t, "1200"), decimal.Zero, 12, model.SystemPrice, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cet, err := SolveCET(BuildCashFlows(dec(t, "1200"), result.Entries))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cet.IsZero() {
		t.Errorf("expected zero CET for zero-interest flows, got %s", cet)
	}
}

func TestSolveCETNoRootInBounds(t *testing.T) {
	// All-positive flows have no NPV root: the disbursement is missing.
	_, err := SolveCET([]float64{1000, 10, 10})
	var convergence *model.CETConvergenceError
	if !errors.As(err, &convergence) {
		t.Fatalf("expected CETConvergenceError, got %v", err)
	}
}

func TestSolveCETRequiresInstallments(t *testing.T) {
	_, err := SolveCET([]float64{-1000})
	var invalidInput *model.InvalidInputError
	if !errors.As(err, &invalidInput) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

func TestBuildCashFlows(t *testing.T) {
	result, err := ComputeSchedule(dec(t, "10000"), dec(t, "18"), 24, model.SystemSAC, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flows := BuildCashFlows(dec(t, "9800"), result.Entries)

	if len(flows) != 25 {
		t.Fatalf("expected 25 flows, got %d", len(flows))
	}
	if flows[0] != -9800 {
		t.Errorf("expected disbursement -9800 at period 0, got %f", flows[0])
	}
	for i, entry := range result.Entries {
		if flows[i+1] != entry.Payment.InexactFloat64() {
			t.Errorf("flow %d does not match installment %s", i+1, entry.Payment)
		}
	}
}
