package service

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"financing-api/internal/model"
)

const validTestCNPJ = "11.222.333/0001-81"

type mockLimitClient struct {
	remaining decimal.Decimal
	err       error
	calls     int
}

func (m *mockLimitClient) GetRemainingCredit(ctx context.Context, companyID uuid.UUID) (decimal.Decimal, error) {
	m.calls++
	if m.err != nil {
		return decimal.Zero, m.err
	}
	return m.remaining, nil
}

type mockApprovalClient struct {
	decision ApprovalDecision
	requests int
}

func (m *mockApprovalClient) RequestApproval(ctx context.Context, proposalID uuid.UUID, amount decimal.Decimal) (string, error) {
	m.requests++
	return "req-" + proposalID.String(), nil
}

func (m *mockApprovalClient) GetApprovalDecision(ctx context.Context, proposalID uuid.UUID) (ApprovalDecision, error) {
	return m.decision, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testProposal(cnpj string) *model.FinancingProposal {
	return &model.FinancingProposal{
		ID:          uuid.New(),
		CompanyID:   uuid.New(),
		CompanyCNPJ: cnpj,
	}
}

func amount(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", value, err)
	}
	return d
}

func TestValidCNPJ(t *testing.T) {
	cases := []struct {
		cnpj  string
		valid bool
	}{
		{"11.222.333/0001-81", true},
		{"11222333000181", true},
		{"04.252.011/0001-10", true},
		{"11.444.777/0001-61", true},
		{"11.222.333/0001-80", false}, // wrong check digit
		{"00000000000000", false},     // repeated digit
		{"1122233300018", false},      // too short
		{"11.222.333/0001-8X", false}, // non-digit
		{"", false},
	}

	for _, tc := range cases {
		if got := ValidCNPJ(tc.cnpj); got != tc.valid {
			t.Errorf("ValidCNPJ(%q) = %v, expected %v", tc.cnpj, got, tc.valid)
		}
	}
}

func TestCheckEligibilityInvalidCNPJ(t *testing.T) {
	gate := NewEligibilityGate(&mockLimitClient{remaining: amount(t, "1000000")}, &mockApprovalClient{decision: ApprovalDecisionPending}, amount(t, "50000"), testLogger())

	result, err := gate.CheckEligibility(context.Background(), testProposal("12.345.678/0001-00"), amount(t, "10000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != EligibilityDenied {
		t.Fatalf("expected denial, got outcome %v", result.Outcome)
	}
	if !strings.Contains(result.Reason, "CNPJ") {
		t.Errorf("expected CNPJ reason, got %q", result.Reason)
	}
}

func TestCheckEligibilityDeniedOverLimit(t *testing.T) {
	limits := &mockLimitClient{remaining: amount(t, "150000")}
	gate := NewEligibilityGate(limits, &mockApprovalClient{decision: ApprovalDecisionApproved}, amount(t, "50000"), testLogger())

	result, err := gate.CheckEligibility(context.Background(), testProposal(validTestCNPJ), amount(t, "200000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != EligibilityDenied {
		t.Fatalf("expected denial, got outcome %v", result.Outcome)
	}
	if !strings.Contains(result.Reason, "remaining credit") {
		t.Errorf("expected remaining-credit reason, got %q", result.Reason)
	}
}

func TestCheckEligibilityBelowThresholdAllowed(t *testing.T) {
	approvals := &mockApprovalClient{decision: ApprovalDecisionPending}
	gate := NewEligibilityGate(&mockLimitClient{remaining: amount(t, "100000")}, approvals, amount(t, "50000"), testLogger())

	result, err := gate.CheckEligibility(context.Background(), testProposal(validTestCNPJ), amount(t, "30000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != EligibilityAllowed {
		t.Fatalf("expected allowed, got outcome %v with reason %q", result.Outcome, result.Reason)
	}
	if approvals.requests != 0 {
		t.Errorf("no approval request expected below the threshold, got %d", approvals.requests)
	}
}

func TestCheckEligibilityRequestsApprovalAboveThreshold(t *testing.T) {
	approvals := &mockApprovalClient{decision: ApprovalDecisionPending}
	gate := NewEligibilityGate(&mockLimitClient{remaining: amount(t, "500000")}, approvals, amount(t, "50000"), testLogger())

	proposal := testProposal(validTestCNPJ)
	result, err := gate.CheckEligibility(context.Background(), proposal, amount(t, "60000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != EligibilityAwaitingApproval {
		t.Fatalf("expected awaiting approval, got outcome %v", result.Outcome)
	}
	if !strings.Contains(result.Reason, "Approval required above R$50000.00") {
		t.Errorf("unexpected reason %q", result.Reason)
	}
	if approvals.requests != 1 {
		t.Errorf("expected one approval request, got %d", approvals.requests)
	}

	// Retrying the check dispatches the (collaborator-deduplicated) request
	// again without failing.
	if _, err := gate.CheckEligibility(context.Background(), proposal, amount(t, "60000")); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if approvals.requests != 2 {
		t.Errorf("expected dispatch on every pending check, got %d", approvals.requests)
	}
}

func TestCheckEligibilityRejectedDecision(t *testing.T) {
	gate := NewEligibilityGate(&mockLimitClient{remaining: amount(t, "500000")}, &mockApprovalClient{decision: ApprovalDecisionRejected}, amount(t, "50000"), testLogger())

	result, err := gate.CheckEligibility(context.Background(), testProposal(validTestCNPJ), amount(t, "60000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != EligibilityDenied {
		t.Fatalf("expected denial, got outcome %v", result.Outcome)
	}
}

func TestCheckEligibilityApprovedDecisionAllows(t *testing.T) {
	approvals := &mockApprovalClient{decision: ApprovalDecisionApproved}
	gate := NewEligibilityGate(&mockLimitClient{remaining: amount(t, "500000")}, approvals, amount(t, "50000"), testLogger())

	result, err := gate.CheckEligibility(context.Background(), testProposal(validTestCNPJ), amount(t, "60000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != EligibilityAllowed {
		t.Fatalf("expected allowed, got outcome %v with reason %q", result.Outcome, result.Reason)
	}
	if approvals.requests != 0 {
		t.Errorf("no approval request expected once the decision is recorded, got %d", approvals.requests)
	}
}
