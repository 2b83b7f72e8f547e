package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"financing-api/internal/model"
)

// EligibilityOutcome is the result category of an eligibility check.
type EligibilityOutcome int

const (
	// EligibilityAllowed lets the transition proceed.
	EligibilityAllowed EligibilityOutcome = iota
	// EligibilityDenied blocks the transition with a definitive reason.
	EligibilityDenied
	// EligibilityAwaitingApproval blocks the transition until the human
	// approval decision arrives; the approval task has been requested.
	EligibilityAwaitingApproval
)

// EligibilityResult carries the outcome plus a reason suitable for direct
// display to the caller.
type EligibilityResult struct {
	Outcome EligibilityOutcome
	Reason  string
}

// EligibilityGate validates a proposal against the company spending limit
// and the approval workflow before a transition out of pending may complete.
// All checks are side-effect-free reads except the approval request
// dispatch, which the workflow collaborator deduplicates per proposal id.
type EligibilityGate struct {
	limits            CreditLimitClient
	approvals         ApprovalClient
	approvalThreshold decimal.Decimal
	logger            *logrus.Logger
}

func NewEligibilityGate(
	limits CreditLimitClient,
	approvals ApprovalClient,
	approvalThreshold decimal.Decimal,
	logger *logrus.Logger,
) *EligibilityGate {
	return &EligibilityGate{
		limits:            limits,
		approvals:         approvals,
		approvalThreshold: approvalThreshold,
		logger:            logger,
	}
}

// CheckEligibility runs the full gate for the approved transition:
// counterpart identity formatting, remaining company credit, and the
// approval workflow above the configured threshold.
func (g *EligibilityGate) CheckEligibility(ctx context.Context, proposal *model.FinancingProposal, approvedAmount decimal.Decimal) (EligibilityResult, error) {
	if !ValidCNPJ(proposal.CompanyCNPJ) {
		return EligibilityResult{
			Outcome: EligibilityDenied,
			Reason:  fmt.Sprintf("company CNPJ %q is not a valid legal entity identifier", proposal.CompanyCNPJ),
		}, nil
	}

	remaining, err := g.limits.GetRemainingCredit(ctx, proposal.CompanyID)
	if err != nil {
		return EligibilityResult{}, fmt.Errorf("failed to check company credit limit: %w", err)
	}
	if approvedAmount.GreaterThan(remaining) {
		g.logger.WithFields(logrus.Fields{
			"proposal_id":      proposal.ID,
			"approved_amount":  approvedAmount,
			"remaining_credit": remaining,
		}).Warn("Proposal exceeds company remaining credit")
		return EligibilityResult{
			Outcome: EligibilityDenied,
			Reason:  fmt.Sprintf("Amount R$%s exceeds the company's remaining credit of R$%s", approvedAmount.StringFixed(2), remaining.StringFixed(2)),
		}, nil
	}

	if g.RequiresApproval(approvedAmount) {
		decision, err := g.approvals.GetApprovalDecision(ctx, proposal.ID)
		if err != nil {
			return EligibilityResult{}, fmt.Errorf("failed to check approval decision: %w", err)
		}
		switch decision {
		case ApprovalDecisionRejected:
			return EligibilityResult{
				Outcome: EligibilityDenied,
				Reason:  "Approval request was rejected by the credit committee",
			}, nil
		case ApprovalDecisionPending:
			if _, err := g.approvals.RequestApproval(ctx, proposal.ID, approvedAmount); err != nil {
				return EligibilityResult{}, fmt.Errorf("failed to request approval: %w", err)
			}
			return EligibilityResult{
				Outcome: EligibilityAwaitingApproval,
				Reason:  fmt.Sprintf("Approval required above R$%s", g.approvalThreshold.StringFixed(2)),
			}, nil
		}
	}

	return EligibilityResult{Outcome: EligibilityAllowed}, nil
}

// RequiresApproval reports whether the amount is above the human approval
// threshold.
func (g *EligibilityGate) RequiresApproval(amount decimal.Decimal) bool {
	return amount.GreaterThan(g.approvalThreshold)
}

// ApprovalDecision returns the recorded workflow decision for a proposal.
func (g *EligibilityGate) ApprovalDecision(ctx context.Context, proposalID uuid.UUID) (ApprovalDecision, error) {
	return g.approvals.GetApprovalDecision(ctx, proposalID)
}

var cnpjFirstWeights = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
var cnpjSecondWeights = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}

// ValidCNPJ validates the check digits of a Brazilian legal entity
// identifier. Punctuation (dots, slash, dash) is ignored.
func ValidCNPJ(raw string) bool {
	var digits []int
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case strings.ContainsRune(".-/ ", r):
			// formatting characters
		default:
			return false
		}
	}
	if len(digits) != 14 {
		return false
	}

	// Sequences of a single repeated digit pass the check-digit formula but
	// are not assignable identifiers.
	allEqual := true
	for _, d := range digits[1:] {
		if d != digits[0] {
			allEqual = false
			break
		}
	}
	if allEqual {
		return false
	}

	if cnpjCheckDigit(digits[:12], cnpjFirstWeights) != digits[12] {
		return false
	}
	return cnpjCheckDigit(digits[:13], cnpjSecondWeights) == digits[13]
}

func cnpjCheckDigit(digits, weights []int) int {
	var sum int
	for i, d := range digits {
		sum += d * weights[i]
	}
	remainder := sum % 11
	if remainder < 2 {
		return 0
	}
	return 11 - remainder
}
