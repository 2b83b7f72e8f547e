package model

import (
	"fmt"

	"github.com/google/uuid"
)

// InvalidInputError reports a creation or simulation request that fails
// validation (bad principal, term, system or modality). Recoverable at the
// caller: correct the field and retry.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports an illegal lifecycle transition. It names
// both the current and the requested state so the caller can correct the
// request; it is non-retryable as issued.
type InvalidTransitionError struct {
	From      ProposalState
	Requested ProposalState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition from %q to %q is not permitted", e.From, e.Requested)
}

// ConcurrentModificationError reports a lost race on a proposal: another
// transition was in flight for the same proposal id. The caller may retry
// once the competing transition settles.
type ConcurrentModificationError struct {
	ProposalID uuid.UUID
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("proposal %s is being modified concurrently", e.ProposalID)
}

// EligibilityDeniedError reports that the eligibility gate denied a
// transition (spending limit exceeded, approval rejected, or invalid
// counterpart identity). Reason is suitable for direct display.
type EligibilityDeniedError struct {
	Reason string
}

func (e *EligibilityDeniedError) Error() string {
	return e.Reason
}

// ApprovalPendingError reports that a transition is blocked on a human
// approval decision that has been requested but not yet recorded. The
// proposal remains in its current state; the transition may be retried once
// the decision arrives.
type ApprovalPendingError struct {
	Reason string
}

func (e *ApprovalPendingError) Error() string {
	return e.Reason
}

// CETConvergenceError reports that the effective-rate solver exhausted its
// iteration budget without converging. Surfaced as retryable; the offending
// cash-flow vector is logged for investigation.
type CETConvergenceError struct {
	Iterations int
	LastRate   float64
}

func (e *CETConvergenceError) Error() string {
	return fmt.Sprintf("CET solver did not converge after %d iterations (last rate %.8f)", e.Iterations, e.LastRate)
}
