package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"financing-api/internal/finance"
	"financing-api/internal/model"
	"financing-api/internal/repository"
)

// ProposalStore persists proposals, schedules, transition history and the
// audit trail. Every state-changing method commits the state change and its
// audit entry in one transaction; ApplyTransition fails with
// repository.ErrVersionConflict when the optimistic version check loses.
type ProposalStore interface {
	CreateProposal(ctx context.Context, proposal *model.FinancingProposal, audit *model.AuditEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.FinancingProposal, error)
	GetSchedule(ctx context.Context, proposalID uuid.UUID) ([]model.PaymentScheduleEntry, error)
	ApplyTransition(ctx context.Context, proposal *model.FinancingProposal, expectedVersion int64, transition *model.TransitionRecord, audit *model.AuditEntry, replaceSchedule bool) error
	ListByState(ctx context.Context, state model.ProposalState) ([]model.FinancingProposal, error)
	NextContractNumber(ctx context.Context) (string, error)
}

// RateSource provides the central bank reference rate (annual percent) used
// to default the nominal rate of proposals created without one.
type RateSource interface {
	GetReferenceRate() (float64, error)
}

// ProposalService owns the lifecycle of financing proposals:
// pending -> approved -> contracted, with cancelled reachable from pending
// and approved. Transitions are serialized per proposal id; unrelated
// proposals progress independently.
type ProposalService struct {
	store    ProposalStore
	gate     *EligibilityGate
	recorder *AuditRecorder
	notifier ContractNotifier
	rates    RateSource
	logger   *logrus.Logger

	rateMargin  decimal.Decimal
	defaultRate decimal.Decimal

	// One mutex per proposal id. TryLock keeps a second concurrent
	// transition from interleaving with the first: it fails fast instead
	// of queueing.
	locks sync.Map
}

func NewProposalService(
	store ProposalStore,
	gate *EligibilityGate,
	recorder *AuditRecorder,
	notifier ContractNotifier,
	rates RateSource,
	rateMargin decimal.Decimal,
	defaultRate decimal.Decimal,
	logger *logrus.Logger,
) *ProposalService {
	return &ProposalService{
		store:       store,
		gate:        gate,
		recorder:    recorder,
		notifier:    notifier,
		rates:       rates,
		rateMargin:  rateMargin,
		defaultRate: defaultRate,
		logger:      logger,
	}
}

// CreateProposal validates the request, computes the payment schedule and
// CET, and persists the proposal in pending state together with its
// "created" audit entry.
func (s *ProposalService) CreateProposal(ctx context.Context, req model.CreateProposalRequest, actor string) (*model.FinancingProposal, error) {
	if !req.Amount.IsPositive() {
		return nil, &model.InvalidInputError{Field: "amount", Reason: "requested amount must be greater than zero"}
	}
	if req.TermMonths < 1 {
		return nil, &model.InvalidInputError{Field: "term_months", Reason: "term must be at least 1 month"}
	}
	if !req.Modality.Valid() {
		return nil, &model.InvalidInputError{Field: "modality", Reason: "modality must be CDC, LEASING or EAAS"}
	}
	if !req.System.Valid() {
		return nil, &model.InvalidInputError{Field: "system", Reason: "amortization system must be PRICE or SAC"}
	}
	if req.UpfrontFee.IsNegative() {
		return nil, &model.InvalidInputError{Field: "upfront_fee", Reason: "upfront fee cannot be negative"}
	}
	if req.UpfrontFee.GreaterThanOrEqual(req.Amount) {
		return nil, &model.InvalidInputError{Field: "upfront_fee", Reason: "upfront fee must be smaller than the requested amount"}
	}

	rate, err := s.resolveAnnualRate(req.AnnualRate)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	schedule, err := finance.ComputeSchedule(req.Amount, rate, req.TermMonths, req.System, now)
	if err != nil {
		return nil, err
	}

	cet, err := s.computeCET(req.Amount.Sub(req.UpfrontFee), schedule.Entries)
	if err != nil {
		return nil, err
	}

	proposalID := uuid.New()
	stampSchedule(schedule.Entries, proposalID, now)

	proposal := &model.FinancingProposal{
		ID:                  proposalID,
		CustomerID:          req.CustomerID,
		CompanyID:           req.CompanyID,
		CompanyCNPJ:         req.CompanyCNPJ,
		ContactEmail:        req.ContactEmail,
		Modality:            req.Modality,
		System:              req.System,
		RequestedAmount:     req.Amount,
		RequestedTermMonths: req.TermMonths,
		NominalAnnualRate:   rate,
		UpfrontFee:          req.UpfrontFee,
		TotalPaid:           schedule.TotalPaid,
		TotalInterest:       schedule.TotalInterest,
		CETAnnual:           cet,
		State:               model.StatePending,
		Schedule:            schedule.Entries,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	proposal.Transitions = []model.TransitionRecord{{
		ID:         uuid.New(),
		ProposalID: proposalID,
		FromState:  "",
		ToState:    model.StatePending,
		Actor:      actor,
		Reason:     "proposal submitted",
		CreatedAt:  now,
	}}

	audit, err := s.recorder.Compose(proposalID, model.AuditEventCreated, actor, map[string]any{
		"requested_amount":      req.Amount,
		"requested_term_months": req.TermMonths,
		"modality":              req.Modality,
		"system":                req.System,
		"nominal_annual_rate":   rate,
		"cet_annual":            cet,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateProposal(ctx, proposal, audit); err != nil {
		s.logger.WithError(err).Error("Failed to persist proposal")
		return nil, fmt.Errorf("failed to create proposal: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"proposal_id": proposalID,
		"company_id":  req.CompanyID,
		"amount":      req.Amount,
		"term_months": req.TermMonths,
		"cet_annual":  cet,
	}).Info("Proposal created")

	return proposal, nil
}

// Approve moves a pending proposal to approved with the terms set by the
// credit committee, recomputing schedule and CET. Re-approving an already
// approved proposal with identical terms is a no-op returning the existing
// state, without a duplicate audit entry. When the gate denies or the
// approval decision is still pending, the proposal is returned unchanged
// alongside the blocking error.
func (s *ProposalService) Approve(ctx context.Context, proposalID uuid.UUID, req model.ApproveProposalRequest, actor string) (*model.FinancingProposal, error) {
	if !req.ApprovedAmount.IsPositive() {
		return nil, &model.InvalidInputError{Field: "approved_amount", Reason: "approved amount must be greater than zero"}
	}
	if req.ApprovedAnnualRate.IsNegative() {
		return nil, &model.InvalidInputError{Field: "approved_annual_rate", Reason: "approved rate cannot be negative"}
	}

	unlock, err := s.lockProposal(proposalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	proposal, err := s.store.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if proposal.State == model.StateApproved {
		if proposal.ApprovedAmount != nil && proposal.ApprovedAmount.Equal(req.ApprovedAmount) &&
			proposal.ApprovedAnnualRate != nil && proposal.ApprovedAnnualRate.Equal(req.ApprovedAnnualRate) {
			// Safe retry of a duplicate request.
			return proposal, nil
		}
		return proposal, &model.InvalidTransitionError{From: proposal.State, Requested: model.StateApproved}
	}
	if proposal.State != model.StatePending {
		return proposal, &model.InvalidTransitionError{From: proposal.State, Requested: model.StateApproved}
	}

	result, err := s.gate.CheckEligibility(ctx, proposal, req.ApprovedAmount)
	if err != nil {
		return nil, fmt.Errorf("eligibility check failed: %w", err)
	}
	switch result.Outcome {
	case EligibilityDenied:
		return proposal, &model.EligibilityDeniedError{Reason: result.Reason}
	case EligibilityAwaitingApproval:
		return proposal, &model.ApprovalPendingError{Reason: result.Reason}
	}

	now := time.Now()
	schedule, err := finance.ComputeSchedule(req.ApprovedAmount, req.ApprovedAnnualRate, proposal.RequestedTermMonths, proposal.System, proposal.CreatedAt)
	if err != nil {
		return nil, err
	}
	cet, err := s.computeCET(req.ApprovedAmount.Sub(proposal.UpfrontFee), schedule.Entries)
	if err != nil {
		return nil, err
	}
	stampSchedule(schedule.Entries, proposal.ID, now)

	expectedVersion := proposal.Version
	approvedAmount := req.ApprovedAmount
	approvedRate := req.ApprovedAnnualRate
	proposal.ApprovedAmount = &approvedAmount
	proposal.ApprovedAnnualRate = &approvedRate
	proposal.Schedule = schedule.Entries
	proposal.TotalPaid = schedule.TotalPaid
	proposal.TotalInterest = schedule.TotalInterest
	proposal.CETAnnual = cet
	proposal.State = model.StateApproved
	proposal.UpdatedAt = now

	transition := &model.TransitionRecord{
		ID:         uuid.New(),
		ProposalID: proposal.ID,
		FromState:  model.StatePending,
		ToState:    model.StateApproved,
		Actor:      actor,
		Reason:     req.Reason,
		CreatedAt:  now,
	}
	proposal.Transitions = append(proposal.Transitions, *transition)

	audit, err := s.recorder.Compose(proposal.ID, model.AuditEventApproved, actor, map[string]any{
		"approved_amount":      approvedAmount,
		"approved_annual_rate": approvedRate,
		"cet_annual":           cet,
	})
	if err != nil {
		return nil, err
	}

	if err := s.applyTransition(ctx, proposal, expectedVersion, transition, audit, true); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"proposal_id":     proposal.ID,
		"approved_amount": approvedAmount,
		"cet_annual":      cet,
	}).Info("Proposal approved")

	return proposal, nil
}

// Cancel moves a pending or approved proposal to the terminal cancelled
// state. Cancelling an already cancelled proposal is a no-op.
func (s *ProposalService) Cancel(ctx context.Context, proposalID uuid.UUID, reason, actor string) (*model.FinancingProposal, error) {
	unlock, err := s.lockProposal(proposalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	proposal, err := s.store.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if proposal.State == model.StateCancelled {
		return proposal, nil
	}
	if proposal.State.Terminal() {
		return proposal, &model.InvalidTransitionError{From: proposal.State, Requested: model.StateCancelled}
	}

	now := time.Now()
	expectedVersion := proposal.Version
	fromState := proposal.State
	proposal.State = model.StateCancelled
	proposal.UpdatedAt = now

	transition := &model.TransitionRecord{
		ID:         uuid.New(),
		ProposalID: proposal.ID,
		FromState:  fromState,
		ToState:    model.StateCancelled,
		Actor:      actor,
		Reason:     reason,
		CreatedAt:  now,
	}
	proposal.Transitions = append(proposal.Transitions, *transition)

	audit, err := s.recorder.Compose(proposal.ID, model.AuditEventCancelled, actor, map[string]any{
		"reason": reason,
	})
	if err != nil {
		return nil, err
	}

	if err := s.applyTransition(ctx, proposal, expectedVersion, transition, audit, false); err != nil {
		return nil, err
	}

	s.logger.WithField("proposal_id", proposal.ID).Info("Proposal cancelled")
	return proposal, nil
}

// Contract moves an approved proposal to the terminal contracted state,
// assigning the globally unique contract number exactly once. The document
// generation notification is dispatched after commit, fire-and-forget.
func (s *ProposalService) Contract(ctx context.Context, proposalID uuid.UUID, actor string) (*model.FinancingProposal, error) {
	unlock, err := s.lockProposal(proposalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	proposal, err := s.store.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if proposal.State == model.StateContracted {
		return proposal, nil
	}
	if proposal.State != model.StateApproved {
		return proposal, &model.InvalidTransitionError{From: proposal.State, Requested: model.StateContracted}
	}
	if proposal.ContractNumber != nil {
		return proposal, fmt.Errorf("proposal %s already carries contract number %s", proposal.ID, *proposal.ContractNumber)
	}

	contractNumber, err := s.store.NextContractNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to assign contract number: %w", err)
	}

	now := time.Now()
	expectedVersion := proposal.Version
	proposal.ContractNumber = &contractNumber
	proposal.State = model.StateContracted
	proposal.UpdatedAt = now

	transition := &model.TransitionRecord{
		ID:         uuid.New(),
		ProposalID: proposal.ID,
		FromState:  model.StateApproved,
		ToState:    model.StateContracted,
		Actor:      actor,
		Reason:     fmt.Sprintf("contract %s issued", contractNumber),
		CreatedAt:  now,
	}
	proposal.Transitions = append(proposal.Transitions, *transition)

	audit, err := s.recorder.Compose(proposal.ID, model.AuditEventContracted, actor, map[string]any{
		"contract_number": contractNumber,
	})
	if err != nil {
		return nil, err
	}

	if err := s.applyTransition(ctx, proposal, expectedVersion, transition, audit, false); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"proposal_id":     proposal.ID,
		"contract_number": contractNumber,
	}).Info("Proposal contracted")

	if s.notifier != nil && proposal.ContactEmail != "" && len(proposal.Schedule) > 0 {
		email := proposal.ContactEmail
		amount := proposal.EffectiveAmount()
		firstDue := proposal.Schedule[0].DueDate
		go func() {
			if err := s.notifier.SendContractNotification(email, contractNumber, amount, firstDue); err != nil {
				s.logger.WithError(err).Warn("Failed to send contract notification")
			}
		}()
	}

	return proposal, nil
}

// GetProposal returns a proposal with schedule and transition history.
func (s *ProposalService) GetProposal(ctx context.Context, proposalID uuid.UUID) (*model.FinancingProposal, error) {
	return s.store.GetByID(ctx, proposalID)
}

// GetSchedule returns the ordered payment schedule of a proposal.
func (s *ProposalService) GetSchedule(ctx context.Context, proposalID uuid.UUID) ([]model.PaymentScheduleEntry, error) {
	return s.store.GetSchedule(ctx, proposalID)
}

// Trail returns the audit trail of a proposal.
func (s *ProposalService) Trail(ctx context.Context, proposalID uuid.UUID) ([]model.AuditEntry, error) {
	return s.recorder.Trail(ctx, proposalID)
}

// Simulate runs the calculator and the CET solver without persisting
// anything. Used by the storefront quote flow.
func (s *ProposalService) Simulate(req model.SimulationRequest) (*model.SimulationResult, error) {
	if req.UpfrontFee.IsNegative() || req.UpfrontFee.GreaterThanOrEqual(req.Amount) {
		return nil, &model.InvalidInputError{Field: "upfront_fee", Reason: "upfront fee must be non-negative and smaller than the amount"}
	}

	schedule, err := finance.ComputeSchedule(req.Amount, req.AnnualRate, req.TermMonths, req.System, time.Now())
	if err != nil {
		return nil, err
	}
	cet, err := s.computeCET(req.Amount.Sub(req.UpfrontFee), schedule.Entries)
	if err != nil {
		return nil, err
	}

	return &model.SimulationResult{
		Schedule:      schedule.Entries,
		TotalPaid:     schedule.TotalPaid,
		TotalInterest: schedule.TotalInterest,
		CETAnnual:     cet,
	}, nil
}

// SyncApprovalDecisions scans pending proposals whose amount requires a
// human decision and applies the approved transition for those the workflow
// has meanwhile approved, using the requested terms. Runs from the
// scheduler.
func (s *ProposalService) SyncApprovalDecisions(ctx context.Context) error {
	pending, err := s.store.ListByState(ctx, model.StatePending)
	if err != nil {
		return fmt.Errorf("failed to list pending proposals: %w", err)
	}

	for i := range pending {
		proposal := &pending[i]
		if !s.gate.RequiresApproval(proposal.RequestedAmount) {
			continue
		}

		decision, err := s.gate.ApprovalDecision(ctx, proposal.ID)
		if err != nil {
			s.logger.WithError(err).Warnf("Failed to check approval decision for proposal %s", proposal.ID)
			continue
		}
		if decision != ApprovalDecisionApproved {
			continue
		}

		if _, err := s.Approve(ctx, proposal.ID, model.ApproveProposalRequest{
			ApprovedAmount:     proposal.RequestedAmount,
			ApprovedAnnualRate: proposal.NominalAnnualRate,
			Reason:             "approval workflow decision",
		}, "approval-workflow"); err != nil {
			s.logger.WithError(err).Warnf("Failed to apply workflow approval for proposal %s", proposal.ID)
		}
	}

	return nil
}

func (s *ProposalService) resolveAnnualRate(requested *decimal.Decimal) (decimal.Decimal, error) {
	if requested != nil {
		if requested.IsNegative() {
			return decimal.Zero, &model.InvalidInputError{Field: "annual_rate", Reason: "annual rate cannot be negative"}
		}
		return *requested, nil
	}

	reference, err := s.rates.GetReferenceRate()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to fetch reference rate, using default")
		return s.defaultRate, nil
	}

	rate := decimal.NewFromFloat(reference).Add(s.rateMargin)
	s.logger.WithFields(logrus.Fields{
		"reference_rate": reference,
		"margin":         s.rateMargin,
		"annual_rate":    rate,
	}).Info("Nominal rate derived from reference rate")
	return rate, nil
}

func (s *ProposalService) computeCET(disbursed decimal.Decimal, entries []model.PaymentScheduleEntry) (decimal.Decimal, error) {
	flows := finance.BuildCashFlows(disbursed, entries)
	cet, err := finance.SolveCET(flows)
	if err != nil {
		var convergence *model.CETConvergenceError
		if errors.As(err, &convergence) {
			s.logger.WithError(err).WithField("cash_flows", flows).Error("CET solver did not converge")
		}
		return decimal.Zero, err
	}
	return cet, nil
}

func (s *ProposalService) lockProposal(proposalID uuid.UUID) (func(), error) {
	value, _ := s.locks.LoadOrStore(proposalID, &sync.Mutex{})
	mutex := value.(*sync.Mutex)
	if !mutex.TryLock() {
		return nil, &model.ConcurrentModificationError{ProposalID: proposalID}
	}
	return mutex.Unlock, nil
}

func (s *ProposalService) applyTransition(ctx context.Context, proposal *model.FinancingProposal, expectedVersion int64, transition *model.TransitionRecord, audit *model.AuditEntry, replaceSchedule bool) error {
	err := s.store.ApplyTransition(ctx, proposal, expectedVersion, transition, audit, replaceSchedule)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrVersionConflict) {
		return &model.ConcurrentModificationError{ProposalID: proposal.ID}
	}
	s.logger.WithError(err).Errorf("Failed to persist transition for proposal %s", proposal.ID)
	return fmt.Errorf("failed to apply transition: %w", err)
}

func stampSchedule(entries []model.PaymentScheduleEntry, proposalID uuid.UUID, now time.Time) {
	for i := range entries {
		entries[i].ID = uuid.New()
		entries[i].ProposalID = proposalID
		entries[i].CreatedAt = now
	}
}
