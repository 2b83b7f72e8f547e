package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"financing-api/internal/model"
)

// ErrVersionConflict is returned by ApplyTransition when the proposal row was
// modified by a competing transition between read and write.
var ErrVersionConflict = errors.New("proposal was modified concurrently")

// ErrProposalNotFound is returned when no proposal exists for the given id.
var ErrProposalNotFound = errors.New("proposal not found")

// ProposalRepository persists financing proposals, their payment schedules
// and their transition history in Postgres. Every state-changing method
// writes the proposal, its schedule, the transition record and the audit
// entry in a single transaction: a state change either commits together with
// its trail entry or not at all.
type ProposalRepository struct {
	db        *sql.DB
	auditRepo *AuditRepository
	logger    *logrus.Logger
}

func NewProposalRepository(db *sql.DB, auditRepo *AuditRepository, logger *logrus.Logger) *ProposalRepository {
	return &ProposalRepository{db: db, auditRepo: auditRepo, logger: logger}
}

// CreateProposal inserts a new proposal with its schedule, initial transition
// record and "created" audit entry atomically.
func (r *ProposalRepository) CreateProposal(ctx context.Context, proposal *model.FinancingProposal, audit *model.AuditEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO proposals (id, customer_id, company_id, company_cnpj, contact_email,
                               modality, system, requested_amount, requested_term_months,
                               nominal_annual_rate, upfront_fee, total_paid, total_interest,
                               cet_annual, state, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
    `

	_, err = tx.ExecContext(
		ctx,
		query,
		proposal.ID,
		proposal.CustomerID,
		proposal.CompanyID,
		proposal.CompanyCNPJ,
		proposal.ContactEmail,
		proposal.Modality,
		proposal.System,
		proposal.RequestedAmount,
		proposal.RequestedTermMonths,
		proposal.NominalAnnualRate,
		proposal.UpfrontFee,
		proposal.TotalPaid,
		proposal.TotalInterest,
		proposal.CETAnnual,
		proposal.State,
		proposal.Version,
		proposal.CreatedAt,
		proposal.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("proposal already exists: %w", err)
		}
		return fmt.Errorf("failed to create proposal: %w", err)
	}

	if err := r.insertScheduleTx(ctx, tx, proposal.ID, proposal.Schedule); err != nil {
		return err
	}

	for i := range proposal.Transitions {
		if err := r.insertTransitionTx(ctx, tx, &proposal.Transitions[i]); err != nil {
			return err
		}
	}

	if err := r.auditRepo.CreateTx(ctx, tx, audit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit proposal creation: %w", err)
	}

	return nil
}

// ApplyTransition persists a state change under an optimistic version check.
// The schedule is replaced wholesale when replaceSchedule is set (approval
// with revised terms recomputes it; it is never patched in place). Returns
// ErrVersionConflict when the expected version no longer matches.
func (r *ProposalRepository) ApplyTransition(
	ctx context.Context,
	proposal *model.FinancingProposal,
	expectedVersion int64,
	transition *model.TransitionRecord,
	audit *model.AuditEntry,
	replaceSchedule bool,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
        UPDATE proposals
        SET state = $1,
            approved_amount = $2,
            approved_annual_rate = $3,
            contract_number = $4,
            total_paid = $5,
            total_interest = $6,
            cet_annual = $7,
            version = version + 1,
            updated_at = $8
        WHERE id = $9 AND version = $10
    `

	result, err := tx.ExecContext(
		ctx,
		query,
		proposal.State,
		nullDecimal(proposal.ApprovedAmount),
		nullDecimal(proposal.ApprovedAnnualRate),
		nullString(proposal.ContractNumber),
		proposal.TotalPaid,
		proposal.TotalInterest,
		proposal.CETAnnual,
		proposal.UpdatedAt,
		proposal.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update proposal: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	proposal.Version = expectedVersion + 1

	if replaceSchedule {
		if _, err := tx.ExecContext(ctx, `DELETE FROM payment_schedule_entries WHERE proposal_id = $1`, proposal.ID); err != nil {
			return fmt.Errorf("failed to clear payment schedule: %w", err)
		}
		if err := r.insertScheduleTx(ctx, tx, proposal.ID, proposal.Schedule); err != nil {
			return err
		}
	}

	if err := r.insertTransitionTx(ctx, tx, transition); err != nil {
		return err
	}

	if err := r.auditRepo.CreateTx(ctx, tx, audit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	return nil
}

func (r *ProposalRepository) insertScheduleTx(ctx context.Context, tx *sql.Tx, proposalID uuid.UUID, entries []model.PaymentScheduleEntry) error {
	query := `
        INSERT INTO payment_schedule_entries (id, proposal_id, number, due_date, amortization,
                                              interest, payment, remaining_balance, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `

	for i := range entries {
		entry := &entries[i]
		_, err := tx.ExecContext(
			ctx,
			query,
			entry.ID,
			proposalID,
			entry.Number,
			entry.DueDate,
			entry.Amortization,
			entry.Interest,
			entry.Payment,
			entry.RemainingBalance,
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create schedule entry %d: %w", entry.Number, err)
		}
	}

	return nil
}

func (r *ProposalRepository) insertTransitionTx(ctx context.Context, tx *sql.Tx, transition *model.TransitionRecord) error {
	query := `
        INSERT INTO proposal_transitions (id, proposal_id, from_state, to_state, actor, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `

	_, err := tx.ExecContext(
		ctx,
		query,
		transition.ID,
		transition.ProposalID,
		transition.FromState,
		transition.ToState,
		transition.Actor,
		transition.Reason,
		transition.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}

	return nil
}

// GetByID loads a proposal with its schedule and transition history.
func (r *ProposalRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.FinancingProposal, error) {
	query := `
        SELECT id, customer_id, company_id, company_cnpj, contact_email, modality, system,
               requested_amount, requested_term_months, nominal_annual_rate, upfront_fee,
               approved_amount, approved_annual_rate, contract_number,
               total_paid, total_interest, cet_annual, state, version, created_at, updated_at
        FROM proposals
        WHERE id = $1
    `

	proposal, err := scanProposal(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}

	schedule, err := r.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	proposal.Schedule = schedule

	transitions, err := r.getTransitions(ctx, id)
	if err != nil {
		return nil, err
	}
	proposal.Transitions = transitions

	return proposal, nil
}

// GetSchedule returns the ordered payment schedule for a proposal.
func (r *ProposalRepository) GetSchedule(ctx context.Context, proposalID uuid.UUID) ([]model.PaymentScheduleEntry, error) {
	query := `
        SELECT id, proposal_id, number, due_date, amortization, interest, payment,
               remaining_balance, created_at
        FROM payment_schedule_entries
        WHERE proposal_id = $1
        ORDER BY number
    `

	rows, err := r.db.QueryContext(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment schedule: %w", err)
	}
	defer rows.Close()

	var entries []model.PaymentScheduleEntry
	for rows.Next() {
		var entry model.PaymentScheduleEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.ProposalID,
			&entry.Number,
			&entry.DueDate,
			&entry.Amortization,
			&entry.Interest,
			&entry.Payment,
			&entry.RemainingBalance,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan schedule entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (r *ProposalRepository) getTransitions(ctx context.Context, proposalID uuid.UUID) ([]model.TransitionRecord, error) {
	query := `
        SELECT id, proposal_id, from_state, to_state, actor, reason, created_at
        FROM proposal_transitions
        WHERE proposal_id = $1
        ORDER BY created_at, id
    `

	rows, err := r.db.QueryContext(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []model.TransitionRecord
	for rows.Next() {
		var record model.TransitionRecord
		if err := rows.Scan(
			&record.ID,
			&record.ProposalID,
			&record.FromState,
			&record.ToState,
			&record.Actor,
			&record.Reason,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, record)
	}

	return transitions, rows.Err()
}

// ListByState returns proposals in the given state, without schedules, for
// batch jobs such as the approval-decision sync.
func (r *ProposalRepository) ListByState(ctx context.Context, state model.ProposalState) ([]model.FinancingProposal, error) {
	query := `
        SELECT id, customer_id, company_id, company_cnpj, contact_email, modality, system,
               requested_amount, requested_term_months, nominal_annual_rate, upfront_fee,
               approved_amount, approved_annual_rate, contract_number,
               total_paid, total_interest, cet_annual, state, version, created_at, updated_at
        FROM proposals
        WHERE state = $1
        ORDER BY created_at
    `

	rows, err := r.db.QueryContext(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals by state: %w", err)
	}
	defer rows.Close()

	var proposals []model.FinancingProposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, *proposal)
	}

	return proposals, rows.Err()
}

// NextContractNumber reserves the next value of the contract number sequence.
// Sequence values are never reused, which keeps contract numbers globally
// unique even across rolled-back transitions.
func (r *ProposalRepository) NextContractNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.db.QueryRowContext(ctx, `SELECT nextval('contract_number_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("failed to reserve contract number: %w", err)
	}
	return fmt.Sprintf("CF-%d-%06d", time.Now().Year(), seq), nil
}

// PortfolioSummary aggregates the proposal book: proposal counts per state,
// contracted volume and approved (not yet contracted) exposure.
func (r *ProposalRepository) PortfolioSummary(ctx context.Context) (*model.PortfolioSummary, error) {
	query := `
        SELECT state,
               COUNT(*),
               COALESCE(SUM(COALESCE(approved_amount, requested_amount)), 0)
        FROM proposals
        GROUP BY state
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio summary: %w", err)
	}
	defer rows.Close()

	summary := &model.PortfolioSummary{
		CountByState:      make(map[model.ProposalState]int64),
		ContractedAmount:  decimal.Zero,
		ApprovedExposure:  decimal.Zero,
		RequestedPipeline: decimal.Zero,
	}

	for rows.Next() {
		var state model.ProposalState
		var count int64
		var amount decimal.Decimal
		if err := rows.Scan(&state, &count, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary.CountByState[state] = count
		switch state {
		case model.StateContracted:
			summary.ContractedAmount = summary.ContractedAmount.Add(amount)
		case model.StateApproved:
			summary.ApprovedExposure = summary.ApprovedExposure.Add(amount)
		case model.StatePending:
			summary.RequestedPipeline = summary.RequestedPipeline.Add(amount)
		}
	}

	return summary, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*model.FinancingProposal, error) {
	var proposal model.FinancingProposal
	var approvedAmount, approvedRate decimal.NullDecimal
	var contractNumber sql.NullString

	err := row.Scan(
		&proposal.ID,
		&proposal.CustomerID,
		&proposal.CompanyID,
		&proposal.CompanyCNPJ,
		&proposal.ContactEmail,
		&proposal.Modality,
		&proposal.System,
		&proposal.RequestedAmount,
		&proposal.RequestedTermMonths,
		&proposal.NominalAnnualRate,
		&proposal.UpfrontFee,
		&approvedAmount,
		&approvedRate,
		&contractNumber,
		&proposal.TotalPaid,
		&proposal.TotalInterest,
		&proposal.CETAnnual,
		&proposal.State,
		&proposal.Version,
		&proposal.CreatedAt,
		&proposal.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if approvedAmount.Valid {
		proposal.ApprovedAmount = &approvedAmount.Decimal
	}
	if approvedRate.Valid {
		proposal.ApprovedAnnualRate = &approvedRate.Decimal
	}
	if contractNumber.Valid {
		proposal.ContractNumber = &contractNumber.String
	}

	return &proposal, nil
}

func nullDecimal(value *decimal.Decimal) decimal.NullDecimal {
	if value == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *value, Valid: true}
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
