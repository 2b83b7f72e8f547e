package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Modality is the commercial modality of a financing proposal.
type Modality string

const (
	ModalityCDC     Modality = "CDC"
	ModalityLeasing Modality = "LEASING"
	ModalityEAAS    Modality = "EAAS"
)

// Valid reports whether the modality is one of the supported values.
func (m Modality) Valid() bool {
	switch m {
	case ModalityCDC, ModalityLeasing, ModalityEAAS:
		return true
	}
	return false
}

// AmortizationSystem selects how the payment schedule is amortized.
type AmortizationSystem string

const (
	SystemPrice AmortizationSystem = "PRICE"
	SystemSAC   AmortizationSystem = "SAC"
)

// Valid reports whether the amortization system is supported.
func (s AmortizationSystem) Valid() bool {
	return s == SystemPrice || s == SystemSAC
}

// ProposalState is the lifecycle state of a financing proposal.
type ProposalState string

const (
	StatePending    ProposalState = "pending"
	StateApproved   ProposalState = "approved"
	StateContracted ProposalState = "contracted"
	StateCancelled  ProposalState = "cancelled"
)

// Terminal reports whether no further transitions are permitted from the state.
func (s ProposalState) Terminal() bool {
	return s == StateContracted || s == StateCancelled
}

// FinancingProposal is the central entity of the engine. The credit line
// belongs to the company, not to the individual customer.
type FinancingProposal struct {
	ID           uuid.UUID `json:"id" db:"id"`
	CustomerID   uuid.UUID `json:"customer_id" db:"customer_id"`
	CompanyID    uuid.UUID `json:"company_id" db:"company_id"`
	CompanyCNPJ  string    `json:"company_cnpj" db:"company_cnpj"`
	ContactEmail string    `json:"contact_email,omitempty" db:"contact_email"`

	Modality            Modality           `json:"modality" db:"modality"`
	System              AmortizationSystem `json:"system" db:"system"`
	RequestedAmount     decimal.Decimal    `json:"requested_amount" db:"requested_amount"`
	RequestedTermMonths int                `json:"requested_term_months" db:"requested_term_months"`
	NominalAnnualRate   decimal.Decimal    `json:"nominal_annual_rate" db:"nominal_annual_rate"`
	UpfrontFee          decimal.Decimal    `json:"upfront_fee" db:"upfront_fee"`

	// Populated only after the approved transition; the credit committee may
	// adjust both values relative to the requested terms.
	ApprovedAmount     *decimal.Decimal `json:"approved_amount,omitempty" db:"approved_amount"`
	ApprovedAnnualRate *decimal.Decimal `json:"approved_annual_rate,omitempty" db:"approved_annual_rate"`

	// Set exactly once, at the contracted transition, immutable thereafter.
	ContractNumber *string `json:"contract_number,omitempty" db:"contract_number"`

	TotalPaid     decimal.Decimal `json:"total_paid" db:"total_paid"`
	TotalInterest decimal.Decimal `json:"total_interest" db:"total_interest"`
	CETAnnual     decimal.Decimal `json:"cet_annual" db:"cet_annual"`

	State       ProposalState          `json:"state" db:"state"`
	Schedule    []PaymentScheduleEntry `json:"schedule,omitempty"`
	Transitions []TransitionRecord     `json:"transitions,omitempty"`

	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EffectiveAmount returns the approved amount when present, otherwise the
// requested amount.
func (p *FinancingProposal) EffectiveAmount() decimal.Decimal {
	if p.ApprovedAmount != nil {
		return *p.ApprovedAmount
	}
	return p.RequestedAmount
}

// EffectiveAnnualRate returns the approved rate when present, otherwise the
// nominal requested rate.
func (p *FinancingProposal) EffectiveAnnualRate() decimal.Decimal {
	if p.ApprovedAnnualRate != nil {
		return *p.ApprovedAnnualRate
	}
	return p.NominalAnnualRate
}

// PaymentScheduleEntry is one installment of a proposal's payment schedule.
// Entries are owned by their proposal and are recomputed wholesale whenever
// the terms change before approval; they are never patched in place.
type PaymentScheduleEntry struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	ProposalID       uuid.UUID       `json:"proposal_id" db:"proposal_id"`
	Number           int             `json:"number" db:"number"`
	DueDate          time.Time       `json:"due_date" db:"due_date"`
	Amortization     decimal.Decimal `json:"amortization" db:"amortization"`
	Interest         decimal.Decimal `json:"interest" db:"interest"`
	Payment          decimal.Decimal `json:"payment" db:"payment"`
	RemainingBalance decimal.Decimal `json:"remaining_balance" db:"remaining_balance"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// TransitionRecord is one entry of a proposal's append-only transition history.
type TransitionRecord struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	ProposalID uuid.UUID     `json:"proposal_id" db:"proposal_id"`
	FromState  ProposalState `json:"from_state" db:"from_state"`
	ToState    ProposalState `json:"to_state" db:"to_state"`
	Actor      string        `json:"actor" db:"actor"`
	Reason     string        `json:"reason,omitempty" db:"reason"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

type CreateProposalRequest struct {
	CustomerID   uuid.UUID `json:"customer_id"`
	CompanyID    uuid.UUID `json:"company_id"`
	CompanyCNPJ  string    `json:"company_cnpj"`
	ContactEmail string    `json:"contact_email"`

	Modality   Modality           `json:"modality"`
	System     AmortizationSystem `json:"system"`
	Amount     decimal.Decimal    `json:"amount"`
	TermMonths int                `json:"term_months"`
	// Optional; when absent the rate is derived from the central bank
	// reference rate plus the configured margin.
	AnnualRate *decimal.Decimal `json:"annual_rate,omitempty"`
	UpfrontFee decimal.Decimal  `json:"upfront_fee"`
}

type ApproveProposalRequest struct {
	ApprovedAmount     decimal.Decimal `json:"approved_amount"`
	ApprovedAnnualRate decimal.Decimal `json:"approved_annual_rate"`
	Reason             string          `json:"reason,omitempty"`
}

type CancelProposalRequest struct {
	Reason string `json:"reason,omitempty"`
}

type SimulationRequest struct {
	Amount     decimal.Decimal    `json:"amount"`
	TermMonths int                `json:"term_months"`
	AnnualRate decimal.Decimal    `json:"annual_rate"`
	System     AmortizationSystem `json:"system"`
	UpfrontFee decimal.Decimal    `json:"upfront_fee"`
}

type SimulationResult struct {
	Schedule      []PaymentScheduleEntry `json:"schedule"`
	TotalPaid     decimal.Decimal        `json:"total_paid"`
	TotalInterest decimal.Decimal        `json:"total_interest"`
	CETAnnual     decimal.Decimal        `json:"cet_annual"`
}

// PortfolioSummary aggregates the proposal book for the admin backend.
type PortfolioSummary struct {
	CountByState      map[ProposalState]int64 `json:"count_by_state"`
	ContractedAmount  decimal.Decimal         `json:"contracted_amount"`
	ApprovedExposure  decimal.Decimal         `json:"approved_exposure"`
	RequestedPipeline decimal.Decimal         `json:"requested_pipeline"`
}
