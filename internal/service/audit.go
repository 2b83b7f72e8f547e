package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"financing-api/internal/model"
)

// AuditTrailStore reads back the persisted compliance trail. Writes go
// through the proposal store's transactions so that a failed audit write
// rolls the state change back with it.
type AuditTrailStore interface {
	ListByProposal(ctx context.Context, proposalID uuid.UUID) ([]model.AuditEntry, error)
}

// AuditRecorder composes immutable trail entries for every calculation and
// every lifecycle transition.
type AuditRecorder struct {
	store  AuditTrailStore
	logger *logrus.Logger
}

func NewAuditRecorder(store AuditTrailStore, logger *logrus.Logger) *AuditRecorder {
	return &AuditRecorder{store: store, logger: logger}
}

// Compose builds an audit entry with a JSON-encoded payload. The entry is
// persisted by the proposal store inside the same transaction as the state
// change it documents.
func (r *AuditRecorder) Compose(proposalID uuid.UUID, event, actor string, payload any) (*model.AuditEntry, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit payload for event %q: %w", event, err)
	}

	return &model.AuditEntry{
		ID:         uuid.New(),
		ProposalID: proposalID,
		Event:      event,
		Actor:      actor,
		Payload:    string(encoded),
		CreatedAt:  time.Now(),
	}, nil
}

// Trail returns the full audit trail of a proposal in insertion order.
func (r *AuditRecorder) Trail(ctx context.Context, proposalID uuid.UUID) ([]model.AuditEntry, error) {
	entries, err := r.store.ListByProposal(ctx, proposalID)
	if err != nil {
		r.logger.WithError(err).Errorf("Failed to load audit trail for proposal %s", proposalID)
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	return entries, nil
}
