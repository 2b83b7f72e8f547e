package model

import (
	"time"

	"github.com/google/uuid"
)

// Audit event names. One entry is appended for every calculation result that
// is persisted and for every lifecycle transition.
const (
	AuditEventCreated    = "created"
	AuditEventApproved   = "approved"
	AuditEventCancelled  = "cancelled"
	AuditEventContracted = "contracted"
)

// AuditEntry is one immutable record of the compliance trail. Entries
// reference a proposal by id but never mutate, and are never mutated by, the
// proposal itself.
type AuditEntry struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ProposalID uuid.UUID `json:"proposal_id" db:"proposal_id"`
	Event      string    `json:"event" db:"event"`
	Actor      string    `json:"actor" db:"actor"`
	Payload    string    `json:"payload" db:"payload"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
