package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"financing-api/internal/model"
)

// AuditRepository persists the compliance trail. Entries are append-only:
// there is no update or delete path, and writes happen inside the caller's
// transaction so a failed audit write aborts the state change with it.
type AuditRepository struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewAuditRepository(db *sql.DB, logger *logrus.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

// CreateTx appends an audit entry within an open transaction.
func (r *AuditRepository) CreateTx(ctx context.Context, tx *sql.Tx, entry *model.AuditEntry) error {
	query := `
        INSERT INTO audit_entries (id, proposal_id, event, actor, payload, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `

	_, err := tx.ExecContext(
		ctx,
		query,
		entry.ID,
		entry.ProposalID,
		entry.Event,
		entry.Actor,
		entry.Payload,
		entry.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// ListByProposal returns the full trail for a proposal in insertion order.
func (r *AuditRepository) ListByProposal(ctx context.Context, proposalID uuid.UUID) ([]model.AuditEntry, error) {
	query := `
        SELECT id, proposal_id, event, actor, payload, created_at
        FROM audit_entries
        WHERE proposal_id = $1
        ORDER BY created_at, id
    `

	rows, err := r.db.QueryContext(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var entry model.AuditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.ProposalID,
			&entry.Event,
			&entry.Actor,
			&entry.Payload,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
