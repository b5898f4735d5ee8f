package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create runs on its own connection, outside the financial transaction, so an
// audit failure can never roll back the mutation it records.
func (r *AuditRepository) Create(ctx context.Context, e *domain.AuditEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor_id, actor_role, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ActorID, e.ActorRole, e.Action, e.EntityType, e.EntityID, e.Details, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, actor_id, actor_role, action, entity_type, entity_id, details, created_at
		FROM audit_log WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at`,
		entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByEntity: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var details *[]byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorRole, &e.Action, &e.EntityType, &e.EntityID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListByEntity: scan: %w", err)
		}
		if details != nil {
			e.Details = *details
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByEntity: rows: %w", err)
	}
	return entries, nil
}
