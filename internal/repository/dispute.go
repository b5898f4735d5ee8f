package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
)

const disputeColumns = `id, project_id, raised_by, raised_by_role, reason, description,
	status, resolved_by, resolved_at, created_at`

type DisputeRepository struct {
	db *sql.DB
}

func NewDisputeRepository(db *sql.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create inserts the dispute in the caller's transaction so the row commits
// together with the project's move to in_dispute.
func (r *DisputeRepository) Create(ctx context.Context, tx *sql.Tx, d *domain.Dispute) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO disputes (
			id, project_id, raised_by, raised_by_role, reason, description,
			status, resolved_by, resolved_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.ProjectID, d.RaisedBy, d.RaisedByRole, d.Reason, d.Description,
		d.Status, d.ResolvedBy, d.ResolvedAt, d.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDisputeOpen)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id,
	)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return d, nil
}

func (r *DisputeRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Dispute, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id,
	)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return d, nil
}

// OpenByProject returns the open dispute for a project, or nil if there is
// none. At most one can exist (partial unique index).
func (r *DisputeRepository) OpenByProject(ctx context.Context, projectID uuid.UUID) (*domain.Dispute, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE project_id = $1 AND status = $2`,
		projectID, domain.DisputeStatusOpen,
	)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("OpenByProject: %w", err)
	}
	return d, nil
}

func (r *DisputeRepository) MarkResolved(ctx context.Context, tx *sql.Tx, id, resolvedBy uuid.UUID, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE disputes SET status = $1, resolved_by = $2, resolved_at = $3
		WHERE id = $4 AND status = $5`,
		domain.DisputeStatusResolved, resolvedBy, at, id, domain.DisputeStatusOpen,
	)
	if err != nil {
		return fmt.Errorf("MarkResolved: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkResolved: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkResolved: %w", domain.ErrAlreadyResolved)
	}
	return nil
}

// AddAnnotation appends to the dispute's arbitration history. Annotations are
// never updated or deleted, so prior resolution text is always preserved.
func (r *DisputeRepository) AddAnnotation(ctx context.Context, tx *sql.Tx, a *domain.DisputeAnnotation) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO dispute_annotations (id, dispute_id, author_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.DisputeID, a.AuthorID, a.Note, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("AddAnnotation: %w", err)
	}
	return nil
}

func (r *DisputeRepository) Annotations(ctx context.Context, disputeID uuid.UUID) ([]domain.DisputeAnnotation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, dispute_id, author_id, note, created_at FROM dispute_annotations
		WHERE dispute_id = $1 ORDER BY created_at, id`,
		disputeID,
	)
	if err != nil {
		return nil, fmt.Errorf("Annotations: %w", err)
	}
	defer rows.Close()

	var annotations []domain.DisputeAnnotation
	for rows.Next() {
		var a domain.DisputeAnnotation
		if err := rows.Scan(&a.ID, &a.DisputeID, &a.AuthorID, &a.Note, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("Annotations: scan: %w", err)
		}
		annotations = append(annotations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Annotations: rows: %w", err)
	}
	return annotations, nil
}

func scanDispute(s scanner) (*domain.Dispute, error) {
	var d domain.Dispute
	var resolvedBy uuid.NullUUID

	err := s.Scan(
		&d.ID, &d.ProjectID, &d.RaisedBy, &d.RaisedByRole, &d.Reason, &d.Description,
		&d.Status, &resolvedBy, &d.ResolvedAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if resolvedBy.Valid {
		d.ResolvedBy = &resolvedBy.UUID
	}
	return &d, nil
}
