package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
)

const projectColumns = `id, status, escrow_status, client_id, developer_id, commissioner_id,
	title, total_value, progress, ledger_frozen, created_at, updated_at`

type ProjectRepository struct {
	db *sql.DB
}

func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(ctx context.Context, p *domain.Project) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (
			id, status, escrow_status, client_id, developer_id, commissioner_id,
			title, total_value, progress, ledger_frozen, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.Status, p.EscrowStatus, p.ClientID, p.DeveloperID, p.CommissionerID,
		p.Title, p.TotalValue, p.Progress, p.LedgerFrozen, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *ProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id,
	)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

// GetForUpdate locks the project row for the duration of tx. This is the
// per-project serialization point: every ledger-appending operation takes this
// lock before reading the running balance, so two writers can never derive
// divergent balance_after values for the same project.
func (r *ProjectRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Project, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id,
	)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return p, nil
}

// UpdateStatus performs a conditional status transition. The WHERE clause on
// the current status makes the write a no-op if the project moved underneath
// us, which the caller treats as an invalid transition.
func (r *ProjectRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.ProjectStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}
	return nil
}

func (r *ProjectRepository) UpdateEscrowStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.EscrowStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET escrow_status = $1, updated_at = now() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateEscrowStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateEscrowStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateEscrowStatus: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *ProjectRepository) UpdateProgress(ctx context.Context, tx *sql.Tx, id uuid.UUID, progress int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE projects SET progress = $1, updated_at = now() WHERE id = $2`,
		progress, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateProgress: %w", err)
	}
	return nil
}

// SetLedgerFrozen runs outside any transaction so the freeze survives the
// rollback of the operation that detected the corruption.
func (r *ProjectRepository) SetLedgerFrozen(ctx context.Context, id uuid.UUID, frozen bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE projects SET ledger_frozen = $1, updated_at = now() WHERE id = $2`,
		frozen, id,
	)
	if err != nil {
		return fmt.Errorf("SetLedgerFrozen: %w", err)
	}
	return nil
}

func scanProject(s scanner) (*domain.Project, error) {
	var p domain.Project
	err := s.Scan(
		&p.ID, &p.Status, &p.EscrowStatus, &p.ClientID, &p.DeveloperID, &p.CommissionerID,
		&p.Title, &p.TotalValue, &p.Progress, &p.LedgerFrozen, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
