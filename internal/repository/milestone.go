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

const milestoneColumns = `id, project_id, title, amount, status, approved_at, released_at, created_at`

type MilestoneRepository struct {
	db *sql.DB
}

func NewMilestoneRepository(db *sql.DB) *MilestoneRepository {
	return &MilestoneRepository{db: db}
}

func (r *MilestoneRepository) Create(ctx context.Context, m *domain.Milestone) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO milestones (id, project_id, title, amount, status, approved_at, released_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ProjectID, m.Title, m.Amount, m.Status, m.ApprovedAt, m.ReleasedAt, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *MilestoneRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Milestone, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE id = $1`, id,
	)
	m, err := scanMilestone(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return m, nil
}

func (r *MilestoneRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Milestone, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE id = $1 FOR UPDATE`, id,
	)
	m, err := scanMilestone(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return m, nil
}

func (r *MilestoneRepository) MarkApproved(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE milestones SET status = $1, approved_at = $2 WHERE id = $3 AND status = $4`,
		domain.MilestoneStatusApproved, at, id, domain.MilestoneStatusPending,
	)
	if err != nil {
		return fmt.Errorf("MarkApproved: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkApproved: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkApproved: %w", domain.ErrAlreadyProcessed)
	}
	return nil
}

func (r *MilestoneRepository) MarkReleased(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE milestones SET status = $1, released_at = $2 WHERE id = $3 AND status = $4`,
		domain.MilestoneStatusReleased, at, id, domain.MilestoneStatusApproved,
	)
	if err != nil {
		return fmt.Errorf("MarkReleased: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkReleased: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkReleased: %w", domain.ErrMilestoneNotApproved)
	}
	return nil
}

func (r *MilestoneRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Milestone, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE project_id = $1 ORDER BY created_at`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByProject: %w", err)
	}
	defer rows.Close()

	var milestones []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByProject: scan: %w", err)
		}
		milestones = append(milestones, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByProject: rows: %w", err)
	}
	return milestones, nil
}

// CountUnreleased reports how many milestones have not yet been released,
// inside the tx so the release path sees its own update.
func (r *MilestoneRepository) CountUnreleased(ctx context.Context, tx *sql.Tx, projectID uuid.UUID) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM milestones WHERE project_id = $1 AND status != $2`,
		projectID, domain.MilestoneStatusReleased,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("CountUnreleased: %w", err)
	}
	return count, nil
}

func (r *MilestoneRepository) CountByProject(ctx context.Context, tx *sql.Tx, projectID uuid.UUID) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM milestones WHERE project_id = $1`, projectID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("CountByProject: %w", err)
	}
	return count, nil
}

func scanMilestone(s scanner) (*domain.Milestone, error) {
	var m domain.Milestone
	err := s.Scan(
		&m.ID, &m.ProjectID, &m.Title, &m.Amount, &m.Status,
		&m.ApprovedAt, &m.ReleasedAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
