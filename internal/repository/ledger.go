package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
)

const ledgerColumns = `id, project_id, seq, amount, balance_after, entry_type,
	description, metadata, payment_id, created_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create inserts an entry and fills in its database-assigned seq. Callers must
// hold the project row lock; balance_after is derived by the caller from
// LastBalance under that lock.
func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO ledger_entries (
			id, project_id, amount, balance_after, entry_type,
			description, metadata, payment_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`,
		entry.ID, entry.ProjectID, entry.Amount, entry.BalanceAfter, entry.EntryType,
		entry.Description, entry.Metadata, entry.PaymentID, entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// LastBalance returns the balance_after of the most recent entry for the
// project, or zero if the ledger is empty. Must run inside the tx holding the
// project lock when used to derive a new entry.
func (r *LedgerRepository) LastBalance(ctx context.Context, tx *sql.Tx, projectID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT balance_after FROM ledger_entries
		WHERE project_id = $1 ORDER BY seq DESC LIMIT 1`,
		projectID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("LastBalance: %w", err)
	}
	return balance, nil
}

// SumAmounts recomputes the running total from scratch. Comparing it against
// LastBalance is the corruption check: the two must always agree.
func (r *LedgerRepository) SumAmounts(ctx context.Context, tx *sql.Tx, projectID uuid.UUID) (int64, error) {
	var sum int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE project_id = $1`,
		projectID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("SumAmounts: %w", err)
	}
	return sum, nil
}

// BalanceOf is the lock-free read used by reporting paths. Readers observe a
// prefix of the per-project total order, so no lock is needed.
func (r *LedgerRepository) BalanceOf(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance_after FROM ledger_entries
		WHERE project_id = $1 ORDER BY seq DESC LIMIT 1`,
		projectID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("BalanceOf: %w", err)
	}
	return balance, nil
}

func (r *LedgerRepository) History(ctx context.Context, projectID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE project_id = $1 ORDER BY created_at, seq`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("History: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("History: rows: %w", err)
	}
	return entries, nil
}

func (r *LedgerRepository) GetByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE payment_id = $1`, paymentID,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByPaymentID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByPaymentID: %w", err)
	}
	return e, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var paymentID uuid.NullUUID
	var metadata *[]byte

	err := s.Scan(
		&e.ID, &e.ProjectID, &e.Seq, &e.Amount, &e.BalanceAfter, &e.EntryType,
		&e.Description, &metadata, &paymentID, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if paymentID.Valid {
		e.PaymentID = &paymentID.UUID
	}
	if metadata != nil {
		e.Metadata = *metadata
	}
	return &e, nil
}
