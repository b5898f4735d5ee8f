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

const paymentColumns = `id, project_id, amount, currency, status, payer_id, gateway,
	gateway_reference, verified_by_admin_id, verified_at, rejection_reason, created_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (
			id, project_id, amount, currency, status, payer_id, gateway,
			gateway_reference, verified_by_admin_id, verified_at, rejection_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		payment.ID, payment.ProjectID, payment.Amount, payment.Currency, payment.Status,
		payment.PayerID, payment.Gateway, payment.GatewayReference,
		payment.VerifiedByAdminID, payment.VerifiedAt, payment.RejectionReason, payment.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateReference)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetByGatewayReference(ctx context.Context, gateway, reference string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway = $1 AND gateway_reference = $2`,
		gateway, reference,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByGatewayReference: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByGatewayReference: %w", err)
	}
	return p, nil
}

// MarkVerified flips a pending payment to verified. The status guard in the
// WHERE clause is the idempotency check: a second verification attempt
// affects zero rows.
func (r *PaymentRepository) MarkVerified(ctx context.Context, tx *sql.Tx, id, adminID uuid.UUID, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = $1, verified_by_admin_id = $2, verified_at = $3
		WHERE id = $4 AND status = $5`,
		domain.PaymentStatusVerified, adminID, at, id, domain.PaymentStatusPendingVerification,
	)
	if err != nil {
		return fmt.Errorf("MarkVerified: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkVerified: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkVerified: %w", domain.ErrAlreadyProcessed)
	}
	return nil
}

func (r *PaymentRepository) MarkRejected(ctx context.Context, tx *sql.Tx, id, adminID uuid.UUID, reason string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = $1, verified_by_admin_id = $2, verified_at = $3, rejection_reason = $4
		WHERE id = $5 AND status = $6`,
		domain.PaymentStatusRejected, adminID, at, reason, id, domain.PaymentStatusPendingVerification,
	)
	if err != nil {
		return fmt.Errorf("MarkRejected: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkRejected: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkRejected: %w", domain.ErrAlreadyProcessed)
	}
	return nil
}

func (r *PaymentRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE project_id = $1 ORDER BY created_at`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByProject: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByProject: scan: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByProject: rows: %w", err)
	}
	return payments, nil
}

// ListStaleVerifications finds payments whose deposit ledger entry committed
// but whose status update did not (crash between the two writes). The
// reconciliation pass completes the status update; it never re-appends.
func (r *PaymentRepository) ListStaleVerifications(ctx context.Context, tx *sql.Tx, projectID uuid.UUID) ([]domain.Payment, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+qualifiedPaymentColumns+` FROM payments p
		JOIN ledger_entries le ON le.payment_id = p.id
		WHERE p.project_id = $1 AND p.status = $2`,
		projectID, domain.PaymentStatusPendingVerification,
	)
	if err != nil {
		return nil, fmt.Errorf("ListStaleVerifications: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("ListStaleVerifications: scan: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListStaleVerifications: rows: %w", err)
	}
	return payments, nil
}

const qualifiedPaymentColumns = `p.id, p.project_id, p.amount, p.currency, p.status, p.payer_id,
	p.gateway, p.gateway_reference, p.verified_by_admin_id, p.verified_at, p.rejection_reason, p.created_at`

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	var verifiedBy uuid.NullUUID

	err := s.Scan(
		&p.ID, &p.ProjectID, &p.Amount, &p.Currency, &p.Status, &p.PayerID,
		&p.Gateway, &p.GatewayReference, &verifiedBy, &p.VerifiedAt, &p.RejectionReason, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if verifiedBy.Valid {
		p.VerifiedByAdminID = &verifiedBy.UUID
	}
	return &p, nil
}
