package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/logging"
	"github.com/devbazaar/escrow-engine/internal/metrics"
	"github.com/devbazaar/escrow-engine/internal/repository"
)

// VerifyPayment applies the three effects of deposit verification as one
// transaction: the payment flips to verified, a deposit ledger entry is
// appended, and the project moves deposit_pending -> active. The gateway has
// already confirmed the transfer by this point; verification is the deliberate
// human-in-the-loop second step.
func (s *Service) VerifyPayment(ctx context.Context, paymentID uuid.UUID, actor domain.Actor) (*domain.Payment, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("VerifyPayment: %w", domain.ErrForbidden)
	}

	var verified *domain.Payment
	err := repository.WithRetry(ctx, s.cfg.StoreMaxRetries, func() error {
		p, err := s.verifyPaymentTx(ctx, paymentID, actor)
		if err != nil {
			return err
		}
		verified = p
		return nil
	})
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("verify_payment", metrics.OutcomeRejected).Inc()
		return nil, fmt.Errorf("VerifyPayment: %w", err)
	}
	metrics.OperationsTotal.WithLabelValues("verify_payment", metrics.OutcomeOK).Inc()

	s.audit.Record(ctx, actor, domain.AuditPaymentVerified, "payment", verified.ID, map[string]any{
		"project_id": verified.ProjectID,
		"amount":     verified.Amount,
		"gateway":    verified.Gateway,
		"reference":  verified.GatewayReference,
	})

	project, err := s.projects.GetByID(ctx, verified.ProjectID)
	if err == nil {
		s.notify(ctx, project.ClientID, "Deposit verified",
			fmt.Sprintf("Your deposit of %d for %q has been verified. The project is now active.", verified.Amount, project.Title))
		s.notify(ctx, project.DeveloperID, "Project funded",
			fmt.Sprintf("Escrow for %q is funded. Work can begin.", project.Title))
	}

	logging.FromContext(ctx).Info("payment verified",
		"payment_id", verified.ID,
		"project_id", verified.ProjectID,
		"amount", verified.Amount,
		"admin_id", actor.ID,
	)
	return verified, nil
}

func (s *Service) verifyPaymentTx(ctx context.Context, paymentID uuid.UUID, actor domain.Actor) (*domain.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("verifyPaymentTx: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("verifyPaymentTx: begin tx: %w", err)
	}
	defer tx.Rollback()

	// Project lock first: the per-project single-writer boundary.
	project, err := s.projects.GetForUpdate(ctx, tx, payment.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("verifyPaymentTx: %w", err)
	}

	payment, err = s.payments.GetForUpdate(ctx, tx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("verifyPaymentTx: %w", err)
	}
	if payment.Status != domain.PaymentStatusPendingVerification {
		return nil, fmt.Errorf("verifyPaymentTx: payment %s is %s: %w",
			payment.ID, payment.Status, domain.ErrAlreadyProcessed)
	}

	if err := domain.ValidateTransition(project.Status, domain.ProjectStatusActive); err != nil {
		return nil, fmt.Errorf("verifyPaymentTx: %w", err)
	}

	now := time.Now().UTC()

	// Ledger entry first; the unique constraint on payment_id makes the write
	// idempotent if verification is re-driven after a partial failure.
	_, err = s.appendEntry(ctx, tx, project, payment.Amount, domain.EntryTypeDeposit,
		fmt.Sprintf("deposit via %s (%s)", payment.Gateway, payment.GatewayReference),
		map[string]any{"admin_id": actor.ID, "payer_id": payment.PayerID},
		&payment.ID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("verifyPaymentTx: %w", err)
	}

	if err := s.payments.MarkVerified(ctx, tx, payment.ID, actor.ID, now); err != nil {
		return nil, fmt.Errorf("verifyPaymentTx: %w", err)
	}

	if err := s.projects.UpdateStatus(ctx, tx, project.ID, project.Status, domain.ProjectStatusActive); err != nil {
		return nil, fmt.Errorf("verifyPaymentTx: %w", err)
	}
	if err := s.projects.UpdateEscrowStatus(ctx, tx, project.ID, domain.EscrowStatusDepositVerified); err != nil {
		return nil, fmt.Errorf("verifyPaymentTx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("verifyPaymentTx: commit: %w", err)
	}

	payment.Status = domain.PaymentStatusVerified
	payment.VerifiedByAdminID = &actor.ID
	payment.VerifiedAt = &now
	return payment, nil
}

// RejectPayment marks a pending payment rejected with no ledger effect.
func (s *Service) RejectPayment(ctx context.Context, paymentID uuid.UUID, reason string, actor domain.Actor) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("RejectPayment: %w", domain.ErrForbidden)
	}
	if reason == "" {
		return fmt.Errorf("RejectPayment: reason required: %w", domain.ErrInvalidRequest)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("RejectPayment: begin tx: %w", err)
	}
	defer tx.Rollback()

	payment, err := s.payments.GetForUpdate(ctx, tx, paymentID)
	if err != nil {
		return fmt.Errorf("RejectPayment: %w", err)
	}
	if payment.Status != domain.PaymentStatusPendingVerification {
		return fmt.Errorf("RejectPayment: payment %s is %s: %w",
			payment.ID, payment.Status, domain.ErrAlreadyProcessed)
	}

	now := time.Now().UTC()
	if err := s.payments.MarkRejected(ctx, tx, payment.ID, actor.ID, reason, now); err != nil {
		return fmt.Errorf("RejectPayment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("RejectPayment: commit: %w", err)
	}

	metrics.OperationsTotal.WithLabelValues("reject_payment", metrics.OutcomeOK).Inc()
	s.audit.Record(ctx, actor, domain.AuditPaymentRejected, "payment", payment.ID, map[string]any{
		"project_id": payment.ProjectID,
		"reason":     reason,
	})
	s.notify(ctx, payment.PayerID, "Deposit rejected",
		fmt.Sprintf("Your deposit of %d was rejected: %s", payment.Amount, reason))

	return nil
}
