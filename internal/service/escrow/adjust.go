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

// AdjustLedger writes an unconditional administrative correction entry. It is
// the explicit escape hatch: always attributed to the admin in metadata and
// tagged manual so reconciliation can separate it from automatic flow.
func (s *Service) AdjustLedger(ctx context.Context, projectID uuid.UUID, amount int64, description string, actor domain.Actor) (*domain.LedgerEntry, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("AdjustLedger: %w", domain.ErrForbidden)
	}
	if amount == 0 {
		return nil, fmt.Errorf("AdjustLedger: %w", domain.ErrInvalidAmount)
	}
	if description == "" {
		return nil, fmt.Errorf("AdjustLedger: description required: %w", domain.ErrInvalidRequest)
	}

	var entry *domain.LedgerEntry
	err := repository.WithRetry(ctx, s.cfg.StoreMaxRetries, func() error {
		e, err := s.adjustTx(ctx, projectID, amount, description, actor)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("adjust_ledger", metrics.OutcomeRejected).Inc()
		return nil, fmt.Errorf("AdjustLedger: %w", err)
	}
	metrics.OperationsTotal.WithLabelValues("adjust_ledger", metrics.OutcomeOK).Inc()

	s.audit.Record(ctx, actor, domain.AuditManualAdjustment, "project", projectID, map[string]any{
		"amount":      amount,
		"description": description,
		"entry_id":    entry.ID,
	})

	logging.FromContext(ctx).Info("manual ledger adjustment",
		"project_id", projectID,
		"amount", amount,
		"balance_after", entry.BalanceAfter,
		"admin_id", actor.ID,
	)
	return entry, nil
}

func (s *Service) adjustTx(ctx context.Context, projectID uuid.UUID, amount int64, description string, actor domain.Actor) (*domain.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("adjustTx: begin tx: %w", err)
	}
	defer tx.Rollback()

	project, err := s.projects.GetForUpdate(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("adjustTx: %w", err)
	}
	if project.Status.IsTerminal() {
		return nil, fmt.Errorf("adjustTx: project is %s: %w", project.Status, domain.ErrTerminalState)
	}

	entry, err := s.appendEntry(ctx, tx, project, amount, domain.EntryTypeAdjustment,
		description,
		map[string]any{"admin_id": actor.ID, "manual": true},
		nil, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("adjustTx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("adjustTx: commit: %w", err)
	}
	return entry, nil
}

type ReconcileResult struct {
	Consistent             bool
	Balance                int64
	RecomputedSum          int64
	CompletedVerifications int
}

// Reconcile recomputes the project's running total, completes any
// verification whose ledger entry committed without the payment status update
// (crash between writes), and unfreezes the ledger when the books agree. It
// never re-applies a ledger entry.
func (s *Service) Reconcile(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*ReconcileResult, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("Reconcile: %w", domain.ErrForbidden)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: begin tx: %w", err)
	}
	defer tx.Rollback()

	project, err := s.projects.GetForUpdate(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	stale, err := s.payments.ListStaleVerifications(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}
	now := time.Now().UTC()
	for _, p := range stale {
		if err := s.payments.MarkVerified(ctx, tx, p.ID, actor.ID, now); err != nil {
			return nil, fmt.Errorf("Reconcile: complete stale verification %s: %w", p.ID, err)
		}
	}

	last, err := s.ledger.LastBalance(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}
	sum, err := s.ledger.SumAmounts(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Reconcile: commit: %w", err)
	}

	result := &ReconcileResult{
		Consistent:             sum == last,
		Balance:                last,
		RecomputedSum:          sum,
		CompletedVerifications: len(stale),
	}

	if result.Consistent && project.LedgerFrozen {
		if err := s.projects.SetLedgerFrozen(ctx, projectID, false); err != nil {
			return nil, fmt.Errorf("Reconcile: unfreeze: %w", err)
		}
	}
	if !result.Consistent {
		metrics.CorruptionDetectedTotal.Inc()
		if err := s.projects.SetLedgerFrozen(ctx, projectID, true); err != nil {
			logging.FromContext(ctx).Error("failed to freeze inconsistent ledger", "project_id", projectID, "error", err)
		}
	}

	s.audit.Record(ctx, actor, domain.AuditLedgerReconciled, "project", projectID, map[string]any{
		"consistent":              result.Consistent,
		"balance":                 result.Balance,
		"recomputed_sum":          result.RecomputedSum,
		"completed_verifications": result.CompletedVerifications,
	})

	return result, nil
}
