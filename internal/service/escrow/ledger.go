package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/logging"
	"github.com/devbazaar/escrow-engine/internal/metrics"
)

// appendEntry derives and writes one ledger entry. The caller must already
// hold the project row lock in tx; that lock is what serializes the
// read-last-balance / write-new-entry pair per project.
//
// Before deriving, the running total is recomputed from scratch and compared
// against the latest balance_after. A mismatch means the append-only invariant
// broke: the project's ledger is frozen (outside tx, so the freeze survives
// the rollback) and ErrCorruptionDetected is returned.
func (s *Service) appendEntry(ctx context.Context, tx *sql.Tx, project *domain.Project, amount int64, entryType domain.EntryType, description string, metadata map[string]any, paymentID *uuid.UUID, now time.Time) (*domain.LedgerEntry, error) {
	if project.LedgerFrozen {
		return nil, fmt.Errorf("appendEntry: project %s: %w", project.ID, domain.ErrLedgerFrozen)
	}

	last, err := s.ledger.LastBalance(ctx, tx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("appendEntry: %w", err)
	}
	sum, err := s.ledger.SumAmounts(ctx, tx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("appendEntry: %w", err)
	}
	if sum != last {
		metrics.CorruptionDetectedTotal.Inc()
		logging.FromContext(ctx).Error("ledger corruption detected, freezing project",
			"project_id", project.ID,
			"recomputed_sum", sum,
			"last_balance_after", last,
		)
		if err := s.projects.SetLedgerFrozen(ctx, project.ID, true); err != nil {
			logging.FromContext(ctx).Error("failed to freeze corrupted ledger", "project_id", project.ID, "error", err)
		}
		return nil, fmt.Errorf("appendEntry: project %s: sum %d != last balance %d: %w",
			project.ID, sum, last, domain.ErrCorruptionDetected)
	}

	entry := &domain.LedgerEntry{
		ID:           uuid.New(),
		ProjectID:    project.ID,
		Amount:       amount,
		BalanceAfter: last + amount,
		EntryType:    entryType,
		Description:  description,
		Metadata:     marshalMetadata(ctx, metadata),
		PaymentID:    paymentID,
		CreatedAt:    now,
	}
	if err := s.ledger.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("appendEntry: %w", err)
	}
	return entry, nil
}

// AppendSettlementEntry writes one settlement movement on behalf of dispute
// arbitration, under the same frozen-ledger and corruption checks as every
// other append. The caller owns tx and must hold the project row lock.
func (s *Service) AppendSettlementEntry(ctx context.Context, tx *sql.Tx, project *domain.Project, amount int64, entryType domain.EntryType, description string, metadata map[string]any) (*domain.LedgerEntry, error) {
	return s.appendEntry(ctx, tx, project, amount, entryType, description, metadata, nil, time.Now().UTC())
}

func marshalMetadata(ctx context.Context, metadata map[string]any) json.RawMessage {
	if metadata == nil {
		return nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		logging.FromContext(ctx).Warn("ledger metadata marshal failed", "error", err)
		return nil
	}
	return b
}
