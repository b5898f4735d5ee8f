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

// ReleaseMilestone moves an approved milestone's amount out of escrow toward
// the developer. The project must be active with no open dispute; releasing
// the final milestone completes the project.
func (s *Service) ReleaseMilestone(ctx context.Context, projectID, milestoneID uuid.UUID, actor domain.Actor) (*domain.LedgerEntry, error) {
	if actor.Role == domain.RoleDeveloper {
		return nil, fmt.Errorf("ReleaseMilestone: %w", domain.ErrForbidden)
	}

	var entry *domain.LedgerEntry
	err := repository.WithRetry(ctx, s.cfg.StoreMaxRetries, func() error {
		e, err := s.releaseMilestoneTx(ctx, projectID, milestoneID, actor)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("release_milestone", metrics.OutcomeRejected).Inc()
		return nil, fmt.Errorf("ReleaseMilestone: %w", err)
	}
	metrics.OperationsTotal.WithLabelValues("release_milestone", metrics.OutcomeOK).Inc()

	s.audit.Record(ctx, actor, domain.AuditMilestoneReleased, "milestone", milestoneID, map[string]any{
		"project_id": projectID,
		"amount":     -entry.Amount,
		"entry_id":   entry.ID,
	})

	if project, err := s.projects.GetByID(ctx, projectID); err == nil {
		s.notify(ctx, project.DeveloperID, "Milestone released",
			fmt.Sprintf("%d has been released from escrow for %q.", -entry.Amount, project.Title))
	}

	logging.FromContext(ctx).Info("milestone released",
		"project_id", projectID,
		"milestone_id", milestoneID,
		"amount", -entry.Amount,
		"balance_after", entry.BalanceAfter,
	)
	return entry, nil
}

func (s *Service) releaseMilestoneTx(ctx context.Context, projectID, milestoneID uuid.UUID, actor domain.Actor) (*domain.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("releaseMilestoneTx: begin tx: %w", err)
	}
	defer tx.Rollback()

	project, err := s.projects.GetForUpdate(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("releaseMilestoneTx: %w", err)
	}

	if err := releaseEligible(actor, project); err != nil {
		return nil, fmt.Errorf("releaseMilestoneTx: %w", err)
	}

	switch {
	case project.Status == domain.ProjectStatusInDispute:
		return nil, fmt.Errorf("releaseMilestoneTx: %w", domain.ErrProjectLocked)
	case project.Status.IsTerminal():
		return nil, fmt.Errorf("releaseMilestoneTx: project is %s: %w", project.Status, domain.ErrTerminalState)
	case project.Status != domain.ProjectStatusActive:
		return nil, fmt.Errorf("releaseMilestoneTx: project is %s: %w", project.Status, domain.ErrInvalidTransition)
	}

	// Belt and braces: the status check above covers the normal path, but a
	// dispute row without the matching status transition must still block.
	open, err := s.disputes.OpenByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("releaseMilestoneTx: %w", err)
	}
	if open != nil {
		return nil, fmt.Errorf("releaseMilestoneTx: dispute %s open: %w", open.ID, domain.ErrProjectLocked)
	}

	milestone, err := s.milestones.GetForUpdate(ctx, tx, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("releaseMilestoneTx: %w", err)
	}
	if milestone.ProjectID != projectID {
		return nil, fmt.Errorf("releaseMilestoneTx: milestone %s not on project %s: %w",
			milestoneID, projectID, domain.ErrNotFound)
	}
	if milestone.Status != domain.MilestoneStatusApproved {
		return nil, fmt.Errorf("releaseMilestoneTx: milestone is %s: %w",
			milestone.Status, domain.ErrMilestoneNotApproved)
	}

	balance, err := s.ledger.LastBalance(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("releaseMilestoneTx: %w", err)
	}
	if milestone.Amount > balance {
		return nil, fmt.Errorf("releaseMilestoneTx: release %d exceeds balance %d: %w",
			milestone.Amount, balance, domain.ErrInsufficientEscrow)
	}

	now := time.Now().UTC()
	entry, err := s.appendEntry(ctx, tx, project, -milestone.Amount, domain.EntryTypeMilestoneRelease,
		fmt.Sprintf("release of milestone %q", milestone.Title),
		map[string]any{"initiator_id": actor.ID, "initiator_role": actor.Role, "milestone_id": milestone.ID},
		nil, now,
	)
	if err != nil {
		return nil, fmt.Errorf("releaseMilestoneTx: %w", err)
	}

	if err := s.milestones.MarkReleased(ctx, tx, milestone.ID, now); err != nil {
		return nil, fmt.Errorf("releaseMilestoneTx: %w", err)
	}

	total, err := s.milestones.CountByProject(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("releaseMilestoneTx: %w", err)
	}
	unreleased, err := s.milestones.CountUnreleased(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("releaseMilestoneTx: %w", err)
	}

	if total > 0 {
		progress := (total - unreleased) * 100 / total
		if err := s.projects.UpdateProgress(ctx, tx, projectID, progress); err != nil {
			return nil, fmt.Errorf("releaseMilestoneTx: %w", err)
		}
	}

	if unreleased == 0 {
		if err := s.projects.UpdateStatus(ctx, tx, projectID, domain.ProjectStatusActive, domain.ProjectStatusCompleted); err != nil {
			return nil, fmt.Errorf("releaseMilestoneTx: %w", err)
		}
		if err := s.projects.UpdateEscrowStatus(ctx, tx, projectID, domain.EscrowStatusReleased); err != nil {
			return nil, fmt.Errorf("releaseMilestoneTx: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("releaseMilestoneTx: commit: %w", err)
	}
	return entry, nil
}

func releaseEligible(actor domain.Actor, project *domain.Project) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleClient:
		if actor.ID == project.ClientID {
			return nil
		}
	case domain.RoleCommissioner:
		if actor.ID == project.CommissionerID {
			return nil
		}
	}
	return domain.ErrForbidden
}
