package dispute

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/logging"
	"github.com/devbazaar/escrow-engine/internal/metrics"
	"github.com/devbazaar/escrow-engine/internal/repository"
)

// Resolution is the outcome of one arbitration decision. Entries lists the
// settlement movements in the order they were appended; it is empty when the
// escrow had nothing left to settle or the project was already terminal.
type Resolution struct {
	Dispute       *domain.Dispute
	Action        domain.ResolutionAction
	Entries       []*domain.LedgerEntry
	ProjectStatus domain.ProjectStatus

	project *domain.Project
}

// Resolve settles an open dispute. The remaining escrow balance is read under
// the project row lock in the same transaction that writes the settlement
// entries, so concurrent releases can never race the payout computation.
//
// refund_client returns the full remainder to the client and cancels the
// project. release_developer pays the remainder out and completes it. split
// divides the remainder by the configured basis points, client leg first,
// developer leg absorbing the rounding remainder, then completes the project.
func (e *Engine) Resolve(ctx context.Context, disputeID uuid.UUID, action domain.ResolutionAction, note string, actor domain.Actor) (*Resolution, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("Resolve: %w", domain.ErrForbidden)
	}
	if !action.IsValid() {
		return nil, fmt.Errorf("Resolve: unknown action %q: %w", action, domain.ErrInvalidRequest)
	}
	if note == "" {
		return nil, fmt.Errorf("Resolve: note required: %w", domain.ErrInvalidRequest)
	}

	var resolution *Resolution
	err := repository.WithRetry(ctx, e.cfg.StoreMaxRetries, func() error {
		// resolveTx can both commit and fail: a terminal project closes the
		// dispute on record but reports ErrNoOpResolution.
		r, txErr := e.resolveTx(ctx, disputeID, action, note, actor)
		resolution = r
		return txErr
	})
	if err != nil && resolution == nil {
		metrics.OperationsTotal.WithLabelValues("resolve_dispute", metrics.OutcomeRejected).Inc()
		return nil, fmt.Errorf("Resolve: %w", err)
	}

	e.recordResolution(ctx, actor, action, note, resolution)

	if err != nil {
		// Recorded but ineffective: the project was already terminal.
		metrics.OperationsTotal.WithLabelValues("resolve_dispute", metrics.OutcomeNoop).Inc()
		return resolution, fmt.Errorf("Resolve: %w", err)
	}
	metrics.OperationsTotal.WithLabelValues("resolve_dispute", metrics.OutcomeOK).Inc()

	e.notifyParties(ctx, resolution.project, "Dispute resolved",
		fmt.Sprintf("The dispute on %q was resolved: %s.", resolution.project.Title, action))
	return resolution, nil
}

func (e *Engine) resolveTx(ctx context.Context, disputeID uuid.UUID, action domain.ResolutionAction, note string, actor domain.Actor) (*Resolution, error) {
	d, err := e.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, fmt.Errorf("resolveTx: %w", err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("resolveTx: begin tx: %w", err)
	}
	defer tx.Rollback()

	project, err := e.projects.GetForUpdate(ctx, tx, d.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolveTx: %w", err)
	}
	d, err = e.disputes.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return nil, fmt.Errorf("resolveTx: %w", err)
	}
	if d.Status != domain.DisputeStatusOpen {
		return nil, fmt.Errorf("resolveTx: dispute %s is %s: %w", d.ID, d.Status, domain.ErrAlreadyResolved)
	}

	now := time.Now().UTC()
	resolution := &Resolution{Dispute: d, Action: action, ProjectStatus: project.Status, project: project}

	// An admin may have force-cancelled underneath the open dispute. Close
	// the dispute and keep the decision on record, but never move money on a
	// terminal project.
	if project.Status.IsTerminal() {
		if err := e.closeDispute(ctx, tx, d, note, actor, now); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("resolveTx: commit: %w", err)
		}
		return resolution, fmt.Errorf("resolveTx: project is %s: %w", project.Status, domain.ErrNoOpResolution)
	}

	remaining, err := e.ledger.LastBalance(ctx, tx, d.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolveTx: %w", err)
	}

	entries, target, err := e.settle(ctx, tx, project, d, action, remaining)
	if err != nil {
		return nil, err
	}
	resolution.Entries = entries

	if err := e.closeDispute(ctx, tx, d, note, actor, now); err != nil {
		return nil, err
	}

	if err := domain.ValidateTransition(project.Status, target); err != nil {
		return nil, fmt.Errorf("resolveTx: %w", err)
	}
	if err := e.projects.UpdateStatus(ctx, tx, d.ProjectID, project.Status, target); err != nil {
		return nil, fmt.Errorf("resolveTx: %w", err)
	}
	if err := e.projects.UpdateEscrowStatus(ctx, tx, d.ProjectID, domain.EscrowStatusReleased); err != nil {
		return nil, fmt.Errorf("resolveTx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("resolveTx: commit: %w", err)
	}

	resolution.ProjectStatus = target
	d.Status = domain.DisputeStatusResolved
	d.ResolvedBy = &actor.ID
	d.ResolvedAt = &now
	return resolution, nil
}

// settle appends the settlement entries for one action and names the project
// status they imply. Nothing is appended when the escrow is already empty.
func (e *Engine) settle(ctx context.Context, tx *sql.Tx, project *domain.Project, d *domain.Dispute, action domain.ResolutionAction, remaining int64) ([]*domain.LedgerEntry, domain.ProjectStatus, error) {
	meta := map[string]any{"dispute_id": d.ID, "resolution_action": action}

	var legs []settlementLeg
	var target domain.ProjectStatus
	switch action {
	case domain.ResolutionRefundClient:
		legs = []settlementLeg{{remaining, domain.EntryTypeRefund, "dispute refund to client"}}
		target = domain.ProjectStatusCancelled
	case domain.ResolutionReleaseDeveloper:
		legs = []settlementLeg{{remaining, domain.EntryTypeMilestoneRelease, "dispute release to developer"}}
		target = domain.ProjectStatusCompleted
	case domain.ResolutionSplit:
		clientShare, developerShare := splitShares(remaining, e.cfg.DisputeSplitBps)
		legs = []settlementLeg{
			{clientShare, domain.EntryTypeRefund, "dispute split, client share"},
			{developerShare, domain.EntryTypeSplit, "dispute split, developer share"},
		}
		target = domain.ProjectStatusCompleted
	}

	var entries []*domain.LedgerEntry
	for _, leg := range legs {
		if leg.amount == 0 {
			continue
		}
		entry, err := e.settlements.AppendSettlementEntry(ctx, tx, project, -leg.amount, leg.entryType, leg.description, meta)
		if err != nil {
			return nil, "", fmt.Errorf("settle: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, target, nil
}

type settlementLeg struct {
	amount      int64
	entryType   domain.EntryType
	description string
}

func (e *Engine) closeDispute(ctx context.Context, tx *sql.Tx, d *domain.Dispute, note string, actor domain.Actor, now time.Time) error {
	if err := e.disputes.MarkResolved(ctx, tx, d.ID, actor.ID, now); err != nil {
		return fmt.Errorf("closeDispute: %w", err)
	}
	a := &domain.DisputeAnnotation{
		ID:        uuid.New(),
		DisputeID: d.ID,
		AuthorID:  actor.ID,
		Note:      note,
		CreatedAt: now,
	}
	if err := e.disputes.AddAnnotation(ctx, tx, a); err != nil {
		return fmt.Errorf("closeDispute: %w", err)
	}
	return nil
}

// Annotate appends an arbitration note to an open dispute without resolving it.
func (e *Engine) Annotate(ctx context.Context, disputeID uuid.UUID, note string, actor domain.Actor) (*domain.DisputeAnnotation, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("Annotate: %w", domain.ErrForbidden)
	}
	if note == "" {
		return nil, fmt.Errorf("Annotate: note required: %w", domain.ErrInvalidRequest)
	}

	d, err := e.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, fmt.Errorf("Annotate: %w", err)
	}
	if d.Status != domain.DisputeStatusOpen {
		return nil, fmt.Errorf("Annotate: dispute %s is %s: %w", d.ID, d.Status, domain.ErrAlreadyResolved)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Annotate: begin tx: %w", err)
	}
	defer tx.Rollback()

	a := &domain.DisputeAnnotation{
		ID:        uuid.New(),
		DisputeID: disputeID,
		AuthorID:  actor.ID,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.disputes.AddAnnotation(ctx, tx, a); err != nil {
		return nil, fmt.Errorf("Annotate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Annotate: commit: %w", err)
	}
	return a, nil
}

func (e *Engine) recordResolution(ctx context.Context, actor domain.Actor, action domain.ResolutionAction, note string, r *Resolution) {
	if r == nil {
		return
	}
	amounts := make([]int64, 0, len(r.Entries))
	for _, entry := range r.Entries {
		amounts = append(amounts, entry.Amount)
	}
	e.audit.Record(ctx, actor, domain.AuditResolveDisputePrefix+strings.ToUpper(string(action)),
		"dispute", r.Dispute.ID, map[string]any{
			"project_id":     r.Dispute.ProjectID,
			"note":           note,
			"entry_amounts":  amounts,
			"project_status": r.ProjectStatus,
		})

	logging.FromContext(ctx).Info("dispute resolved",
		"dispute_id", r.Dispute.ID,
		"project_id", r.Dispute.ProjectID,
		"action", action,
		"entries", len(r.Entries),
		"admin_id", actor.ID,
	)
}
