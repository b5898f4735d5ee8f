// Package dispute consumes admin arbitration decisions and atomically applies
// their financial and lifecycle consequences through the escrow ledger.
package dispute

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/config"
	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/logging"
	"github.com/devbazaar/escrow-engine/internal/metrics"
)

type projectRepo interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Project, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.ProjectStatus) error
	UpdateEscrowStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.EscrowStatus) error
}

type ledgerRepo interface {
	LastBalance(ctx context.Context, tx *sql.Tx, projectID uuid.UUID) (int64, error)
}

// settlementLedger is the escrow service surface the engine settles through;
// it carries the frozen-ledger and corruption checks.
type settlementLedger interface {
	AppendSettlementEntry(ctx context.Context, tx *sql.Tx, project *domain.Project, amount int64, entryType domain.EntryType, description string, metadata map[string]any) (*domain.LedgerEntry, error)
}

type disputeRepo interface {
	Create(ctx context.Context, tx *sql.Tx, d *domain.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Dispute, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Dispute, error)
	OpenByProject(ctx context.Context, projectID uuid.UUID) (*domain.Dispute, error)
	MarkResolved(ctx context.Context, tx *sql.Tx, id, resolvedBy uuid.UUID, at time.Time) error
	AddAnnotation(ctx context.Context, tx *sql.Tx, a *domain.DisputeAnnotation) error
	Annotations(ctx context.Context, disputeID uuid.UUID) ([]domain.DisputeAnnotation, error)
}

type notificationRepo interface {
	Create(ctx context.Context, n *domain.Notification) error
}

type auditRecorder interface {
	Record(ctx context.Context, actor domain.Actor, action, entityType string, entityID uuid.UUID, details map[string]any)
}

type Engine struct {
	projects    projectRepo
	ledger      ledgerRepo
	disputes    disputeRepo
	outbox      notificationRepo
	audit       auditRecorder
	settlements settlementLedger
	db          *sql.DB
	cfg         *config.Config
}

func NewEngine(
	projects projectRepo,
	ledger ledgerRepo,
	disputes disputeRepo,
	outbox notificationRepo,
	audit auditRecorder,
	settlements settlementLedger,
	db *sql.DB,
	cfg *config.Config,
) *Engine {
	return &Engine{
		projects:    projects,
		ledger:      ledger,
		disputes:    disputes,
		outbox:      outbox,
		audit:       audit,
		settlements: settlements,
		db:          db,
		cfg:         cfg,
	}
}

// Raise opens a dispute on an active, funded project and locks its milestone
// releases by moving the project to in_dispute.
func (e *Engine) Raise(ctx context.Context, projectID uuid.UUID, reason, description string, actor domain.Actor) (*domain.Dispute, error) {
	if reason == "" {
		return nil, fmt.Errorf("Raise: reason required: %w", domain.ErrInvalidRequest)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Raise: begin tx: %w", err)
	}
	defer tx.Rollback()

	project, err := e.projects.GetForUpdate(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("Raise: %w", err)
	}

	if err := partyEligible(actor, project); err != nil {
		return nil, fmt.Errorf("Raise: %w", err)
	}
	open, err := e.disputes.OpenByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("Raise: %w", err)
	}
	if open != nil {
		return nil, fmt.Errorf("Raise: dispute %s already open: %w", open.ID, domain.ErrDisputeOpen)
	}
	if project.EscrowStatus != domain.EscrowStatusDepositVerified {
		return nil, fmt.Errorf("Raise: deposit not verified: %w", domain.ErrInvalidTransition)
	}
	if err := domain.ValidateTransition(project.Status, domain.ProjectStatusInDispute); err != nil {
		return nil, fmt.Errorf("Raise: %w", err)
	}
	if err := e.projects.UpdateStatus(ctx, tx, projectID, project.Status, domain.ProjectStatusInDispute); err != nil {
		return nil, fmt.Errorf("Raise: %w", err)
	}

	d := &domain.Dispute{
		ID:           uuid.New(),
		ProjectID:    projectID,
		RaisedBy:     actor.ID,
		RaisedByRole: actor.Role,
		Reason:       reason,
		Description:  description,
		Status:       domain.DisputeStatusOpen,
		CreatedAt:    time.Now().UTC(),
	}
	// Same transaction as the status flip: the project can never be observed
	// in in_dispute without its dispute row.
	if err := e.disputes.Create(ctx, tx, d); err != nil {
		return nil, fmt.Errorf("Raise: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Raise: commit: %w", err)
	}

	metrics.OperationsTotal.WithLabelValues("raise_dispute", metrics.OutcomeOK).Inc()
	e.audit.Record(ctx, actor, domain.AuditDisputeRaised, "dispute", d.ID, map[string]any{
		"project_id": projectID,
		"reason":     reason,
	})
	e.notifyParties(ctx, project, "Dispute opened",
		fmt.Sprintf("A dispute was opened on %q: %s. Milestone releases are frozen until arbitration.", project.Title, reason))

	return d, nil
}

func (e *Engine) Get(ctx context.Context, disputeID uuid.UUID) (*domain.Dispute, []domain.DisputeAnnotation, error) {
	d, err := e.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, nil, fmt.Errorf("Get: %w", err)
	}
	annotations, err := e.disputes.Annotations(ctx, disputeID)
	if err != nil {
		return nil, nil, fmt.Errorf("Get: %w", err)
	}
	return d, annotations, nil
}

func partyEligible(actor domain.Actor, project *domain.Project) error {
	if actor.IsAdmin() {
		return nil
	}
	switch {
	case actor.Role == domain.RoleClient && actor.ID == project.ClientID:
		return nil
	case actor.Role == domain.RoleDeveloper && actor.ID == project.DeveloperID:
		return nil
	case actor.Role == domain.RoleCommissioner && actor.ID == project.CommissionerID:
		return nil
	}
	return domain.ErrForbidden
}

func (e *Engine) notifyParties(ctx context.Context, project *domain.Project, title, body string) {
	for _, userID := range []uuid.UUID{project.ClientID, project.DeveloperID} {
		n := &domain.Notification{
			ID:        uuid.New(),
			UserID:    userID,
			Channel:   domain.ChannelInApp,
			Title:     title,
			Body:      body,
			Status:    domain.NotificationStatusPending,
			CreatedAt: time.Now().UTC(),
		}
		if err := e.outbox.Create(ctx, n); err != nil {
			logging.FromContext(ctx).Warn("notification enqueue failed", "user_id", userID, "error", err)
		}
	}
}
