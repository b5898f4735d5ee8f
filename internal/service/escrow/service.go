// Package escrow orchestrates deposit verification, milestone-triggered
// release and administrative ledger adjustments. It is the primary writer to
// the ledger and the sole driver of project lifecycle transitions.
package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/config"
	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/logging"
)

type projectRepo interface {
	Create(ctx context.Context, p *domain.Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Project, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.ProjectStatus) error
	UpdateEscrowStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.EscrowStatus) error
	UpdateProgress(ctx context.Context, tx *sql.Tx, id uuid.UUID, progress int) error
	SetLedgerFrozen(ctx context.Context, id uuid.UUID, frozen bool) error
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
	LastBalance(ctx context.Context, tx *sql.Tx, projectID uuid.UUID) (int64, error)
	SumAmounts(ctx context.Context, tx *sql.Tx, projectID uuid.UUID) (int64, error)
	BalanceOf(ctx context.Context, projectID uuid.UUID) (int64, error)
	History(ctx context.Context, projectID uuid.UUID) ([]domain.LedgerEntry, error)
}

type paymentRepo interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error)
	MarkVerified(ctx context.Context, tx *sql.Tx, id, adminID uuid.UUID, at time.Time) error
	MarkRejected(ctx context.Context, tx *sql.Tx, id, adminID uuid.UUID, reason string, at time.Time) error
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Payment, error)
	ListStaleVerifications(ctx context.Context, tx *sql.Tx, projectID uuid.UUID) ([]domain.Payment, error)
}

type milestoneRepo interface {
	Create(ctx context.Context, m *domain.Milestone) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Milestone, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Milestone, error)
	MarkApproved(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkReleased(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) error
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Milestone, error)
	CountUnreleased(ctx context.Context, tx *sql.Tx, projectID uuid.UUID) (int, error)
	CountByProject(ctx context.Context, tx *sql.Tx, projectID uuid.UUID) (int, error)
}

type disputeRepo interface {
	OpenByProject(ctx context.Context, projectID uuid.UUID) (*domain.Dispute, error)
}

type notificationRepo interface {
	Create(ctx context.Context, n *domain.Notification) error
}

type auditRecorder interface {
	Record(ctx context.Context, actor domain.Actor, action, entityType string, entityID uuid.UUID, details map[string]any)
}

type Service struct {
	projects   projectRepo
	ledger     ledgerRepo
	payments   paymentRepo
	milestones milestoneRepo
	disputes   disputeRepo
	outbox     notificationRepo
	audit      auditRecorder
	db         *sql.DB
	cfg        *config.Config
}

func NewService(
	projects projectRepo,
	ledger ledgerRepo,
	payments paymentRepo,
	milestones milestoneRepo,
	disputes disputeRepo,
	outbox notificationRepo,
	audit auditRecorder,
	db *sql.DB,
	cfg *config.Config,
) *Service {
	return &Service{
		projects:   projects,
		ledger:     ledger,
		payments:   payments,
		milestones: milestones,
		disputes:   disputes,
		outbox:     outbox,
		audit:      audit,
		db:         db,
		cfg:        cfg,
	}
}

func (s *Service) GetProjectStatus(ctx context.Context, projectID uuid.UUID) (*domain.Project, error) {
	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("GetProjectStatus: %w", err)
	}
	return p, nil
}

func (s *Service) GetLedgerHistory(ctx context.Context, projectID uuid.UUID) ([]domain.LedgerEntry, error) {
	if _, err := s.projects.GetByID(ctx, projectID); err != nil {
		return nil, fmt.Errorf("GetLedgerHistory: %w", err)
	}
	entries, err := s.ledger.History(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("GetLedgerHistory: %w", err)
	}
	return entries, nil
}

func (s *Service) GetBalance(ctx context.Context, projectID uuid.UUID) (int64, error) {
	if _, err := s.projects.GetByID(ctx, projectID); err != nil {
		return 0, fmt.Errorf("GetBalance: %w", err)
	}
	balance, err := s.ledger.BalanceOf(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("GetBalance: %w", err)
	}
	return balance, nil
}

func (s *Service) GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("GetPayment: %w", err)
	}
	return p, nil
}

func (s *Service) ListPayments(ctx context.Context, projectID uuid.UUID) ([]domain.Payment, error) {
	if _, err := s.projects.GetByID(ctx, projectID); err != nil {
		return nil, fmt.Errorf("ListPayments: %w", err)
	}
	payments, err := s.payments.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("ListPayments: %w", err)
	}
	return payments, nil
}

func (s *Service) ListMilestones(ctx context.Context, projectID uuid.UUID) ([]domain.Milestone, error) {
	m, err := s.milestones.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("ListMilestones: %w", err)
	}
	return m, nil
}

// notify enqueues one outbox row. Enqueue failures are logged and dropped:
// notification delivery must never block or fail an engine operation.
func (s *Service) notify(ctx context.Context, userID uuid.UUID, title, body string) {
	n := &domain.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Channel:   domain.ChannelInApp,
		Title:     title,
		Body:      body,
		Status:    domain.NotificationStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.outbox.Create(ctx, n); err != nil {
		logging.FromContext(ctx).Warn("notification enqueue failed",
			"user_id", userID,
			"title", title,
			"error", err,
		)
	}
}
