package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/metrics"
)

type CreateProjectRequest struct {
	ClientID    uuid.UUID
	DeveloperID uuid.UUID
	Title       string
	TotalValue  int64
}

// CreateProject opens a new lead. The commissioner creating it becomes the
// project's commissioner; admins may create on someone's behalf only via the
// same path with their own id.
func (s *Service) CreateProject(ctx context.Context, req CreateProjectRequest, actor domain.Actor) (*domain.Project, error) {
	if actor.Role != domain.RoleCommissioner && actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("CreateProject: %w", domain.ErrForbidden)
	}
	if req.Title == "" {
		return nil, fmt.Errorf("CreateProject: title required: %w", domain.ErrInvalidRequest)
	}
	if req.TotalValue <= 0 {
		return nil, fmt.Errorf("CreateProject: %w", domain.ErrInvalidAmount)
	}

	now := time.Now().UTC()
	p := &domain.Project{
		ID:             uuid.New(),
		Status:         domain.ProjectStatusLead,
		EscrowStatus:   domain.EscrowStatusNone,
		ClientID:       req.ClientID,
		DeveloperID:    req.DeveloperID,
		CommissionerID: actor.ID,
		Title:          req.Title,
		TotalValue:     req.TotalValue,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("CreateProject: %w", err)
	}

	s.audit.Record(ctx, actor, domain.AuditProjectStatusChanged, "project", p.ID, map[string]any{
		"to": p.Status,
	})
	return p, nil
}

// SubmitProposal moves a lead to proposed for client review.
func (s *Service) SubmitProposal(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*domain.Project, error) {
	return s.transition(ctx, projectID, domain.ProjectStatusProposed, actor, func(p *domain.Project) error {
		if actor.Role == domain.RoleAdmin {
			return nil
		}
		if actor.Role == domain.RoleCommissioner && actor.ID == p.CommissionerID {
			return nil
		}
		return domain.ErrForbidden
	})
}

// AcceptProposal is the client accepting the terms; the project then waits on
// the deposit. The status and escrow status move in one transaction.
func (s *Service) AcceptProposal(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*domain.Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("AcceptProposal: begin tx: %w", err)
	}
	defer tx.Rollback()

	project, err := s.projects.GetForUpdate(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("AcceptProposal: %w", err)
	}
	if !actor.IsAdmin() && !(actor.Role == domain.RoleClient && actor.ID == project.ClientID) {
		return nil, fmt.Errorf("AcceptProposal: %w", domain.ErrForbidden)
	}
	if err := domain.ValidateTransition(project.Status, domain.ProjectStatusDepositPending); err != nil {
		metrics.OperationsTotal.WithLabelValues("transition", metrics.OutcomeRejected).Inc()
		return nil, fmt.Errorf("AcceptProposal: %w", err)
	}
	if err := s.projects.UpdateStatus(ctx, tx, projectID, project.Status, domain.ProjectStatusDepositPending); err != nil {
		return nil, fmt.Errorf("AcceptProposal: %w", err)
	}
	if err := s.projects.UpdateEscrowStatus(ctx, tx, projectID, domain.EscrowStatusDepositPending); err != nil {
		return nil, fmt.Errorf("AcceptProposal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("AcceptProposal: commit: %w", err)
	}
	metrics.OperationsTotal.WithLabelValues("transition", metrics.OutcomeOK).Inc()

	s.audit.Record(ctx, actor, domain.AuditProjectStatusChanged, "project", projectID, map[string]any{
		"from": project.Status,
		"to":   domain.ProjectStatusDepositPending,
	})
	s.notify(ctx, project.CommissionerID, "Proposal accepted",
		fmt.Sprintf("The client accepted %q. Waiting on the deposit.", project.Title))

	project.Status = domain.ProjectStatusDepositPending
	project.EscrowStatus = domain.EscrowStatusDepositPending
	return project, nil
}

func (s *Service) HoldProject(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*domain.Project, error) {
	return s.transition(ctx, projectID, domain.ProjectStatusOnHold, actor, adminOnly(actor))
}

func (s *Service) ResumeProject(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*domain.Project, error) {
	return s.transition(ctx, projectID, domain.ProjectStatusActive, actor, adminOnly(actor))
}

// CancelProject is the admin force-cancel, legal from any non-terminal state.
func (s *Service) CancelProject(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*domain.Project, error) {
	p, err := s.transition(ctx, projectID, domain.ProjectStatusCancelled, actor, adminOnly(actor))
	if err != nil {
		return nil, err
	}
	s.notify(ctx, p.ClientID, "Project cancelled", fmt.Sprintf("%q has been cancelled by an administrator.", p.Title))
	s.notify(ctx, p.DeveloperID, "Project cancelled", fmt.Sprintf("%q has been cancelled by an administrator.", p.Title))
	return p, nil
}

func adminOnly(actor domain.Actor) func(*domain.Project) error {
	return func(*domain.Project) error {
		if actor.IsAdmin() {
			return nil
		}
		return domain.ErrForbidden
	}
}

// transition validates and applies one lifecycle move under the project lock.
func (s *Service) transition(ctx context.Context, projectID uuid.UUID, to domain.ProjectStatus, actor domain.Actor, eligible func(*domain.Project) error) (*domain.Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("transition: begin tx: %w", err)
	}
	defer tx.Rollback()

	project, err := s.projects.GetForUpdate(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}

	if err := eligible(project); err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}
	if err := domain.ValidateTransition(project.Status, to); err != nil {
		metrics.OperationsTotal.WithLabelValues("transition", metrics.OutcomeRejected).Inc()
		return nil, fmt.Errorf("transition: %w", err)
	}
	if err := s.projects.UpdateStatus(ctx, tx, projectID, project.Status, to); err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("transition: commit: %w", err)
	}
	metrics.OperationsTotal.WithLabelValues("transition", metrics.OutcomeOK).Inc()

	s.audit.Record(ctx, actor, domain.AuditProjectStatusChanged, "project", projectID, map[string]any{
		"from": project.Status,
		"to":   to,
	})

	project.Status = to
	return project, nil
}

// AddMilestone defines a deliverable whose client approval later triggers a
// partial release.
func (s *Service) AddMilestone(ctx context.Context, projectID uuid.UUID, title string, amount int64, actor domain.Actor) (*domain.Milestone, error) {
	if actor.Role != domain.RoleCommissioner && actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("AddMilestone: %w", domain.ErrForbidden)
	}
	if title == "" {
		return nil, fmt.Errorf("AddMilestone: title required: %w", domain.ErrInvalidRequest)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("AddMilestone: %w", domain.ErrInvalidAmount)
	}

	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("AddMilestone: %w", err)
	}
	if project.Status.IsTerminal() {
		return nil, fmt.Errorf("AddMilestone: project is %s: %w", project.Status, domain.ErrTerminalState)
	}
	if actor.Role == domain.RoleCommissioner && actor.ID != project.CommissionerID {
		return nil, fmt.Errorf("AddMilestone: %w", domain.ErrForbidden)
	}

	m := &domain.Milestone{
		ID:        uuid.New(),
		ProjectID: projectID,
		Title:     title,
		Amount:    amount,
		Status:    domain.MilestoneStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.milestones.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("AddMilestone: %w", err)
	}
	return m, nil
}

// ApproveMilestone records the client signing off a deliverable. Approval is
// a prerequisite for release, not a release itself.
func (s *Service) ApproveMilestone(ctx context.Context, milestoneID uuid.UUID, actor domain.Actor) (*domain.Milestone, error) {
	milestone, err := s.milestones.GetByID(ctx, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("ApproveMilestone: %w", err)
	}

	project, err := s.projects.GetByID(ctx, milestone.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("ApproveMilestone: %w", err)
	}
	if !actor.IsAdmin() && !(actor.Role == domain.RoleClient && actor.ID == project.ClientID) {
		return nil, fmt.Errorf("ApproveMilestone: %w", domain.ErrForbidden)
	}
	if project.Status.IsTerminal() {
		return nil, fmt.Errorf("ApproveMilestone: project is %s: %w", project.Status, domain.ErrTerminalState)
	}

	now := time.Now().UTC()
	if err := s.milestones.MarkApproved(ctx, milestoneID, now); err != nil {
		return nil, fmt.Errorf("ApproveMilestone: %w", err)
	}

	s.notify(ctx, project.DeveloperID, "Milestone approved",
		fmt.Sprintf("Milestone %q on %q was approved by the client.", milestone.Title, project.Title))

	milestone.Status = domain.MilestoneStatusApproved
	milestone.ApprovedAt = &now
	return milestone, nil
}
