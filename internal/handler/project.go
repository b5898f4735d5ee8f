package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/auth"
	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/logging"
	"github.com/devbazaar/escrow-engine/internal/service/escrow"
)

type projectService interface {
	CreateProject(ctx context.Context, req escrow.CreateProjectRequest, actor domain.Actor) (*domain.Project, error)
	GetProjectStatus(ctx context.Context, projectID uuid.UUID) (*domain.Project, error)
	SubmitProposal(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*domain.Project, error)
	AcceptProposal(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*domain.Project, error)
	HoldProject(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*domain.Project, error)
	ResumeProject(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*domain.Project, error)
	CancelProject(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*domain.Project, error)
}

type ProjectHandler struct {
	projects projectService
}

func NewProjectHandler(projects projectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

type createProjectRequest struct {
	ClientID    string `json:"client_id"`
	DeveloperID string `json:"developer_id"`
	Title       string `json:"title"`
	TotalValue  int64  `json:"total_value"`
}

func (r createProjectRequest) Validate() []FieldError {
	var errs []FieldError

	if r.ClientID == "" {
		errs = append(errs, FieldError{Field: "client_id", Message: "required"})
	} else if _, err := uuid.Parse(r.ClientID); err != nil {
		errs = append(errs, FieldError{Field: "client_id", Message: "must be a valid UUID"})
	}

	if r.DeveloperID == "" {
		errs = append(errs, FieldError{Field: "developer_id", Message: "required"})
	} else if _, err := uuid.Parse(r.DeveloperID); err != nil {
		errs = append(errs, FieldError{Field: "developer_id", Message: "must be a valid UUID"})
	}

	if r.Title == "" {
		errs = append(errs, FieldError{Field: "title", Message: "required"})
	}

	if r.TotalValue <= 0 {
		errs = append(errs, FieldError{Field: "total_value", Message: "must be greater than 0"})
	}

	return errs
}

type projectDTO struct {
	ID             uuid.UUID `json:"id"`
	Status         string    `json:"status"`
	EscrowStatus   string    `json:"escrow_status"`
	ClientID       uuid.UUID `json:"client_id"`
	DeveloperID    uuid.UUID `json:"developer_id"`
	CommissionerID uuid.UUID `json:"commissioner_id"`
	Title          string    `json:"title"`
	TotalValue     int64     `json:"total_value"`
	Progress       int       `json:"progress"`
	LedgerFrozen   bool      `json:"ledger_frozen"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toProjectDTO(p *domain.Project) projectDTO {
	return projectDTO{
		ID:             p.ID,
		Status:         string(p.Status),
		EscrowStatus:   string(p.EscrowStatus),
		ClientID:       p.ClientID,
		DeveloperID:    p.DeveloperID,
		CommissionerID: p.CommissionerID,
		Title:          p.Title,
		TotalValue:     p.TotalValue,
		Progress:       p.Progress,
		LedgerFrozen:   p.LedgerFrozen,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	p, err := h.projects.CreateProject(r.Context(), escrow.CreateProjectRequest{
		ClientID:    uuid.MustParse(req.ClientID),
		DeveloperID: uuid.MustParse(req.DeveloperID),
		Title:       req.Title,
		TotalValue:  req.TotalValue,
	}, actor)
	if err != nil {
		log.Warn("project creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/projects/%s", p.ID))
	RespondSuccess(w, http.StatusCreated, toProjectDTO(p))
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	p, err := h.projects.GetProjectStatus(r.Context(), projectID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("project lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toProjectDTO(p))
}

func (h *ProjectHandler) SubmitProposal(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.projects.SubmitProposal)
}

func (h *ProjectHandler) AcceptProposal(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.projects.AcceptProposal)
}

func (h *ProjectHandler) Hold(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.projects.HoldProject)
}

func (h *ProjectHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.projects.ResumeProject)
}

func (h *ProjectHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.projects.CancelProject)
}

func (h *ProjectHandler) applyTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID, domain.Actor) (*domain.Project, error)) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	projectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	p, err := op(r.Context(), projectID, actor)
	if err != nil {
		logging.FromContext(r.Context()).Warn("project transition failed", "project_id", projectID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toProjectDTO(p))
}
