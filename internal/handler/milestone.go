package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/auth"
	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/logging"
)

type milestoneService interface {
	AddMilestone(ctx context.Context, projectID uuid.UUID, title string, amount int64, actor domain.Actor) (*domain.Milestone, error)
	ApproveMilestone(ctx context.Context, milestoneID uuid.UUID, actor domain.Actor) (*domain.Milestone, error)
	ReleaseMilestone(ctx context.Context, projectID, milestoneID uuid.UUID, actor domain.Actor) (*domain.LedgerEntry, error)
	ListMilestones(ctx context.Context, projectID uuid.UUID) ([]domain.Milestone, error)
}

type MilestoneHandler struct {
	milestones milestoneService
}

func NewMilestoneHandler(milestones milestoneService) *MilestoneHandler {
	return &MilestoneHandler{milestones: milestones}
}

type addMilestoneRequest struct {
	Title  string `json:"title"`
	Amount int64  `json:"amount"`
}

func (r addMilestoneRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Title == "" {
		errs = append(errs, FieldError{Field: "title", Message: "required"})
	}
	if r.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}
	return errs
}

type milestoneDTO struct {
	ID         uuid.UUID  `json:"id"`
	ProjectID  uuid.UUID  `json:"project_id"`
	Title      string     `json:"title"`
	Amount     int64      `json:"amount"`
	Status     string     `json:"status"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toMilestoneDTO(m *domain.Milestone) milestoneDTO {
	return milestoneDTO{
		ID:         m.ID,
		ProjectID:  m.ProjectID,
		Title:      m.Title,
		Amount:     m.Amount,
		Status:     string(m.Status),
		ApprovedAt: m.ApprovedAt,
		ReleasedAt: m.ReleasedAt,
		CreatedAt:  m.CreatedAt,
	}
}

func (h *MilestoneHandler) Add(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

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

	var req addMilestoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	m, err := h.milestones.AddMilestone(r.Context(), projectID, req.Title, req.Amount, actor)
	if err != nil {
		log.Warn("milestone creation failed", "project_id", projectID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toMilestoneDTO(m))
}

func (h *MilestoneHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	milestones, err := h.milestones.ListMilestones(r.Context(), projectID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("milestone listing failed", "project_id", projectID, "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]milestoneDTO, 0, len(milestones))
	for i := range milestones {
		dtos = append(dtos, toMilestoneDTO(&milestones[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *MilestoneHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	milestoneID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	m, err := h.milestones.ApproveMilestone(r.Context(), milestoneID, actor)
	if err != nil {
		logging.FromContext(r.Context()).Warn("milestone approval failed", "milestone_id", milestoneID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toMilestoneDTO(m))
}

type releaseMilestoneRequest struct {
	ProjectID string `json:"project_id"`
}

func (h *MilestoneHandler) Release(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	milestoneID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req releaseMilestoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "project_id", Message: "must be a valid UUID"}})
		return
	}

	entry, err := h.milestones.ReleaseMilestone(r.Context(), projectID, milestoneID, actor)
	if err != nil {
		log.Warn("milestone release failed", "milestone_id", milestoneID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toLedgerEntryDTO(entry))
}
