package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/auth"
	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/logging"
	"github.com/devbazaar/escrow-engine/internal/service/dispute"
)

type disputeService interface {
	Raise(ctx context.Context, projectID uuid.UUID, reason, description string, actor domain.Actor) (*domain.Dispute, error)
	Get(ctx context.Context, disputeID uuid.UUID) (*domain.Dispute, []domain.DisputeAnnotation, error)
	Resolve(ctx context.Context, disputeID uuid.UUID, action domain.ResolutionAction, note string, actor domain.Actor) (*dispute.Resolution, error)
	Annotate(ctx context.Context, disputeID uuid.UUID, note string, actor domain.Actor) (*domain.DisputeAnnotation, error)
}

type DisputeHandler struct {
	disputes disputeService
}

func NewDisputeHandler(disputes disputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

type raiseDisputeRequest struct {
	ProjectID   string `json:"project_id"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

func (r raiseDisputeRequest) Validate() []FieldError {
	var errs []FieldError
	if r.ProjectID == "" {
		errs = append(errs, FieldError{Field: "project_id", Message: "required"})
	} else if _, err := uuid.Parse(r.ProjectID); err != nil {
		errs = append(errs, FieldError{Field: "project_id", Message: "must be a valid UUID"})
	}
	if r.Reason == "" {
		errs = append(errs, FieldError{Field: "reason", Message: "required"})
	}
	return errs
}

type disputeDTO struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	RaisedBy     uuid.UUID  `json:"raised_by"`
	RaisedByRole string     `json:"raised_by_role"`
	Reason       string     `json:"reason"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status"`
	ResolvedBy   *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toDisputeDTO(d *domain.Dispute) disputeDTO {
	return disputeDTO{
		ID:           d.ID,
		ProjectID:    d.ProjectID,
		RaisedBy:     d.RaisedBy,
		RaisedByRole: string(d.RaisedByRole),
		Reason:       d.Reason,
		Description:  d.Description,
		Status:       string(d.Status),
		ResolvedBy:   d.ResolvedBy,
		ResolvedAt:   d.ResolvedAt,
		CreatedAt:    d.CreatedAt,
	}
}

type annotationDTO struct {
	ID        uuid.UUID `json:"id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

func toAnnotationDTO(a *domain.DisputeAnnotation) annotationDTO {
	return annotationDTO{
		ID:        a.ID,
		AuthorID:  a.AuthorID,
		Note:      a.Note,
		CreatedAt: a.CreatedAt,
	}
}

func (h *DisputeHandler) Raise(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req raiseDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	d, err := h.disputes.Raise(r.Context(), uuid.MustParse(req.ProjectID), req.Reason, req.Description, actor)
	if err != nil {
		log.Warn("dispute creation failed", "project_id", req.ProjectID, "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/disputes/%s", d.ID))
	RespondSuccess(w, http.StatusCreated, toDisputeDTO(d))
}

func (h *DisputeHandler) Get(w http.ResponseWriter, r *http.Request) {
	disputeID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	d, annotations, err := h.disputes.Get(r.Context(), disputeID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("dispute lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	annotationDTOs := make([]annotationDTO, 0, len(annotations))
	for i := range annotations {
		annotationDTOs = append(annotationDTOs, toAnnotationDTO(&annotations[i]))
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"dispute":     toDisputeDTO(d),
		"annotations": annotationDTOs,
	})
}

type resolveDisputeRequest struct {
	Action string `json:"action"`
	Note   string `json:"note"`
}

func (r resolveDisputeRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Action == "" {
		errs = append(errs, FieldError{Field: "action", Message: "required"})
	} else if !domain.ResolutionAction(r.Action).IsValid() {
		errs = append(errs, FieldError{Field: "action", Message: "must be refund_client, release_developer, or split"})
	}
	if r.Note == "" {
		errs = append(errs, FieldError{Field: "note", Message: "required"})
	}
	return errs
}

func (h *DisputeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	disputeID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req resolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	resolution, err := h.disputes.Resolve(r.Context(), disputeID, domain.ResolutionAction(req.Action), req.Note, actor)
	if err != nil {
		if errors.Is(err, domain.ErrNoOpResolution) && resolution != nil {
			RespondAppError(w, ErrNoOpResolution, map[string]any{
				"dispute": toDisputeDTO(resolution.Dispute),
			})
			return
		}
		log.Warn("dispute resolution failed", "dispute_id", disputeID, "error", err)
		RespondDomainError(w, err)
		return
	}

	entries := make([]ledgerEntryDTO, 0, len(resolution.Entries))
	for _, e := range resolution.Entries {
		entries = append(entries, toLedgerEntryDTO(e))
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"dispute":        toDisputeDTO(resolution.Dispute),
		"action":         string(resolution.Action),
		"entries":        entries,
		"project_status": string(resolution.ProjectStatus),
	})
}

type annotateDisputeRequest struct {
	Note string `json:"note"`
}

func (h *DisputeHandler) Annotate(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	disputeID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req annotateDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.Note == "" {
		RespondValidationError(w, []FieldError{{Field: "note", Message: "required"}})
		return
	}

	a, err := h.disputes.Annotate(r.Context(), disputeID, req.Note, actor)
	if err != nil {
		logging.FromContext(r.Context()).Warn("dispute annotation failed", "dispute_id", disputeID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toAnnotationDTO(a))
}
