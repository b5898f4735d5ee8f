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

type auditReader interface {
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]domain.AuditEntry, error)
}

type AuditHandler struct {
	audit auditReader
}

func NewAuditHandler(audit auditReader) *AuditHandler {
	return &AuditHandler{audit: audit}
}

type auditEntryDTO struct {
	ID         uuid.UUID       `json:"id"`
	ActorID    uuid.UUID       `json:"actor_id"`
	ActorRole  string          `json:"actor_role"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

var auditEntityTypes = map[string]bool{
	"project":   true,
	"payment":   true,
	"milestone": true,
	"dispute":   true,
}

func (h *AuditHandler) ListByEntity(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}
	if !actor.IsAdmin() {
		RespondAppError(w, ErrForbidden, nil)
		return
	}

	entityType := r.PathValue("entity_type")
	if !auditEntityTypes[entityType] {
		RespondValidationError(w, []FieldError{{Field: "entity_type", Message: "must be project, payment, milestone, or dispute"}})
		return
	}

	entityID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	entries, err := h.audit.ListByEntity(r.Context(), entityType, entityID)
	if err != nil {
		logging.FromContext(r.Context()).Error("audit listing failed", "entity_type", entityType, "entity_id", entityID, "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	dtos := make([]auditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, auditEntryDTO{
			ID:         e.ID,
			ActorID:    e.ActorID,
			ActorRole:  string(e.ActorRole),
			Action:     e.Action,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Details:    e.Details,
			CreatedAt:  e.CreatedAt,
		})
	}
	RespondSuccess(w, http.StatusOK, dtos)
}
