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
	"github.com/devbazaar/escrow-engine/internal/service/escrow"
)

type ledgerService interface {
	GetLedgerHistory(ctx context.Context, projectID uuid.UUID) ([]domain.LedgerEntry, error)
	GetBalance(ctx context.Context, projectID uuid.UUID) (int64, error)
	AdjustLedger(ctx context.Context, projectID uuid.UUID, amount int64, description string, actor domain.Actor) (*domain.LedgerEntry, error)
	Reconcile(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*escrow.ReconcileResult, error)
}

type LedgerHandler struct {
	ledger ledgerService
}

func NewLedgerHandler(ledger ledgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

type ledgerEntryDTO struct {
	ID           uuid.UUID       `json:"id"`
	ProjectID    uuid.UUID       `json:"project_id"`
	Seq          int64           `json:"seq"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	EntryType    string          `json:"entry_type"`
	Description  string          `json:"description"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	PaymentID    *uuid.UUID      `json:"payment_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toLedgerEntryDTO(e *domain.LedgerEntry) ledgerEntryDTO {
	return ledgerEntryDTO{
		ID:           e.ID,
		ProjectID:    e.ProjectID,
		Seq:          e.Seq,
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		EntryType:    string(e.EntryType),
		Description:  e.Description,
		Metadata:     e.Metadata,
		PaymentID:    e.PaymentID,
		CreatedAt:    e.CreatedAt,
	}
}

func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	entries, err := h.ledger.GetLedgerHistory(r.Context(), projectID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("ledger history failed", "project_id", projectID, "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]ledgerEntryDTO, 0, len(entries))
	for i := range entries {
		dtos = append(dtos, toLedgerEntryDTO(&entries[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), projectID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("balance lookup failed", "project_id", projectID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"balance":    balance,
	})
}

type adjustLedgerRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

func (r adjustLedgerRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Amount == 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be non-zero"})
	}
	if r.Description == "" {
		errs = append(errs, FieldError{Field: "description", Message: "required"})
	}
	return errs
}

func (h *LedgerHandler) Adjust(w http.ResponseWriter, r *http.Request) {
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

	var req adjustLedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	entry, err := h.ledger.AdjustLedger(r.Context(), projectID, req.Amount, req.Description, actor)
	if err != nil {
		log.Warn("ledger adjustment failed", "project_id", projectID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toLedgerEntryDTO(entry))
}

func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.ledger.Reconcile(r.Context(), projectID, actor)
	if err != nil {
		log.Warn("reconciliation failed", "project_id", projectID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"project_id":              projectID,
		"consistent":              result.Consistent,
		"balance":                 result.Balance,
		"recomputed_sum":          result.RecomputedSum,
		"completed_verifications": result.CompletedVerifications,
	})
}
