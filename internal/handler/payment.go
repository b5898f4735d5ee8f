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

type paymentService interface {
	VerifyPayment(ctx context.Context, paymentID uuid.UUID, actor domain.Actor) (*domain.Payment, error)
	RejectPayment(ctx context.Context, paymentID uuid.UUID, reason string, actor domain.Actor) error
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	ListPayments(ctx context.Context, projectID uuid.UUID) ([]domain.Payment, error)
}

type PaymentHandler struct {
	payments paymentService
}

func NewPaymentHandler(payments paymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type paymentDTO struct {
	ID                uuid.UUID  `json:"id"`
	ProjectID         uuid.UUID  `json:"project_id"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	PayerID           uuid.UUID  `json:"payer_id"`
	Gateway           string     `json:"gateway"`
	GatewayReference  string     `json:"gateway_reference"`
	VerifiedByAdminID *uuid.UUID `json:"verified_by_admin_id,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	RejectionReason   *string    `json:"rejection_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toPaymentDTO(p *domain.Payment) paymentDTO {
	return paymentDTO{
		ID:                p.ID,
		ProjectID:         p.ProjectID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Status:            string(p.Status),
		PayerID:           p.PayerID,
		Gateway:           p.Gateway,
		GatewayReference:  p.GatewayReference,
		VerifiedByAdminID: p.VerifiedByAdminID,
		VerifiedAt:        p.VerifiedAt,
		RejectionReason:   p.RejectionReason,
		CreatedAt:         p.CreatedAt,
	}
}

func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	p, err := h.payments.VerifyPayment(r.Context(), paymentID, actor)
	if err != nil {
		log.Warn("payment verification failed", "payment_id", paymentID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}

type rejectPaymentRequest struct {
	Reason string `json:"reason"`
}

func (h *PaymentHandler) Reject(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req rejectPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.Reason == "" {
		RespondValidationError(w, []FieldError{{Field: "reason", Message: "required"}})
		return
	}

	if err := h.payments.RejectPayment(r.Context(), paymentID, req.Reason, actor); err != nil {
		log.Warn("payment rejection failed", "payment_id", paymentID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	p, err := h.payments.GetPayment(r.Context(), paymentID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}

func (h *PaymentHandler) ListByProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	payments, err := h.payments.ListPayments(r.Context(), projectID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment listing failed", "project_id", projectID, "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]paymentDTO, 0, len(payments))
	for i := range payments {
		dtos = append(dtos, toPaymentDTO(&payments[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}
