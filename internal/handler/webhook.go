package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/logging"
)

type webhookPaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
}

// WebhookHandler ingests gateway deposit confirmations. A confirmation only
// parks a payment in pending_verification; money enters the ledger when an
// admin verifies it.
type WebhookHandler struct {
	payments webhookPaymentRepository
	secret   string
}

func NewWebhookHandler(payments webhookPaymentRepository, secret string) *WebhookHandler {
	return &WebhookHandler{payments: payments, secret: secret}
}

type gatewayWebhookPayload struct {
	ProjectID string `json:"project_id"`
	PayerID   string `json:"payer_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Gateway   string `json:"gateway"`
	Reference string `json:"reference"`
	Timestamp string `json:"timestamp"`
}

func (p gatewayWebhookPayload) validate() []FieldError {
	var errs []FieldError

	if p.ProjectID == "" {
		errs = append(errs, FieldError{Field: "project_id", Message: "required"})
	} else if _, err := uuid.Parse(p.ProjectID); err != nil {
		errs = append(errs, FieldError{Field: "project_id", Message: "must be a valid UUID"})
	}

	if p.PayerID == "" {
		errs = append(errs, FieldError{Field: "payer_id", Message: "required"})
	} else if _, err := uuid.Parse(p.PayerID); err != nil {
		errs = append(errs, FieldError{Field: "payer_id", Message: "must be a valid UUID"})
	}

	if p.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	if p.Gateway == "" {
		errs = append(errs, FieldError{Field: "gateway", Message: "required"})
	}

	if p.Reference == "" {
		errs = append(errs, FieldError{Field: "reference", Message: "required"})
	}

	return errs
}

func (h *WebhookHandler) ReceiveGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get("X-Webhook-Signature")
	if !verifyHMAC(body, sig, h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var payload gatewayWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("failed to parse webhook payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := payload.validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	currency := payload.Currency
	if currency == "" {
		currency = "USD"
	}

	payment := &domain.Payment{
		ID:               uuid.New(),
		ProjectID:        uuid.MustParse(payload.ProjectID),
		Amount:           payload.Amount,
		Currency:         currency,
		Status:           domain.PaymentStatusPendingVerification,
		PayerID:          uuid.MustParse(payload.PayerID),
		Gateway:          payload.Gateway,
		GatewayReference: payload.Reference,
		CreatedAt:        time.Now().UTC(),
	}

	if err := h.payments.Create(r.Context(), payment); err != nil {
		if errors.Is(err, domain.ErrDuplicateReference) {
			log.Info("duplicate gateway confirmation received",
				"gateway", payload.Gateway,
				"reference", payload.Reference,
			)
			RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
			return
		}
		log.Error("failed to store gateway payment", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("gateway confirmation stored",
		"payment_id", payment.ID,
		"project_id", payment.ProjectID,
		"gateway", payload.Gateway,
		"reference", payload.Reference,
		"amount", payload.Amount,
	)

	RespondSuccess(w, http.StatusOK, map[string]string{
		"status":     "received",
		"payment_id": payment.ID.String(),
	})
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
