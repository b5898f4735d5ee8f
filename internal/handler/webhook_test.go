package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devbazaar/escrow-engine/internal/domain"
)

const testGatewaySecret = "test-gateway-secret"

type mockPaymentRepo struct {
	created *domain.Payment
	err     error
}

func (m *mockPaymentRepo) Create(_ context.Context, payment *domain.Payment) error {
	if m.err != nil {
		return m.err
	}
	m.created = payment
	return nil
}

func signPayload(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func validConfirmationBody() string {
	p := gatewayWebhookPayload{
		ProjectID: uuid.NewString(),
		PayerID:   uuid.NewString(),
		Amount:    43_000,
		Currency:  "USD",
		Gateway:   "mock-gateway",
		Reference: "mock-" + uuid.NewString(),
		Timestamp: "2026-08-01T00:00:00Z",
	}
	b, _ := json.Marshal(p)
	return string(b)
}

func TestVerifyHMAC(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		signature string
		secret    string
		want      bool
	}{
		{
			name:      "valid signature",
			body:      `{"reference":"abc"}`,
			signature: signPayload(`{"reference":"abc"}`, testGatewaySecret),
			secret:    testGatewaySecret,
			want:      true,
		},
		{
			name:      "wrong signature",
			body:      `{"reference":"abc"}`,
			signature: "deadbeef",
			secret:    testGatewaySecret,
			want:      false,
		},
		{
			name:      "empty signature",
			body:      `{"reference":"abc"}`,
			signature: "",
			secret:    testGatewaySecret,
			want:      false,
		},
		{
			name:      "wrong secret",
			body:      `{"reference":"abc"}`,
			signature: signPayload(`{"reference":"abc"}`, "other-secret"),
			secret:    testGatewaySecret,
			want:      false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := verifyHMAC([]byte(tc.body), tc.signature, tc.secret)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReceiveGatewayWebhook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		sign       bool
		repoErr    error
		wantStatus int
		wantData   map[string]any
		wantCode   string
	}{
		{
			name:       "valid confirmation",
			body:       validConfirmationBody(),
			sign:       true,
			wantStatus: http.StatusOK,
		},
		{
			name:       "bad signature",
			body:       validConfirmationBody(),
			sign:       false,
			wantStatus: http.StatusUnauthorized,
			wantCode:   ErrInvalidSignature.Code,
		},
		{
			name:       "malformed json",
			body:       `{not json`,
			sign:       true,
			wantStatus: ErrInvalidRequest.Status,
			wantCode:   ErrInvalidRequest.Code,
		},
		{
			name:       "missing fields",
			body:       `{"amount": -5}`,
			sign:       true,
			wantStatus: ErrValidationFailed.Status,
			wantCode:   ErrValidationFailed.Code,
		},
		{
			name:       "duplicate reference",
			body:       validConfirmationBody(),
			sign:       true,
			repoErr:    domain.ErrDuplicateReference,
			wantStatus: http.StatusOK,
			wantData:   map[string]any{"status": "already_received"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockPaymentRepo{err: tc.repoErr}
			h := NewWebhookHandler(repo, testGatewaySecret)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(tc.body))
			if tc.sign {
				req.Header.Set("X-Webhook-Signature", signPayload(tc.body, testGatewaySecret))
			} else {
				req.Header.Set("X-Webhook-Signature", "deadbeef")
			}

			rec := httptest.NewRecorder()
			h.ReceiveGatewayWebhook(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)

			var resp APIResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

			if tc.wantCode != "" {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tc.wantCode, resp.Error.Code)
				return
			}
			assert.True(t, resp.Success)
			if tc.wantData != nil {
				assert.Equal(t, tc.wantData, resp.Data)
			}
		})
	}
}

func TestReceiveGatewayWebhook_StoresPendingPayment(t *testing.T) {
	projectID := uuid.New()
	payerID := uuid.New()
	payload := gatewayWebhookPayload{
		ProjectID: projectID.String(),
		PayerID:   payerID.String(),
		Amount:    9_500,
		Gateway:   "mock-gateway",
		Reference: "mock-ref-42",
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	repo := &mockPaymentRepo{}
	h := NewWebhookHandler(repo, testGatewaySecret)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(string(body)))
	req.Header.Set("X-Webhook-Signature", signPayload(string(body), testGatewaySecret))
	rec := httptest.NewRecorder()
	h.ReceiveGatewayWebhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, repo.created)
	assert.Equal(t, projectID, repo.created.ProjectID)
	assert.Equal(t, payerID, repo.created.PayerID)
	assert.Equal(t, int64(9_500), repo.created.Amount)
	assert.Equal(t, "USD", repo.created.Currency)
	assert.Equal(t, domain.PaymentStatusPendingVerification, repo.created.Status)
	assert.Equal(t, "mock-gateway", repo.created.Gateway)
	assert.Equal(t, "mock-ref-42", repo.created.GatewayReference)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "received", data["status"])
	assert.Equal(t, repo.created.ID.String(), data["payment_id"])
}
