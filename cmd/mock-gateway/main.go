// mock-gateway simulates the external payment gateway in local development:
// it accepts a deposit request and forwards a signed confirmation webhook to
// the engine, the way a real gateway would after the client's transfer clears.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/logging"
)

type depositRequest struct {
	ProjectID string `json:"project_id"`
	PayerID   string `json:"payer_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type gatewayConfirmation struct {
	ProjectID string `json:"project_id"`
	PayerID   string `json:"payer_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Gateway   string `json:"gateway"`
	Reference string `json:"reference"`
	Timestamp string `json:"timestamp"`
}

func main() {
	logging.Init("mock-gateway", "info", os.Getenv("APP_ENV"))

	secret := os.Getenv("GATEWAY_WEBHOOK_SECRET")
	if secret == "" {
		slog.Error("GATEWAY_WEBHOOK_SECRET is required")
		os.Exit(1)
	}

	target := os.Getenv("ENGINE_WEBHOOK_URL")
	if target == "" {
		target = "http://localhost:8080/webhooks/gateway"
	}

	client := &http.Client{Timeout: 10 * time.Second}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	mux.HandleFunc("POST /deposits", func(w http.ResponseWriter, r *http.Request) {
		var req depositRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.ProjectID == "" || req.PayerID == "" || req.Amount <= 0 {
			http.Error(w, "project_id, payer_id and a positive amount are required", http.StatusBadRequest)
			return
		}
		if req.Currency == "" {
			req.Currency = "USD"
		}

		confirmation := gatewayConfirmation{
			ProjectID: req.ProjectID,
			PayerID:   req.PayerID,
			Amount:    req.Amount,
			Currency:  req.Currency,
			Gateway:   "mock-gateway",
			Reference: fmt.Sprintf("mock-%s", uuid.New()),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		body, err := json.Marshal(confirmation)
		if err != nil {
			http.Error(w, "failed to build confirmation", http.StatusInternalServerError)
			return
		}

		status, respBody, err := deliver(client, target, body, secret)
		if err != nil {
			slog.Error("failed to deliver confirmation", "error", err)
			http.Error(w, "delivery failed", http.StatusBadGateway)
			return
		}

		slog.Info("confirmation delivered",
			"project_id", req.ProjectID,
			"amount", req.Amount,
			"reference", confirmation.Reference,
			"engine_status", status,
		)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if _, err := w.Write(respBody); err != nil {
			slog.Error("failed to relay engine response", "error", err)
		}
	})

	addr := ":8081"
	slog.Info("mock gateway started", "addr", addr, "target", target)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func deliver(client *http.Client, target string, body []byte, secret string) (int, []byte, error) {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("deliver: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("deliver: read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
