package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/devbazaar/escrow-engine/internal/domain"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

func RespondDomainError(w http.ResponseWriter, err error) {
	var appErr *AppError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		appErr = ErrResourceNotFound
	case errors.Is(err, domain.ErrForbidden):
		appErr = ErrForbidden
	case errors.Is(err, domain.ErrInvalidAmount):
		appErr = ErrInvalidAmount
	case errors.Is(err, domain.ErrTerminalState):
		appErr = ErrTerminalState
	case errors.Is(err, domain.ErrInvalidTransition):
		appErr = ErrInvalidTransition
	case errors.Is(err, domain.ErrAlreadyProcessed):
		appErr = ErrAlreadyProcessed
	case errors.Is(err, domain.ErrAlreadyResolved):
		appErr = ErrAlreadyResolved
	case errors.Is(err, domain.ErrProjectLocked):
		appErr = ErrProjectLocked
	case errors.Is(err, domain.ErrDisputeOpen):
		appErr = ErrDisputeOpen
	case errors.Is(err, domain.ErrMilestoneNotApproved):
		appErr = ErrMilestoneNotApproved
	case errors.Is(err, domain.ErrInsufficientEscrow):
		appErr = ErrInsufficientEscrow
	case errors.Is(err, domain.ErrDuplicateReference):
		appErr = ErrDuplicateReference
	case errors.Is(err, domain.ErrNoOpResolution):
		appErr = ErrNoOpResolution
	case errors.Is(err, domain.ErrLedgerFrozen):
		appErr = ErrLedgerFrozen
	case errors.Is(err, domain.ErrCorruptionDetected):
		appErr = ErrCorruptionDetected
	case errors.Is(err, domain.ErrStoreUnavailable):
		appErr = ErrStoreUnavailable
	case errors.Is(err, domain.ErrInvalidRequest):
		appErr = ErrInvalidRequest
	default:
		slog.Error("unhandled domain error", "error", err)
		appErr = ErrInternalError
	}

	RespondAppError(w, appErr, nil)
}
