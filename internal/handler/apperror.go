package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "You are not allowed to perform this action"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidAmount        = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount is invalid"}
	ErrInvalidTransition    = &AppError{http.StatusUnprocessableEntity, "INVALID_TRANSITION", "Requested lifecycle transition is not allowed"}
	ErrTerminalState        = &AppError{http.StatusUnprocessableEntity, "PROJECT_TERMINAL", "Project is in a terminal state"}
	ErrAlreadyProcessed     = &AppError{http.StatusConflict, "PAYMENT_ALREADY_PROCESSED", "Payment has already been processed"}
	ErrAlreadyResolved      = &AppError{http.StatusConflict, "DISPUTE_ALREADY_RESOLVED", "Dispute has already been resolved"}
	ErrProjectLocked        = &AppError{http.StatusConflict, "PROJECT_LOCKED", "Project is locked by an open dispute"}
	ErrDisputeOpen          = &AppError{http.StatusConflict, "DISPUTE_ALREADY_OPEN", "Project already has an open dispute"}
	ErrMilestoneNotApproved = &AppError{http.StatusUnprocessableEntity, "MILESTONE_NOT_APPROVED", "Milestone has not been approved"}
	ErrInsufficientEscrow   = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_ESCROW", "Escrow balance is insufficient"}
	ErrDuplicateReference   = &AppError{http.StatusConflict, "DUPLICATE_REFERENCE", "Gateway reference already recorded"}
	ErrNoOpResolution       = &AppError{http.StatusConflict, "RESOLUTION_NO_OP", "Dispute closed without financial effect; project was already terminal"}
	ErrLedgerFrozen         = &AppError{http.StatusConflict, "LEDGER_FROZEN", "Ledger is frozen pending reconciliation"}
	ErrCorruptionDetected   = &AppError{http.StatusInternalServerError, "LEDGER_CORRUPTION", "Ledger inconsistency detected; the project has been frozen"}
	ErrStoreUnavailable     = &AppError{http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Storage is temporarily unavailable, please retry"}

	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
	ErrInvalidSignature      = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature verification failed"}
)
