package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrForbidden            = errors.New("actor role not eligible for operation")
	ErrInvalidTransition    = errors.New("illegal project status transition")
	ErrTerminalState        = errors.New("project is in a terminal state")
	ErrAlreadyProcessed     = errors.New("payment already processed")
	ErrAlreadyResolved      = errors.New("dispute already resolved")
	ErrProjectLocked        = errors.New("project has an open dispute")
	ErrDisputeOpen          = errors.New("project already has an open dispute")
	ErrMilestoneNotApproved = errors.New("milestone not approved")
	ErrInsufficientEscrow   = errors.New("insufficient escrow balance")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrCorruptionDetected   = errors.New("ledger balance mismatch detected")
	ErrLedgerFrozen         = errors.New("ledger frozen pending reconciliation")
	ErrNoOpResolution       = errors.New("resolution recorded without effect on terminal project")
	ErrDuplicateReference   = errors.New("gateway reference already received")
)
