package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit actions written by the engine. Manual ledger adjustments carry their
// own action so reconciliation can separate manual from automatic entries.
const (
	AuditPaymentVerified      = "PAYMENT_VERIFIED"
	AuditPaymentRejected      = "PAYMENT_REJECTED"
	AuditMilestoneReleased    = "MILESTONE_RELEASED"
	AuditManualAdjustment     = "MANUAL_LEDGER_ADJUSTMENT"
	AuditLedgerReconciled     = "LEDGER_RECONCILED"
	AuditDisputeRaised        = "DISPUTE_RAISED"
	AuditProjectStatusChanged = "PROJECT_STATUS_CHANGED"
	AuditResolveDisputePrefix = "RESOLVE_DISPUTE_"
)

type AuditEntry struct {
	ID         uuid.UUID
	ActorID    uuid.UUID
	ActorRole  Role
	Action     string
	EntityType string
	EntityID   uuid.UUID
	Details    json.RawMessage
	CreatedAt  time.Time
}
