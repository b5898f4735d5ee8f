package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPendingVerification PaymentStatus = "pending_verification"
	PaymentStatusVerified            PaymentStatus = "verified"
	PaymentStatusRejected            PaymentStatus = "rejected"
)

// Payment is one funds-transfer attempt into escrow. The gateway confirming a
// transfer only parks the payment in pending_verification; an admin must still
// verify it before a ledger entry is written.
type Payment struct {
	ID                uuid.UUID
	ProjectID         uuid.UUID
	Amount            int64
	Currency          string
	Status            PaymentStatus
	PayerID           uuid.UUID
	Gateway           string
	GatewayReference  string
	VerifiedByAdminID *uuid.UUID
	VerifiedAt        *time.Time
	RejectionReason   *string
	CreatedAt         time.Time
}
