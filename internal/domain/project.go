package domain

import (
	"time"

	"github.com/google/uuid"
)

type ProjectStatus string

const (
	ProjectStatusLead           ProjectStatus = "lead"
	ProjectStatusProposed       ProjectStatus = "proposed"
	ProjectStatusDepositPending ProjectStatus = "deposit_pending"
	ProjectStatusActive         ProjectStatus = "active"
	ProjectStatusInDispute      ProjectStatus = "in_dispute"
	ProjectStatusOnHold         ProjectStatus = "on_hold"
	ProjectStatusCompleted      ProjectStatus = "completed"
	ProjectStatusCancelled      ProjectStatus = "cancelled"
)

type EscrowStatus string

const (
	EscrowStatusNone            EscrowStatus = "none"
	EscrowStatusDepositPending  EscrowStatus = "deposit_pending"
	EscrowStatusDepositVerified EscrowStatus = "deposit_verified"
	EscrowStatusReleased        EscrowStatus = "released"
)

type Project struct {
	ID             uuid.UUID
	Status         ProjectStatus
	EscrowStatus   EscrowStatus
	ClientID       uuid.UUID
	DeveloperID    uuid.UUID
	CommissionerID uuid.UUID
	Title          string
	TotalValue     int64
	Progress       int
	LedgerFrozen   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
