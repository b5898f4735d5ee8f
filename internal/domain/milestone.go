package domain

import (
	"time"

	"github.com/google/uuid"
)

type MilestoneStatus string

const (
	MilestoneStatusPending  MilestoneStatus = "pending"
	MilestoneStatusApproved MilestoneStatus = "approved"
	MilestoneStatusReleased MilestoneStatus = "released"
)

type Milestone struct {
	ID         uuid.UUID
	ProjectID  uuid.UUID
	Title      string
	Amount     int64
	Status     MilestoneStatus
	ApprovedAt *time.Time
	ReleasedAt *time.Time
	CreatedAt  time.Time
}
