package domain

import (
	"time"

	"github.com/google/uuid"
)

type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
)

type ResolutionAction string

const (
	ResolutionRefundClient     ResolutionAction = "refund_client"
	ResolutionReleaseDeveloper ResolutionAction = "release_developer"
	ResolutionSplit            ResolutionAction = "split"
)

func (a ResolutionAction) IsValid() bool {
	switch a {
	case ResolutionRefundClient, ResolutionReleaseDeveloper, ResolutionSplit:
		return true
	}
	return false
}

// Dispute references exactly one project and freezes its milestone releases
// while open. The arbitration history lives in ordered annotation records, not
// a single mutable text field.
type Dispute struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	RaisedBy     uuid.UUID
	RaisedByRole Role
	Reason       string
	Description  string
	Status       DisputeStatus
	ResolvedBy   *uuid.UUID
	ResolvedAt   *time.Time
	CreatedAt    time.Time
}

type DisputeAnnotation struct {
	ID        uuid.UUID
	DisputeID uuid.UUID
	AuthorID  uuid.UUID
	Note      string
	CreatedAt time.Time
}
