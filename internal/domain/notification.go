package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "pending"
	NotificationStatusDispatched NotificationStatus = "dispatched"
	NotificationStatusFailed     NotificationStatus = "failed"
)

type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelInApp NotificationChannel = "in_app"
)

// Notification is one outbox row. Delivery is fire-and-forget: the engine
// writes the row after its financial mutation commits and a poller dispatches
// it later, so delivery failures never roll back money movement.
type Notification struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Channel     NotificationChannel
	Title       string
	Body        string
	Status      NotificationStatus
	Attempts    int
	LastAttempt *time.Time
	CreatedAt   time.Time
}
