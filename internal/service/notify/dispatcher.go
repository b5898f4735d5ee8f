// Package notify drains the notification outbox. Rows are written by the
// escrow and dispute services after their transactions commit and dispatched
// here on a polling loop, so a slow or failing channel never blocks or rolls
// back money movement.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/metrics"
)

type outboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]domain.Notification, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.NotificationStatus) error
}

// Sender delivers one notification over its channel. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
}

// LogSender is the default delivery channel: it writes the notification to the
// structured log. Real email or push integrations plug in behind Sender.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(_ context.Context, n domain.Notification) error {
	s.Logger.Info("notification delivered",
		"notification_id", n.ID,
		"user_id", n.UserID,
		"channel", n.Channel,
		"title", n.Title,
	)
	return nil
}

type Dispatcher struct {
	outbox    outboxRepo
	sender    Sender
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewDispatcher(outbox outboxRepo, sender Sender, logger *slog.Logger, interval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		outbox:    outbox,
		sender:    sender,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("notification dispatcher started", "interval", d.interval, "batch_size", d.batchSize)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopped")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	pending, err := d.outbox.GetPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to fetch pending notifications", "error", err)
		return
	}

	for _, n := range pending {
		d.dispatch(ctx, n)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, n domain.Notification) {
	status := domain.NotificationStatusDispatched
	if err := d.sender.Send(ctx, n); err != nil {
		d.logger.Error("notification delivery failed",
			"notification_id", n.ID,
			"user_id", n.UserID,
			"error", err,
		)
		status = domain.NotificationStatusFailed
	}

	metrics.NotificationsTotal.WithLabelValues(string(status)).Inc()
	if err := d.outbox.UpdateStatus(ctx, n.ID, status); err != nil {
		d.logger.Error("failed to update notification status",
			"notification_id", n.ID,
			"status", status,
			"error", err,
		)
	}
}
