package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
)

const notificationColumns = `id, user_id, channel, title, body, status, attempts, last_attempt, created_at`

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, channel, title, body, status, attempts, last_attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.UserID, n.Channel, n.Title, n.Body, n.Status, n.Attempts, n.LastAttempt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// GetPending returns the oldest pending rows. Delivery is at-least-once: a
// row picked up twice is redelivered, never lost.
func (r *NotificationRepository) GetPending(ctx context.Context, limit int) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		WHERE status = $1 ORDER BY created_at LIMIT $2`,
		domain.NotificationStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("GetPending: %w", err)
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("GetPending: scan: %w", err)
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetPending: rows: %w", err)
	}
	return notifications, nil
}

func (r *NotificationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.NotificationStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = $1, attempts = attempts + 1, last_attempt = now()
		WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

func scanNotification(s scanner) (*domain.Notification, error) {
	var n domain.Notification
	err := s.Scan(
		&n.ID, &n.UserID, &n.Channel, &n.Title, &n.Body,
		&n.Status, &n.Attempts, &n.LastAttempt, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
