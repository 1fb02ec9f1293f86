package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"edubox-core/internal/model"
)

// NotificationRepository stores user-visible messages. Delivery to a device
// is a client concern; this is the durable inbox.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a new NotificationRepository instance.
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *NotificationRepository) WithTx(tx pgx.Tx) *NotificationRepository {
	return &NotificationRepository{db: tx}
}

// Insert stores a notification. data may be nil or a JSON payload.
func (r *NotificationRepository) Insert(ctx context.Context, userID int64, title, body string, data []byte) (int64, error) {
	const query = `
		INSERT INTO notifications (user_id, title, body, data)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	if err := r.db.QueryRow(ctx, query, userID, title, body, data).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert notification: %w", err)
	}
	return id, nil
}

// ListByUser returns the user's notifications, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]model.Notification, error) {
	const query = `
		SELECT id, user_id, title, body, data, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Data, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkRead flags a notification as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id int64) error {
	const query = `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`

	if _, err := r.db.Exec(ctx, query, id, userID); err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}
