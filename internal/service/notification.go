package service

import (
	"context"
	"encoding/json"
	"fmt"

	"edubox-core/internal/model"
	"edubox-core/internal/repository"
)

// NotificationService is the durable inbox for user-visible messages.
type NotificationService struct {
	notifications *repository.NotificationRepository
}

// NewNotificationService creates a new NotificationService instance.
func NewNotificationService(notifications *repository.NotificationRepository) *NotificationService {
	return &NotificationService{notifications: notifications}
}

// Notify stores a message. payload, when non-nil, is serialized to JSON for
// the client to interpret.
func (s *NotificationService) Notify(ctx context.Context, userID int64, title, body string, payload any) (int64, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal notification payload: %w", err)
		}
	}
	return s.notifications.Insert(ctx, userID, title, body, data)
}

// List returns the user's most recent notifications.
func (s *NotificationService) List(ctx context.Context, userID int64, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.notifications.ListByUser(ctx, userID, limit)
}

// MarkRead flags one notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id int64) error {
	return s.notifications.MarkRead(ctx, userID, id)
}
