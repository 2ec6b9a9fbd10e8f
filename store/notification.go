package store

import (
	"context"
)

type Notification struct {
	ID        int64
	UserID    int64
	Title     string
	Message   string
	IsRead    bool
	CreatedTs int64
	ReadTs    *int64
}

func (s *Store) CreateNotification(ctx context.Context, create *Notification) (*Notification, error) {
	return s.driver.CreateNotification(ctx, create)
}

// MarkNotificationRead marks a notification read if it belongs to userID.
// It reports false when no such notification exists for that user.
func (s *Store) MarkNotificationRead(ctx context.Context, notificationID, userID int64) (bool, error) {
	return s.driver.MarkNotificationRead(ctx, notificationID, userID)
}
