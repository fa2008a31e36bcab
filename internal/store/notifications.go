package store

import (
	"context"
	"fmt"
)

func (s *SQLStore) InsertNotification(ctx context.Context, n Notification) (int64, error) {
	data := n.Data
	if data == "" {
		data = "{}"
	}
	res, err := s.db.Run(ctx, `
		INSERT INTO notifications (gallery_id, type, message, data, read)
		VALUES (?, ?, ?, ?, ?)
	`, n.GalleryID, string(n.Type), n.Message, data, false)
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	return res.LastInsertID, nil
}

// ListNotifications returns the admin's newest notifications first.
func (s *SQLStore) ListNotifications(ctx context.Context, adminID int64, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT n.id, n.gallery_id, g.name, n.type, n.message, n.data, n.read, n.created_at
		FROM notifications n
		JOIN galleries g ON g.id = n.gallery_id
		WHERE g.admin_id = ?
		ORDER BY n.created_at DESC, n.id DESC
		LIMIT ?
	`, adminID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		var kind string
		if err := rows.Scan(&item.ID, &item.GalleryID, &item.GalleryName, &kind, &item.Message,
			&item.Data, &item.Read, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		item.Type = NotificationType(kind)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *SQLStore) UnreadNotificationCount(ctx context.Context, adminID int64) (int, error) {
	var count int
	err := s.db.Get(ctx, `
		SELECT COUNT(*)
		FROM notifications n
		JOIN galleries g ON g.id = n.gallery_id
		WHERE g.admin_id = ? AND n.read = ?
	`, adminID, false).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead only touches notifications under the admin's galleries.
func (s *SQLStore) MarkNotificationRead(ctx context.Context, notificationID, adminID int64) error {
	res, err := s.db.Run(ctx, `
		UPDATE notifications SET read = ?
		WHERE id = ? AND gallery_id IN (SELECT id FROM galleries WHERE admin_id = ?)
	`, true, notificationID, adminID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) MarkAllNotificationsRead(ctx context.Context, adminID int64) (int64, error) {
	res, err := s.db.Run(ctx, `
		UPDATE notifications SET read = ?
		WHERE read = ? AND gallery_id IN (SELECT id FROM galleries WHERE admin_id = ?)
	`, true, false, adminID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return res.RowsAffected, nil
}
