// Package notify records durable, admin-facing events for a gallery.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gnanamtech85-ops/photo-proofing-app/internal/store"
)

// DefaultLimit caps how many notifications a feed returns.
const DefaultLimit = 50

type Store interface {
	InsertNotification(ctx context.Context, n store.Notification) (int64, error)
	ListNotifications(ctx context.Context, adminID int64, limit int) ([]store.Notification, error)
	UnreadNotificationCount(ctx context.Context, adminID int64) (int, error)
	MarkNotificationRead(ctx context.Context, notificationID, adminID int64) error
	MarkAllNotificationsRead(ctx context.Context, adminID int64) (int64, error)
}

type Emitter struct {
	store Store
}

func NewEmitter(s Store) *Emitter {
	return &Emitter{store: s}
}

// Feed is the newest-first notification list plus the unread total.
type Feed struct {
	Notifications []store.Notification
	Unread        int
}

// Emit appends one unread notification. Callers run it after the ledger
// write has committed and must not fail the mutation when it errors.
func (e *Emitter) Emit(ctx context.Context, galleryID int64, kind store.NotificationType, message string, payload any) (int64, error) {
	data := "{}"
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal notification payload: %w", err)
		}
		data = string(raw)
	}
	id, err := e.store.InsertNotification(ctx, store.Notification{
		GalleryID: galleryID,
		Type:      kind,
		Message:   message,
		Data:      data,
	})
	if err != nil {
		return 0, fmt.Errorf("emit %s notification: %w", kind, err)
	}
	return id, nil
}

func (e *Emitter) List(ctx context.Context, adminID int64) (Feed, error) {
	items, err := e.store.ListNotifications(ctx, adminID, DefaultLimit)
	if err != nil {
		return Feed{}, err
	}
	unread, err := e.store.UnreadNotificationCount(ctx, adminID)
	if err != nil {
		return Feed{}, err
	}
	return Feed{Notifications: items, Unread: unread}, nil
}

// MarkRead returns store.ErrNotFound when the notification is not under one
// of the admin's galleries.
func (e *Emitter) MarkRead(ctx context.Context, notificationID, adminID int64) error {
	return e.store.MarkNotificationRead(ctx, notificationID, adminID)
}

func (e *Emitter) MarkAllRead(ctx context.Context, adminID int64) (int64, error) {
	return e.store.MarkAllNotificationsRead(ctx, adminID)
}
