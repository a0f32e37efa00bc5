// Package push keeps the notification views current from the server's
// event stream.
package push

import (
	"boardsync/internal/cache"
	"boardsync/internal/models"
)

// EventNewNotification is the only event type the stream carries.
const EventNewNotification = "new-notification"

// Ingest records one pushed notification: it is prepended to the
// notification list and the unread count goes up by one. Absent entries are
// created; a later full refetch replaces both.
func Ingest(store *cache.Store, n models.Notification) {
	cache.UpdateAs(store, cache.NotificationsKey(), func(ns models.Notifications, _ bool) (models.Notifications, bool) {
		return append(models.Notifications{n}, ns...), true
	})
	cache.UpdateAs(store, cache.UnreadCountKey(), func(uc models.UnreadCount, _ bool) (models.UnreadCount, bool) {
		uc.Count++
		return uc, true
	})
}
