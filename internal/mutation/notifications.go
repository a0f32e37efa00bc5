package mutation

import (
	"context"

	"boardsync/internal/cache"
	"boardsync/internal/models"
)

// MarkNotificationRead marks one notification read and, if it was unread,
// decrements the unread count.
func (e *Engine) MarkNotificationRead(ctx context.Context, notificationID int64) error {
	listKey, countKey := cache.NotificationsKey(), cache.UnreadCountKey()
	return e.run(ctx, mutation{
		op:     "mark_notification_read",
		fields: map[string]interface{}{"notification_id": notificationID},
		keys:   []cache.QueryKey{listKey, countKey},
		apply: func() {
			wasUnread := false
			cache.UpdateAs(e.store, listKey, func(ns models.Notifications, ok bool) (models.Notifications, bool) {
				if !ok {
					return ns, false
				}
				for i := range ns {
					if ns[i].ID == notificationID && !ns[i].Read {
						ns[i].Read = true
						wasUnread = true
						return ns, true
					}
				}
				return ns, false
			})
			if !wasUnread {
				return
			}
			cache.UpdateAs(e.store, countKey, func(uc models.UnreadCount, ok bool) (models.UnreadCount, bool) {
				if !ok {
					return uc, false
				}
				uc.Count = adjustCount(uc.Count, false)
				return uc, true
			})
		},
		commit: func(ctx context.Context) error {
			return e.port.MarkNotificationRead(ctx, notificationID)
		},
	})
}
