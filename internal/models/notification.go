package models

import "time"

// Notification represents a user notification.
type Notification struct {
	ID          int64     `json:"notificationId"`
	Message     string    `json:"message"`
	PostID      *int64    `json:"postId,omitempty"`
	Read        bool      `json:"read"`
	CreatedDate time.Time `json:"createdDate"`
}

// Notifications is a notification list, newest first.
type Notifications []Notification

// Clone returns a copy of the list.
func (ns Notifications) Clone() any {
	if ns == nil {
		return ns
	}
	out := make(Notifications, len(ns))
	for i, n := range ns {
		if n.PostID != nil {
			id := *n.PostID
			n.PostID = &id
		}
		out[i] = n
	}
	return out
}

// UnreadCount is the unread notification counter payload.
type UnreadCount struct {
	Count int `json:"count"`
}
