package models

import (
	"encoding/json"
	"strings"
)

// Notification types recognised by the web client.
const (
	NotificationTypeCourse  = "course"
	NotificationTypePayment = "payment"
	NotificationTypeSystem  = "system"
	NotificationTypeOther   = "other"
)

// Notification is a single item of a user's notification feed.
type Notification struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Type       string    `json:"type"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  Timestamp `json:"createdAt"`
	ActionURL  string    `json:"actionUrl,omitempty"`
	ActionText string    `json:"actionText,omitempty"`
}

// UnmarshalJSON accepts both "id" and "_id" identifiers.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type alias Notification
	var payload struct {
		alias
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	*n = Notification(payload.alias)
	if n.ID == "" {
		n.ID = payload.MongoID
	}
	n.Type = NormalizeNotificationType(n.Type)
	return nil
}

// NotificationPush is the payload of a new_notification push event.
type NotificationPush struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Type       string    `json:"type"`
	Timestamp  Timestamp `json:"timestamp"`
	ActionURL  string    `json:"actionUrl,omitempty"`
	ActionText string    `json:"actionText,omitempty"`
}

// Notification converts the push payload into an unread feed item.
func (p NotificationPush) Notification() Notification {
	return Notification{
		ID:         p.ID,
		Title:      p.Title,
		Message:    p.Message,
		Type:       NormalizeNotificationType(p.Type),
		IsRead:     false,
		CreatedAt:  p.Timestamp,
		ActionURL:  p.ActionURL,
		ActionText: p.ActionText,
	}
}

// NormalizeNotificationType folds unknown tags into "other".
func NormalizeNotificationType(value string) string {
	switch normalized := strings.ToLower(strings.TrimSpace(value)); normalized {
	case NotificationTypeCourse, NotificationTypePayment, NotificationTypeSystem:
		return normalized
	default:
		return NotificationTypeOther
	}
}

// Pagination mirrors the backend's pagination block for notification pages.
type Pagination struct {
	Current     int `json:"current"`
	Pages       int `json:"pages"`
	Total       int `json:"total"`
	UnreadCount int `json:"unreadCount"`
}

// NotificationPage is one page fetched from the backend.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	Pagination    Pagination     `json:"pagination"`
}
