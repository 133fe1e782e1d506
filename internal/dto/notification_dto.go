package dto

import (
	"time"

	"github.com/noah-isme/lms-gateway/internal/models"
)

// Feed event kinds published whenever a user's feed changes.
const (
	FeedEventHydrated = "hydrated"
	FeedEventPushed   = "pushed"
	FeedEventRead     = "read"
	FeedEventReadAll  = "read_all"
	FeedEventDeleted  = "deleted"
)

// NotificationFeedQuery selects a page of the feed.
type NotificationFeedQuery struct {
	Page  int `query:"page" validate:"omitempty,min=1"`
	Limit int `query:"limit" validate:"omitempty,min=1,max=100"`
}

// NotificationFeedResponse is the current view of a user's feed.
type NotificationFeedResponse struct {
	Notifications []models.Notification `json:"notifications"`
	Pagination    models.Pagination     `json:"pagination"`
	UnreadCount   int                   `json:"unreadCount"`
}

// FeedEvent describes a single change to a user's feed.
type FeedEvent struct {
	Source         string               `json:"source,omitempty"`
	Kind           string               `json:"kind"`
	UserID         string               `json:"userId"`
	UnreadCount    int                  `json:"unreadCount"`
	NotificationID string               `json:"notificationId,omitempty"`
	Notification   *models.Notification `json:"notification,omitempty"`
	SentAt         time.Time            `json:"sentAt"`
}

// NotificationPreferences is the opaque preference document owned by the backend.
type NotificationPreferences map[string]interface{}
