package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/lms-gateway/internal/backend"
	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/models"
	"github.com/noah-isme/lms-gateway/internal/observability"
)

// ErrNotificationIDRequired is returned when a per-item operation gets an empty id.
var ErrNotificationIDRequired = errors.New("notification id is required")

// NotificationBackend is the subset of the backend API the feed depends on.
type NotificationBackend interface {
	ListNotifications(ctx context.Context, token string, page, limit int) (models.NotificationPage, error)
	MarkNotificationRead(ctx context.Context, token, id string) error
	MarkAllNotificationsRead(ctx context.Context, token string) error
	DeleteNotification(ctx context.Context, token, id string) error
	NotificationPreferences(ctx context.Context, token string) (map[string]interface{}, error)
	UpdateNotificationPreferences(ctx context.Context, token string, preferences map[string]interface{}) (map[string]interface{}, error)
}

// PushListener streams new-notification events from the backend push channel.
type PushListener interface {
	Enabled() bool
	Listen(ctx context.Context, token string, onEvent func(models.NotificationPush)) error
}

// NotificationSyncService keeps one live notification feed per signed-in user.
// Mutations are applied optimistically; a failed backend call leaves the local
// state in place, marks the feed stale and returns the error.
type NotificationSyncService interface {
	Snapshot(ctx context.Context, principal Principal, query dto.NotificationFeedQuery) (dto.NotificationFeedResponse, error)
	Refresh(ctx context.Context, principal Principal) (dto.NotificationFeedResponse, error)
	MarkRead(ctx context.Context, principal Principal, id string) (dto.NotificationFeedResponse, error)
	MarkAllRead(ctx context.Context, principal Principal) (dto.NotificationFeedResponse, error)
	Delete(ctx context.Context, principal Principal, id string) (dto.NotificationFeedResponse, error)
	OnPush(ctx context.Context, userID string, push models.NotificationPush) dto.NotificationFeedResponse
	Preferences(ctx context.Context, principal Principal) (dto.NotificationPreferences, error)
	UpdatePreferences(ctx context.Context, principal Principal, preferences dto.NotificationPreferences) (dto.NotificationPreferences, error)
	Subscribe(userID string) (<-chan dto.FeedEvent, func())
	ReconcileAll(ctx context.Context) (int, error)
	PruneIdle(idle time.Duration) int
	Start(ctx context.Context)
	Close()
}

type feedSession struct {
	mu         sync.Mutex
	userID     string
	token      string
	feed       *models.NotificationFeed
	hydrated   bool
	stale      bool
	lastSeen   time.Time
	stopPush   context.CancelFunc
	pushActive bool
}

type notificationSyncService struct {
	backend   NotificationBackend
	pusher    PushListener
	bus       FeedBus
	pageSize  int
	logger    zerolog.Logger
	tracer    trace.Tracer
	sanitizer *bluemonday.Policy
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*feedSession

	baseMu  sync.RWMutex
	baseCtx context.Context
}

// NewNotificationSyncService builds the feed synchroniser. A nil pusher disables push delivery.
func NewNotificationSyncService(api NotificationBackend, pusher PushListener, bus FeedBus, pageSize int, logger zerolog.Logger) NotificationSyncService {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &notificationSyncService{
		backend:   api,
		pusher:    pusher,
		bus:       bus,
		pageSize:  pageSize,
		logger:    logger.With().Str("component", "notification_sync_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/lms-gateway/internal/service/notification_sync"),
		sanitizer: bluemonday.StrictPolicy(),
		now:       time.Now,
		sessions:  make(map[string]*feedSession),
		baseCtx:   context.Background(),
	}
}

func (s *notificationSyncService) Start(ctx context.Context) {
	s.baseMu.Lock()
	s.baseCtx = ctx
	s.baseMu.Unlock()
	s.bus.Start(ctx)
}

func (s *notificationSyncService) Close() {
	s.mu.Lock()
	sessions := make([]*feedSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.mu.Lock()
		session.stopPushLocked()
		session.mu.Unlock()
	}
}

func (s *notificationSyncService) Snapshot(ctx context.Context, principal Principal, query dto.NotificationFeedQuery) (dto.NotificationFeedResponse, error) {
	if !principal.Valid() {
		return dto.NotificationFeedResponse{}, ErrPrincipalRequired
	}

	session := s.session(principal)
	page := query.Page
	if page <= 1 {
		session.mu.Lock()
		fresh := session.hydrated && !session.stale
		response := session.responseLocked()
		session.mu.Unlock()
		if fresh {
			return response, nil
		}
		return s.Refresh(ctx, principal)
	}

	limit := s.limit(query.Limit)
	spanCtx, span := s.tracer.Start(ctx, "notifications.fetch_page", trace.WithAttributes(
		attribute.String("notification.user_id", principal.UserID),
		attribute.Int("notification.page", page),
	))
	defer span.End()

	result, err := s.backend.ListNotifications(spanCtx, principal.Token, page, limit)
	if err != nil {
		recordSpanError(span, err)
		return s.current(session), err
	}

	session.mu.Lock()
	session.feed.Append(result)
	response := session.responseLocked()
	session.mu.Unlock()

	return response, nil
}

func (s *notificationSyncService) Refresh(ctx context.Context, principal Principal) (dto.NotificationFeedResponse, error) {
	if !principal.Valid() {
		return dto.NotificationFeedResponse{}, ErrPrincipalRequired
	}

	session := s.session(principal)
	spanCtx, span := s.tracer.Start(ctx, "notifications.refresh", trace.WithAttributes(
		attribute.String("notification.user_id", principal.UserID),
	))
	defer span.End()

	result, err := s.backend.ListNotifications(spanCtx, principal.Token, 1, s.pageSize)
	if err != nil {
		recordSpanError(span, err)
		return s.current(session), err
	}

	session.mu.Lock()
	session.feed.Replace(result)
	session.hydrated = true
	session.stale = false
	response := session.responseLocked()
	s.ensurePushLocked(session)
	session.mu.Unlock()

	s.publish(spanCtx, dto.FeedEvent{Kind: dto.FeedEventHydrated, UserID: principal.UserID, UnreadCount: response.UnreadCount})
	return response, nil
}

func (s *notificationSyncService) MarkRead(ctx context.Context, principal Principal, id string) (dto.NotificationFeedResponse, error) {
	if !principal.Valid() {
		return dto.NotificationFeedResponse{}, ErrPrincipalRequired
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return dto.NotificationFeedResponse{}, ErrNotificationIDRequired
	}

	session := s.session(principal)
	session.mu.Lock()
	changed := session.feed.MarkRead(id)
	response := session.responseLocked()
	session.mu.Unlock()

	if changed {
		s.publish(ctx, dto.FeedEvent{Kind: dto.FeedEventRead, UserID: principal.UserID, UnreadCount: response.UnreadCount, NotificationID: id})
	}

	return s.confirm(ctx, session, "notifications.mark_read", response, func(callCtx context.Context) error {
		return s.backend.MarkNotificationRead(callCtx, principal.Token, id)
	})
}

func (s *notificationSyncService) MarkAllRead(ctx context.Context, principal Principal) (dto.NotificationFeedResponse, error) {
	if !principal.Valid() {
		return dto.NotificationFeedResponse{}, ErrPrincipalRequired
	}

	session := s.session(principal)
	session.mu.Lock()
	session.feed.MarkAllRead()
	response := session.responseLocked()
	session.mu.Unlock()

	s.publish(ctx, dto.FeedEvent{Kind: dto.FeedEventReadAll, UserID: principal.UserID, UnreadCount: response.UnreadCount})

	return s.confirm(ctx, session, "notifications.mark_all_read", response, func(callCtx context.Context) error {
		return s.backend.MarkAllNotificationsRead(callCtx, principal.Token)
	})
}

func (s *notificationSyncService) Delete(ctx context.Context, principal Principal, id string) (dto.NotificationFeedResponse, error) {
	if !principal.Valid() {
		return dto.NotificationFeedResponse{}, ErrPrincipalRequired
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return dto.NotificationFeedResponse{}, ErrNotificationIDRequired
	}

	session := s.session(principal)
	session.mu.Lock()
	_, removed := session.feed.Remove(id)
	response := session.responseLocked()
	session.mu.Unlock()

	if removed {
		s.publish(ctx, dto.FeedEvent{Kind: dto.FeedEventDeleted, UserID: principal.UserID, UnreadCount: response.UnreadCount, NotificationID: id})
	}

	return s.confirm(ctx, session, "notifications.delete", response, func(callCtx context.Context) error {
		return s.backend.DeleteNotification(callCtx, principal.Token, id)
	})
}

// OnPush prepends a pushed notification as unread. Pushed items are not
// deduplicated against loaded ones; a later refresh reconciles any overlap.
func (s *notificationSyncService) OnPush(ctx context.Context, userID string, push models.NotificationPush) dto.NotificationFeedResponse {
	notification := push.Notification()
	notification.Title = strings.TrimSpace(s.sanitizer.Sanitize(notification.Title))
	notification.Message = strings.TrimSpace(s.sanitizer.Sanitize(notification.Message))
	notification.ActionText = strings.TrimSpace(s.sanitizer.Sanitize(notification.ActionText))
	if strings.TrimSpace(notification.ID) == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = models.NewTimestamp(s.now().UTC())
	}

	session := s.session(Principal{UserID: userID})
	session.mu.Lock()
	session.feed.Prepend(notification)
	response := session.responseLocked()
	session.mu.Unlock()

	s.publish(ctx, dto.FeedEvent{
		Kind:           dto.FeedEventPushed,
		UserID:         userID,
		UnreadCount:    response.UnreadCount,
		NotificationID: notification.ID,
		Notification:   &notification,
	})
	return response
}

func (s *notificationSyncService) Preferences(ctx context.Context, principal Principal) (dto.NotificationPreferences, error) {
	if !principal.Valid() {
		return nil, ErrPrincipalRequired
	}
	preferences, err := s.backend.NotificationPreferences(ctx, principal.Token)
	if err != nil {
		return nil, err
	}
	return dto.NotificationPreferences(preferences), nil
}

func (s *notificationSyncService) UpdatePreferences(ctx context.Context, principal Principal, preferences dto.NotificationPreferences) (dto.NotificationPreferences, error) {
	if !principal.Valid() {
		return nil, ErrPrincipalRequired
	}
	if preferences == nil {
		preferences = dto.NotificationPreferences{}
	}
	updated, err := s.backend.UpdateNotificationPreferences(ctx, principal.Token, preferences)
	if err != nil {
		return nil, err
	}
	return dto.NotificationPreferences(updated), nil
}

func (s *notificationSyncService) Subscribe(userID string) (<-chan dto.FeedEvent, func()) {
	s.touch(userID)
	return s.bus.Subscribe(userID)
}

// ReconcileAll re-fetches every hydrated feed. Feeds whose token the backend
// rejects are dropped; other failures leave the feed stale for the next pass.
func (s *notificationSyncService) ReconcileAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	targets := make([]Principal, 0, len(s.sessions))
	for _, session := range s.sessions {
		session.mu.Lock()
		if session.hydrated && session.token != "" {
			targets = append(targets, Principal{UserID: session.userID, Token: session.token})
		}
		session.mu.Unlock()
	}
	s.mu.Unlock()

	refreshed := 0
	var errs []error
	for _, principal := range targets {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.Refresh(ctx, principal); err != nil {
			if backend.IsUnauthorized(err) {
				s.drop(principal.UserID)
				continue
			}
			s.markStale(principal.UserID)
			errs = append(errs, err)
			continue
		}
		refreshed++
	}

	return refreshed, errors.Join(errs...)
}

// PruneIdle forgets feeds that have not been used for longer than idle and have no open streams.
func (s *notificationSyncService) PruneIdle(idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	candidates := make([]string, 0)
	for userID, session := range s.sessions {
		session.mu.Lock()
		expired := session.lastSeen.Before(cutoff)
		session.mu.Unlock()
		if expired && s.bus.Subscribers(userID) == 0 {
			candidates = append(candidates, userID)
		}
	}
	s.mu.Unlock()

	for _, userID := range candidates {
		s.drop(userID)
	}
	return len(candidates)
}

func (s *notificationSyncService) session(principal Principal) *feedSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[principal.UserID]
	if !ok {
		session = &feedSession{
			userID: principal.UserID,
			feed:   models.NewNotificationFeed(),
		}
		s.sessions[principal.UserID] = session
		observability.FeedSessionsActive().Inc()
	}

	session.mu.Lock()
	if principal.Token != "" {
		session.token = principal.Token
	}
	session.lastSeen = s.now()
	session.mu.Unlock()

	return session
}

func (s *notificationSyncService) touch(userID string) {
	s.session(Principal{UserID: userID})
}

func (s *notificationSyncService) drop(userID string) {
	s.mu.Lock()
	session, ok := s.sessions[userID]
	if ok {
		delete(s.sessions, userID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	observability.FeedSessionsActive().Dec()
	session.mu.Lock()
	session.stopPushLocked()
	session.mu.Unlock()
}

func (s *notificationSyncService) markStale(userID string) {
	s.mu.Lock()
	session, ok := s.sessions[userID]
	s.mu.Unlock()
	if !ok {
		return
	}
	session.mu.Lock()
	session.stale = true
	session.mu.Unlock()
}

func (s *notificationSyncService) current(session *feedSession) dto.NotificationFeedResponse {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.responseLocked()
}

func (s *notificationSyncService) confirm(ctx context.Context, session *feedSession, operation string, response dto.NotificationFeedResponse, call func(context.Context) error) (dto.NotificationFeedResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, operation, trace.WithAttributes(
		attribute.String("notification.user_id", session.userID),
	))
	defer span.End()

	if err := call(spanCtx); err != nil {
		recordSpanError(span, err)
		session.mu.Lock()
		session.stale = true
		session.mu.Unlock()
		s.logger.Warn().Err(err).Str("operation", operation).Str("user_id", session.userID).Msg("backend rejected optimistic feed update")
		return response, err
	}
	return response, nil
}

func (s *notificationSyncService) publish(ctx context.Context, event dto.FeedEvent) {
	event.SentAt = s.now().UTC()
	s.bus.Publish(ctx, event)
}

func (s *notificationSyncService) limit(requested int) int {
	if requested <= 0 {
		return s.pageSize
	}
	return requested
}

// ensurePushLocked starts the push listener for a hydrated session. Push
// connection failures are logged and retried by the listener, never surfaced.
func (s *notificationSyncService) ensurePushLocked(session *feedSession) {
	if session.pushActive || s.pusher == nil || !s.pusher.Enabled() {
		return
	}

	s.baseMu.RLock()
	base := s.baseCtx
	s.baseMu.RUnlock()

	ctx, cancel := context.WithCancel(base)
	session.stopPush = cancel
	session.pushActive = true

	userID := session.userID
	token := session.token
	go func() {
		err := s.pusher.Listen(ctx, token, func(push models.NotificationPush) {
			s.OnPush(ctx, userID, push)
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("push channel stopped")
		}
		session.mu.Lock()
		if session.stopPush != nil && ctx.Err() == nil {
			session.stopPush()
		}
		session.pushActive = false
		session.stopPush = nil
		session.mu.Unlock()
	}()
}

func (session *feedSession) stopPushLocked() {
	if session.stopPush != nil {
		session.stopPush()
		session.stopPush = nil
	}
}

func (session *feedSession) responseLocked() dto.NotificationFeedResponse {
	return dto.NotificationFeedResponse{
		Notifications: session.feed.Items(),
		Pagination:    session.feed.Pagination(),
		UnreadCount:   session.feed.UnreadCount(),
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
