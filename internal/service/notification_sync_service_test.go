package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-gateway/internal/backend"
	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/models"
)

type stubNotificationBackend struct {
	mu          sync.Mutex
	pages       map[int]models.NotificationPage
	listCalls   int
	listErr     error
	mutationErr error
	calls       []string
	preferences map[string]interface{}
}

func (s *stubNotificationBackend) ListNotifications(ctx context.Context, token string, page, limit int) (models.NotificationPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return models.NotificationPage{}, s.listErr
	}
	return s.pages[page], nil
}

func (s *stubNotificationBackend) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.mutationErr
}

func (s *stubNotificationBackend) MarkNotificationRead(ctx context.Context, token, id string) error {
	return s.record("read:" + id)
}

func (s *stubNotificationBackend) MarkAllNotificationsRead(ctx context.Context, token string) error {
	return s.record("read-all")
}

func (s *stubNotificationBackend) DeleteNotification(ctx context.Context, token, id string) error {
	return s.record("delete:" + id)
}

func (s *stubNotificationBackend) NotificationPreferences(ctx context.Context, token string) (map[string]interface{}, error) {
	return s.preferences, nil
}

func (s *stubNotificationBackend) UpdateNotificationPreferences(ctx context.Context, token string, preferences map[string]interface{}) (map[string]interface{}, error) {
	s.preferences = preferences
	return preferences, nil
}

func notification(id string, read bool) models.Notification {
	return models.Notification{ID: id, Title: "Title " + id, Type: models.NotificationTypeSystem, IsRead: read}
}

func threeUnreadPage() models.NotificationPage {
	return models.NotificationPage{
		Notifications: []models.Notification{
			notification("n1", false),
			notification("n2", false),
			notification("n3", false),
			notification("n4", true),
		},
		Pagination: models.Pagination{Current: 1, Pages: 2, Total: 6, UnreadCount: 3},
	}
}

func newSyncService(api NotificationBackend, pusher PushListener) (NotificationSyncService, FeedBus) {
	bus := NewFeedBus(nil, "", nil, zerolog.Nop())
	return NewNotificationSyncService(api, pusher, bus, 20, zerolog.Nop()), bus
}

func unreadIn(response dto.NotificationFeedResponse) int {
	count := 0
	for _, item := range response.Notifications {
		if !item.IsRead {
			count++
		}
	}
	return count
}

func TestNotificationSyncSnapshotHydratesOnce(t *testing.T) {
	api := &stubNotificationBackend{pages: map[int]models.NotificationPage{1: threeUnreadPage()}}
	svc, _ := newSyncService(api, nil)
	ctx := context.Background()
	principal := Principal{UserID: "u1", Token: "tok"}

	first, err := svc.Snapshot(ctx, principal, dto.NotificationFeedQuery{})
	require.NoError(t, err)
	require.Len(t, first.Notifications, 4)
	require.Equal(t, 3, first.UnreadCount)

	_, err = svc.Snapshot(ctx, principal, dto.NotificationFeedQuery{Page: 1})
	require.NoError(t, err)
	require.Equal(t, 1, api.listCalls)
}

func TestNotificationSyncLoadsLaterPages(t *testing.T) {
	api := &stubNotificationBackend{pages: map[int]models.NotificationPage{
		1: threeUnreadPage(),
		2: {
			Notifications: []models.Notification{notification("n4", true), notification("n5", true), notification("n6", true)},
			Pagination:    models.Pagination{Current: 2, Pages: 2, Total: 6, UnreadCount: 3},
		},
	}}
	svc, _ := newSyncService(api, nil)
	ctx := context.Background()
	principal := Principal{UserID: "u1", Token: "tok"}

	_, err := svc.Snapshot(ctx, principal, dto.NotificationFeedQuery{})
	require.NoError(t, err)

	response, err := svc.Snapshot(ctx, principal, dto.NotificationFeedQuery{Page: 2})
	require.NoError(t, err)
	require.Len(t, response.Notifications, 6)
	require.Equal(t, 2, response.Pagination.Current)
	require.Equal(t, 3, response.UnreadCount)
}

func TestNotificationSyncMarkReadIsOptimisticAndTargeted(t *testing.T) {
	api := &stubNotificationBackend{pages: map[int]models.NotificationPage{1: threeUnreadPage()}}
	svc, _ := newSyncService(api, nil)
	ctx := context.Background()
	principal := Principal{UserID: "u1", Token: "tok"}

	before, err := svc.Snapshot(ctx, principal, dto.NotificationFeedQuery{})
	require.NoError(t, err)

	after, err := svc.MarkRead(ctx, principal, "n2")
	require.NoError(t, err)
	require.Equal(t, before.UnreadCount-1, after.UnreadCount)

	for i, item := range after.Notifications {
		if item.ID == "n2" {
			require.True(t, item.IsRead)
			continue
		}
		require.Equal(t, before.Notifications[i], item)
	}

	again, err := svc.MarkRead(ctx, principal, "n2")
	require.NoError(t, err)
	require.Equal(t, after.UnreadCount, again.UnreadCount)
	require.Equal(t, []string{"read:n2", "read:n2"}, api.calls)

	_, err = svc.MarkRead(ctx, principal, " ")
	require.ErrorIs(t, err, ErrNotificationIDRequired)
}

func TestNotificationSyncDeleteAdjustsCountOnlyForUnread(t *testing.T) {
	api := &stubNotificationBackend{pages: map[int]models.NotificationPage{1: threeUnreadPage()}}
	svc, _ := newSyncService(api, nil)
	ctx := context.Background()
	principal := Principal{UserID: "u1", Token: "tok"}

	_, err := svc.Snapshot(ctx, principal, dto.NotificationFeedQuery{})
	require.NoError(t, err)

	response, err := svc.Delete(ctx, principal, "n4")
	require.NoError(t, err)
	require.Equal(t, 3, response.UnreadCount)
	require.Len(t, response.Notifications, 3)

	response, err = svc.Delete(ctx, principal, "n1")
	require.NoError(t, err)
	require.Equal(t, 2, response.UnreadCount)
	require.Len(t, response.Notifications, 2)
}

func TestNotificationSyncMarkAllRead(t *testing.T) {
	api := &stubNotificationBackend{pages: map[int]models.NotificationPage{1: threeUnreadPage()}}
	svc, _ := newSyncService(api, nil)
	ctx := context.Background()
	principal := Principal{UserID: "u1", Token: "tok"}

	_, err := svc.Snapshot(ctx, principal, dto.NotificationFeedQuery{})
	require.NoError(t, err)

	response, err := svc.MarkAllRead(ctx, principal)
	require.NoError(t, err)
	require.Zero(t, response.UnreadCount)
	require.Zero(t, unreadIn(response))
	require.Equal(t, []string{"read-all"}, api.calls)
}

func TestNotificationSyncEndToEndScenario(t *testing.T) {
	api := &stubNotificationBackend{pages: map[int]models.NotificationPage{1: threeUnreadPage()}}
	svc, _ := newSyncService(api, nil)
	ctx := context.Background()
	principal := Principal{UserID: "u1", Token: "tok"}

	response, err := svc.Snapshot(ctx, principal, dto.NotificationFeedQuery{})
	require.NoError(t, err)
	require.Equal(t, 3, response.UnreadCount)

	response = svc.OnPush(ctx, "u1", models.NotificationPush{ID: "p1", Title: "New lesson", Type: "course"})
	require.Equal(t, 4, response.UnreadCount)
	require.Equal(t, "p1", response.Notifications[0].ID)
	peak := len(response.Notifications)

	_, err = svc.MarkRead(ctx, principal, "p1")
	require.NoError(t, err)
	response, err = svc.MarkRead(ctx, principal, "n1")
	require.NoError(t, err)
	require.Equal(t, 2, response.UnreadCount)

	response, err = svc.Delete(ctx, principal, "n2")
	require.NoError(t, err)
	require.Equal(t, 1, response.UnreadCount)
	require.Equal(t, 1, unreadIn(response))
	require.Equal(t, peak-1, len(response.Notifications))
}

func TestNotificationSyncFailureKeepsOptimisticStateAndMarksStale(t *testing.T) {
	api := &stubNotificationBackend{pages: map[int]models.NotificationPage{1: threeUnreadPage()}}
	svc, _ := newSyncService(api, nil)
	ctx := context.Background()
	principal := Principal{UserID: "u1", Token: "tok"}

	_, err := svc.Snapshot(ctx, principal, dto.NotificationFeedQuery{})
	require.NoError(t, err)

	api.mutationErr = &backend.APIError{Endpoint: "notification_read", StatusCode: 500}
	response, err := svc.MarkRead(ctx, principal, "n1")
	require.Error(t, err)
	require.Equal(t, 2, response.UnreadCount)

	api.mutationErr = nil
	healed, err := svc.Snapshot(ctx, principal, dto.NotificationFeedQuery{})
	require.NoError(t, err)
	require.Equal(t, 2, api.listCalls)
	require.Equal(t, 3, healed.UnreadCount)
}

func TestNotificationSyncFetchFailureKeepsFeed(t *testing.T) {
	api := &stubNotificationBackend{pages: map[int]models.NotificationPage{1: threeUnreadPage()}}
	svc, _ := newSyncService(api, nil)
	ctx := context.Background()
	principal := Principal{UserID: "u1", Token: "tok"}

	_, err := svc.Snapshot(ctx, principal, dto.NotificationFeedQuery{})
	require.NoError(t, err)

	api.listErr = &backend.NetworkError{Endpoint: "notifications", Err: errors.New("connection refused")}
	response, err := svc.Refresh(ctx, principal)
	require.Error(t, err)
	require.True(t, backend.IsNetwork(err))
	require.Len(t, response.Notifications, 4)
	require.Equal(t, 3, response.UnreadCount)
}

func TestNotificationSyncPushSanitizesAndPublishes(t *testing.T) {
	api := &stubNotificationBackend{pages: map[int]models.NotificationPage{1: threeUnreadPage()}}
	svc, _ := newSyncService(api, nil)
	ctx := context.Background()

	events, cancel := svc.Subscribe("u1")
	defer cancel()

	response := svc.OnPush(ctx, "u1", models.NotificationPush{Title: "<b>Payment</b> received", Message: "<script>x()</script>Thanks", Type: "PAYMENT"})
	require.Len(t, response.Notifications, 1)

	pushed := response.Notifications[0]
	require.NotEmpty(t, pushed.ID)
	require.Equal(t, "Payment received", pushed.Title)
	require.Equal(t, "Thanks", pushed.Message)
	require.Equal(t, models.NotificationTypePayment, pushed.Type)
	require.False(t, pushed.CreatedAt.IsZero())

	select {
	case event := <-events:
		require.Equal(t, dto.FeedEventPushed, event.Kind)
		require.Equal(t, 1, event.UnreadCount)
		require.Equal(t, pushed.ID, event.NotificationID)
		require.NotEmpty(t, event.Source)
	case <-time.After(time.Second):
		t.Fatal("expected pushed event")
	}
}

type stubPushListener struct {
	started chan string
	events  chan models.NotificationPush
}

func (s *stubPushListener) Enabled() bool { return true }

func (s *stubPushListener) Listen(ctx context.Context, token string, onEvent func(models.NotificationPush)) error {
	s.started <- token
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-s.events:
			onEvent(event)
		}
	}
}

func TestNotificationSyncStartsPushListenerOnHydrate(t *testing.T) {
	api := &stubNotificationBackend{pages: map[int]models.NotificationPage{1: threeUnreadPage()}}
	pusher := &stubPushListener{started: make(chan string, 2), events: make(chan models.NotificationPush)}
	svc, _ := newSyncService(api, pusher)
	defer svc.Close()

	ctx := context.Background()
	principal := Principal{UserID: "u1", Token: "tok"}
	events, cancel := svc.Subscribe("u1")
	defer cancel()

	_, err := svc.Snapshot(ctx, principal, dto.NotificationFeedQuery{})
	require.NoError(t, err)
	require.Equal(t, "tok", <-pusher.started)
	require.Equal(t, dto.FeedEventHydrated, (<-events).Kind)

	_, err = svc.Refresh(ctx, principal)
	require.NoError(t, err)
	require.Equal(t, dto.FeedEventHydrated, (<-events).Kind)
	require.Len(t, pusher.started, 0)

	pusher.events <- models.NotificationPush{ID: "live", Title: "Live"}
	select {
	case event := <-events:
		require.Equal(t, dto.FeedEventPushed, event.Kind)
		require.Equal(t, 4, event.UnreadCount)
	case <-time.After(time.Second):
		t.Fatal("expected pushed event")
	}
}

func TestNotificationSyncReconcileAllAndPrune(t *testing.T) {
	api := &stubNotificationBackend{pages: map[int]models.NotificationPage{1: threeUnreadPage()}}
	svc, _ := newSyncService(api, nil)
	ctx := context.Background()

	_, err := svc.Snapshot(ctx, Principal{UserID: "u1", Token: "a"}, dto.NotificationFeedQuery{})
	require.NoError(t, err)
	_, err = svc.Snapshot(ctx, Principal{UserID: "u2", Token: "b"}, dto.NotificationFeedQuery{})
	require.NoError(t, err)

	refreshed, err := svc.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, refreshed)
	require.Equal(t, 4, api.listCalls)

	api.listErr = &backend.APIError{Endpoint: "notifications", StatusCode: 401}
	refreshed, err = svc.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Zero(t, refreshed)

	api.listErr = nil
	refreshed, err = svc.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Zero(t, refreshed)

	impl := svc.(*notificationSyncService)
	current := time.Now()
	impl.now = func() time.Time { return current }
	_, _ = svc.Snapshot(ctx, Principal{UserID: "u3", Token: "c"}, dto.NotificationFeedQuery{})
	events, cancel := svc.Subscribe("u4")
	defer cancel()
	_ = events

	current = current.Add(2 * time.Hour)
	require.Equal(t, 1, svc.PruneIdle(time.Hour))
}

func TestNotificationSyncPreferencesPassThrough(t *testing.T) {
	api := &stubNotificationBackend{preferences: map[string]interface{}{"email": true}}
	svc, _ := newSyncService(api, nil)
	ctx := context.Background()
	principal := Principal{UserID: "u1", Token: "tok"}

	prefs, err := svc.Preferences(ctx, principal)
	require.NoError(t, err)
	require.Equal(t, true, prefs["email"])

	updated, err := svc.UpdatePreferences(ctx, principal, dto.NotificationPreferences{"email": false})
	require.NoError(t, err)
	require.Equal(t, false, updated["email"])

	_, err = svc.Preferences(ctx, Principal{})
	require.ErrorIs(t, err, ErrPrincipalRequired)
}
