package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/lms-gateway/internal/backend"
	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/middleware"
	"github.com/noah-isme/lms-gateway/internal/service"
	"github.com/noah-isme/lms-gateway/internal/utils"
)

const (
	streamEventSnapshot = "snapshot"
	streamEventFeed     = "feed"
)

// NotificationHandler exposes the synchronized notification feed over REST, SSE and websocket.
type NotificationHandler struct {
	service   service.NotificationSyncService
	validator *validator.Validate
	logger    zerolog.Logger
	keepAlive time.Duration
}

// NewNotificationHandler constructs a handler instance.
func NewNotificationHandler(service service.NotificationSyncService, validate *validator.Validate, keepAlive time.Duration, logger zerolog.Logger) *NotificationHandler {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &NotificationHandler{
		service:   service,
		validator: validate,
		logger:    logger.With().Str("component", "notification_handler").Logger(),
		keepAlive: keepAlive,
	}
}

// Register binds the notification routes.
func (h *NotificationHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", requestContext(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/", h.snapshot)
	router.Post("/refresh", h.refresh)
	router.Get("/stream", h.stream)
	router.Get("/ws", websocket.New(h.socket))
	router.Patch("/read-all", h.markAllRead)
	router.Patch("/:id/read", h.markRead)
	router.Delete("/:id", h.delete)
	router.Get("/preferences", h.preferences)
	router.Put("/preferences", h.updatePreferences)
}

func (h *NotificationHandler) snapshot(c *fiber.Ctx) error {
	var query dto.NotificationFeedQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}
	if err := h.validator.Struct(query); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	}

	feed, err := h.service.Snapshot(requestContext(c), principalFromContext(c), query)
	if err != nil {
		return sendServiceError(c, requestLogger(h.logger, c), err, "failed to load notifications")
	}
	return utils.SendSuccess(c, "notifications", feed)
}

func (h *NotificationHandler) refresh(c *fiber.Ctx) error {
	feed, err := h.service.Refresh(requestContext(c), principalFromContext(c))
	if err != nil {
		return sendServiceError(c, requestLogger(h.logger, c), err, "failed to refresh notifications")
	}
	return utils.SendSuccess(c, "notifications refreshed", feed)
}

func (h *NotificationHandler) markRead(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	feed, err := h.service.MarkRead(requestContext(c), principalFromContext(c), id)
	return h.mutationResult(c, feed, err, "notification updated")
}

func (h *NotificationHandler) markAllRead(c *fiber.Ctx) error {
	feed, err := h.service.MarkAllRead(requestContext(c), principalFromContext(c))
	return h.mutationResult(c, feed, err, "notifications updated")
}

func (h *NotificationHandler) delete(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	feed, err := h.service.Delete(requestContext(c), principalFromContext(c), id)
	return h.mutationResult(c, feed, err, "notification deleted")
}

// mutationResult reports backend failures while still returning the optimistic
// feed, which stays in place until the next reconcile.
func (h *NotificationHandler) mutationResult(c *fiber.Ctx, feed dto.NotificationFeedResponse, err error, message string) error {
	if err == nil {
		return utils.SendSuccess(c, message, feed)
	}
	if errors.Is(err, service.ErrPrincipalRequired) || errors.Is(err, service.ErrNotificationIDRequired) || backend.IsUnauthorized(err) {
		return sendServiceError(c, requestLogger(h.logger, c), err, "failed to update notifications")
	}

	requestLogger(h.logger, c).Warn().Err(err).Msg("notification change not confirmed by backend")
	return utils.OK(c, feed, message, fiber.Map{
		"confirmed": false,
		"stale":     true,
	})
}

func (h *NotificationHandler) preferences(c *fiber.Ctx) error {
	preferences, err := h.service.Preferences(requestContext(c), principalFromContext(c))
	if err != nil {
		return sendServiceError(c, requestLogger(h.logger, c), err, "failed to load notification preferences")
	}
	return utils.SendSuccess(c, "notification preferences", preferences)
}

func (h *NotificationHandler) updatePreferences(c *fiber.Ctx) error {
	var payload dto.NotificationPreferences
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	preferences, err := h.service.UpdatePreferences(requestContext(c), principalFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, requestLogger(h.logger, c), err, "failed to update notification preferences")
	}
	return utils.SendSuccess(c, "notification preferences updated", preferences)
}

func (h *NotificationHandler) stream(c *fiber.Ctx) error {
	principal := principalFromContext(c)
	ctx := requestContext(c)
	if !principal.Valid() {
		return sendServiceError(c, requestLogger(h.logger, c), service.ErrPrincipalRequired, "failed to open notification stream")
	}

	// subscribe before the snapshot so nothing published in between is lost
	events, cleanup := h.service.Subscribe(principal.UserID)
	initial, err := h.service.Snapshot(ctx, principal, dto.NotificationFeedQuery{})
	if err != nil {
		cleanup()
		return sendServiceError(c, requestLogger(h.logger, c), err, "failed to open notification stream")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(ctx)
	keepAlive := h.keepAlive

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		if err := writeStreamEvent(w, streamEventSnapshot, initial); err != nil {
			h.logger.Debug().Err(err).Msg("failed to write notification snapshot")
			return
		}

		ticker := time.NewTicker(keepAlive / 2)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := writeStreamEvent(w, streamEventFeed, event); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write notification event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write notification keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

type socketFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func (h *NotificationHandler) socket(conn *websocket.Conn) {
	userID, _ := conn.Locals(middleware.LocalUserID).(string)
	token, _ := conn.Locals(middleware.LocalAccessToken).(string)
	principal := service.Principal{UserID: strings.TrimSpace(userID), Token: token}
	if !principal.Valid() {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"))
		_ = conn.Close()
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	logger := h.logger.With().Str("user_id", principal.UserID).Logger()

	events, cleanup := h.service.Subscribe(principal.UserID)
	defer cleanup()

	initial, err := h.service.Snapshot(ctx, principal, dto.NotificationFeedQuery{})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load feed for websocket")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "feed unavailable"))
		_ = conn.Close()
		return
	}

	// the reader only watches for the browser going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Info().Msg("notification websocket connected")
	defer logger.Info().Msg("notification websocket disconnected")

	if err := conn.WriteJSON(socketFrame{Event: streamEventSnapshot, Data: initial}); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepAlive / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(socketFrame{Event: streamEventFeed, Data: event}); err != nil {
				logger.Debug().Err(err).Msg("failed to write websocket event")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeStreamEvent(w *bufio.Writer, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
