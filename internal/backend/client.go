package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/lms-gateway/internal/middleware"
	"github.com/noah-isme/lms-gateway/internal/models"
	"github.com/noah-isme/lms-gateway/internal/observability"
)

// Config defines how to reach the LMS backend REST API.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Referrer identifies the user who owns a referral code.
type Referrer struct {
	Name string `json:"name"`
}

// ReferralValidation is the backend's verdict on a referral code.
type ReferralValidation struct {
	Valid    bool      `json:"valid"`
	Referrer *Referrer `json:"referrer,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Client is a typed client for the LMS backend endpoints the gateway consumes.
type Client struct {
	http   *resty.Client
	tracer trace.Tracer
	logger zerolog.Logger
}

// New builds a backend client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("backend base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var httpClient *resty.Client
	if cfg.HTTPClient != nil {
		httpClient = resty.NewWithClient(cfg.HTTPClient)
	} else {
		httpClient = resty.New()
	}
	httpClient.
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:   httpClient,
		tracer: otel.Tracer("github.com/noah-isme/lms-gateway/internal/backend"),
		logger: cfg.Logger.With().Str("component", "backend_client").Logger(),
	}, nil
}

// ValidateReferral asks the backend whether a referral code is usable.
func (c *Client) ValidateReferral(ctx context.Context, code string) (ReferralValidation, error) {
	resp, err := c.do(ctx, "validate_referral", http.MethodPost, "/auth/validate-referral", "", func(r *resty.Request) {
		r.SetBody(map[string]string{"referralCode": code})
	})
	if err != nil {
		return ReferralValidation{}, err
	}

	var result ReferralValidation
	if err := json.Unmarshal(unwrapData(resp.Body(), "valid"), &result); err != nil {
		return ReferralValidation{}, fmt.Errorf("decode referral validation: %w", err)
	}
	return result, nil
}

// ListEnrollments loads the caller's enrollments, falling back to the profile document
// when the dedicated endpoint is unavailable.
func (c *Client) ListEnrollments(ctx context.Context, token string) ([]models.Enrollment, error) {
	resp, err := c.do(ctx, "enrollments", http.MethodGet, "/users/enrollments", token, nil)
	if err != nil {
		if IsUnauthorized(err) || IsNetwork(err) {
			return nil, err
		}
		c.logger.Debug().Err(err).Msg("enrollments endpoint unavailable, using profile fallback")
		return c.enrollmentsFromProfile(ctx, token)
	}

	items, skipped, err := decodeEnrollments(resp.Body(), "enrollments", "data")
	if err != nil {
		c.logger.Warn().Err(err).Msg("unexpected enrollments payload, using profile fallback")
		return c.enrollmentsFromProfile(ctx, token)
	}
	c.logSkipped("enrollments", skipped)
	return items, nil
}

func (c *Client) enrollmentsFromProfile(ctx context.Context, token string) ([]models.Enrollment, error) {
	resp, err := c.do(ctx, "profile", http.MethodGet, "/users/profile/me", token, nil)
	if err != nil {
		return nil, err
	}
	items, skipped, err := decodeEnrollments(resp.Body(), "enrolledCourses", "user", "data")
	if err != nil {
		return nil, err
	}
	c.logSkipped("profile", skipped)
	return items, nil
}

func (c *Client) logSkipped(endpoint string, skipped int) {
	if skipped > 0 {
		c.logger.Warn().Str("endpoint", endpoint).Int("skipped", skipped).Msg("dropped malformed enrollment records")
	}
}

// ListNotifications fetches one page of the caller's notifications.
func (c *Client) ListNotifications(ctx context.Context, token string, page, limit int) (models.NotificationPage, error) {
	resp, err := c.do(ctx, "notifications", http.MethodGet, "/notifications", token, func(r *resty.Request) {
		r.SetQueryParams(map[string]string{
			"page":  strconv.Itoa(page),
			"limit": strconv.Itoa(limit),
		})
	})
	if err != nil {
		return models.NotificationPage{}, err
	}

	var result models.NotificationPage
	if err := json.Unmarshal(unwrapData(resp.Body(), "notifications"), &result); err != nil {
		return models.NotificationPage{}, fmt.Errorf("decode notifications: %w", err)
	}
	if result.Notifications == nil {
		result.Notifications = []models.Notification{}
	}
	return result, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, token, id string) error {
	_, err := c.do(ctx, "notification_read", http.MethodPatch, "/notifications/{id}/read", token, func(r *resty.Request) {
		r.SetPathParam("id", id)
	})
	return err
}

// MarkAllNotificationsRead marks every notification of the caller as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context, token string) error {
	_, err := c.do(ctx, "notification_read_all", http.MethodPatch, "/notifications/read-all", token, nil)
	return err
}

// DeleteNotification removes one notification.
func (c *Client) DeleteNotification(ctx context.Context, token, id string) error {
	_, err := c.do(ctx, "notification_delete", http.MethodDelete, "/notifications/{id}", token, func(r *resty.Request) {
		r.SetPathParam("id", id)
	})
	return err
}

// NotificationPreferences returns the caller's delivery preferences.
func (c *Client) NotificationPreferences(ctx context.Context, token string) (map[string]interface{}, error) {
	resp, err := c.do(ctx, "notification_preferences", http.MethodGet, "/notifications/preferences", token, nil)
	if err != nil {
		return nil, err
	}
	return decodePreferences(resp.Body())
}

// UpdateNotificationPreferences replaces the caller's delivery preferences.
func (c *Client) UpdateNotificationPreferences(ctx context.Context, token string, preferences map[string]interface{}) (map[string]interface{}, error) {
	resp, err := c.do(ctx, "notification_preferences_update", http.MethodPut, "/notifications/preferences", token, func(r *resty.Request) {
		r.SetBody(preferences)
	})
	if err != nil {
		return nil, err
	}
	return decodePreferences(resp.Body())
}

func (c *Client) do(parent context.Context, endpoint, method, path, token string, configure func(*resty.Request)) (*resty.Response, error) {
	ctx, span := c.tracer.Start(parent, "backend."+endpoint, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("backend.endpoint", endpoint),
	))
	defer span.End()

	request := c.http.R().SetContext(ctx)
	if token != "" {
		request.SetAuthToken(token)
	}
	if correlation := middleware.CorrelationIDFromContext(parent); correlation != "" {
		request.SetHeader("X-Correlation-ID", correlation)
	}
	if configure != nil {
		configure(request)
	}

	start := time.Now()
	resp, err := request.Execute(method, path)
	observability.BackendLatency().WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.BackendRequests().WithLabelValues(endpoint, "network_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &NetworkError{Endpoint: endpoint, Err: err}
	}

	status := resp.StatusCode()
	observability.BackendRequests().WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	span.SetAttributes(attribute.Int("http.status_code", status))

	if resp.IsError() {
		apiErr := newAPIError(endpoint, status, resp.Body())
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Error())
		return resp, apiErr
	}

	return resp, nil
}

// decodeEnrollments finds the enrollment array in body, descending through the
// first matching envelope key at each level. Records that cannot be decoded are
// skipped and counted so one bad record does not empty the whole list.
func decodeEnrollments(body []byte, keys ...string) ([]models.Enrollment, int, error) {
	raw := bytes.TrimSpace(body)
	for depth := 0; depth < 4; depth++ {
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return []models.Enrollment{}, 0, nil
		}

		if raw[0] == '[' {
			var records []json.RawMessage
			if err := json.Unmarshal(raw, &records); err != nil {
				return nil, 0, fmt.Errorf("decode enrollments: %w", err)
			}
			items := make([]models.Enrollment, 0, len(records))
			skipped := 0
			for _, record := range records {
				var item models.Enrollment
				if err := json.Unmarshal(record, &item); err != nil {
					skipped++
					continue
				}
				items = append(items, item)
			}
			return items, skipped, nil
		}

		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, 0, fmt.Errorf("decode enrollments: %w", err)
		}

		next, ok := pickKey(envelope, keys)
		if !ok {
			return []models.Enrollment{}, 0, nil
		}
		raw = bytes.TrimSpace(next)
	}

	return nil, 0, fmt.Errorf("decode enrollments: envelope nested too deeply")
}

func pickKey(envelope map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, key := range keys {
		if value, ok := envelope[key]; ok {
			return value, true
		}
	}
	return nil, false
}

// unwrapData returns the "data" object when the body is a {success,data} envelope
// that does not itself carry marker.
func unwrapData(body []byte, marker string) []byte {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return body
	}
	if _, ok := envelope[marker]; ok {
		return body
	}
	if data, ok := envelope["data"]; ok {
		return data
	}
	return body
}

func decodePreferences(body []byte) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	for _, key := range []string{"preferences", "data"} {
		if nested, ok := payload[key].(map[string]interface{}); ok {
			if inner, ok := nested["preferences"].(map[string]interface{}); ok {
				return inner, nil
			}
			return nested, nil
		}
	}
	delete(payload, "success")
	delete(payload, "message")
	return payload, nil
}
