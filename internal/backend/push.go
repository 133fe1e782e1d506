package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/lms-gateway/internal/models"
	"github.com/noah-isme/lms-gateway/internal/observability"
)

// PushEventNewNotification is the only push event the gateway consumes.
const PushEventNewNotification = "new_notification"

// ErrPushRetriesExhausted is returned by Listen once the reconnect budget is spent.
var ErrPushRetriesExhausted = errors.New("push channel retries exhausted")

// PushConfig configures the backend push-channel connection.
type PushConfig struct {
	URL              string
	MaxRetries       int
	Backoff          time.Duration
	HandshakeTimeout time.Duration

	// MinUptime is how long a connection must stay up before a drop stops
	// counting against the retry budget.
	MinUptime time.Duration
	Logger    zerolog.Logger
}

type pushFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// PushDialer maintains a websocket connection to the backend push channel.
type PushDialer struct {
	url        string
	dialer     *websocket.Dialer
	maxRetries int
	backoff    time.Duration
	minUptime  time.Duration
	logger     zerolog.Logger
}

// NewPushDialer builds a dialer; an empty URL disables push delivery.
func NewPushDialer(cfg PushConfig) *PushDialer {
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	minUptime := cfg.MinUptime
	if minUptime <= 0 {
		minUptime = 30 * time.Second
	}

	return &PushDialer{
		url:        cfg.URL,
		dialer:     &websocket.Dialer{HandshakeTimeout: handshake, Proxy: http.ProxyFromEnvironment},
		maxRetries: maxRetries,
		backoff:    backoff,
		minUptime:  minUptime,
		logger:     cfg.Logger.With().Str("component", "push_dialer").Logger(),
	}
}

// Enabled reports whether a push URL is configured.
func (d *PushDialer) Enabled() bool {
	return d != nil && d.url != ""
}

// Listen delivers new_notification events to onEvent until ctx is cancelled.
// Connection failures are retried up to the configured budget. The count only
// resets once a connection has stayed up for MinUptime, so a backend that
// accepts the upgrade and drops it straight away still exhausts the budget.
// It returns nil on cancellation.
func (d *PushDialer) Listen(ctx context.Context, token string, onEvent func(models.NotificationPush)) error {
	if !d.Enabled() {
		return nil
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := d.dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			observability.PushReconnects().Inc()
			d.logger.Warn().Err(err).Int("attempt", failures).Msg("push channel connect failed")
			if failures > d.maxRetries {
				return fmt.Errorf("%w: %v", ErrPushRetriesExhausted, err)
			}
			if !d.wait(ctx, failures) {
				return nil
			}
			continue
		}

		connectedAt := time.Now()
		d.logger.Debug().Msg("push channel connected")
		err = d.read(ctx, conn, onEvent)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(connectedAt) >= d.minUptime {
			failures = 0
		}

		failures++
		observability.PushReconnects().Inc()
		d.logger.Warn().Err(err).Int("attempt", failures).Msg("push channel dropped")
		if failures > d.maxRetries {
			return fmt.Errorf("%w: %v", ErrPushRetriesExhausted, err)
		}
		if !d.wait(ctx, failures) {
			return nil
		}
	}
}

func (d *PushDialer) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *PushDialer) read(ctx context.Context, conn *websocket.Conn, onEvent func(models.NotificationPush)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame pushFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			d.logger.Debug().Err(err).Msg("ignoring malformed push frame")
			continue
		}
		if frame.Event != PushEventNewNotification {
			continue
		}

		var event models.NotificationPush
		if err := json.Unmarshal(frame.Data, &event); err != nil {
			d.logger.Debug().Err(err).Msg("ignoring malformed notification push")
			continue
		}
		onEvent(event)
	}
}

func (d *PushDialer) wait(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(time.Duration(attempt) * d.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
