package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/observability"
)

const feedEventBufferSize = 16

// FeedBus delivers feed change events to the streams subscribed for a user.
// Events are fanned out to other gateway nodes through redis and NATS when configured.
type FeedBus interface {
	Publish(ctx context.Context, event dto.FeedEvent)
	Subscribe(userID string) (<-chan dto.FeedEvent, func())
	Subscribers(userID string) int
	Start(ctx context.Context)
}

type feedBus struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	broker       *feedBroker
	nodeID       string
}

type feedBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.FeedEvent]struct{}
}

// NewFeedBus constructs the bus. Nil redis and NATS connections keep delivery node-local.
func NewFeedBus(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) FeedBus {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":feed"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".feed"
	}

	return &feedBus{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "feed_bus").Logger(),
		broker: &feedBroker{
			subscribers: make(map[string]map[chan dto.FeedEvent]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (b *feedBus) Start(ctx context.Context) {
	if b.redis != nil && b.redisChannel != "" {
		go b.consumeRedis(ctx)
	}
	if b.nats != nil && b.natsSubject != "" {
		go b.consumeNATS(ctx)
	}
}

func (b *feedBus) Publish(ctx context.Context, event dto.FeedEvent) {
	event.Source = b.nodeID
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}

	observability.FeedEvents().WithLabelValues(event.Kind).Inc()
	b.broker.broadcast(event.UserID, event)

	if err := b.fanOut(ctx, event); err != nil {
		b.logger.Warn().Err(err).Str("kind", event.Kind).Msg("failed to fan out feed event")
	}
}

func (b *feedBus) Subscribe(userID string) (<-chan dto.FeedEvent, func()) {
	channel := make(chan dto.FeedEvent, feedEventBufferSize)

	b.broker.subscribe(userID, channel)
	observability.StreamClientsActive().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.broker.unsubscribe(userID, channel)
			observability.StreamClientsActive().Dec()
		})
	}

	return channel, cleanup
}

func (b *feedBus) Subscribers(userID string) int {
	return b.broker.count(userID)
}

func (b *feedBus) fanOut(ctx context.Context, event dto.FeedEvent) error {
	if (b.redis == nil || b.redisChannel == "") && (b.nats == nil || b.natsSubject == "") {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if b.redis != nil && b.redisChannel != "" {
		if err := b.redis.Publish(ctx, b.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if b.nats != nil && b.natsSubject != "" {
		if err := b.nats.Publish(b.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (b *feedBus) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			b.logger.Error().Err(err).Msg("feed redis subscription closed")
			return
		}
		b.handleEvent([]byte(msg.Payload))
	}
}

func (b *feedBus) consumeNATS(ctx context.Context) {
	// every node needs every event, so no queue group here
	sub, err := b.nats.Subscribe(b.natsSubject, func(msg *nats.Msg) {
		b.handleEvent(msg.Data)
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe to nats feed subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain feed nats subscription")
		}
	}()
}

func (b *feedBus) handleEvent(payload []byte) {
	var event dto.FeedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		b.logger.Warn().Err(err).Msg("invalid feed event payload")
		return
	}

	if event.Source == b.nodeID || event.UserID == "" {
		return
	}

	b.broker.broadcast(event.UserID, event)
}

func (b *feedBroker) subscribe(userID string, ch chan dto.FeedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[userID]; !exists {
		b.subscribers[userID] = make(map[chan dto.FeedEvent]struct{})
	}
	b.subscribers[userID][ch] = struct{}{}
}

func (b *feedBroker) unsubscribe(userID string, ch chan dto.FeedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[userID]; ok {
		if _, present := subscribers[ch]; !present {
			return
		}
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

func (b *feedBroker) broadcast(userID string, event dto.FeedEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[userID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *feedBroker) count(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[userID])
}
