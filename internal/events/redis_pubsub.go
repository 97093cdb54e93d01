package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexusflow/taskqueue/internal/config"
	"github.com/nexusflow/taskqueue/internal/logger"
)

const channelPrefix = "taskqueue:events:"

// NewClient builds and verifies a Redis connection for the event bus,
// following the same connect-then-ping pattern the teacher used for its
// stream-backed queue's Redis client.
func NewClient(cfg config.EventBusConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to event bus redis: %w", err)
	}

	return client, nil
}

// RedisPubSub implements Publisher using Redis Pub/Sub, letting any number
// of API-server or websocket-hub processes observe the same queue's
// lifecycle without each maintaining its own subscription to storage.
type RedisPubSub struct {
	client      *redis.Client
	subscribers map[string]*redis.PubSub
	mu          sync.RWMutex
}

func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{
		client:      client,
		subscribers: make(map[string]*redis.PubSub),
	}
}

// Publish publishes an event to Redis.
func (r *RedisPubSub) Publish(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	channel := r.channelName(event.Type)
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	logger.Debug().
		Str("event_type", string(event.Type)).
		Str("channel", channel).
		Str("task_id", event.TaskID).
		Msg("event published")

	return nil
}

// Subscribe subscribes to events of the specified types.
func (r *RedisPubSub) Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error) {
	channels := make([]string, len(eventTypes))
	for i, et := range eventTypes {
		channels[i] = r.channelName(et)
	}

	pubsub := r.client.Subscribe(ctx, channels...)

	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	r.mu.Lock()
	for _, c := range channels {
		r.subscribers[c] = pubsub
	}
	r.mu.Unlock()

	eventCh := make(chan *Event, 100)

	go func() {
		defer close(eventCh)
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("failed to parse event")
					continue
				}

				select {
				case eventCh <- event:
				default:
					logger.Warn().
						Str("event_type", string(event.Type)).
						Msg("event channel full, dropping event")
				}
			}
		}
	}()

	return eventCh, nil
}

// SubscribeAll subscribes to every event type through a single pattern
// subscription on the channel prefix.
func (r *RedisPubSub) SubscribeAll(ctx context.Context) (<-chan *Event, error) {
	pattern := channelPrefix + "*"
	pubsub := r.client.PSubscribe(ctx, pattern)

	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	r.mu.Lock()
	r.subscribers[pattern] = pubsub
	r.mu.Unlock()

	eventCh := make(chan *Event, 100)

	go func() {
		defer close(eventCh)
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("failed to parse event")
					continue
				}

				select {
				case eventCh <- event:
				default:
					logger.Warn().
						Str("event_type", string(event.Type)).
						Msg("event channel full, dropping event")
				}
			}
		}
	}()

	return eventCh, nil
}

// Close closes all subscriptions held by this publisher.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	closed := make(map[*redis.PubSub]struct{})
	for _, pubsub := range r.subscribers {
		if _, done := closed[pubsub]; done {
			continue
		}
		pubsub.Close()
		closed[pubsub] = struct{}{}
	}
	r.subscribers = make(map[string]*redis.PubSub)

	return nil
}

func (r *RedisPubSub) channelName(eventType EventType) string {
	return channelPrefix + string(eventType)
}
