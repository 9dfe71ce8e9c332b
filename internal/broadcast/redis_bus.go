package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus wraps an InMemoryBus and also fans requests/responses out
// through Redis Pub/Sub, so multiple simulator processes on the same Redis
// instance share one logical broadcast channel (spec §5 "shared resources":
// the broadcast channel is the only shared mutable resource). Grounded on
// the teacher's PubSubEventBus ("wraps the in-memory bus, also publishes
// durably") substituting Redis Pub/Sub for Cloud Pub/Sub.
type RedisBus struct {
	*InMemoryBus

	client        *redis.Client
	requestTopic  string
	responseTopic string
	log           *slog.Logger
}

const (
	defaultRedisRequestTopic  = "ocppsim.broadcast.requests"
	defaultRedisResponseTopic = "ocppsim.broadcast.responses"
)

// NewRedisBus connects to addr and starts relaying both topics into the
// embedded InMemoryBus's local subscribers.
func NewRedisBus(ctx context.Context, addr string, log *slog.Logger) (*RedisBus, error) {
	if log == nil {
		log = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	bus := &RedisBus{
		InMemoryBus:   NewInMemoryBus(0),
		client:        client,
		requestTopic:  defaultRedisRequestTopic,
		responseTopic: defaultRedisResponseTopic,
		log:           log,
	}

	go bus.relay(ctx)
	return bus, nil
}

func (b *RedisBus) relay(ctx context.Context) {
	sub := b.client.Subscribe(ctx, b.requestTopic, b.responseTopic)
	defer sub.Close()

	ch := sub.Channel()
	for msg := range ch {
		switch msg.Channel {
		case b.requestTopic:
			var req RequestEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &req); err != nil {
				b.log.Warn("broadcast: redis relay: bad request envelope", "error", err)
				continue
			}
			b.InMemoryBus.PublishRequest(req)
		case b.responseTopic:
			var resp ResponseEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
				b.log.Warn("broadcast: redis relay: bad response envelope", "error", err)
				continue
			}
			b.InMemoryBus.PublishResponse(resp)
		}
	}
}

func (b *RedisBus) PublishRequest(req RequestEnvelope) {
	data, err := json.Marshal(req)
	if err != nil {
		b.log.Warn("broadcast: redis publish request: marshal failed", "error", err)
		return
	}
	if err := b.client.Publish(context.Background(), b.requestTopic, data).Err(); err != nil {
		b.log.Warn("broadcast: redis publish request failed", "error", err)
	}
}

func (b *RedisBus) PublishResponse(resp ResponseEnvelope) {
	data, err := json.Marshal(resp)
	if err != nil {
		b.log.Warn("broadcast: redis publish response: marshal failed", "error", err)
		return
	}
	if err := b.client.Publish(context.Background(), b.responseTopic, data).Err(); err != nil {
		b.log.Warn("broadcast: redis publish response failed", "error", err)
	}
}

// Close releases the Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
