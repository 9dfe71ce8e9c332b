package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
)

// CloudBus is the Google Cloud Pub/Sub-backed alternative to RedisBus,
// selected via config.BroadcastConfig.Driver == "pubsub" for operators who
// already run GCP infrastructure. Same wrap-the-in-memory-bus shape as
// RedisBus, grounded on the teacher's PubSubEventBus.
type CloudBus struct {
	*InMemoryBus

	client        *pubsub.Client
	requestTopic  *pubsub.Topic
	responseTopic *pubsub.Topic
	requestSub    *pubsub.Subscription
	responseSub   *pubsub.Subscription
	log           *slog.Logger
}

// NewCloudBus connects to the given project, creating the request/response
// topics and a pull subscription on each if they don't already exist.
func NewCloudBus(ctx context.Context, projectID, topicPrefix string, log *slog.Logger) (*CloudBus, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("broadcast: pubsub.NewClient: %w", err)
	}

	reqTopic, err := ensureTopic(ctx, client, topicPrefix+"-requests")
	if err != nil {
		client.Close()
		return nil, err
	}
	respTopic, err := ensureTopic(ctx, client, topicPrefix+"-responses")
	if err != nil {
		client.Close()
		return nil, err
	}
	reqSub, err := ensureSubscription(ctx, client, reqTopic)
	if err != nil {
		client.Close()
		return nil, err
	}
	respSub, err := ensureSubscription(ctx, client, respTopic)
	if err != nil {
		client.Close()
		return nil, err
	}

	bus := &CloudBus{
		InMemoryBus:   NewInMemoryBus(0),
		client:        client,
		requestTopic:  reqTopic,
		responseTopic: respTopic,
		requestSub:    reqSub,
		responseSub:   respSub,
		log:           log,
	}

	go bus.relayRequests(ctx)
	go bus.relayResponses(ctx)
	return bus, nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, id string) (*pubsub.Topic, error) {
	topic := client.Topic(id)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("broadcast: topic.Exists(%s): %w", id, err)
	}
	if exists {
		return topic, nil
	}
	return client.CreateTopic(ctx, id)
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	id := topic.ID() + "-sim"
	sub := client.Subscription(id)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("broadcast: subscription.Exists(%s): %w", id, err)
	}
	if exists {
		return sub, nil
	}
	return client.CreateSubscription(ctx, id, pubsub.SubscriptionConfig{Topic: topic})
}

func (b *CloudBus) relayRequests(ctx context.Context) {
	err := b.requestSub.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		var req RequestEnvelope
		if jsonErr := json.Unmarshal(msg.Data, &req); jsonErr != nil {
			b.log.Warn("broadcast: pubsub relay: bad request envelope", "error", jsonErr)
			msg.Nack()
			return
		}
		b.InMemoryBus.PublishRequest(req)
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		b.log.Error("broadcast: pubsub request subscription ended", "error", err)
	}
}

func (b *CloudBus) relayResponses(ctx context.Context) {
	err := b.responseSub.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		var resp ResponseEnvelope
		if jsonErr := json.Unmarshal(msg.Data, &resp); jsonErr != nil {
			b.log.Warn("broadcast: pubsub relay: bad response envelope", "error", jsonErr)
			msg.Nack()
			return
		}
		b.InMemoryBus.PublishResponse(resp)
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		b.log.Error("broadcast: pubsub response subscription ended", "error", err)
	}
}

func (b *CloudBus) PublishRequest(req RequestEnvelope) {
	data, err := json.Marshal(req)
	if err != nil {
		b.log.Warn("broadcast: pubsub publish request: marshal failed", "error", err)
		return
	}
	result := b.requestTopic.Publish(context.Background(), &pubsub.Message{Data: data})
	if _, err := result.Get(context.Background()); err != nil {
		b.log.Warn("broadcast: pubsub publish request failed", "error", err)
	}
}

func (b *CloudBus) PublishResponse(resp ResponseEnvelope) {
	data, err := json.Marshal(resp)
	if err != nil {
		b.log.Warn("broadcast: pubsub publish response: marshal failed", "error", err)
		return
	}
	result := b.responseTopic.Publish(context.Background(), &pubsub.Message{Data: data})
	if _, err := result.Get(context.Background()); err != nil {
		b.log.Warn("broadcast: pubsub publish response failed", "error", err)
	}
}

// Close releases the Pub/Sub client.
func (b *CloudBus) Close() error {
	return b.client.Close()
}
