package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"peerlink/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const presenceChannel = "peerlink:presence"

type bridgeEnvelope struct {
	InstanceID string                 `json:"instance_id"`
	Message    domain.PresenceMessage `json:"message"`
}

// RedisBridge fans presence messages out to sibling processes over Redis
// pub/sub and republishes remote messages onto the local bus. Messages
// from this instance are skipped to avoid echo.
type RedisBridge struct {
	client     *redis.Client
	bus        *Bus
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

func NewRedisBridge(client *redis.Client, bus *Bus, instanceID string, logger *zap.SugaredLogger) *RedisBridge {
	return &RedisBridge{
		client:     client,
		bus:        bus,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Publish sends msg to all subscribed processes, including this one's
// remote listeners. The local bus is not touched; callers publish locally
// themselves.
func (rb *RedisBridge) Publish(ctx context.Context, msg domain.PresenceMessage) error {
	data, err := json.Marshal(bridgeEnvelope{
		InstanceID: rb.instanceID,
		Message:    msg,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal presence message: %w", err)
	}

	if err := rb.client.Publish(ctx, presenceChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish presence message: %w", err)
	}
	return nil
}

// Run consumes the presence channel until ctx is cancelled.
func (rb *RedisBridge) Run(ctx context.Context) error {
	if rb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	rb.pubsub = rb.client.Subscribe(ctx, presenceChannel)
	defer rb.pubsub.Close()

	ch := rb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var envelope bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				rb.logger.Warnw("failed to unmarshal presence message",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if envelope.InstanceID == rb.instanceID {
				continue
			}

			rb.bus.Publish(envelope.Message)
		}
	}
}

// Close shuts down the subscription.
func (rb *RedisBridge) Close() error {
	if rb.pubsub != nil {
		return rb.pubsub.Close()
	}
	return nil
}
