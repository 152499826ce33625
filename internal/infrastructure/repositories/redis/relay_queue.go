package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayKeyPrefix = "peerlink:relay:"

// RelayQueue persists queued requests in a Redis list per client, so
// requests survive a coordinator restart.
type RelayQueue struct {
	client *redis.Client
	logger *zap.SugaredLogger

	mu     sync.Mutex
	sender ports.ClientSender
}

func NewRelayQueue(client *redis.Client, logger *zap.SugaredLogger) *RelayQueue {
	return &RelayQueue{
		client: client,
		logger: logger,
	}
}

// SetSender wires the delivery path. Called once during startup.
func (q *RelayQueue) SetSender(sender ports.ClientSender) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sender = sender
}

func (q *RelayQueue) Enqueue(ctx context.Context, clientID domain.ClientID, payload json.RawMessage) error {
	key := relayKeyPrefix + string(clientID)
	if err := q.client.RPush(ctx, key, []byte(payload)).Err(); err != nil {
		return fmt.Errorf("failed to enqueue request for %s: %w", clientID, err)
	}
	return nil
}

// ProcessQueuedRequestsForClient pops and delivers queued requests in
// arrival order. An undeliverable request is pushed back to the head of the
// list for the next reconnect.
func (q *RelayQueue) ProcessQueuedRequestsForClient(ctx context.Context, clientID domain.ClientID) error {
	q.mu.Lock()
	sender := q.sender
	q.mu.Unlock()

	if sender == nil {
		return nil
	}

	key := relayKeyPrefix + string(clientID)
	delivered := 0
	for {
		data, err := q.client.LPop(ctx, key).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to pop queued request for %s: %w", clientID, err)
		}

		msg := map[string]interface{}{
			"type":    "queued_request",
			"payload": json.RawMessage(data),
		}
		if err := sender.SendToClient(ctx, clientID, msg); err != nil {
			q.logger.Warnw("failed to deliver queued request",
				"client_id", clientID,
				"error", err,
			)
			if pushErr := q.client.LPush(ctx, key, data).Err(); pushErr != nil {
				q.logger.Errorw("failed to re-queue request",
					"client_id", clientID,
					"error", pushErr,
				)
			}
			return err
		}
		delivered++
	}

	if delivered > 0 {
		q.logger.Infow("delivered queued requests",
			"client_id", clientID,
			"count", delivered,
		)
	}
	return nil
}
