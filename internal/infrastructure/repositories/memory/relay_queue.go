package memory

import (
	"context"
	"encoding/json"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"go.uber.org/zap"
)

// RelayQueue buffers requests addressed to offline clients in memory and
// replays them through the registry when the client reconnects.
type RelayQueue struct {
	pending map[domain.ClientID][]json.RawMessage
	mu      sync.Mutex

	sender ports.ClientSender
	logger *zap.SugaredLogger
}

func NewRelayQueue(logger *zap.SugaredLogger) *RelayQueue {
	return &RelayQueue{
		pending: make(map[domain.ClientID][]json.RawMessage),
		logger:  logger,
	}
}

// SetSender wires the delivery path. Called once during startup, after the
// registry exists; the queue and the registry reference each other.
func (q *RelayQueue) SetSender(sender ports.ClientSender) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sender = sender
}

func (q *RelayQueue) Enqueue(ctx context.Context, clientID domain.ClientID, payload json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending[clientID] = append(q.pending[clientID], payload)
	return nil
}

// ProcessQueuedRequestsForClient drains the client's queue in arrival order.
// A failed send re-queues the remaining requests for the next reconnect.
func (q *RelayQueue) ProcessQueuedRequestsForClient(ctx context.Context, clientID domain.ClientID) error {
	q.mu.Lock()
	queued := q.pending[clientID]
	delete(q.pending, clientID)
	sender := q.sender
	q.mu.Unlock()

	if len(queued) == 0 || sender == nil {
		return nil
	}

	for i, payload := range queued {
		msg := map[string]interface{}{
			"type":    "queued_request",
			"payload": payload,
		}
		if err := sender.SendToClient(ctx, clientID, msg); err != nil {
			q.logger.Warnw("failed to deliver queued request",
				"client_id", clientID,
				"error", err,
			)
			q.mu.Lock()
			q.pending[clientID] = append(queued[i:], q.pending[clientID]...)
			q.mu.Unlock()
			return err
		}
	}

	q.logger.Infow("delivered queued requests",
		"client_id", clientID,
		"count", len(queued),
	)
	return nil
}
