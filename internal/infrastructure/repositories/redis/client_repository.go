package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	clientKeyPrefix = "peerlink:client:"
	clientIndexKey  = "peerlink:clients"
	clientLockTTL   = 5 * time.Second
)

// ClientRepository stores client records in Redis so multiple signaling
// instances see one registry. Writes take a short per-client distributed
// lock; reads are lock-free.
type ClientRepository struct {
	client *redis.Client
	locks  *distributed.LockManager
	logger *zap.SugaredLogger
}

func NewClientRepository(client *redis.Client, logger *zap.SugaredLogger) *ClientRepository {
	return &ClientRepository{
		client: client,
		locks:  distributed.NewLockManager(client, "peerlink:lock:client:"),
		logger: logger,
	}
}

func clientKey(id domain.ClientID) string {
	return clientKeyPrefix + string(id)
}

func (r *ClientRepository) Put(ctx context.Context, client *domain.Client) error {
	lock := r.locks.AcquireLock(string(client.ID), clientLockTTL)
	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("failed to lock client %s: %w", client.ID, err)
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			r.logger.Warnw("failed to release client lock", "client_id", client.ID, "error", err)
		}
	}()

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, clientKey(client.ID), data, 0)
	pipe.SAdd(ctx, clientIndexKey, string(client.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	return nil
}

func (r *ClientRepository) GetByID(ctx context.Context, id domain.ClientID) (*domain.Client, error) {
	data, err := r.client.Get(ctx, clientKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var client domain.Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

func (r *ClientRepository) UpdateStatus(ctx context.Context, id domain.ClientID, status domain.ClientStatus) error {
	lock := r.locks.AcquireLock(string(id), clientLockTTL)
	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("failed to lock client %s: %w", id, err)
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			r.logger.Warnw("failed to release client lock", "client_id", id, "error", err)
		}
	}()

	client, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	client.Status = status
	client.LastSeen = time.Now()

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	if err := r.client.Set(ctx, clientKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update client status: %w", err)
	}
	return nil
}

func (r *ClientRepository) List(ctx context.Context) ([]domain.Client, error) {
	ids, err := r.client.SMembers(ctx, clientIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	clients := make([]domain.Client, 0, len(ids))
	for _, id := range ids {
		client, err := r.GetByID(ctx, domain.ClientID(id))
		if err != nil {
			// Index entries can outlive their records.
			continue
		}
		clients = append(clients, *client)
	}
	return clients, nil
}
