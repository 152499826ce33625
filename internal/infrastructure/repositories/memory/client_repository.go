package memory

import (
	"context"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
)

// ClientRepository is an in-memory client record store. Records persist for
// the lifetime of the process; status transitions are the only mutation
// after creation.
type ClientRepository struct {
	clients map[domain.ClientID]*domain.Client
	mu      sync.RWMutex
}

func NewClientRepository() ports.ClientRepository {
	return &ClientRepository{
		clients: make(map[domain.ClientID]*domain.Client),
	}
}

func (r *ClientRepository) Put(ctx context.Context, client *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *client
	r.clients[client.ID] = &c
	return nil
}

func (r *ClientRepository) GetByID(ctx context.Context, id domain.ClientID) (*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[id]
	if !exists {
		return nil, domain.ErrClientNotFound
	}

	c := *client
	return &c, nil
}

func (r *ClientRepository) UpdateStatus(ctx context.Context, id domain.ClientID, status domain.ClientStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, exists := r.clients[id]
	if !exists {
		return domain.ErrClientNotFound
	}

	client.Status = status
	client.LastSeen = time.Now()
	return nil
}

func (r *ClientRepository) List(ctx context.Context) ([]domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]domain.Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, *client)
	}
	return clients, nil
}
