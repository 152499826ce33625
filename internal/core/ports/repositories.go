package ports

import (
	"context"
	"encoding/json"

	"peerlink/internal/core/domain"
)

// Transport is a message-oriented, full-duplex channel to a connected
// endpoint. Implementations must be safe for concurrent Send calls.
type Transport interface {
	Send(v interface{}) error
	Close() error
}

type ClientRepository interface {
	Put(ctx context.Context, client *domain.Client) error
	GetByID(ctx context.Context, id domain.ClientID) (*domain.Client, error)
	UpdateStatus(ctx context.Context, id domain.ClientID, status domain.ClientStatus) error
	List(ctx context.Context) ([]domain.Client, error)
}

// AdminDirectory maps an admin identity to its transport and the ordered
// list of client IDs it owns. The registry consumes it read-only except
// for AddClient.
type AdminDirectory interface {
	GetAdmin(ctx context.Context, id domain.AdminID) (*domain.Admin, Transport, error)
	RegisterAdmin(ctx context.Context, admin *domain.Admin, transport Transport) error
	AddClient(ctx context.Context, adminID domain.AdminID, clientID domain.ClientID) error
	SetAdminOffline(ctx context.Context, id domain.AdminID) error
}

// RequestRelay stores requests addressed to offline clients and replays
// them on reconnect. ProcessQueuedRequestsForClient is called exactly once
// per offline to online transition, before the owning admin is notified.
type RequestRelay interface {
	Enqueue(ctx context.Context, clientID domain.ClientID, payload json.RawMessage) error
	ProcessQueuedRequestsForClient(ctx context.Context, clientID domain.ClientID) error
}
