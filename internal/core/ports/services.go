package ports

import (
	"context"

	"peerlink/internal/core/domain"
)

type ClientRegistry interface {
	RegisterClient(ctx context.Context, transport Transport, reg domain.Registration) error
	// SetClientOffline marks the client offline when transport still owns
	// the record. A handler whose socket was superseded by a newer
	// registration becomes a no-op; nil forces the transition.
	SetClientOffline(ctx context.Context, id domain.ClientID, transport Transport) error
	GetClient(ctx context.Context, id domain.ClientID) (*domain.Client, error)
	GetClientsByAdmin(ctx context.Context, adminID domain.AdminID) ([]domain.ClientSummary, error)
	SendToClient(ctx context.Context, id domain.ClientID, v interface{}) error
}

// ClientSender is the narrow slice of the registry used by the relay to
// deliver queued requests to a reconnected client.
type ClientSender interface {
	SendToClient(ctx context.Context, id domain.ClientID, v interface{}) error
}

// AdminNotifier delivers best-effort presence notifications to an admin
// transport. Failures are reported to the caller, which logs and continues.
type AdminNotifier interface {
	Notify(ctx context.Context, adminID domain.AdminID, transport Transport, payload interface{}) error
}
