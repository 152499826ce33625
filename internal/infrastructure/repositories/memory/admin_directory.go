package memory

import (
	"context"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
)

type adminEntry struct {
	admin     *domain.Admin
	transport ports.Transport
}

// AdminDirectory is an in-memory admin store. Client ID lists keep
// registration order.
type AdminDirectory struct {
	admins map[domain.AdminID]*adminEntry
	mu     sync.RWMutex
}

func NewAdminDirectory() ports.AdminDirectory {
	return &AdminDirectory{
		admins: make(map[domain.AdminID]*adminEntry),
	}
}

func (d *AdminDirectory) GetAdmin(ctx context.Context, id domain.AdminID) (*domain.Admin, ports.Transport, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, exists := d.admins[id]
	if !exists {
		return nil, nil, domain.ErrAdminNotFound
	}

	a := domain.Admin{
		ID:             entry.admin.ID,
		OrganizationID: entry.admin.OrganizationID,
		ClientIDs:      append([]domain.ClientID(nil), entry.admin.ClientIDs...),
	}
	return &a, entry.transport, nil
}

// RegisterAdmin inserts or replaces the admin's transport. A reconnecting
// admin keeps its previously accumulated client list.
func (d *AdminDirectory) RegisterAdmin(ctx context.Context, admin *domain.Admin, transport ports.Transport) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.admins[admin.ID]; ok {
		existing.transport = transport
		existing.admin.OrganizationID = admin.OrganizationID
		return nil
	}

	a := domain.Admin{
		ID:             admin.ID,
		OrganizationID: admin.OrganizationID,
		ClientIDs:      append([]domain.ClientID(nil), admin.ClientIDs...),
	}
	d.admins[admin.ID] = &adminEntry{admin: &a, transport: transport}
	return nil
}

func (d *AdminDirectory) AddClient(ctx context.Context, adminID domain.AdminID, clientID domain.ClientID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, exists := d.admins[adminID]
	if !exists {
		return domain.ErrAdminNotFound
	}

	for _, id := range entry.admin.ClientIDs {
		if id == clientID {
			return nil
		}
	}
	entry.admin.ClientIDs = append(entry.admin.ClientIDs, clientID)
	return nil
}

// SetAdminOffline drops the stored transport so notifications become no-ops
// until the admin reconnects. The membership list is kept.
func (d *AdminDirectory) SetAdminOffline(ctx context.Context, id domain.AdminID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, exists := d.admins[id]
	if !exists {
		return domain.ErrAdminNotFound
	}

	entry.transport = nil
	return nil
}
