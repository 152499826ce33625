package presence

import (
	"sync"
	"time"

	"peerlink/internal/core/domain"

	"go.uber.org/zap"
)

// Broadcaster announces that the locally known admin is reachable again and
// lets exactly one listener per instance react to such announcements from
// elsewhere on the device. The organization ID scopes both directions.
type Broadcaster struct {
	bus    *Bus
	logger *zap.SugaredLogger

	mu       sync.Mutex
	orgID    domain.OrganizationID
	sub      *Subscription
	callback func(domain.PresenceMessage)
}

func NewBroadcaster(bus *Bus, logger *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{
		bus:    bus,
		logger: logger,
	}
}

// SetOrganizationID updates the scope used for emission and filtering. An
// installed listener is moved to the new scope; an empty ID matches nothing.
func (b *Broadcaster) SetOrganizationID(id domain.OrganizationID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.orgID == id {
		return
	}
	b.orgID = id

	if b.callback != nil {
		if b.sub != nil {
			b.sub.Cancel()
			b.sub = nil
		}
		if id != "" {
			b.sub = b.subscribeLocked(id)
		}
	}
}

// BroadcastAdminOnline emits an admin-online message scoped to the current
// organization. Emission problems are logged, never returned.
func (b *Broadcaster) BroadcastAdminOnline() {
	b.mu.Lock()
	orgID := b.orgID
	b.mu.Unlock()

	if orgID == "" {
		b.logger.Debugw("presence broadcast skipped, no organization scope")
		return
	}

	b.bus.Publish(domain.PresenceMessage{
		Type:           domain.PresenceTypeAdminOnline,
		Ts:             time.Now().UnixMilli(),
		OrganizationID: orgID,
	})
}

// RegisterAdminOnlineListener installs callback for admin-online messages
// matching the configured organization. Idempotent: a second call while a
// listener is installed is a no-op.
func (b *Broadcaster) RegisterAdminOnlineListener(callback func(domain.PresenceMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.callback != nil {
		return
	}
	b.callback = callback
	if b.orgID != "" {
		b.sub = b.subscribeLocked(b.orgID)
	}
}

// Cleanup disposes the subscription so a later RegisterAdminOnlineListener
// call can reinstall.
func (b *Broadcaster) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		b.sub.Cancel()
		b.sub = nil
	}
	b.callback = nil
}

func (b *Broadcaster) subscribeLocked(orgID domain.OrganizationID) *Subscription {
	return b.bus.Subscribe(orgID, func(msg domain.PresenceMessage) {
		if msg.Type != domain.PresenceTypeAdminOnline {
			return
		}
		b.mu.Lock()
		cb := b.callback
		current := b.orgID
		b.mu.Unlock()
		if cb == nil || msg.OrganizationID != current {
			return
		}
		cb(msg)
	})
}
