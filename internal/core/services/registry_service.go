package services

import (
	"context"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/utils"

	"go.uber.org/zap"
)

// maxUserNameLen caps stored display names; longer names are truncated,
// not rejected.
const maxUserNameLen = 100

// RegistryEvents receives presence bookkeeping callbacks, e.g. a metrics
// collector. All methods are optional side channels; nil disables them.
type RegistryEvents interface {
	ClientRegistered(wasOnline, reconnect bool)
	ClientWentOffline()
	NotificationFailed()
}

// registryService tracks every connected client, its admin affiliation and
// liveness. Operations on a single client ID are serialized; different IDs
// proceed concurrently.
type registryService struct {
	clients   ports.ClientRepository
	directory ports.AdminDirectory
	relay     ports.RequestRelay
	notifier  ports.AdminNotifier
	events    RegistryEvents
	logger    *zap.SugaredLogger

	mu         sync.Mutex
	transports map[domain.ClientID]ports.Transport
	locks      map[domain.ClientID]*sync.Mutex
}

// NewRegistryService creates the client registry. notifier may be nil, in
// which case notifications go straight to the admin transport. events may
// be nil.
func NewRegistryService(
	clients ports.ClientRepository,
	directory ports.AdminDirectory,
	relay ports.RequestRelay,
	notifier ports.AdminNotifier,
	events RegistryEvents,
	logger *zap.SugaredLogger,
) ports.ClientRegistry {
	if notifier == nil {
		notifier = directNotifier{}
	}
	return &registryService{
		clients:    clients,
		directory:  directory,
		relay:      relay,
		notifier:   notifier,
		events:     events,
		logger:     logger,
		transports: make(map[domain.ClientID]ports.Transport),
		locks:      make(map[domain.ClientID]*sync.Mutex),
	}
}

// directNotifier sends the payload straight to the admin transport.
type directNotifier struct{}

func (directNotifier) Notify(_ context.Context, _ domain.AdminID, t ports.Transport, payload interface{}) error {
	if t == nil {
		return domain.ErrTransportClosed
	}
	return t.Send(payload)
}

// keyLock returns the per-client mutex, creating it on first use. Records
// are never deleted, so the lock map only grows with distinct client IDs.
func (s *registryService) keyLock(id domain.ClientID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *registryService) RegisterClient(ctx context.Context, transport ports.Transport, reg domain.Registration) error {
	lock := s.keyLock(reg.ClientID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.clients.GetByID(ctx, reg.ClientID)
	wasOffline := err == nil && existing.Status == domain.StatusOffline
	wasOnline := err == nil && existing.Status == domain.StatusOnline

	record := &domain.Client{
		ID:             reg.ClientID,
		AdminID:        reg.AdminID,
		OrganizationID: reg.OrganizationID,
		UserName:       utils.TruncateString(utils.SanitizeString(reg.UserName), maxUserNameLen),
		Status:         domain.StatusOnline,
		LastSeen:       time.Now(),
	}
	if existing != nil {
		// Affiliation is immutable after the first registration.
		if existing.AdminID != reg.AdminID || existing.OrganizationID != reg.OrganizationID {
			s.logger.Warnw("ignoring affiliation change on re-registration",
				"client_id", reg.ClientID,
				"admin_id", existing.AdminID,
				"requested_admin_id", reg.AdminID,
			)
		}
		record.AdminID = existing.AdminID
		record.OrganizationID = existing.OrganizationID
	}

	if err := s.clients.Put(ctx, record); err != nil {
		return err
	}

	s.mu.Lock()
	s.transports[record.ID] = transport
	s.mu.Unlock()

	// Acknowledge the registration on the client's own channel.
	ack := map[string]interface{}{
		"type":     "registered",
		"clientId": record.ID,
	}
	if err := transport.Send(ack); err != nil {
		s.logger.Warnw("failed to send registration ack",
			"client_id", record.ID,
			"error", err,
		)
	}

	// Work queued while the client was offline is delivered before the
	// admin hears about the reconnect.
	if wasOffline {
		if err := s.relay.ProcessQueuedRequestsForClient(ctx, record.ID); err != nil {
			s.logger.Warnw("queued request delivery incomplete",
				"client_id", record.ID,
				"error", err,
			)
		}
	}

	s.notifyAdmin(ctx, record, map[string]interface{}{
		"type":      "client-online",
		"clientId":  record.ID,
		"userName":  record.UserName,
		"reconnect": wasOffline,
		"ts":        time.Now().UnixMilli(),
	}, true)

	if s.events != nil {
		s.events.ClientRegistered(wasOnline, wasOffline)
	}

	s.logger.Infow("client registered",
		"client_id", record.ID,
		"admin_id", record.AdminID,
		"organization_id", record.OrganizationID,
		"reconnect", wasOffline,
	)
	return nil
}

func (s *registryService) SetClientOffline(ctx context.Context, id domain.ClientID, transport ports.Transport) error {
	lock := s.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	// Last transport wins: a re-registration replaces the stored transport,
	// and the old handler's disconnect must not take the replacement down.
	if transport != nil {
		s.mu.Lock()
		current := s.transports[id]
		s.mu.Unlock()
		if current != transport {
			s.logger.Debugw("ignoring offline from superseded transport",
				"client_id", id,
			)
			return nil
		}
	}

	client, err := s.clients.GetByID(ctx, id)
	if err != nil {
		// Unknown clients are a no-op, not an error.
		return nil
	}

	if err := s.clients.UpdateStatus(ctx, id, domain.StatusOffline); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.transports, id)
	s.mu.Unlock()

	s.notifyAdmin(ctx, client, map[string]interface{}{
		"type":     "client-offline",
		"clientId": client.ID,
		"ts":       time.Now().UnixMilli(),
	}, false)

	if s.events != nil {
		s.events.ClientWentOffline()
	}

	s.logger.Infow("client offline",
		"client_id", id,
		"admin_id", client.AdminID,
	)
	return nil
}

func (s *registryService) GetClient(ctx context.Context, id domain.ClientID) (*domain.Client, error) {
	return s.clients.GetByID(ctx, id)
}

func (s *registryService) GetClientsByAdmin(ctx context.Context, adminID domain.AdminID) ([]domain.ClientSummary, error) {
	admin, _, err := s.directory.GetAdmin(ctx, adminID)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.ClientSummary, 0, len(admin.ClientIDs))
	for _, id := range admin.ClientIDs {
		client, err := s.clients.GetByID(ctx, id)
		if err != nil {
			// Directory entries without a registry record are skipped.
			continue
		}
		summaries = append(summaries, domain.ClientSummary{
			ClientID: client.ID,
			UserName: client.UserName,
			Status:   client.Status,
			LastSeen: client.LastSeen,
		})
	}
	return summaries, nil
}

// SendToClient delivers a payload to an online client. Sends to offline or
// unknown clients are refused so stale transports are never written to.
func (s *registryService) SendToClient(ctx context.Context, id domain.ClientID, v interface{}) error {
	client, err := s.clients.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if client.Status != domain.StatusOnline {
		return domain.ErrClientOffline
	}

	s.mu.Lock()
	transport, ok := s.transports[id]
	s.mu.Unlock()
	if !ok {
		return domain.ErrTransportClosed
	}
	return transport.Send(v)
}

// notifyAdmin looks up the owning admin and pushes a presence payload.
// Failures are logged and swallowed; presence bookkeeping must never be
// blocked by a downstream transport error.
func (s *registryService) notifyAdmin(ctx context.Context, client *domain.Client, payload map[string]interface{}, ensureMembership bool) {
	admin, transport, err := s.directory.GetAdmin(ctx, client.AdminID)
	if err != nil {
		s.logger.Debugw("owning admin not in directory",
			"client_id", client.ID,
			"admin_id", client.AdminID,
		)
		return
	}

	if ensureMembership && !containsClient(admin.ClientIDs, client.ID) {
		if err := s.directory.AddClient(ctx, client.AdminID, client.ID); err != nil {
			s.logger.Warnw("failed to add client to admin directory",
				"client_id", client.ID,
				"admin_id", client.AdminID,
				"error", err,
			)
		}
	}

	if err := s.notifier.Notify(ctx, client.AdminID, transport, payload); err != nil {
		if s.events != nil {
			s.events.NotificationFailed()
		}
		s.logger.Warnw("admin notification failed",
			"client_id", client.ID,
			"admin_id", client.AdminID,
			"error", err,
		)
	}
}

func containsClient(ids []domain.ClientID, id domain.ClientID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
