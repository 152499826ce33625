package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     []interface{}
	failSend bool
	onSend   func(v interface{})
}

func (t *fakeTransport) Send(v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSend {
		return domain.ErrTransportClosed
	}
	t.sent = append(t.sent, v)
	if t.onSend != nil {
		t.onSend(v)
	}
	return nil
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) messages() []interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]interface{}(nil), t.sent...)
}

type fakeRelay struct {
	mu        sync.Mutex
	processed []domain.ClientID
	onProcess func(id domain.ClientID)
}

func (r *fakeRelay) Enqueue(ctx context.Context, clientID domain.ClientID, payload json.RawMessage) error {
	return nil
}

func (r *fakeRelay) ProcessQueuedRequestsForClient(ctx context.Context, clientID domain.ClientID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, clientID)
	if r.onProcess != nil {
		r.onProcess(clientID)
	}
	return nil
}

type fakeEvents struct {
	mu         sync.Mutex
	registered [][2]bool // wasOnline, reconnect
	offline    int
}

func (e *fakeEvents) ClientRegistered(wasOnline, reconnect bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registered = append(e.registered, [2]bool{wasOnline, reconnect})
}

func (e *fakeEvents) ClientWentOffline() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offline++
}

func (e *fakeEvents) NotificationFailed() {}

func newTestRegistry(t *testing.T) (ports.ClientRegistry, ports.AdminDirectory, *fakeRelay) {
	t.Helper()
	directory := memory.NewAdminDirectory()
	relay := &fakeRelay{}
	registry := NewRegistryService(
		memory.NewClientRepository(),
		directory,
		relay,
		nil,
		nil,
		zap.NewNop().Sugar(),
	)
	return registry, directory, relay
}

func registerAdmin(t *testing.T, directory ports.AdminDirectory, id domain.AdminID, org domain.OrganizationID) *fakeTransport {
	t.Helper()
	transport := &fakeTransport{}
	err := directory.RegisterAdmin(context.Background(), &domain.Admin{
		ID:             id,
		OrganizationID: org,
	}, transport)
	require.NoError(t, err)
	return transport
}

func TestRegisterClient_CreatesOnlineRecord(t *testing.T) {
	registry, directory, _ := newTestRegistry(t)
	registerAdmin(t, directory, "a1", "o1")

	clientTransport := &fakeTransport{}
	err := registry.RegisterClient(context.Background(), clientTransport, domain.Registration{
		ClientID:       "c1",
		AdminID:        "a1",
		OrganizationID: "o1",
		UserName:       "alice",
	})
	require.NoError(t, err)

	client, err := registry.GetClient(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnline, client.Status)
	assert.Equal(t, domain.AdminID("a1"), client.AdminID)
	assert.Equal(t, domain.OrganizationID("o1"), client.OrganizationID)
	assert.Equal(t, "alice", client.UserName)
	assert.False(t, client.LastSeen.IsZero())

	// The client receives an ack carrying its assigned ID.
	msgs := clientTransport.messages()
	require.Len(t, msgs, 1)
	ack := msgs[0].(map[string]interface{})
	assert.Equal(t, "registered", ack["type"])
	assert.Equal(t, domain.ClientID("c1"), ack["clientId"])
}

func TestRegisterClient_NotifiesOwningAdmin(t *testing.T) {
	registry, directory, _ := newTestRegistry(t)
	adminTransport := registerAdmin(t, directory, "a1", "o1")

	err := registry.RegisterClient(context.Background(), &fakeTransport{}, domain.Registration{
		ClientID: "c1", AdminID: "a1", OrganizationID: "o1", UserName: "alice",
	})
	require.NoError(t, err)

	msgs := adminTransport.messages()
	require.Len(t, msgs, 1)
	notification := msgs[0].(map[string]interface{})
	assert.Equal(t, "client-online", notification["type"])
	assert.Equal(t, domain.ClientID("c1"), notification["clientId"])

	// The registry requested directory membership for the new client.
	admin, _, err := directory.GetAdmin(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, []domain.ClientID{"c1"}, admin.ClientIDs)
}

func TestRegisterClient_AdminAbsentIsBestEffort(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	err := registry.RegisterClient(context.Background(), &fakeTransport{}, domain.Registration{
		ClientID: "c1", AdminID: "missing", OrganizationID: "o1", UserName: "alice",
	})
	require.NoError(t, err)

	client, err := registry.GetClient(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnline, client.Status)
}

func TestRegisterClient_AdminTransportFailureDoesNotFailRegistration(t *testing.T) {
	registry, directory, _ := newTestRegistry(t)
	adminTransport := registerAdmin(t, directory, "a1", "o1")
	adminTransport.failSend = true

	err := registry.RegisterClient(context.Background(), &fakeTransport{}, domain.Registration{
		ClientID: "c1", AdminID: "a1", OrganizationID: "o1", UserName: "alice",
	})
	require.NoError(t, err)

	client, err := registry.GetClient(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnline, client.Status)
}

func TestRegisterClient_AffiliationImmutable(t *testing.T) {
	registry, directory, _ := newTestRegistry(t)
	registerAdmin(t, directory, "a1", "o1")
	registerAdmin(t, directory, "a2", "o2")

	ctx := context.Background()
	require.NoError(t, registry.RegisterClient(ctx, &fakeTransport{}, domain.Registration{
		ClientID: "c1", AdminID: "a1", OrganizationID: "o1", UserName: "alice",
	}))

	// Re-registering under a different admin keeps the original affiliation.
	require.NoError(t, registry.RegisterClient(ctx, &fakeTransport{}, domain.Registration{
		ClientID: "c1", AdminID: "a2", OrganizationID: "o2", UserName: "alice",
	}))

	client, err := registry.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.AdminID("a1"), client.AdminID)
	assert.Equal(t, domain.OrganizationID("o1"), client.OrganizationID)
}

func TestSetClientOffline_UnknownClientIsNoop(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	err := registry.SetClientOffline(context.Background(), "ghost", nil)
	assert.NoError(t, err)
}

func TestSetClientOffline_MarksRecordAndNotifiesAdmin(t *testing.T) {
	registry, directory, _ := newTestRegistry(t)
	adminTransport := registerAdmin(t, directory, "a1", "o1")

	ctx := context.Background()
	clientTransport := &fakeTransport{}
	require.NoError(t, registry.RegisterClient(ctx, clientTransport, domain.Registration{
		ClientID: "c1", AdminID: "a1", OrganizationID: "o1", UserName: "alice",
	}))

	require.NoError(t, registry.SetClientOffline(ctx, "c1", clientTransport))

	client, err := registry.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, client.Status)

	msgs := adminTransport.messages()
	require.Len(t, msgs, 2)
	offline := msgs[1].(map[string]interface{})
	assert.Equal(t, "client-offline", offline["type"])
	assert.Equal(t, domain.ClientID("c1"), offline["clientId"])
}

func TestSendToClient_RefusedWhileOffline(t *testing.T) {
	registry, directory, _ := newTestRegistry(t)
	registerAdmin(t, directory, "a1", "o1")

	ctx := context.Background()
	clientTransport := &fakeTransport{}
	require.NoError(t, registry.RegisterClient(ctx, clientTransport, domain.Registration{
		ClientID: "c1", AdminID: "a1", OrganizationID: "o1", UserName: "alice",
	}))
	require.NoError(t, registry.SetClientOffline(ctx, "c1", clientTransport))

	err := registry.SendToClient(ctx, "c1", map[string]string{"type": "ping"})
	assert.ErrorIs(t, err, domain.ErrClientOffline)
}

func TestSetClientOffline_SupersededTransportIsIgnored(t *testing.T) {
	registry, directory, _ := newTestRegistry(t)
	registerAdmin(t, directory, "a1", "o1")

	ctx := context.Background()
	reg := domain.Registration{
		ClientID: "c1", AdminID: "a1", OrganizationID: "o1", UserName: "alice",
	}
	oldTransport := &fakeTransport{}
	require.NoError(t, registry.RegisterClient(ctx, oldTransport, reg))

	// Same device re-registers on a fresh socket while the old handler
	// is still draining.
	newTransport := &fakeTransport{}
	require.NoError(t, registry.RegisterClient(ctx, newTransport, reg))

	// The old handler's disconnect arrives late and must not take the
	// live replacement offline.
	require.NoError(t, registry.SetClientOffline(ctx, "c1", oldTransport))

	client, err := registry.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnline, client.Status)

	require.NoError(t, registry.SendToClient(ctx, "c1", map[string]string{"type": "ping"}))
	assert.Empty(t, oldTransport.messages()[1:], "superseded transport must not receive sends")
	last := newTransport.messages()
	assert.Equal(t, map[string]string{"type": "ping"}, last[len(last)-1])

	// The owning transport still takes the client down.
	require.NoError(t, registry.SetClientOffline(ctx, "c1", newTransport))
	client, err = registry.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, client.Status)
}

func TestRegistryEvents_ReportOnlineTransition(t *testing.T) {
	directory := memory.NewAdminDirectory()
	events := &fakeEvents{}
	registry := NewRegistryService(
		memory.NewClientRepository(),
		directory,
		&fakeRelay{},
		nil,
		events,
		zap.NewNop().Sugar(),
	)
	registerAdmin(t, directory, "a1", "o1")

	ctx := context.Background()
	reg := domain.Registration{
		ClientID: "c1", AdminID: "a1", OrganizationID: "o1", UserName: "alice",
	}
	firstTransport := &fakeTransport{}
	require.NoError(t, registry.RegisterClient(ctx, firstTransport, reg))

	// Transport replacement while online is not an offline→online
	// transition; the online gauge must not move.
	require.NoError(t, registry.RegisterClient(ctx, &fakeTransport{}, reg))

	require.NoError(t, registry.SetClientOffline(ctx, "c1", nil))
	require.NoError(t, registry.RegisterClient(ctx, &fakeTransport{}, reg))

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Equal(t, [][2]bool{
		{false, false}, // absent → online
		{true, false},  // already online, transport replaced
		{false, true},  // offline → online
	}, events.registered)
	assert.Equal(t, 1, events.offline)
}

func TestGetClientsByAdmin_PreservesDirectoryOrder(t *testing.T) {
	registry, directory, _ := newTestRegistry(t)
	registerAdmin(t, directory, "a1", "o1")

	ctx := context.Background()
	for _, id := range []domain.ClientID{"c3", "c1", "c2"} {
		require.NoError(t, registry.RegisterClient(ctx, &fakeTransport{}, domain.Registration{
			ClientID: id, AdminID: "a1", OrganizationID: "o1", UserName: string(id) + "-user",
		}))
	}

	// A directory entry without a registry record is skipped, not errored.
	require.NoError(t, directory.AddClient(ctx, "a1", "never-registered"))

	summaries, err := registry.GetClientsByAdmin(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, domain.ClientID("c3"), summaries[0].ClientID)
	assert.Equal(t, domain.ClientID("c1"), summaries[1].ClientID)
	assert.Equal(t, domain.ClientID("c2"), summaries[2].ClientID)
}

func TestGetClientsByAdmin_UnknownAdmin(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	_, err := registry.GetClientsByAdmin(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrAdminNotFound)
}

func TestReconnect_RelayRunsOnceBeforeAdminNotification(t *testing.T) {
	registry, directory, relay := newTestRegistry(t)
	adminTransport := registerAdmin(t, directory, "a1", "o1")

	var order []string
	var orderMu sync.Mutex
	relay.onProcess = func(domain.ClientID) {
		orderMu.Lock()
		order = append(order, "relay")
		orderMu.Unlock()
	}
	adminTransport.onSend = func(v interface{}) {
		if m, ok := v.(map[string]interface{}); ok && m["type"] == "client-online" {
			orderMu.Lock()
			order = append(order, "notify")
			orderMu.Unlock()
		}
	}

	ctx := context.Background()
	firstTransport := &fakeTransport{}
	require.NoError(t, registry.RegisterClient(ctx, firstTransport, domain.Registration{
		ClientID: "c1", AdminID: "a1", OrganizationID: "o1", UserName: "alice",
	}))

	// First registration has no prior offline state; the relay stays idle.
	assert.Empty(t, relay.processed)

	require.NoError(t, registry.SetClientOffline(ctx, "c1", firstTransport))
	require.NoError(t, registry.RegisterClient(ctx, &fakeTransport{}, domain.Registration{
		ClientID: "c1", AdminID: "a1", OrganizationID: "o1", UserName: "alice",
	}))

	require.Equal(t, []domain.ClientID{"c1"}, relay.processed)

	orderMu.Lock()
	defer orderMu.Unlock()
	// order holds the first registration's notify, then relay, then the
	// reconnect notify.
	require.Len(t, order, 3)
	assert.Equal(t, "notify", order[0])
	assert.Equal(t, "relay", order[1])
	assert.Equal(t, "notify", order[2])
}
