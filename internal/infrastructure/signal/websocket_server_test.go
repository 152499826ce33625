package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/core/services"
	"peerlink/internal/infrastructure/repositories/memory"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHarness(t *testing.T) (*WebSocketServer, ports.ClientRegistry, *httptest.Server) {
	t.Helper()

	logger := zap.NewNop().Sugar()
	clients := memory.NewClientRepository()
	directory := memory.NewAdminDirectory()
	relay := memory.NewRelayQueue(logger)
	registry := services.NewRegistryService(clients, directory, relay, nil, nil, logger)
	relay.SetSender(registry)

	server := NewWebSocketServer(registry, directory, relay, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/client", server.HandleClientWS)
	mux.HandleFunc("/ws/admin", server.HandleAdminWS)
	mux.HandleFunc("/health", server.HealthCheck)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return server, registry, ts
}

func newTestServer(t *testing.T) (*WebSocketServer, *httptest.Server) {
	t.Helper()
	server, _, ts := newTestHarness(t)
	return server, ts
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func msgType(t *testing.T, msg map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	require.NoError(t, json.Unmarshal(msg["type"], &typ))
	return typ
}

func registerAdmin(t *testing.T, conn *websocket.Conn, adminID, orgID string) {
	t.Helper()
	send(t, conn, map[string]interface{}{
		"type":    "register_admin",
		"payload": map[string]string{"adminId": adminID, "organizationId": orgID},
	})
}

func registerClient(t *testing.T, conn *websocket.Conn, clientID, adminID, orgID string) {
	t.Helper()
	send(t, conn, map[string]interface{}{
		"type": "register",
		"payload": map[string]string{
			"clientId":       clientID,
			"adminId":        adminID,
			"organizationId": orgID,
			"userName":       "User " + clientID,
		},
	})
	msg := readMessage(t, conn)
	require.Equal(t, "registered", msgType(t, msg))
}

func TestClientRegistrationAck(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dial(t, ts, "/ws/client")
	registerClient(t, conn, "client-1", "admin-1", "org-1")
}

func TestRegisterRequiresAffiliation(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dial(t, ts, "/ws/client")
	send(t, conn, map[string]interface{}{
		"type":    "register",
		"payload": map[string]string{"clientId": "client-1"},
	})

	msg := readMessage(t, conn)
	assert.Equal(t, "error", msgType(t, msg))
}

func TestOfferRelayedToOwningAdmin(t *testing.T) {
	_, ts := newTestServer(t)

	adminConn := dial(t, ts, "/ws/admin")
	registerAdmin(t, adminConn, "admin-1", "org-1")

	clientConn := dial(t, ts, "/ws/client")
	registerClient(t, clientConn, "client-1", "admin-1", "org-1")

	// Registration pushes a client-online notification to the admin.
	notice := readMessage(t, adminConn)
	require.Equal(t, "client-online", msgType(t, notice))

	send(t, clientConn, map[string]interface{}{
		"type":    "offer",
		"payload": map[string]string{"sdp": "v=0 test-offer"},
	})

	forwarded := readMessage(t, adminConn)
	assert.Equal(t, "offer", msgType(t, forwarded))

	var clientID string
	require.NoError(t, json.Unmarshal(forwarded["client_id"], &clientID))
	assert.Equal(t, "client-1", clientID)
}

func TestAnswerRoutedBackToClient(t *testing.T) {
	_, ts := newTestServer(t)

	adminConn := dial(t, ts, "/ws/admin")
	registerAdmin(t, adminConn, "admin-1", "org-1")

	clientConn := dial(t, ts, "/ws/client")
	registerClient(t, clientConn, "client-1", "admin-1", "org-1")
	readMessage(t, adminConn) // client-online

	send(t, adminConn, map[string]interface{}{
		"type":      "answer",
		"client_id": "client-1",
		"payload":   map[string]string{"sdp": "v=0 test-answer"},
	})

	answer := readMessage(t, clientConn)
	assert.Equal(t, "answer", msgType(t, answer))
}

func TestOfferWithoutRegistrationRejected(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dial(t, ts, "/ws/client")
	send(t, conn, map[string]interface{}{
		"type":    "offer",
		"payload": map[string]string{"sdp": "v=0"},
	})

	msg := readMessage(t, conn)
	assert.Equal(t, "error", msgType(t, msg))
}

func TestRequestToOfflineClientQueued(t *testing.T) {
	_, ts := newTestServer(t)

	adminConn := dial(t, ts, "/ws/admin")
	registerAdmin(t, adminConn, "admin-1", "org-1")

	// Client registers, then drops.
	clientConn := dial(t, ts, "/ws/client")
	registerClient(t, clientConn, "client-1", "admin-1", "org-1")
	readMessage(t, adminConn) // client-online
	clientConn.Close()

	offline := readMessage(t, adminConn)
	require.Equal(t, "client-offline", msgType(t, offline))

	send(t, adminConn, map[string]interface{}{
		"type":      "request",
		"client_id": "client-1",
		"payload":   map[string]string{"action": "sync"},
	})

	ack := readMessage(t, adminConn)
	assert.Equal(t, "request_queued", msgType(t, ack))

	// Reconnect drains the queue before the admin sees the client online.
	reconnected := dial(t, ts, "/ws/client")
	registerClient(t, reconnected, "client-1", "admin-1", "org-1")

	queued := readMessage(t, reconnected)
	assert.Equal(t, "queued_request", msgType(t, queued))
}

func TestAdminOnlineAnnouncedToKnownClients(t *testing.T) {
	_, ts := newTestServer(t)

	adminConn := dial(t, ts, "/ws/admin")
	registerAdmin(t, adminConn, "admin-1", "org-1")

	clientConn := dial(t, ts, "/ws/client")
	registerClient(t, clientConn, "client-1", "admin-1", "org-1")
	readMessage(t, adminConn) // client-online

	// Admin drops and reconnects while the client stays up.
	adminConn.Close()
	time.Sleep(100 * time.Millisecond)

	adminConn2 := dial(t, ts, "/ws/admin")
	registerAdmin(t, adminConn2, "admin-1", "org-1")

	announcement := readMessage(t, clientConn)
	require.Equal(t, "admin-online", msgType(t, announcement))

	var orgID string
	require.NoError(t, json.Unmarshal(announcement["orgId"], &orgID))
	assert.Equal(t, "org-1", orgID)

	var ts64 int64
	require.NoError(t, json.Unmarshal(announcement["ts"], &ts64))
	assert.Greater(t, ts64, int64(0))
}

func TestMalformedMessageKeepsChannelOpen(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dial(t, ts, "/ws/client")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	// The channel survives and registration still works.
	registerClient(t, conn, "client-1", "admin-1", "org-1")
}

func TestReconnectOnNewSocketKeepsClientOnline(t *testing.T) {
	_, registry, ts := newTestHarness(t)

	oldConn := dial(t, ts, "/ws/client")
	registerClient(t, oldConn, "client-1", "admin-1", "org-1")

	// Same device comes back on a fresh socket before the old one dies.
	newConn := dial(t, ts, "/ws/client")
	registerClient(t, newConn, "client-1", "admin-1", "org-1")

	// The superseded handler's disconnect runs now. Last transport wins,
	// so it must not mark the live replacement offline.
	require.NoError(t, oldConn.Close())
	time.Sleep(100 * time.Millisecond)

	client, err := registry.GetClient(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnline, client.Status)

	// Sends still reach the replacement socket.
	require.NoError(t, registry.SendToClient(context.Background(), "client-1", map[string]string{"type": "request"}))
	msg := readMessage(t, newConn)
	assert.Equal(t, "request", msgType(t, msg))
}

func TestConnectionGoroutinesExitAfterClose(t *testing.T) {
	baseline := runtime.NumGoroutine()

	_, ts := newTestServer(t)
	conn := dial(t, ts, "/ws/client")
	registerClient(t, conn, "client-1", "admin-1", "org-1")

	for i := 0; i < 20; i++ {
		send(t, conn, map[string]interface{}{
			"type":    "offer",
			"payload": map[string]string{"sdp": "v=0"},
		})
	}
	require.NoError(t, conn.Close())

	// Both the reader pump and the select loop stop once the socket dies,
	// even with inbound messages still pending.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+3
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHealthCheck(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}
