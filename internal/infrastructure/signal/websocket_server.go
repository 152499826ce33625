package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Metrics is the slice of the monitoring collector the server feeds.
type Metrics interface {
	AdminConnected()
	AdminDisconnected()
	RecordSignalRelayed(messageType string)
	RecordRequestQueued()
	RecordMalformedMessage()
}

// SignalMessage is the JSON envelope on both websocket endpoints.
type SignalMessage struct {
	Type     string          `json:"type"`
	ClientID domain.ClientID `json:"client_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type AdminRegistration struct {
	AdminID        domain.AdminID        `json:"adminId"`
	OrganizationID domain.OrganizationID `json:"organizationId"`
}

// WebSocketServer brokers session offers and answers between member
// clients and their owning admin, and feeds connect/disconnect events into
// the client registry.
type WebSocketServer struct {
	registry  ports.ClientRegistry
	directory ports.AdminDirectory
	relay     ports.RequestRelay
	metrics   Metrics

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

func NewWebSocketServer(
	registry ports.ClientRegistry,
	directory ports.AdminDirectory,
	relay ports.RequestRelay,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	return &WebSocketServer{
		registry:     registry,
		directory:    directory,
		relay:        relay,
		metrics:      metrics,
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// SetPingInterval sets the ping interval for WebSocket connections.
func (s *WebSocketServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

// SetPongTimeout sets the pong timeout for WebSocket connections.
func (s *WebSocketServer) SetPongTimeout(timeout time.Duration) {
	s.pongTimeout = timeout
}

// wsTransport adapts a websocket connection to ports.Transport. gorilla
// connections allow one concurrent writer, so sends are serialized.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (t *wsTransport) Send(v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// HandleClientWS serves a member client connection. The first message must
// be a registration; afterwards offers and ICE candidates are relayed to
// the owning admin.
func (s *WebSocketServer) HandleClientWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	transport := &wsTransport{conn: conn, writeTimeout: s.writeTimeout}
	var clientID domain.ClientID

	s.runLoop(conn, transport, func(ctx context.Context, msg SignalMessage) error {
		switch msg.Type {
		case "register":
			var reg domain.Registration
			if err := json.Unmarshal(msg.Payload, &reg); err != nil {
				return fmt.Errorf("invalid register payload: %w", err)
			}
			if err := validation.ValidateClientID(string(reg.ClientID)); err != nil {
				return err
			}
			if err := validation.ValidateAdminID(string(reg.AdminID)); err != nil {
				return err
			}
			if err := validation.ValidateOrganizationID(string(reg.OrganizationID)); err != nil {
				return err
			}
			if err := validation.ValidateUserName(reg.UserName); err != nil {
				return err
			}
			if err := s.registry.RegisterClient(ctx, transport, reg); err != nil {
				return fmt.Errorf("registration failed: %w", err)
			}
			clientID = reg.ClientID
			return nil

		case "offer", "ice_candidate":
			if clientID == "" {
				return fmt.Errorf("not registered")
			}
			return s.relayToAdmin(ctx, clientID, msg)

		default:
			return fmt.Errorf("unknown message type: %s", msg.Type)
		}
	})

	if clientID != "" {
		if err := s.registry.SetClientOffline(context.Background(), clientID, transport); err != nil {
			s.logger.Warnw("failed to mark client offline", "client_id", clientID, "error", err)
		}
		s.logger.Infow("client disconnected", "client_id", clientID)
	}
}

// HandleAdminWS serves an admin connection. The first message must be an
// admin registration; afterwards answers, ICE candidates and requests are
// routed to individual clients.
func (s *WebSocketServer) HandleAdminWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	transport := &wsTransport{conn: conn, writeTimeout: s.writeTimeout}
	var adminID domain.AdminID

	s.runLoop(conn, transport, func(ctx context.Context, msg SignalMessage) error {
		switch msg.Type {
		case "register_admin":
			var reg AdminRegistration
			if err := json.Unmarshal(msg.Payload, &reg); err != nil {
				return fmt.Errorf("invalid register_admin payload: %w", err)
			}
			if err := validation.ValidateAdminID(string(reg.AdminID)); err != nil {
				return err
			}
			if err := validation.ValidateOrganizationID(string(reg.OrganizationID)); err != nil {
				return err
			}
			if err := s.directory.RegisterAdmin(ctx, &domain.Admin{
				ID:             reg.AdminID,
				OrganizationID: reg.OrganizationID,
			}, transport); err != nil {
				return fmt.Errorf("admin registration failed: %w", err)
			}
			adminID = reg.AdminID
			if s.metrics != nil {
				s.metrics.AdminConnected()
			}
			s.logger.Infow("admin connected", "admin_id", adminID, "organization_id", reg.OrganizationID)
			s.announceAdminOnline(ctx, reg.AdminID, reg.OrganizationID)
			return nil

		case "answer", "ice_candidate":
			if adminID == "" {
				return fmt.Errorf("not registered")
			}
			if msg.ClientID == "" {
				return fmt.Errorf("client_id is required")
			}
			return s.relayToClient(ctx, adminID, msg)

		case "request":
			if adminID == "" {
				return fmt.Errorf("not registered")
			}
			if msg.ClientID == "" {
				return fmt.Errorf("client_id is required")
			}
			return s.deliverOrQueue(ctx, transport, msg)

		default:
			return fmt.Errorf("unknown message type: %s", msg.Type)
		}
	})

	if adminID != "" {
		if err := s.directory.SetAdminOffline(context.Background(), adminID); err != nil {
			s.logger.Warnw("failed to mark admin offline", "admin_id", adminID, "error", err)
		}
		if s.metrics != nil {
			s.metrics.AdminDisconnected()
		}
		s.logger.Infow("admin disconnected", "admin_id", adminID)
	}
}

// runLoop pumps messages from conn into handle until the connection dies.
// Malformed messages are dropped and logged; the channel stays open.
func (s *WebSocketServer) runLoop(conn *websocket.Conn, transport *wsTransport, handle func(context.Context, SignalMessage) error) {
	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan SignalMessage, 10)
	errorChan := make(chan error, 1)
	// Closed when the select loop returns so a reader blocked on a full
	// messageChan does not leak.
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.pongTimeout))

			var msg SignalMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
				if s.metrics != nil {
					s.metrics.RecordMalformedMessage()
				}
				s.logger.Warnw("dropping malformed message", "error", err)
				continue
			}
			select {
			case messageChan <- msg:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if err := handle(context.Background(), msg); err != nil {
				s.logger.Infow("error handling message", "type", msg.Type, "error", err)
				s.sendError(transport, err.Error())
			}

		case <-pingTicker.C:
			transport.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			transport.mu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "error", err)
			}
			return
		}
	}
}

// relayToAdmin forwards a client's handshake message to its owning admin.
func (s *WebSocketServer) relayToAdmin(ctx context.Context, clientID domain.ClientID, msg SignalMessage) error {
	client, err := s.registry.GetClient(ctx, clientID)
	if err != nil {
		return fmt.Errorf("client %s not registered: %w", clientID, err)
	}

	_, adminTransport, err := s.directory.GetAdmin(ctx, client.AdminID)
	if err != nil {
		return fmt.Errorf("admin %s not available: %w", client.AdminID, err)
	}
	if adminTransport == nil {
		return fmt.Errorf("admin %s not connected", client.AdminID)
	}

	forward := SignalMessage{
		Type:     msg.Type,
		ClientID: clientID,
		Payload:  msg.Payload,
	}

	s.logger.Debugw("routing to admin",
		"type", msg.Type,
		"from_client", clientID,
		"to_admin", client.AdminID,
	)

	if err := adminTransport.Send(forward); err != nil {
		return fmt.Errorf("failed to relay %s to admin %s: %w", msg.Type, client.AdminID, err)
	}
	if s.metrics != nil {
		s.metrics.RecordSignalRelayed(msg.Type)
	}
	return nil
}

// relayToClient forwards an admin's handshake message to one of its clients.
func (s *WebSocketServer) relayToClient(ctx context.Context, adminID domain.AdminID, msg SignalMessage) error {
	forward := SignalMessage{
		Type:    msg.Type,
		Payload: msg.Payload,
	}

	s.logger.Debugw("routing to client",
		"type", msg.Type,
		"from_admin", adminID,
		"to_client", msg.ClientID,
	)

	if err := s.registry.SendToClient(ctx, msg.ClientID, forward); err != nil {
		return fmt.Errorf("failed to relay %s to client %s: %w", msg.Type, msg.ClientID, err)
	}
	if s.metrics != nil {
		s.metrics.RecordSignalRelayed(msg.Type)
	}
	return nil
}

// deliverOrQueue sends an admin request to a client, queueing it through
// the relay when the client is offline or unknown.
func (s *WebSocketServer) deliverOrQueue(ctx context.Context, adminTransport *wsTransport, msg SignalMessage) error {
	forward := map[string]interface{}{
		"type":    "request",
		"payload": msg.Payload,
	}

	err := s.registry.SendToClient(ctx, msg.ClientID, forward)
	if err == nil {
		if s.metrics != nil {
			s.metrics.RecordSignalRelayed("request")
		}
		return nil
	}

	if errors.Is(err, domain.ErrClientOffline) || errors.Is(err, domain.ErrClientNotFound) || errors.Is(err, domain.ErrTransportClosed) {
		if err := s.relay.Enqueue(ctx, msg.ClientID, msg.Payload); err != nil {
			return fmt.Errorf("failed to queue request for %s: %w", msg.ClientID, err)
		}
		if s.metrics != nil {
			s.metrics.RecordRequestQueued()
		}
		ack := map[string]interface{}{
			"type":      "request_queued",
			"client_id": msg.ClientID,
		}
		if err := adminTransport.Send(ack); err != nil {
			s.logger.Warnw("failed to ack queued request", "client_id", msg.ClientID, "error", err)
		}
		return nil
	}

	return fmt.Errorf("failed to deliver request to %s: %w", msg.ClientID, err)
}

// announceAdminOnline pushes an admin-online presence message to every
// online client owned by the reconnecting admin. Delivery is best-effort.
func (s *WebSocketServer) announceAdminOnline(ctx context.Context, adminID domain.AdminID, orgID domain.OrganizationID) {
	admin, _, err := s.directory.GetAdmin(ctx, adminID)
	if err != nil {
		return
	}

	announcement := domain.PresenceMessage{
		Type:           domain.PresenceTypeAdminOnline,
		Ts:             time.Now().UnixMilli(),
		OrganizationID: orgID,
	}

	for _, clientID := range admin.ClientIDs {
		if err := s.registry.SendToClient(ctx, clientID, announcement); err != nil {
			s.logger.Debugw("presence announcement skipped",
				"client_id", clientID,
				"error", err,
			)
		}
	}
}

func (s *WebSocketServer) sendError(transport *wsTransport, message string) {
	errorMsg := map[string]interface{}{
		"type":    "error",
		"message": message,
	}
	if err := transport.Send(errorMsg); err != nil {
		s.logger.Debugw("failed to send error message", "error", err)
	}
}

// HealthCheck reports basic liveness for load balancers.
func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
