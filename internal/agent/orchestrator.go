package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/infrastructure/presence"
	"peerlink/pkg/backoff"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// State is the orchestrator lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateBackingOff State = "backing-off"
	StateAbandoned  State = "abandoned"
)

var errDeliberateClose = errors.New("channel closed deliberately")

// Config carries everything an orchestrator needs to establish and keep a
// link to its admin.
type Config struct {
	SignalURL    string
	Registration domain.Registration
	Peer         PeerConfig

	// HandshakeTimeout bounds one connect-and-handshake attempt.
	HandshakeTimeout time.Duration

	// OnConnected, when set, runs after each successful handshake, in
	// addition to the local admin-online broadcast.
	OnConnected func()
}

// Orchestrator drives the member side of a link: it registers over the
// signaling channel, runs the data-channel handshake, and on failure backs
// off until the timer expires or an admin-online presence event for its
// organization pre-empts the wait.
type Orchestrator struct {
	cfg         Config
	backoff     *backoff.Backoff
	bus         *presence.Bus
	broadcaster *presence.Broadcaster

	presenceCh chan struct{}

	mu       sync.Mutex
	state    State
	inFlight bool
	channel  *Channel

	logger *zap.SugaredLogger
}

func NewOrchestrator(cfg Config, bo *backoff.Backoff, bus *presence.Bus, logger *zap.SugaredLogger) *Orchestrator {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}

	o := &Orchestrator{
		cfg:         cfg,
		backoff:     bo,
		bus:         bus,
		broadcaster: presence.NewBroadcaster(bus, logger),
		presenceCh:  make(chan struct{}, 1),
		state:       StateIdle,
		logger:      logger,
	}

	o.broadcaster.SetOrganizationID(cfg.Registration.OrganizationID)
	o.broadcaster.RegisterAdminOnlineListener(func(domain.PresenceMessage) {
		select {
		case o.presenceCh <- struct{}{}:
		default:
		}
	})

	return o
}

// State returns the current lifecycle phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Disconnect tears down the active signaling channel deliberately; Run
// returns nil and no retry is scheduled.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	ch := o.channel
	o.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// Run keeps attempting to establish and hold the link until the context is
// cancelled or Disconnect is called. Cancellation is the only way the
// orchestrator reaches the abandoned state.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.broadcaster.Cleanup()

	for {
		o.setState(StateConnecting)
		err := o.runAttempt(ctx)

		if ctx.Err() != nil {
			o.setState(StateAbandoned)
			return ctx.Err()
		}
		if errors.Is(err, errDeliberateClose) {
			o.setState(StateIdle)
			return nil
		}

		wait := o.backoff.NextInterval()
		o.setState(StateBackingOff)
		o.logger.Infow("link attempt failed, backing off",
			"client_id", o.cfg.Registration.ClientID,
			"wait", wait,
			"error", err,
		)

		// A presence event raised while we were connected is stale.
		select {
		case <-o.presenceCh:
		default:
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			o.setState(StateAbandoned)
			return ctx.Err()
		case <-timer.C:
		case <-o.presenceCh:
			timer.Stop()
			o.logger.Infow("admin back online, retrying immediately",
				"client_id", o.cfg.Registration.ClientID,
			)
		}
	}
}

func (o *Orchestrator) runAttempt(ctx context.Context) error {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return domain.ErrAttemptInFlight
	}
	o.inFlight = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.channel = nil
		o.mu.Unlock()
	}()

	ch := NewChannel(o.cfg.SignalURL, o.logger)
	if err := ch.Connect(ctx); err != nil {
		return fmt.Errorf("failed to reach signaling server: %w", err)
	}
	defer ch.Close()

	o.mu.Lock()
	o.channel = ch
	o.mu.Unlock()

	if err := ch.Send(map[string]interface{}{
		"type":    "register",
		"payload": o.cfg.Registration,
	}); err != nil {
		return fmt.Errorf("failed to send registration: %w", err)
	}

	peer, err := NewPeerSession(o.cfg.Peer)
	if err != nil {
		return err
	}
	defer peer.Close()

	offer, err := peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := ch.Send(map[string]interface{}{
		"type":    "offer",
		"payload": offer,
	}); err != nil {
		return fmt.Errorf("failed to send offer: %w", err)
	}

	deadline := time.NewTimer(o.cfg.HandshakeTimeout)
	defer deadline.Stop()

	// Trickle local candidates for the lifetime of the attempt.
	candidateCtx, cancelCandidates := context.WithCancel(ctx)
	defer cancelCandidates()
	go func() {
		for {
			select {
			case candidate := <-peer.Candidates():
				if err := ch.Send(map[string]interface{}{
					"type":    "ice_candidate",
					"payload": candidate,
				}); err != nil {
					return
				}
			case <-candidateCtx.Done():
				return
			}
		}
	}()

	connected := false
	connCh := peer.Connected()
	deadlineCh := deadline.C
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-deadlineCh:
			return domain.ErrHandshakeFailed

		case <-connCh:
			connected = true
			connCh = nil
			deadlineCh = nil
			o.setState(StateConnected)
			o.backoff.Reset()
			o.logger.Infow("link established",
				"client_id", o.cfg.Registration.ClientID,
				"admin_id", o.cfg.Registration.AdminID,
			)
			// A successful link proves the admin is reachable; let
			// sibling agents still backing off retry now.
			o.broadcaster.BroadcastAdminOnline()
			if o.cfg.OnConnected != nil {
				o.cfg.OnConnected()
			}

		case <-peer.Failed():
			if connected {
				return fmt.Errorf("peer connection lost")
			}
			return domain.ErrHandshakeFailed

		case msg, ok := <-ch.Messages():
			if !ok {
				if ch.Closed() {
					return errDeliberateClose
				}
				return domain.ErrTransportClosed
			}
			if err := o.handleInbound(peer, msg); err != nil {
				o.logger.Warnw("failed to handle message",
					"type", msg.Type,
					"error", err,
				)
			}
		}
	}
}

func (o *Orchestrator) handleInbound(peer *PeerSession, msg Inbound) error {
	switch msg.Type {
	case "registered":
		o.logger.Debugw("registration acknowledged", "client_id", o.cfg.Registration.ClientID)
		return nil

	case "answer":
		var envelope struct {
			Payload webrtc.SessionDescription `json:"payload"`
		}
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			return err
		}
		return peer.AcceptAnswer(envelope.Payload)

	case "ice_candidate":
		var envelope struct {
			Payload webrtc.ICECandidateInit `json:"payload"`
		}
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			return err
		}
		return peer.AddRemoteCandidate(envelope.Payload)

	case "admin-online":
		var announcement domain.PresenceMessage
		if err := json.Unmarshal(msg.Data, &announcement); err != nil {
			return err
		}
		o.bus.Publish(announcement)
		return nil

	case "queued_request", "request":
		o.logger.Infow("request received", "type", msg.Type)
		return nil

	case "error":
		var envelope struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			return err
		}
		o.logger.Warnw("server reported error", "message", envelope.Message)
		return nil

	default:
		o.logger.Debugw("ignoring unexpected message", "type", msg.Type)
		return nil
	}
}
