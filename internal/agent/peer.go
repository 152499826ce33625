package agent

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
)

// PeerConfig carries the WebRTC transport settings for an agent.
type PeerConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// PeerSession drives one data-channel handshake: it produces the local
// offer, consumes the remote answer and trickled candidates, and exposes
// the connection outcome through channels.
type PeerSession struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	candidates chan webrtc.ICECandidateInit
	connected  chan struct{}
	failed     chan struct{}

	connectedOnce sync.Once
	failedOnce    sync.Once
}

func NewPeerSession(cfg PeerConfig) (*PeerSession, error) {
	config := webrtc.Configuration{
		ICEServers:   cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	dc, err := pc.CreateDataChannel("control", nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	s := &PeerSession{
		pc:         pc,
		dc:         dc,
		candidates: make(chan webrtc.ICECandidateInit, 16),
		connected:  make(chan struct{}),
		failed:     make(chan struct{}),
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		select {
		case s.candidates <- candidate.ToJSON():
		default:
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.connectedOnce.Do(func() { close(s.connected) })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.failedOnce.Do(func() { close(s.failed) })
		}
	})

	return s, nil
}

// CreateOffer produces the local session description and pins it.
func (s *PeerSession) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

// AcceptAnswer applies the remote answer relayed through signaling.
func (s *PeerSession) AcceptAnswer(answer webrtc.SessionDescription) error {
	return s.pc.SetRemoteDescription(answer)
}

// AddRemoteCandidate feeds a trickled remote candidate into the connection.
func (s *PeerSession) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(candidate)
}

// Candidates streams locally gathered candidates for trickle signaling.
func (s *PeerSession) Candidates() <-chan webrtc.ICECandidateInit {
	return s.candidates
}

// Connected is closed once the peer connection reaches the connected state.
func (s *PeerSession) Connected() <-chan struct{} {
	return s.connected
}

// Failed is closed when the peer connection fails or is closed remotely.
func (s *PeerSession) Failed() <-chan struct{} {
	return s.failed
}

func (s *PeerSession) Close() error {
	s.failedOnce.Do(func() { close(s.failed) })
	return s.pc.Close()
}
