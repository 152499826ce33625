package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peerlink/internal/agent"
	"peerlink/internal/core/domain"
	"peerlink/internal/infrastructure/presence"
	redisrepo "peerlink/internal/infrastructure/repositories/redis"
	"peerlink/pkg/backoff"
	"peerlink/pkg/config"
	"peerlink/pkg/identity"
	"peerlink/pkg/logger"
	"peerlink/pkg/utils"
	"peerlink/pkg/validation"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

func main() {
	cfg, err := config.Load(os.Getenv("PEERLINK_CONFIG"))
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	signalURL := os.Getenv("PEERLINK_SIGNAL_URL")
	if signalURL == "" {
		signalURL = "ws://localhost:8081/ws/client"
	}
	if err := validation.ValidateURL(signalURL); err != nil {
		log.Fatalw("invalid signaling URL", "url", signalURL, "error", err)
	}

	adminID := os.Getenv("PEERLINK_ADMIN_ID")
	orgID := os.Getenv("PEERLINK_ORG_ID")
	userName := os.Getenv("PEERLINK_USER_NAME")
	if err := validation.ValidateAdminID(adminID); err != nil {
		log.Fatalw("PEERLINK_ADMIN_ID is required", "error", err)
	}
	if err := validation.ValidateOrganizationID(orgID); err != nil {
		log.Fatalw("PEERLINK_ORG_ID is required", "error", err)
	}
	if userName == "" {
		userName = "unnamed"
	}

	// Device identity survives restarts; the registry treats every run of
	// this agent as the same client.
	idStore, err := identity.NewStore(os.Getenv("PEERLINK_STATE_DIR"))
	if err != nil {
		log.Fatalw("failed to open identity store", "error", err)
	}
	deviceID, err := idStore.GetOrCreateDeviceID()
	if err != nil {
		log.Fatalw("failed to resolve device identity", "error", err)
	}

	bo := backoff.New(backoff.Config{
		InitialInterval: cfg.Backoff.InitialInterval,
		MaxInterval:     cfg.Backoff.MaxInterval,
		Multiplier:      cfg.Backoff.Multiplier,
		JitterFactor:    cfg.Backoff.JitterFactor,
		Strategy:        backoff.Strategy(cfg.Backoff.Strategy),
	})

	bus := presence.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional Redis bridge fans presence announcements across agent
	// processes on the same host.
	var onConnected func()
	if cfg.Redis.Enabled {
		redisClient, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			log,
		)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()

		bridge := presence.NewRedisBridge(redisClient, bus, uuid.NewString(), log)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				log.Warnw("presence bridge stopped", "error", err)
			}
		}()
		defer bridge.Close()

		onConnected = func() {
			msg := domain.PresenceMessage{
				Type:           domain.PresenceTypeAdminOnline,
				Ts:             time.Now().UnixMilli(),
				OrganizationID: domain.OrganizationID(orgID),
			}
			if err := bridge.Publish(ctx, msg); err != nil {
				log.Warnw("failed to publish presence to siblings", "error", err)
			}
		}
	}

	orchestrator := agent.NewOrchestrator(agent.Config{
		SignalURL:        signalURL,
		HandshakeTimeout: utils.ParseDurationSafe(os.Getenv("PEERLINK_HANDSHAKE_TIMEOUT"), 30*time.Second),
		OnConnected:      onConnected,
		Registration: domain.Registration{
			ClientID:       domain.ClientID(deviceID),
			AdminID:        domain.AdminID(adminID),
			OrganizationID: domain.OrganizationID(orgID),
			UserName:       userName,
		},
		Peer: agent.PeerConfig{
			ICEServers: []webrtc.ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
	}, bo, bus, log)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		log.Infow("received shutdown signal", "signal", sig)
		cancel()
	}()

	log.Infow("starting agent",
		"client_id", deviceID,
		"admin_id", adminID,
		"organization_id", orgID,
	)

	if err := orchestrator.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalw("agent stopped", "error", err)
	}
	log.Info("agent shutdown complete")
}
