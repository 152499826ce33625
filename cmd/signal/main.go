package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peerlink/internal/core/ports"
	"peerlink/internal/core/services"
	httphandlers "peerlink/internal/handlers/http"
	backupinfra "peerlink/internal/infrastructure/backup"
	"peerlink/internal/infrastructure/middleware"
	"peerlink/internal/infrastructure/monitoring"
	"peerlink/internal/infrastructure/reliability"
	"peerlink/internal/infrastructure/repositories/memory"
	redisrepo "peerlink/internal/infrastructure/repositories/redis"
	signalws "peerlink/internal/infrastructure/signal"
	pkgbackup "peerlink/pkg/backup"
	"peerlink/pkg/circuitbreaker"
	"peerlink/pkg/config"
	"peerlink/pkg/logger"
	"peerlink/pkg/retry"
	"peerlink/pkg/tracing"
	"peerlink/pkg/utils"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "1.0.0"

// relaySender is the slice of the relay backends that needs the registry
// wired in after construction.
type relaySender interface {
	ports.RequestRelay
	SetSender(sender ports.ClientSender)
}

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/peerlink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Repositories. Client records and the relay queue fall back to the
	// in-memory backends when Redis is not configured.
	adminDirectory := memory.NewAdminDirectory()

	var clientRepo ports.ClientRepository
	var relay relaySender
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
		clientRepo = redisrepo.NewClientRepository(redisClient, log)
		relay = redisrepo.NewRelayQueue(redisClient, log)
		log.Infow("using redis repositories", "address", cfg.Redis.Address)
	} else {
		clientRepo = memory.NewClientRepository()
		relay = memory.NewRelayQueue(log)
	}

	// Monitoring
	collector := monitoring.NewPrometheusCollector()

	// Admin notifications go through retry and a per-admin circuit breaker.
	notifier := reliability.NewNotifierWrapper(
		retry.Config{
			Enabled:      cfg.Notify.RetryEnabled,
			MaxAttempts:  cfg.Notify.RetryAttempts,
			InitialDelay: cfg.Notify.RetryDelay,
			MaxDelay:     cfg.Notify.RetryDelay * 10,
			Multiplier:   2.0,
		},
		circuitbreaker.Config{
			FailureThreshold:    cfg.Notify.BreakerThreshold,
			SuccessThreshold:    1,
			Timeout:             cfg.Notify.BreakerTimeout,
			MaxRequestsHalfOpen: 1,
		},
		log,
	)

	registry := services.NewRegistryService(clientRepo, adminDirectory, relay, notifier, collector, log)
	relay.SetSender(registry)

	// Roster snapshots keep admin/org affiliations across restarts.
	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	var scheduler *backupinfra.Scheduler
	if cfg.Backup.Enabled {
		var storage pkgbackup.Storage
		switch cfg.Backup.Backend {
		case "s3":
			awsCfg, err := awsconfig.LoadDefaultConfig(schedulerCtx)
			if err != nil {
				log.Fatalw("failed to load AWS config", "error", err)
			}
			storage = pkgbackup.NewS3Storage(s3.NewFromConfig(awsCfg), cfg.Backup.S3Bucket, cfg.Backup.S3Prefix)
		default:
			storage, err = pkgbackup.NewFileStorage(cfg.Backup.Dir)
			if err != nil {
				log.Fatalw("failed to create snapshot storage", "error", err)
			}
		}

		snapshots := pkgbackup.NewSnapshotService(storage, version)
		restorer := backupinfra.NewRestorer(snapshots, clientRepo, log)
		if err := restorer.RestoreLatest(schedulerCtx); err != nil {
			log.Warnw("roster restore failed", "error", err)
		}

		scheduler = backupinfra.NewScheduler(snapshots, clientRepo, backupinfra.Config{
			Interval:      cfg.Backup.Interval,
			RetentionDays: cfg.Backup.RetentionDays,
		}, log)
		go scheduler.Start(schedulerCtx)
	}

	// Signaling server
	wsServer := signalws.NewWebSocketServer(registry, adminDirectory, relay, collector, log)
	wsServer.SetPingInterval(cfg.Signal.PingInterval)
	wsServer.SetPongTimeout(cfg.Signal.PongTimeout)

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws/client", wsServer.HandleClientWS)
	wsMux.HandleFunc("/ws/admin", wsServer.HandleAdminWS)
	wsMux.HandleFunc("/health", wsServer.HealthCheck)

	wsSrv := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: wsMux,
	}

	// Admin HTTP API
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	httphandlers.NewAuthHandler(authService).SetupRoutes(router)
	httphandlers.NewAdminHandler(registry).SetupRoutes(router, middleware.AuthMiddleware(authService))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    utils.FormatDuration(time.Since(startTime)),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	apiSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infof("Starting signaling server on %s", cfg.Signal.Address)
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		log.Infof("Starting admin API server on %s", cfg.Server.Address)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop()
	}

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during API server shutdown", "error", err)
	}
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during signaling server shutdown", "error", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during tracer shutdown", "error", err)
	}

	log.Info("shutdown complete")
}
