package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livesignal/internal/core/ports"
	"livesignal/internal/core/services"
	httphandlers "livesignal/internal/handlers/http"
	"livesignal/internal/infrastructure/distributed"
	"livesignal/internal/infrastructure/middleware"
	"livesignal/internal/infrastructure/monitoring"
	"livesignal/internal/infrastructure/repositories"
	signalinfra "livesignal/internal/infrastructure/signal"
	"livesignal/pkg/config"
	"livesignal/pkg/logger"
	"livesignal/pkg/retry"
	"livesignal/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// sessionCacheTTL bounds how stale a cached session snapshot can be when no
// lifecycle event invalidates it.
const sessionCacheTTL = 2 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling coordinator",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg *config.Config) error {
	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = zapLogger.Sync() }()
	log := zapLogger.Sugar()

	instanceID := ulid.Make().String()
	log = log.With("instance_id", instanceID)

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		Version:     version,
		InstanceID:  instanceID,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log.Named("repositories"))
	store := repoFactory.CreateSessionStore()

	cache := services.NewSessionCache(sessionCacheTTL)
	var (
		publisher ports.EventPublisher = distributed.NewLogPublisher(log.Named("events"))
		bus       *distributed.EventBus
	)
	if client := repoFactory.RedisClient(); client != nil {
		bus = distributed.NewEventBus(client, cfg.Redis.EventsChannel, instanceID, log.Named("events"))
		publisher = bus
	}
	publisher = cache.Publisher(publisher)

	var (
		metrics  ports.MetricsRecorder
		gatherer prometheus.Gatherer
	)
	if cfg.Monitoring.PrometheusEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = monitoring.NewPrometheusCollector(reg)
		gatherer = reg
	}

	registry := services.NewRegistry(store, log.Named("registry"))
	fanout := services.NewFanoutCoordinator(registry, publisher, metrics, log.Named("fanout"))
	lifecycle := services.NewLifecycleManager(services.LifecycleConfig{
		IdleTimeout: cfg.Session.IdleTimeout,
		GracePeriod: cfg.Session.GracePeriod,
		Cleanup: retry.Config{
			Enabled:      true,
			MaxAttempts:  cfg.Session.Cleanup.MaxAttempts,
			InitialDelay: cfg.Session.Cleanup.InitialDelay,
			MaxDelay:     cfg.Session.Cleanup.MaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}, registry, publisher, metrics, log.Named("lifecycle"))
	manager := services.NewChannelManager(services.ChannelConfig{
		OutboundBuffer: cfg.Signal.OutboundBuffer,
		ReorderWindow:  cfg.Signal.ReorderWindow,
	}, registry, fanout, lifecycle, metrics, log.Named("signal"))

	auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.ChannelTokenTTL)
	sessions := services.NewCachedSessionService(
		services.NewSessionService(registry, fanout, lifecycle, store, cfg.Session.MaxViewers),
		cache,
	)

	ws := signalinfra.NewWebSocketServer(signalinfra.ServerConfig{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		MaxMessageSize: cfg.Signal.MaxMessageSizeBytes,
		AllowedOrigins: cfg.Signal.AllowedOrigins,
		NewLimiter:     func() *rate.Limiter { return middleware.NewConnectionLimiter(cfg) },
	}, manager, auth, auth, log.Named("ws"))

	health := monitoring.NewHealthChecker()
	health.AddStoreCheck(store, cfg.Monitoring.HealthTimeout)
	if repoFactory.RedisClient() != nil {
		health.AddCheck("redis", repoFactory.HealthCheck, cfg.Monitoring.HealthTimeout)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger.Named("http"))),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)
	httphandlers.NewHealthHandler(health, gatherer, ws).SetupRoutes(router, cfg.Monitoring.MetricsPath)
	httphandlers.NewLiveHandler(sessions, auth).SetupRoutes(router, middleware.AuthMiddleware(auth))
	router.GET(cfg.Signal.Path, ws.Handler())

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if bus != nil {
		go func() {
			if err := bus.Subscribe(ctx, cache.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("event subscription stopped", "error", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting livesignal",
			"address", cfg.Server.Address,
			"signal_path", cfg.Signal.Path,
			"version", version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
		log.Errorw("server failed", "error", runErr)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	shutdown(shutdownCtx, log, srv, manager, ws, bus, cache, repoFactory, tp)

	log.Info("livesignal stopped")
	return runErr
}

// shutdown ends every session, drains the signaling connections, then stops
// the HTTP server and releases the backends.
func shutdown(
	ctx context.Context,
	log *zap.SugaredLogger,
	srv *http.Server,
	manager *services.ChannelManager,
	ws *signalinfra.WebSocketServer,
	bus *distributed.EventBus,
	cache *services.SessionCache,
	repoFactory *repositories.RepositoryFactory,
	tp *tracing.TracerProvider,
) {
	if err := manager.Shutdown(ctx); err != nil {
		log.Warnw("signaling shutdown incomplete", "error", err)
	}
	if err := ws.Wait(ctx); err != nil {
		log.Warnw("websocket connections still open", "connections", ws.ActiveConnections(), "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("graceful server shutdown failed", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("force closing server failed", "error", closeErr)
		}
	}

	if bus != nil {
		if err := bus.Close(ctx); err != nil {
			log.Warnw("closing event bus failed", "error", err)
		}
	}
	cache.Stop()
	if err := repoFactory.Close(); err != nil {
		log.Warnw("closing repositories failed", "error", err)
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.Warnw("tracing shutdown failed", "error", err)
	}
}
