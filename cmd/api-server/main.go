package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/api"
	"github.com/hackgods/clearance-scheduling/internal/appointment"
	"github.com/hackgods/clearance-scheduling/internal/bootstrap"
	"github.com/hackgods/clearance-scheduling/internal/capacity"
	"github.com/hackgods/clearance-scheduling/internal/clearance"
	"github.com/hackgods/clearance-scheduling/internal/config"
	"github.com/hackgods/clearance-scheduling/internal/events"
	"github.com/hackgods/clearance-scheduling/internal/logging"
	"github.com/hackgods/clearance-scheduling/internal/obs"
	"github.com/hackgods/clearance-scheduling/internal/reconcile"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreBackend),
		zap.String("auth", cfg.AuthMode),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(rootCtx, "clearance-api", version, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("tracer init error", zap.Error(err))
	}

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 15*time.Second)
	deps, err := bootstrap.Open(connectCtx, cfg, logger)
	cancelConnect()
	if err != nil {
		logger.Fatal("dependency init error", zap.Error(err))
	}
	defer deps.Close()

	provider, _, err := deps.Identity(rootCtx, cfg)
	if err != nil {
		logger.Fatal("identity provider init error", zap.Error(err))
	}

	var publisher appointment.EventPublisher = events.NewLogPublisher(logger)
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal("amqp connection error", zap.Error(err))
		}
		defer func() {
			if err := amqpPub.Close(); err != nil {
				logger.Warn("error closing amqp", zap.Error(err))
			}
		}()
		publisher = amqpPub
		logger.Info("publishing events to AMQP", zap.String("exchange", cfg.AMQPExchange))
	}

	svc := appointment.NewService(deps.Store, cfg, logger,
		appointment.WithPublisher(publisher),
		appointment.WithTracer(obs.Tracer()),
	)

	var cache capacity.Cache = capacity.NewMemoryCache(cfg.CapacityCacheTTL)
	if deps.Redis != nil {
		cache = capacity.NewRedisCache(deps.Redis)
	}
	caps := capacity.NewService(deps.Store, svc.Windows(), cfg.DefaultCapacity, cache, cfg.CapacityCacheTTL, logger,
		capacity.WithDailyCapacity(cfg.DailyCapacity),
	)
	reconciler := reconcile.New(deps.Store, deps.Locker, cfg.DefaultCapacity, logger)

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Capacity:       caps,
		Clearance:      clearance.NewService(deps.Store, nil, logger),
		Reconciler:     reconciler,
		Identity:       provider,
		Logger:         logger,
		Store:          deps.Pinger,
		StoreBackend:   cfg.StoreBackend,
		Redis:          deps.Redis,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TrustProxy:     cfg.TrustProxy,
		RequestTimeout: cfg.RequestTimeout,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown error", zap.Error(err))
	}

	logger.Info("api-server stopped")
}
