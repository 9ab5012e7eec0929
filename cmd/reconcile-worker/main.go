package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/bootstrap"
	"github.com/hackgods/clearance-scheduling/internal/config"
	"github.com/hackgods/clearance-scheduling/internal/logging"
	"github.com/hackgods/clearance-scheduling/internal/reconcile"
)

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

	logger.Info("reconcile-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 15*time.Second)
	deps, err := bootstrap.Open(connectCtx, cfg, logger)
	cancelConnect()
	if err != nil {
		logger.Fatal("dependency init error", zap.Error(err))
	}
	defer deps.Close()

	reconciler := reconcile.New(deps.Store, deps.Locker, cfg.DefaultCapacity, logger)

	// Run once at startup
	runOnce(rootCtx, reconciler, cfg.LockTTL, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, reconciler, cfg.LockTTL, logger)
		}
	}
}

// runOnce bounds a pass by the lock TTL so the lock never expires under a live pass.
func runOnce(ctx context.Context, r *reconcile.Reconciler, budget time.Duration, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	report, err := r.Run(runCtx)
	if reconcile.IsBusy(err) {
		logger.Info("reconcile skipped, another worker holds the lock")
		return
	}
	if err != nil {
		logger.Error("reconcile run error", zap.Error(err))
		return
	}
	logger.Info("reconcile run complete",
		zap.Duration("took", time.Since(start)),
		zap.Int("slots", report.Slots),
		zap.Int("repaired", len(report.Repaired)),
		zap.Int("failed", report.Failed),
	)
}
