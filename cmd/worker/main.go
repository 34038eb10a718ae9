package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"returns-tracker/internal/core/cache"
	"returns-tracker/internal/core/config"
	"returns-tracker/internal/core/logger"
	"returns-tracker/internal/core/storage"
	adapter "returns-tracker/internal/features/tracking/adapters"
	"returns-tracker/internal/features/tracking/domain"
	"returns-tracker/internal/features/tracking/service"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	l := logger.Get()
	l.Info("Worker starting",
		zap.String("environment", cfg.Environment),
		zap.Int("interval_minutes", cfg.WorkerIntervalMinutes),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		l.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	store := adapter.NewBunStore(db)
	if err := store.Init(ctx); err != nil {
		l.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var responseCache cache.Cache
	redisCache, err := cache.NewRedisAdapter(cfg.RedisURL)
	if err == nil {
		if pingErr := redisCache.Ping(ctx); pingErr == nil {
			responseCache = redisCache
			defer redisCache.Close()
		} else {
			l.Warn("Redis unreachable, cycles will not invalidate cached responses", zap.Error(pingErr))
		}
	} else {
		l.Warn("Invalid Redis URL, cycles will not invalidate cached responses", zap.Error(err))
	}

	dhl := adapter.NewDHLAdapter(cfg.DHL)
	reconciler := service.NewReconciler(store, dhl, responseCache, domain.DefaultPolicy())

	runCycle(ctx, reconciler, l)

	interval := time.Duration(cfg.WorkerIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info("Worker shutting down")
			return
		case <-ticker.C:
			runCycle(ctx, reconciler, l)
		}
	}
}

func runCycle(ctx context.Context, reconciler *service.Reconciler, l *zap.Logger) {
	summary, err := reconciler.RunCycle(ctx)
	if err != nil {
		l.Error("Reconciliation cycle failed", zap.Error(err))
		return
	}
	l.Info("Reconciliation cycle finished",
		zap.Int("total", summary.Total),
		zap.Int("updated", summary.Updated),
		zap.Int("no_update", summary.NoUpdate),
		zap.Int("failed", summary.Failed),
		zap.Int("batch_calls", summary.BatchCalls),
	)
}
