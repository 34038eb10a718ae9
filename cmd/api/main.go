package main

import (
	"context"
	"log"

	"returns-tracker/internal/core/cache"
	"returns-tracker/internal/core/config"
	"returns-tracker/internal/core/logger"
	"returns-tracker/internal/core/server"
	"returns-tracker/internal/core/storage"
	adapter "returns-tracker/internal/features/tracking/adapters"
	"returns-tracker/internal/features/tracking/domain"
	"returns-tracker/internal/features/tracking/handler"
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
	l.Info("API starting",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
	)

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		l.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	store := adapter.NewBunStore(db)
	if err := store.Init(context.Background()); err != nil {
		l.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// A dead cache degrades to direct database reads instead of failing boot.
	var responseCache cache.Cache
	redisCache, err := cache.NewRedisAdapter(cfg.RedisURL)
	if err == nil {
		if pingErr := redisCache.Ping(context.Background()); pingErr == nil {
			responseCache = redisCache
			defer redisCache.Close()
			l.Info("Redis cache connected")
		} else {
			l.Warn("Redis unreachable, running without cache", zap.Error(pingErr))
		}
	} else {
		l.Warn("Invalid Redis URL, running without cache", zap.Error(err))
	}

	dhl := adapter.NewDHLAdapter(cfg.DHL)
	reconciler := service.NewReconciler(store, dhl, responseCache, domain.DefaultPolicy())
	trackingHdl := handler.NewTrackingHandler(store, reconciler, responseCache)

	srv := server.New(cfg)

	srv.App.Get("/tracking/:number", trackingHdl.GetTracking)
	srv.App.Get("/tracking/:number/signature", trackingHdl.GetSignature)
	srv.App.Post("/tracking/:number/refresh", trackingHdl.RefreshTracking)
	srv.App.Post("/shipments", trackingHdl.RegisterShipment)

	if err := srv.Run(); err != nil {
		l.Fatal("Server failed to start", zap.Error(err))
	}
}
