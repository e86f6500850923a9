package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/lookup-relay/internal/cache"
	"github.com/sdko-org/lookup-relay/internal/config"
	"github.com/sdko-org/lookup-relay/internal/database"
	"github.com/sdko-org/lookup-relay/internal/format"
	"github.com/sdko-org/lookup-relay/internal/handlers"
	httpserver "github.com/sdko-org/lookup-relay/internal/http"
	"github.com/sdko-org/lookup-relay/internal/lookup"
	"github.com/sdko-org/lookup-relay/internal/ratelimit"
	"github.com/sdko-org/lookup-relay/internal/storage"
	"github.com/sdko-org/lookup-relay/internal/store"
	"github.com/sdko-org/lookup-relay/internal/upstream"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	configureLogger(logger, cfg)

	db, err := database.Open(logger, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.WithError(err).Error("Failed to close database")
		}
	}()

	storeCfg := store.Config{
		DefaultCredits:   cfg.DefaultCredits,
		CreditFloor:      cfg.CreditFloor,
		ArchiveThreshold: cfg.ArchiveThreshold,
	}
	if cfg.S3Enabled() {
		s3Storage, err := storage.NewS3Storage(logger, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize S3 storage")
		}
		storeCfg.Blobs = s3Storage
		logger.WithField("bucket", cfg.S3Bucket).Info("Archiving large payloads to S3")
	}
	st := store.New(logger, db, storeCfg)

	var windows ratelimit.Store = st
	if cfg.RateLimitStore == config.RateStoreMemory {
		memStore := ratelimit.NewMemoryStoreWithCleanup(cfg.RateLimitWindow, 2*cfg.RateLimitWindow)
		defer memStore.Close()
		windows = memStore
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Store:  windows,
		Limit:  cfg.RateLimit,
		Window: cfg.RateLimitWindow,
		Bypass: cfg.IsPrivileged,
		Logger: logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	responseCache := cache.New(cache.Config{TTL: cfg.CacheTTL, MaxEntries: cfg.CacheMaxEntries})
	if cfg.CacheEviction == config.EvictionSweep {
		go cache.NewSweeper(logger, responseCache, cfg.CacheSweepInterval).Start(ctx)
	}

	dispatcher := upstream.NewDispatcher(logger, upstream.Config{
		Catalog:       upstream.NewCatalog(cfg.Services),
		Cache:         responseCache,
		Stats:         st,
		BackoffBase:   cfg.BackoffBase,
		RatePerSecond: cfg.GlobalRatePerSecond,
	})

	service := lookup.NewService(lookup.Config{
		Store:      st,
		Limiter:    limiter,
		Dispatcher: dispatcher,
		Formatter: format.New(format.Config{
			Developer: cfg.Developer,
			PoweredBy: cfg.PoweredBy,
		}),
		Privileged: cfg.IsPrivileged,
		Logger:     logger,
	})

	go store.NewStatsResetter(logger, st, cfg.StatsResetInterval).Start(ctx)

	r := mux.NewRouter()
	r.Use(handlers.LoggingMiddleware(logger))
	if cfg.HTTPRateLimit > 0 {
		clientLimiter := handlers.NewClientRateLimiter(logger, cfg.HTTPRateLimit)
		go clientLimiter.Cleanup(ctx)
		r.Use(clientLimiter.Middleware)
	}
	handlers.RegisterRoutes(r, handlers.NewHandler(logger, service, st, limiter, responseCache), cfg.AdminToken)
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is empty, admin endpoints are disabled")
	}

	server, err := httpserver.New(logger, httpserver.Config{
		Addr:          cfg.ListenAddr,
		SelfSignedTLS: cfg.TLSSelfSigned,
	}, r)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create HTTP server")
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server shutdown error")
		}
	}()

	logger.WithFields(logrus.Fields{
		"addr":     cfg.ListenAddr,
		"driver":   cfg.DatabaseDriver,
		"services": len(cfg.Services),
	}).Info("Lookup relay starting")
	if err := server.ListenAndServe(); err != nil {
		logger.WithError(err).Error("Server failed")
		stop()
	}
	logger.Info("Lookup relay stopped")
}

func configureLogger(logger *logrus.Logger, cfg *config.Config) {
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
