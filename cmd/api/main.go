package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gnanamtech85-ops/photo-proofing-app/internal/app"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/config"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/logging"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/media"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/metrics"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/notify"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/ratelimit"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/realtime"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error(context.Background(), "api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialect, err := store.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db)
	if err != nil {
		return err
	}
	logger.Info(ctx, "migrations applied", "dialect", string(dialect), "count", applied)

	dataStore := store.NewSQLStore(db)
	m := metrics.New()
	hub := realtime.NewHub(logger.With("component", "realtime"), m)
	defer hub.Close()

	var limiter ratelimit.Limiter
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info(ctx, "using redis for client rate limits")
		redisLimiter, err := ratelimit.NewRedisLimiter(cfg.RedisURL, cfg.ClientRatePerMinute)
		if err != nil {
			return err
		}
		defer redisLimiter.Close()
		limiter = redisLimiter
	} else {
		memoryLimiter := ratelimit.NewMemoryLimiter(cfg.ClientRatePerMinute)
		memoryLimiter.StartCleanup(ctx, time.Minute)
		limiter = memoryLimiter
	}

	var resolver media.Resolver = media.NewLocalResolver(cfg.MediaBaseURL)
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioResolver, err := media.NewMinioResolver(media.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
			TTL:       cfg.MediaURLTTL,
		})
		if err != nil {
			return err
		}
		logger.Info(ctx, "serving photo urls from object storage", "bucket", cfg.MinioBucket)
		resolver = minioResolver
	}

	service := app.New(cfg, app.Dependencies{
		Store:       dataStore,
		Notifier:    notify.NewEmitter(dataStore),
		Broadcaster: hub,
		Media:       resolver,
		Logger:      logger.With("component", "service"),
		Metrics:     m,
	})

	httpServer := app.NewHTTPServer(service, app.ServerOptions{
		CORSOrigin: cfg.CORSOrigin,
		Limiter:    limiter,
		WebSocket:  http.HandlerFunc(hub.ServeWS),
		Metrics:    m,
		Logger:     logger.With("component", "http"),
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "photo proofing api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "shutdown error", "error", err)
	}
	return nil
}
