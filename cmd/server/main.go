package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-booking/internal/audit"
	"github.com/example/ride-booking/internal/booking"
	"github.com/example/ride-booking/internal/config"
	"github.com/example/ride-booking/internal/dispatch"
	httpapi "github.com/example/ride-booking/internal/http"
	"github.com/example/ride-booking/internal/identity"
	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/ratelimit"
	"github.com/example/ride-booking/internal/storage"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-booking-api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	buckets, closeBuckets, err := openBucketStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBuckets()

	var sinks []audit.Sink
	if len(cfg.KafkaBrokers) > 0 {
		ks := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		defer ks.Close()
		sinks = append(sinks, ks)
		logger.Info("audit events published to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaAuditTopic)
	} else {
		sinks = append(sinks, audit.StoreSink{Store: store})
	}

	verifier, err := identity.NewJWTVerifier(identity.JWTConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		return err
	}

	ws := dispatch.NewWSRegistry()
	notifier := dispatch.NewPushNotifier(cfg.NotifyWebhookURL, cfg.NotifyWebhookToken, ws)
	api := httpapi.NewServer(httpapi.Deps{
		Gate:     identity.NewGate(verifier, store),
		Limiter:  ratelimit.New(buckets, cfg.RateLimitCapacity, cfg.RateLimitWindow),
		Bookings: booking.NewService(store, audit.NewRecorder(logger, sinks...), notifier, logger),
		WS:       ws,
		Ready:    store,
		Logger:   logger,

		TrustedProxies: cfg.TrustedProxies,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-booking listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set, using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}
	ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		applied, err := ps.Migrate(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, nil, err
		}
		logger.Info("migrations applied", "files", applied)
	}
	return ps, func() { _ = ps.Close() }, nil
}

func openBucketStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (ratelimit.BucketStore, func(), error) {
	if cfg.RedisAddr == "" {
		ms := ratelimit.NewMemoryStore()
		go sweepBuckets(ctx, ms, cfg.RateLimitWindow, logger)
		return ms, func() {}, nil
	}
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("rate limit buckets shared via redis", "addr", cfg.RedisAddr)
	return ratelimit.NewRedisStore(rc, "ratelimit:", 2*cfg.RateLimitWindow), func() { _ = rc.Close() }, nil
}

// sweepBuckets keeps the in-process bucket map from growing without bound.
func sweepBuckets(ctx context.Context, ms *ratelimit.MemoryStore, window time.Duration, logger *slog.Logger) {
	t := time.NewTicker(window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := ms.Sweep(now, window); n > 0 {
				logger.Debug("rate limit buckets swept", "removed", n, "remaining", ms.Len())
			}
		}
	}
}
