// Command authcore-server exposes an authcore.Engine over HTTP.
//
// Configuration comes from an optional TOML file (AUTHCORE_CONFIG), then the
// AUTHCORE_* environment variables, then a .env file if present. The identity
// store is chosen with AUTHCORE_STORE:
//
//	memory    in-process, lost on restart (default)
//	redis     REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
//	postgres  DATABASE_URL
//	sqlite    SQLITE_PATH
//
// Mail goes through SMTP when SMTP_HOST is set and is logged otherwise.
// Unauthenticated routes are throttled per client IP, in process by default
// or through Redis with AUTH_RATE_LIMIT_BACKEND=redis.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal/logging"
	ratelimit "github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/store/gormstore"
	"github.com/MrEthical07/authcore/store/memstore"
	"github.com/MrEthical07/authcore/store/pgstore"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, err := logging.New(logging.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := initSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init sentry failed", zap.Error(err))
	}
	defer flushSentry()

	if err := run(logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		flushSentry()
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, err := newNotifier(logger)
	if err != nil {
		return err
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(store).
		WithNotifier(notifier).
		WithAuditSink(authcore.NewZapSink(logger)).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("engine ready",
		zap.Bool("production_mode", report.ProductionMode),
		zap.String("signing_algorithm", report.SigningAlgorithm),
		zap.Duration("access_ttl", report.AccessTTL),
		zap.Duration("refresh_ttl", report.RefreshTTL),
		zap.Int("lockout_threshold", report.LockoutThreshold),
		zap.Bool("audit_enabled", report.AuditEnabled),
	)

	limiter, closeLimiter, err := newLimiter(ctx, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	srv := newServer(engine, logger, limiter)
	mux := srv.routes()
	mux.Handle("GET /metrics", prometheus.New(engine).Handler())

	httpServer := &http.Server{
		Addr:              ":" + envOrDefault("PORT", "8080"),
		Handler:           recoverMiddleware(logger, requestLoggingMiddleware(logger, mux)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server start", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func loadConfig(logger *zap.Logger) (authcore.Config, error) {
	cfg := authcore.DefaultConfig()
	if path := os.Getenv("AUTHCORE_CONFIG"); path != "" {
		fileCfg, err := authcore.LoadConfigFile(path)
		if err != nil {
			return authcore.Config{}, err
		}
		cfg = fileCfg
	}

	cfg, err := authcore.ConfigFromEnv(cfg)
	if err != nil {
		return authcore.Config{}, err
	}

	if cfg.JWT.SigningMethod == "ed25519" && len(cfg.JWT.PrivateKey) == 0 {
		if cfg.Security.ProductionMode {
			return authcore.Config{}, errors.New("AUTHCORE_JWT_PRIVATE_KEY_FILE is required in production")
		}
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return authcore.Config{}, err
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
		logger.Warn("using an ephemeral ed25519 signing key; tokens will not survive a restart")
	}
	return cfg, nil
}

func openStore(ctx context.Context, logger *zap.Logger) (account.Store, func(), error) {
	kind := strings.ToLower(envOrDefault("AUTHCORE_STORE", "memory"))
	logger.Info("identity store", zap.String("kind", kind))

	switch kind {
	case "memory":
		return memstore.New(), func() {}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     envOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envIntOrDefault("REDIS_DB", 0),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return redisstore.New(client, envOrDefault("REDIS_PREFIX", "")), func() { client.Close() }, nil

	case "postgres":
		url := os.Getenv("DATABASE_URL")
		if url == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres store")
		}
		db, err := pgstore.Open(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		if err := pgstore.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return pgstore.New(db), func() { db.Close() }, nil

	case "sqlite":
		db, err := gormstore.OpenSQLite(envOrDefault("SQLITE_PATH", "authcore.db"))
		if err != nil {
			return nil, nil, err
		}
		store, err := gormstore.New(db)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return store, closeDB, nil

	default:
		return nil, nil, fmt.Errorf("unknown AUTHCORE_STORE %q", kind)
	}
}

// newLimiter picks the per-IP limiter for unauthenticated routes.
// AUTH_RATE_LIMIT_BACKEND=redis shares counters through REDIS_ADDR.
func newLimiter(ctx context.Context, logger *zap.Logger) (requestLimiter, func(), error) {
	perMinute := envIntOrDefault("AUTH_RATE_LIMIT_PER_MINUTE", 5)

	switch backend := strings.ToLower(envOrDefault("AUTH_RATE_LIMIT_BACKEND", "memory")); backend {
	case "memory":
		return newIPRateLimiter(perMinute, envIntOrDefault("AUTH_RATE_LIMIT_BURST", perMinute)), func() {}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     envOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envIntOrDefault("REDIS_DB", 0),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis for rate limiter: %w", err)
		}
		limiter := ratelimit.New(client, ratelimit.Config{
			Prefix: envOrDefault("REDIS_PREFIX", "authcore:") + "rl:",
			Limit:  perMinute,
			Window: time.Minute,
		})
		return newRedisRateLimiter(limiter, logger.Named("ratelimit")), func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown AUTH_RATE_LIMIT_BACKEND %q", backend)
	}
}

func newNotifier(logger *zap.Logger) (authcore.Notifier, error) {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		logger.Warn("SMTP_HOST not set; emails will be logged instead of sent")
		return notify.NewLogNotifier(logger.Named("mail")), nil
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     host,
		Port:     envIntOrDefault("SMTP_PORT", 587),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     envOrDefault("MAIL_FROM", "no-reply@example.com"),
		FromName: os.Getenv("MAIL_FROM_NAME"),
	})
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
