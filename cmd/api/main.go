package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/background"
	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/routes"
	"github.com/BradenHooton/bastion/internal/services"
	"github.com/BradenHooton/bastion/internal/store"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.Bool("redis", cfg.Redis.URL != ""),
		slog.Bool("database", cfg.Database.URL != ""),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStart()

	// A nil *RedisStore must not reach the service interfaces as a non-nil value
	var (
		redisStore   *store.RedisStore
		windowStore  services.SlidingWindowStore
		lockoutStore services.LockoutStore
	)
	if cfg.Redis.URL != "" {
		rs, err := store.NewRedisStore(startCtx, cfg.Redis.URL, cfg.Redis.Timeout)
		if err != nil {
			// Counters still work process-locally; log and continue
			logger.Warn("redis unavailable, using in-memory counters", slog.Any("error", err))
		} else {
			redisStore = rs
			windowStore = rs
			lockoutStore = rs
			defer redisStore.Close()
		}
	}

	var db *database.DB
	if cfg.Database.URL != "" {
		conn, err := database.NewConnection(startCtx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		db = conn
		defer db.Close()
	}

	m := metrics.New()
	auditLogger := pkglogger.NewAuditLogger(logger)

	limiter := services.NewRateLimitService(windowStore, services.RateLimitConfig{Rules: cfg.RateLimits}, logger).
		WithMetrics(m)
	lockout := services.NewLockoutService(lockoutStore, cfg.Lockout, logger).
		WithMetrics(m)
	gate := services.NewDoSGate(limiter, cfg.DoS, logger).
		WithMetrics(m)

	var authHandler *handlers.AuthHandler
	if db != nil {
		guard := services.NewAuthGuard(
			repositories.NewCredentialRepository(db),
			lockout,
			limiter,
			auth.NewTimingDelay(cfg.Timing),
			logger,
			auditLogger,
		)
		authHandler = handlers.NewAuthHandler(guard, &pkghttp.IPConfig{TrustedProxies: cfg.Security.TrustedProxies})
	} else {
		logger.Warn("DATABASE_URL not set, login endpoint disabled")
	}

	var tokenVerifier *auth.TokenVerifier
	if cfg.Security.JWTSecret != "" {
		tokenVerifier = auth.NewTokenVerifier(cfg.Security.JWTSecret)
	}

	router := routes.NewRouter(routes.Dependencies{
		Env:             cfg.Server.Env,
		Logger:          logger,
		AuditLogger:     auditLogger,
		IPConfig:        &pkghttp.IPConfig{TrustedProxies: cfg.Security.TrustedProxies},
		Gate:            gate,
		Limiter:         limiter,
		OriginValidator: auth.NewOriginValidator(cfg.Security.AllowedOrigins),
		TokenVerifier:   tokenVerifier,
		AuthHandler:     authHandler,
		Health:          healthHandler(redisStore, db),
		Metrics:         m.Handler(),
	})

	// Background sweeps
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	managers := []*background.CleanupManager{
		background.NewCleanupManager("dos_records", func(ctx context.Context) (int, error) {
			return gate.Sweep(), nil
		}, logger, cfg.Cleanup.DoSInterval),
	}
	if cfg.IsProduction() {
		managers = append(managers, background.NewCleanupManager("fallback_counters", func(ctx context.Context) (int, error) {
			return limiter.SweepFallback() + lockout.SweepFallback(), nil
		}, logger, cfg.Cleanup.StoreInterval))
	}
	for _, cm := range managers {
		go cm.Start(cleanupCtx)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
		logger.Info("shutdown signal received")
	}

	cleanupCancel()
	for _, cm := range managers {
		cm.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// healthHandler reports the state of the optional backing stores.
// A missing store is "disabled", not a failure.
func healthHandler(redisStore *store.RedisStore, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "healthy", "redis": "disabled", "database": "disabled"}

		if redisStore != nil {
			body["redis"] = "up"
			if err := redisStore.Ping(ctx); err != nil {
				// Rate limiting degrades to in-memory counters, the service stays up
				body["redis"] = "degraded"
			}
		}
		if db != nil {
			body["database"] = "up"
			if err := db.HealthCheck(ctx); err != nil {
				body["database"] = "down"
				body["status"] = "unhealthy"
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
