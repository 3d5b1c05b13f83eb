package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stresspulse/internal/app"
	"github.com/pscheid92/stresspulse/internal/broadcast"
	"github.com/pscheid92/stresspulse/internal/cooldown"
	"github.com/pscheid92/stresspulse/internal/database"
	"github.com/pscheid92/stresspulse/internal/decorator"
	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/pscheid92/stresspulse/internal/memstore"
	"github.com/pscheid92/stresspulse/internal/platform/config"
	"github.com/pscheid92/stresspulse/internal/platform/logging"
	"github.com/pscheid92/stresspulse/internal/platform/retry"
	"github.com/pscheid92/stresspulse/internal/platform/version"
	"github.com/pscheid92/stresspulse/internal/redis"
	"github.com/pscheid92/stresspulse/internal/server"
	goredis "github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

// backends bundles the storage implementations selected by STORAGE.
type backends struct {
	users        domain.UserRepository
	readings     domain.ReadingStore
	sessions     domain.SessionStore
	healthChecks []server.HealthCheck
	close        func()
}

func runGracefulShutdown(srv *server.Server, registry *broadcast.Registry) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Live sockets are hijacked and survive the HTTP shutdown; the
		// registry closes them with a close frame.
		registry.Stop()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(ctx context.Context, cfg *config.Config) *pgxpool.Pool {
	db, err := retry.Do(ctx, withRetryLog("postgres"), retry.Transient, func(ctx context.Context) (*pgxpool.Pool, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return database.Connect(attemptCtx, cfg.DatabaseURL)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := database.RunMigrations(migrateCtx, db); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return db
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := retry.Do(ctx, withRetryLog("redis"), retry.Transient, func(ctx context.Context) (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func withRetryLog(dependency string) retry.Policy {
	p := retry.Startup
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Dependency not ready, retrying", "dependency", dependency, "attempt", attempt, "backoff", backoff, "error", err)
	}
	return p
}

func setupBackends(ctx context.Context, cfg *config.Config, clock clockwork.Clock) backends {
	if cfg.InMemory() {
		slog.Warn("Using in-memory storage; data is lost on restart")
		store := memstore.New(clock)
		return backends{
			users:    store,
			readings: store,
			sessions: memstore.NewSessions(clock),
			close:    func() {},
		}
	}

	pool := setupDB(ctx, cfg)
	redisClient := setupRedis(ctx, cfg)

	return backends{
		users:    database.NewUserRepo(pool),
		readings: database.NewReadingStore(pool),
		sessions: redis.NewSessionStore(redisClient),
		healthChecks: []server.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		},
		close: func() {
			_ = redisClient.Close()
			pool.Close()
		},
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logCloser := logging.InitLogger(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	defer func() { _ = logCloser.Close() }()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "storage", cfg.Storage, "version", version.Get().Version)

	be := setupBackends(context.Background(), cfg, clock)
	defer be.close()

	registry := broadcast.NewRegistry(broadcast.Options{
		Clock:             clock,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxHandlesPerUser: cfg.MaxConnectionsPerUser,
	})

	decoratorClient := decorator.New(decorator.Options{
		URL:     cfg.DecoratorURL,
		APIKey:  cfg.DecoratorAPIKey,
		Model:   cfg.DecoratorModel,
		Timeout: cfg.DecoratorTimeout,
	})
	if !decoratorClient.Enabled() {
		slog.Info("Decorator disabled, using fallback text")
	}

	summaries := app.NewSummarizer(be.readings, clock, cfg.SummaryWindow, cfg.SummaryBucket)
	appSvc := app.NewService(
		be.users,
		be.readings,
		be.sessions,
		cooldown.NewGate(be.readings, cfg.StressCooldown, cfg.SuperstressCooldown),
		summaries,
		app.NewDispatcher(registry, summaries),
		decorator.WithFallback(decoratorClient, cfg.DecoratorFallback, cfg.DecoratorTimeout),
		app.Options{SessionTTL: cfg.SessionMaxAge, StatsWindow: cfg.SummaryWindow},
	)

	srv := server.NewServer(cfg, appSvc, registry, be.healthChecks, clock)

	done := runGracefulShutdown(srv, registry)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
