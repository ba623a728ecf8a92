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

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/botcore/config"
	"github.com/alem-hub/botcore/internal/domain/session"
	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/internal/infrastructure/persistence/memory"
	pgstore "github.com/alem-hub/botcore/internal/infrastructure/persistence/postgres"
	redisstore "github.com/alem-hub/botcore/internal/infrastructure/persistence/redis"
	httpserver "github.com/alem-hub/botcore/internal/interface/http"
	"github.com/alem-hub/botcore/internal/interface/http/handlers"
	"github.com/alem-hub/botcore/internal/interface/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/handler"
	"github.com/alem-hub/botcore/internal/interface/telegram/middleware"
	"github.com/alem-hub/botcore/pkg/circuitbreaker"
)

func runBot(ctx context.Context, opts *rootOptions) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting bot",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"mode", cfg.Telegram.Mode,
		"session_backend", cfg.Session.Backend,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. TELEGRAM CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	client, err := newClient(cfg, log)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SESSION STORE
	// ─────────────────────────────────────────────────────────────────────────
	sessions, err := openSessionStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sessions.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. DISPATCHER, HANDLERS & RUNTIME
	// ─────────────────────────────────────────────────────────────────────────
	metrics := middleware.NewMetrics()

	dispatcher := telegram.NewDispatcher(telegram.DispatcherConfig{
		Name:     "root",
		Bot:      client,
		Sessions: sessions.Store,
		Metrics:  metrics,
		Logger:   log,
		Debug:    cfg.App.Debug,
	})

	runtime, err := telegram.NewRuntime(telegram.RuntimeConfig{
		Mode: string(cfg.Telegram.Mode),
		Polling: telegram.UpdaterConfig{
			PollTimeout:    cfg.Telegram.PollTimeout,
			Limit:          cfg.Telegram.PollLimit,
			AllowedUpdates: cfg.Telegram.AllowedUpdates,
			BackoffInitial: cfg.Telegram.BackoffInitial,
			BackoffMax:     cfg.Telegram.BackoffMax,
			Metrics:        metrics,
			Logger:         log,
		},
		WebhookURL:              cfg.Telegram.WebhookURL,
		WebhookSecret:           cfg.Telegram.WebhookSecret,
		WebhookMaxConnections:   cfg.Telegram.WebhookMaxConnections,
		AllowedUpdates:          cfg.Telegram.AllowedUpdates,
		GracefulShutdownTimeout: cfg.App.ShutdownTimeout,
		Logger:                  log,
	}, client, dispatcher)
	if err != nil {
		return err
	}

	limitCfg := middleware.DefaultRateLimitConfig()
	limitCfg.Exempt = cfg.Telegram.AdminIDs
	limiter := middleware.NewRateLimiter(limitCfg)
	defer limiter.Close()

	if err := handler.Register(dispatcher.Router, handler.Deps{
		Limiter:  limiter,
		Metrics:  metrics,
		AdminIDs: cfg.Telegram.AdminIDs,
		Status:   runtime.Stats,
		Logger:   log,
	}); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	log.Info("handlers registered", "commands", dispatcher.Commands(), "tree", dispatcher.Tree())

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP SERVER (health, webhook)
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("dispatcher", handlers.NewRunningCheck(dispatcher.Running, errors.New("dispatcher is not running")))
	if u := runtime.Updater(); u != nil {
		health.AddCheck("updater", handlers.NewRunningCheck(
			func() bool { return u.State() == telegram.StateRunning },
			errors.New("updater is not polling"),
		))
	}
	health.AddCheck("bot_api", handlers.NewRunningCheck(
		func() bool { return client.BreakerState() != circuitbreaker.StateOpen },
		errors.New("bot api circuit is open"),
	))
	for name, check := range sessions.Checks {
		health.AddCheck(name, check)
	}

	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.WebhookPath = cfg.WebhookPath()

	var webhook http.Handler
	if cfg.Telegram.Mode == config.ModeWebhook {
		webhook = handlers.NewWebhookHandler(dispatcher, cfg.Telegram.WebhookSecret, log)
	}

	server := httpserver.NewServer(httpCfg, httpserver.Dependencies{
		Logger:        log,
		HealthChecker: health,
		Webhook:       webhook,
		Status: func() any {
			return map[string]any{
				"runtime": runtime.Stats(),
				"metrics": metrics.Snapshot(),
			}
		},
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. RUN UNTIL SIGNAL OR FAILURE
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		if err := runtime.Start(gctx); err != nil {
			return fmt.Errorf("failed to start bot: %w", err)
		}
		log.Info("bot is running", "http_address", httpCfg.Address())

		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return runtime.Stop(shutdownCtx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown completed with errors", "error", err)
		return err
	}

	log.Info("shutdown completed successfully", "pending_updates", dispatcher.Queue().Len())
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func newClient(cfg *config.Config, log *slog.Logger) (*tgapi.Client, error) {
	clientCfg := tgapi.DefaultClientConfig(cfg.Telegram.Token)
	if cfg.Telegram.BaseURL != "" {
		clientCfg.BaseURL = cfg.Telegram.BaseURL
	}
	clientCfg.Timeout = cfg.Telegram.RequestTimeout
	clientCfg.RetryAttempts = cfg.Telegram.RetryAttempts
	clientCfg.Logger = log
	clientCfg.Debug = cfg.App.Debug

	client, err := tgapi.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	return client, nil
}

// sessionBackend is an open session store plus its health checks.
type sessionBackend struct {
	Store  session.Store
	Checks map[string]handlers.HealthCheckFunc
	close  func()
}

func (b *sessionBackend) Close() {
	if b.close != nil {
		b.close()
	}
}

func openSessionStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sessionBackend, error) {
	switch cfg.Session.Backend {
	case config.SessionRedis:
		redisCfg := redisstore.Config{
			Host:        cfg.Redis.Host,
			Port:        cfg.Redis.Port,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
			KeyPrefix:   cfg.Redis.KeyPrefix,
		}

		log.Info("connecting to Redis...", "addr", redisCfg.Addr())
		cache, err := redisstore.NewCache(ctx, redisCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return &sessionBackend{
			Store:  redisstore.NewSessionStore(cache, cfg.Session.TTL),
			Checks: map[string]handlers.HealthCheckFunc{"redis": handlers.NewPingCheck(cache)},
			close:  func() { _ = cache.Close() },
		}, nil

	case config.SessionPostgres:
		log.Info("connecting to database...")
		conn, err := pgstore.NewConnectionFromURL(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Database.Migrate {
			if err := migrate(ctx, conn, log); err != nil {
				conn.Close()
				return nil, err
			}
		}
		return &sessionBackend{
			Store:  pgstore.NewSessionStore(conn),
			Checks: map[string]handlers.HealthCheckFunc{"postgres": handlers.NewPingCheck(conn)},
			close:  conn.Close,
		}, nil

	default:
		return &sessionBackend{Store: memory.NewSessionStore()}, nil
	}
}

func migrate(ctx context.Context, conn *pgstore.Connection, log *slog.Logger) error {
	log.Info("running database migrations...")
	migrator := pgstore.NewMigrator(conn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		log.Warn("failed to get migration status", "error", err)
		return nil
	}
	applied := 0
	for _, m := range status {
		if m.Applied() {
			applied++
		}
	}
	log.Info("migrations completed", "applied", applied, "total", len(status))
	return nil
}
