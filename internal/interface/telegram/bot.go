package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUNTIME CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Update receiving modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// API is the platform surface the runtime needs. *tgapi.Client implements it.
type API interface {
	Bot
	Fetcher
	SetWebhook(ctx context.Context, params tgapi.SetWebhookParams) error
	DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error
}

// RuntimeConfig contains configuration for the bot runtime.
type RuntimeConfig struct {
	// Mode is the update receiving mode: "polling" or "webhook".
	Mode string

	// Polling configures the updater. Fetcher and Queue are filled in by the
	// runtime.
	Polling UpdaterConfig

	// WebhookURL is the public URL registered in webhook mode.
	WebhookURL string

	// WebhookSecret is sent back by the platform in every webhook request.
	WebhookSecret string

	// WebhookMaxConnections caps concurrent webhook deliveries. Zero leaves
	// the platform default.
	WebhookMaxConnections int

	// AllowedUpdates filters update kinds server-side in webhook mode.
	AllowedUpdates []string

	// SkipVerify disables the getMe call on Start.
	SkipVerify bool

	// GracefulShutdownTimeout bounds Stop.
	GracefulShutdownTimeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Mode:                    ModePolling,
		Polling:                 DefaultUpdaterConfig(nil, nil),
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RUNTIME
// Owns the ingestion side for one mode and the dispatcher lifecycle.
// ══════════════════════════════════════════════════════════════════════════════

// Runtime starts and stops the producer and the consumer as one unit. In
// polling mode the producer is the Updater; in webhook mode it is the HTTP
// webhook handler, which feeds the dispatcher queue directly.
type Runtime struct {
	config     RuntimeConfig
	api        API
	dispatcher *Dispatcher
	updater    *Updater
	logger     *slog.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	me        *tgapi.User
}

// NewRuntime creates a stopped runtime around dispatcher.
func NewRuntime(config RuntimeConfig, api API, dispatcher *Dispatcher) (*Runtime, error) {
	if api == nil {
		return nil, errors.New("runtime: api is required")
	}
	if dispatcher == nil {
		return nil, errors.New("runtime: dispatcher is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.GracefulShutdownTimeout <= 0 {
		config.GracefulShutdownTimeout = 30 * time.Second
	}

	rt := &Runtime{
		config:     config,
		api:        api,
		dispatcher: dispatcher,
		logger:     config.Logger.With("component", "runtime"),
	}

	switch config.Mode {
	case ModePolling:
		uc := config.Polling
		uc.Fetcher = api
		uc.Queue = dispatcher.Queue()
		if uc.Logger == nil {
			uc.Logger = config.Logger
		}
		rt.updater = NewUpdater(uc)
	case ModeWebhook:
		if config.WebhookURL == "" {
			return nil, errors.New("runtime: webhook URL is required for webhook mode")
		}
	default:
		return nil, fmt.Errorf("runtime: unknown mode %q", config.Mode)
	}

	return rt, nil
}

// Dispatcher returns the dispatcher driven by the runtime.
func (rt *Runtime) Dispatcher() *Dispatcher { return rt.dispatcher }

// Updater returns the updater, or nil in webhook mode.
func (rt *Runtime) Updater() *Updater { return rt.updater }

// Me returns the identity reported by getMe, if Start verified it.
func (rt *Runtime) Me() *tgapi.User {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.me
}

// Start verifies the token, registers or clears the webhook for the mode,
// then starts the consumer before the producer.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.running {
		return ErrAlreadyRunning
	}

	rt.logger.Info("starting bot runtime", "mode", rt.config.Mode)

	if !rt.config.SkipVerify {
		me, err := rt.api.GetMe(ctx)
		if err != nil {
			return fmt.Errorf("verify token: %w", err)
		}
		rt.me = me
		rt.logger.Info("bot verified", "id", me.ID, "username", me.Username)
	}

	switch rt.config.Mode {
	case ModePolling:
		// getUpdates is rejected while a webhook is set.
		if err := rt.api.DeleteWebhook(ctx, false); err != nil {
			return fmt.Errorf("clear webhook: %w", err)
		}
	case ModeWebhook:
		err := rt.api.SetWebhook(ctx, tgapi.SetWebhookParams{
			URL:            rt.config.WebhookURL,
			SecretToken:    rt.config.WebhookSecret,
			MaxConnections: rt.config.WebhookMaxConnections,
			AllowedUpdates: rt.config.AllowedUpdates,
		})
		if err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		rt.logger.Info("webhook registered", "url", rt.config.WebhookURL)
	}

	if err := rt.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if rt.updater != nil {
		if err := rt.updater.StartPolling(ctx); err != nil {
			_ = rt.dispatcher.Stop(ctx)
			return fmt.Errorf("start polling: %w", err)
		}
	}

	rt.running = true
	rt.startedAt = time.Now()
	return nil
}

// Stop stops the producer, then the consumer. The in-flight dispatch pass is
// allowed to finish within GracefulShutdownTimeout.
func (rt *Runtime) Stop(ctx context.Context) error {
	rt.mu.Lock()
	if !rt.running {
		rt.mu.Unlock()
		return nil
	}
	rt.running = false
	// Handlers may read Stats while the last pass drains.
	rt.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, rt.config.GracefulShutdownTimeout)
	defer cancel()

	rt.logger.Info("stopping bot runtime")

	var errs []error
	if rt.updater != nil {
		// The loop may already have exited on its own.
		if err := rt.updater.StopPolling(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, fmt.Errorf("stop polling: %w", err))
		}
	}
	if err := rt.dispatcher.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		errs = append(errs, fmt.Errorf("stop dispatcher: %w", err))
	}

	if len(errs) == 0 {
		rt.logger.Info("bot runtime stopped", "pending", rt.dispatcher.Queue().Len())
	}
	return errors.Join(errs...)
}

// Running reports whether Start succeeded and Stop has not been called.
func (rt *Runtime) Running() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.running
}

// Stats returns runtime state for diagnostics.
func (rt *Runtime) Stats() map[string]any {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	stats := map[string]any{
		"mode":               rt.config.Mode,
		"running":            rt.running,
		"dispatcher_running": rt.dispatcher.Running(),
		"queue_len":          rt.dispatcher.Queue().Len(),
	}
	if rt.running {
		stats["uptime"] = time.Since(rt.startedAt).Round(time.Second).String()
	}
	if rt.me != nil {
		stats["username"] = rt.me.Username
	}
	if b, ok := rt.api.(interface{ BreakerState() circuitbreaker.State }); ok {
		stats["bot_api_circuit"] = b.BreakerState().String()
	}
	if rt.updater != nil {
		stats["updater_state"] = rt.updater.State().String()
		if off := rt.updater.Offset(); off != nil {
			stats["offset"] = *off
		}
	}
	return stats
}
