// Package handler contains the stock handlers the bot binary registers:
// flood control, onboarding, help, settings and admin diagnostics.
// Each handler follows the pattern: match update → load session → reply →
// consume.
package handler

import (
	"errors"
	"log/slog"

	"github.com/alem-hub/botcore/internal/interface/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/middleware"
)

// Deps are the collaborators shared by the stock handlers.
type Deps struct {
	// Limiter throttles senders. Flood control is skipped when nil.
	Limiter *middleware.RateLimiter

	// Metrics is reported by /stats. Optional.
	Metrics *middleware.Metrics

	// AdminIDs may use the admin commands. Admin commands are not registered
	// when empty.
	AdminIDs []int64

	// Status returns extra runtime state for /stats. Optional.
	Status func() map[string]any

	Logger *slog.Logger
}

// Register wires the stock handlers into root. The flood guard goes first so
// throttled updates never reach later handlers; admin commands live on their
// own child router.
func Register(root *telegram.Router, deps Deps) error {
	if root == nil {
		return errors.New("handler: nil router")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	if deps.Limiter != nil {
		if err := root.AddHandler(NewFloodGuard(deps.Limiter)); err != nil {
			return err
		}
	}

	root.OnCommand("start", Start)
	root.OnCommand("help", Help(root))
	root.OnCommand("settings", Settings)
	root.OnCallback(settingsCallbacks, SettingsCallback)

	if len(deps.AdminIDs) > 0 {
		admin := telegram.NewRouter(telegram.RouterConfig{
			Name:   "admin",
			Logger: deps.Logger,
		})
		RegisterAdmin(admin, deps)
		if err := root.IncludeRouter(admin); err != nil {
			return err
		}
	}

	root.OnError(LogError)
	return nil
}
