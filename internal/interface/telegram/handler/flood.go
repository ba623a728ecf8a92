package handler

import (
	"context"
	"fmt"
	"math"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/filter"
	"github.com/alem-hub/botcore/internal/interface/telegram/middleware"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLOOD GUARD
// Consumes updates from throttled senders so no later handler sees them.
// ══════════════════════════════════════════════════════════════════════════════

var hasSender = filter.Func("has_sender", func(u *tgapi.Update) bool {
	return u.EffectiveSender() != nil
})

// NewFloodGuard returns a handler that takes a token from limiter for every
// update with a sender. Allowed updates pass through untouched.
func NewFloodGuard(limiter *middleware.RateLimiter) telegram.Handler {
	return telegram.NewHandler(hasSender, func(ctx context.Context, hctx *telegram.Context) error {
		sender := hctx.Sender()
		res := limiter.Check(sender.ID)
		if res.Allowed {
			return nil
		}

		hctx.Consume()
		hctx.Logger.Info("update throttled",
			"sender_id", sender.ID,
			"banned", res.IsBanned,
			"retry_after", res.RetryAfter,
		)

		// Notify once per burst; callback queries get nothing.
		if !res.FirstDenial || hctx.Update.Message == nil {
			return nil
		}
		return hctx.Reply(ctx, floodMessage(res))
	}, telegram.WithName("flood_guard"))
}

func floodMessage(res middleware.RateLimitResult) string {
	secs := int(math.Ceil(res.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("Too many requests. Try again in %d s.", secs)
}
