package handler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alem-hub/botcore/internal/interface/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/filter"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// RegisterAdmin adds /stats and /routes to r, restricted to deps.AdminIDs.
func RegisterAdmin(r *telegram.Router, deps Deps) {
	onlyAdmins := telegram.WithFilter(filter.SenderID(deps.AdminIDs...))

	r.OnCommand("stats", func(ctx context.Context, hctx *telegram.Context, _ filter.Command) error {
		hctx.Consume()
		return hctx.Reply(ctx, statsText(deps))
	}, onlyAdmins)

	r.OnCommand("routes", func(ctx context.Context, hctx *telegram.Context, _ filter.Command) error {
		hctx.Consume()
		return hctx.Reply(ctx, r.Tree())
	}, onlyAdmins)
}

func statsText(deps Deps) string {
	var b strings.Builder

	if deps.Metrics != nil {
		snap := deps.Metrics.Snapshot()
		fmt.Fprintf(&b, "Uptime: %s\n", snap.Uptime)
		fmt.Fprintf(&b, "Updates: %d (unhandled %d)\n", snap.UpdatesDispatched, snap.UpdatesUnhandled)
		fmt.Fprintf(&b, "Errors: %d, fetch failures: %d\n", snap.ErrorsDispatched, snap.FetchFailures)
		for _, h := range snap.Handlers {
			fmt.Fprintf(&b, "  %s: %d calls, %d failed, %d panics, avg %s\n",
				h.Name, h.Invocations, h.Failures, h.Panics, h.AvgDuration)
		}
	}

	if deps.Status != nil {
		status := deps.Status()
		keys := make([]string, 0, len(status))
		for k := range status {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, status[k])
		}
	}

	if b.Len() == 0 {
		return "No statistics available."
	}
	return strings.TrimRight(b.String(), "\n")
}
