package handler

import (
	"context"
	"strings"

	"github.com/alem-hub/botcore/internal/interface/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/filter"
)

// Help returns a /help handler listing the commands registered under root at
// the time of the call, so commands added later still show up.
func Help(root *telegram.Router) func(ctx context.Context, hctx *telegram.Context, cmd filter.Command) error {
	return func(ctx context.Context, hctx *telegram.Context, _ filter.Command) error {
		hctx.Consume()

		var b strings.Builder
		b.WriteString("Available commands:\n")
		for _, name := range root.Commands() {
			b.WriteString("/")
			b.WriteString(name)
			b.WriteString("\n")
		}
		return hctx.Reply(ctx, strings.TrimRight(b.String(), "\n"))
	}
}
