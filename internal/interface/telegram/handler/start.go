package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/filter"
)

// ══════════════════════════════════════════════════════════════════════════════
// START HANDLER
// Handles /start: records first contact in the chat session and greets.
// ══════════════════════════════════════════════════════════════════════════════

// Session keys written by the stock handlers.
const (
	KeyFirstSeen     = "first_seen"
	KeyStartParam    = "start_param"
	KeyNotifications = "notifications"
)

// Start handles /start [param]. A deep-link parameter is stored on first
// contact only.
func Start(ctx context.Context, hctx *telegram.Context, cmd filter.Command) error {
	hctx.Consume()

	chat := hctx.Chat()
	if chat == nil {
		return errors.New("start: update has no chat")
	}

	name := "there"
	if sender := hctx.Sender(); sender != nil {
		name = sender.FullName()
	}

	text := fmt.Sprintf("Welcome back, %s!", name)

	if hctx.Sessions != nil {
		sess, err := hctx.Session(ctx)
		if err != nil {
			return fmt.Errorf("start: load session: %w", err)
		}
		if _, seen := sess.Get(KeyFirstSeen); !seen {
			sess.Put(KeyFirstSeen, time.Now().UTC().Format(time.RFC3339))
			if len(cmd.Args) > 0 {
				sess.Put(KeyStartParam, cmd.Args[0])
			}
			if err := hctx.Sessions.Set(ctx, sess); err != nil {
				return fmt.Errorf("start: save session: %w", err)
			}
			text = fmt.Sprintf("Hello, %s! Send /help to see what I can do.", name)
		}
	}

	_, err := hctx.Bot.SendMessage(ctx, tgapi.SendMessageParams{
		ChatID:      chat.ID,
		Text:        text,
		ReplyMarkup: startKeyboard(),
	})
	return err
}

func startKeyboard() *tgapi.InlineKeyboardMarkup {
	return tgapi.NewKeyboard().
		Row(tgapi.Button("Settings", callbackSettingsOpen)).
		Build()
}
