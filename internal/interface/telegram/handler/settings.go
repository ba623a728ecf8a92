package handler

import (
	"context"
	"fmt"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/filter"
)

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS HANDLER
// Handles /settings and its inline keyboard. Preferences live in the chat
// session.
// ══════════════════════════════════════════════════════════════════════════════

const (
	callbackPrefix        = "settings:"
	callbackSettingsOpen  = callbackPrefix + "open"
	callbackToggleNotify  = callbackPrefix + "notify"
	notificationsDisabled = "off"
)

var settingsCallbacks = filter.CallbackPrefix(callbackPrefix)

// Settings handles /settings.
func Settings(ctx context.Context, hctx *telegram.Context, _ filter.Command) error {
	hctx.Consume()

	if hctx.Sessions == nil {
		return hctx.Reply(ctx, "Settings are not available.")
	}
	sess, err := hctx.Session(ctx)
	if err != nil {
		return fmt.Errorf("settings: load session: %w", err)
	}

	_, err = hctx.Bot.SendMessage(ctx, tgapi.SendMessageParams{
		ChatID:      hctx.Chat().ID,
		Text:        settingsText(notificationsOn(sess.Values)),
		ReplyMarkup: settingsKeyboard(notificationsOn(sess.Values)),
	})
	return err
}

// SettingsCallback handles the buttons of the settings keyboard.
func SettingsCallback(ctx context.Context, hctx *telegram.Context, cq *tgapi.CallbackQuery) error {
	hctx.Consume()

	if hctx.Sessions == nil || hctx.Chat() == nil {
		return hctx.Bot.AnswerCallbackQuery(ctx, cq.ID, "Settings are not available.", false)
	}
	sess, err := hctx.Session(ctx)
	if err != nil {
		return fmt.Errorf("settings: load session: %w", err)
	}

	on := notificationsOn(sess.Values)
	answer := ""

	switch cq.Data {
	case callbackToggleNotify:
		on = !on
		if on {
			sess.Put(KeyNotifications, "on")
			answer = "Notifications enabled"
		} else {
			sess.Put(KeyNotifications, notificationsDisabled)
			answer = "Notifications disabled"
		}
		if err := hctx.Sessions.Set(ctx, sess); err != nil {
			return fmt.Errorf("settings: save session: %w", err)
		}
	case callbackSettingsOpen:
		_, err := hctx.Bot.SendMessage(ctx, tgapi.SendMessageParams{
			ChatID:      hctx.Chat().ID,
			Text:        settingsText(on),
			ReplyMarkup: settingsKeyboard(on),
		})
		if err != nil {
			return err
		}
	default:
		answer = "Unknown action"
	}

	return hctx.Bot.AnswerCallbackQuery(ctx, cq.ID, answer, false)
}

func notificationsOn(values map[string]string) bool {
	return values[KeyNotifications] != notificationsDisabled
}

func settingsText(on bool) string {
	state := "on"
	if !on {
		state = "off"
	}
	return "Settings\n\nNotifications: " + state
}

func settingsKeyboard(on bool) *tgapi.InlineKeyboardMarkup {
	label := "Turn notifications off"
	if !on {
		label = "Turn notifications on"
	}
	return tgapi.NewKeyboard().
		Row(tgapi.Button(label, callbackToggleNotify)).
		Build()
}
