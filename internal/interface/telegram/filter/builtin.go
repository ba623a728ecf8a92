package filter

import (
	"fmt"
	"regexp"
	"strings"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
)

// HasText matches updates whose effective message carries non-empty text.
var HasText = Func("has_text", func(u *tgapi.Update) bool {
	msg := u.EffectiveMessage()
	return msg != nil && msg.Text != ""
})

// HasReply matches messages that reply to another message.
var HasReply = Func("has_reply", func(u *tgapi.Update) bool {
	msg := u.EffectiveMessage()
	return msg != nil && msg.ReplyToMessage != nil
})

// HasMedia matches messages carrying one of kinds, or any media when kinds is
// empty.
func HasMedia(kinds ...tgapi.MediaKind) Predicate {
	name := "has_media"
	if len(kinds) > 0 {
		name = fmt.Sprintf("has_media%v", kinds)
	}
	return Func(name, func(u *tgapi.Update) bool {
		got := u.EffectiveMessage().MediaKind()
		if got == tgapi.MediaNone {
			return false
		}
		if len(kinds) == 0 {
			return true
		}
		return contains(kinds, got)
	})
}

// ChatType matches updates from chats of the given types ("private", "group",
// "supergroup", "channel").
func ChatType(types ...string) Predicate {
	return Func(fmt.Sprintf("chat_type%v", types), func(u *tgapi.Update) bool {
		chat := u.EffectiveChat()
		return chat != nil && contains(types, chat.Type)
	})
}

// SenderID matches updates caused by one of the given users.
func SenderID(ids ...int64) Predicate {
	return Func(fmt.Sprintf("sender_id%v", ids), func(u *tgapi.Update) bool {
		from := u.EffectiveSender()
		return from != nil && contains(ids, from.ID)
	})
}

// ChatID matches updates from one of the given chats.
func ChatID(ids ...int64) Predicate {
	return Func(fmt.Sprintf("chat_id%v", ids), func(u *tgapi.Update) bool {
		chat := u.EffectiveChat()
		return chat != nil && contains(ids, chat.ID)
	})
}

// CommandNamed matches text commands whose name is one of names. Names are
// compared after case folding, so CommandNamed("Start") matches "/start".
// With no names it matches any command.
func CommandNamed(names ...string) Predicate {
	folded := make([]string, len(names))
	for i, n := range names {
		folded[i] = foldCommand(strings.TrimPrefix(n, "/"))
	}
	return Func(fmt.Sprintf("command%v", folded), func(u *tgapi.Update) bool {
		msg := u.EffectiveMessage()
		if msg == nil {
			return false
		}
		cmd, ok := ParseCommand(msg.Text)
		if !ok {
			return false
		}
		return len(folded) == 0 || contains(folded, cmd.Name)
	})
}

// TextEquals matches messages whose text is exactly s.
func TextEquals(s string) Predicate {
	return Func(fmt.Sprintf("text_equals(%q)", s), func(u *tgapi.Update) bool {
		msg := u.EffectiveMessage()
		return msg != nil && msg.Text == s
	})
}

// TextPrefix matches messages whose text starts with prefix.
func TextPrefix(prefix string) Predicate {
	return Func(fmt.Sprintf("text_prefix(%q)", prefix), func(u *tgapi.Update) bool {
		msg := u.EffectiveMessage()
		return msg != nil && msg.Text != "" && strings.HasPrefix(msg.Text, prefix)
	})
}

// Regexp matches messages whose text matches re.
func Regexp(re *regexp.Regexp) Predicate {
	return Func(fmt.Sprintf("regexp(%s)", re), func(u *tgapi.Update) bool {
		msg := u.EffectiveMessage()
		return msg != nil && msg.Text != "" && re.MatchString(msg.Text)
	})
}

// CallbackData matches callback queries carrying exactly data.
func CallbackData(data string) Predicate {
	return Func(fmt.Sprintf("callback_data(%q)", data), func(u *tgapi.Update) bool {
		return u.CallbackQuery != nil && u.CallbackQuery.Data == data
	})
}

// CallbackPrefix matches callback queries whose data starts with prefix.
func CallbackPrefix(prefix string) Predicate {
	return Func(fmt.Sprintf("callback_prefix(%q)", prefix), func(u *tgapi.Update) bool {
		return u.CallbackQuery != nil && strings.HasPrefix(u.CallbackQuery.Data, prefix)
	})
}

// UpdateKind matches updates of the given payload kinds.
func UpdateKind(kinds ...tgapi.UpdateKind) Predicate {
	return Func(fmt.Sprintf("update_kind%v", kinds), func(u *tgapi.Update) bool {
		return contains(kinds, u.Kind())
	})
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
