package filter

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
)

func textUpdate(text string) *tgapi.Update {
	return &tgapi.Update{
		UpdateID: 1,
		Message: &tgapi.Message{
			MessageID: 1,
			From:      &tgapi.User{ID: 42},
			Chat:      &tgapi.Chat{ID: 100, Type: tgapi.ChatTypePrivate},
			Text:      text,
		},
	}
}

func counting(name string, result bool, calls *int) Predicate {
	return Func(name, func(*tgapi.Update) bool {
		*calls++
		return result
	})
}

func TestAny_MatchesEverything(t *testing.T) {
	var zero Predicate
	assert.True(t, Eval(zero, textUpdate("x")))
	assert.True(t, Any.Match(&tgapi.Update{}))
	assert.Equal(t, "any", Any.String())
}

func TestCombinators(t *testing.T) {
	yes := Func("yes", func(*tgapi.Update) bool { return true })
	no := Func("no", func(*tgapi.Update) bool { return false })
	u := textUpdate("x")

	assert.True(t, And(yes, yes).Match(u))
	assert.False(t, And(yes, no).Match(u))
	assert.True(t, Or(no, yes).Match(u))
	assert.False(t, Or(no, no, no).Match(u))
	assert.True(t, Not(no).Match(u))
	assert.True(t, yes.And(no.Not()).Match(u))
}

func TestCombinators_ShortCircuit(t *testing.T) {
	var calls int
	u := textUpdate("x")

	And(counting("f", false, &calls), counting("g", true, &calls)).Match(u)
	assert.Equal(t, 1, calls)

	calls = 0
	Or(counting("t", true, &calls), counting("g", true, &calls)).Match(u)
	assert.Equal(t, 1, calls)
}

func TestCombinators_DoNotMutateOperands(t *testing.T) {
	a := HasText
	before := a.String()
	_ = And(a, HasReply)
	_ = Not(a)
	assert.Equal(t, before, a.String())
	assert.True(t, a.Match(textUpdate("x")))
}

func TestString(t *testing.T) {
	p := And(HasText, Not(HasReply))
	assert.Equal(t, "and(has_text,not(has_reply))", p.String())
	assert.Equal(t, "or(or(has_text,has_reply),any)", Or(HasText, HasReply, Any).String())
}

func TestBuiltins(t *testing.T) {
	u := textUpdate("hello world")
	reply := textUpdate("re")
	reply.Message.ReplyToMessage = &tgapi.Message{MessageID: 9}
	photo := &tgapi.Update{Message: &tgapi.Message{Chat: &tgapi.Chat{ID: 1, Type: tgapi.ChatTypeGroup}, Photo: []tgapi.PhotoSize{{FileID: "p"}}}}
	cb := &tgapi.Update{CallbackQuery: &tgapi.CallbackQuery{ID: "1", From: &tgapi.User{ID: 5}, Data: "vote:yes"}}

	tests := []struct {
		name string
		p    Predicate
		u    *tgapi.Update
		want bool
	}{
		{"has text", HasText, u, true},
		{"has text on photo", HasText, photo, false},
		{"has reply", HasReply, reply, true},
		{"no reply", HasReply, u, false},
		{"any media", HasMedia(), photo, true},
		{"photo media", HasMedia(tgapi.MediaPhoto), photo, true},
		{"sticker media", HasMedia(tgapi.MediaSticker), photo, false},
		{"text is not media", HasMedia(), u, false},
		{"private chat", ChatType(tgapi.ChatTypePrivate), u, true},
		{"group chat", ChatType(tgapi.ChatTypeGroup, tgapi.ChatTypeSupergroup), u, false},
		{"sender", SenderID(1, 42), u, true},
		{"callback sender", SenderID(5), cb, true},
		{"chat id", ChatID(100), u, true},
		{"text equals", TextEquals("hello world"), u, true},
		{"text prefix", TextPrefix("hello"), u, true},
		{"regexp", Regexp(regexp.MustCompile(`w.rld$`)), u, true},
		{"callback data", CallbackData("vote:yes"), cb, true},
		{"callback data mismatch", CallbackData("vote"), cb, false},
		{"callback prefix", CallbackPrefix("vote:"), cb, true},
		{"update kind", UpdateKind(tgapi.UpdateKindCallbackQuery), cb, true},
		{"update kind mismatch", UpdateKind(tgapi.UpdateKindMessage), cb, false},
		{"nil update", HasText, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Eval(tt.p, tt.u))
		})
	}
}

func TestCommand_Matching(t *testing.T) {
	start := CommandNamed("start")

	assert.True(t, start.Match(textUpdate("/start")))
	assert.True(t, start.Match(textUpdate("/start@mybot extra")))
	assert.True(t, start.Match(textUpdate("/START")))
	assert.False(t, start.Match(textUpdate("/started")))
	assert.False(t, start.Match(textUpdate("start")))
	assert.False(t, start.Match(textUpdate(" /start")))

	assert.True(t, CommandNamed("/Help", "start").Match(textUpdate("/help")))
	assert.True(t, CommandNamed().Match(textUpdate("/anything")))
}

func TestCommandNamed_AgreesWithParsedCommand(t *testing.T) {
	var cmd Command
	cmd, ok := ParseCommand("/Settings@mybot lang en")
	require.True(t, ok)

	assert.True(t, CommandNamed(cmd.Name).Match(textUpdate("/settings")))
	assert.True(t, CommandNamed("SETTINGS").Match(textUpdate("/Settings@mybot lang en")))
	assert.False(t, CommandNamed(cmd.ArgString()).Match(textUpdate("/settings")))
}

func TestParseCommand(t *testing.T) {
	cmd, ok := ParseCommand("/Ban@MyBot  42   spam")
	assert.True(t, ok)
	assert.Equal(t, "ban", cmd.Name)
	assert.Equal(t, "MyBot", cmd.Mention)
	assert.Equal(t, []string{"42", "spam"}, cmd.Args)
	assert.Equal(t, "42 spam", cmd.ArgString())

	cmd, ok = ParseCommand("/start")
	assert.True(t, ok)
	assert.Nil(t, cmd.Args)

	for _, text := range []string{"", "hello", "/", "/ start", "/@bot"} {
		_, ok := ParseCommand(text)
		assert.False(t, ok, text)
	}
}
