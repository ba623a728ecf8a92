package handler

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/botcore/internal/interface/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/filter"
	"github.com/alem-hub/botcore/internal/interface/telegram/middleware"
)

// fakeBot records outbound calls.
type fakeBot struct {
	mu       sync.Mutex
	sent     []tgapi.SendMessageParams
	answered []string
}

func (b *fakeBot) SendMessage(_ context.Context, params tgapi.SendMessageParams) (*tgapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, params)
	return &tgapi.Message{Chat: &tgapi.Chat{ID: params.ChatID}, Text: params.Text}, nil
}

func (b *fakeBot) SendText(ctx context.Context, chatID int64, text string) (*tgapi.Message, error) {
	return b.SendMessage(ctx, tgapi.SendMessageParams{ChatID: chatID, Text: text})
}

func (b *fakeBot) ReplyTo(ctx context.Context, msg *tgapi.Message, text string) (*tgapi.Message, error) {
	return b.SendMessage(ctx, tgapi.SendMessageParams{ChatID: msg.Chat.ID, Text: text, ReplyToMessageID: msg.MessageID})
}

func (b *fakeBot) AnswerCallbackQuery(_ context.Context, id string, text string, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answered = append(b.answered, id+":"+text)
	return nil
}

func (b *fakeBot) GetMe(context.Context) (*tgapi.User, error) {
	return &tgapi.User{ID: 1, IsBot: true, FirstName: "bot"}, nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.sent))
	for i, p := range b.sent {
		out[i] = p.Text
	}
	return out
}

type fixture struct {
	bot      *fakeBot
	sessions *memory.SessionStore
	root     *telegram.Router
	nextID   int64
}

func newFixture(t *testing.T, deps Deps) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := memory.NewSessionStore()
	root := telegram.NewRouter(telegram.RouterConfig{
		Name:     "root",
		Logger:   logger,
		Sessions: sessions,
		Metrics:  deps.Metrics,
	})
	deps.Logger = logger
	require.NoError(t, Register(root, deps))
	return &fixture{bot: &fakeBot{}, sessions: sessions, root: root}
}

func (f *fixture) text(senderID int64, text string) bool {
	f.nextID++
	u := &tgapi.Update{UpdateID: f.nextID, Message: &tgapi.Message{
		MessageID: f.nextID,
		From:      &tgapi.User{ID: senderID, FirstName: "Ada", LastName: "Lovelace"},
		Chat:      &tgapi.Chat{ID: senderID, Type: "private"},
		Text:      text,
	}}
	return f.root.DispatchUpdate(context.Background(), f.bot, telegram.NewUpdateEnvelope(u))
}

func (f *fixture) callback(senderID int64, data string) bool {
	f.nextID++
	u := &tgapi.Update{UpdateID: f.nextID, CallbackQuery: &tgapi.CallbackQuery{
		ID:      "cq",
		From:    &tgapi.User{ID: senderID, FirstName: "Ada"},
		Message: &tgapi.Message{MessageID: 1, Chat: &tgapi.Chat{ID: senderID}},
		Data:    data,
	}}
	return f.root.DispatchUpdate(context.Background(), f.bot, telegram.NewUpdateEnvelope(u))
}

func TestStart_RecordsFirstContact(t *testing.T) {
	f := newFixture(t, Deps{})

	assert.True(t, f.text(42, "/start ref123"))

	sess, err := f.sessions.Get(context.Background(), 42)
	require.NoError(t, err)
	_, seen := sess.Get(KeyFirstSeen)
	assert.True(t, seen)
	param, _ := sess.Get(KeyStartParam)
	assert.Equal(t, "ref123", param)

	require.Len(t, f.bot.sent, 1)
	assert.Contains(t, f.bot.sent[0].Text, "Hello, Ada Lovelace!")
	require.NotNil(t, f.bot.sent[0].ReplyMarkup)
	assert.Equal(t, callbackSettingsOpen, f.bot.sent[0].ReplyMarkup.InlineKeyboard[0][0].CallbackData)

	// Second contact keeps the original parameter.
	assert.True(t, f.text(42, "/start other"))
	sess, err = f.sessions.Get(context.Background(), 42)
	require.NoError(t, err)
	param, _ = sess.Get(KeyStartParam)
	assert.Equal(t, "ref123", param)
	assert.Contains(t, f.bot.texts()[1], "Welcome back")
}

func TestHelp_ListsRegisteredCommands(t *testing.T) {
	f := newFixture(t, Deps{})
	f.root.OnCommand("ping", func(ctx context.Context, hctx *telegram.Context, _ filter.Command) error {
		hctx.Consume()
		return hctx.Reply(ctx, "pong")
	})

	assert.True(t, f.text(1, "/help"))

	texts := f.bot.texts()
	require.Len(t, texts, 1)
	for _, cmd := range []string{"/start", "/help", "/settings", "/ping"} {
		assert.Contains(t, texts[0], cmd)
	}
}

func TestSettings_ToggleNotifications(t *testing.T) {
	f := newFixture(t, Deps{})

	assert.True(t, f.text(7, "/settings"))
	assert.Contains(t, f.bot.texts()[0], "Notifications: on")

	assert.True(t, f.callback(7, callbackToggleNotify))
	sess, err := f.sessions.Get(context.Background(), 7)
	require.NoError(t, err)
	v, _ := sess.Get(KeyNotifications)
	assert.Equal(t, "off", v)

	assert.True(t, f.callback(7, callbackToggleNotify))
	sess, err = f.sessions.Get(context.Background(), 7)
	require.NoError(t, err)
	v, _ = sess.Get(KeyNotifications)
	assert.Equal(t, "on", v)

	assert.Equal(t, []string{"cq:Notifications disabled", "cq:Notifications enabled"}, f.bot.answered)
}

func TestFloodGuard_ConsumesThrottledUpdates(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1})
	defer limiter.Close()
	f := newFixture(t, Deps{Limiter: limiter})

	assert.True(t, f.text(5, "/help"))
	assert.True(t, f.text(5, "/help"))
	assert.True(t, f.text(5, "/help"))

	texts := f.bot.texts()
	require.Len(t, texts, 2)
	assert.True(t, strings.HasPrefix(texts[0], "Available commands"))
	assert.True(t, strings.HasPrefix(texts[1], "Too many requests"))

	// Other senders are unaffected.
	assert.True(t, f.text(6, "/help"))
	assert.Len(t, f.bot.texts(), 3)
}

func TestAdmin_StatsRestrictedToAdmins(t *testing.T) {
	metrics := middleware.NewMetrics()
	f := newFixture(t, Deps{
		AdminIDs: []int64{100},
		Metrics:  metrics,
		Status:   func() map[string]any { return map[string]any{"queue_len": 0} },
	})

	assert.False(t, f.text(5, "/stats"))
	assert.Empty(t, f.bot.texts())

	assert.True(t, f.text(100, "/stats"))
	texts := f.bot.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Updates: 1 (unhandled 1)")
	assert.Contains(t, texts[0], "queue_len: 0")

	assert.True(t, f.text(100, "/routes"))
	assert.Contains(t, f.bot.texts()[1], `router "admin"`)
}

func TestLogError_HandlesConflict(t *testing.T) {
	var buf strings.Builder
	ectx := &telegram.ErrorContext{
		Event:  telegram.NewErrorEvent(&tgapi.APIError{Method: "getUpdates", Code: 409, Description: "Conflict"}, nil),
		Logger: slog.New(slog.NewTextHandler(&buf, nil)),
	}

	require.NoError(t, LogError(context.Background(), ectx))
	assert.Contains(t, buf.String(), "another instance")
}
