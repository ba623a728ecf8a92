package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alem-hub/botcore/internal/domain/session"
	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/filter"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT FACADE & CONTEXTS
// ══════════════════════════════════════════════════════════════════════════════

// Bot is the outbound API surface handed to handlers. *tgapi.Client
// implements it.
type Bot interface {
	SendMessage(ctx context.Context, params tgapi.SendMessageParams) (*tgapi.Message, error)
	SendText(ctx context.Context, chatID int64, text string) (*tgapi.Message, error)
	ReplyTo(ctx context.Context, msg *tgapi.Message, text string) (*tgapi.Message, error)
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string, showAlert bool) error
	GetMe(ctx context.Context) (*tgapi.User, error)
}

// Context carries everything a handler action needs for one update.
type Context struct {
	// Bot is the outbound API facade.
	Bot Bot

	// Update is the update being dispatched.
	Update *tgapi.Update

	// Sessions is the per-chat state store. May be nil.
	Sessions session.Store

	// Logger is scoped to the envelope, handler and router.
	Logger *slog.Logger

	// EnvelopeID correlates log lines of one dispatch pass.
	EnvelopeID string

	// Router is the name of the router that owns the handler.
	Router string

	env *Envelope
}

// Consume stops the current pass after this handler returns. Calling it twice
// for the same update panics.
func (c *Context) Consume() { c.env.Consume() }

// Consumed reports whether some handler already consumed the update.
func (c *Context) Consumed() bool { return c.env.Consumed() }

// Message returns the effective message of the update, if any.
func (c *Context) Message() *tgapi.Message { return c.Update.EffectiveMessage() }

// Chat returns the effective chat of the update, if any.
func (c *Context) Chat() *tgapi.Chat { return c.Update.EffectiveChat() }

// Sender returns the user who caused the update, if any.
func (c *Context) Sender() *tgapi.User { return c.Update.EffectiveSender() }

// Reply sends text to the chat of the update, quoting the message when there
// is one.
func (c *Context) Reply(ctx context.Context, text string) error {
	msg := c.Message()
	if msg == nil || msg.Chat == nil {
		return errors.New("reply: update has no chat")
	}
	_, err := c.Bot.ReplyTo(ctx, msg, text)
	return err
}

// Session loads the session of the effective chat, creating an empty one when
// none is stored yet.
func (c *Context) Session(ctx context.Context) (*session.Session, error) {
	if c.Sessions == nil {
		return nil, errors.New("session store is not configured")
	}
	chat := c.Chat()
	if chat == nil {
		return nil, session.ErrInvalidChatID
	}
	return session.Load(ctx, c.Sessions, chat.ID)
}

// ErrorContext carries an error event to error handlers.
type ErrorContext struct {
	Bot        Bot
	Event      *ErrorEvent
	Logger     *slog.Logger
	EnvelopeID string
	Router     string
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// Handler pairs a predicate with an action. Invoke is only called after Match
// returned true for the same update.
type Handler interface {
	Match(u *tgapi.Update) bool
	Invoke(ctx context.Context, hctx *Context) error
	Name() string
}

// HandlerOption configures a handler at construction.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	name  string
	extra []filter.Predicate
}

// WithName overrides the generated handler name used in logs and metrics.
func WithName(name string) HandlerOption {
	return func(o *handlerOptions) { o.name = name }
}

// WithFilter adds a predicate that must also match.
func WithFilter(p filter.Predicate) HandlerOption {
	return func(o *handlerOptions) { o.extra = append(o.extra, p) }
}

// projectionHandler is the single implementation behind every handler
// variant: a predicate, a projection from the update to the value the action
// wants, and the action itself.
type projectionHandler[T any] struct {
	name    string
	pred    filter.Predicate
	project func(*tgapi.Update) (T, bool)
	action  func(ctx context.Context, hctx *Context, v T) error
}

func newProjectionHandler[T any](
	kind string,
	pred filter.Predicate,
	project func(*tgapi.Update) (T, bool),
	action func(context.Context, *Context, T) error,
	opts []HandlerOption,
) *projectionHandler[T] {
	var o handlerOptions
	for _, opt := range opts {
		opt(&o)
	}
	for _, p := range o.extra {
		pred = filter.And(pred, p)
	}
	if o.name == "" {
		o.name = fmt.Sprintf("%s[%s]", kind, pred)
	}
	return &projectionHandler[T]{
		name:    o.name,
		pred:    pred,
		project: project,
		action:  action,
	}
}

// Match implements Handler.
func (h *projectionHandler[T]) Match(u *tgapi.Update) bool {
	if u == nil {
		return false
	}
	if _, ok := h.project(u); !ok {
		return false
	}
	return filter.Eval(h.pred, u)
}

// Invoke implements Handler.
func (h *projectionHandler[T]) Invoke(ctx context.Context, hctx *Context) error {
	v, ok := h.project(hctx.Update)
	if !ok {
		return fmt.Errorf("handler %s: update %d has no matching payload", h.name, hctx.Update.UpdateID)
	}
	return h.action(ctx, hctx, v)
}

// Name implements Handler.
func (h *projectionHandler[T]) Name() string { return h.name }

// HandlerFunc is an action over the whole update.
type HandlerFunc func(ctx context.Context, hctx *Context) error

// NewHandler creates a handler that sees the whole update.
func NewHandler(pred filter.Predicate, fn HandlerFunc, opts ...HandlerOption) Handler {
	return newProjectionHandler("update", pred,
		func(u *tgapi.Update) (*tgapi.Update, bool) { return u, true },
		func(ctx context.Context, hctx *Context, _ *tgapi.Update) error { return fn(ctx, hctx) },
		opts)
}

// NewMessageHandler creates a handler for new messages.
func NewMessageHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, msg *tgapi.Message) error, opts ...HandlerOption) Handler {
	return newProjectionHandler("message", pred, projectMessage, fn, opts)
}

// NewEditedMessageHandler creates a handler for edited messages.
func NewEditedMessageHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, msg *tgapi.Message) error, opts ...HandlerOption) Handler {
	return newProjectionHandler("edited_message", pred,
		func(u *tgapi.Update) (*tgapi.Message, bool) { return u.EditedMessage, u.EditedMessage != nil },
		fn, opts)
}

// NewChannelPostHandler creates a handler for channel posts.
func NewChannelPostHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, post *tgapi.Message) error, opts ...HandlerOption) Handler {
	return newProjectionHandler("channel_post", pred,
		func(u *tgapi.Update) (*tgapi.Message, bool) { return u.ChannelPost, u.ChannelPost != nil },
		fn, opts)
}

// NewTextHandler creates a handler for new messages with text. The action
// receives the text.
func NewTextHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, text string) error, opts ...HandlerOption) Handler {
	return newProjectionHandler("text", pred,
		func(u *tgapi.Update) (string, bool) {
			if u.Message == nil || u.Message.Text == "" {
				return "", false
			}
			return u.Message.Text, true
		},
		fn, opts)
}

// NewCommandHandler creates a handler for "/name" commands. The action
// receives the parsed command with its argument tokens.
func NewCommandHandler(name string, fn func(ctx context.Context, hctx *Context, cmd filter.Command) error, opts ...HandlerOption) Handler {
	pred := filter.CommandNamed(name)
	opts = append([]HandlerOption{WithName("command:" + name)}, opts...)
	h := newProjectionHandler("command", pred,
		func(u *tgapi.Update) (filter.Command, bool) {
			if u.Message == nil {
				return filter.Command{}, false
			}
			return filter.ParseCommand(u.Message.Text)
		},
		fn, opts)
	return &commandHandler{projectionHandler: h, command: strings.TrimPrefix(name, "/")}
}

// commandHandler keeps the command name apart from the display name so a
// WithName override does not hide the command from Router.Commands.
type commandHandler struct {
	*projectionHandler[filter.Command]
	command string
}

func (h *commandHandler) commandName() string { return h.command }

// commander is implemented by handlers registered for a text command.
type commander interface {
	commandName() string
}

// NewCallbackHandler creates a handler for callback queries.
func NewCallbackHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, cq *tgapi.CallbackQuery) error, opts ...HandlerOption) Handler {
	return newProjectionHandler("callback", pred,
		func(u *tgapi.Update) (*tgapi.CallbackQuery, bool) { return u.CallbackQuery, u.CallbackQuery != nil },
		fn, opts)
}

// NewInlineQueryHandler creates a handler for inline queries.
func NewInlineQueryHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, q *tgapi.InlineQuery) error, opts ...HandlerOption) Handler {
	return newProjectionHandler("inline_query", pred,
		func(u *tgapi.Update) (*tgapi.InlineQuery, bool) { return u.InlineQuery, u.InlineQuery != nil },
		fn, opts)
}

// NewPollAnswerHandler creates a handler for poll answers.
func NewPollAnswerHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, a *tgapi.PollAnswer) error, opts ...HandlerOption) Handler {
	return newProjectionHandler("poll_answer", pred,
		func(u *tgapi.Update) (*tgapi.PollAnswer, bool) { return u.PollAnswer, u.PollAnswer != nil },
		fn, opts)
}

func projectMessage(u *tgapi.Update) (*tgapi.Message, bool) {
	return u.Message, u.Message != nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Media handlers
// ──────────────────────────────────────────────────────────────────────────────

// newMediaHandler builds a handler for one media kind of new messages.
func newMediaHandler[T any](
	kind tgapi.MediaKind,
	pick func(*tgapi.Message) T,
	pred filter.Predicate,
	fn func(context.Context, *Context, T) error,
	opts []HandlerOption,
) Handler {
	return newProjectionHandler(string(kind), filter.And(filter.HasMedia(kind), pred),
		func(u *tgapi.Update) (T, bool) {
			var zero T
			if u.Message == nil || u.Message.MediaKind() != kind {
				return zero, false
			}
			return pick(u.Message), true
		},
		fn, opts)
}

// NewStickerHandler creates a handler for sticker messages.
func NewStickerHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, s *tgapi.Sticker) error, opts ...HandlerOption) Handler {
	return newMediaHandler(tgapi.MediaSticker, func(m *tgapi.Message) *tgapi.Sticker { return m.Sticker }, pred, fn, opts)
}

// NewAudioHandler creates a handler for audio messages.
func NewAudioHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, a *tgapi.Audio) error, opts ...HandlerOption) Handler {
	return newMediaHandler(tgapi.MediaAudio, func(m *tgapi.Message) *tgapi.Audio { return m.Audio }, pred, fn, opts)
}

// NewVideoHandler creates a handler for video messages.
func NewVideoHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, v *tgapi.Video) error, opts ...HandlerOption) Handler {
	return newMediaHandler(tgapi.MediaVideo, func(m *tgapi.Message) *tgapi.Video { return m.Video }, pred, fn, opts)
}

// NewPhotoHandler creates a handler for photo messages. The action receives
// the largest available size.
func NewPhotoHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, p *tgapi.PhotoSize) error, opts ...HandlerOption) Handler {
	return newMediaHandler(tgapi.MediaPhoto, (*tgapi.Message).LargestPhoto, pred, fn, opts)
}

// NewDocumentHandler creates a handler for document messages.
func NewDocumentHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, d *tgapi.Document) error, opts ...HandlerOption) Handler {
	return newMediaHandler(tgapi.MediaDocument, func(m *tgapi.Message) *tgapi.Document { return m.Document }, pred, fn, opts)
}

// NewVoiceHandler creates a handler for voice notes.
func NewVoiceHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, v *tgapi.Voice) error, opts ...HandlerOption) Handler {
	return newMediaHandler(tgapi.MediaVoice, func(m *tgapi.Message) *tgapi.Voice { return m.Voice }, pred, fn, opts)
}

// NewAnimationHandler creates a handler for animations.
func NewAnimationHandler(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, a *tgapi.Animation) error, opts ...HandlerOption) Handler {
	return newMediaHandler(tgapi.MediaAnimation, func(m *tgapi.Message) *tgapi.Animation { return m.Animation }, pred, fn, opts)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ErrorHandler receives error envelopes. Every matching error handler on every
// router sees each event.
type ErrorHandler interface {
	Match(ev *ErrorEvent) bool
	Invoke(ctx context.Context, ectx *ErrorContext) error
	Name() string
}

// ErrorHandlerOption configures an error handler.
type ErrorHandlerOption func(*errorHandler)

// WithErrorKinds restricts the handler to the given error kinds.
func WithErrorKinds(kinds ...ErrorKind) ErrorHandlerOption {
	return func(h *errorHandler) { h.kinds = append(h.kinds, kinds...) }
}

// WithErrorHandlerName overrides the generated name.
func WithErrorHandlerName(name string) ErrorHandlerOption {
	return func(h *errorHandler) { h.name = name }
}

type errorHandler struct {
	name  string
	kinds []ErrorKind
	fn    func(ctx context.Context, ectx *ErrorContext) error
}

// NewErrorHandler creates an error handler. Without WithErrorKinds it matches
// every error event.
func NewErrorHandler(fn func(ctx context.Context, ectx *ErrorContext) error, opts ...ErrorHandlerOption) ErrorHandler {
	h := &errorHandler{fn: fn}
	for _, opt := range opts {
		opt(h)
	}
	if h.name == "" {
		h.name = fmt.Sprintf("error%v", h.kinds)
	}
	return h
}

func (h *errorHandler) Match(ev *ErrorEvent) bool {
	if ev == nil {
		return false
	}
	if len(h.kinds) == 0 {
		return true
	}
	for _, k := range h.kinds {
		if k == ev.Kind {
			return true
		}
	}
	return false
}

func (h *errorHandler) Invoke(ctx context.Context, ectx *ErrorContext) error {
	return h.fn(ctx, ectx)
}

func (h *errorHandler) Name() string { return h.name }
