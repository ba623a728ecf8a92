// Package telegram implements the update dispatch core: envelopes, handlers,
// the recursive router, the FIFO queue, the dispatcher loop and the long-poll
// updater.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alem-hub/botcore/internal/domain/session"
	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/filter"
	"github.com/alem-hub/botcore/internal/interface/telegram/middleware"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	// Name identifies the router in logs and in Tree output.
	Name string

	// Logger for structured logging.
	Logger *slog.Logger

	// Recovery is the fault boundary used when this router starts a pass.
	// Child routers use the boundary of the router the pass started on.
	Recovery *middleware.Recovery

	// Metrics receives per-pass counters. Optional.
	Metrics *middleware.Metrics

	// Sessions is handed to handlers through Context. Optional.
	Sessions session.Store

	// Debug enables debug logging for routing decisions.
	Debug bool
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER
// ══════════════════════════════════════════════════════════════════════════════

// Router holds ordered handlers, error handlers and child routers. A router
// may be included in several parents; inclusion cycles are rejected.
type Router struct {
	config RouterConfig
	logger *slog.Logger

	mu            sync.RWMutex
	handlers      []Handler
	errorHandlers []ErrorHandler
	children      []*Router
}

// graphMu serialises IncludeRouter calls so the cycle check and the insert
// are atomic across the whole router graph.
var graphMu sync.Mutex

// NewRouter creates a new router.
func NewRouter(config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Name == "" {
		config.Name = "router"
	}
	if config.Recovery == nil {
		rc := middleware.DefaultRecoveryConfig()
		rc.Logger = config.Logger
		rc.Metrics = config.Metrics
		config.Recovery = middleware.NewRecovery(rc)
	}

	return &Router{
		config: config,
		logger: config.Logger.With("router", config.Name),
	}
}

// Name returns the router name.
func (r *Router) Name() string { return r.config.Name }

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION METHODS
// ══════════════════════════════════════════════════════════════════════════════

// AddHandler appends h. Handlers are tried in the order they were added.
func (r *Router) AddHandler(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	r.handlers = append(r.handlers, h)
	r.mu.Unlock()

	if r.config.Debug {
		r.logger.Debug("registered handler", "handler", h.Name())
	}
	return nil
}

// RemoveHandler removes the first registration of h. It reports whether h was
// found.
func (r *Router) RemoveHandler(h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.handlers {
		if existing == h {
			r.handlers = append(r.handlers[:i:i], r.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// AddErrorHandler appends an error handler.
func (r *Router) AddErrorHandler(h ErrorHandler) error {
	if h == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	r.errorHandlers = append(r.errorHandlers, h)
	r.mu.Unlock()
	return nil
}

// RemoveErrorHandler removes the first registration of h.
func (r *Router) RemoveErrorHandler(h ErrorHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.errorHandlers {
		if existing == h {
			r.errorHandlers = append(r.errorHandlers[:i:i], r.errorHandlers[i+1:]...)
			return true
		}
	}
	return false
}

// IncludeRouter appends child to the children of r. It returns ErrRouterCycle
// if child is r or already reaches r.
func (r *Router) IncludeRouter(child *Router) error {
	if child == nil {
		return ErrNilHandler
	}

	graphMu.Lock()
	defer graphMu.Unlock()

	if child == r || child.reaches(r, make(map[*Router]struct{})) {
		return fmt.Errorf("include %q into %q: %w", child.Name(), r.Name(), ErrRouterCycle)
	}

	r.mu.Lock()
	r.children = append(r.children, child)
	r.mu.Unlock()

	if r.config.Debug {
		r.logger.Debug("included router", "child", child.Name())
	}
	return nil
}

// ExcludeRouter removes the first inclusion of child.
func (r *Router) ExcludeRouter(child *Router) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.children {
		if existing == child {
			r.children = append(r.children[:i:i], r.children[i+1:]...)
			return true
		}
	}
	return false
}

// reaches reports whether target is r or a descendant of r.
func (r *Router) reaches(target *Router, seen map[*Router]struct{}) bool {
	if r == target {
		return true
	}
	if _, ok := seen[r]; ok {
		return false
	}
	seen[r] = struct{}{}

	_, _, children := r.snapshot()
	for _, c := range children {
		if c.reaches(target, seen) {
			return true
		}
	}
	return false
}

// snapshot copies the registration lists so a pass is unaffected by
// concurrent registration.
func (r *Router) snapshot() ([]Handler, []ErrorHandler, []*Router) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := make([]Handler, len(r.handlers))
	copy(handlers, r.handlers)
	errorHandlers := make([]ErrorHandler, len(r.errorHandlers))
	copy(errorHandlers, r.errorHandlers)
	children := make([]*Router, len(r.children))
	copy(children, r.children)

	return handlers, errorHandlers, children
}

// ──────────────────────────────────────────────────────────────────────────────
// Convenience registration
// ──────────────────────────────────────────────────────────────────────────────

// OnCommand registers a command handler and returns it.
func (r *Router) OnCommand(name string, fn func(ctx context.Context, hctx *Context, cmd filter.Command) error, opts ...HandlerOption) Handler {
	h := NewCommandHandler(name, fn, opts...)
	_ = r.AddHandler(h)
	return h
}

// OnText registers a text handler and returns it.
func (r *Router) OnText(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, text string) error, opts ...HandlerOption) Handler {
	h := NewTextHandler(pred, fn, opts...)
	_ = r.AddHandler(h)
	return h
}

// OnCallback registers a callback query handler and returns it.
func (r *Router) OnCallback(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, cq *tgapi.CallbackQuery) error, opts ...HandlerOption) Handler {
	h := NewCallbackHandler(pred, fn, opts...)
	_ = r.AddHandler(h)
	return h
}

// OnMessage registers a message handler and returns it.
func (r *Router) OnMessage(pred filter.Predicate, fn func(ctx context.Context, hctx *Context, msg *tgapi.Message) error, opts ...HandlerOption) Handler {
	h := NewMessageHandler(pred, fn, opts...)
	_ = r.AddHandler(h)
	return h
}

// OnError registers an error handler for the given kinds (all kinds when
// none are given) and returns it.
func (r *Router) OnError(fn func(ctx context.Context, ectx *ErrorContext) error, kinds ...ErrorKind) ErrorHandler {
	h := NewErrorHandler(fn, WithErrorKinds(kinds...))
	_ = r.AddErrorHandler(h)
	return h
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCH
// ══════════════════════════════════════════════════════════════════════════════

// pass is the state of one envelope traversing the router graph.
type pass struct {
	bot      Bot
	env      *Envelope
	sessions session.Store
	recovery *middleware.Recovery
	logger   *slog.Logger
	visited  map[*Router]struct{}
}

func (r *Router) newPass(bot Bot, env *Envelope) *pass {
	return &pass{
		bot:      bot,
		env:      env,
		sessions: r.config.Sessions,
		recovery: r.config.Recovery,
		logger:   r.config.Logger.With("envelope_id", env.ID),
		visited:  make(map[*Router]struct{}),
	}
}

// visit marks r as visited and reports whether this is the first visit in
// the pass.
func (p *pass) visit(r *Router) bool {
	if _, ok := p.visited[r]; ok {
		return false
	}
	p.visited[r] = struct{}{}
	return true
}

// DispatchUpdate runs one pass of an update envelope through the router graph
// and reports whether some handler consumed it.
func (r *Router) DispatchUpdate(ctx context.Context, bot Bot, env *Envelope) bool {
	if env == nil || env.Kind != KindUpdate || env.Update == nil {
		return false
	}

	p := r.newPass(bot, env)
	r.handleUpdate(ctx, p)

	consumed := env.Consumed()
	if r.config.Metrics != nil {
		r.config.Metrics.ObserveUpdate(consumed)
	}
	if !consumed && r.config.Debug {
		p.logger.Debug("update not handled",
			"update_id", env.Update.UpdateID,
			"kind", env.Update.Kind(),
		)
	}
	return consumed
}

// DispatchError runs one pass of an error envelope: every matching error
// handler on every router sees it once.
func (r *Router) DispatchError(ctx context.Context, bot Bot, env *Envelope) {
	if env == nil || env.Kind != KindError || env.Error == nil {
		return
	}

	p := r.newPass(bot, env)
	r.handleError(ctx, p)

	if r.config.Metrics != nil {
		r.config.Metrics.ObserveError()
	}
}

// handleUpdate tries own handlers in order, then children in order, and stops
// as soon as the envelope is consumed.
func (r *Router) handleUpdate(ctx context.Context, p *pass) {
	if !p.visit(r) {
		return
	}

	handlers, _, children := r.snapshot()
	u := p.env.Update

	for _, h := range handlers {
		if !r.safeMatch(p, h, u) {
			continue
		}

		hctx := &Context{
			Bot:        p.bot,
			Update:     u,
			Sessions:   p.sessions,
			Logger:     p.logger.With("handler", h.Name(), "router", r.Name(), "update_id", u.UpdateID),
			EnvelopeID: p.env.ID,
			Router:     r.Name(),
			env:        p.env,
		}

		inv := middleware.Invocation{
			Handler:    h.Name(),
			Router:     r.Name(),
			UpdateID:   u.UpdateID,
			EnvelopeID: p.env.ID,
		}
		if sender := u.EffectiveSender(); sender != nil {
			inv.SenderID = sender.ID
		}

		p.recovery.Run(ctx, inv, func() error {
			return h.Invoke(ctx, hctx)
		})

		if p.env.Consumed() {
			return
		}
	}

	for _, child := range children {
		child.handleUpdate(ctx, p)
		if p.env.Consumed() {
			return
		}
	}
}

// handleError invokes every matching error handler, then every child.
func (r *Router) handleError(ctx context.Context, p *pass) {
	if !p.visit(r) {
		return
	}

	_, errorHandlers, children := r.snapshot()
	ev := p.env.Error

	for _, h := range errorHandlers {
		if !h.Match(ev) {
			continue
		}

		ectx := &ErrorContext{
			Bot:        p.bot,
			Event:      ev,
			Logger:     p.logger.With("handler", h.Name(), "router", r.Name(), "kind", ev.Kind),
			EnvelopeID: p.env.ID,
			Router:     r.Name(),
		}

		p.recovery.Run(ctx, middleware.Invocation{
			Handler:    h.Name(),
			Router:     r.Name(),
			EnvelopeID: p.env.ID,
		}, func() error {
			return h.Invoke(ctx, ectx)
		})
	}

	for _, child := range children {
		child.handleError(ctx, p)
	}
}

// safeMatch evaluates h.Match, treating a panicking predicate as no match.
func (r *Router) safeMatch(p *pass, h Handler, u *tgapi.Update) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("handler predicate panicked",
				"handler", h.Name(),
				"router", r.Name(),
				"update_id", u.UpdateID,
				"panic", rec,
			)
			ok = false
		}
	}()
	return h.Match(u)
}

// ══════════════════════════════════════════════════════════════════════════════
// DIAGNOSTICS
// ══════════════════════════════════════════════════════════════════════════════

// Tree renders the router graph, one node per line. Routers reachable through
// more than one parent are expanded once.
func (r *Router) Tree() string {
	var b strings.Builder
	r.writeTree(&b, 0, make(map[*Router]struct{}))
	return b.String()
}

func (r *Router) writeTree(b *strings.Builder, depth int, seen map[*Router]struct{}) {
	indent := strings.Repeat("  ", depth)

	if _, ok := seen[r]; ok {
		fmt.Fprintf(b, "%srouter %q (shared)\n", indent, r.Name())
		return
	}
	seen[r] = struct{}{}

	fmt.Fprintf(b, "%srouter %q\n", indent, r.Name())

	handlers, errorHandlers, children := r.snapshot()
	for _, h := range handlers {
		fmt.Fprintf(b, "%s  handler %s\n", indent, h.Name())
	}
	for _, h := range errorHandlers {
		fmt.Fprintf(b, "%s  error_handler %s\n", indent, h.Name())
	}
	for _, c := range children {
		c.writeTree(b, depth+1, seen)
	}
}

// Commands returns the names of command handlers registered on r and its
// descendants, in traversal order.
func (r *Router) Commands() []string {
	var names []string
	seen := make(map[*Router]struct{})
	var walk func(*Router)
	walk = func(rt *Router) {
		if _, ok := seen[rt]; ok {
			return
		}
		seen[rt] = struct{}{}
		handlers, _, children := rt.snapshot()
		for _, h := range handlers {
			if c, ok := h.(commander); ok {
				names = append(names, c.commandName())
			}
		}
		for _, c := range children {
			walk(c)
		}
	}
	walk(r)
	return names
}
