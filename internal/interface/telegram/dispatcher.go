package telegram

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"

	"github.com/alem-hub/botcore/internal/domain/session"
	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/middleware"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// Name of the root router.
	Name string

	// Bot is handed to every handler.
	Bot Bot

	// Queue to consume. A new one is created when nil.
	Queue *Queue

	// Sessions is handed to handlers. Optional.
	Sessions session.Store

	// Recovery is the handler fault boundary. A default one is created when nil.
	Recovery *middleware.Recovery

	// Metrics collects dispatch counters. Optional.
	Metrics *middleware.Metrics

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables debug logging for routing decisions.
	Debug bool
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher is the root router plus the consumer loop that drains the queue.
// Exactly one consumer loop runs at a time.
type Dispatcher struct {
	*Router

	bot    Bot
	queue  *Queue
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a dispatcher with an empty root router.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Name == "" {
		config.Name = "root"
	}
	if config.Queue == nil {
		config.Queue = NewQueue()
	}

	return &Dispatcher{
		Router: NewRouter(RouterConfig{
			Name:     config.Name,
			Logger:   config.Logger,
			Recovery: config.Recovery,
			Metrics:  config.Metrics,
			Sessions: config.Sessions,
			Debug:    config.Debug,
		}),
		bot:    config.Bot,
		queue:  config.Queue,
		logger: config.Logger.With("component", "dispatcher"),
	}
}

// Queue returns the queue the dispatcher consumes.
func (d *Dispatcher) Queue() *Queue { return d.queue }

// Enqueue pushes an envelope for dispatch.
func (d *Dispatcher) Enqueue(env *Envelope) error {
	return d.queue.Push(env)
}

// EnqueueUpdate wraps u in an envelope and pushes it.
func (d *Dispatcher) EnqueueUpdate(u *tgapi.Update) error {
	if u == nil {
		return errors.New("enqueue: nil update")
	}
	return d.queue.Push(NewUpdateEnvelope(u))
}

// Start launches the consumer loop. A loop that is already running is
// cancelled and waited for first, so at most one consumer exists.
// Start must not be called from inside a handler.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.logger.Info("restarting dispatcher")
		d.cancel()
		<-d.done
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done

	go d.run(runCtx, done)

	d.logger.Info("dispatcher started", "router", d.Name())
	return nil
}

// Stop cancels the consumer loop and waits until it exits or ctx is done.
// The pass in flight, if any, runs to completion. Stop from inside a handler
// returns when ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return ErrNotRunning
	}

	cancel()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a consumer loop is active.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// run is the consumer loop.
func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		env, err := d.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				d.logger.Info("dispatch queue closed, consumer exiting")
			}
			return
		}

		// Handlers finish their pass even if Stop arrives meanwhile.
		d.dispatch(context.WithoutCancel(ctx), env)

		runtime.Gosched()
	}
}

// dispatch routes one envelope by kind.
func (d *Dispatcher) dispatch(ctx context.Context, env *Envelope) {
	switch env.Kind {
	case KindUpdate:
		d.DispatchUpdate(ctx, d.bot, env)
	case KindError:
		d.DispatchError(ctx, d.bot, env)
	default:
		d.logger.Warn("dropping envelope of unknown kind", "envelope_id", env.ID, "kind", env.Kind)
	}
}
