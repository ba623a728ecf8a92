package telegram

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/middleware"
	"github.com/alem-hub/botcore/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Fetcher fetches one batch of updates. *tgapi.Client implements it.
type Fetcher interface {
	GetUpdates(ctx context.Context, params tgapi.GetUpdatesParams) ([]tgapi.Update, error)
}

// UpdaterConfig contains configuration for the long-poll updater.
type UpdaterConfig struct {
	// Fetcher performs getUpdates calls.
	Fetcher Fetcher

	// Queue receives update and error envelopes.
	Queue *Queue

	// PollTimeout is the long-poll timeout passed to the fetcher.
	PollTimeout time.Duration

	// Limit caps the batch size. Zero means no limit is sent.
	Limit int

	// AllowedUpdates filters update kinds server-side. Nil means not sent.
	AllowedUpdates []string

	// BackoffInitial and BackoffMax pace fetches after consecutive failures.
	// A zero BackoffInitial disables backoff.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Metrics counts fetch failures. Optional.
	Metrics *middleware.Metrics

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultUpdaterConfig returns sensible defaults.
func DefaultUpdaterConfig(fetcher Fetcher, queue *Queue) UpdaterConfig {
	return UpdaterConfig{
		Fetcher:        fetcher,
		Queue:          queue,
		PollTimeout:    30 * time.Second,
		BackoffInitial: 500 * time.Millisecond,
		BackoffMax:     30 * time.Second,
	}
}

// LooperState is the lifecycle state of the updater.
type LooperState int32

const (
	StateIdle LooperState = iota
	StateRunning
	StateStopped
)

func (s LooperState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATER
// ══════════════════════════════════════════════════════════════════════════════

// Updater long-polls the platform and pushes envelopes onto the queue. The
// offset cursor is written only by the polling goroutine.
type Updater struct {
	config  UpdaterConfig
	logger  *slog.Logger
	backoff *retry.Retrier

	offset atomic.Pointer[int64]

	mu     sync.Mutex
	state  LooperState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewUpdater creates an idle updater.
func NewUpdater(config UpdaterConfig) *Updater {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BackoffMax < config.BackoffInitial {
		config.BackoffMax = config.BackoffInitial
	}

	u := &Updater{
		config: config,
		logger: config.Logger.With("component", "updater"),
		state:  StateIdle,
	}
	if config.BackoffInitial > 0 {
		u.backoff = retry.PollBackoff(config.BackoffInitial, config.BackoffMax)
	}
	return u
}

// State returns the current lifecycle state.
func (u *Updater) State() LooperState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Offset returns the cursor sent with the next fetch, or nil before the first
// non-empty batch.
func (u *Updater) Offset() *int64 {
	p := u.offset.Load()
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// StartPolling launches the polling loop. It returns ErrAlreadyRunning if a
// loop is active. Cancelling ctx stops the loop.
func (u *Updater) StartPolling(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state == StateRunning {
		return ErrAlreadyRunning
	}
	if u.done != nil {
		select {
		case <-u.done:
		default:
			// A stopped loop that has not exited yet still owns the cursor.
			return ErrAlreadyRunning
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	u.cancel = cancel
	u.done = done
	u.state = StateRunning

	go u.loop(runCtx, done)

	u.logger.Info("polling started",
		"timeout", u.config.PollTimeout,
		"limit", u.config.Limit,
		"allowed_updates", u.config.AllowedUpdates,
	)
	return nil
}

// StopPolling stops the loop and waits for it to exit or ctx to be done.
// It returns ErrNotRunning when no loop is active.
// Stopping an updater that is not running is a no-op.
func (u *Updater) StopPolling(ctx context.Context) error {
	u.mu.Lock()
	if u.state != StateRunning {
		u.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := u.cancel, u.done
	u.state = StateStopped
	u.mu.Unlock()

	cancel()

	select {
	case <-done:
		u.logger.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the current polling loop exits.
func (u *Updater) Wait() {
	u.mu.Lock()
	done := u.done
	u.mu.Unlock()

	if done != nil {
		<-done
	}
}

// loop is the ingestion loop. It never exits on fetch failure.
func (u *Updater) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer u.markStopped(done)

	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		offset := u.Offset()
		params := tgapi.GetUpdatesParams{
			Offset:         offset,
			Limit:          u.config.Limit,
			Timeout:        u.config.PollTimeout,
			AllowedUpdates: u.config.AllowedUpdates,
		}

		updates, err := u.config.Fetcher.GetUpdates(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				// Our own cancellation, not a platform failure.
				return
			}

			failures++
			if !u.reportFailure(err, offset) {
				return
			}
			if u.backoff != nil {
				if retry.Sleep(ctx, u.backoff.Delay(failures)) != nil {
					return
				}
			}
			runtime.Gosched()
			continue
		}

		failures = 0
		if !u.enqueueBatch(updates, offset) {
			return
		}

		runtime.Gosched()
	}
}

// reportFailure pushes an error envelope. It returns false if the queue is
// closed.
func (u *Updater) reportFailure(err error, offset *int64) bool {
	ev := NewErrorEvent(err, offset)

	if u.config.Metrics != nil {
		u.config.Metrics.ObserveFetchFailure()
	}

	u.logger.Warn("fetching updates failed", "kind", ev.Kind, "error", err, "offset", offsetAttr(offset))

	if pushErr := u.config.Queue.Push(NewErrorEnvelope(ev)); errors.Is(pushErr, ErrQueueClosed) {
		u.logger.Info("dispatch queue closed, polling exiting")
		return false
	}
	return true
}

// enqueueBatch pushes updates in ascending id order and advances the cursor
// past the last one. Updates carrying more than one payload are reported as
// decode errors. It returns false if the queue is closed.
func (u *Updater) enqueueBatch(updates []tgapi.Update, offset *int64) bool {
	if len(updates) == 0 {
		return true
	}

	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].UpdateID < updates[j].UpdateID
	})

	for i := range updates {
		upd := &updates[i]

		var env *Envelope
		if err := upd.Validate(); err != nil {
			u.logger.Warn("rejecting malformed update", "update_id", upd.UpdateID, "error", err)
			env = NewErrorEnvelope(NewErrorEvent(&tgapi.DecodeError{Method: "getUpdates", Err: err}, offset))
		} else {
			env = NewUpdateEnvelope(upd)
		}

		if err := u.config.Queue.Push(env); err != nil {
			u.logger.Info("dispatch queue closed, polling exiting")
			return false
		}
	}

	next := updates[len(updates)-1].UpdateID + 1
	if cur := u.offset.Load(); cur == nil || next > *cur {
		u.offset.Store(&next)
	}

	return true
}

// markStopped moves the state to Stopped if done still belongs to the
// current run.
func (u *Updater) markStopped(done chan struct{}) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.done == done {
		u.state = StateStopped
	}
}

func offsetAttr(offset *int64) any {
	if offset == nil {
		return nil
	}
	return *offset
}
