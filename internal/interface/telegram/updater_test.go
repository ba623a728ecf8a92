package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram/filter"
)

type fetchResult struct {
	updates []tgapi.Update
	err     error
}

// scriptedFetcher returns scripted results in order, then blocks until the
// context is cancelled.
type scriptedFetcher struct {
	mu      sync.Mutex
	script  []fetchResult
	offsets []*int64
	params  []tgapi.GetUpdatesParams
	drained chan struct{}
}

func newScriptedFetcher(script ...fetchResult) *scriptedFetcher {
	return &scriptedFetcher{script: script, drained: make(chan struct{})}
}

func (f *scriptedFetcher) GetUpdates(ctx context.Context, params tgapi.GetUpdatesParams) ([]tgapi.Update, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, params.Offset)
	f.params = append(f.params, params)
	if len(f.script) == 0 {
		select {
		case <-f.drained:
		default:
			close(f.drained)
		}
		f.mu.Unlock()
		<-ctx.Done()
		return nil, &tgapi.TransportError{Method: "getUpdates", Err: ctx.Err()}
	}
	next := f.script[0]
	f.script = f.script[1:]
	f.mu.Unlock()
	return next.updates, next.err
}

func (f *scriptedFetcher) seenOffsets() []*int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*int64(nil), f.offsets...)
}

func msgUpdates(ids ...int64) []tgapi.Update {
	out := make([]tgapi.Update, len(ids))
	for i, id := range ids {
		out[i] = tgapi.Update{UpdateID: id, Message: &tgapi.Message{Chat: &tgapi.Chat{ID: 1}, Text: "x"}}
	}
	return out
}

func newTestUpdater(f Fetcher, q *Queue) *Updater {
	return NewUpdater(UpdaterConfig{
		Fetcher:     f,
		Queue:       q,
		PollTimeout: time.Second,
		Logger:      quietLogger(),
	})
}

func drain(q *Queue) []*Envelope {
	var out []*Envelope
	for {
		env, ok := q.TryReceive()
		if !ok {
			return out
		}
		out = append(out, env)
	}
}

func int64p(v int64) *int64 { return &v }

func TestUpdater_OffsetProgression(t *testing.T) {
	f := newScriptedFetcher(
		fetchResult{updates: msgUpdates(1, 2)},
		fetchResult{},
		fetchResult{updates: msgUpdates(3, 4, 5)},
	)
	q := NewQueue()
	u := newTestUpdater(f, q)

	require.NoError(t, u.StartPolling(context.Background()))
	<-f.drained
	require.NoError(t, u.StopPolling(context.Background()))

	offsets := f.seenOffsets()
	require.GreaterOrEqual(t, len(offsets), 4)
	assert.Nil(t, offsets[0])
	assert.Equal(t, int64p(3), offsets[1])
	assert.Equal(t, int64p(3), offsets[2])
	assert.Equal(t, int64p(6), offsets[3])
	assert.Equal(t, int64p(6), u.Offset())

	var ids []int64
	for _, env := range drain(q) {
		require.Equal(t, KindUpdate, env.Kind)
		ids = append(ids, env.Update.UpdateID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
}

func TestUpdater_PassesPollParameters(t *testing.T) {
	f := newScriptedFetcher()
	u := NewUpdater(UpdaterConfig{
		Fetcher:        f,
		Queue:          NewQueue(),
		PollTimeout:    25 * time.Second,
		Limit:          10,
		AllowedUpdates: []string{"message", "callback_query"},
		Logger:         quietLogger(),
	})

	require.NoError(t, u.StartPolling(context.Background()))
	<-f.drained
	require.NoError(t, u.StopPolling(context.Background()))

	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.params[0]
	assert.Equal(t, 25*time.Second, p.Timeout)
	assert.Equal(t, 10, p.Limit)
	assert.Equal(t, []string{"message", "callback_query"}, p.AllowedUpdates)
}

func TestUpdater_SortsBatchByUpdateID(t *testing.T) {
	f := newScriptedFetcher(fetchResult{updates: msgUpdates(9, 7, 8)})
	q := NewQueue()
	u := newTestUpdater(f, q)

	require.NoError(t, u.StartPolling(context.Background()))
	<-f.drained
	require.NoError(t, u.StopPolling(context.Background()))

	var ids []int64
	for _, env := range drain(q) {
		ids = append(ids, env.Update.UpdateID)
	}
	assert.Equal(t, []int64{7, 8, 9}, ids)
	assert.Equal(t, int64p(10), u.Offset())
}

func TestUpdater_ReportsFailuresAndKeepsPolling(t *testing.T) {
	f := newScriptedFetcher(
		fetchResult{err: &tgapi.TransportError{Method: "getUpdates", Err: errors.New("connection reset")}},
		fetchResult{err: &tgapi.APIError{Method: "getUpdates", Code: 409, Description: "Conflict"}},
		fetchResult{err: &tgapi.DecodeError{Method: "getUpdates", Err: errors.New("bad json")}},
		fetchResult{updates: msgUpdates(1)},
	)
	q := NewQueue()
	u := newTestUpdater(f, q)

	require.NoError(t, u.StartPolling(context.Background()))
	<-f.drained
	require.NoError(t, u.StopPolling(context.Background()))

	envs := drain(q)
	require.Len(t, envs, 4)
	assert.Equal(t, ErrorKindTransport, envs[0].Error.Kind)
	assert.Equal(t, ErrorKindAPI, envs[1].Error.Kind)
	assert.Equal(t, ErrorKindDecode, envs[2].Error.Kind)
	assert.Equal(t, KindUpdate, envs[3].Kind)
	assert.Nil(t, envs[0].Error.Offset)
}

func TestUpdater_RejectsMultiPayloadUpdates(t *testing.T) {
	bad := tgapi.Update{UpdateID: 2, Message: &tgapi.Message{Chat: &tgapi.Chat{ID: 1}}, Poll: &tgapi.Poll{ID: "p"}}
	f := newScriptedFetcher(fetchResult{updates: append(msgUpdates(1), bad)})
	q := NewQueue()
	u := newTestUpdater(f, q)

	require.NoError(t, u.StartPolling(context.Background()))
	<-f.drained
	require.NoError(t, u.StopPolling(context.Background()))

	envs := drain(q)
	require.Len(t, envs, 2)
	assert.Equal(t, KindUpdate, envs[0].Kind)
	require.Equal(t, KindError, envs[1].Kind)
	assert.Equal(t, ErrorKindDecode, envs[1].Error.Kind)
	assert.ErrorIs(t, envs[1].Error, tgapi.ErrMultiplePayloads)
	assert.Equal(t, int64p(3), u.Offset())
}

func TestUpdater_CancellationIsNotReported(t *testing.T) {
	f := newScriptedFetcher()
	q := NewQueue()
	u := newTestUpdater(f, q)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, u.StartPolling(ctx))
	<-f.drained
	cancel()
	u.Wait()

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, StateStopped, u.State())
	assert.ErrorIs(t, u.StopPolling(context.Background()), ErrNotRunning)
}

func TestUpdater_Lifecycle(t *testing.T) {
	f := newScriptedFetcher()
	u := newTestUpdater(f, NewQueue())

	assert.Equal(t, StateIdle, u.State())
	assert.ErrorIs(t, u.StopPolling(context.Background()), ErrNotRunning)

	require.NoError(t, u.StartPolling(context.Background()))
	assert.Equal(t, StateRunning, u.State())
	assert.ErrorIs(t, u.StartPolling(context.Background()), ErrAlreadyRunning)

	require.NoError(t, u.StopPolling(context.Background()))
	assert.Equal(t, StateStopped, u.State())

	require.NoError(t, u.StartPolling(context.Background()))
	assert.Equal(t, StateRunning, u.State())
	require.NoError(t, u.StopPolling(context.Background()))
	assert.ErrorIs(t, u.StopPolling(context.Background()), ErrNotRunning)
}

func TestUpdater_ExitsWhenQueueClosed(t *testing.T) {
	f := newScriptedFetcher(fetchResult{updates: msgUpdates(1)})
	q := NewQueue()
	q.Close()
	u := newTestUpdater(f, q)

	require.NoError(t, u.StartPolling(context.Background()))
	u.Wait()

	assert.Equal(t, StateStopped, u.State())
	assert.Nil(t, u.Offset())
}

func TestUpdater_BacksOffBetweenFailures(t *testing.T) {
	boom := fetchResult{err: &tgapi.TransportError{Method: "getUpdates", Err: errors.New("down")}}
	f := newScriptedFetcher(boom, boom, boom)
	u := NewUpdater(UpdaterConfig{
		Fetcher:        f,
		Queue:          NewQueue(),
		PollTimeout:    time.Second,
		BackoffInitial: 20 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
		Logger:         quietLogger(),
	})

	start := time.Now()
	require.NoError(t, u.StartPolling(context.Background()))
	<-f.drained
	elapsed := time.Since(start)
	require.NoError(t, u.StopPolling(context.Background()))

	// Three failures, each followed by roughly 20ms (±10% jitter).
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestUpdaterAndDispatcher_EndToEnd(t *testing.T) {
	f := newScriptedFetcher(
		fetchResult{updates: []tgapi.Update{{UpdateID: 1, Message: &tgapi.Message{Chat: &tgapi.Chat{ID: 1}, Text: "/start@mybot extra"}}}},
		fetchResult{err: &tgapi.APIError{Method: "getUpdates", Code: 502}},
	)
	d := newTestDispatcher()

	gotCmd := make(chan []string, 1)
	gotErr := make(chan ErrorKind, 1)
	d.OnCommand("start", func(ctx context.Context, hctx *Context, cmd filter.Command) error {
		gotCmd <- cmd.Args
		return nil
	})
	d.OnError(func(ctx context.Context, ectx *ErrorContext) error {
		gotErr <- ectx.Event.Kind
		return nil
	})

	u := newTestUpdater(f, d.Queue())
	ctx := context.Background()
	require.NoError(t, d.Start(ctx))
	require.NoError(t, u.StartPolling(ctx))
	defer d.Stop(ctx)
	defer u.StopPolling(ctx)

	select {
	case args := <-gotCmd:
		assert.Equal(t, []string{"extra"}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("command not dispatched")
	}
	select {
	case kind := <-gotErr:
		assert.Equal(t, ErrorKindAPI, kind)
	case <-time.After(2 * time.Second):
		t.Fatal("error not dispatched")
	}
}
