package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
)

func updateEnv(id int64) *Envelope {
	return NewUpdateEnvelope(&tgapi.Update{UpdateID: id, Message: &tgapi.Message{Chat: &tgapi.Chat{ID: 1}}})
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, q.Push(updateEnv(i)))
	}
	assert.Equal(t, 3, q.Len())

	for want := int64(1); want <= 3; want++ {
		env, err := q.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, env.Update.UpdateID)
	}
	_, ok := q.TryReceive()
	assert.False(t, ok)
}

func TestQueue_ReceiveWaitsForPush(t *testing.T) {
	q := NewQueue()
	got := make(chan *Envelope, 1)

	go func() {
		env, err := q.ReceiveBlocking()
		if err == nil {
			got <- env
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Push(updateEnv(7)))

	select {
	case env := <-got:
		assert.EqualValues(t, 7, env.Update.UpdateID)
	case <-time.After(time.Second):
		t.Fatal("receiver was not woken")
	}
}

func TestQueue_ReceiveHonoursCancellation(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Push(updateEnv(1)))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Push(updateEnv(2)), ErrQueueClosed)

	env, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, env.Update.UpdateID)

	_, err = q.Receive(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_ConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	q := NewQueue()
	const perProducer = 200

	var wg sync.WaitGroup
	for p := int64(0); p < 2; p++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for i := int64(0); i < perProducer; i++ {
				_ = q.Push(updateEnv(base + i))
			}
		}(p * 1000)
	}
	wg.Wait()

	last := map[int64]int64{0: -1, 1000: 999}
	for q.Len() > 0 {
		env, _ := q.TryReceive()
		id := env.Update.UpdateID
		base := id / 1000 * 1000
		assert.Greater(t, id, last[base])
		last[base] = id
	}
}
