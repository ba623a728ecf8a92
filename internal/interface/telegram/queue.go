package telegram

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of envelopes between producers (the updater,
// the webhook) and the single dispatcher.
//
// Push never blocks. Receive waits on a 1-buffered signal channel, so multiple
// pushes coalesce into one wake-up and a waiting receiver can also observe
// context cancellation.
type Queue struct {
	mu     sync.Mutex
	items  []*Envelope
	closed bool
	signal chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		items:  make([]*Envelope, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Push appends env. It returns ErrQueueClosed after Close.
func (q *Queue) Push(env *Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, env)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return nil
}

// TryReceive removes and returns the front envelope without blocking.
func (q *Queue) TryReceive() (*Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	env := q.items[0]
	q.items[0] = nil

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return env, true
}

// Receive waits for the next envelope. It returns ctx.Err() when ctx is done
// first, and ErrQueueClosed once the queue is closed and drained.
func (q *Queue) Receive(ctx context.Context) (*Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if env, ok := q.TryReceive(); ok {
			return env, nil
		}

		if q.Closed() {
			// A push may have raced with Close.
			if env, ok := q.TryReceive(); ok {
				return env, nil
			}
			return nil, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// ReceiveBlocking waits for the next envelope without a deadline.
func (q *Queue) ReceiveBlocking() (*Envelope, error) {
	return q.Receive(context.Background())
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further pushes and wakes waiting receivers. Envelopes already
// queued can still be received.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
