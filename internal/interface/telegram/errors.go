package telegram

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueClosed is returned when pushing to or receiving from a closed queue.
	ErrQueueClosed = errors.New("dispatch queue closed")

	// ErrRouterCycle is returned when including a router would create a cycle.
	ErrRouterCycle = errors.New("router inclusion would create a cycle")

	// ErrAlreadyRunning is returned when starting a loop that is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNilHandler is returned when registering a nil handler or router.
	ErrNilHandler = errors.New("handler is nil")

	// ErrNotRunning is returned when stopping a loop that is not running.
	ErrNotRunning = errors.New("not running")
)

// ConsumedTwiceError is the panic value raised when an envelope is consumed a
// second time. It is never recovered by the handler fault boundary.
type ConsumedTwiceError struct {
	EnvelopeID string
	UpdateID   int64
}

func (e *ConsumedTwiceError) Error() string {
	return fmt.Sprintf("envelope %s (update %d) consumed twice", e.EnvelopeID, e.UpdateID)
}

// Fatal marks the panic as unrecoverable for middleware.Recovery.
func (e *ConsumedTwiceError) Fatal() bool { return true }
