package telegram

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE
// The unit of work moving through the queue: either an update from the
// platform or an error produced while fetching updates.
// ══════════════════════════════════════════════════════════════════════════════

// EnvelopeKind tells which payload an Envelope carries.
type EnvelopeKind uint8

const (
	KindUpdate EnvelopeKind = iota + 1
	KindError
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindAPI       ErrorKind = "api"
	ErrorKindDecode    ErrorKind = "decode"
)

// ErrorEvent describes a failure observed by the ingestion side.
type ErrorEvent struct {
	Kind       ErrorKind
	Message    string
	Err        error
	OccurredAt time.Time

	// Offset is the cursor that was sent with the failed fetch, if any.
	Offset *int64
}

// Error implements error so an ErrorEvent can be wrapped and logged directly.
func (e *ErrorEvent) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *ErrorEvent) Unwrap() error { return e.Err }

// NewErrorEvent classifies err into an ErrorEvent.
func NewErrorEvent(err error, offset *int64) *ErrorEvent {
	return &ErrorEvent{
		Kind:       ClassifyError(err),
		Message:    err.Error(),
		Err:        err,
		OccurredAt: time.Now(),
		Offset:     offset,
	}
}

// ClassifyError maps a fetch error onto the error taxonomy. Errors that are
// neither API nor decode failures are treated as transport failures.
func ClassifyError(err error) ErrorKind {
	var apiErr *tgapi.APIError
	if errors.As(err, &apiErr) {
		return ErrorKindAPI
	}
	var decodeErr *tgapi.DecodeError
	if errors.As(err, &decodeErr) {
		return ErrorKindDecode
	}
	return ErrorKindTransport
}

// Envelope wraps one update or error event for a single dispatch pass.
type Envelope struct {
	ID         string
	Kind       EnvelopeKind
	Update     *tgapi.Update
	Error      *ErrorEvent
	ReceivedAt time.Time

	consumed atomic.Bool
}

// NewUpdateEnvelope wraps an update.
func NewUpdateEnvelope(u *tgapi.Update) *Envelope {
	return &Envelope{
		ID:         uuid.NewString(),
		Kind:       KindUpdate,
		Update:     u,
		ReceivedAt: time.Now(),
	}
}

// NewErrorEnvelope wraps an error event.
func NewErrorEnvelope(ev *ErrorEvent) *Envelope {
	return &Envelope{
		ID:         uuid.NewString(),
		Kind:       KindError,
		Error:      ev,
		ReceivedAt: time.Now(),
	}
}

// Consume marks the envelope as handled so that no later handler or router in
// the same pass sees it. Consuming twice panics with *ConsumedTwiceError.
func (e *Envelope) Consume() {
	if !e.consumed.CompareAndSwap(false, true) {
		panic(&ConsumedTwiceError{EnvelopeID: e.ID, UpdateID: e.updateID()})
	}
}

// Consumed reports whether Consume has been called.
func (e *Envelope) Consumed() bool {
	return e.consumed.Load()
}

func (e *Envelope) updateID() int64 {
	if e.Update != nil {
		return e.Update.UpdateID
	}
	return 0
}
