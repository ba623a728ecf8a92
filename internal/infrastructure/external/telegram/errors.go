package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrMultiplePayloads is returned when an update carries more than one payload.
	ErrMultiplePayloads = errors.New("telegram: update carries more than one payload")

	// ErrEmptyToken is returned when a client is built without a bot token.
	ErrEmptyToken = errors.New("telegram: bot token is required")
)

// APIError represents an error reported by the Bot API (ok=false).
type APIError struct {
	Method          string
	Code            int
	Description     string
	RetryAfter      int
	MigrateToChatID int64
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d on %s: %s", e.Code, e.Method, e.Description)
}

// RetryDelay implements retry.DelayHinter.
func (e *APIError) RetryDelay() time.Duration {
	return time.Duration(e.RetryAfter) * time.Second
}

// IsConflict reports whether the API rejected the call because another
// getUpdates poller or an active webhook holds the token.
func (e *APIError) IsConflict() bool {
	return e.Code == http.StatusConflict
}

// TransportError wraps a failure to reach the Bot API or read its response.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("telegram transport error on %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError wraps a successful response whose body could not be mapped to
// the expected shape.
type DecodeError struct {
	Method string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("telegram decode error on %s: %v", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsRetryable reports whether an outbound call that failed with err is worth
// repeating: rate limits, server errors and transport failures are.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}

	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsOutage reports whether err means the Bot API itself is unreachable or
// failing, as opposed to rejecting one request.
func IsOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500
	}
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsUserBlocked checks if the error indicates the user blocked the bot.
func IsUserBlocked(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusForbidden
	}
	return false
}
