// Package middleware contains the per-invocation fault boundary and the
// dispatch metrics used by the router.
package middleware

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY
// Runs one handler invocation and turns a returned error or a panic into an
// Outcome. Nothing escapes to the caller except fatal panics.
// ══════════════════════════════════════════════════════════════════════════════

// Fatal is implemented by panic values that must never be recovered, such as
// programmer errors that should crash the process.
type Fatal interface {
	Fatal() bool
}

// RecoveryConfig holds configuration for the recovery boundary.
type RecoveryConfig struct {
	// Logger for structured logging.
	Logger *slog.Logger

	// EnableStackTrace enables capturing stack traces.
	EnableStackTrace bool

	// OnPanic is called when a panic is recovered.
	OnPanic func(ctx context.Context, info *PanicInfo)

	// MaxPanicsPerMinute limits how many panics are logged with full detail
	// per minute. Panics above the limit are still recovered and counted.
	MaxPanicsPerMinute int

	// Metrics, if set, receives one observation per invocation.
	Metrics *Metrics
}

// DefaultRecoveryConfig returns sensible defaults.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace:   true,
		MaxPanicsPerMinute: 100,
	}
}

// Invocation describes the handler call being protected.
type Invocation struct {
	Handler    string
	Router     string
	UpdateID   int64
	EnvelopeID string
	SenderID   int64
}

func (inv Invocation) attrs() []any {
	return []any{
		"handler", inv.Handler,
		"router", inv.Router,
		"update_id", inv.UpdateID,
		"envelope_id", inv.EnvelopeID,
	}
}

// PanicInfo contains information about a recovered panic.
type PanicInfo struct {
	// Error is the panic value converted to error.
	Error error

	// PanicValue is the raw panic value.
	PanicValue interface{}

	// StackTrace is the formatted stack trace.
	StackTrace string

	// Invocation identifies the handler that panicked.
	Invocation Invocation

	// Timestamp is when the panic occurred.
	Timestamp time.Time

	// Goroutine is the ID of the goroutine that panicked.
	Goroutine int
}

// String returns a formatted string representation of the panic info.
func (p *PanicInfo) String() string {
	var buf bytes.Buffer

	buf.WriteString("=== PANIC RECOVERED ===\n")
	buf.WriteString(fmt.Sprintf("Time:       %s\n", p.Timestamp.Format(time.RFC3339)))
	buf.WriteString(fmt.Sprintf("Goroutine:  %d\n", p.Goroutine))
	buf.WriteString(fmt.Sprintf("Handler:    %s\n", p.Invocation.Handler))
	if p.Invocation.Router != "" {
		buf.WriteString(fmt.Sprintf("Router:     %s\n", p.Invocation.Router))
	}
	if p.Invocation.UpdateID != 0 {
		buf.WriteString(fmt.Sprintf("UpdateID:   %d\n", p.Invocation.UpdateID))
	}
	if p.Invocation.SenderID != 0 {
		buf.WriteString(fmt.Sprintf("SenderID:   %d\n", p.Invocation.SenderID))
	}
	buf.WriteString(fmt.Sprintf("Error:      %v\n", p.PanicValue))

	if p.StackTrace != "" {
		buf.WriteString("\nStack Trace:\n")
		buf.WriteString(p.StackTrace)
	}

	buf.WriteString("========================\n")
	return buf.String()
}

// Outcome is the result of one protected invocation.
type Outcome struct {
	// Err is the error returned by the handler, or the panic converted to error.
	Err error

	// Panic is set when the handler panicked.
	Panic *PanicInfo

	// Duration is how long the invocation took.
	Duration time.Duration
}

// Failed reports whether the invocation returned an error or panicked.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Recovery is the fault boundary around handler invocations.
type Recovery struct {
	config       RecoveryConfig
	logger       *slog.Logger
	panicCounter *panicRateLimiter
}

// NewRecovery creates a new recovery boundary.
func NewRecovery(config RecoveryConfig) *Recovery {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxPanicsPerMinute <= 0 {
		config.MaxPanicsPerMinute = DefaultRecoveryConfig().MaxPanicsPerMinute
	}

	return &Recovery{
		config:       config,
		logger:       config.Logger,
		panicCounter: newPanicRateLimiter(config.MaxPanicsPerMinute),
	}
}

// Run executes fn, recovering any panic. Errors and panics are logged and
// counted; values implementing Fatal are re-panicked after the metrics are
// recorded.
func (r *Recovery) Run(ctx context.Context, inv Invocation, fn func() error) (out Outcome) {
	start := time.Now()

	defer func() {
		out.Duration = time.Since(start)

		if rec := recover(); rec != nil {
			if fatal, ok := rec.(Fatal); ok && fatal.Fatal() {
				r.observe(inv, Outcome{Err: toError(rec), Duration: out.Duration}, true)
				panic(rec)
			}
			out.Panic = r.handlePanic(ctx, inv, rec)
			out.Err = out.Panic.Error
		} else if out.Err != nil {
			r.logger.Warn("handler returned error", append(inv.attrs(), "error", out.Err)...)
		}

		r.observe(inv, out, out.Panic != nil)
	}()

	out.Err = fn()
	return out
}

func (r *Recovery) observe(inv Invocation, out Outcome, panicked bool) {
	if r.config.Metrics != nil {
		r.config.Metrics.ObserveInvocation(inv.Handler, out.Duration, out.Err, panicked)
	}
}

// handlePanic builds PanicInfo, logs it and calls the OnPanic hook.
func (r *Recovery) handlePanic(ctx context.Context, inv Invocation, panicValue interface{}) *PanicInfo {
	info := &PanicInfo{
		Error:      toError(panicValue),
		PanicValue: panicValue,
		Invocation: inv,
		Timestamp:  time.Now(),
		Goroutine:  getGoroutineID(),
	}

	if !r.panicCounter.allow() {
		r.logger.Error("handler panicked", append(inv.attrs(), "panic", panicValue, "throttled", true)...)
		return info
	}

	if r.config.EnableStackTrace {
		info.StackTrace = string(debug.Stack())
	}

	r.logger.Error("handler panicked",
		append(inv.attrs(),
			"panic", panicValue,
			"goroutine", info.Goroutine,
			"stack", info.StackTrace,
		)...,
	)

	if r.config.OnPanic != nil {
		r.config.OnPanic(ctx, info)
	}

	return info
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// toError converts a panic value to an error.
func toError(panicValue interface{}) error {
	switch v := panicValue.(type) {
	case error:
		return v
	case string:
		return fmt.Errorf("panic: %s", v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}

// getGoroutineID returns the current goroutine ID (for debugging only).
func getGoroutineID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id int
	fmt.Sscanf(string(buf[:n]), "goroutine %d ", &id)
	return id
}

// ══════════════════════════════════════════════════════════════════════════════
// PANIC RATE LIMITER
// Caps how many panics per minute get a stack trace and the OnPanic hook.
// ══════════════════════════════════════════════════════════════════════════════

type panicRateLimiter struct {
	mu        sync.Mutex
	count     int
	maxPerMin int
	window    time.Time
}

func newPanicRateLimiter(maxPerMin int) *panicRateLimiter {
	return &panicRateLimiter{
		maxPerMin: maxPerMin,
		window:    time.Now(),
	}
}

func (p *panicRateLimiter) allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()

	if now.Sub(p.window) > time.Minute {
		p.count = 0
		p.window = now
	}

	if p.count >= p.maxPerMin {
		return false
	}

	p.count++
	return true
}
