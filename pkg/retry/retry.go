// Package retry runs operations with exponential backoff and jitter. The Bot
// API client retries outbound calls with it, and the update poller uses
// Delay to pace itself after consecutive fetch failures.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// DelayHinter is implemented by errors that carry a server-provided minimum
// wait, such as a 429 with retry_after.
type DelayHinter interface {
	RetryDelay() time.Duration
}

// Config holds the backoff policy.
type Config struct {
	MaxAttempts  int           // including the first; default 3
	InitialDelay time.Duration // wait after the first failure; default 100ms
	MaxDelay     time.Duration // cap before jitter; default 30s
	Multiplier   float64       // default 2
	JitterFactor float64       // +/- fraction of the delay; default 0.1

	// RetryIf decides whether err is worth another attempt. Nil retries
	// everything except context cancellation.
	RetryIf func(error) bool

	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
}

// Option adjusts a Config. Out-of-range values are ignored.
type Option func(*Config)

// WithMaxAttempts sets the total number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the first wait. Zero disables waiting.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.InitialDelay = d
		}
	}
}

// WithMaxDelay caps the wait.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

// WithMultiplier sets the growth factor, at least 1.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1 {
			c.Multiplier = m
		}
	}
}

// WithJitter sets the jitter fraction in [0, 1].
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1 {
			c.JitterFactor = j
		}
	}
}

// WithRetryIf sets the error classifier.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) { c.RetryIf = fn }
}

// WithOnRetry sets the retry hook.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// Retrier applies one policy. It is safe for concurrent use.
type Retrier struct {
	config Config
}

// New builds a Retrier from DefaultConfig and opts.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// Do calls op until it succeeds, returns an error RetryIf rejects, or the
// attempts run out. It returns op's last error. A cancelled ctx ends the
// wait early and also returns op's last error.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt >= r.config.MaxAttempts || !r.shouldRetry(err) {
			return err
		}

		delay := r.Delay(attempt)
		var hint DelayHinter
		if errors.As(err, &hint) && hint.RetryDelay() > delay {
			delay = hint.RetryDelay()
		}
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		if Sleep(ctx, delay) != nil {
			return err
		}
	}
}

func (r *Retrier) shouldRetry(err error) bool {
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Delay returns the wait after the given 1-based failed attempt:
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay, then jittered.
func (r *Retrier) Delay(attempt int) time.Duration {
	attempt = max(attempt, 1)

	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	d = min(d, float64(r.config.MaxDelay))
	if j := r.config.JitterFactor; j > 0 {
		d += d * j * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, 0))
}

// Sleep waits for d or until ctx is done. It returns ctx.Err() when the
// context ended the wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BotAPI returns the policy for outbound Bot API calls: five quick attempts
// with gentle growth. opts override it.
func BotAPI(opts ...Option) *Retrier {
	base := []Option{
		WithMaxAttempts(5),
		WithInitialDelay(100 * time.Millisecond),
		WithMaxDelay(5 * time.Second),
		WithMultiplier(1.5),
	}
	return New(append(base, opts...)...)
}

// PollBackoff returns a Retrier used only for its Delay, pacing the update
// poller after consecutive fetch failures.
func PollBackoff(initial, maxDelay time.Duration) *Retrier {
	return New(WithInitialDelay(initial), WithMaxDelay(maxDelay))
}
