package middleware

import (
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// Per-sender token buckets. Repeat offenders are banned for a while.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained refill rate per sender.
	RequestsPerMinute int

	// BurstSize is the bucket capacity.
	BurstSize int

	// CleanupInterval is how often idle buckets and expired bans are
	// dropped. Zero disables the background sweep.
	CleanupInterval time.Duration

	// BanDuration is how long a sender is banned after BanThreshold
	// violations within five minutes.
	BanDuration  time.Duration
	BanThreshold int

	// Exempt senders are never limited (e.g. admins).
	Exempt []int64
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
		BanDuration:       10 * time.Minute,
		BanThreshold:      3,
	}
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
	IsBanned   bool

	// FirstDenial is true for the first denial after an allowed request, so
	// callers can notify the sender once instead of on every message.
	FirstDenial bool
}

// RateLimiter implements per-sender rate limiting using token buckets.
type RateLimiter struct {
	config  RateLimitConfig
	exempt  map[int64]struct{}
	buckets sync.Map // map[int64]*tokenBucket
	bans    sync.Map // map[int64]*banEntry

	stop     chan struct{}
	stopOnce sync.Once
}

type tokenBucket struct {
	mu           sync.Mutex
	tokens       float64
	lastRefill   time.Time
	refillRate   float64 // tokens per second
	maxTokens    float64
	violations   int
	lastViolated time.Time
	denied       bool
}

type banEntry struct {
	expiresAt time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 1
	}

	rl := &RateLimiter{
		config: config,
		exempt: make(map[int64]struct{}, len(config.Exempt)),
		stop:   make(chan struct{}),
	}
	for _, id := range config.Exempt {
		rl.exempt[id] = struct{}{}
	}

	if config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}

	return rl
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Check takes a token for senderID.
func (rl *RateLimiter) Check(senderID int64) RateLimitResult {
	if _, ok := rl.exempt[senderID]; ok {
		return RateLimitResult{Allowed: true}
	}

	if ban := rl.getBan(senderID); ban != nil {
		return RateLimitResult{IsBanned: true, RetryAfter: time.Until(ban.expiresAt)}
	}

	bucket := rl.getBucket(senderID)
	allowed, retryAfter, first, violations := bucket.consume()
	if allowed {
		return RateLimitResult{Allowed: true}
	}

	if rl.config.BanThreshold > 0 && violations >= rl.config.BanThreshold {
		rl.bans.Store(senderID, &banEntry{expiresAt: time.Now().Add(rl.config.BanDuration)})
	}

	return RateLimitResult{RetryAfter: retryAfter, FirstDenial: first}
}

// Reset clears state for a sender.
func (rl *RateLimiter) Reset(senderID int64) {
	rl.buckets.Delete(senderID)
	rl.bans.Delete(senderID)
}

func (rl *RateLimiter) getBucket(senderID int64) *tokenBucket {
	if val, ok := rl.buckets.Load(senderID); ok {
		return val.(*tokenBucket)
	}

	bucket := &tokenBucket{
		tokens:     float64(rl.config.BurstSize),
		lastRefill: time.Now(),
		refillRate: float64(rl.config.RequestsPerMinute) / 60.0,
		maxTokens:  float64(rl.config.BurstSize),
	}

	actual, _ := rl.buckets.LoadOrStore(senderID, bucket)
	return actual.(*tokenBucket)
}

// consume refills the bucket and tries to take a token. On denial it
// records a violation.
func (b *tokenBucket) consume() (allowed bool, retryAfter time.Duration, firstDenial bool, violations int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens--
		b.denied = false
		return true, 0, false, b.violations
	}

	// Violations older than five minutes are forgiven.
	if now.Sub(b.lastViolated) > 5*time.Minute {
		b.violations = 0
	}
	b.violations++
	b.lastViolated = now

	firstDenial = !b.denied
	b.denied = true

	deficit := 1.0 - b.tokens
	return false, time.Duration(deficit / b.refillRate * float64(time.Second)), firstDenial, b.violations
}

func (rl *RateLimiter) getBan(senderID int64) *banEntry {
	val, ok := rl.bans.Load(senderID)
	if !ok {
		return nil
	}

	ban := val.(*banEntry)
	if time.Now().After(ban.expiresAt) {
		rl.bans.Delete(senderID)
		return nil
	}
	return ban
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

// cleanup removes idle buckets and expired bans.
func (rl *RateLimiter) cleanup() {
	now := time.Now()
	const inactiveThreshold = 10 * time.Minute

	rl.buckets.Range(func(key, value interface{}) bool {
		bucket := value.(*tokenBucket)
		bucket.mu.Lock()
		inactive := now.Sub(bucket.lastRefill) > inactiveThreshold
		bucket.mu.Unlock()

		if inactive {
			rl.buckets.Delete(key)
		}
		return true
	})

	rl.bans.Range(func(key, value interface{}) bool {
		if now.After(value.(*banEntry).expiresAt) {
			rl.bans.Delete(key)
		}
		return true
	})
}
