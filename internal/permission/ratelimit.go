package permission

import (
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
type RateLimiter struct {
	mu           sync.Mutex
	rate         float64 // tokens per second
	burst        int
	tokens       float64
	lastRefill   time.Time
	blockedUntil time.Time
	now          func() time.Time
}

// NewRateLimiter creates a limiter allowing rate operations per second with
// bursts of up to burst operations. The bucket starts full.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return newRateLimiter(rate, burst, time.Now)
}

// Every returns a limiter that allows one operation per interval.
func Every(interval time.Duration) *RateLimiter {
	return NewRateLimiter(1/interval.Seconds(), 1)
}

func newRateLimiter(rate float64, burst int, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: now(),
		now:        now,
	}
}

// Allow reports whether an operation may happen now and takes a token if so.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.blockedUntil) {
		return false
	}
	r.refillLocked(now)

	if r.tokens >= 1.0 {
		r.tokens--
		return true
	}
	return false
}

func (r *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(r.lastRefill).Seconds()
	if elapsed > 0 {
		r.tokens += elapsed * r.rate
		if r.tokens > float64(r.burst) {
			r.tokens = float64(r.burst)
		}
	}
	r.lastRefill = now
}

// Next returns how long until Allow would succeed.
func (r *RateLimiter) Next() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.blockedUntil) {
		return r.blockedUntil.Sub(now)
	}
	r.refillLocked(now)
	if r.tokens >= 1.0 || r.rate <= 0 {
		return 0
	}
	return time.Duration((1.0 - r.tokens) / r.rate * float64(time.Second))
}

// Block rejects every operation for d.
func (r *RateLimiter) Block(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockedUntil = r.now().Add(d)
}

// Reset refills the bucket and lifts any block.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = float64(r.burst)
	r.lastRefill = r.now()
	r.blockedUntil = time.Time{}
}
