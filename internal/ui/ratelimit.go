package ui

import (
	"sync"
	"time"
)

// RateLimiter enforces a fixed-window request count per client IP (spec
// §4.8 "Rate limiting"). Grounded directly on the teacher's
// internal/middleware/rate_limiter.go sliding/fixed-window-counter shape,
// substituting "per client IP" for "per agent:tenant."
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	max     int
	period  time.Duration
}

type window struct {
	count int
	start time.Time
}

// NewRateLimiter builds a limiter allowing max requests per period, per key.
func NewRateLimiter(max int, period time.Duration) *RateLimiter {
	if max <= 0 {
		max = 120
	}
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{windows: make(map[string]*window), max: max, period: period}
}

// Allow reports whether a request from key (the client IP) is within limits,
// and the retry-after duration to report when it isn't.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) > rl.period {
		rl.windows[key] = &window{count: 1, start: now}
		return true, 0
	}

	w.count++
	if w.count > rl.max {
		retryAfter := rl.period - now.Sub(w.start)
		return false, retryAfter
	}
	return true, 0
}
