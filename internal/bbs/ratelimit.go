// ABOUTME: Per-sender command cooldown, in memory only
// ABOUTME: Advisory limiter; not persisted across restarts

package bbs

import (
	"sync"
	"time"
)

// RateLimiter tracks the last accepted command per sender and drops
// anything arriving inside the window. Bypass commands never consult it.
type RateLimiter struct {
	mu     sync.Mutex
	last   map[string]time.Time
	window time.Duration
}

// NewRateLimiter creates a limiter with the given cooldown window.
// A zero window accepts everything.
func NewRateLimiter(window time.Duration) *RateLimiter {
	return &RateLimiter{
		last:   make(map[string]time.Time),
		window: window,
	}
}

// Allow reports whether a command from sender may be processed now, and
// records the acceptance when it may. Suppressed commands do not reset
// the window.
func (r *RateLimiter) Allow(sender string) bool {
	if r.window <= 0 {
		return true
	}

	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.last[sender]; ok && now.Sub(last) < r.window {
		return false
	}
	r.last[sender] = now
	return true
}
