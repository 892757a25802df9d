package middleware

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter implements a simple in-memory rate limiter using a sliding window
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(window time.Duration, maxReqs int) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
	}
	go rl.cleanup()
	return rl
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := rl.prune(key, now.Add(-rl.window))
	if len(recent) >= rl.maxReqs {
		return false
	}
	rl.requests[key] = append(recent, now)
	return true
}

// prune drops timestamps older than cutoff; caller holds the lock.
func (rl *RateLimiter) prune(key string, cutoff time.Time) []time.Time {
	reqs := rl.requests[key]
	kept := reqs[:0]
	for _, t := range reqs {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// cleanup periodically removes idle keys to prevent memory leaks
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-rl.window)
		for key := range rl.requests {
			if kept := rl.prune(key, cutoff); len(kept) == 0 {
				delete(rl.requests, key)
			} else {
				rl.requests[key] = kept
			}
		}
		rl.mu.Unlock()
	}
}

// GetIPKey extracts the client address from the request for rate limiting.
// chi's RealIP middleware has already resolved X-Forwarded-For by the time
// this runs.
func GetIPKey(r *http.Request) string {
	return "ip:" + r.RemoteAddr
}
