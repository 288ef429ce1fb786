package server

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimiter implements per-connection rate limiting using a sliding window.
// One abusive client must not affect others, so windows are tracked per
// connection id.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	clock       clockwork.Clock
	requests    map[string][]time.Time // connectionID -> recent request times
	mu          sync.Mutex
}

func NewRateLimiter(maxRequests int, window time.Duration, clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		clock:       clock,
		requests:    make(map[string][]time.Time),
	}
}

// Allow reports whether a connection may send another message, recording the
// attempt when it may.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().Add(-r.window)

	timestamps := r.requests[connectionID]
	valid := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[connectionID] = valid
		return false
	}

	r.requests[connectionID] = append(valid, r.clock.Now())
	return true
}

// Forget drops a closed connection's window.
func (r *RateLimiter) Forget(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}
