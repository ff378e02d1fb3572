package validation

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by client identifier.
// IsAllowed returns false once the number of calls inside the window
// reaches the cap.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	cap    int
	calls  map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter creates a limiter allowing cap calls per window per key.
func NewRateLimiter(cap int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		window: window,
		cap:    cap,
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// IsAllowed records a call for key and reports whether it is within the
// limit. Expired entries are pruned on each call.
func (r *RateLimiter) IsAllowed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	recent := r.calls[key][:0]
	for _, t := range r.calls[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.cap {
		r.calls[key] = recent
		return false
	}

	r.calls[key] = append(recent, now)
	return true
}

// Reset clears the recorded calls for a key.
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, key)
}
