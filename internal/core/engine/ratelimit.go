package engine

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-client sliding-window request limit.
//
// Each client key maps to the ordered timestamps of its accepted requests.
// Timestamps older than the window are pruned lazily on access and by Sweep.
// State is process-local and lost on restart.
type RateLimiter struct {
	Limit RateLimit
	Clock func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

// RateLimit represents a rate limit window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultLimit admits 20 requests per client per hour.
var DefaultLimit = RateLimit{RequestsPerWindow: 20, WindowDuration: time.Hour}

// NewRateLimiter creates a limiter with the given limit. Non-positive fields
// fall back to DefaultLimit.
func NewRateLimiter(limit RateLimit) *RateLimiter {
	return &RateLimiter{
		Limit:   limit,
		windows: make(map[string][]time.Time),
	}
}

// Allow reports whether a request from key is admitted and records it if so.
// A refused attempt is not recorded. The whole check-and-record runs under a
// single lock, so concurrent callers for one key never over-admit.
func (r *RateLimiter) Allow(key string) bool {
	if r == nil {
		return true
	}

	limit := r.getLimit()
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.windows == nil {
		r.windows = make(map[string][]time.Time)
	}

	kept := prune(r.windows[key], now, limit.WindowDuration)
	if len(kept) >= limit.RequestsPerWindow {
		r.windows[key] = kept
		return false
	}

	r.windows[key] = append(kept, now)
	return true
}

// Remaining returns how many more requests key may make in the current window.
func (r *RateLimiter) Remaining(key string) int {
	if r == nil {
		return 0
	}

	limit := r.getLimit()
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := limit.RequestsPerWindow - len(prune(r.windows[key], now, limit.WindowDuration))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Sweep prunes every key and drops those left with no timestamps.
// Returns the number of keys removed.
func (r *RateLimiter) Sweep() int {
	if r == nil {
		return 0
	}

	limit := r.getLimit()
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, times := range r.windows {
		kept := prune(times, now, limit.WindowDuration)
		if len(kept) == 0 {
			delete(r.windows, key)
			removed++
			continue
		}
		r.windows[key] = kept
	}
	return removed
}

// Len returns the number of tracked client keys.
func (r *RateLimiter) Len() int {
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Window returns the effective window duration.
func (r *RateLimiter) Window() time.Duration {
	return r.getLimit().WindowDuration
}

// prune drops timestamps at or beyond the window edge. Input is ordered
// oldest first.
func prune(times []time.Time, now time.Time, window time.Duration) []time.Time {
	idx := 0
	for idx < len(times) && now.Sub(times[idx]) >= window {
		idx++
	}
	if idx == 0 {
		return times
	}
	if idx == len(times) {
		return nil
	}
	kept := make([]time.Time, len(times)-idx)
	copy(kept, times[idx:])
	return kept
}

func (r *RateLimiter) getLimit() RateLimit {
	if r == nil {
		return DefaultLimit
	}
	limit := r.Limit
	if limit.RequestsPerWindow <= 0 {
		limit.RequestsPerWindow = DefaultLimit.RequestsPerWindow
	}
	if limit.WindowDuration <= 0 {
		limit.WindowDuration = DefaultLimit.WindowDuration
	}
	return limit
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
