package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimiterWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(DefaultLimit)
	limiter.Clock = clock.Now

	for i := 0; i < 20; i++ {
		require.True(t, limiter.Allow("203.0.113.7"), "request %d should be admitted", i+1)
	}
	require.False(t, limiter.Allow("203.0.113.7"), "21st request must be refused")
	require.Equal(t, 0, limiter.Remaining("203.0.113.7"))

	// Other clients are independent
	require.True(t, limiter.Allow("198.51.100.1"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(DefaultLimit)
	limiter.Clock = clock.Now

	for i := 0; i < 20; i++ {
		require.True(t, limiter.Allow("k"))
	}
	require.False(t, limiter.Allow("k"))

	clock.Advance(61 * time.Minute)
	require.True(t, limiter.Allow("k"), "window should have slid past all prior requests")
	require.Equal(t, 19, limiter.Remaining("k"))
}

func TestRateLimiterRejectedAttemptNotRecorded(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(RateLimit{RequestsPerWindow: 2, WindowDuration: time.Minute})
	limiter.Clock = clock.Now

	require.True(t, limiter.Allow("k"))
	clock.Advance(30 * time.Second)
	require.True(t, limiter.Allow("k"))

	// Hammer while full; none of these may extend the window
	for i := 0; i < 5; i++ {
		clock.Advance(5 * time.Second)
		require.False(t, limiter.Allow("k"))
	}

	// 60s after the first request exactly one slot frees up
	clock.Advance(5 * time.Second)
	require.True(t, limiter.Allow("k"))
	require.False(t, limiter.Allow("k"))
}

func TestRateLimiterBoundaryIsExclusive(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(RateLimit{RequestsPerWindow: 1, WindowDuration: time.Hour})
	limiter.Clock = clock.Now

	require.True(t, limiter.Allow("k"))
	clock.Advance(time.Hour - time.Nanosecond)
	require.False(t, limiter.Allow("k"))
	clock.Advance(time.Nanosecond)
	require.True(t, limiter.Allow("k"))
}

func TestRateLimiterConcurrentAdmission(t *testing.T) {
	limiter := NewRateLimiter(DefaultLimit)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limiter.Allow("same-client") {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(20), admitted.Load())
}

func TestRateLimiterSweep(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(DefaultLimit)
	limiter.Clock = clock.Now

	require.True(t, limiter.Allow("old"))
	clock.Advance(30 * time.Minute)
	require.True(t, limiter.Allow("recent"))
	require.Equal(t, 2, limiter.Len())

	clock.Advance(31 * time.Minute)
	removed := limiter.Sweep()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, limiter.Len())
	assert.Equal(t, 19, limiter.Remaining("recent"))
}

func TestRateLimiterDefaults(t *testing.T) {
	var limiter RateLimiter
	assert.Equal(t, time.Hour, limiter.Window())
	assert.True(t, limiter.Allow("k"))
	assert.Equal(t, 1, limiter.Len())

	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("k"))
	assert.Equal(t, 0, nilLimiter.Sweep())
	assert.Equal(t, 0, nilLimiter.Len())
}
