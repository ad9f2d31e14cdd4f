package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/admitcraft/admitcraft/internal/metrics"
	"github.com/admitcraft/admitcraft/internal/observability"
)

// DefaultSweepInterval is how often idle clients are dropped from the limiter.
const DefaultSweepInterval = 10 * time.Minute

// Sweeper periodically removes idle keys from a RateLimiter so memory stays
// bounded by the set of recently active clients.
type Sweeper struct {
	limiter  *RateLimiter
	interval time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	stopCh  chan struct{}
	running bool
}

// NewSweeper creates a sweeper for limiter. A non-positive interval uses
// DefaultSweepInterval.
func NewSweeper(limiter *RateLimiter, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		limiter:  limiter,
		interval: interval,
	}
}

// Schedule returns the cron spec the sweeper runs on.
func (s *Sweeper) Schedule() string {
	return fmt.Sprintf("@every %s", s.interval)
}

// Start schedules the sweep job. The sweeper stops when ctx is cancelled or
// Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.limiter == nil {
		return fmt.Errorf("sweeper has no rate limiter")
	}

	c := cron.New()
	if _, err := c.AddFunc(s.Schedule(), func() { s.RunOnce() }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.stopCh = make(chan struct{})
	s.running = true

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Rate limit sweeper started",
			zap.String("schedule", s.Schedule()))
	}

	stopCh := s.stopCh
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()

	return nil
}

// RunOnce performs a single sweep and returns the number of keys removed.
func (s *Sweeper) RunOnce() int {
	removed := s.limiter.Sweep()
	remaining := s.limiter.Len()

	metrics.RecordSweep(removed, remaining)

	if observability.ServerLogger != nil {
		observability.ServerLogger.Debug("Rate limit sweep completed",
			zap.Int("removed", removed),
			zap.Int("remaining", remaining))
	}
	return removed
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	close(s.stopCh)
	s.running = false

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Rate limit sweeper stopped")
	}
}

// IsRunning returns true if the sweep schedule is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled sweep time, or nil when stopped.
func (s *Sweeper) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.cron == nil {
		return nil
	}

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
