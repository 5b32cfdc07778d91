// Package memory provides in-memory implementations of gatekeep's outbound
// ports: the rate limiter here, keyed per tool name.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gatekeep/gatekeep/internal/domain/ratelimit"
)

// SlidingWindowLimiter implements ratelimit.Limiter with a sliding window
// per tool: a bucket of call timestamps, evicted then checked then
// recorded, in that order, so a denied call is never itself recorded.
// Thread-safe for concurrent access. Idle per-tool buckets are dropped only
// while the background goroutine started by StartCleanup is running;
// without it the bucket map is never pruned.
type SlidingWindowLimiter struct {
	mu              sync.Mutex
	buckets         map[string][]time.Time
	now             func() time.Time
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewSlidingWindowLimiter creates a limiter using the real monotonic clock.
func NewSlidingWindowLimiter() *SlidingWindowLimiter {
	return newSlidingWindowLimiter(time.Now, 5*time.Minute)
}

// newSlidingWindowLimiter allows tests to inject a deterministic clock.
func newSlidingWindowLimiter(now func() time.Time, cleanupInterval time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		buckets:         make(map[string][]time.Time),
		now:             now,
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
}

// Check evicts timestamps older than ratelimit.WindowDuration from tool's
// bucket, then checks whether the remaining count is already at or above
// limit. If so, the call is denied and nothing is recorded. Otherwise the
// call is recorded and allowed.
func (l *SlidingWindowLimiter) Check(_ context.Context, tool string, limit int) (ratelimit.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-ratelimit.WindowDuration)

	bucket := evict(l.buckets[tool], cutoff)

	if len(bucket) >= limit {
		l.buckets[tool] = bucket
		return ratelimit.Result{Allowed: false, Count: len(bucket), Limit: limit},
			&ratelimit.Exceeded{Tool: tool, Limit: limit, Window: ratelimit.WindowDuration}
	}

	bucket = append(bucket, now)
	l.buckets[tool] = bucket

	return ratelimit.Result{Allowed: true, Count: len(bucket), Limit: limit}, nil
}

// evict drops timestamps at or before cutoff. Callers hold l.mu.
func evict(bucket []time.Time, cutoff time.Time) []time.Time {
	kept := bucket[:0]
	for _, t := range bucket {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// StartCleanup runs a background goroutine that periodically drops buckets
// that have gone entirely idle, bounding memory for a long-running process
// with many distinct tool names. It stops when ctx is cancelled or Stop is
// called.
func (l *SlidingWindowLimiter) StartCleanup(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopChan:
				return
			case <-ticker.C:
				l.cleanup()
			}
		}
	}()
}

func (l *SlidingWindowLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-ratelimit.WindowDuration)
	cleaned := 0
	for tool, bucket := range l.buckets {
		kept := evict(bucket, cutoff)
		if len(kept) == 0 {
			delete(l.buckets, tool)
			cleaned++
		} else {
			l.buckets[tool] = kept
		}
	}
	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed", "cleaned_tools", cleaned, "remaining_tools", len(l.buckets))
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call multiple times.
func (l *SlidingWindowLimiter) Stop() {
	l.once.Do(func() { close(l.stopChan) })
	l.wg.Wait()
}

// Size returns the number of tools currently tracked. Useful for tests.
func (l *SlidingWindowLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*SlidingWindowLimiter)(nil)
