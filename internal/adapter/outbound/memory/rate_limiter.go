package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clibridge/clibridge/internal/domain/ratelimit"
)

// Default cleanup settings for NewRateLimiter.
const (
	DefaultRateLimitCleanupInterval = 5 * time.Minute
	DefaultRateLimitMaxTTL          = time.Hour
)

// MemoryRateLimiter implements ratelimit.Limiter using GCRA in memory.
// Safe for concurrent use. A background cleanup drops idle keys.
type MemoryRateLimiter struct {
	cells           map[string]time.Time // theoretical arrival time per key
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// Compile-time check that MemoryRateLimiter implements ratelimit.Limiter.
var _ ratelimit.Limiter = (*MemoryRateLimiter)(nil)

// RateLimiterOption configures a MemoryRateLimiter.
type RateLimiterOption func(*MemoryRateLimiter)

// WithCleanup sets how often idle keys are dropped and how long a key may
// stay idle before it is.
func WithCleanup(interval, maxTTL time.Duration) RateLimiterOption {
	return func(r *MemoryRateLimiter) {
		if interval > 0 {
			r.cleanupInterval = interval
		}
		if maxTTL > 0 {
			r.maxTTL = maxTTL
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(r *MemoryRateLimiter) { r.now = now }
}

// WithRateLimiterLogger sets the limiter's logger.
func WithRateLimiterLogger(logger *slog.Logger) RateLimiterOption {
	return func(r *MemoryRateLimiter) { r.logger = logger }
}

// NewRateLimiter creates an in-memory rate limiter.
func NewRateLimiter(opts ...RateLimiterOption) *MemoryRateLimiter {
	r := &MemoryRateLimiter{
		cells:           make(map[string]time.Time),
		stopChan:        make(chan struct{}),
		cleanupInterval: DefaultRateLimitCleanupInterval,
		maxTTL:          DefaultRateLimitMaxTTL,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow records one event for key if the GCRA bucket has room.
func (r *MemoryRateLimiter) Allow(_ context.Context, key string, cfg ratelimit.Config) (ratelimit.Result, error) {
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	emission := cfg.Period / time.Duration(cfg.Rate)
	burstOffset := time.Duration(cfg.Burst) * emission

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	tat, ok := r.cells[key]
	if !ok || tat.Before(now) {
		tat = now
	}

	newTAT := tat.Add(emission)
	allowAt := newTAT.Add(-burstOffset)
	if now.Before(allowAt) {
		return ratelimit.Result{
			Allowed:    false,
			RetryAfter: allowAt.Sub(now),
			ResetAfter: tat.Sub(now),
		}, nil
	}
	r.cells[key] = newTAT

	remaining := int((burstOffset - newTAT.Sub(now)) / emission)
	remaining = max(0, min(remaining, cfg.Burst))

	return ratelimit.Result{
		Allowed:    true,
		Remaining:  remaining,
		ResetAfter: newTAT.Sub(now),
	}, nil
}

// StartCleanup drops idle keys every cleanup interval until ctx is
// cancelled or Stop is called.
func (r *MemoryRateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup removes keys whose arrival time is older than maxTTL.
func (r *MemoryRateLimiter) cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxTTL)
	cleaned := 0
	for key, tat := range r.cells {
		if tat.Before(cutoff) {
			delete(r.cells, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		r.logger.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.cells))
	}
	return cleaned
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *MemoryRateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the number of tracked keys.
func (r *MemoryRateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}
