package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/clibridge/clibridge/internal/domain/ratelimit"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
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

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewRateLimiter(WithClock(clock.Now))
	ctx := context.Background()
	cfg := ratelimit.Config{Rate: 60, Burst: 3, Period: time.Minute}

	for i := range 3 {
		res, err := limiter.Allow(ctx, "k", cfg)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied, want allowed within burst", i)
		}
		if want := 3 - (i + 1); res.Remaining != want {
			t.Errorf("request %d Remaining = %d, want %d", i, res.Remaining, want)
		}
	}

	res, _ := limiter.Allow(ctx, "k", cfg)
	if res.Allowed {
		t.Fatal("request past burst allowed")
	}
	if res.RetryAfter != time.Second {
		t.Errorf("RetryAfter = %v, want 1s", res.RetryAfter)
	}

	clock.Advance(time.Second)
	if res, _ := limiter.Allow(ctx, "k", cfg); !res.Allowed {
		t.Error("request after one emission interval denied")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewRateLimiter(WithClock(clock.Now))
	ctx := context.Background()
	cfg := ratelimit.Config{Rate: 1, Burst: 1, Period: time.Minute}

	if res, _ := limiter.Allow(ctx, "a", cfg); !res.Allowed {
		t.Fatal("first request for a denied")
	}
	if res, _ := limiter.Allow(ctx, "a", cfg); res.Allowed {
		t.Error("second request for a allowed")
	}
	if res, _ := limiter.Allow(ctx, "b", cfg); !res.Allowed {
		t.Error("first request for b denied")
	}
	if limiter.Size() != 2 {
		t.Errorf("Size() = %d, want 2", limiter.Size())
	}
}

func TestRateLimiter_ZeroConfigDefaults(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(WithClock(newFakeClock().Now))
	res, err := limiter.Allow(context.Background(), "k", ratelimit.Config{})
	if err != nil || !res.Allowed {
		t.Errorf("Allow(zero config) = %+v, %v; want allowed", res, err)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewRateLimiter(WithClock(clock.Now), WithCleanup(time.Minute, time.Hour))
	ctx := context.Background()
	cfg := ratelimit.Config{Rate: 10, Period: time.Second}

	_, _ = limiter.Allow(ctx, "old", cfg)
	clock.Advance(2 * time.Hour)
	_, _ = limiter.Allow(ctx, "new", cfg)

	if cleaned := limiter.cleanup(); cleaned != 1 {
		t.Errorf("cleanup() = %d, want 1", cleaned)
	}
	if limiter.Size() != 1 {
		t.Errorf("Size() = %d, want 1", limiter.Size())
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(WithClock(newFakeClock().Now))
	ctx := context.Background()
	cfg := ratelimit.Config{Rate: 50, Burst: 50, Period: time.Minute}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := limiter.Allow(ctx, "shared", cfg)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly the burst of 50", allowed)
	}
}

func TestRateLimiter_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewRateLimiter(WithCleanup(10*time.Millisecond, time.Millisecond))
	limiter.StartCleanup(context.Background())
	time.Sleep(30 * time.Millisecond)
	limiter.Stop()
	limiter.Stop()
}

func TestRateLimiter_StopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	limiter := NewRateLimiter(WithCleanup(10*time.Millisecond, time.Hour))
	limiter.StartCleanup(ctx)
	cancel()
	limiter.wg.Wait()
}
