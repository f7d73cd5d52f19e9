package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the expiry sweep every 30 minutes.
const DefaultSweepSchedule = "@every 30m"

// Sweepable is the part of session.Service the sweeper drives.
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}

// ParseSweepSchedule accepts a Go duration ("30m"), a descriptor
// ("@every 30m", "@hourly") or a five-field cron expression.
// An empty string yields DefaultSweepSchedule.
func ParseSweepSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	if d, err := time.ParseDuration(expr); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("sweep interval must be positive, got %s", d)
		}
		expr = "@every " + d.String()
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Sweeper periodically removes expired sessions. A failing or panicking
// cycle is logged and the next one runs as scheduled.
type Sweeper struct {
	target   Sweepable
	schedule cron.Schedule
	logger   *slog.Logger
	now      func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSchedule sets the sweep schedule. Default: every 30 minutes.
func WithSchedule(s cron.Schedule) SweeperOption {
	return func(sw *Sweeper) {
		if s != nil {
			sw.schedule = s
		}
	}
}

// WithSweeperLogger sets the logger.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(sw *Sweeper) {
		if logger != nil {
			sw.logger = logger
		}
	}
}

// NewSweeper creates a sweeper for target.
func NewSweeper(target Sweepable, opts ...SweeperOption) *Sweeper {
	def, _ := cron.ParseStandard(DefaultSweepSchedule)
	sw := &Sweeper{
		target:   target,
		schedule: def,
		logger:   slog.Default(),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Run sweeps once immediately and then on every scheduled tick until ctx
// is cancelled or Stop is called. It always returns nil on shutdown.
func (sw *Sweeper) Run(ctx context.Context) error {
	sw.SweepOnce(ctx)

	for {
		next := sw.schedule.Next(sw.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-sw.stopChan:
			timer.Stop()
			return nil
		case <-timer.C:
			sw.SweepOnce(ctx)
		}
	}
}

// Start runs the sweeper in a background goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	sw.wg.Add(1)
	go func() {
		defer sw.wg.Done()
		_ = sw.Run(ctx)
	}()
}

// Stop signals the sweeper to exit and waits for it.
// Safe to call multiple times.
func (sw *Sweeper) Stop() {
	sw.once.Do(func() {
		close(sw.stopChan)
	})
	sw.wg.Wait()
}

// SweepOnce runs a single cycle and returns the number of removed sessions.
// Panics are recovered and logged.
func (sw *Sweeper) SweepOnce(ctx context.Context) (removed int) {
	defer func() {
		if r := recover(); r != nil {
			sw.logger.Error("session sweep panicked", "panic", r)
			removed = 0
		}
	}()

	removed, err := sw.target.Sweep(ctx)
	if err != nil {
		sw.logger.Error("session sweep failed", "removed", removed, "error", err)
		return removed
	}
	if removed > 0 {
		sw.logger.Info("expired sessions removed", "count", removed)
	} else {
		sw.logger.Debug("session sweep completed, nothing expired")
	}
	return removed
}
