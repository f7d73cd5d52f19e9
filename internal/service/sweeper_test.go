package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/clibridge/clibridge/internal/adapter/outbound/memory"
	"github.com/clibridge/clibridge/internal/domain/session"
)

type sweepFunc func(ctx context.Context) (int, error)

func (f sweepFunc) Sweep(ctx context.Context) (int, error) { return f(ctx) }

// interval is a sub-second schedule; cron.Every rounds up to one second.
type interval time.Duration

func (i interval) Next(t time.Time) time.Time { return t.Add(time.Duration(i)) }

func TestParseSweepSchedule(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		expr    string
		next    time.Duration
		wantErr bool
	}{
		{expr: "", next: 30 * time.Minute},
		{expr: "10m", next: 10 * time.Minute},
		{expr: "@every 1h", next: time.Hour},
		{expr: "*/5 * * * *", next: 5 * time.Minute},
		{expr: "-1m", wantErr: true},
		{expr: "not a schedule", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sched, err := ParseSweepSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSweepSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := sched.Next(base).Sub(base); got != tt.next {
				t.Errorf("Next() - base = %v, want %v", got, tt.next)
			}
		})
	}
}

func TestSweeper_RunsEagerlyAndOnSchedule(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int32
	target := sweepFunc(func(context.Context) (int, error) {
		runs.Add(1)
		return 0, nil
	})
	sw := NewSweeper(target,
		WithSchedule(interval(10*time.Millisecond)),
		WithSweeperLogger(testLogger()))

	sw.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sw.Stop()
	sw.Stop()

	if got := runs.Load(); got < 3 {
		t.Errorf("sweep runs = %d, want at least 3", got)
	}
}

func TestSweeper_SurvivesErrorsAndPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int32
	target := sweepFunc(func(context.Context) (int, error) {
		switch runs.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return 0, errors.New("disk unavailable")
		default:
			return 1, nil
		}
	})
	sw := NewSweeper(target,
		WithSchedule(interval(5*time.Millisecond)),
		WithSweeperLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
	if got := runs.Load(); got < 3 {
		t.Errorf("sweep runs = %d, want at least 3 after failures", got)
	}
}

func TestSweeper_SweepOnceRemovesExpired(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	now := time.Now().UTC()

	for _, s := range []*session.Session{
		{UserID: "stale", ContinuationToken: "a", CreatedAt: now.Add(-30 * time.Hour), LastUsedAt: now.Add(-25 * time.Hour), MessageCount: 1},
		{UserID: "fresh", ContinuationToken: "b", CreatedAt: now, LastUsedAt: now, MessageCount: 1},
	} {
		if err := store.Put(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	svc := session.NewService(store, session.Config{MaxAge: 24 * time.Hour})
	sw := NewSweeper(svc, WithSweeperLogger(testLogger()))

	if removed := sw.SweepOnce(ctx); removed != 1 {
		t.Errorf("SweepOnce() = %d, want 1", removed)
	}
	if _, err := store.Get(ctx, "stale"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("stale session still present: %v", err)
	}
	if _, err := store.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh session removed: %v", err)
	}
}
