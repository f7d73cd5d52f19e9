// Package service contains application services.
package service

import (
	"sync"
	"sync/atomic"

	"github.com/clibridge/clibridge/internal/domain/invocation"
)

// StatsService tracks bridge statistics using lock-free atomic counters.
// All counter operations are safe for concurrent access from multiple goroutines.
type StatsService struct {
	submits           atomic.Int64
	decoded           atomic.Int64
	degraded          atomic.Int64
	failed            atomic.Int64
	timeouts          atomic.Int64
	spawnErrors       atomic.Int64
	validationErrors  atomic.Int64
	persistenceErrors atomic.Int64
	inputTokens       atomic.Int64
	outputTokens      atomic.Int64

	// Cost and per-tier counters (mutex-protected).
	mu         sync.Mutex
	costUSD    float64
	tierCounts map[string]int64
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{
		tierCounts: make(map[string]int64),
	}
}

// RecordSubmit increments the submitted-message counter.
func (s *StatsService) RecordSubmit() {
	s.submits.Add(1)
}

// RecordOutcome counts a decoded invocation by tag and tier and adds its
// cost and token usage.
func (s *StatsService) RecordOutcome(o invocation.Outcome) {
	switch o.Tag {
	case invocation.Decoded:
		s.decoded.Add(1)
	case invocation.Degraded:
		s.degraded.Add(1)
	case invocation.Failed:
		s.failed.Add(1)
	}
	if t := o.Result.Tokens; t != nil {
		s.inputTokens.Add(t.Input)
		s.outputTokens.Add(t.Output)
	}

	s.mu.Lock()
	if o.Tier != "" {
		s.tierCounts[o.Tier]++
	}
	if c := o.Result.Cost; c != nil {
		s.costUSD += *c
	}
	s.mu.Unlock()
}

// RecordTimeout increments the timeout counter.
func (s *StatsService) RecordTimeout() {
	s.timeouts.Add(1)
}

// RecordSpawnError increments the spawn-failure counter.
func (s *StatsService) RecordSpawnError() {
	s.spawnErrors.Add(1)
}

// RecordValidationError increments the rejected-request counter.
func (s *StatsService) RecordValidationError() {
	s.validationErrors.Add(1)
}

// RecordPersistenceError increments the failed-session-write counter.
func (s *StatsService) RecordPersistenceError() {
	s.persistenceErrors.Add(1)
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Submits           int64            `json:"submits"`
	Decoded           int64            `json:"decoded"`
	Degraded          int64            `json:"degraded"`
	Failed            int64            `json:"failed"`
	Timeouts          int64            `json:"timeouts"`
	SpawnErrors       int64            `json:"spawn_errors"`
	ValidationErrors  int64            `json:"validation_errors"`
	PersistenceErrors int64            `json:"persistence_errors"`
	InputTokens       int64            `json:"input_tokens"`
	OutputTokens      int64            `json:"output_tokens"`
	CostUSD           float64          `json:"cost_usd"`
	TierCounts        map[string]int64 `json:"tier_counts"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	tiers := make(map[string]int64, len(s.tierCounts))
	for k, v := range s.tierCounts {
		tiers[k] = v
	}
	cost := s.costUSD
	s.mu.Unlock()

	return Stats{
		Submits:           s.submits.Load(),
		Decoded:           s.decoded.Load(),
		Degraded:          s.degraded.Load(),
		Failed:            s.failed.Load(),
		Timeouts:          s.timeouts.Load(),
		SpawnErrors:       s.spawnErrors.Load(),
		ValidationErrors:  s.validationErrors.Load(),
		PersistenceErrors: s.persistenceErrors.Load(),
		InputTokens:       s.inputTokens.Load(),
		OutputTokens:      s.outputTokens.Load(),
		CostUSD:           cost,
		TierCounts:        tiers,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	for _, c := range []*atomic.Int64{
		&s.submits, &s.decoded, &s.degraded, &s.failed, &s.timeouts,
		&s.spawnErrors, &s.validationErrors, &s.persistenceErrors,
		&s.inputTokens, &s.outputTokens,
	} {
		c.Store(0)
	}

	s.mu.Lock()
	s.costUSD = 0
	s.tierCounts = make(map[string]int64)
	s.mu.Unlock()
}
