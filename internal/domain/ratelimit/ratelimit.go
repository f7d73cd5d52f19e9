// Package ratelimit provides rate limiting domain types.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Config defines the rate limiting parameters.
type Config struct {
	// Rate is the number of allowed events in the period.
	Rate int
	// Burst is the maximum number of events that can occur at once.
	// Zero means Rate.
	Burst int
	// Period is the time window for Rate.
	Period time.Duration
}

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed bool
	// Remaining is how many more events would be allowed right now.
	Remaining int
	// RetryAfter is the wait before the next event is allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
	// ResetAfter is the wait until the full burst is available again.
	ResetAfter time.Duration
}

// Limiter decides whether the event identified by key may proceed.
//
// Implementations use GCRA (Generic Cell Rate Algorithm), which spreads
// events evenly over the period instead of resetting at window boundaries.
type Limiter interface {
	// Allow records one event for key if it is allowed under cfg.
	Allow(ctx context.Context, key string, cfg Config) (Result, error)
}

// KeyType identifies what a rate limit key is derived from.
type KeyType string

const (
	// KeyTypeIP limits by client address, before authentication.
	KeyTypeIP KeyType = "ip"
	// KeyTypeClient limits by authenticated API key name.
	KeyTypeClient KeyType = "client"
)

// FormatKey returns "ratelimit:{type}:{value}".
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("ratelimit:%s:%s", keyType, value)
}
