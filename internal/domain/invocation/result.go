package invocation

import (
	"strings"
	"time"
	"unicode/utf8"
)

// TokenUsage counts tokens reported by the agent for one invocation.
type TokenUsage struct {
	Input         int64 `json:"input"`
	Output        int64 `json:"output"`
	CacheRead     int64 `json:"cache_read,omitempty"`
	CacheCreation int64 `json:"cache_creation,omitempty"`
}

// Total returns the sum of all counters.
func (u TokenUsage) Total() int64 {
	return u.Input + u.Output + u.CacheRead + u.CacheCreation
}

// Result is the uniform response to a submitted message.
type Result struct {
	Success      bool        `json:"success"`
	Result       string      `json:"result"`
	SessionToken string      `json:"session_token,omitempty"`
	Cost         *float64    `json:"cost_usd,omitempty"`
	DurationMs   int64       `json:"duration_ms"`
	Turns        *int        `json:"turns,omitempty"`
	Tokens       *TokenUsage `json:"tokens,omitempty"`
	Error        string      `json:"error,omitempty"`
	// Degraded is set when the result did not come from the structured path.
	Degraded bool `json:"degraded,omitempty"`
}

// Failure builds an unsuccessful Result carrying err's message.
func Failure(err error, elapsed time.Duration, maxChars int) Result {
	return Result{
		Success:    false,
		DurationMs: elapsed.Milliseconds(),
		Error:      Truncate(err.Error(), maxChars),
	}
}

// Output is what a finished agent process left behind.
type Output struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Truncate returns at most n runes of s. A non-positive n disables the limit.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	var b strings.Builder
	b.Grow(n)
	i := 0
	for _, r := range s {
		if i == n {
			break
		}
		b.WriteRune(r)
		i++
	}
	return b.String()
}
