// Package session holds the per-user continuation state that lets a
// stateless request resume a conversation with the agent executable.
package session

import "time"

// Session is one user's continuation state.
type Session struct {
	// UserID is the caller-supplied identity and the store key.
	UserID string `json:"user_id"`
	// ContinuationToken is issued by the agent executable. Empty until the
	// first decoded response that carried one.
	ContinuationToken string `json:"continuation_token,omitempty"`
	// Backend names the agent backend that issued ContinuationToken.
	Backend      string    `json:"backend,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	MessageCount int       `json:"message_count"`
}

// IsExpired reports whether the session has been idle longer than maxAge.
// A non-positive maxAge disables expiry.
func (s *Session) IsExpired(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(s.LastUsedAt) > maxAge
}

// ResumableBy reports whether the token can be handed to the given backend.
// Tokens issued before the backend was recorded are treated as compatible.
func (s *Session) ResumableBy(backend string) bool {
	if s.ContinuationToken == "" {
		return false
	}
	return s.Backend == "" || s.Backend == backend
}

// Clone returns a copy safe to hand across goroutines.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Metadata is the observable view of a session.
type Metadata struct {
	UserID       string    `json:"user_id"`
	Exists       bool      `json:"exists"`
	Backend      string    `json:"backend,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	AgeSeconds   int64     `json:"age_seconds"`
	IdleSeconds  int64     `json:"idle_seconds"`
}

// Metadata describes the session as seen at now.
func (s *Session) Metadata(now time.Time, maxAge time.Duration) Metadata {
	m := Metadata{
		UserID:       s.UserID,
		Exists:       true,
		Backend:      s.Backend,
		MessageCount: s.MessageCount,
		CreatedAt:    s.CreatedAt,
		LastUsedAt:   s.LastUsedAt,
		AgeSeconds:   int64(now.Sub(s.CreatedAt).Seconds()),
		IdleSeconds:  int64(now.Sub(s.LastUsedAt).Seconds()),
	}
	if maxAge > 0 {
		m.ExpiresAt = s.LastUsedAt.Add(maxAge)
	}
	return m
}
