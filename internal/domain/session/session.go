package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// DefaultMaxAge is how long an idle session stays resumable.
const DefaultMaxAge = 24 * time.Hour

// Config holds session service configuration.
type Config struct {
	// MaxAge is the idle duration after which a session expires. Default: 24 hours.
	MaxAge time.Duration
	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// Service applies expiry and bookkeeping rules on top of a Store.
type Service struct {
	store  Store
	maxAge time.Duration
	now    func() time.Time
}

// NewService creates a Service with the given store and config.
func NewService(store Store, cfg Config) *Service {
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:  store,
		maxAge: maxAge,
		now:    now,
	}
}

// MaxAge returns the configured expiry window.
func (s *Service) MaxAge() time.Duration {
	return s.maxAge
}

// Get returns the live session for userID.
// Returns ErrSessionNotFound if the session is missing or expired.
func (s *Service) Get(ctx context.Context, userID string) (*Session, error) {
	sess, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	// The sweeper may not have run yet.
	if sess.IsExpired(s.now().UTC(), s.maxAge) {
		_, _ = s.store.Delete(ctx, userID)
		return nil, ErrSessionNotFound
	}

	return sess, nil
}

// ResumeToken returns the continuation token to hand to backend for userID,
// or "" when the next invocation must start a fresh conversation.
func (s *Service) ResumeToken(ctx context.Context, userID, backend string) (string, error) {
	sess, err := s.Get(ctx, userID)
	if errors.Is(err, ErrSessionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !sess.ResumableBy(backend) {
		return "", nil
	}
	return sess.ContinuationToken, nil
}

// Record stores token as the user's continuation after a successful exchange.
// An existing live chain for the same backend keeps its CreatedAt and has its
// MessageCount incremented. A fresh exchange, an expired chain or a backend
// switch starts a new chain at 1.
func (s *Service) Record(ctx context.Context, userID, backend, token string, fresh bool) (*Session, error) {
	if token == "" {
		return nil, errors.New("record session: empty continuation token")
	}

	now := s.now().UTC()
	next := &Session{
		UserID:            userID,
		ContinuationToken: token,
		Backend:           backend,
		CreatedAt:         now,
		LastUsedAt:        now,
		MessageCount:      1,
	}

	prev, err := s.store.Get(ctx, userID)
	switch {
	case err == nil:
		if !fresh && !prev.IsExpired(now, s.maxAge) && (prev.Backend == "" || prev.Backend == backend) {
			next.CreatedAt = prev.CreatedAt
			next.MessageCount = prev.MessageCount + 1
			if next.CreatedAt.After(now) {
				next.CreatedAt = now
			}
		}
	case errors.Is(err, ErrSessionNotFound):
	default:
		return nil, fmt.Errorf("record session: %w", err)
	}

	if err := s.store.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}
	return next.Clone(), nil
}

// Delete removes the session for userID. Missing sessions are not an error.
func (s *Service) Delete(ctx context.Context, userID string) (bool, error) {
	return s.store.Delete(ctx, userID)
}

// Metadata returns the observable view of the user's live session.
func (s *Service) Metadata(ctx context.Context, userID string) (Metadata, error) {
	sess, err := s.Get(ctx, userID)
	if err != nil {
		return Metadata{UserID: userID}, err
	}
	return sess.Metadata(s.now().UTC(), s.maxAge), nil
}

// List returns metadata for every live session, sorted by user ID.
func (s *Service) List(ctx context.Context) ([]Metadata, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	out := make([]Metadata, 0, len(all))
	for _, sess := range all {
		if sess.IsExpired(now, s.maxAge) {
			continue
		}
		out = append(out, sess.Metadata(now, s.maxAge))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Count returns the number of live sessions, the same set List reports.
// If the store cannot be listed it falls back to the raw store size.
func (s *Service) Count() int {
	if s.maxAge <= 0 {
		return s.store.Len()
	}
	all, err := s.store.List(context.Background())
	if err != nil {
		return s.store.Len()
	}
	now := s.now().UTC()
	n := 0
	for _, sess := range all {
		if !sess.IsExpired(now, s.maxAge) {
			n++
		}
	}
	return n
}

// Sweep deletes every expired session and returns how many were removed.
// Failures on individual sessions do not stop the sweep; they are joined
// into the returned error.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep: list sessions: %w", err)
	}

	now := s.now().UTC()
	removed := 0
	var errs []error
	for _, sess := range all {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !sess.IsExpired(now, s.maxAge) {
			continue
		}
		deleted, err := s.store.Delete(ctx, sess.UserID)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %q: %w", sess.UserID, err))
			continue
		}
		if deleted {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}
