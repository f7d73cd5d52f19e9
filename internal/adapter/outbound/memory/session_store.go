// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/clibridge/clibridge/internal/domain/session"
)

// MemorySessionStore implements session.Store with an in-memory map.
// Thread-safe for concurrent access. Sessions do not survive a restart.
type MemorySessionStore struct {
	sessions map[string]*session.Session
	mu       sync.RWMutex
}

// Compile-time check that MemorySessionStore implements session.Store.
var _ session.Store = (*MemorySessionStore)(nil)

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*session.Session),
	}
}

// Get retrieves a copy of the session for userID.
func (s *MemorySessionStore) Get(_ context.Context, userID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Put creates or replaces the session for sess.UserID.
func (s *MemorySessionStore) Put(_ context.Context, sess *session.Session) error {
	if sess == nil || sess.UserID == "" {
		return errors.New("put session: user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = sess.Clone()
	return nil
}

// Delete removes the session for userID.
func (s *MemorySessionStore) Delete(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[userID]
	delete(s.sessions, userID)
	return ok, nil
}

// List returns copies of all sessions sorted by user ID.
func (s *MemorySessionStore) List(_ context.Context) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Len returns the number of sessions in the store.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
