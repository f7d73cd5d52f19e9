package session

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned when no live session exists for a user.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPersistence is returned when a mutation could not be made durable.
	// The store has already rolled its in-memory state back.
	ErrPersistence = errors.New("session persistence failed")
)

// Store persists sessions keyed by user ID.
// Implementations must be safe for concurrent use and must hand out copies.
type Store interface {
	// Get returns the session for userID or ErrSessionNotFound.
	Get(ctx context.Context, userID string) (*Session, error)

	// Put creates or replaces the session for sess.UserID. On a failed
	// durable write it returns an error wrapping ErrPersistence and keeps
	// the previously persisted value.
	Put(ctx context.Context, sess *Session) error

	// Delete removes the session for userID. Deleting a missing key is not
	// an error; the bool reports whether anything was removed.
	Delete(ctx context.Context, userID string) (bool, error)

	// List returns every stored session, expired or not.
	List(ctx context.Context) ([]*Session, error)

	// Len returns the number of stored sessions.
	Len() int
}
