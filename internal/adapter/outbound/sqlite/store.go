// Package sqlite provides a session store backed by a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/clibridge/clibridge/internal/domain/session"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id            TEXT PRIMARY KEY,
	continuation_token TEXT NOT NULL DEFAULT '',
	backend            TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	last_used_at       TEXT NOT NULL,
	message_count      INTEGER NOT NULL DEFAULT 0
)`

// SessionStore caches every row in memory and writes through to SQLite.
// The cache changes only after the database transaction commits.
type SessionStore struct {
	db       *sql.DB
	path     string
	mu       sync.RWMutex
	sessions map[string]*session.Session
	logger   *slog.Logger
}

// Compile-time check that SessionStore implements session.Store.
var _ session.Store = (*SessionStore)(nil)

// Open opens or creates the database at path and loads all sessions.
// A database that cannot be read is moved aside to path+".corrupt" and
// replaced with an empty one.
func Open(ctx context.Context, path string, logger *slog.Logger) (*SessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	s, err := open(ctx, path, logger)
	if err == nil {
		return s, nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, err
	}

	corruptPath := path + ".corrupt"
	if renameErr := os.Rename(path, corruptPath); renameErr != nil {
		return nil, errors.Join(err, fmt.Errorf("move corrupt database aside: %w", renameErr))
	}
	logger.Error("session database is unreadable, starting empty",
		"path", path, "moved_to", corruptPath, "error", err)
	return open(ctx, path, logger)
}

func open(ctx context.Context, path string, logger *slog.Logger) (*SessionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SessionStore{
		db:       db,
		path:     path,
		sessions: make(map[string]*session.Session),
		logger:   logger,
	}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		logger.Warn("failed to set permissions on session database", "error", err)
	}
	logger.Info("sessions loaded", "path", path, "count", len(s.sessions))
	return s, nil
}

func (s *SessionStore) init(ctx context.Context) error {
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		schema,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize session database: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, continuation_token, backend, created_at, last_used_at, message_count FROM sessions`)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			sess                sessionRow
			createdAt, lastUsed string
		)
		if err := rows.Scan(&sess.UserID, &sess.ContinuationToken, &sess.Backend, &createdAt, &lastUsed, &sess.MessageCount); err != nil {
			return fmt.Errorf("scan session: %w", err)
		}
		out, err := sess.toSession(createdAt, lastUsed)
		if err != nil {
			s.logger.Warn("skipping unreadable session row", "user_id", sess.UserID, "error", err)
			continue
		}
		s.sessions[out.UserID] = out
	}
	return rows.Err()
}

type sessionRow session.Session

func (r sessionRow) toSession(createdAt, lastUsed string) (*session.Session, error) {
	c, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	l, err := time.Parse(time.RFC3339Nano, lastUsed)
	if err != nil {
		return nil, fmt.Errorf("last_used_at: %w", err)
	}
	out := session.Session(r)
	out.CreatedAt = c.UTC()
	out.LastUsedAt = l.UTC()
	return &out, nil
}

// Get returns a copy of the cached session for userID.
func (s *SessionStore) Get(_ context.Context, userID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Put upserts sess in one transaction, then updates the cache.
func (s *SessionStore) Put(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.UserID == "" {
		return errors.New("put session: user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO sessions (user_id, continuation_token, backend, created_at, last_used_at, message_count)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	continuation_token = excluded.continuation_token,
	backend            = excluded.backend,
	created_at         = excluded.created_at,
	last_used_at       = excluded.last_used_at,
	message_count      = excluded.message_count`,
			sess.UserID, sess.ContinuationToken, sess.Backend,
			sess.CreatedAt.UTC().Format(time.RFC3339Nano),
			sess.LastUsedAt.UTC().Format(time.RFC3339Nano),
			sess.MessageCount)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", session.ErrPersistence, err)
	}

	s.sessions[sess.UserID] = sess.Clone()
	return nil
}

// Delete removes userID. Missing keys do not touch the database.
func (s *SessionStore) Delete(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[userID]; !ok {
		return false, nil
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", session.ErrPersistence, err)
	}

	delete(s.sessions, userID)
	return true, nil
}

// List returns copies of all cached sessions sorted by user ID.
func (s *SessionStore) List(_ context.Context) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Len returns the number of cached sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Path returns the database file path.
func (s *SessionStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

func (s *SessionStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
