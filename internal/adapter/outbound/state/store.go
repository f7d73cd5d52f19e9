package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/clibridge/clibridge/internal/domain/session"
)

// FileSessionStore keeps every session in memory and mirrors the whole map
// to a JSON file on each mutation.
type FileSessionStore struct {
	path     string
	mu       sync.RWMutex
	sessions map[string]*session.Session
	logger   *slog.Logger
}

// Compile-time check that FileSessionStore implements session.Store.
var _ session.Store = (*FileSessionStore)(nil)

// Open loads the store at path. A missing file yields an empty store. A file
// that cannot be parsed is moved aside to path+".corrupt" and the store
// starts empty; only unreadable files fail.
func Open(path string, logger *slog.Logger) (*FileSessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	s := &FileSessionStore{
		path:     path,
		sessions: make(map[string]*session.Session),
		logger:   logger,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSessionStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("session file not found, starting empty", "path", s.path)
			return nil
		}
		return fmt.Errorf("read session file: %w", err)
	}

	// Skip on Windows where Unix permission bits are not meaningful.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			if mode := info.Mode().Perm(); mode&0077 != 0 {
				s.logger.Warn("session file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		s.quarantine(err)
		return nil
	}

	for userID, sess := range st.Sessions {
		if sess == nil || userID == "" {
			continue
		}
		if sess.UserID == "" {
			sess.UserID = userID
		}
		s.sessions[userID] = sess
	}
	s.logger.Info("sessions loaded", "path", s.path, "count", len(s.sessions))
	return nil
}

// quarantine moves an unparseable file aside so the next write cannot
// destroy it.
func (s *FileSessionStore) quarantine(parseErr error) {
	corruptPath := s.path + ".corrupt"
	if err := os.Rename(s.path, corruptPath); err != nil {
		s.logger.Error("session file is corrupt and could not be moved aside, starting empty",
			"path", s.path, "parse_error", parseErr, "error", err)
		return
	}
	s.logger.Error("session file is corrupt, starting empty",
		"path", s.path, "moved_to", corruptPath, "error", parseErr)
}

// Get returns a copy of the session for userID.
func (s *FileSessionStore) Get(_ context.Context, userID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Put stores sess and rewrites the file. On a failed write the previous
// value is restored in memory.
func (s *FileSessionStore) Put(_ context.Context, sess *session.Session) error {
	if sess == nil || sess.UserID == "" {
		return errors.New("put session: user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.sessions[sess.UserID]
	s.sessions[sess.UserID] = sess.Clone()

	if err := s.saveLocked(); err != nil {
		if existed {
			s.sessions[sess.UserID] = prev
		} else {
			delete(s.sessions, sess.UserID)
		}
		return fmt.Errorf("%w: %w", session.ErrPersistence, err)
	}
	return nil
}

// Delete removes userID. Missing keys do not touch the file.
func (s *FileSessionStore) Delete(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.sessions[userID]
	if !ok {
		return false, nil
	}
	delete(s.sessions, userID)

	if err := s.saveLocked(); err != nil {
		s.sessions[userID] = prev
		return false, fmt.Errorf("%w: %w", session.ErrPersistence, err)
	}
	return true, nil
}

// List returns copies of all sessions sorted by user ID.
func (s *FileSessionStore) List(_ context.Context) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Len returns the number of stored sessions.
func (s *FileSessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Path returns the configured file path.
func (s *FileSessionStore) Path() string {
	return s.path
}

// saveLocked writes the whole map to disk. Caller holds s.mu.
//
// The write sequence is:
//  1. Acquire flock on path+".lock"
//  2. Copy current file to path+".bak"
//  3. Write indented JSON to path+".tmp" with 0600 permissions and fsync
//  4. Rename path+".tmp" -> path
func (s *FileSessionStore) saveLocked() error {
	lf, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lf.Close() }()

	unlock, err := lockFile(lf)
	if err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer unlock()

	if currentData, readErr := os.ReadFile(s.path); readErr == nil {
		if writeErr := os.WriteFile(s.path+".bak", currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create session backup", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(fileState{
		Version:   stateVersion,
		Sessions:  s.sessions,
		UpdatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on session file", "error", err)
	}

	s.logger.Debug("sessions saved", "path", s.path, "count", len(s.sessions))
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over
// the target path. On any error the temp file is removed.
func (s *FileSessionStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to session file: %w", err)
	}
	return nil
}
