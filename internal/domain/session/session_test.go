package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockStore is a simple in-memory Store for testing.
type mockStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	putErr   error
}

func newMockStore() *mockStore {
	return &mockStore{sessions: make(map[string]*Session)}
}

func (m *mockStore) Get(_ context.Context, userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[userID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (m *mockStore) Put(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.sessions[sess.UserID] = sess.Clone()
	return nil
}

func (m *mockStore) Delete(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[userID]
	delete(m.sessions, userID)
	return ok, nil
}

func (m *mockStore) List(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *mockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// fixedClock returns a Now func that can be advanced by tests.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(store Store) (*Service, *fixedClock) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(store, Config{MaxAge: 24 * time.Hour, Now: clock.Now}), clock
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(newMockStore(), Config{})
	if svc.MaxAge() != DefaultMaxAge {
		t.Errorf("MaxAge() = %v, want %v", svc.MaxAge(), DefaultMaxAge)
	}
}

func TestService_Record_NewChain(t *testing.T) {
	store := newMockStore()
	svc, clock := newTestService(store)
	ctx := context.Background()

	got, err := svc.Record(ctx, "alice", "claude", "tok-1", false)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if got.ContinuationToken != "tok-1" {
		t.Errorf("ContinuationToken = %q, want %q", got.ContinuationToken, "tok-1")
	}
	if got.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", got.MessageCount)
	}
	if !got.CreatedAt.Equal(clock.Now()) || !got.LastUsedAt.Equal(clock.Now()) {
		t.Errorf("timestamps = %v/%v, want %v", got.CreatedAt, got.LastUsedAt, clock.Now())
	}
}

func TestService_Record_ContinuesChain(t *testing.T) {
	store := newMockStore()
	svc, clock := newTestService(store)
	ctx := context.Background()

	first, err := svc.Record(ctx, "alice", "claude", "tok-1", false)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	clock.Advance(time.Hour)
	second, err := svc.Record(ctx, "alice", "claude", "tok-2", false)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if second.MessageCount != first.MessageCount+1 {
		t.Errorf("MessageCount = %d, want %d", second.MessageCount, first.MessageCount+1)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt = %v, want preserved %v", second.CreatedAt, first.CreatedAt)
	}
	if !second.LastUsedAt.Equal(clock.Now()) {
		t.Errorf("LastUsedAt = %v, want %v", second.LastUsedAt, clock.Now())
	}

	stored, err := svc.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.ContinuationToken != "tok-2" {
		t.Errorf("stored token = %q, want %q", stored.ContinuationToken, "tok-2")
	}
}

func TestService_Record_BackendSwitchStartsNewChain(t *testing.T) {
	svc, _ := newTestService(newMockStore())
	ctx := context.Background()

	if _, err := svc.Record(ctx, "alice", "claude", "tok-1", false); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	got, err := svc.Record(ctx, "alice", "gemini", "g-1", false)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if got.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1 after backend switch", got.MessageCount)
	}
}

func TestService_Record_FreshStartsNewChain(t *testing.T) {
	svc, clock := newTestService(newMockStore())
	ctx := context.Background()

	if _, err := svc.Record(ctx, "alice", "claude", "tok-1", false); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	clock.Advance(time.Minute)
	got, err := svc.Record(ctx, "alice", "claude", "tok-2", true)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if got.MessageCount != 1 || !got.CreatedAt.Equal(clock.Now()) {
		t.Errorf("fresh Record() = count %d created %v, want 1 at %v", got.MessageCount, got.CreatedAt, clock.Now())
	}
}

func TestService_Record_EmptyToken(t *testing.T) {
	svc, _ := newTestService(newMockStore())
	if _, err := svc.Record(context.Background(), "alice", "claude", "", false); err == nil {
		t.Error("Record() with empty token should fail")
	}
}

func TestService_Record_PersistenceError(t *testing.T) {
	store := newMockStore()
	store.putErr = fmt.Errorf("%w: disk full", ErrPersistence)
	svc, _ := newTestService(store)

	_, err := svc.Record(context.Background(), "alice", "claude", "tok-1", false)
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("Record() error = %v, want ErrPersistence", err)
	}
	if store.Len() != 0 {
		t.Errorf("store.Len() = %d, want 0", store.Len())
	}
}

func TestService_ResumeToken(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		advance time.Duration
		want    string
	}{
		{name: "live session", backend: "claude", want: "tok-1"},
		{name: "expired session", backend: "claude", advance: 25 * time.Hour, want: ""},
		{name: "other backend", backend: "codex", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, clock := newTestService(newMockStore())
			ctx := context.Background()
			if _, err := svc.Record(ctx, "alice", "claude", "tok-1", false); err != nil {
				t.Fatalf("Record() error = %v", err)
			}
			clock.Advance(tt.advance)

			got, err := svc.ResumeToken(ctx, "alice", tt.backend)
			if err != nil {
				t.Fatalf("ResumeToken() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResumeToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestService_ResumeToken_NoSession(t *testing.T) {
	svc, _ := newTestService(newMockStore())
	got, err := svc.ResumeToken(context.Background(), "nobody", "claude")
	if err != nil {
		t.Fatalf("ResumeToken() error = %v", err)
	}
	if got != "" {
		t.Errorf("ResumeToken() = %q, want empty", got)
	}
}

func TestService_Get_LazyExpiry(t *testing.T) {
	store := newMockStore()
	svc, clock := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Record(ctx, "alice", "claude", "tok-1", false); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	clock.Advance(25 * time.Hour)

	if _, err := svc.Get(ctx, "alice"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
	if store.Len() != 0 {
		t.Errorf("expired session still stored, Len() = %d", store.Len())
	}
}

func TestService_Delete_Idempotent(t *testing.T) {
	svc, _ := newTestService(newMockStore())
	ctx := context.Background()

	deleted, err := svc.Delete(ctx, "nobody")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deleted {
		t.Error("Delete() of missing session reported deleted = true")
	}

	if _, err := svc.Record(ctx, "alice", "claude", "tok-1", false); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	deleted, err = svc.Delete(ctx, "alice")
	if err != nil || !deleted {
		t.Errorf("Delete() = %v, %v; want true, nil", deleted, err)
	}
}

func TestService_Metadata(t *testing.T) {
	svc, clock := newTestService(newMockStore())
	ctx := context.Background()

	if _, err := svc.Metadata(ctx, "alice"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Metadata() error = %v, want ErrSessionNotFound", err)
	}

	if _, err := svc.Record(ctx, "alice", "claude", "tok-1", false); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	clock.Advance(90 * time.Second)

	md, err := svc.Metadata(ctx, "alice")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if !md.Exists {
		t.Error("Exists = false, want true")
	}
	if md.AgeSeconds != 90 || md.IdleSeconds != 90 {
		t.Errorf("age/idle = %d/%d, want 90/90", md.AgeSeconds, md.IdleSeconds)
	}
	if md.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", md.MessageCount)
	}
}

func TestService_List_SkipsExpiredAndSorts(t *testing.T) {
	store := newMockStore()
	svc, clock := newTestService(store)
	ctx := context.Background()

	old := &Session{
		UserID:            "old",
		ContinuationToken: "t",
		CreatedAt:         clock.Now().Add(-48 * time.Hour),
		LastUsedAt:        clock.Now().Add(-25 * time.Hour),
		MessageCount:      3,
	}
	if err := store.Put(ctx, old); err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"carol", "bob"} {
		if _, err := svc.Record(ctx, u, "claude", "tok-"+u, false); err != nil {
			t.Fatalf("Record(%s) error = %v", u, err)
		}
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	if list[0].UserID != "bob" || list[1].UserID != "carol" {
		t.Errorf("List() order = %s,%s; want bob,carol", list[0].UserID, list[1].UserID)
	}
}

func TestService_CountMatchesList(t *testing.T) {
	store := newMockStore()
	svc, clock := newTestService(store)
	ctx := context.Background()

	stale := &Session{
		UserID:            "stale",
		ContinuationToken: "t",
		CreatedAt:         clock.Now().Add(-30 * time.Hour),
		LastUsedAt:        clock.Now().Add(-25 * time.Hour),
		MessageCount:      1,
	}
	if err := store.Put(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Record(ctx, "fresh", "claude", "tok", false); err != nil {
		t.Fatal(err)
	}

	if got := svc.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1 (expired session excluded)", got)
	}
	list, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != svc.Count() {
		t.Errorf("len(List()) = %d, Count() = %d; want equal", len(list), svc.Count())
	}
	if store.Len() != 2 {
		t.Errorf("store.Len() = %d, want 2 before sweep", store.Len())
	}
}

func TestService_Sweep(t *testing.T) {
	store := newMockStore()
	svc, clock := newTestService(store)
	ctx := context.Background()

	stale := &Session{
		UserID:            "stale",
		ContinuationToken: "t",
		CreatedAt:         clock.Now().Add(-30 * time.Hour),
		LastUsedAt:        clock.Now().Add(-25 * time.Hour),
		MessageCount:      1,
	}
	if err := store.Put(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Record(ctx, "fresh", "claude", "tok", false); err != nil {
		t.Fatal(err)
	}

	removed, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep() removed = %d, want 1", removed)
	}
	if _, err := store.Get(ctx, "stale"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("stale session still present after sweep")
	}
	if _, err := store.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh session removed by sweep: %v", err)
	}
}

func TestSession_IsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Session{LastUsedAt: now.Add(-24 * time.Hour)}

	if s.IsExpired(now, 24*time.Hour) {
		t.Error("session idle exactly maxAge should not be expired")
	}
	if !s.IsExpired(now.Add(time.Second), 24*time.Hour) {
		t.Error("session idle past maxAge should be expired")
	}
	if s.IsExpired(now.Add(1000*time.Hour), 0) {
		t.Error("maxAge 0 should disable expiry")
	}
}
