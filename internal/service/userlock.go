package service

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"
)

const userLockShards = 32

// userLocks serializes work per user ID. Entries are reference counted and
// removed once no caller holds or waits on them.
type userLocks struct {
	shards [userLockShards]userLockShard
}

type userLockShard struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newUserLocks() *userLocks {
	l := &userLocks{}
	for i := range l.shards {
		l.shards[i].locks = make(map[string]*userLock)
	}
	return l
}

func (l *userLocks) shard(userID string) *userLockShard {
	return &l.shards[xxhash.Sum64String(userID)%userLockShards]
}

// Acquire blocks until the caller holds the lock for userID or ctx is done.
// The returned release func must be called exactly once on success.
func (l *userLocks) Acquire(ctx context.Context, userID string) (func(), error) {
	sh := l.shard(userID)

	sh.mu.Lock()
	ul, ok := sh.locks[userID]
	if !ok {
		ul = &userLock{sem: semaphore.NewWeighted(1)}
		sh.locks[userID] = ul
	}
	ul.refs++
	sh.mu.Unlock()

	if err := ul.sem.Acquire(ctx, 1); err != nil {
		sh.unref(userID, ul)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ul.sem.Release(1)
			sh.unref(userID, ul)
		})
	}, nil
}

func (sh *userLockShard) unref(userID string, ul *userLock) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(sh.locks, userID)
	}
}

// Len returns the number of user IDs currently held or waited on.
func (l *userLocks) Len() int {
	n := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		n += len(sh.locks)
		sh.mu.Unlock()
	}
	return n
}
