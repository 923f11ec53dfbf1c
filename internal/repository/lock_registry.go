package repository

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"account-transfers/internal/domain"
)

// keyLock is a mutual-exclusion handle whose acquisition honours context
// deadlines. Waiters are served in FIFO order.
type keyLock struct {
	sem *semaphore.Weighted
}

func newKeyLock() *keyLock {
	return &keyLock{sem: semaphore.NewWeighted(1)}
}

func (l *keyLock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *keyLock) Unlock() {
	l.sem.Release(1)
}

// LockRegistry hands out one lock per key, created on first use and kept for
// the lifetime of the registry.
type LockRegistry struct {
	mu     sync.Mutex
	locks  map[string]*keyLock
	shared *keyLock
}

// NewLockRegistry returns a registry with an independent lock per key.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*keyLock)}
}

// NewSingleLockRegistry returns a registry where every key shares one lock.
// All work guarded by it is serialized.
func NewSingleLockRegistry() *LockRegistry {
	return &LockRegistry{
		locks:  make(map[string]*keyLock),
		shared: newKeyLock(),
	}
}

// Get returns the lock for key, creating it if this is the first request.
// Concurrent first calls for the same key all observe the same handle.
func (r *LockRegistry) Get(key string) domain.LockHandle {
	if r.shared != nil {
		return r.shared
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lock, exists := r.locks[key]
	if !exists {
		lock = newKeyLock()
		r.locks[key] = lock
	}
	return lock
}

// Len reports how many distinct locks have been created.
func (r *LockRegistry) Len() int {
	if r.shared != nil {
		return 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
