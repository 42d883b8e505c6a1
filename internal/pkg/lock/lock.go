// Package lock provides in-process per-user locking for ledger operations.
// It narrows contention before requests reach the database row locks; it is
// not a substitute for them across processes.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// userMutex is a channel-backed mutex so acquisition can be abandoned on
// context cancellation. refs counts holders and waiters; the entry is
// dropped from the map when it reaches zero.
type userMutex struct {
	token chan struct{}
	refs  int
}

// UserLock provides per-user locking.
type UserLock struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*userMutex
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{locks: make(map[uuid.UUID]*userMutex)}
}

func (ul *UserLock) ref(userID uuid.UUID) *userMutex {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	m, ok := ul.locks[userID]
	if !ok {
		m = &userMutex{token: make(chan struct{}, 1)}
		ul.locks[userID] = m
	}
	m.refs++
	return m
}

func (ul *UserLock) unref(userID uuid.UUID, m *userMutex) {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(ul.locks, userID)
	}
}

// Lock acquires the lock for a user, blocking until available.
func (ul *UserLock) Lock(userID uuid.UUID) {
	m := ul.ref(userID)
	m.token <- struct{}{}
}

// Unlock releases the lock for a user. Unlocking a user that is not locked is a no-op.
func (ul *UserLock) Unlock(userID uuid.UUID) {
	ul.mu.Lock()
	m, ok := ul.locks[userID]
	ul.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-m.token:
		ul.unref(userID, m)
	default:
	}
}

// TryLock attempts to acquire the lock without blocking.
func (ul *UserLock) TryLock(userID uuid.UUID) bool {
	m := ul.ref(userID)
	select {
	case m.token <- struct{}{}:
		return true
	default:
		ul.unref(userID, m)
		return false
	}
}

// LockContext acquires the lock or gives up when ctx is done.
func (ul *UserLock) LockContext(ctx context.Context, userID uuid.UUID) error {
	m := ul.ref(userID)
	select {
	case m.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		ul.unref(userID, m)
		return ctx.Err()
	}
}

// LockWithTimeout attempts to acquire the lock within timeout.
// Returns false if the timeout elapsed or ctx was cancelled first.
func (ul *UserLock) LockWithTimeout(ctx context.Context, userID uuid.UUID, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return ul.LockContext(ctx, userID) == nil
}

// WithLock executes fn while holding the user's lock.
func (ul *UserLock) WithLock(userID uuid.UUID, fn func() error) error {
	ul.Lock(userID)
	defer ul.Unlock(userID)
	return fn()
}

// WithLockContext executes fn while holding the user's lock, waiting at most
// timeout for it. Returns ErrLockTimeout if the lock was not acquired in time.
func (ul *UserLock) WithLockContext(ctx context.Context, userID uuid.UUID, timeout time.Duration, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ul.LockWithTimeout(ctx, userID, timeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrLockTimeout
	}
	defer ul.Unlock(userID)
	return fn()
}

// IsLocked checks if a user currently has an active lock.
// This is a point-in-time check and may change immediately after.
func (ul *UserLock) IsLocked(userID uuid.UUID) bool {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	m, ok := ul.locks[userID]
	return ok && len(m.token) == 1
}

// Len returns the number of users with a holder or waiter.
func (ul *UserLock) Len() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.locks)
}
