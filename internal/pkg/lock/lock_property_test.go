package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"pgregory.net/rapid"
)

func drawUserID(t *rapid.T, label string) uuid.UUID {
	var id uuid.UUID
	copy(id[:], rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, label))
	return id
}

// TestConcurrentBalanceSafetyProperty checks that read-modify-write updates
// under the lock end at the sequential result.
func TestConcurrentBalanceSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initialBalance := rapid.Int64Range(1000, 100000).Draw(t, "initialBalance")
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")

		amounts := make([]int64, numOps)
		expected := initialBalance
		for i := range amounts {
			amounts[i] = rapid.Int64Range(-500, 500).Draw(t, "amount")
			expected += amounts[i]
		}

		userID := drawUserID(t, "userID")
		ul := NewUserLock()
		balance := initialBalance

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, amount := range amounts {
			go func(amount int64) {
				defer wg.Done()
				ul.Lock(userID)
				defer ul.Unlock(userID)
				balance += amount
			}(amount)
		}
		wg.Wait()

		if balance != expected {
			t.Fatalf("balance mismatch: expected %d, got %d", expected, balance)
		}
		if ul.Len() != 0 {
			t.Fatalf("expected lock table to drain, %d entries left", ul.Len())
		}
	})
}

// TestWithLockContextSerializesProperty checks WithLockContext under contention.
func TestWithLockContextSerializesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numOps := rapid.IntRange(5, 30).Draw(t, "numOps")
		perOp := rapid.Int64Range(1, 100).Draw(t, "perOp")
		userID := drawUserID(t, "userID")

		ul := NewUserLock()
		var balance int64
		var inside atomic.Int32

		var wg sync.WaitGroup
		wg.Add(numOps)
		for i := 0; i < numOps; i++ {
			go func() {
				defer wg.Done()
				err := ul.WithLockContext(context.Background(), userID, 5*time.Second, func() error {
					if inside.Add(1) != 1 {
						panic("two holders inside critical section")
					}
					balance += perOp
					inside.Add(-1)
					return nil
				})
				if err != nil {
					panic(err)
				}
			}()
		}
		wg.Wait()

		if balance != int64(numOps)*perOp {
			t.Fatalf("expected %d, got %d", int64(numOps)*perOp, balance)
		}
	})
}

// TestMultipleUsersIndependentLocksProperty checks that one user's lock never blocks another's.
func TestMultipleUsersIndependentLocksProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numUsers := rapid.IntRange(2, 10).Draw(t, "numUsers")
		ul := NewUserLock()

		users := make([]uuid.UUID, numUsers)
		for i := range users {
			users[i] = uuid.New()
		}

		ul.Lock(users[0])
		defer ul.Unlock(users[0])

		for _, other := range users[1:] {
			if !ul.TryLock(other) {
				t.Fatalf("user %s blocked by an unrelated holder", other)
			}
			ul.Unlock(other)
		}
	})
}

// TestTryLockExclusiveProperty checks TryLock admits exactly one holder at a time.
func TestTryLockExclusiveProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := drawUserID(t, "userID")
		numAttempts := rapid.IntRange(5, 20).Draw(t, "numAttempts")

		ul := NewUserLock()
		ul.Lock(userID)

		var successes atomic.Int32
		var wg sync.WaitGroup
		wg.Add(numAttempts)
		for i := 0; i < numAttempts; i++ {
			go func() {
				defer wg.Done()
				if ul.TryLock(userID) {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()

		if successes.Load() != 0 {
			t.Fatalf("TryLock succeeded %d times while held", successes.Load())
		}
		ul.Unlock(userID)

		if !ul.TryLock(userID) {
			t.Fatal("lock should be available after release")
		}
		ul.Unlock(userID)
		if ul.IsLocked(userID) {
			t.Fatal("lock should report free")
		}
	})
}

// TestLockUnlockSymmetryProperty checks repeated cycles leave the lock free and the table empty.
func TestLockUnlockSymmetryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := drawUserID(t, "userID")
		numCycles := rapid.IntRange(1, 50).Draw(t, "numCycles")

		ul := NewUserLock()
		for i := 0; i < numCycles; i++ {
			ul.Lock(userID)
			ul.Unlock(userID)
		}

		if !ul.TryLock(userID) {
			t.Fatal("lock should be available after symmetric cycles")
		}
		ul.Unlock(userID)
		if ul.Len() != 0 {
			t.Fatalf("expected empty lock table, got %d", ul.Len())
		}
	})
}

func TestWithLockContext_Timeout(t *testing.T) {
	ul := NewUserLock()
	id := uuid.New()
	ul.Lock(id)

	err := ul.WithLockContext(context.Background(), id, 20*time.Millisecond, func() error {
		t.Fatal("must not run without the lock")
		return nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	ul.Unlock(id)
	if ul.Len() != 0 {
		t.Fatalf("abandoned waiter should not pin the entry, got %d", ul.Len())
	}
}

func TestWithLockContext_Cancelled(t *testing.T) {
	ul := NewUserLock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ul.WithLockContext(ctx, uuid.New(), time.Second, func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
