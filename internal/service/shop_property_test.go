// Property-based tests for cart merging and leaderboard snapshots.
package service

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"cryptra/internal/model"
)

// TestMergeCartProperty checks merging keeps per-product totals, removes
// duplicates and sorts by product id.
func TestMergeCartProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		lines := make([]CartLine, n)
		want := map[int64]int{}
		for i := range lines {
			lines[i] = CartLine{
				ProductID: rapid.Int64Range(1, 5).Draw(t, "product"),
				Quantity:  rapid.IntRange(1, 10).Draw(t, "qty"),
			}
			want[lines[i].ProductID] += lines[i].Quantity
		}

		merged, err := MergeCart(lines)
		if err != nil {
			t.Fatalf("merge: %v", err)
		}
		if len(merged) != len(want) {
			t.Fatalf("got %d lines, want %d", len(merged), len(want))
		}
		for i, l := range merged {
			if l.Quantity != want[l.ProductID] {
				t.Fatalf("product %d qty %d, want %d", l.ProductID, l.Quantity, want[l.ProductID])
			}
			if i > 0 && merged[i-1].ProductID >= l.ProductID {
				t.Fatalf("lines not sorted: %v", merged)
			}
		}
	})
}

func TestMergeCart_Invalid(t *testing.T) {
	_, err := MergeCart(nil)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = MergeCart([]CartLine{{ProductID: 1, Quantity: 0}})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = MergeCart([]CartLine{{ProductID: 0, Quantity: 1}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestClampLimit(t *testing.T) {
	o := RankingOptions{DefaultLimit: 50, MaxLimit: 200}
	assert.Equal(t, 50, o.ClampLimit(0))
	assert.Equal(t, 50, o.ClampLimit(-3))
	assert.Equal(t, 10, o.ClampLimit(10))
	assert.Equal(t, 200, o.ClampLimit(1000))
}

func snapshotOf(n int, complete bool, at time.Time) *leaderboardSnapshot {
	s := &leaderboardSnapshot{complete: complete, takenAt: at}
	for i := 0; i < n; i++ {
		s.entries = append(s.entries, model.LeaderboardEntry{
			Rank: i + 1, UserID: uuid.New(), TotalEarnings: decimal.NewFromInt(int64(n - i)),
		})
	}
	return s
}

// TestSnapshotTakeProperty checks a fresh snapshot answers exactly when it
// holds enough rows or holds every user, and always returns a ranked prefix.
func TestSnapshotTakeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
		size := rapid.IntRange(0, 30).Draw(t, "size")
		complete := rapid.Bool().Draw(t, "complete")
		limit := rapid.IntRange(1, 40).Draw(t, "limit")
		age := time.Duration(rapid.IntRange(0, 300).Draw(t, "age")) * time.Second
		ttl := 2 * time.Minute

		snap := snapshotOf(size, complete, now.Add(-age))
		got, ok := snap.take(limit, now, ttl)

		wantOK := age <= ttl && (limit <= size || complete)
		if ok != wantOK {
			t.Fatalf("ok = %v, want %v (size=%d limit=%d complete=%v age=%v)", ok, wantOK, size, limit, complete, age)
		}
		if !ok {
			return
		}
		if len(got) != min(limit, size) {
			t.Fatalf("got %d entries, want %d", len(got), min(limit, size))
		}
		for i, e := range got {
			if e.Rank != i+1 {
				t.Fatalf("entry %d has rank %d", i, e.Rank)
			}
		}
	})
}

func TestSnapshotTake_Nil(t *testing.T) {
	var s *leaderboardSnapshot
	_, ok := s.take(10, time.Now(), time.Minute)
	assert.False(t, ok)
}

func TestLuckyDrawCost(t *testing.T) {
	cost, err := luckyDrawCost(10, 5, 100)
	assert.NoError(t, err)
	assert.Equal(t, int64(50), cost)

	cost, err = luckyDrawCost(10, 5000, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(50000), cost)

	_, err = luckyDrawCost(10, 0, 0)
	assert.ErrorIs(t, err, ErrValidation)
	assert.EqualError(t, err, "invalid request: entries must be at least 1")

	_, err = luckyDrawCost(10, 101, 100)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorContains(t, err, "between 1 and 100")

	_, err = luckyDrawCost(math.MaxInt64/2, 3, 0)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorContains(t, err, "overflows")
}
