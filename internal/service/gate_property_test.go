// Property-based tests for the daily-activity gate decision.
package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"cryptra/internal/model"
)

// TestQuotaNeverExceededProperty replays a random number of attempts against
// a limit and checks exactly min(attempts, limit) are allowed.
func TestQuotaNeverExceededProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 50).Draw(t, "limit")
		attempts := rapid.IntRange(0, 100).Draw(t, "attempts")

		used := 0
		for i := 0; i < attempts; i++ {
			d := DecideQuota(used, limit)
			if d.Allowed {
				used++
				continue
			}
			if used != limit {
				t.Fatalf("denied at used=%d below limit=%d", used, limit)
			}
			want := ReasonQuotaExhausted
			if limit == 1 {
				want = ReasonAlreadyCompletedToday
			}
			if d.Reason != want {
				t.Fatalf("reason = %s, want %s", d.Reason, want)
			}
		}

		if want := min(attempts, limit); used != want {
			t.Fatalf("allowed %d completions, want %d", used, want)
		}
	})
}

// TestUnlimitedQuotaProperty checks a zero limit never denies.
func TestUnlimitedQuotaProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		used := rapid.IntRange(0, 1_000_000).Draw(t, "used")
		if !DecideQuota(used, 0).Allowed {
			t.Fatalf("unlimited quota denied at %d", used)
		}
	})
}

// TestQuotaStatusProperty checks remaining is never negative and adds up.
func TestQuotaStatusProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(0, 50).Draw(t, "limit")
		used := rapid.IntRange(0, 60).Draw(t, "used")

		q := NewQuotaStatus(model.ActivityAdWatch, 0, used, limit)
		if limit == 0 {
			if q.Remaining != -1 {
				t.Fatalf("unlimited remaining = %d", q.Remaining)
			}
			return
		}
		if q.Remaining < 0 {
			t.Fatalf("remaining = %d", q.Remaining)
		}
		if used <= limit && q.Remaining+used != limit {
			t.Fatalf("remaining %d + used %d != limit %d", q.Remaining, used, limit)
		}
	})
}

func TestUTCDay(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// 02:00 IST on the 16th is still the 15th in UTC.
	got := UTCDay(time.Date(2026, 10, 16, 2, 0, 0, 0, ist))
	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestDeniedError(t *testing.T) {
	var err error = &DeniedError{Kind: model.ActivityCheckin, Reason: ReasonAlreadyCompletedToday, Used: 1, Limit: 1}
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.Contains(t, err.Error(), "already_completed_today")

	var denied *DeniedError
	assert.True(t, errors.As(err, &denied))
	assert.Equal(t, model.ActivityCheckin, denied.Kind)
}
