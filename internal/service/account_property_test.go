// Property-based tests for account helpers: referral codes, streaks and the
// check-in calendar.
package service

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestReferralCodeFormatProperty checks every generated code has the fixed
// length and only uses the unambiguous alphabet.
func TestReferralCodeFormatProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var id uuid.UUID
		copy(id[:], rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "bytes"))

		code := referralCodeFrom(id)
		if len(code) != ReferralCodeLength {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(referralAlphabet, r) {
				t.Fatalf("code %q contains %q", code, r)
			}
		}
		if NormalizeReferralCode(" "+strings.ToLower(code)+"\n") != code {
			t.Fatalf("normalizing %q changed it", code)
		}
	})
}

func TestGenerateReferralCode_Distinct(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		seen[GenerateReferralCode()] = true
	}
	// 32^8 codes; a collision in 1000 draws would point at a broken source.
	assert.Len(t, seen, 1000)
}

// TestStreakProperty builds a history of n consecutive days ending today or
// yesterday, preceded by a gap, and checks the streak equals n.
func TestStreakProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		today := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, rapid.IntRange(0, 365).Draw(t, "offset")).
			Add(time.Duration(rapid.IntRange(0, 86399).Draw(t, "second")) * time.Second)
		n := rapid.IntRange(0, 30).Draw(t, "n")
		endsYesterday := rapid.Bool().Draw(t, "endsYesterday")
		older := rapid.IntRange(0, 5).Draw(t, "older")

		end := UTCDay(today)
		if endsYesterday {
			end = end.AddDate(0, 0, -1)
		}
		var days []time.Time
		for i := 0; i < n; i++ {
			days = append(days, end.AddDate(0, 0, -i))
		}
		// Older activity after a one-day gap must not count. With no streak
		// the gap has to cover yesterday too, since a check-in yesterday
		// still counts while today is open.
		gap := 1
		if n == 0 {
			gap = 2
		}
		for i := 0; i < older; i++ {
			days = append(days, end.AddDate(0, 0, -n-gap-i))
		}

		if got := Streak(days, today); got != n {
			t.Fatalf("streak = %d, want %d (days=%v today=%v)", got, n, days, today)
		}
	})
}

func TestStreak_YesterdayOnlyCounts(t *testing.T) {
	today := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, Streak([]time.Time{today.AddDate(0, 0, -1)}, today))
}

func TestStreak_BrokenTwoDaysAgo(t *testing.T) {
	today := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	days := []time.Time{today.AddDate(0, 0, -2), today.AddDate(0, 0, -3)}
	assert.Equal(t, 0, Streak(days, today))
}

func TestWeekCalendar(t *testing.T) {
	today := time.Date(2026, 10, 15, 23, 59, 0, 0, time.UTC)
	days := []time.Time{
		time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}

	cal := WeekCalendar(days, today)
	assert.Len(t, cal, 7)
	assert.Equal(t, time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC), cal[0].Date)
	assert.True(t, cal[6].Today)
	assert.True(t, cal[6].CheckedIn)
	assert.False(t, cal[5].CheckedIn)
	assert.True(t, cal[4].CheckedIn)
	for _, d := range cal[:6] {
		assert.False(t, d.Today)
	}
}

func TestCleanDisplayName(t *testing.T) {
	assert.Equal(t, "Player", cleanDisplayName("   "))
	assert.Equal(t, "alice", cleanDisplayName(" alice "))
	assert.Equal(t, 64, len([]rune(cleanDisplayName(strings.Repeat("ж", 100)))))
}
