package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"cryptra/internal/model"
)

// RankingOptions configures the leaderboard.
type RankingOptions struct {
	DefaultLimit int
	MaxLimit     int
	CacheTTL     time.Duration
	ActiveWindow time.Duration
}

// ClampLimit maps a requested leaderboard size into [1, max]; non-positive
// requests get the default.
func (o RankingOptions) ClampLimit(limit int) int {
	if limit <= 0 {
		limit = o.DefaultLimit
	}
	if o.MaxLimit > 0 && limit > o.MaxLimit {
		limit = o.MaxLimit
	}
	return max(limit, 1)
}

type leaderboardSnapshot struct {
	entries []model.LeaderboardEntry
	// complete means every user fit into the snapshot.
	complete bool
	takenAt  time.Time
}

// take returns the first limit entries, or false when the snapshot cannot
// answer the request.
func (s *leaderboardSnapshot) take(limit int, now time.Time, ttl time.Duration) ([]model.LeaderboardEntry, bool) {
	if s == nil || now.Sub(s.takenAt) > ttl {
		return nil, false
	}
	if limit > len(s.entries) {
		if !s.complete {
			return nil, false
		}
		limit = len(s.entries)
	}
	out := make([]model.LeaderboardEntry, limit)
	copy(out, s.entries[:limit])
	return out, true
}

// RankingService serves the leaderboard and platform statistics.
type RankingService struct {
	stores Stores
	opts   RankingOptions
	clock  clockwork.Clock

	mu       sync.RWMutex
	snapshot *leaderboardSnapshot
}

// NewRankingService creates a RankingService.
func NewRankingService(stores Stores, opts RankingOptions, clock clockwork.Clock) *RankingService {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = 7 * 24 * time.Hour
	}
	return &RankingService{stores: stores, opts: opts, clock: clock}
}

// GetLeaderboard returns users by total earnings descending, ties broken by
// user id, ranked from 1. A fresh snapshot is served when it covers limit.
func (s *RankingService) GetLeaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	limit = s.opts.ClampLimit(limit)

	s.mu.RLock()
	entries, ok := s.snapshot.take(limit, s.clock.Now(), s.opts.CacheTTL)
	s.mu.RUnlock()
	if ok {
		return entries, nil
	}

	entries, err := s.stores.Users.GetTopByEarnings(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	return entries, nil
}

// Refresh rebuilds the snapshot with up to MaxLimit rows.
func (s *RankingService) Refresh(ctx context.Context) error {
	size := s.opts.ClampLimit(s.opts.MaxLimit)
	entries, err := s.stores.Users.GetTopByEarnings(ctx, size)
	if err != nil {
		return fmt.Errorf("failed to refresh leaderboard: %w", err)
	}

	s.mu.Lock()
	s.snapshot = &leaderboardSnapshot{
		entries:  entries,
		complete: len(entries) < size,
		takenAt:  s.clock.Now(),
	}
	s.mu.Unlock()

	log.Debug().Int("entries", len(entries)).Msg("Leaderboard snapshot refreshed")
	return nil
}

// GetUserRank returns one user's leaderboard position.
func (s *RankingService) GetUserRank(ctx context.Context, userID uuid.UUID) (*model.LeaderboardEntry, error) {
	return s.stores.Users.GetRank(ctx, userID)
}

// GetStatistics returns platform aggregates. Active users are those with a
// ledger entry inside the active window.
func (s *RankingService) GetStatistics(ctx context.Context) (*model.Statistics, error) {
	return s.stores.Stats.Snapshot(ctx, s.clock.Now().Add(-s.opts.ActiveWindow))
}
