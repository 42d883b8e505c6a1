package repository

import (
	"context"
	"fmt"
	"time"

	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
)

// StatsRepository computes platform-wide aggregates.
type StatsRepository struct {
	db db.DBTX
}

// NewStatsRepository creates a new StatsRepository instance.
func NewStatsRepository(conn db.DBTX) *StatsRepository {
	return &StatsRepository{db: conn}
}

// Snapshot returns platform statistics. A user is active when they have a
// ledger entry at or after activeSince.
func (r *StatsRepository) Snapshot(ctx context.Context, activeSince time.Time) (*model.Statistics, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(DISTINCT user_id) FROM transactions WHERE created_at >= $1),
			(SELECT COALESCE(SUM(amount), 0) FROM withdrawals WHERE status = 'completed'),
			(SELECT COUNT(*) FROM withdrawals WHERE status = 'completed'),
			(SELECT COALESCE(ROUND(AVG(total_earnings), 6), 0) FROM users)
	`

	var s model.Statistics
	err := r.db.QueryRow(ctx, query, activeSince).Scan(
		&s.Users,
		&s.ActiveUsers,
		&s.TotalPayouts,
		&s.CompletedWithdrawals,
		&s.AverageEarnings,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	return &s, nil
}
