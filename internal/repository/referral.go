package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
)

// ReferralRepository persists referral edges.
type ReferralRepository struct {
	db db.DBTX
}

// NewReferralRepository creates a new ReferralRepository instance.
func NewReferralRepository(conn db.DBTX) *ReferralRepository {
	return &ReferralRepository{db: conn}
}

// WithTx returns a copy bound to tx.
func (r *ReferralRepository) WithTx(tx db.DBTX) *ReferralRepository {
	return &ReferralRepository{db: tx}
}

// CreateEdge inserts a referral edge.
func (r *ReferralRepository) CreateEdge(ctx context.Context, e model.ReferralEdge) error {
	const query = `
		INSERT INTO referral_edges (referrer_id, referred_id, level, is_active)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.db.Exec(ctx, query, e.ReferrerID, e.ReferredID, e.Level, e.IsActive); err != nil {
		return fmt.Errorf("failed to create referral edge: %w", err)
	}
	return nil
}

// GetDirectReferrer returns the level-1 edge pointing at referredID.
func (r *ReferralRepository) GetDirectReferrer(ctx context.Context, referredID uuid.UUID) (*model.ReferralEdge, error) {
	const query = `
		SELECT referrer_id, referred_id, level, is_active, created_at
		FROM referral_edges
		WHERE referred_id = $1 AND level = 1
	`

	var e model.ReferralEdge
	err := r.db.QueryRow(ctx, query, referredID).Scan(&e.ReferrerID, &e.ReferredID, &e.Level, &e.IsActive, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEdgeNotFound
		}
		return nil, fmt.Errorf("failed to get referrer: %w", err)
	}
	return &e, nil
}

// ListUpline returns every edge above referredID, nearest first.
func (r *ReferralRepository) ListUpline(ctx context.Context, referredID uuid.UUID) ([]model.ReferralEdge, error) {
	const query = `
		SELECT referrer_id, referred_id, level, is_active, created_at
		FROM referral_edges
		WHERE referred_id = $1
		ORDER BY level
	`

	rows, err := r.db.Query(ctx, query, referredID)
	if err != nil {
		return nil, fmt.Errorf("failed to list upline: %w", err)
	}
	defer rows.Close()

	var edges []model.ReferralEdge
	for rows.Next() {
		var e model.ReferralEdge
		if err := rows.Scan(&e.ReferrerID, &e.ReferredID, &e.Level, &e.IsActive, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// SetActive toggles an edge between referrer and referred at any level.
func (r *ReferralRepository) SetActive(ctx context.Context, referrerID, referredID uuid.UUID, active bool) error {
	const query = `
		UPDATE referral_edges SET is_active = $3
		WHERE referrer_id = $1 AND referred_id = $2
	`

	result, err := r.db.Exec(ctx, query, referrerID, referredID, active)
	if err != nil {
		return fmt.Errorf("failed to update referral edge: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrEdgeNotFound
	}
	return nil
}

// ReferredUser is one row of a referrer's downline.
type ReferredUser struct {
	UserID        uuid.UUID       `json:"user_id"`
	DisplayName   string          `json:"display_name"`
	Level         int             `json:"level"`
	IsActive      bool            `json:"is_active"`
	TotalEarnings decimal.Decimal `json:"total_earnings"`
	JoinedAt      time.Time       `json:"joined_at"`
}

// ListReferred returns a referrer's downline, newest first.
func (r *ReferralRepository) ListReferred(ctx context.Context, referrerID uuid.UUID, limit int) ([]ReferredUser, error) {
	const query = `
		SELECT u.id, u.display_name, e.level, e.is_active, u.total_earnings, e.created_at
		FROM referral_edges e
		JOIN users u ON u.id = e.referred_id
		WHERE e.referrer_id = $1
		ORDER BY e.created_at DESC, e.level
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, referrerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list referred users: %w", err)
	}
	defer rows.Close()

	var out []ReferredUser
	for rows.Next() {
		var ru ReferredUser
		if err := rows.Scan(&ru.UserID, &ru.DisplayName, &ru.Level, &ru.IsActive, &ru.TotalEarnings, &ru.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan referred user: %w", err)
		}
		out = append(out, ru)
	}
	return out, rows.Err()
}

// ReferralCounts aggregates a referrer's downline.
type ReferralCounts struct {
	Total   int         `json:"total"`
	Active  int         `json:"active"`
	ByLevel map[int]int `json:"by_level"`
}

// CountReferred aggregates a referrer's downline by level.
func (r *ReferralRepository) CountReferred(ctx context.Context, referrerID uuid.UUID) (*ReferralCounts, error) {
	const query = `
		SELECT level, COUNT(*), COUNT(*) FILTER (WHERE is_active)
		FROM referral_edges
		WHERE referrer_id = $1
		GROUP BY level
	`

	rows, err := r.db.Query(ctx, query, referrerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}
	defer rows.Close()

	counts := &ReferralCounts{ByLevel: make(map[int]int)}
	for rows.Next() {
		var level, total, active int
		if err := rows.Scan(&level, &total, &active); err != nil {
			return nil, fmt.Errorf("failed to scan referral count: %w", err)
		}
		counts.ByLevel[level] = total
		counts.Total += total
		counts.Active += active
	}
	return counts, rows.Err()
}
