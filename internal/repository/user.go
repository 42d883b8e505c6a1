package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
)

const userColumns = `id, telegram_id, display_name, email, balance, coins, total_earnings,
	referral_code, referrer_id, created_at, updated_at`

// UserRepository handles user data persistence.
type UserRepository struct {
	db db.DBTX
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(conn db.DBTX) *UserRepository {
	return &UserRepository{db: conn}
}

// WithTx returns a copy bound to tx.
func (r *UserRepository) WithTx(tx db.DBTX) *UserRepository {
	return &UserRepository{db: tx}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.TelegramID,
		&u.DisplayName,
		&u.Email,
		&u.Balance,
		&u.Coins,
		&u.TotalEarnings,
		&u.ReferralCode,
		&u.ReferrerID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user with zero balances.
func (r *UserRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	query := `
		INSERT INTO users (id, telegram_id, display_name, email, referral_code, referrer_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	created, err := scanUser(r.db.QueryRow(ctx, query,
		u.ID, u.TelegramID, u.DisplayName, u.Email, u.ReferralCode, u.ReferrerID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg any) (*model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by id.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getOne(ctx, `id = $1`, id)
}

// GetByTelegramID retrieves the user bound to a Telegram account.
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return r.getOne(ctx, `telegram_id = $1`, telegramID)
}

// GetByReferralCode retrieves a user by referral code.
func (r *UserRepository) GetByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return r.getOne(ctx, `referral_code = $1`, code)
}

// GetForUpdate reads the user row and locks it until the transaction ends.
// Must be called on a transaction-bound repository.
func (r *UserRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getOne(ctx, `id = $1 FOR UPDATE`, id)
}

// ApplyDelta adds cash, coins and earnings deltas to the user and returns
// the updated row. The table's CHECK constraints reject negative results.
func (r *UserRepository) ApplyDelta(ctx context.Context, id uuid.UUID, cash decimal.Decimal, coins int64, earnings decimal.Decimal) (*model.User, error) {
	query := `
		UPDATE users
		SET balance = balance + $2,
			coins = coins + $3,
			total_earnings = total_earnings + $4,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRow(ctx, query, id, cash, coins, earnings))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	return u, nil
}

// UpdateDisplayName updates a user's display name.
func (r *UserRepository) UpdateDisplayName(ctx context.Context, id uuid.UUID, name string) error {
	const query = `UPDATE users SET display_name = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, name)
	if err != nil {
		return fmt.Errorf("failed to update display name: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetTopByEarnings returns the leaderboard ordered by total earnings,
// ties broken by user id.
func (r *UserRepository) GetTopByEarnings(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	const query = `
		SELECT ROW_NUMBER() OVER (ORDER BY total_earnings DESC, id ASC) AS rank,
			id, display_name, total_earnings
		FROM users
		ORDER BY total_earnings DESC, id ASC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.Rank, &e.UserID, &e.DisplayName, &e.TotalEarnings); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard: %w", err)
	}
	return entries, nil
}

// GetRank returns a single user's leaderboard position.
func (r *UserRepository) GetRank(ctx context.Context, id uuid.UUID) (*model.LeaderboardEntry, error) {
	const query = `
		SELECT rank, id, display_name, total_earnings FROM (
			SELECT ROW_NUMBER() OVER (ORDER BY total_earnings DESC, id ASC) AS rank,
				id, display_name, total_earnings
			FROM users
		) ranked
		WHERE id = $1
	`

	var e model.LeaderboardEntry
	err := r.db.QueryRow(ctx, query, id).Scan(&e.Rank, &e.UserID, &e.DisplayName, &e.TotalEarnings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get rank: %w", err)
	}
	return &e, nil
}
