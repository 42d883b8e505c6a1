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

const withdrawalColumns = `id, user_id, amount, fee, net_amount, method, destination, status,
	note, created_at, updated_at, resolved_at`

// WithdrawalRepository persists cash-out requests.
type WithdrawalRepository struct {
	db db.DBTX
}

// NewWithdrawalRepository creates a new WithdrawalRepository instance.
func NewWithdrawalRepository(conn db.DBTX) *WithdrawalRepository {
	return &WithdrawalRepository{db: conn}
}

// WithTx returns a copy bound to tx.
func (r *WithdrawalRepository) WithTx(tx db.DBTX) *WithdrawalRepository {
	return &WithdrawalRepository{db: tx}
}

func scanWithdrawal(row pgx.Row) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Amount,
		&w.Fee,
		&w.NetAmount,
		&w.Method,
		&w.Destination,
		&w.Status,
		&w.Note,
		&w.CreatedAt,
		&w.UpdatedAt,
		&w.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Create inserts a withdrawal in its initial status.
func (r *WithdrawalRepository) Create(ctx context.Context, w *model.Withdrawal) (*model.Withdrawal, error) {
	query := `
		INSERT INTO withdrawals (id, user_id, amount, fee, net_amount, method, destination, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + withdrawalColumns

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	created, err := scanWithdrawal(r.db.QueryRow(ctx, query,
		w.ID, w.UserID, w.Amount, w.Fee, w.NetAmount, w.Method, w.Destination, w.Status,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return created, nil
}

func (r *WithdrawalRepository) get(ctx context.Context, query string, id uuid.UUID) (*model.Withdrawal, error) {
	w, err := scanWithdrawal(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

// GetByID retrieves a withdrawal.
func (r *WithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Withdrawal, error) {
	return r.get(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id)
}

// GetForUpdate reads and locks a withdrawal.
func (r *WithdrawalRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Withdrawal, error) {
	return r.get(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id)
}

// UpdateStatus moves a withdrawal to status. Terminal statuses stamp resolved_at.
func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.WithdrawalStatus, note string) (*model.Withdrawal, error) {
	query := `
		UPDATE withdrawals
		SET status = $2,
			note = $3,
			updated_at = NOW(),
			resolved_at = CASE WHEN $2 IN ('completed', 'rejected') THEN NOW() ELSE resolved_at END
		WHERE id = $1
		RETURNING ` + withdrawalColumns

	w, err := scanWithdrawal(r.db.QueryRow(ctx, query, id, string(status), note))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("failed to update withdrawal: %w", err)
	}
	return w, nil
}

// ListByUser returns a user's withdrawals, newest first.
func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Withdrawal, error) {
	return r.list(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
}

// TotalWithdrawn sums a user's approved and completed withdrawals.
func (r *WithdrawalRepository) TotalWithdrawn(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM withdrawals
		WHERE user_id = $1 AND status IN ('approved', 'completed')`, userID,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum withdrawals: %w", err)
	}
	return total, nil
}

// ListByStatus returns withdrawals in status, oldest first.
func (r *WithdrawalRepository) ListByStatus(ctx context.Context, status model.WithdrawalStatus, limit int) ([]*model.Withdrawal, error) {
	return r.list(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2`, string(status), limit)
}

func (r *WithdrawalRepository) list(ctx context.Context, query string, args ...any) ([]*model.Withdrawal, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var out []*model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
