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

const transactionColumns = `id, user_id, amount, coins, kind, description, idempotency_key,
	metadata, balance_after, coins_after, created_at`

// TransactionRepository handles the append-only ledger.
type TransactionRepository struct {
	db db.DBTX
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(conn db.DBTX) *TransactionRepository {
	return &TransactionRepository{db: conn}
}

// WithTx returns a copy bound to tx.
func (r *TransactionRepository) WithTx(tx db.DBTX) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Amount,
		&t.Coins,
		&t.Kind,
		&t.Description,
		&t.IdempotencyKey,
		&t.Metadata,
		&t.BalanceAfter,
		&t.CoinsAfter,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]*model.Transaction, error) {
	defer rows.Close()

	var txs []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

// Create appends a ledger entry. A duplicate (user, idempotency key)
// surfaces as a unique violation on transactions_user_idempotency_key.
func (r *TransactionRepository) Create(ctx context.Context, t *model.Transaction) (*model.Transaction, error) {
	query := `
		INSERT INTO transactions (user_id, amount, coins, kind, description, idempotency_key,
			metadata, balance_after, coins_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + transactionColumns

	created, err := scanTransaction(r.db.QueryRow(ctx, query,
		t.UserID, t.Amount, t.Coins, t.Kind, t.Description, t.IdempotencyKey,
		t.Metadata, t.BalanceAfter, t.CoinsAfter,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return created, nil
}

// GetByID retrieves a transaction by id.
func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// GetByIdempotencyKey finds a prior entry written under key for the user.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*model.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by key: %w", err)
	}
	return t, nil
}

// GetByUserID retrieves a user's transactions, newest first.
// An empty kind matches all kinds.
func (r *TransactionRepository) GetByUserID(ctx context.Context, userID uuid.UUID, kind model.TxKind, limit int) ([]*model.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, userID, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	return collectTransactions(rows)
}

// SumByKindSince totals a user's cash for one kind since the given instant.
func (r *TransactionRepository) SumByKindSince(ctx context.Context, userID uuid.UUID, kind model.TxKind, since time.Time) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE user_id = $1 AND kind = $2 AND created_at >= $3
	`

	var total decimal.Decimal
	if err := r.db.QueryRow(ctx, query, userID, kind, since).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return total, nil
}

// LedgerMismatch is a user whose stored balances disagree with the ledger.
type LedgerMismatch struct {
	UserID      uuid.UUID       `json:"user_id"`
	Balance     decimal.Decimal `json:"balance"`
	LedgerCash  decimal.Decimal `json:"ledger_cash"`
	Coins       int64           `json:"coins"`
	LedgerCoins int64           `json:"ledger_coins"`
}

// FindLedgerMismatches returns every user whose balance or coins differ
// from the sum of their transactions.
func (r *TransactionRepository) FindLedgerMismatches(ctx context.Context) ([]LedgerMismatch, error) {
	const query = `
		SELECT u.id, u.balance, COALESCE(t.cash, 0), u.coins, COALESCE(t.coins, 0)
		FROM users u
		LEFT JOIN (
			SELECT user_id, SUM(amount) AS cash, SUM(coins) AS coins
			FROM transactions
			GROUP BY user_id
		) t ON t.user_id = u.id
		WHERE u.balance <> COALESCE(t.cash, 0) OR u.coins <> COALESCE(t.coins, 0)
		ORDER BY u.id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile ledger: %w", err)
	}
	defer rows.Close()

	var out []LedgerMismatch
	for rows.Next() {
		var m LedgerMismatch
		if err := rows.Scan(&m.UserID, &m.Balance, &m.LedgerCash, &m.Coins, &m.LedgerCoins); err != nil {
			return nil, fmt.Errorf("failed to scan mismatch: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountUsers returns the number of users, for audit reports.
func (r *TransactionRepository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
