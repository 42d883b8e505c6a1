package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx, so repositories
// can run either standalone or inside a ledger transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner starts transactions.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store error classes.
var (
	// ErrConflict marks serialization failures, deadlocks and races on
	// guarded unique keys. The whole transaction can be retried.
	ErrConflict = errors.New("concurrency conflict")
	// ErrUnavailable marks connection loss and timeouts.
	ErrUnavailable = errors.New("store unavailable")
)

// Unique constraints whose violation means a concurrent writer won a race
// that a fresh attempt will observe.
var retryableConstraints = map[string]bool{
	"activity_records_slot_key":         true,
	"transactions_user_idempotency_key": true,
	"users_referral_code_key":           true,
	"users_telegram_id_key":             true,
	"commission_jobs_source_key":        true,
}

// Classify wraps err with ErrConflict or ErrUnavailable when it belongs to
// one of those classes and returns it unchanged otherwise.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case "23505":
			if retryableConstraints[pgErr.ConstraintName] {
				return fmt.Errorf("%w: %w", ErrConflict, err)
			}
			return err
		case "08000", "08003", "08006", "57P01", "57P02", "57P03", "53300":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique violation on constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// RetryPolicy bounds how long a ledger operation may take.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	OpTimeout  time.Duration
}

// Runner executes functions in serializable transactions with bounded retry.
type Runner struct {
	db      TxBeginner
	policy  RetryPolicy
	onRetry func(class string)
}

// NewRunner creates a Runner.
func NewRunner(db TxBeginner, policy RetryPolicy) *Runner {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 20 * time.Millisecond
	}
	if policy.OpTimeout <= 0 {
		policy.OpTimeout = 5 * time.Second
	}
	return &Runner{db: db, policy: policy}
}

// OnRetry registers a hook called with "conflict" or "unavailable" before each retry.
func (r *Runner) OnRetry(fn func(class string)) {
	r.onRetry = fn
}

// InTx runs fn inside a SERIALIZABLE transaction. fn may run more than once
// and must not have side effects outside tx. Each attempt is bounded by the
// policy's op timeout. After the retry budget is spent the classified error
// is returned.
func (r *Runner) InTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	backoff := retry.WithMaxRetries(r.policy.MaxRetries, retry.NewExponential(r.policy.BaseDelay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := Classify(r.attempt(ctx, fn))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrConflict):
			r.retrying("conflict", attempt, err)
			return retry.RetryableError(err)
		case errors.Is(err, ErrUnavailable):
			r.retrying("unavailable", attempt, err)
			return retry.RetryableError(err)
		}
		return err
	})
	return Classify(err)
}

func (r *Runner) retrying(class string, attempt int, err error) {
	log.Debug().Err(err).Str("class", class).Int("attempt", attempt).Msg("Retrying ledger transaction")
	if r.onRetry != nil {
		r.onRetry(class)
	}
}

func (r *Runner) attempt(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.policy.OpTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// No-op once committed.
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
