package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
)

const commissionColumns = `id, source_transaction_id, earner_id, amount, source_kind, status,
	attempts, next_attempt_at, last_error, created_at`

// CommissionRepository is the referral fan-out outbox.
type CommissionRepository struct {
	db db.DBTX
}

// NewCommissionRepository creates a new CommissionRepository instance.
func NewCommissionRepository(conn db.DBTX) *CommissionRepository {
	return &CommissionRepository{db: conn}
}

// WithTx returns a copy bound to tx.
func (r *CommissionRepository) WithTx(tx db.DBTX) *CommissionRepository {
	return &CommissionRepository{db: tx}
}

func scanCommissionJob(row pgx.Row) (*model.CommissionJob, error) {
	var j model.CommissionJob
	err := row.Scan(&j.ID, &j.SourceTransactionID, &j.EarnerID, &j.Amount, &j.SourceKind,
		&j.Status, &j.Attempts, &j.NextAttemptAt, &j.LastError, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Enqueue writes a pending job. Must run in the same transaction as the
// earning it fans out.
func (r *CommissionRepository) Enqueue(ctx context.Context, j *model.CommissionJob) (*model.CommissionJob, error) {
	query := `
		INSERT INTO commission_jobs (source_transaction_id, earner_id, amount, source_kind)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + commissionColumns

	created, err := scanCommissionJob(r.db.QueryRow(ctx, query, j.SourceTransactionID, j.EarnerID, j.Amount, j.SourceKind))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue commission job: %w", err)
	}
	return created, nil
}

// ClaimForUpdate locks a pending job. Returns ErrJobNotFound when the job
// does not exist, is no longer pending, or another worker holds it.
func (r *CommissionRepository) ClaimForUpdate(ctx context.Context, id int64) (*model.CommissionJob, error) {
	j, err := scanCommissionJob(r.db.QueryRow(ctx, `
		SELECT `+commissionColumns+`
		FROM commission_jobs
		WHERE id = $1 AND status = 'pending'
		FOR UPDATE SKIP LOCKED`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to claim commission job: %w", err)
	}
	return j, nil
}

// GetByID retrieves a job regardless of status.
func (r *CommissionRepository) GetByID(ctx context.Context, id int64) (*model.CommissionJob, error) {
	j, err := scanCommissionJob(r.db.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commission_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get commission job: %w", err)
	}
	return j, nil
}

// ListDue returns ids of pending jobs whose next attempt is due.
func (r *CommissionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	const query = `
		SELECT id FROM commission_jobs
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at, id
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due commission jobs: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// MarkDone completes a job.
func (r *CommissionRepository) MarkDone(ctx context.Context, id int64) error {
	const query = `
		UPDATE commission_jobs
		SET status = 'done', attempts = attempts + 1, last_error = '', updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to complete commission job: %w", err)
	}
	return nil
}

// MarkAttemptFailed records a failed attempt. The job stays pending until
// next, or becomes failed when giveUp is set.
func (r *CommissionRepository) MarkAttemptFailed(ctx context.Context, id int64, next time.Time, lastErr string, giveUp bool) error {
	status := model.CommissionPending
	if giveUp {
		status = model.CommissionFailed
	}

	const query = `
		UPDATE commission_jobs
		SET status = $2, attempts = attempts + 1, next_attempt_at = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.Exec(ctx, query, id, string(status), next, lastErr); err != nil {
		return fmt.Errorf("failed to record commission attempt: %w", err)
	}
	return nil
}

// CountByStatus returns job counts keyed by status.
func (r *CommissionRepository) CountByStatus(ctx context.Context) (map[model.CommissionStatus]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM commission_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count commission jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[model.CommissionStatus]int64)
	for rows.Next() {
		var (
			status model.CommissionStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan commission count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
