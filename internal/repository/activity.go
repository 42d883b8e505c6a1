package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
)

const activityColumns = `id, user_id, kind, activity_date, task_id, seq, transaction_id, created_at`

// ActivityRepository persists consumed daily-quota slots.
type ActivityRepository struct {
	db db.DBTX
}

// NewActivityRepository creates a new ActivityRepository instance.
func NewActivityRepository(conn db.DBTX) *ActivityRepository {
	return &ActivityRepository{db: conn}
}

// WithTx returns a copy bound to tx.
func (r *ActivityRepository) WithTx(tx db.DBTX) *ActivityRepository {
	return &ActivityRepository{db: tx}
}

func scanActivity(row pgx.Row) (*model.ActivityRecord, error) {
	var a model.ActivityRecord
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Kind,
		&a.ActivityDate,
		&a.TaskID,
		&a.Seq,
		&a.TransactionID,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CountForDay counts a user's records of one kind on a UTC calendar day.
// taskID scopes task completions; it is 0 for every other kind.
func (r *ActivityRepository) CountForDay(ctx context.Context, userID uuid.UUID, kind model.ActivityKind, day time.Time, taskID int64) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM activity_records
		WHERE user_id = $1 AND kind = $2 AND activity_date = $3 AND task_id = $4
	`

	var n int
	if err := r.db.QueryRow(ctx, query, userID, kind, day, taskID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}
	return n, nil
}

// Insert records a consumed slot. The (user, kind, day, task, seq) key is
// unique, so two writers racing for the same slot cannot both succeed.
func (r *ActivityRepository) Insert(ctx context.Context, a *model.ActivityRecord) (*model.ActivityRecord, error) {
	query := `
		INSERT INTO activity_records (user_id, kind, activity_date, task_id, seq)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + activityColumns

	rec, err := scanActivity(r.db.QueryRow(ctx, query, a.UserID, a.Kind, a.ActivityDate, a.TaskID, a.Seq))
	if err != nil {
		return nil, fmt.Errorf("failed to insert activity: %w", err)
	}
	return rec, nil
}

// GetForUpdate reads and locks an activity record.
func (r *ActivityRepository) GetForUpdate(ctx context.Context, id int64) (*model.ActivityRecord, error) {
	rec, err := scanActivity(r.db.QueryRow(ctx,
		`SELECT `+activityColumns+` FROM activity_records WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrActivityNotFound
		}
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return rec, nil
}

// LinkTransaction marks an activity as credited by txID.
// Returns ErrAlreadyCredited if it was already linked.
func (r *ActivityRepository) LinkTransaction(ctx context.Context, id, txID int64) error {
	const query = `
		UPDATE activity_records SET transaction_id = $2
		WHERE id = $1 AND transaction_id IS NULL
	`

	result, err := r.db.Exec(ctx, query, id, txID)
	if err != nil {
		return fmt.Errorf("failed to link activity: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyCredited
	}
	return nil
}

// CountsForDay returns today's usage per kind; task usage is keyed by task id
// in the second map.
func (r *ActivityRepository) CountsForDay(ctx context.Context, userID uuid.UUID, day time.Time) (map[model.ActivityKind]int, map[int64]int, error) {
	const query = `
		SELECT kind, task_id, COUNT(*)
		FROM activity_records
		WHERE user_id = $1 AND activity_date = $2
		GROUP BY kind, task_id
	`

	rows, err := r.db.Query(ctx, query, userID, day)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count daily activity: %w", err)
	}
	defer rows.Close()

	byKind := make(map[model.ActivityKind]int)
	byTask := make(map[int64]int)
	for rows.Next() {
		var (
			kind   model.ActivityKind
			taskID int64
			n      int
		)
		if err := rows.Scan(&kind, &taskID, &n); err != nil {
			return nil, nil, fmt.Errorf("failed to scan activity count: %w", err)
		}
		byKind[kind] += n
		if kind == model.ActivityTask {
			byTask[taskID] = n
		}
	}
	return byKind, byTask, rows.Err()
}

// DaysWithActivity lists the distinct UTC days on or after since on which the
// user recorded kind, newest first.
func (r *ActivityRepository) DaysWithActivity(ctx context.Context, userID uuid.UUID, kind model.ActivityKind, since time.Time) ([]time.Time, error) {
	const query = `
		SELECT DISTINCT activity_date
		FROM activity_records
		WHERE user_id = $1 AND kind = $2 AND activity_date >= $3
		ORDER BY activity_date DESC
	`

	rows, err := r.db.Query(ctx, query, userID, kind, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity days: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[time.Time])
}
