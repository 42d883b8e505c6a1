package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
)

// CatalogueRepository persists earning tasks and advertisements.
type CatalogueRepository struct {
	db db.DBTX
}

// NewCatalogueRepository creates a new CatalogueRepository instance.
func NewCatalogueRepository(conn db.DBTX) *CatalogueRepository {
	return &CatalogueRepository{db: conn}
}

// WithTx returns a copy bound to tx.
func (r *CatalogueRepository) WithTx(tx db.DBTX) *CatalogueRepository {
	return &CatalogueRepository{db: tx}
}

const taskColumns = `id, title, description, task_type, reward_amount, reward_coins, daily_limit, is_active, created_at`

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.TaskType, &t.RewardAmount,
		&t.RewardCoins, &t.DailyLimit, &t.IsActive, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask inserts a task.
func (r *CatalogueRepository) CreateTask(ctx context.Context, t *model.Task) (*model.Task, error) {
	query := `
		INSERT INTO tasks (title, description, task_type, reward_amount, reward_coins, daily_limit, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + taskColumns

	created, err := scanTask(r.db.QueryRow(ctx, query,
		t.Title, t.Description, t.TaskType, t.RewardAmount, t.RewardCoins, t.DailyLimit, t.IsActive))
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return created, nil
}

// GetTask retrieves a task.
func (r *CatalogueRepository) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	t, err := scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ListActiveTasks returns active tasks.
func (r *CatalogueRepository) ListActiveTasks(ctx context.Context) ([]*model.Task, error) {
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const adColumns = `id, title, reward_amount, duration_seconds, is_active, created_at`

func scanAd(row pgx.Row) (*model.Advertisement, error) {
	var a model.Advertisement
	if err := row.Scan(&a.ID, &a.Title, &a.RewardAmount, &a.DurationSeconds, &a.IsActive, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAd inserts an advertisement.
func (r *CatalogueRepository) CreateAd(ctx context.Context, a *model.Advertisement) (*model.Advertisement, error) {
	query := `
		INSERT INTO advertisements (title, reward_amount, duration_seconds, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + adColumns

	created, err := scanAd(r.db.QueryRow(ctx, query, a.Title, a.RewardAmount, a.DurationSeconds, a.IsActive))
	if err != nil {
		return nil, fmt.Errorf("failed to create advertisement: %w", err)
	}
	return created, nil
}

// GetAd retrieves an advertisement.
func (r *CatalogueRepository) GetAd(ctx context.Context, id int64) (*model.Advertisement, error) {
	a, err := scanAd(r.db.QueryRow(ctx, `SELECT `+adColumns+` FROM advertisements WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAdNotFound
		}
		return nil, fmt.Errorf("failed to get advertisement: %w", err)
	}
	return a, nil
}

// ListActiveAds returns active advertisements.
func (r *CatalogueRepository) ListActiveAds(ctx context.Context) ([]*model.Advertisement, error) {
	rows, err := r.db.Query(ctx, `SELECT `+adColumns+` FROM advertisements WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list advertisements: %w", err)
	}
	defer rows.Close()

	var out []*model.Advertisement
	for rows.Next() {
		a, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan advertisement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
