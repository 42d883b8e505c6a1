package activity

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"cryptra/internal/config"
	"cryptra/internal/model"
)

// Errors returned while resolving an activity target.
var (
	ErrMissingTarget  = errors.New("activity target id is required")
	ErrInactiveTarget = errors.New("activity target is not active")
)

// Catalogue looks up admin-defined tasks and ads.
type Catalogue interface {
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	GetAd(ctx context.Context, id int64) (*model.Advertisement, error)
}

// DrawAmount picks a uniformly distributed amount in [lo, hi] with a
// granularity of 0.001. intN must return a value in [0, n).
func DrawAmount(lo, hi decimal.Decimal, intN func(n int64) int64) decimal.Decimal {
	steps := hi.Sub(lo).Shift(3).IntPart()
	if steps <= 0 {
		return lo
	}
	return lo.Add(decimal.New(intN(steps+1), -3))
}

// RandomCash is a fixed-quota activity paying a random cash amount:
// check-in, treasure box and scratch card.
type RandomCash struct {
	kind        model.ActivityKind
	name        string
	command     string
	description string
	limit       int
	lo, hi      decimal.Decimal
	intN        func(n int64) int64
}

// NewRandomCash creates a RandomCash activity paying within rg.
func NewRandomCash(kind model.ActivityKind, name, command, description string, limit int, rg config.RangeConfig) (*RandomCash, error) {
	lo, hi, err := rg.Bounds()
	if err != nil {
		return nil, fmt.Errorf("%s reward range: %w", kind, err)
	}
	return &RandomCash{
		kind:        kind,
		name:        name,
		command:     command,
		description: description,
		limit:       limit,
		lo:          lo,
		hi:          hi,
		intN:        rand.Int64N,
	}, nil
}

func (a *RandomCash) Kind() model.ActivityKind { return a.kind }
func (a *RandomCash) Name() string             { return a.name }
func (a *RandomCash) Command() string          { return a.command }
func (a *RandomCash) Description() string      { return a.description }

func (a *RandomCash) Limit(ctx context.Context, req Request) (int, int64, error) {
	return a.limit, 0, nil
}

func (a *RandomCash) Roll(ctx context.Context, req Request) (*Reward, error) {
	return &Reward{
		Cash:        DrawAmount(a.lo, a.hi, a.intN),
		Description: a.name + " reward",
	}, nil
}

// AdWatch pays the reward configured on the watched advertisement.
type AdWatch struct {
	limit     int
	catalogue Catalogue
}

// NewAdWatch creates the ad-watch activity.
func NewAdWatch(limit int, catalogue Catalogue) *AdWatch {
	return &AdWatch{limit: limit, catalogue: catalogue}
}

func (a *AdWatch) Kind() model.ActivityKind { return model.ActivityAdWatch }
func (a *AdWatch) Name() string             { return "Watch Ad" }
func (a *AdWatch) Command() string          { return "ad" }
func (a *AdWatch) Description() string {
	return fmt.Sprintf("Watch an ad (%d per day)", a.limit)
}

func (a *AdWatch) Limit(ctx context.Context, req Request) (int, int64, error) {
	return a.limit, 0, nil
}

func (a *AdWatch) Roll(ctx context.Context, req Request) (*Reward, error) {
	if req.AdID == 0 {
		return nil, ErrMissingTarget
	}
	ad, err := a.catalogue.GetAd(ctx, req.AdID)
	if err != nil {
		return nil, err
	}
	if !ad.IsActive {
		return nil, ErrInactiveTarget
	}
	return &Reward{
		Cash:        ad.RewardAmount,
		Description: "Watched ad: " + ad.Title,
		Metadata:    model.TxMetadata{AdID: ad.ID},
	}, nil
}

// TaskCompletion pays a task's cash and coin reward, limited per task.
type TaskCompletion struct {
	catalogue Catalogue
}

// NewTaskCompletion creates the task activity.
func NewTaskCompletion(catalogue Catalogue) *TaskCompletion {
	return &TaskCompletion{catalogue: catalogue}
}

func (a *TaskCompletion) Kind() model.ActivityKind { return model.ActivityTask }
func (a *TaskCompletion) Name() string             { return "Task" }
func (a *TaskCompletion) Command() string          { return "task" }
func (a *TaskCompletion) Description() string      { return "Complete a task for cash and coins" }

func (a *TaskCompletion) task(ctx context.Context, req Request) (*model.Task, error) {
	if req.TaskID == 0 {
		return nil, ErrMissingTarget
	}
	t, err := a.catalogue.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, ErrInactiveTarget
	}
	return t, nil
}

func (a *TaskCompletion) Limit(ctx context.Context, req Request) (int, int64, error) {
	t, err := a.task(ctx, req)
	if err != nil {
		return 0, 0, err
	}
	return t.DailyLimit, t.ID, nil
}

func (a *TaskCompletion) Roll(ctx context.Context, req Request) (*Reward, error) {
	t, err := a.task(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Reward{
		Cash:        t.RewardAmount,
		Coins:       t.RewardCoins,
		Description: "Completed task: " + t.Title,
		Metadata:    model.TxMetadata{TaskID: t.ID},
	}, nil
}

// NewDefaultRegistry registers the built-in activities.
func NewDefaultRegistry(cfg *config.Config, catalogue Catalogue) (*Registry, error) {
	checkin, err := NewRandomCash(model.ActivityCheckin, "Daily Check-in", "checkin",
		"Check in once a day", cfg.Quotas.Checkin, cfg.Rewards.Checkin)
	if err != nil {
		return nil, err
	}
	treasure, err := NewRandomCash(model.ActivityTreasure, "Treasure Box", "treasure",
		"Open the daily treasure box", cfg.Quotas.Treasure, cfg.Rewards.Treasure)
	if err != nil {
		return nil, err
	}
	scratch, err := NewRandomCash(model.ActivityScratchCard, "Scratch Card", "scratch",
		fmt.Sprintf("Scratch a card (%d per day)", cfg.Quotas.ScratchCard), cfg.Quotas.ScratchCard, cfg.Rewards.ScratchCard)
	if err != nil {
		return nil, err
	}

	reg := NewRegistry()
	for _, a := range []Activity{checkin, treasure, scratch, NewAdWatch(cfg.Quotas.AdWatch, catalogue), NewTaskCompletion(catalogue)} {
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
