package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
	"cryptra/internal/repository"
)

// QuotaDecision is the outcome of comparing today's usage with a limit.
type QuotaDecision struct {
	Allowed bool
	Reason  DenialReason
	Used    int
	Limit   int
}

// DecideQuota allows a completion while used < limit. A limit of zero means
// unlimited. A once-a-day activity is denied as already completed, anything
// else as exhausted.
func DecideQuota(used, limit int) QuotaDecision {
	d := QuotaDecision{Used: used, Limit: limit}
	switch {
	case limit <= 0 || used < limit:
		d.Allowed = true
	case limit == 1:
		d.Reason = ReasonAlreadyCompletedToday
	default:
		d.Reason = ReasonQuotaExhausted
	}
	return d
}

// UTCDay truncates t to the start of its UTC calendar day.
func UTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Gate enforces per-user, per-kind daily limits. The day boundary comes from
// the server clock, never from the caller.
type Gate struct {
	users    *repository.UserRepository
	activity *repository.ActivityRepository
	clock    clockwork.Clock
}

// NewGate creates a Gate.
func NewGate(users *repository.UserRepository, activity *repository.ActivityRepository, clock clockwork.Clock) *Gate {
	return &Gate{users: users, activity: activity, clock: clock}
}

// Today returns the current UTC day.
func (g *Gate) Today() time.Time {
	return UTCDay(g.clock.Now())
}

// CheckConsumeQuota counts today's records of kind for the user and, if the
// limit allows, inserts the next one. It locks the user row first so the
// check and the insert cannot interleave with another completion; the
// unique slot key catches writers that bypass the lock. Must run inside tx.
func (g *Gate) CheckConsumeQuota(ctx context.Context, tx db.DBTX, userID uuid.UUID, kind model.ActivityKind, limit int, scope int64) (*model.ActivityRecord, error) {
	if !kind.Valid() {
		return nil, validationf("unknown activity kind %q", kind)
	}
	if _, err := g.users.WithTx(tx).GetForUpdate(ctx, userID); err != nil {
		return nil, err
	}

	day := g.Today()
	activity := g.activity.WithTx(tx)
	used, err := activity.CountForDay(ctx, userID, kind, day, scope)
	if err != nil {
		return nil, err
	}

	d := DecideQuota(used, limit)
	if !d.Allowed {
		return nil, &DeniedError{Kind: kind, Reason: d.Reason, Used: d.Used, Limit: d.Limit}
	}

	rec, err := activity.Insert(ctx, &model.ActivityRecord{
		UserID:       userID,
		Kind:         kind,
		ActivityDate: day,
		TaskID:       scope,
		Seq:          used + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s quota: %w", kind, err)
	}
	return rec, nil
}

// QuotaStatus is today's usage of one activity.
type QuotaStatus struct {
	Kind      model.ActivityKind `json:"kind"`
	TaskID    int64              `json:"task_id,omitempty"`
	Used      int                `json:"used"`
	Limit     int                `json:"limit"`
	Remaining int                `json:"remaining"`
}

// NewQuotaStatus derives remaining completions; -1 means unlimited.
func NewQuotaStatus(kind model.ActivityKind, taskID int64, used, limit int) QuotaStatus {
	q := QuotaStatus{Kind: kind, TaskID: taskID, Used: used, Limit: limit, Remaining: -1}
	if limit > 0 {
		q.Remaining = max(limit-used, 0)
	}
	return q
}

// Usage returns today's counts per kind and per task for the user.
func (g *Gate) Usage(ctx context.Context, userID uuid.UUID) (map[model.ActivityKind]int, map[int64]int, error) {
	return g.activity.CountsForDay(ctx, userID, g.Today())
}
