// Package activity defines the earning activities users can complete and a
// registry to look them up by kind or bot command. Adding an activity only
// requires implementing Activity and registering it.
package activity

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cryptra/internal/model"
)

// Request identifies one completion attempt.
type Request struct {
	UserID uuid.UUID
	TaskID int64 // task completions only
	AdID   int64 // ad watches only
}

// Reward is what one completion pays. It is computed on the server and
// never taken from the client.
type Reward struct {
	Cash        decimal.Decimal
	Coins       int64
	Description string
	Metadata    model.TxMetadata
}

// Activity is a quota-gated way to earn.
type Activity interface {
	// Kind returns the gate kind, e.g. model.ActivityCheckin.
	Kind() model.ActivityKind

	// Name returns the display name.
	Name() string

	// Command returns the bot command without slash, e.g. "checkin".
	Command() string

	// Description returns a short help line.
	Description() string

	// Limit returns how many completions req may consume per UTC day.
	// Zero means unlimited. The returned scope is the task id for tasks and
	// zero otherwise.
	Limit(ctx context.Context, req Request) (limit int, scope int64, err error)

	// Roll computes the reward for req.
	Roll(ctx context.Context, req Request) (*Reward, error)
}
