package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cryptra/internal/model"
)

// SessionResolver identifies the user behind a request.
type SessionResolver interface {
	CurrentUser(ctx context.Context) (uuid.UUID, error)
}

type userKey struct{}

// WithUser returns a context carrying the authenticated user id.
func WithUser(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// ContextSession resolves the user stored by WithUser.
type ContextSession struct{}

// CurrentUser implements SessionResolver.
func (ContextSession) CurrentUser(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(userKey{}).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, ErrUnauthenticated
	}
	return id, nil
}

// Recorder receives ledger events for metrics.
type Recorder interface {
	Earned(kind model.TxKind, cash decimal.Decimal, coins int64)
	Denied(kind model.ActivityKind, reason DenialReason)
	Spent(kind model.TxKind, coins int64)
	WithdrawalRequested(amount decimal.Decimal)
	CommissionCredited(level int, amount decimal.Decimal)
	CommissionFailed(giveUp bool)
	ReferralCycle()
	Replayed(kind model.TxKind)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) Earned(model.TxKind, decimal.Decimal, int64) {}
func (NopRecorder) Denied(model.ActivityKind, DenialReason)     {}
func (NopRecorder) Spent(model.TxKind, int64)                   {}
func (NopRecorder) WithdrawalRequested(decimal.Decimal)         {}
func (NopRecorder) CommissionCredited(int, decimal.Decimal)     {}
func (NopRecorder) CommissionFailed(bool)                       {}
func (NopRecorder) ReferralCycle()                              {}
func (NopRecorder) Replayed(model.TxKind)                       {}
