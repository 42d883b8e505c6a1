package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"cryptra/internal/activity"
	"cryptra/internal/model"
	"cryptra/internal/repository"
)

// EarnContext carries the optional inputs of a completion.
type EarnContext struct {
	TaskID int64
	AdID   int64
	// RequestKey makes a client retry of the same completion a replay
	// instead of a second quota slot.
	RequestKey string
}

// Rewards is the contract exposed to the HTTP and bot front ends: gated
// earning, spending, withdrawals and the leaderboard.
type Rewards struct {
	engine   *Engine
	gate     *Gate
	registry *activity.Registry
	ranking  *RankingService
	recorder Recorder
}

// NewRewards creates the Rewards facade.
func NewRewards(engine *Engine, gate *Gate, registry *activity.Registry, ranking *RankingService) *Rewards {
	return &Rewards{
		engine:   engine,
		gate:     gate,
		registry: registry,
		ranking:  ranking,
		recorder: engine.recorder,
	}
}

// Activities returns the registered activities.
func (r *Rewards) Activities() *activity.Registry {
	return r.registry
}

// GateAndEarn consumes one slot of the user's daily quota for kind and
// credits the server-computed reward in the same transaction. A denial is
// returned as *DeniedError and leaves no trace.
func (r *Rewards) GateAndEarn(ctx context.Context, userID uuid.UUID, kind model.ActivityKind, ec EarnContext) (*Receipt, error) {
	act, ok := r.registry.Get(kind)
	if !ok {
		return nil, validationf("unknown activity %q", kind)
	}
	req := activity.Request{UserID: userID, TaskID: ec.TaskID, AdID: ec.AdID}

	limit, scope, err := act.Limit(ctx, req)
	if err != nil {
		return nil, targetError(err)
	}
	reward, err := act.Roll(ctx, req)
	if err != nil {
		return nil, targetError(err)
	}

	var requestKey string
	if ec.RequestKey != "" {
		requestKey = fmt.Sprintf("earn:%s:%s", kind, ec.RequestKey)
	}

	var (
		receipt *Receipt
		job     *model.CommissionJob
	)
	err = r.engine.InUserTx(ctx, userID, func(ctx context.Context, tx pgx.Tx) error {
		if requestKey != "" {
			_, prior, err := r.engine.lockUser(ctx, tx, userID, requestKey)
			if err != nil {
				return err
			}
			if prior != nil {
				receipt, job = newReceipt(prior, true), nil
				return nil
			}
		}

		rec, err := r.gate.CheckConsumeQuota(ctx, tx, userID, kind, limit, scope)
		if err != nil {
			return err
		}
		key := requestKey
		if key == "" {
			key = fmt.Sprintf("activity:%d", rec.ID)
		}
		receipt, job, err = r.engine.earnTx(ctx, tx, EarningRequest{
			UserID:         userID,
			Kind:           kind.TxKind(),
			Cash:           reward.Cash,
			Coins:          reward.Coins,
			Description:    reward.Description,
			ActivityID:     rec.ID,
			IdempotencyKey: key,
			Metadata:       reward.Metadata,
		})
		return err
	})
	if err != nil {
		var denied *DeniedError
		if errors.As(err, &denied) {
			r.recorder.Denied(denied.Kind, denied.Reason)
			return nil, denied
		}
		return nil, fmt.Errorf("failed to earn %s: %w", kind, err)
	}
	r.engine.afterEarning(receipt, job)
	return receipt, nil
}

func targetError(err error) error {
	switch {
	case errors.Is(err, activity.ErrMissingTarget):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, activity.ErrInactiveTarget),
		errors.Is(err, repository.ErrTaskNotFound),
		errors.Is(err, repository.ErrAdNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// SpendCoins debits amount coins. Without a request key every call is a new spend.
func (r *Rewards) SpendCoins(ctx context.Context, userID uuid.UUID, amount int64, reason, requestKey string) (*Receipt, error) {
	return r.engine.ApplySpend(ctx, SpendRequest{
		UserID:         userID,
		Coins:          amount,
		Description:    reason,
		IdempotencyKey: keyOrNew("spend", requestKey),
	})
}

// RequestWithdrawal reserves amount for a payout to destination.
func (r *Rewards) RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, method, destination, requestKey string) (*WithdrawalReceipt, error) {
	return r.engine.ApplyWithdrawalRequest(ctx, WithdrawalRequest{
		UserID:         userID,
		Amount:         amount,
		Method:         method,
		Destination:    destination,
		IdempotencyKey: keyOrNew("withdrawal", requestKey),
	})
}

// GetLeaderboard returns the top earners.
func (r *Rewards) GetLeaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	return r.ranking.GetLeaderboard(ctx, limit)
}

// keyOrNew namespaces a client request key, or makes a fresh one.
func keyOrNew(namespace, requestKey string) string {
	if requestKey == "" {
		requestKey = uuid.NewString()
	}
	return namespace + ":" + requestKey
}
