package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"cryptra/internal/model"
	"cryptra/internal/repository"
)

// BackOffice moves withdrawals through their lifecycle.
type BackOffice struct {
	engine *Engine
	stores Stores
}

// NewBackOffice creates a BackOffice.
func NewBackOffice(engine *Engine) *BackOffice {
	return &BackOffice{engine: engine, stores: engine.stores}
}

// Pending lists withdrawals waiting for review, oldest first.
func (b *BackOffice) Pending(ctx context.Context, limit int) ([]*model.Withdrawal, error) {
	if limit <= 0 {
		limit = 20
	}
	return b.stores.Withdrawals.ListByStatus(ctx, model.WithdrawalPending, limit)
}

// Approve marks a pending withdrawal approved.
func (b *BackOffice) Approve(ctx context.Context, id uuid.UUID, note string) (*model.Withdrawal, error) {
	return b.transition(ctx, id, model.WithdrawalApproved, note)
}

// Complete marks an approved withdrawal paid out.
func (b *BackOffice) Complete(ctx context.Context, id uuid.UUID, note string) (*model.Withdrawal, error) {
	return b.transition(ctx, id, model.WithdrawalCompleted, note)
}

// Reject refuses a withdrawal and refunds the reserved amount in the same
// transaction.
func (b *BackOffice) Reject(ctx context.Context, id uuid.UUID, reason string) (*model.Withdrawal, error) {
	return b.transition(ctx, id, model.WithdrawalRejected, reason)
}

func (b *BackOffice) transition(ctx context.Context, id uuid.UUID, next model.WithdrawalStatus, note string) (*model.Withdrawal, error) {
	w, err := b.stores.Withdrawals.GetByID(ctx, id)
	if errors.Is(err, repository.ErrWithdrawalNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}

	var updated *model.Withdrawal
	err = b.engine.InUserTx(ctx, w.UserID, func(ctx context.Context, tx pgx.Tx) error {
		withdrawals := b.stores.Withdrawals.WithTx(tx)
		current, err := withdrawals.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
		}
		if next == model.WithdrawalRejected {
			if _, err := b.engine.refundWithdrawalTx(ctx, tx, current); err != nil {
				return err
			}
		}
		updated, err = withdrawals.UpdateStatus(ctx, id, next, note)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to move withdrawal %s to %s: %w", id, next, err)
	}

	log.Info().
		Str("withdrawal_id", id.String()).
		Str("user_id", w.UserID.String()).
		Str("status", string(next)).
		Msg("Withdrawal updated")
	return updated, nil
}
