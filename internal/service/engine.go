package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
	"cryptra/internal/pkg/lock"
	"cryptra/internal/repository"
)

// Receipt describes one ledger entry applied to a user.
type Receipt struct {
	TransactionID int64            `json:"transaction_id"`
	UserID        uuid.UUID        `json:"user_id"`
	Kind          model.TxKind     `json:"kind"`
	Amount        decimal.Decimal  `json:"amount"`
	Coins         int64            `json:"coins"`
	Balance       decimal.Decimal  `json:"balance"`
	CoinBalance   int64            `json:"coin_balance"`
	Description   string           `json:"description"`
	Metadata      model.TxMetadata `json:"metadata"`
	Replayed      bool             `json:"replayed"`
	CreatedAt     time.Time        `json:"created_at"`
}

func newReceipt(t *model.Transaction, replayed bool) *Receipt {
	return &Receipt{
		TransactionID: t.ID,
		UserID:        t.UserID,
		Kind:          t.Kind,
		Amount:        t.Amount,
		Coins:         t.Coins,
		Balance:       t.BalanceAfter,
		CoinBalance:   t.CoinsAfter,
		Description:   t.Description,
		Metadata:      t.Metadata,
		Replayed:      replayed,
		CreatedAt:     t.CreatedAt,
	}
}

// EarningRequest credits a gated activity. ActivityID must point at the
// uncredited record the gate inserted for this completion.
type EarningRequest struct {
	UserID         uuid.UUID
	Kind           model.TxKind
	Cash           decimal.Decimal
	Coins          int64
	Description    string
	ActivityID     int64
	IdempotencyKey string
	Metadata       model.TxMetadata
}

func (r EarningRequest) validate() error {
	switch {
	case r.UserID == uuid.Nil:
		return validationf("user id is required")
	case !r.Kind.IsEarning():
		return validationf("%q is not an earning kind", r.Kind)
	case r.Cash.IsNegative() || r.Coins < 0:
		return validationf("earning amounts must not be negative")
	case r.Cash.IsZero() && r.Coins == 0:
		return validationf("earning must credit cash or coins")
	case !r.Cash.Equal(r.Cash.Truncate(6)):
		return validationf("cash %s has more than 6 decimal places", r.Cash)
	case r.ActivityID <= 0:
		return validationf("activity id is required")
	case r.IdempotencyKey == "":
		return validationf("idempotency key is required")
	}
	return nil
}

// SpendRequest debits coins.
type SpendRequest struct {
	UserID         uuid.UUID
	Coins          int64
	Description    string
	IdempotencyKey string
}

func (r SpendRequest) validate() error {
	switch {
	case r.UserID == uuid.Nil:
		return validationf("user id is required")
	case r.Coins <= 0:
		return validationf("coins must be positive")
	case r.IdempotencyKey == "":
		return validationf("idempotency key is required")
	}
	return nil
}

// WithdrawalRequest reserves cash for a payout.
type WithdrawalRequest struct {
	UserID         uuid.UUID
	Amount         decimal.Decimal
	Method         string
	Destination    string
	IdempotencyKey string
}

// WithdrawalReceipt pairs the pending withdrawal with its debit.
type WithdrawalReceipt struct {
	Withdrawal *model.Withdrawal `json:"withdrawal"`
	Receipt    *Receipt          `json:"receipt"`
}

// CommissionDispatcher hands committed commission jobs to the fan-out workers.
type CommissionDispatcher interface {
	Dispatch(jobID int64)
}

// Engine applies balance mutations. Every operation runs as one serializable
// transaction holding the user's row lock, and every ledger entry is keyed
// by (user, idempotency key) so a replay returns the first result.
type Engine struct {
	runner      *db.Runner
	stores      Stores
	locks       *lock.UserLock
	lockTimeout time.Duration
	policy      WithdrawalPolicy
	dispatcher  CommissionDispatcher
	recorder    Recorder
}

// NewEngine creates an Engine.
func NewEngine(runner *db.Runner, stores Stores, locks *lock.UserLock, lockTimeout time.Duration, policy WithdrawalPolicy, recorder Recorder) *Engine {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Engine{
		runner:      runner,
		stores:      stores,
		locks:       locks,
		lockTimeout: lockTimeout,
		policy:      policy,
		recorder:    recorder,
	}
}

// SetDispatcher registers where committed commission jobs are sent. Without
// one, jobs wait for the sweep.
func (e *Engine) SetDispatcher(d CommissionDispatcher) {
	e.dispatcher = d
}

// Policy returns the withdrawal policy.
func (e *Engine) Policy() WithdrawalPolicy {
	return e.policy
}

// InUserTx runs fn in a ledger transaction while holding the user's
// in-process lock. A lock wait past the configured timeout is reported as a
// concurrency conflict.
func (e *Engine) InUserTx(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, tx pgx.Tx) error) error {
	err := e.locks.WithLockContext(ctx, userID, e.lockTimeout, func() error {
		return e.runner.InTx(ctx, fn)
	})
	if errors.Is(err, lock.ErrLockTimeout) {
		return fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	}
	return err
}

type posting struct {
	userID      uuid.UUID
	kind        model.TxKind
	cash        decimal.Decimal
	coins       int64
	earnings    decimal.Decimal
	description string
	key         string
	meta        model.TxMetadata
}

// post mutates the user row and appends the matching ledger entry.
func (e *Engine) post(ctx context.Context, tx pgx.Tx, p posting) (*model.Transaction, error) {
	u, err := e.stores.Users.WithTx(tx).ApplyDelta(ctx, p.userID, p.cash, p.coins, p.earnings)
	if err != nil {
		return nil, err
	}
	return e.stores.Transactions.WithTx(tx).Create(ctx, &model.Transaction{
		UserID:         p.userID,
		Amount:         p.cash,
		Coins:          p.coins,
		Kind:           p.kind,
		Description:    p.description,
		IdempotencyKey: p.key,
		Metadata:       p.meta,
		BalanceAfter:   u.Balance,
		CoinsAfter:     u.Coins,
	})
}

// lockUser takes the row lock and returns any entry already written under key.
func (e *Engine) lockUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID, key string) (*model.User, *model.Transaction, error) {
	u, err := e.stores.Users.WithTx(tx).GetForUpdate(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	prior, err := e.stores.Transactions.WithTx(tx).GetByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		return u, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return u, prior, nil
}

// ApplyEarning credits a gated activity. A replayed key returns the first
// receipt with Replayed set and no error.
func (e *Engine) ApplyEarning(ctx context.Context, req EarningRequest) (*Receipt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var (
		receipt *Receipt
		job     *model.CommissionJob
	)
	err := e.InUserTx(ctx, req.UserID, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		receipt, job, err = e.earnTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply earning: %w", err)
	}
	e.afterEarning(receipt, job)
	return receipt, nil
}

func (e *Engine) earnTx(ctx context.Context, tx pgx.Tx, req EarningRequest) (*Receipt, *model.CommissionJob, error) {
	_, prior, err := e.lockUser(ctx, tx, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, nil, err
	}
	if prior != nil {
		return newReceipt(prior, true), nil, nil
	}

	activity := e.stores.Activity.WithTx(tx)
	rec, err := activity.GetForUpdate(ctx, req.ActivityID)
	if errors.Is(err, repository.ErrActivityNotFound) {
		return nil, nil, fmt.Errorf("%w: activity %d does not exist", ErrPreconditionFailed, req.ActivityID)
	}
	if err != nil {
		return nil, nil, err
	}
	if rec.UserID != req.UserID || rec.Kind.TxKind() != req.Kind {
		return nil, nil, fmt.Errorf("%w: activity %d does not match %s for this user", ErrPreconditionFailed, rec.ID, req.Kind)
	}
	if rec.TransactionID != nil {
		return nil, nil, fmt.Errorf("%w: activity %d already credited", ErrPreconditionFailed, rec.ID)
	}

	meta := req.Metadata
	meta.ActivityID = rec.ID
	t, err := e.post(ctx, tx, posting{
		userID:      req.UserID,
		kind:        req.Kind,
		cash:        req.Cash,
		coins:       req.Coins,
		earnings:    req.Cash,
		description: req.Description,
		key:         req.IdempotencyKey,
		meta:        meta,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := activity.LinkTransaction(ctx, rec.ID, t.ID); err != nil {
		if errors.Is(err, repository.ErrAlreadyCredited) {
			return nil, nil, fmt.Errorf("%w: %w", ErrPreconditionFailed, err)
		}
		return nil, nil, err
	}

	var job *model.CommissionJob
	if req.Cash.IsPositive() {
		job, err = e.stores.Commissions.WithTx(tx).Enqueue(ctx, &model.CommissionJob{
			SourceTransactionID: t.ID,
			EarnerID:            req.UserID,
			Amount:              req.Cash,
			SourceKind:          req.Kind,
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return newReceipt(t, false), job, nil
}

func (e *Engine) afterEarning(r *Receipt, job *model.CommissionJob) {
	if r.Replayed {
		e.recorder.Replayed(r.Kind)
		return
	}
	e.recorder.Earned(r.Kind, r.Amount, r.Coins)
	log.Info().
		Str("user_id", r.UserID.String()).
		Str("kind", string(r.Kind)).
		Str("amount", r.Amount.String()).
		Int64("coins", r.Coins).
		Int64("tx_id", r.TransactionID).
		Msg("Earning credited")

	if job != nil && e.dispatcher != nil {
		e.dispatcher.Dispatch(job.ID)
	}
}

// ApplySpend debits coins after re-checking the balance under the row lock.
func (e *Engine) ApplySpend(ctx context.Context, req SpendRequest) (*Receipt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := e.InUserTx(ctx, req.UserID, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		receipt, err = e.spendTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to spend coins: %w", err)
	}
	e.afterSpend(receipt)
	return receipt, nil
}

func (e *Engine) spendTx(ctx context.Context, tx pgx.Tx, req SpendRequest) (*Receipt, error) {
	u, prior, err := e.lockUser(ctx, tx, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return newReceipt(prior, true), nil
	}
	if u.Coins < req.Coins {
		return nil, fmt.Errorf("%w: have %d coins, need %d", ErrInsufficientFunds, u.Coins, req.Coins)
	}

	t, err := e.post(ctx, tx, posting{
		userID:      req.UserID,
		kind:        model.TxTypePurchase,
		coins:       -req.Coins,
		description: req.Description,
		key:         req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return newReceipt(t, false), nil
}

func (e *Engine) afterSpend(r *Receipt) {
	if r.Replayed {
		e.recorder.Replayed(r.Kind)
		return
	}
	e.recorder.Spent(r.Kind, -r.Coins)
	log.Info().
		Str("user_id", r.UserID.String()).
		Int64("coins", -r.Coins).
		Int64("tx_id", r.TransactionID).
		Msg("Coins spent")
}

// ApplyWithdrawalRequest validates and reserves a payout: the amount is
// debited and a pending withdrawal is created in the same transaction.
func (e *Engine) ApplyWithdrawalRequest(ctx context.Context, req WithdrawalRequest) (*WithdrawalReceipt, error) {
	if req.UserID == uuid.Nil {
		return nil, validationf("user id is required")
	}
	if req.IdempotencyKey == "" {
		return nil, validationf("idempotency key is required")
	}
	if err := e.policy.Validate(req.Amount, req.Method, req.Destination); err != nil {
		return nil, err
	}

	var out *WithdrawalReceipt
	err := e.InUserTx(ctx, req.UserID, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = e.withdrawTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request withdrawal: %w", err)
	}

	if out.Receipt.Replayed {
		e.recorder.Replayed(model.TxTypeWithdrawal)
	} else {
		e.recorder.WithdrawalRequested(req.Amount)
		log.Info().
			Str("user_id", req.UserID.String()).
			Str("withdrawal_id", out.Withdrawal.ID.String()).
			Str("amount", req.Amount.String()).
			Str("method", out.Withdrawal.Method).
			Msg("Withdrawal requested")
	}
	return out, nil
}

func (e *Engine) withdrawTx(ctx context.Context, tx pgx.Tx, req WithdrawalRequest) (*WithdrawalReceipt, error) {
	u, prior, err := e.lockUser(ctx, tx, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	withdrawals := e.stores.Withdrawals.WithTx(tx)
	if prior != nil {
		if prior.Metadata.WithdrawalID == nil {
			return nil, fmt.Errorf("%w: key %q was used by a %s entry", ErrValidation, req.IdempotencyKey, prior.Kind)
		}
		w, err := withdrawals.GetByID(ctx, *prior.Metadata.WithdrawalID)
		if err != nil {
			return nil, err
		}
		return &WithdrawalReceipt{Withdrawal: w, Receipt: newReceipt(prior, true)}, nil
	}
	if u.Balance.LessThan(req.Amount) {
		return nil, fmt.Errorf("%w: balance $%s, requested $%s", ErrInsufficientFunds, u.Balance.StringFixed(2), req.Amount.StringFixed(2))
	}

	q := e.policy.Quote(req.Amount)
	w, err := withdrawals.Create(ctx, &model.Withdrawal{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Amount:      q.Amount,
		Fee:         q.Fee,
		NetAmount:   q.Net,
		Method:      req.Method,
		Destination: req.Destination,
		Status:      model.WithdrawalPending,
	})
	if err != nil {
		return nil, err
	}

	t, err := e.post(ctx, tx, posting{
		userID:      req.UserID,
		kind:        model.TxTypeWithdrawal,
		cash:        req.Amount.Neg(),
		description: fmt.Sprintf("Withdrawal via %s", req.Method),
		key:         req.IdempotencyKey,
		meta:        model.TxMetadata{WithdrawalID: &w.ID},
	})
	if err != nil {
		return nil, err
	}
	return &WithdrawalReceipt{Withdrawal: w, Receipt: newReceipt(t, false)}, nil
}

// ApplyCoinTopUp credits coins paid for through the payment gateway. It is
// idempotent by payment reference.
func (e *Engine) ApplyCoinTopUp(ctx context.Context, userID uuid.UUID, coins int64, paymentRef string, price decimal.Decimal) (*Receipt, error) {
	if coins <= 0 {
		return nil, validationf("coins must be positive")
	}
	if paymentRef == "" {
		return nil, validationf("payment reference is required")
	}

	key := "topup:" + paymentRef
	var receipt *Receipt
	err := e.InUserTx(ctx, userID, func(ctx context.Context, tx pgx.Tx) error {
		_, prior, err := e.lockUser(ctx, tx, userID, key)
		if err != nil {
			return err
		}
		if prior != nil {
			receipt = newReceipt(prior, true)
			return nil
		}
		t, err := e.post(ctx, tx, posting{
			userID:      userID,
			kind:        model.TxTypeCoinTopUp,
			coins:       coins,
			description: fmt.Sprintf("Bought %d coins", coins),
			key:         key,
			meta:        model.TxMetadata{PaymentRef: paymentRef, PriceUSD: price.StringFixed(2)},
		})
		if err != nil {
			return err
		}
		receipt = newReceipt(t, false)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to top up coins: %w", err)
	}
	if !receipt.Replayed {
		e.recorder.Earned(model.TxTypeCoinTopUp, decimal.Zero, coins)
	}
	return receipt, nil
}

// creditReferralTx credits one ancestor's commission inside the fan-out
// transaction. The key makes a repeated job a no-op.
func (e *Engine) creditReferralTx(ctx context.Context, tx pgx.Tx, ancestorID uuid.UUID, amount decimal.Decimal, key string, meta model.TxMetadata) (*Receipt, error) {
	_, prior, err := e.lockUser(ctx, tx, ancestorID, key)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return newReceipt(prior, true), nil
	}
	t, err := e.post(ctx, tx, posting{
		userID:      ancestorID,
		kind:        model.TxTypeReferral,
		cash:        amount,
		earnings:    amount,
		description: fmt.Sprintf("Level %d referral commission", meta.Level),
		key:         key,
		meta:        meta,
	})
	if err != nil {
		return nil, err
	}
	return newReceipt(t, false), nil
}

// refundWithdrawalTx returns a rejected withdrawal's amount to the balance.
func (e *Engine) refundWithdrawalTx(ctx context.Context, tx pgx.Tx, w *model.Withdrawal) (*Receipt, error) {
	key := "refund:" + w.ID.String()
	_, prior, err := e.lockUser(ctx, tx, w.UserID, key)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return newReceipt(prior, true), nil
	}
	t, err := e.post(ctx, tx, posting{
		userID:      w.UserID,
		kind:        model.TxTypeWithdrawalRefund,
		cash:        w.Amount,
		description: "Withdrawal rejected, amount refunded",
		key:         key,
		meta:        model.TxMetadata{WithdrawalID: &w.ID},
	})
	if err != nil {
		return nil, err
	}
	return newReceipt(t, false), nil
}
