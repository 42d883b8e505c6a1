// Package model defines the domain models for the rewards ledger.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a platform account.
// Balance, Coins and TotalEarnings are mutated only through the ledger.
type User struct {
	ID            uuid.UUID       `json:"id"`
	TelegramID    *int64          `json:"telegram_id,omitempty"`
	DisplayName   string          `json:"display_name"`
	Email         string          `json:"email,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
	Coins         int64           `json:"coins"`
	TotalEarnings decimal.Decimal `json:"total_earnings"`
	ReferralCode  string          `json:"referral_code"`
	ReferrerID    *uuid.UUID      `json:"referrer_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ActivityKind identifies a quota-gated earning activity.
type ActivityKind string

// Activity kinds.
const (
	ActivityCheckin     ActivityKind = "checkin"
	ActivityAdWatch     ActivityKind = "ad_watch"
	ActivityScratchCard ActivityKind = "scratch_card"
	ActivityTreasure    ActivityKind = "treasure"
	ActivityTask        ActivityKind = "task"
)

// ActivityKinds lists every gated kind.
var ActivityKinds = []ActivityKind{
	ActivityCheckin, ActivityAdWatch, ActivityScratchCard, ActivityTreasure, ActivityTask,
}

// Valid reports whether k is a known activity kind.
func (k ActivityKind) Valid() bool {
	for _, known := range ActivityKinds {
		if k == known {
			return true
		}
	}
	return false
}

// TxKind returns the ledger transaction kind credited for this activity.
func (k ActivityKind) TxKind() TxKind {
	if k == ActivityTask {
		return TxTypeTaskCompletion
	}
	return TxKind(k)
}

// ActivityRecord is one consumed slot of a daily quota.
type ActivityRecord struct {
	ID            int64        `json:"id"`
	UserID        uuid.UUID    `json:"user_id"`
	Kind          ActivityKind `json:"kind"`
	ActivityDate  time.Time    `json:"activity_date"`
	TaskID        int64        `json:"task_id,omitempty"`
	Seq           int          `json:"seq"`
	TransactionID *int64       `json:"transaction_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// TxKind is the kind of a ledger transaction.
type TxKind string

// Transaction kinds.
const (
	TxTypeCheckin          TxKind = "checkin"
	TxTypeAdWatch          TxKind = "ad_watch"
	TxTypeScratchCard      TxKind = "scratch_card"
	TxTypeTreasure         TxKind = "treasure"
	TxTypeTaskCompletion   TxKind = "task_completion"
	TxTypeReferral         TxKind = "referral"
	TxTypePurchase         TxKind = "purchase"
	TxTypeWithdrawal       TxKind = "withdrawal"
	TxTypeCoinTopUp        TxKind = "coin_topup"
	TxTypeWithdrawalRefund TxKind = "withdrawal_refund"
)

// IsEarning reports whether the kind credits an earning activity.
func (k TxKind) IsEarning() bool {
	switch k {
	case TxTypeCheckin, TxTypeAdWatch, TxTypeScratchCard, TxTypeTreasure, TxTypeTaskCompletion:
		return true
	}
	return false
}

// TxMetadata is stored as JSONB next to each transaction.
type TxMetadata struct {
	Level        int        `json:"level,omitempty"`
	Source       TxKind     `json:"source,omitempty"`
	Earner       *uuid.UUID `json:"earner,omitempty"`
	SourceTxID   int64      `json:"source_tx_id,omitempty"`
	ActivityID   int64      `json:"activity_id,omitempty"`
	TaskID       int64      `json:"task_id,omitempty"`
	AdID         int64      `json:"ad_id,omitempty"`
	WithdrawalID *uuid.UUID `json:"withdrawal_id,omitempty"`
	PaymentRef   string     `json:"payment_ref,omitempty"`
	PriceUSD     string     `json:"price_usd,omitempty"`
}

// Transaction is an append-only ledger entry.
// Amount is the signed cash delta, Coins the signed coin delta.
type Transaction struct {
	ID             int64           `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Coins          int64           `json:"coins"`
	Kind           TxKind          `json:"kind"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"-"`
	Metadata       TxMetadata      `json:"metadata"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	CoinsAfter     int64           `json:"coins_after"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ReferralEdge links a referrer to a referred user at a given depth.
type ReferralEdge struct {
	ReferrerID uuid.UUID `json:"referrer_id"`
	ReferredID uuid.UUID `json:"referred_id"`
	Level      int       `json:"level"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// WithdrawalStatus is the lifecycle state of a withdrawal.
type WithdrawalStatus string

// Withdrawal statuses.
const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalRejected  WithdrawalStatus = "rejected"
)

// CanTransitionTo reports whether the back office may move a withdrawal to next.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	switch s {
	case WithdrawalPending:
		return next == WithdrawalApproved || next == WithdrawalRejected
	case WithdrawalApproved:
		return next == WithdrawalCompleted || next == WithdrawalRejected
	}
	return false
}

// Withdrawal is a cash-out request. Amount was debited on creation;
// NetAmount is what the payout rail sends after Fee.
type Withdrawal struct {
	ID          uuid.UUID        `json:"id"`
	UserID      uuid.UUID        `json:"user_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Fee         decimal.Decimal  `json:"fee"`
	NetAmount   decimal.Decimal  `json:"net_amount"`
	Method      string           `json:"method"`
	Destination string           `json:"destination"`
	Status      WithdrawalStatus `json:"status"`
	Note        string           `json:"note,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
}

// Product is a marketplace item priced in coins.
type Product struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	Category      string    `json:"category"`
	Description   string    `json:"description"`
	PriceCoins    int64     `json:"price_coins"`
	StockQuantity int       `json:"stock_quantity"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

// OrderPending is the only status the ledger writes.
const OrderPending OrderStatus = "pending"

// Order snapshots the product price at purchase time.
type Order struct {
	ID             int64       `json:"id"`
	UserID         uuid.UUID   `json:"user_id"`
	ProductID      int64       `json:"product_id"`
	ProductName    string      `json:"product_name"`
	Quantity       int         `json:"quantity"`
	UnitPriceCoins int64       `json:"unit_price_coins"`
	TotalCoins     int64       `json:"total_coins"`
	Status         OrderStatus `json:"status"`
	TransactionID  int64       `json:"transaction_id"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Task is an admin-defined earning task.
type Task struct {
	ID           int64           `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	TaskType     string          `json:"task_type"`
	RewardAmount decimal.Decimal `json:"reward_amount"`
	RewardCoins  int64           `json:"reward_coins"`
	DailyLimit   int             `json:"daily_limit"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Advertisement is a watchable ad with a fixed cash reward.
type Advertisement struct {
	ID              int64           `json:"id"`
	Title           string          `json:"title"`
	RewardAmount    decimal.Decimal `json:"reward_amount"`
	DurationSeconds int             `json:"duration_seconds"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
}

// CommissionStatus is the state of a referral fan-out job.
type CommissionStatus string

// Commission job statuses.
const (
	CommissionPending CommissionStatus = "pending"
	CommissionDone    CommissionStatus = "done"
	CommissionFailed  CommissionStatus = "failed"
)

// CommissionJob is the outbox row written with every cash earning.
type CommissionJob struct {
	ID                  int64            `json:"id"`
	SourceTransactionID int64            `json:"source_transaction_id"`
	EarnerID            uuid.UUID        `json:"earner_id"`
	Amount              decimal.Decimal  `json:"amount"`
	SourceKind          TxKind           `json:"source_kind"`
	Status              CommissionStatus `json:"status"`
	Attempts            int              `json:"attempts"`
	NextAttemptAt       time.Time        `json:"next_attempt_at"`
	LastError           string           `json:"last_error,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// LuckyDrawEntry records entries bought into the lucky draw.
type LuckyDrawEntry struct {
	ID            int64     `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	EntryCount    int       `json:"entry_count"`
	TransactionID int64     `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// LuckyDrawWinner is a prize awarded in a lucky draw.
type LuckyDrawWinner struct {
	ID          int64           `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	DisplayName string          `json:"display_name"`
	PrizeAmount decimal.Decimal `json:"prize_amount"`
	Position    int             `json:"position"`
	DrawDate    time.Time       `json:"draw_date"`
}

// LeaderboardEntry is one row of the earnings leaderboard.
type LeaderboardEntry struct {
	Rank          int             `json:"rank"`
	UserID        uuid.UUID       `json:"user_id"`
	DisplayName   string          `json:"display_name"`
	TotalEarnings decimal.Decimal `json:"total_earnings"`
}

// Statistics are platform-wide aggregates.
type Statistics struct {
	Users                int64           `json:"users"`
	ActiveUsers          int64           `json:"active_users"`
	TotalPayouts         decimal.Decimal `json:"total_payouts"`
	CompletedWithdrawals int64           `json:"completed_withdrawals"`
	AverageEarnings      decimal.Decimal `json:"average_earnings"`
}
