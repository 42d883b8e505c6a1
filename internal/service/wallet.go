package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"cryptra/internal/model"
)

// MaxCoinPurchase bounds a single coin top-up.
const MaxCoinPurchase = 1_000_000

type priceTier struct {
	minCoins int64
	unit     decimal.Decimal
}

// Bulk discounts, largest first.
var coinPriceTiers = []priceTier{
	{5000, decimal.RequireFromString("0.007")},
	{1000, decimal.RequireFromString("0.008")},
	{500, decimal.RequireFromString("0.009")},
	{0, decimal.RequireFromString("0.01")},
}

// CoinPrice returns the per-coin price and the total in dollars, rounded
// to cents, for buying coins.
func CoinPrice(coins int64) (unit, total decimal.Decimal) {
	for _, t := range coinPriceTiers {
		if coins >= t.minCoins {
			unit = t.unit
			break
		}
	}
	return unit, unit.Mul(decimal.NewFromInt(coins)).Round(2)
}

// PaymentGateway charges users for coin purchases.
type PaymentGateway interface {
	// Charge takes amount from the user and returns a payment reference.
	// Repeating a call with the same key returns the same reference.
	Charge(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, key string) (string, error)
}

var paymentNamespace = uuid.MustParse("5f1c2b0e-8d3a-4c61-9d2e-7a4b1e0c9f35")

// SimulatedGateway accepts every charge. References are derived from the
// user and key so retries map to the same top-up.
type SimulatedGateway struct{}

// Charge implements PaymentGateway.
func (SimulatedGateway) Charge(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, key string) (string, error) {
	if !amount.IsPositive() {
		return "", validationf("charge amount must be positive")
	}
	ref := uuid.NewSHA1(paymentNamespace, []byte(userID.String()+":"+key))
	return "sim_" + ref.String(), nil
}

// WalletService handles coin purchases, withdrawal quotes and history.
type WalletService struct {
	engine  *Engine
	stores  Stores
	gateway PaymentGateway
}

// NewWalletService creates a WalletService.
func NewWalletService(engine *Engine, gateway PaymentGateway) *WalletService {
	if gateway == nil {
		gateway = SimulatedGateway{}
	}
	return &WalletService{engine: engine, stores: engine.stores, gateway: gateway}
}

// CoinPurchase is the result of BuyCoins.
type CoinPurchase struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
	Receipt   *Receipt        `json:"receipt"`
}

// BuyCoins charges the gateway for coins and credits them.
func (s *WalletService) BuyCoins(ctx context.Context, userID uuid.UUID, coins int64, requestKey string) (*CoinPurchase, error) {
	if coins <= 0 || coins > MaxCoinPurchase {
		return nil, validationf("coins must be between 1 and %d", MaxCoinPurchase)
	}
	if _, err := s.stores.Users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	unit, total := CoinPrice(coins)
	key := keyOrNew("coins", requestKey)
	ref, err := s.gateway.Charge(ctx, userID, total, key)
	if err != nil {
		return nil, fmt.Errorf("payment failed: %w", err)
	}

	r, err := s.engine.ApplyCoinTopUp(ctx, userID, coins, ref, total)
	if err != nil {
		// The charge went through; the top-up is retried with the same ref.
		log.Error().Err(err).Str("user_id", userID.String()).Str("payment_ref", ref).Msg("Coin top-up failed after charge")
		return nil, err
	}
	return &CoinPurchase{UnitPrice: unit, Total: total, Receipt: r}, nil
}

// Policy returns the withdrawal limits.
func (s *WalletService) Policy() WithdrawalPolicy {
	return s.engine.Policy()
}

// QuoteWithdrawal returns the fee breakdown for amount.
func (s *WalletService) QuoteWithdrawal(amount decimal.Decimal) (Quote, error) {
	if !amount.IsPositive() {
		return Quote{}, validationf("amount must be positive")
	}
	return s.engine.Policy().Quote(amount), nil
}

// History returns a user's transactions, optionally of one kind.
func (s *WalletService) History(ctx context.Context, userID uuid.UUID, kind model.TxKind, limit int) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.stores.Transactions.GetByUserID(ctx, userID, kind, limit)
}

// Withdrawals returns a user's withdrawals, newest first.
func (s *WalletService) Withdrawals(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Withdrawal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.stores.Withdrawals.ListByUser(ctx, userID, limit)
}
