package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"cryptra/internal/model"
	"cryptra/internal/repository"
)

// CartLine is one product in a checkout.
type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// MergeCart validates lines, merges duplicates and orders them by product
// id, which is also the row-lock order.
func MergeCart(lines []CartLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, validationf("cart is empty")
	}
	qty := make(map[int64]int, len(lines))
	for _, l := range lines {
		if l.ProductID <= 0 {
			return nil, validationf("invalid product id %d", l.ProductID)
		}
		if l.Quantity <= 0 {
			return nil, validationf("quantity must be positive")
		}
		qty[l.ProductID] += l.Quantity
	}
	out := make([]CartLine, 0, len(qty))
	for id, q := range qty {
		out = append(out, CartLine{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// PurchaseReceipt is the result of a checkout.
type PurchaseReceipt struct {
	Orders  []*model.Order `json:"orders"`
	Receipt *Receipt       `json:"receipt"`
}

// LuckyDrawReceipt is the result of buying lucky draw entries.
type LuckyDrawReceipt struct {
	Entry   *model.LuckyDrawEntry `json:"entry,omitempty"`
	Total   int                   `json:"total"`
	Receipt *Receipt              `json:"receipt"`
}

// ProductInput creates a product.
type ProductInput struct {
	Name        string
	Category    string
	Description string
	PriceCoins  int64
	Stock       int
}

// ShopService runs the coin marketplace and lucky draw.
type ShopService struct {
	engine     *Engine
	stores     Stores
	entryCost  int64
	maxEntries int
}

// NewShopService creates a ShopService.
func NewShopService(engine *Engine, entryCost int64, maxEntries int) *ShopService {
	return &ShopService{engine: engine, stores: engine.stores, entryCost: entryCost, maxEntries: maxEntries}
}

// ListProducts returns active products, optionally in one category.
func (s *ShopService) ListProducts(ctx context.Context, category string) ([]*model.Product, error) {
	return s.stores.Products.List(ctx, strings.ToLower(strings.TrimSpace(category)))
}

// GetProduct returns one product.
func (s *ShopService) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, err := s.stores.Products.GetByID(ctx, id)
	if errors.Is(err, repository.ErrProductNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return p, err
}

// CreateProduct adds a product. The slug is derived from the name, with a
// numeric suffix when taken.
func (s *ShopService) CreateProduct(ctx context.Context, in ProductInput) (*model.Product, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationf("product name is required")
	}
	if in.PriceCoins <= 0 {
		return nil, validationf("price must be positive")
	}
	if in.Stock < 0 {
		return nil, validationf("stock must not be negative")
	}

	base := slug.Make(name)
	for i := 1; i <= 20; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		p, err := s.stores.Products.Create(ctx, &model.Product{
			Name:          name,
			Slug:          candidate,
			Category:      strings.ToLower(strings.TrimSpace(in.Category)),
			Description:   in.Description,
			PriceCoins:    in.PriceCoins,
			StockQuantity: in.Stock,
			IsActive:      true,
		})
		if errors.Is(err, repository.ErrDuplicateSlug) {
			continue
		}
		return p, err
	}
	return nil, fmt.Errorf("%w: no free slug for %q", ErrValidation, name)
}

// Purchase buys qty units of one product.
func (s *ShopService) Purchase(ctx context.Context, userID uuid.UUID, productID int64, qty int, requestKey string) (*PurchaseReceipt, error) {
	return s.Checkout(ctx, userID, []CartLine{{ProductID: productID, Quantity: qty}}, requestKey)
}

// Checkout buys every line of the cart in one transaction: product rows are
// locked, stock and coins are checked, coins are debited once for the total,
// stock is decremented and an order is written per line. Any failure leaves
// nothing behind.
func (s *ShopService) Checkout(ctx context.Context, userID uuid.UUID, lines []CartLine, requestKey string) (*PurchaseReceipt, error) {
	cart, err := MergeCart(lines)
	if err != nil {
		return nil, err
	}
	key := keyOrNew("order", requestKey)

	var out *PurchaseReceipt
	err = s.engine.InUserTx(ctx, userID, func(ctx context.Context, tx pgx.Tx) error {
		u, prior, err := s.engine.lockUser(ctx, tx, userID, key)
		if err != nil {
			return err
		}
		products := s.stores.Products.WithTx(tx)
		if prior != nil {
			orders, err := products.ListOrdersByTransaction(ctx, prior.ID)
			if err != nil {
				return err
			}
			out = &PurchaseReceipt{Orders: orders, Receipt: newReceipt(prior, true)}
			return nil
		}

		locked := make([]*model.Product, len(cart))
		var total int64
		for i, line := range cart {
			p, err := products.GetForUpdate(ctx, line.ProductID)
			if errors.Is(err, repository.ErrProductNotFound) {
				return fmt.Errorf("%w: product %d", ErrNotFound, line.ProductID)
			}
			if err != nil {
				return err
			}
			if !p.IsActive {
				return fmt.Errorf("%w: product %d is not for sale", ErrNotFound, p.ID)
			}
			if p.StockQuantity < line.Quantity {
				return fmt.Errorf("%w: %s has %d left", ErrOutOfStock, p.Name, p.StockQuantity)
			}
			if p.PriceCoins > (math.MaxInt64-total)/int64(line.Quantity) {
				return validationf("order total overflows")
			}
			total += p.PriceCoins * int64(line.Quantity)
			locked[i] = p
		}
		if u.Coins < total {
			return fmt.Errorf("%w: have %d coins, need %d", ErrInsufficientFunds, u.Coins, total)
		}

		desc := fmt.Sprintf("Purchase: %s", locked[0].Name)
		if len(locked) > 1 {
			desc = fmt.Sprintf("Purchase: %d products", len(locked))
		}
		t, err := s.engine.post(ctx, tx, posting{
			userID:      userID,
			kind:        model.TxTypePurchase,
			coins:       -total,
			description: desc,
			key:         key,
		})
		if err != nil {
			return err
		}

		orders := make([]*model.Order, 0, len(cart))
		for i, line := range cart {
			p := locked[i]
			if err := products.DecrementStock(ctx, p.ID, line.Quantity); err != nil {
				return err
			}
			o, err := products.CreateOrder(ctx, &model.Order{
				UserID:         userID,
				ProductID:      p.ID,
				ProductName:    p.Name,
				Quantity:       line.Quantity,
				UnitPriceCoins: p.PriceCoins,
				TotalCoins:     p.PriceCoins * int64(line.Quantity),
				Status:         model.OrderPending,
				TransactionID:  t.ID,
			})
			if err != nil {
				return err
			}
			orders = append(orders, o)
		}
		out = &PurchaseReceipt{Orders: orders, Receipt: newReceipt(t, false)}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check out: %w", err)
	}
	s.engine.afterSpend(out.Receipt)
	return out, nil
}

// ListOrders returns a user's orders.
func (s *ShopService) ListOrders(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.stores.Products.ListOrders(ctx, userID, limit)
}

// RecentWinners returns the latest lucky draw winners.
func (s *ShopService) RecentWinners(ctx context.Context, limit int) ([]*model.LuckyDrawWinner, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return s.stores.Products.RecentWinners(ctx, limit)
}

// luckyDrawCost prices count entries. maxEntries <= 0 means no cap.
func luckyDrawCost(entryCost int64, count, maxEntries int) (int64, error) {
	switch {
	case count <= 0 && maxEntries <= 0:
		return 0, validationf("entries must be at least 1")
	case count <= 0 || (maxEntries > 0 && count > maxEntries):
		return 0, validationf("entries must be between 1 and %d", maxEntries)
	case entryCost > 0 && int64(count) > math.MaxInt64/entryCost:
		return 0, validationf("entry total overflows")
	}
	return entryCost * int64(count), nil
}

// BuyLuckyDrawEntries spends EntryCost coins per entry.
func (s *ShopService) BuyLuckyDrawEntries(ctx context.Context, userID uuid.UUID, count int, requestKey string) (*LuckyDrawReceipt, error) {
	cost, err := luckyDrawCost(s.entryCost, count, s.maxEntries)
	if err != nil {
		return nil, err
	}
	key := keyOrNew("lucky_draw", requestKey)

	var out *LuckyDrawReceipt
	err = s.engine.InUserTx(ctx, userID, func(ctx context.Context, tx pgx.Tx) error {
		products := s.stores.Products.WithTx(tx)
		r, err := s.engine.spendTx(ctx, tx, SpendRequest{
			UserID:         userID,
			Coins:          cost,
			Description:    fmt.Sprintf("Lucky draw: %d entries", count),
			IdempotencyKey: key,
		})
		if err != nil {
			return err
		}
		var entry *model.LuckyDrawEntry
		if !r.Replayed {
			entry, err = products.CreateLuckyDrawEntry(ctx, &model.LuckyDrawEntry{
				UserID:        userID,
				EntryCount:    count,
				TransactionID: r.TransactionID,
			})
			if err != nil {
				return err
			}
		}
		total, err := products.CountLuckyDrawEntries(ctx, userID)
		if err != nil {
			return err
		}
		out = &LuckyDrawReceipt{Entry: entry, Total: total, Receipt: r}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to buy lucky draw entries: %w", err)
	}
	s.engine.afterSpend(out.Receipt)
	log.Debug().Str("user_id", userID.String()).Int("entries", count).Int("total", out.Total).Msg("Lucky draw entries bought")
	return out, nil
}
