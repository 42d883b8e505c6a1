package handler

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"cryptra/internal/service"
	"cryptra/internal/shop"
)

// ShopHandler handles marketplace commands.
type ShopHandler struct {
	shopService    *service.ShopService
	accountService *service.AccountService
	session        *Session
}

// NewShopHandler creates a new ShopHandler.
func NewShopHandler(shopService *service.ShopService, accountService *service.AccountService, session *Session) *ShopHandler {
	return &ShopHandler{
		shopService:    shopService,
		accountService: accountService,
		session:        session,
	}
}

func (h *ShopHandler) coins(ctx context.Context, id uuid.UUID) int64 {
	u, err := h.accountService.GetUser(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("user_id", id.String()).Msg("Failed to load coins for shop panel")
		return 0
	}
	return u.Coins
}

func (h *ShopHandler) panel(ctx context.Context, id uuid.UUID, category string) (string, *tele.ReplyMarkup, error) {
	products, err := h.shopService.ListProducts(ctx, category)
	if err != nil {
		return "", nil, err
	}
	return shop.FormatShopMessage(h.coins(ctx, id), category), shop.BuildShopPanel(products), nil
}

// HandleShop handles /shop [category].
func (h *ShopHandler) HandleShop(c tele.Context) error {
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "shop", err)
	}
	var category string
	if args := c.Args(); len(args) > 0 {
		category = args[0]
	}
	msg, markup, err := h.panel(ctx, id, category)
	if err != nil {
		return replyError(c, "shop", err)
	}
	return c.Send(msg, markup)
}

// HandleBuy handles /buy <product_id> [qty].
func (h *ShopHandler) HandleBuy(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /buy <product_id> [qty]")
	}
	productID, err := argInt(args, 0, 0)
	if err != nil {
		return c.Reply("❌ " + err.Error())
	}
	qty, err := argInt(args, 1, 1)
	if err != nil {
		return c.Reply("❌ " + err.Error())
	}

	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "buy", err)
	}
	r, err := h.shopService.Purchase(ctx, id, productID, int(qty), requestKey(c))
	if err != nil {
		return replyError(c, "buy", err)
	}
	return c.Reply(formatPurchase(r))
}

func formatPurchase(r *service.PurchaseReceipt) string {
	msg := "✅ Order placed\n" + divider + "\n"
	for _, o := range r.Orders {
		msg += shopLine(o.ProductName, o.Quantity, o.TotalCoins)
	}
	msg += divider + "\n"
	if r.Receipt != nil {
		msg += "🪙 Coins left: " + itoa(r.Receipt.CoinBalance)
	}
	return msg
}

// HandleOrders handles /orders.
func (h *ShopHandler) HandleOrders(c tele.Context) error {
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "orders", err)
	}
	orders, err := h.shopService.ListOrders(ctx, id, 10)
	if err != nil {
		return replyError(c, "orders", err)
	}
	return c.Reply(shop.FormatOrders(orders))
}

// HandleDraw handles /draw [entries].
func (h *ShopHandler) HandleDraw(c tele.Context) error {
	count, err := argInt(c.Args(), 0, 1)
	if err != nil {
		return c.Reply("❌ " + err.Error())
	}
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "draw", err)
	}
	r, err := h.shopService.BuyLuckyDrawEntries(ctx, id, int(count), requestKey(c))
	if err != nil {
		return replyError(c, "draw", err)
	}
	return c.Reply("🎰 Lucky draw entries: " + itoa(int64(r.Total)) +
		"\n🪙 Coins left: " + itoa(r.Receipt.CoinBalance))
}

// HandleWinners handles /winners.
func (h *ShopHandler) HandleWinners(c tele.Context) error {
	winners, err := h.shopService.RecentWinners(senderContext(c), 10)
	if err != nil {
		return replyError(c, "winners", err)
	}
	return c.Reply(shop.FormatWinners(winners))
}

// HandleShopCallback handles shop button callbacks.
func (h *ShopHandler) HandleShopCallback(c tele.Context, data string) error {
	action, ok := shop.ParseCallback(data)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "❌ Unknown action"})
	}
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: ErrorMessage(err), ShowAlert: true})
	}

	switch action.Kind {
	case shop.CallbackShopRefresh, shop.CallbackShopCancel, shop.CallbackShopCat:
		msg, markup, err := h.panel(ctx, id, action.Category)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: ErrorMessage(err), ShowAlert: true})
		}
		_ = c.Respond()
		return c.Edit(msg, markup)

	case shop.CallbackShopItem:
		p, err := h.shopService.GetProduct(ctx, action.ProductID)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: ErrorMessage(err)})
		}
		_ = c.Respond()
		return c.Edit(shop.FormatProductDetail(p, h.coins(ctx, id)), shop.BuildConfirmPanel(p.ID))

	case shop.CallbackShopBuy:
		r, err := h.shopService.Purchase(ctx, id, action.ProductID, 1, requestKey(c))
		if err != nil {
			if !isUserError(err) {
				log.Error().Err(err).Str("user_id", id.String()).Int64("product_id", action.ProductID).Msg("Purchase failed")
			}
			return c.Respond(&tele.CallbackResponse{Text: ErrorMessage(err), ShowAlert: true})
		}
		text := "✅ Purchased"
		if len(r.Orders) > 0 {
			text += " " + r.Orders[0].ProductName
		}
		_ = c.Respond(&tele.CallbackResponse{Text: text})

		msg, markup, err := h.panel(ctx, id, "")
		if err != nil {
			return err
		}
		return c.Edit(msg, markup)
	}
	return nil
}
