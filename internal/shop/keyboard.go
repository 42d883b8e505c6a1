package shop

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"

	"cryptra/internal/model"
)

// Callback data prefixes
const (
	CallbackShopItem    = "shop_item:"   // shop_item:42
	CallbackShopBuy     = "shop_buy:"    // shop_buy:42
	CallbackShopCat     = "shop_cat:"    // shop_cat:vouchers
	CallbackShopCancel  = "shop_cancel"  // shop_cancel
	CallbackShopRefresh = "shop_refresh" // shop_refresh
)

// Action is a decoded shop callback.
type Action struct {
	Kind      string
	ProductID int64
	Category  string
}

// ParseCallback decodes shop callback data.
func ParseCallback(data string) (Action, bool) {
	switch {
	case data == CallbackShopCancel, data == CallbackShopRefresh:
		return Action{Kind: data}, true
	case strings.HasPrefix(data, CallbackShopCat):
		return Action{Kind: CallbackShopCat, Category: strings.TrimPrefix(data, CallbackShopCat)}, true
	}
	for _, prefix := range []string{CallbackShopItem, CallbackShopBuy} {
		if !strings.HasPrefix(data, prefix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
		if err != nil || id <= 0 {
			return Action{}, false
		}
		return Action{Kind: prefix, ProductID: id}, true
	}
	return Action{}, false
}

// BuildShopPanel creates the catalogue panel: one button per product, two
// per row, then the category filters.
func BuildShopPanel(products []*model.Product) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	var rows []tele.Row
	var currentRow []tele.Btn
	for i, p := range products {
		label := fmt.Sprintf("%s %s (%d🪙)", Emoji(p.Category), p.Name, p.PriceCoins)
		if p.StockQuantity <= 0 {
			label = "🚫 " + p.Name
		}
		currentRow = append(currentRow, markup.Data(label, CallbackShopItem+strconv.FormatInt(p.ID, 10)))

		if len(currentRow) == 2 || i == len(products)-1 {
			rows = append(rows, markup.Row(currentRow...))
			currentRow = nil
		}
	}

	var cats []tele.Btn
	for _, c := range Categories {
		cats = append(cats, markup.Data(c.Emoji, CallbackShopCat+c.Key))
	}
	rows = append(rows, markup.Row(cats...))
	rows = append(rows, markup.Row(markup.Data("🔄 Refresh", CallbackShopRefresh)))

	markup.Inline(rows...)
	return markup
}

// BuildConfirmPanel creates the purchase confirmation panel.
func BuildConfirmPanel(productID int64) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	buyBtn := markup.Data("✅ Buy", CallbackShopBuy+strconv.FormatInt(productID, 10))
	cancelBtn := markup.Data("❌ Cancel", CallbackShopCancel)

	markup.Inline(
		markup.Row(buyBtn, cancelBtn),
	)
	return markup
}

// FormatShopMessage creates the shop welcome message.
func FormatShopMessage(coins int64, category string) string {
	msg := "🏪 Marketplace"
	if c, ok := GetCategory(category); ok {
		msg += " · " + c.Emoji + " " + c.Name
	}
	msg += "\n━━━━━━━━━━━━━━━\n"
	msg += fmt.Sprintf("🪙 Your coins: %d\n", coins)
	msg += "━━━━━━━━━━━━━━━\n"
	msg += "Tap a product for details:"
	return msg
}

// FormatProductDetail creates the product detail message.
func FormatProductDetail(p *model.Product, coins int64) string {
	msg := fmt.Sprintf("%s %s\n", Emoji(p.Category), p.Name)
	msg += "━━━━━━━━━━━━━━━\n"
	msg += fmt.Sprintf("🪙 Price: %d coins\n", p.PriceCoins)
	if p.StockQuantity > 0 {
		msg += fmt.Sprintf("📦 In stock: %d\n", p.StockQuantity)
	} else {
		msg += "📦 Out of stock\n"
	}
	desc := p.Description
	if desc == "" {
		desc = "No description available."
	}
	msg += fmt.Sprintf("📝 %s\n", desc)
	msg += "━━━━━━━━━━━━━━━\n"
	msg += fmt.Sprintf("🪙 Your coins: %d\n", coins)

	switch {
	case p.StockQuantity <= 0:
		msg += "❌ Sold out"
	case coins < p.PriceCoins:
		msg += "❌ Not enough coins"
	default:
		msg += "Buy it?"
	}
	return msg
}

// FormatOrders lists recent orders.
func FormatOrders(orders []*model.Order) string {
	if len(orders) == 0 {
		return "📦 No orders yet\n\nBrowse the marketplace with /shop"
	}
	msg := "📦 My orders\n"
	msg += "━━━━━━━━━━━━━━━\n"
	for _, o := range orders {
		msg += fmt.Sprintf("#%d %s x%d · %d🪙 · %s\n", o.ID, o.ProductName, o.Quantity, o.TotalCoins, o.Status)
	}
	return msg
}

// FormatWinners renders recent lucky draw winners.
func FormatWinners(winners []*model.LuckyDrawWinner) string {
	if len(winners) == 0 {
		return "🎰 No draws yet\n\nGet entries with /draw"
	}
	msg := "🏆 Recent lucky draw winners\n"
	msg += "━━━━━━━━━━━━━━━\n"
	for _, w := range winners {
		name := w.DisplayName
		if name == "" {
			name = w.UserID.String()[:8]
		}
		msg += fmt.Sprintf("%s #%d %s: $%s\n", w.DrawDate.Format("2006-01-02"), w.Position, name, w.PrizeAmount.StringFixed(2))
	}
	return msg
}
