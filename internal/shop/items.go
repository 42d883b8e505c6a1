// Package shop renders the coin marketplace in Telegram: catalogue panels,
// product details and the purchase confirmation flow.
package shop

// Category groups marketplace products.
type Category struct {
	Key   string
	Name  string
	Emoji string
}

// Categories lists the known product categories in panel order.
var Categories = []Category{
	{Key: "gift_cards", Name: "Gift cards", Emoji: "🎁"},
	{Key: "vouchers", Name: "Vouchers", Emoji: "🎟️"},
	{Key: "electronics", Name: "Electronics", Emoji: "📱"},
	{Key: "merch", Name: "Merch", Emoji: "👕"},
}

// DefaultEmoji marks products outside the known categories.
const DefaultEmoji = "🛒"

// GetCategory returns the category with key.
func GetCategory(key string) (Category, bool) {
	for _, c := range Categories {
		if c.Key == key {
			return c, true
		}
	}
	return Category{}, false
}

// Emoji returns the icon of a category.
func Emoji(key string) string {
	if c, ok := GetCategory(key); ok {
		return c.Emoji
	}
	return DefaultEmoji
}
