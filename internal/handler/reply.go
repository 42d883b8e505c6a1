// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v3"

	"cryptra/internal/service"
)

const divider = "━━━━━━━━━━━━━━━"

// senderContext returns a request context carrying the sender's Telegram id.
func senderContext(c tele.Context) context.Context {
	ctx := context.Background()
	if s := c.Sender(); s != nil {
		ctx = WithTelegramID(ctx, s.ID)
	}
	return ctx
}

// requestKey derives an idempotency key from the update so a redelivered
// message replays instead of applying twice.
func requestKey(c tele.Context) string {
	if cb := c.Callback(); cb != nil {
		return "tg:cb:" + cb.ID
	}
	if m := c.Message(); m != nil && c.Chat() != nil {
		return fmt.Sprintf("tg:%d:%d", c.Chat().ID, m.ID)
	}
	return ""
}

func displayName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return fmt.Sprintf("user%d", u.ID)
	}
	return name
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func shopLine(name string, qty int, coins int64) string {
	return fmt.Sprintf("🛒 %s x%d · %d🪙\n", name, qty, coins)
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// ErrorMessage renders a ledger error for a chat reply.
func ErrorMessage(err error) string {
	var denied *service.DeniedError
	switch {
	case errors.As(err, &denied):
		if denied.Reason == service.ReasonAlreadyCompletedToday {
			return "⏰ Already done today. Come back tomorrow!"
		}
		return fmt.Sprintf("⏰ Daily limit reached (%d/%d). Come back tomorrow!", denied.Used, denied.Limit)
	case errors.Is(err, service.ErrUnauthenticated):
		return "👋 You don't have an account yet. Send /start to join."
	case errors.Is(err, service.ErrValidation):
		return "❌ " + validationDetail(err)
	case errors.Is(err, service.ErrInsufficientFunds):
		return "❌ Insufficient balance"
	case errors.Is(err, service.ErrOutOfStock):
		return "❌ Sorry, that item is out of stock"
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUserNotFound):
		return "❌ Not found"
	case errors.Is(err, service.ErrInvalidTransition):
		return "❌ That request is already resolved"
	case errors.Is(err, service.ErrConcurrencyConflict):
		return "⏳ Busy, please try again"
	case errors.Is(err, service.ErrStoreUnavailable):
		return "⚠️ Service temporarily unavailable, please try again later"
	default:
		return "❌ Something went wrong, please try again later"
	}
}

// validationDetail strips the wrapping prefixes down to the validation text.
func validationDetail(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, service.ErrValidation.Error()+": "); i >= 0 {
		return msg[i+len(service.ErrValidation.Error())+2:]
	}
	return "Invalid request"
}

// replyError replies with the user-facing message and logs unexpected errors.
func replyError(c tele.Context, action string, err error) error {
	var denied *service.DeniedError
	if !errors.As(err, &denied) && !isUserError(err) {
		ev := log.Error().Err(err).Str("action", action)
		if s := c.Sender(); s != nil {
			ev = ev.Int64("telegram_id", s.ID)
		}
		ev.Msg("Bot command failed")
	}
	return c.Reply(ErrorMessage(err))
}

func isUserError(err error) bool {
	for _, target := range []error{
		service.ErrUnauthenticated, service.ErrValidation, service.ErrInsufficientFunds,
		service.ErrOutOfStock, service.ErrNotFound, service.ErrUserNotFound,
		service.ErrInvalidTransition, service.ErrQuotaExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// argInt parses the i-th command argument.
func argInt(args []string, i int, def int64) (int64, error) {
	if len(args) <= i {
		return def, nil
	}
	n, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%q is not a positive number", args[i])
	}
	return n, nil
}
