package handler

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v3"

	"cryptra/internal/model"
	"cryptra/internal/service"
)

// WalletHandler handles coin purchases, withdrawals and history.
type WalletHandler struct {
	rewards *service.Rewards
	wallet  *service.WalletService
	session *Session
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(rewards *service.Rewards, wallet *service.WalletService, session *Session) *WalletHandler {
	return &WalletHandler{
		rewards: rewards,
		wallet:  wallet,
		session: session,
	}
}

// HandleCoins handles /coins <n>: buys coins through the payment gateway.
func (h *WalletHandler) HandleCoins(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Reply(coinPriceTable())
	}
	coins, err := argInt(args, 0, 0)
	if err != nil {
		return c.Reply("❌ " + err.Error())
	}

	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "coins", err)
	}
	p, err := h.wallet.BuyCoins(ctx, id, coins, requestKey(c))
	if err != nil {
		return replyError(c, "coins", err)
	}
	return c.Reply(fmt.Sprintf(
		"✅ Bought %d coins\n%s\n💳 Charged: %s (%s each)\n🪙 Coins: %d",
		coins, divider, money(p.Total), p.UnitPrice.String(), p.Receipt.CoinBalance,
	))
}

func coinPriceTable() string {
	var b strings.Builder
	b.WriteString("🪙 Buy coins: /coins <amount>\n" + divider + "\n")
	for _, n := range []int64{100, 500, 1000, 5000} {
		unit, total := service.CoinPrice(n)
		fmt.Fprintf(&b, "%d coins: %s ($%s each)\n", n, money(total), unit.String())
	}
	b.WriteString(divider)
	return b.String()
}

// HandleWithdraw handles /withdraw <amount> <upi|paypal> <destination>.
func (h *WalletHandler) HandleWithdraw(c tele.Context) error {
	args := c.Args()
	policy := h.wallet.Policy()
	if len(args) < 3 {
		return c.Reply(fmt.Sprintf(
			"💸 Usage: /withdraw <amount> <upi|paypal> <destination>\n"+
				"Limits: %s to %s, fee %s%%",
			money(policy.Min), money(policy.Max), policy.FeePercent.String(),
		))
	}
	amount, err := decimal.NewFromString(strings.TrimPrefix(args[0], "$"))
	if err != nil {
		return c.Reply("❌ Invalid amount")
	}

	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "withdraw", err)
	}
	r, err := h.rewards.RequestWithdrawal(ctx, id, amount, args[1], args[2], requestKey(c))
	if err != nil {
		return replyError(c, "withdraw", err)
	}
	w := r.Withdrawal
	return c.Reply(fmt.Sprintf(
		"✅ Withdrawal requested\n%s\n💸 Amount: %s\n🧾 Fee: %s\n💵 You receive: %s\n📮 %s → %s\n⏳ Status: %s\n%s\nBalance: %s",
		divider, money(w.Amount), money(w.Fee), money(w.NetAmount), w.Method, w.Destination, w.Status,
		divider, money(r.Receipt.Balance),
	))
}

// HandleWithdrawals handles /withdrawals.
func (h *WalletHandler) HandleWithdrawals(c tele.Context) error {
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "withdrawals", err)
	}
	list, err := h.wallet.Withdrawals(ctx, id, 10)
	if err != nil {
		return replyError(c, "withdrawals", err)
	}
	if len(list) == 0 {
		return c.Reply("💸 No withdrawals yet")
	}
	var b strings.Builder
	b.WriteString("💸 Withdrawals\n" + divider + "\n")
	for _, w := range list {
		fmt.Fprintf(&b, "%s %s %s · %s\n", statusEmoji(w.Status), w.CreatedAt.Format("Jan 02"), money(w.Amount), w.Status)
	}
	b.WriteString(divider)
	return c.Reply(b.String())
}

func statusEmoji(s model.WithdrawalStatus) string {
	switch s {
	case model.WithdrawalCompleted:
		return "✅"
	case model.WithdrawalRejected:
		return "❌"
	case model.WithdrawalApproved:
		return "👍"
	default:
		return "⏳"
	}
}

// HandleHistory handles /history [kind].
func (h *WalletHandler) HandleHistory(c tele.Context) error {
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "history", err)
	}
	var kind model.TxKind
	if args := c.Args(); len(args) > 0 {
		kind = model.TxKind(args[0])
	}
	txs, err := h.wallet.History(ctx, id, kind, 10)
	if err != nil {
		return replyError(c, "history", err)
	}
	if len(txs) == 0 {
		return c.Reply("📜 No transactions yet")
	}
	var b strings.Builder
	b.WriteString("📜 Recent transactions\n" + divider + "\n")
	for _, t := range txs {
		fmt.Fprintf(&b, "%s %s", t.CreatedAt.Format("Jan 02 15:04"), t.Kind)
		if !t.Amount.IsZero() {
			fmt.Fprintf(&b, " %s%s", sign(t.Amount.IsPositive()), money(t.Amount.Abs()))
		}
		if t.Coins != 0 {
			fmt.Fprintf(&b, " %s%d🪙", sign(t.Coins > 0), abs(t.Coins))
		}
		b.WriteString("\n")
	}
	b.WriteString(divider)
	return c.Reply(b.String())
}

func sign(positive bool) string {
	if positive {
		return "+"
	}
	return "-"
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
