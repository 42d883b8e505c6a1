package handler

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"cryptra/internal/service"
)

// AccountHandler handles account-related commands.
type AccountHandler struct {
	accountService  *service.AccountService
	referralService *service.ReferralService
	session         *Session
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountService *service.AccountService, referralService *service.ReferralService, session *Session) *AccountHandler {
	return &AccountHandler{
		accountService:  accountService,
		referralService: referralService,
		session:         session,
	}
}

// HandleStart handles /start [referral_code].
// Registers the sender on first contact; a deep-link payload is the
// referral code.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx := senderContext(c)

	var code string
	if m := c.Message(); m != nil {
		code = strings.TrimSpace(m.Payload)
	}
	tgID := sender.ID
	user, created, err := h.accountService.Register(ctx, service.SignupRequest{
		TelegramID:   &tgID,
		DisplayName:  displayName(sender),
		ReferralCode: code,
	})
	if err != nil {
		return replyError(c, "start", err)
	}
	h.session.Remember(sender.ID, user.ID)

	if created {
		msg := fmt.Sprintf("🎉 Welcome %s!\n\n", user.DisplayName)
		if user.ReferrerID != nil {
			msg += "🤝 You joined through a friend's invite.\n\n"
		}
		msg += "Earn every day:\n" +
			"/checkin - daily check-in\n" +
			"/ad - watch an ad\n" +
			"/scratch - scratch card\n" +
			"/treasure - daily treasure\n" +
			"/tasks - bonus tasks\n\n" +
			"/balance - your wallet\n" +
			"/ref - invite friends\n" +
			"/shop - spend your coins"
		return c.Reply(msg)
	}

	return c.Reply(fmt.Sprintf(
		"👋 Welcome back %s!\n\n💵 Balance: %s\n🪙 Coins: %d",
		user.DisplayName, money(user.Balance), user.Coins,
	))
}

// HandleBalance handles /balance.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "balance", err)
	}
	user, err := h.accountService.GetUser(ctx, id)
	if err != nil {
		return replyError(c, "balance", err)
	}
	return c.Reply(fmt.Sprintf("💵 Balance: %s\n🪙 Coins: %d", money(user.Balance), user.Coins))
}

// HandleProfile handles /profile.
func (h *AccountHandler) HandleProfile(c tele.Context) error {
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "profile", err)
	}
	p, err := h.accountService.GetProfile(ctx, id)
	if err != nil {
		return replyError(c, "profile", err)
	}
	return c.Reply(FormatProfile(p))
}

// FormatProfile renders a profile summary.
func FormatProfile(p *service.Profile) string {
	var b strings.Builder
	b.WriteString("👤 " + p.User.DisplayName + "\n" + divider + "\n")
	if p.Rank > 0 {
		fmt.Fprintf(&b, "🏅 Rank: #%d\n", p.Rank)
	}
	fmt.Fprintf(&b, "📈 Total earned: %s\n", money(p.User.TotalEarnings))
	fmt.Fprintf(&b, "💸 Total withdrawn: %s\n", money(p.TotalWithdrawn))
	if p.Referrals != nil {
		fmt.Fprintf(&b, "👥 Referrals: %d (%d active)\n", p.Referrals.Total, p.Referrals.Active)
	}
	fmt.Fprintf(&b, "🎰 Lucky draw entries: %d\n", p.LuckyDrawEntries)
	b.WriteString("🔗 Code: " + p.Links.Code)
	return b.String()
}

// HandleMe handles /me: balances, streak and today's quotas.
func (h *AccountHandler) HandleMe(c tele.Context) error {
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "me", err)
	}
	d, err := h.accountService.GetDashboard(ctx, id)
	if err != nil {
		return replyError(c, "me", err)
	}

	var b strings.Builder
	b.WriteString("📊 Dashboard\n" + divider + "\n")
	fmt.Fprintf(&b, "👤 %s\n", d.User.DisplayName)
	fmt.Fprintf(&b, "💵 Balance: %s\n", money(d.User.Balance))
	fmt.Fprintf(&b, "🪙 Coins: %d\n", d.User.Coins)
	fmt.Fprintf(&b, "📈 Total earned: %s\n", money(d.User.TotalEarnings))
	fmt.Fprintf(&b, "🔥 Check-in streak: %d\n", d.Streak)
	b.WriteString(divider + "\n")
	for _, q := range d.Quotas {
		if q.TaskID != 0 {
			continue
		}
		mark := "✅"
		if q.Remaining != 0 {
			mark = "▫️"
		}
		fmt.Fprintf(&b, "%s %s %d/%d\n", mark, q.Kind, q.Used, q.Limit)
	}
	b.WriteString(divider)
	return c.Reply(b.String())
}

// HandleRef handles /ref: invite links and downline stats.
func (h *AccountHandler) HandleRef(c tele.Context) error {
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "ref", err)
	}
	user, err := h.accountService.GetUser(ctx, id)
	if err != nil {
		return replyError(c, "ref", err)
	}
	stats, err := h.referralService.Stats(ctx, id, 5)
	if err != nil {
		return replyError(c, "ref", err)
	}

	links := h.accountService.ReferralLinks(user)
	var b strings.Builder
	b.WriteString("🤝 Invite friends\n" + divider + "\n")
	fmt.Fprintf(&b, "🔑 Code: %s\n", links.Code)
	if links.Telegram != "" {
		fmt.Fprintf(&b, "📲 %s\n", links.Telegram)
	}
	fmt.Fprintf(&b, "🌐 %s\n", links.Web)
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "👥 Referred: %d (%d active)\n", stats.Counts.Total, stats.Counts.Active)
	for level := 1; level <= len(stats.Counts.ByLevel); level++ {
		fmt.Fprintf(&b, "   L%d: %d\n", level, stats.Counts.ByLevel[level])
	}
	fmt.Fprintf(&b, "💰 Today: %s\n", money(stats.TodayCommission))
	fmt.Fprintf(&b, "💰 All time: %s\n", money(stats.TotalCommission))
	b.WriteString(divider)
	return c.Reply(b.String())
}

// HandleTasks handles /tasks.
func (h *AccountHandler) HandleTasks(c tele.Context) error {
	ctx := senderContext(c)
	tasks, err := h.accountService.ListTasks(ctx)
	if err != nil {
		return replyError(c, "tasks", err)
	}
	if len(tasks) == 0 {
		return c.Reply("📋 No tasks available right now")
	}

	var b strings.Builder
	b.WriteString("📋 Tasks\n" + divider + "\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "#%d %s: %s", t.ID, t.Title, money(t.RewardAmount))
		if t.RewardCoins > 0 {
			fmt.Fprintf(&b, " + %d🪙", t.RewardCoins)
		}
		b.WriteString("\n")
	}
	b.WriteString(divider + "\nComplete with /task <id>")
	return c.Reply(b.String())
}
