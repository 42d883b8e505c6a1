package handler

import (
	"fmt"

	tele "gopkg.in/telebot.v3"

	"cryptra/internal/model"
	"cryptra/internal/service"
)

// RankingHandler handles leaderboard and statistics commands.
type RankingHandler struct {
	rewards        *service.Rewards
	rankingService *service.RankingService
	session        *Session
}

// NewRankingHandler creates a new RankingHandler.
func NewRankingHandler(rewards *service.Rewards, rankingService *service.RankingService, session *Session) *RankingHandler {
	return &RankingHandler{
		rewards:        rewards,
		rankingService: rankingService,
		session:        session,
	}
}

// HandleTop handles /top: the top 10 earners and the sender's own rank.
func (h *RankingHandler) HandleTop(c tele.Context) error {
	ctx := senderContext(c)

	entries, err := h.rewards.GetLeaderboard(ctx, 10)
	if err != nil {
		return replyError(c, "top", err)
	}
	if len(entries) == 0 {
		return c.Reply("📊 No rankings yet")
	}

	msg := FormatLeaderboard(entries)
	if id, err := h.session.CurrentUser(ctx); err == nil {
		if me, err := h.rankingService.GetUserRank(ctx, id); err == nil {
			msg += fmt.Sprintf("\nYou: #%d · %s", me.Rank, money(me.TotalEarnings))
		}
	}
	return c.Reply(msg)
}

// FormatLeaderboard renders leaderboard entries with medals for the podium.
func FormatLeaderboard(entries []model.LeaderboardEntry) string {
	msg := fmt.Sprintf("🏆 Top %d earners\n", len(entries))
	msg += divider + "\n"

	medals := []string{"🥇", "🥈", "🥉"}
	for i, e := range entries {
		rank := fmt.Sprintf("%d.", e.Rank)
		if i < 3 && e.Rank == i+1 {
			rank = medals[i]
		}
		name := e.DisplayName
		if name == "" {
			name = e.UserID.String()[:8]
		}
		msg += fmt.Sprintf("%s %s: %s\n", rank, name, money(e.TotalEarnings))
	}

	msg += divider
	return msg
}

// HandleStats handles /stats.
func (h *RankingHandler) HandleStats(c tele.Context) error {
	s, err := h.rankingService.GetStatistics(senderContext(c))
	if err != nil {
		return replyError(c, "stats", err)
	}
	return c.Reply(fmt.Sprintf(
		"📈 Platform stats\n%s\n👥 Users: %d\n🟢 Active today: %d\n💸 Paid out: %s (%d withdrawals)\n📊 Average earnings: %s\n%s",
		divider, s.Users, s.ActiveUsers, money(s.TotalPayouts), s.CompletedWithdrawals, money(s.AverageEarnings), divider,
	))
}
