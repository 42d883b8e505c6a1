// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"cryptra/internal/config"
	"cryptra/internal/handler"
	"cryptra/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config

	accountHandler *handler.AccountHandler
	earnHandler    *handler.EarnHandler
	shopHandler    *handler.ShopHandler
	walletHandler  *handler.WalletHandler
	rankingHandler *handler.RankingHandler
	adminHandler   *handler.AdminHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config     *config.Config
	Accounts   *service.AccountService
	Referrals  *service.ReferralService
	Rewards    *service.Rewards
	Ranking    *service.RankingService
	Shop       *service.ShopService
	Wallet     *service.WalletService
	BackOffice *service.BackOffice
	Session    *handler.Session
	Clock      clockwork.Clock
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("Bot handler error")
		},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	b := &Bot{
		bot:            teleBot,
		cfg:            deps.Config,
		accountHandler: handler.NewAccountHandler(deps.Accounts, deps.Referrals, deps.Session),
		earnHandler:    handler.NewEarnHandler(deps.Rewards, deps.Accounts, deps.Session, clock),
		shopHandler:    handler.NewShopHandler(deps.Shop, deps.Accounts, deps.Session),
		walletHandler:  handler.NewWalletHandler(deps.Rewards, deps.Wallet, deps.Session),
		rankingHandler: handler.NewRankingHandler(deps.Rewards, deps.Ranking, deps.Session),
		adminHandler:   handler.NewAdminHandler(deps.BackOffice),
	}

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command and callback handlers.
func (b *Bot) registerHandlers() {
	// Account
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/balance", b.accountHandler.HandleBalance)
	b.bot.Handle("/me", b.accountHandler.HandleMe)
	b.bot.Handle("/profile", b.accountHandler.HandleProfile)
	b.bot.Handle("/ref", b.accountHandler.HandleRef)
	b.bot.Handle("/tasks", b.accountHandler.HandleTasks)

	// Earning
	b.bot.Handle("/checkin", b.earnHandler.HandleCheckin)
	b.bot.Handle("/treasure", b.earnHandler.HandleTreasure)
	b.bot.Handle("/scratch", b.earnHandler.HandleScratch)
	b.bot.Handle("/ad", b.earnHandler.HandleAd)
	b.bot.Handle("/task", b.earnHandler.HandleTask)

	// Ranking
	b.bot.Handle("/top", b.rankingHandler.HandleTop)
	b.bot.Handle("/stats", b.rankingHandler.HandleStats)
	b.bot.Handle("/winners", b.shopHandler.HandleWinners)

	// Money movements, private chat only
	private := b.bot.Group()
	private.Use(PrivateOnly())
	private.Handle("/shop", b.shopHandler.HandleShop)
	private.Handle("/buy", b.shopHandler.HandleBuy)
	private.Handle("/orders", b.shopHandler.HandleOrders)
	private.Handle("/draw", b.shopHandler.HandleDraw)
	private.Handle("/coins", b.walletHandler.HandleCoins)
	private.Handle("/withdraw", b.walletHandler.HandleWithdraw)
	private.Handle("/withdrawals", b.walletHandler.HandleWithdrawals)
	private.Handle("/history", b.walletHandler.HandleHistory)

	// Back office
	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/pending", b.adminHandler.HandlePending)
	adminGroup.Handle("/wd_approve", b.adminHandler.HandleApprove)
	adminGroup.Handle("/wd_complete", b.adminHandler.HandleComplete)
	adminGroup.Handle("/wd_reject", b.adminHandler.HandleReject)

	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

// handleCallback routes callbacks to appropriate handlers.
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	// Telebot v3 may add a \f prefix to callback data
	data := strings.TrimPrefix(callback.Data, "\f")
	log.Debug().Str("data", data).Msg("Callback received")

	switch {
	case strings.HasPrefix(data, "shop_"):
		return b.shopHandler.HandleShopCallback(c, data)
	case strings.HasPrefix(data, handler.CallbackAdDone):
		return b.earnHandler.HandleAdCallback(c, data)
	}
	return c.Respond()
}

var commands = []tele.Command{
	{Text: "start", Description: "Join or open your account"},
	{Text: "checkin", Description: "Daily check-in"},
	{Text: "ad", Description: "Watch an ad"},
	{Text: "scratch", Description: "Scratch card"},
	{Text: "treasure", Description: "Daily treasure"},
	{Text: "tasks", Description: "Bonus tasks"},
	{Text: "balance", Description: "Your wallet"},
	{Text: "me", Description: "Dashboard and streak"},
	{Text: "ref", Description: "Invite friends"},
	{Text: "shop", Description: "Spend coins"},
	{Text: "coins", Description: "Buy coins"},
	{Text: "withdraw", Description: "Cash out"},
	{Text: "top", Description: "Leaderboard"},
	{Text: "winners", Description: "Lucky draw winners"},
}

// Start starts the bot polling. It blocks until Stop.
func (b *Bot) Start() {
	log.Info().Str("username", b.bot.Me.Username).Msg("Starting bot...")
	if err := b.bot.SetCommands(commands); err != nil {
		log.Warn().Err(err).Msg("Failed to publish bot commands")
	}
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}

// PruneAdViews drops ad views nobody claimed within maxAge.
func (b *Bot) PruneAdViews(maxAge time.Duration) int {
	return b.earnHandler.PruneViews(maxAge)
}
