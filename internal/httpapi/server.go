// Package httpapi exposes the reward ledger over HTTP with Fiber.
//
// Every /api/v1 route sits behind the gateway token. The gateway resolves
// the player and forwards their id in X-User-ID.
package httpapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"cryptra/internal/metrics"
	"cryptra/internal/model"
	"cryptra/internal/service"
)

// Accounts is the account surface used by the API.
type Accounts interface {
	Register(ctx context.Context, req service.SignupRequest) (*model.User, bool, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*service.Profile, error)
	GetDashboard(ctx context.Context, id uuid.UUID) (*service.Dashboard, error)
	ListTasks(ctx context.Context) ([]*model.Task, error)
	ListAds(ctx context.Context) ([]*model.Advertisement, error)
	ReferralLinks(u *model.User) service.ReferralLinks
}

// Rewards is the gated earning contract.
type Rewards interface {
	GateAndEarn(ctx context.Context, userID uuid.UUID, kind model.ActivityKind, ec service.EarnContext) (*service.Receipt, error)
	SpendCoins(ctx context.Context, userID uuid.UUID, amount int64, reason, requestKey string) (*service.Receipt, error)
	RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, method, destination, requestKey string) (*service.WithdrawalReceipt, error)
	GetLeaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}

// Shop is the marketplace surface.
type Shop interface {
	ListProducts(ctx context.Context, category string) ([]*model.Product, error)
	Purchase(ctx context.Context, userID uuid.UUID, productID int64, qty int, requestKey string) (*service.PurchaseReceipt, error)
	Checkout(ctx context.Context, userID uuid.UUID, lines []service.CartLine, requestKey string) (*service.PurchaseReceipt, error)
	ListOrders(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Order, error)
	BuyLuckyDrawEntries(ctx context.Context, userID uuid.UUID, count int, requestKey string) (*service.LuckyDrawReceipt, error)
	RecentWinners(ctx context.Context, limit int) ([]*model.LuckyDrawWinner, error)
}

// Wallet is the coin and withdrawal surface.
type Wallet interface {
	BuyCoins(ctx context.Context, userID uuid.UUID, coins int64, requestKey string) (*service.CoinPurchase, error)
	QuoteWithdrawal(amount decimal.Decimal) (service.Quote, error)
	History(ctx context.Context, userID uuid.UUID, kind model.TxKind, limit int) ([]*model.Transaction, error)
	Withdrawals(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Withdrawal, error)
}

// Referrals reports a user's downline.
type Referrals interface {
	Stats(ctx context.Context, userID uuid.UUID, limit int) (*service.ReferralStats, error)
}

// Ranking answers rank and platform statistics queries.
type Ranking interface {
	GetUserRank(ctx context.Context, userID uuid.UUID) (*model.LeaderboardEntry, error)
	GetStatistics(ctx context.Context) (*model.Statistics, error)
}

// Services bundles the business services behind the API.
type Services struct {
	Accounts  Accounts
	Rewards   Rewards
	Shop      Shop
	Wallet    Wallet
	Referrals Referrals
	Ranking   Ranking
}

// Options configures the server.
type Options struct {
	GatewayToken string
	// Gatherer backs GET /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
	// Metrics records per-request latency. Optional.
	Metrics *metrics.Collector
	// Health backs GET /healthz. Optional.
	Health func(ctx context.Context) error
}

// Server is the HTTP front end.
type Server struct {
	app *fiber.App
}

// New builds the Fiber app with all routes registered.
func New(svc Services, opts Options) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "cryptra",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
	})

	app.Use(recover.New())
	app.Use(RequestLogger())
	if opts.Metrics != nil {
		app.Use(RequestMetrics(opts.Metrics))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if opts.Health != nil {
			if err := opts.Health(c.UserContext()); err != nil {
				log.Warn().Err(err).Msg("Health check failed")
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	h := &handlers{svc: svc, session: service.ContextSession{}}

	api := app.Group("/api/v1", GatewayAuth(opts.GatewayToken))
	api.Post("/signup", h.signup)

	secured := api.Group("/", UserContext())
	secured.Get("/me", h.me)
	secured.Get("/me/dashboard", h.dashboard)
	secured.Get("/me/transactions", h.transactions)
	secured.Post("/earn/:kind", h.earn)
	secured.Post("/spend", h.spend)
	secured.Get("/withdrawals/quote", h.quote)
	secured.Get("/withdrawals", h.listWithdrawals)
	secured.Post("/withdrawals", h.withdraw)
	secured.Post("/coins/purchase", h.buyCoins)
	secured.Get("/products", h.products)
	secured.Get("/orders", h.orders)
	secured.Post("/orders", h.order)
	secured.Post("/cart/checkout", h.checkout)
	secured.Post("/lucky-draw/entries", h.luckyDraw)
	secured.Get("/lucky-draw/winners", h.winners)
	secured.Get("/referrals", h.referrals)
	secured.Get("/leaderboard", h.leaderboard)
	secured.Get("/leaderboard/me", h.myRank)
	secured.Get("/stats", h.stats)
	secured.Get("/tasks", h.tasks)
	secured.Get("/ads", h.ads)

	return &Server{app: app}
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	log.Info().Str("addr", addr).Msg("HTTP API listening")
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
