package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cryptra/internal/model"
	"cryptra/internal/service"
)

// IdempotencyHeader lets clients retry a mutation safely.
const IdempotencyHeader = "Idempotency-Key"

type handlers struct {
	svc     Services
	session service.SessionResolver
}

func (h *handlers) user(c *fiber.Ctx) (uuid.UUID, error) {
	return h.session.CurrentUser(c.UserContext())
}

// parseBody decodes an optional JSON body.
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	return nil
}

// requestKey prefers the Idempotency-Key header over the body field.
func requestKey(c *fiber.Ctx, fromBody string) string {
	if k := c.Get(IdempotencyHeader); k != "" {
		return k
	}
	return fromBody
}

type signupRequest struct {
	DisplayName  string `json:"display_name"`
	Email        string `json:"email"`
	ReferralCode string `json:"referral_code"`
}

func (h *handlers) signup(c *fiber.Ctx) error {
	var req signupRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	u, created, err := h.svc.Accounts.Register(c.UserContext(), service.SignupRequest{
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"user":    u,
		"links":   h.svc.Accounts.ReferralLinks(u),
		"created": created,
	})
}

func (h *handlers) me(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	profile, err := h.svc.Accounts.GetProfile(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(profile)
}

func (h *handlers) dashboard(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Accounts.GetDashboard(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(d)
}

func (h *handlers) transactions(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	txs, err := h.svc.Wallet.History(c.UserContext(), id, model.TxKind(c.Query("kind")), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transactions": txs})
}

type earnRequest struct {
	TaskID     int64  `json:"task_id"`
	AdID       int64  `json:"ad_id"`
	RequestKey string `json:"request_key"`
}

func (h *handlers) earn(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	var req earnRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	receipt, err := h.svc.Rewards.GateAndEarn(c.UserContext(), id, model.ActivityKind(c.Params("kind")), service.EarnContext{
		TaskID:     req.TaskID,
		AdID:       req.AdID,
		RequestKey: requestKey(c, req.RequestKey),
	})
	if err != nil {
		return err
	}
	return c.JSON(receipt)
}

type spendRequest struct {
	Coins      int64  `json:"coins"`
	Reason     string `json:"reason"`
	RequestKey string `json:"request_key"`
}

func (h *handlers) spend(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	var req spendRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	receipt, err := h.svc.Rewards.SpendCoins(c.UserContext(), id, req.Coins, req.Reason, requestKey(c, req.RequestKey))
	if err != nil {
		return err
	}
	return c.JSON(receipt)
}

func (h *handlers) quote(c *fiber.Ctx) error {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "amount must be a decimal")
	}
	q, err := h.svc.Wallet.QuoteWithdrawal(amount)
	if err != nil {
		return err
	}
	return c.JSON(q)
}

type withdrawRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Destination string          `json:"destination"`
	RequestKey  string          `json:"request_key"`
}

func (h *handlers) withdraw(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	var req withdrawRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	receipt, err := h.svc.Rewards.RequestWithdrawal(c.UserContext(), id, req.Amount, req.Method, req.Destination, requestKey(c, req.RequestKey))
	if err != nil {
		return err
	}
	status := fiber.StatusCreated
	if receipt.Receipt != nil && receipt.Receipt.Replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(receipt)
}

func (h *handlers) listWithdrawals(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	ws, err := h.svc.Wallet.Withdrawals(c.UserContext(), id, c.QueryInt("limit", 20))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"withdrawals": ws})
}

type coinsRequest struct {
	Coins      int64  `json:"coins"`
	RequestKey string `json:"request_key"`
}

func (h *handlers) buyCoins(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	var req coinsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	p, err := h.svc.Wallet.BuyCoins(c.UserContext(), id, req.Coins, requestKey(c, req.RequestKey))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (h *handlers) products(c *fiber.Ctx) error {
	ps, err := h.svc.Shop.ListProducts(c.UserContext(), c.Query("category"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"products": ps})
}

type orderRequest struct {
	ProductID  int64  `json:"product_id"`
	Quantity   int    `json:"quantity"`
	RequestKey string `json:"request_key"`
}

func (h *handlers) order(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	var req orderRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	r, err := h.svc.Shop.Purchase(c.UserContext(), id, req.ProductID, req.Quantity, requestKey(c, req.RequestKey))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

func (h *handlers) orders(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	list, err := h.svc.Shop.ListOrders(c.UserContext(), id, c.QueryInt("limit", 20))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"orders": list})
}

type checkoutRequest struct {
	Lines      []service.CartLine `json:"lines"`
	RequestKey string             `json:"request_key"`
}

func (h *handlers) checkout(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	var req checkoutRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	r, err := h.svc.Shop.Checkout(c.UserContext(), id, req.Lines, requestKey(c, req.RequestKey))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

type luckyDrawRequest struct {
	Count      int    `json:"count"`
	RequestKey string `json:"request_key"`
}

func (h *handlers) luckyDraw(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	req := luckyDrawRequest{Count: 1}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	r, err := h.svc.Shop.BuyLuckyDrawEntries(c.UserContext(), id, req.Count, requestKey(c, req.RequestKey))
	if err != nil {
		return err
	}
	return c.JSON(r)
}

func (h *handlers) winners(c *fiber.Ctx) error {
	list, err := h.svc.Shop.RecentWinners(c.UserContext(), c.QueryInt("limit", 10))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"winners": list})
}

func (h *handlers) referrals(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	s, err := h.svc.Referrals.Stats(c.UserContext(), id, c.QueryInt("limit", 20))
	if err != nil {
		return err
	}
	return c.JSON(s)
}

func (h *handlers) leaderboard(c *fiber.Ctx) error {
	entries, err := h.svc.Rewards.GetLeaderboard(c.UserContext(), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"leaderboard": entries})
}

func (h *handlers) myRank(c *fiber.Ctx) error {
	id, err := h.user(c)
	if err != nil {
		return err
	}
	e, err := h.svc.Ranking.GetUserRank(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(e)
}

func (h *handlers) stats(c *fiber.Ctx) error {
	s, err := h.svc.Ranking.GetStatistics(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(s)
}

func (h *handlers) tasks(c *fiber.Ctx) error {
	ts, err := h.svc.Accounts.ListTasks(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"tasks": ts})
}

func (h *handlers) ads(c *fiber.Ctx) error {
	as, err := h.svc.Accounts.ListAds(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ads": as})
}
