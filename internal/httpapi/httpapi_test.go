package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptra/internal/metrics"
	"cryptra/internal/model"
	"cryptra/internal/service"
)

const testToken = "gateway-secret"

// fakeServices implements every service interface with canned answers.
type fakeServices struct {
	earnErr   error
	lastKind  model.ActivityKind
	lastEarn  service.EarnContext
	lastUser  uuid.UUID
	spendErr  error
	withdrawn decimal.Decimal
	lines     []service.CartLine

	winnersLimit int
}

func (f *fakeServices) Register(ctx context.Context, req service.SignupRequest) (*model.User, bool, error) {
	if req.DisplayName == "" {
		return nil, false, fmt.Errorf("%w: display name required", service.ErrValidation)
	}
	return &model.User{ID: uuid.New(), DisplayName: req.DisplayName, ReferralCode: "ABCD2345"}, true, nil
}

func (f *fakeServices) GetProfile(ctx context.Context, id uuid.UUID) (*service.Profile, error) {
	f.lastUser = id
	return &service.Profile{User: &model.User{ID: id}, Rank: 3}, nil
}

func (f *fakeServices) GetDashboard(ctx context.Context, id uuid.UUID) (*service.Dashboard, error) {
	return nil, service.ErrUserNotFound
}

func (f *fakeServices) ListTasks(ctx context.Context) ([]*model.Task, error) {
	return []*model.Task{{ID: 1, Title: "Follow"}}, nil
}

func (f *fakeServices) ListAds(ctx context.Context) ([]*model.Advertisement, error) {
	return nil, nil
}

func (f *fakeServices) ReferralLinks(u *model.User) service.ReferralLinks {
	return service.ReferralLinks{Code: u.ReferralCode}
}

func (f *fakeServices) GateAndEarn(ctx context.Context, userID uuid.UUID, kind model.ActivityKind, ec service.EarnContext) (*service.Receipt, error) {
	f.lastUser, f.lastKind, f.lastEarn = userID, kind, ec
	if f.earnErr != nil {
		return nil, f.earnErr
	}
	return &service.Receipt{TransactionID: 7, UserID: userID, Amount: decimal.RequireFromString("0.01")}, nil
}

func (f *fakeServices) SpendCoins(ctx context.Context, userID uuid.UUID, amount int64, reason, requestKey string) (*service.Receipt, error) {
	if f.spendErr != nil {
		return nil, f.spendErr
	}
	return &service.Receipt{Coins: -amount}, nil
}

func (f *fakeServices) RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, method, destination, requestKey string) (*service.WithdrawalReceipt, error) {
	f.withdrawn = amount
	return &service.WithdrawalReceipt{
		Withdrawal: &model.Withdrawal{ID: uuid.New(), Amount: amount, Status: model.WithdrawalPending},
		Receipt:    &service.Receipt{Amount: amount.Neg()},
	}, nil
}

func (f *fakeServices) GetLeaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	return []model.LeaderboardEntry{{Rank: 1, UserID: uuid.New()}}, nil
}

func (f *fakeServices) ListProducts(ctx context.Context, category string) ([]*model.Product, error) {
	return nil, nil
}

func (f *fakeServices) Purchase(ctx context.Context, userID uuid.UUID, productID int64, qty int, requestKey string) (*service.PurchaseReceipt, error) {
	return nil, service.ErrOutOfStock
}

func (f *fakeServices) Checkout(ctx context.Context, userID uuid.UUID, lines []service.CartLine, requestKey string) (*service.PurchaseReceipt, error) {
	f.lines = lines
	return &service.PurchaseReceipt{}, nil
}

func (f *fakeServices) ListOrders(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Order, error) {
	return nil, nil
}

func (f *fakeServices) BuyLuckyDrawEntries(ctx context.Context, userID uuid.UUID, count int, requestKey string) (*service.LuckyDrawReceipt, error) {
	return &service.LuckyDrawReceipt{Total: count}, nil
}

func (f *fakeServices) RecentWinners(ctx context.Context, limit int) ([]*model.LuckyDrawWinner, error) {
	f.winnersLimit = limit
	return []*model.LuckyDrawWinner{
		{ID: 1, UserID: uuid.New(), DisplayName: "alice", PrizeAmount: decimal.NewFromInt(5), Position: 1},
	}, nil
}

func (f *fakeServices) BuyCoins(ctx context.Context, userID uuid.UUID, coins int64, requestKey string) (*service.CoinPurchase, error) {
	return nil, errors.New("gateway down")
}

func (f *fakeServices) QuoteWithdrawal(amount decimal.Decimal) (service.Quote, error) {
	fee := amount.Mul(decimal.RequireFromString("0.02")).Round(2)
	return service.Quote{Amount: amount, Fee: fee, Net: amount.Sub(fee)}, nil
}

func (f *fakeServices) History(ctx context.Context, userID uuid.UUID, kind model.TxKind, limit int) ([]*model.Transaction, error) {
	return nil, nil
}

func (f *fakeServices) Withdrawals(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Withdrawal, error) {
	return nil, nil
}

func (f *fakeServices) Stats(ctx context.Context, userID uuid.UUID, limit int) (*service.ReferralStats, error) {
	return &service.ReferralStats{}, nil
}

func (f *fakeServices) GetUserRank(ctx context.Context, userID uuid.UUID) (*model.LeaderboardEntry, error) {
	return &model.LeaderboardEntry{Rank: 2, UserID: userID}, nil
}

func (f *fakeServices) GetStatistics(ctx context.Context) (*model.Statistics, error) {
	return nil, service.ErrStoreUnavailable
}

func newTestServer(t *testing.T, opts Options) (*Server, *fakeServices) {
	t.Helper()
	f := &fakeServices{}
	if opts.GatewayToken == "" {
		opts.GatewayToken = testToken
	}
	s := New(Services{
		Accounts: f, Rewards: f, Shop: f, Wallet: f, Referrals: f, Ranking: f,
	}, opts)
	return s, f
}

func doRequest(t *testing.T, s *Server, method, path, body string, user uuid.UUID, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	if user != uuid.Nil {
		req.Header.Set(UserIDHeader, user.String())
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestGatewayAuth(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	req.Header.Set(UserIDHeader, uuid.NewString())
	resp, err = s.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := doRequest(t, s, http.MethodGet, "/api/v1/tasks", "", uuid.New())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["tasks"], 1)
}

func TestUserContext(t *testing.T) {
	s, f := newTestServer(t, Options{})

	resp, _ := doRequest(t, s, http.MethodGet, "/api/v1/me", "", uuid.Nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doRequest(t, s, http.MethodGet, "/api/v1/me", "", uuid.Nil, UserIDHeader, "not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	id := uuid.New()
	resp, body := doRequest(t, s, http.MethodGet, "/api/v1/me", "", id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, f.lastUser)
	assert.EqualValues(t, 3, body["rank"])
}

func TestSignupSkipsUserHeader(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	resp, body := doRequest(t, s, http.MethodPost, "/api/v1/signup", `{"display_name":"Alice"}`, uuid.Nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["created"])

	resp, body = doRequest(t, s, http.MethodPost, "/api/v1/signup", `{}`, uuid.Nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestEarn(t *testing.T) {
	s, f := newTestServer(t, Options{})
	id := uuid.New()

	resp, body := doRequest(t, s, http.MethodPost, "/api/v1/earn/ad_watch", `{"ad_id":4,"request_key":"body-key"}`, id,
		IdempotencyHeader, "header-key")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 7, body["transaction_id"])
	assert.Equal(t, model.ActivityAdWatch, f.lastKind)
	assert.Equal(t, int64(4), f.lastEarn.AdID)
	assert.Equal(t, "header-key", f.lastEarn.RequestKey)

	resp, _ = doRequest(t, s, http.MethodPost, "/api/v1/earn/checkin", "", id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.ActivityCheckin, f.lastKind)

	resp, _ = doRequest(t, s, http.MethodPost, "/api/v1/earn/checkin", `{not json`, id)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEarnDenied(t *testing.T) {
	s, f := newTestServer(t, Options{})
	f.earnErr = &service.DeniedError{
		Kind: model.ActivityCheckin, Reason: service.ReasonAlreadyCompletedToday, Used: 1, Limit: 1,
	}

	resp, body := doRequest(t, s, http.MethodPost, "/api/v1/earn/checkin", "", uuid.New())
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "quota_exceeded", body["error"])
	assert.Equal(t, string(service.ReasonAlreadyCompletedToday), body["reason"])
	assert.EqualValues(t, 1, body["limit"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrap: %w", service.ErrValidation), http.StatusBadRequest},
		{service.ErrInsufficientFunds, http.StatusPaymentRequired},
		{service.ErrUserNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: product", service.ErrNotFound), http.StatusNotFound},
		{service.ErrOutOfStock, http.StatusConflict},
		{service.ErrConcurrencyConflict, http.StatusConflict},
		{service.ErrInvalidTransition, http.StatusConflict},
		{service.ErrPreconditionFailed, http.StatusPreconditionFailed},
		{service.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{service.ErrUnauthenticated, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.status, statusOf(c.err), "status for %v", c.err)
	}
}

func TestSpendAndServerErrors(t *testing.T) {
	s, f := newTestServer(t, Options{})
	id := uuid.New()

	f.spendErr = service.ErrInsufficientFunds
	resp, body := doRequest(t, s, http.MethodPost, "/api/v1/spend", `{"coins":10,"reason":"skin"}`, id)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "insufficient_funds", body["error"])

	resp, body = doRequest(t, s, http.MethodPost, "/api/v1/coins/purchase", `{"coins":100}`, id)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, body, "message")

	resp, _ = doRequest(t, s, http.MethodGet, "/api/v1/stats", "", id)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, body = doRequest(t, s, http.MethodPost, "/api/v1/orders", `{"product_id":3}`, id)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "out_of_stock", body["error"])
}

func TestWithdrawAndQuote(t *testing.T) {
	s, f := newTestServer(t, Options{})
	id := uuid.New()

	resp, body := doRequest(t, s, http.MethodPost, "/api/v1/withdrawals",
		`{"amount":"3.5","method":"upi","destination":"alice@okaxis"}`, id)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, f.withdrawn.Equal(decimal.RequireFromString("3.5")))
	assert.Contains(t, body, "withdrawal")

	resp, body = doRequest(t, s, http.MethodGet, "/api/v1/withdrawals/quote?amount=3", "", id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0.06", body["fee"])
	assert.Equal(t, "2.94", body["net"])

	resp, _ = doRequest(t, s, http.MethodGet, "/api/v1/withdrawals/quote?amount=abc", "", id)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckoutAndLuckyDraw(t *testing.T) {
	s, f := newTestServer(t, Options{})
	id := uuid.New()

	resp, _ := doRequest(t, s, http.MethodPost, "/api/v1/cart/checkout",
		`{"lines":[{"product_id":2,"quantity":1},{"product_id":1,"quantity":3}]}`, id)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []service.CartLine{{ProductID: 2, Quantity: 1}, {ProductID: 1, Quantity: 3}}, f.lines)

	resp, body := doRequest(t, s, http.MethodPost, "/api/v1/lucky-draw/entries", "", id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])

	resp, body = doRequest(t, s, http.MethodGet, "/api/v1/lucky-draw/winners?limit=3", "", id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["winners"], 1)
	assert.Equal(t, "alice", body["winners"].([]any)[0].(map[string]any)["display_name"])
	assert.Equal(t, 3, f.winnersLimit)
}

func TestLeaderboardRoutes(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	id := uuid.New()

	resp, body := doRequest(t, s, http.MethodGet, "/api/v1/leaderboard?limit=5", "", id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["leaderboard"], 1)

	resp, body = doRequest(t, s, http.MethodGet, "/api/v1/leaderboard/me", "", id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id.String(), body["user_id"])
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)
	healthy := true
	s, _ := newTestServer(t, Options{
		Gatherer: reg,
		Metrics:  collector,
		Health: func(ctx context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("db down")
		},
	})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthy = false
	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	doRequest(t, s, http.MethodGet, "/api/v1/tasks", "", uuid.New())

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "cryptra_http_request_duration_seconds")

	n, err := testutil.GatherAndCount(reg, "cryptra_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Positive(t, n)
}
