// Integration tests for the ledger against a real PostgreSQL started with
// testcontainers-go. They are skipped when Docker is not available.
package service

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"cryptra/internal/activity"
	"cryptra/internal/config"
	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
	"cryptra/internal/pkg/lock"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB starts PostgreSQL, applies migrations and returns a pool.
// Skips the test if Docker is not available.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, pool))

	t.Cleanup(func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	})
	return pool
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []int64
}

func (d *recordingDispatcher) Dispatch(jobID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, jobID)
}

func (d *recordingDispatcher) drain() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	jobs := d.jobs
	d.jobs = nil
	return jobs
}

type harness struct {
	pool       *pgxpool.Pool
	clock      *clockwork.FakeClock
	stores     Stores
	engine     *Engine
	gate       *Gate
	referrals  *ReferralService
	rewards    *Rewards
	ranking    *RankingService
	accounts   *AccountService
	shop       *ShopService
	wallet     *WalletService
	backOffice *BackOffice
	dispatcher *recordingDispatcher
	registry   *activity.Registry
}

func testLedgerConfig() *config.Config {
	return &config.Config{
		Quotas: config.QuotaConfig{Checkin: 1, AdWatch: 5, ScratchCard: 3, Treasure: 1},
		Rewards: config.RewardsConfig{
			Checkin:     config.RangeConfig{Min: "0.001", Max: "0.005"},
			Treasure:    config.RangeConfig{Min: "0.004", Max: "0.007"},
			ScratchCard: config.RangeConfig{Min: "0.002", Max: "0.005"},
		},
	}
}

// newEngine builds an engine with its own in-process lock, standing in for
// a separate server process.
func newEngine(t *testing.T, pool *pgxpool.Pool, stores Stores) *Engine {
	runner := db.NewRunner(pool, db.RetryPolicy{MaxRetries: 30, BaseDelay: 5 * time.Millisecond, OpTimeout: 10 * time.Second})
	policy := testWithdrawalPolicy(t)
	return NewEngine(runner, stores, lock.NewUserLock(), 10*time.Second, policy, nil)
}

func newHarness(t *testing.T) *harness {
	pool := setupTestDB(t)
	clock := clockwork.NewFakeClockAt(time.Now().UTC())
	stores := NewStores(pool)

	engine := newEngine(t, pool, stores)
	dispatcher := &recordingDispatcher{}
	engine.SetDispatcher(dispatcher)

	gate := NewGate(stores.Users, stores.Activity, clock)
	referrals, err := NewReferralService(engine, ReferralPolicy{
		MaxLevels: 3, Rates: defaultRates, MaxAttempts: 3, RetryDelay: time.Second, CacheSize: 128,
	}, clock)
	require.NoError(t, err)

	registry, err := activity.NewDefaultRegistry(testLedgerConfig(), stores.Catalogue)
	require.NoError(t, err)

	ranking := NewRankingService(stores, RankingOptions{DefaultLimit: 10, MaxLimit: 50, CacheTTL: time.Minute, ActiveWindow: 24 * time.Hour}, clock)
	return &harness{
		pool:       pool,
		clock:      clock,
		stores:     stores,
		engine:     engine,
		gate:       gate,
		referrals:  referrals,
		rewards:    NewRewards(engine, gate, registry, ranking),
		ranking:    ranking,
		accounts:   NewAccountService(engine, referrals, gate, registry, clock, "https://cryptra.test", "CryptraBot"),
		shop:       NewShopService(engine, 10, 100),
		wallet:     NewWalletService(engine, SimulatedGateway{}),
		backOffice: NewBackOffice(engine),
		dispatcher: dispatcher,
		registry:   registry,
	}
}

func (h *harness) register(t *testing.T, name, code string) *model.User {
	u, created, err := h.accounts.Register(context.Background(), SignupRequest{DisplayName: name, ReferralCode: code})
	require.NoError(t, err)
	require.True(t, created)
	return u
}

func (h *harness) ad(t *testing.T, reward string) *model.Advertisement {
	a, err := h.stores.Catalogue.CreateAd(context.Background(), &model.Advertisement{
		Title: "Promo " + reward, RewardAmount: decimal.RequireFromString(reward), DurationSeconds: 30, IsActive: true,
	})
	require.NoError(t, err)
	return a
}

func (h *harness) topUp(t *testing.T, userID uuid.UUID, coins int64) {
	_, err := h.engine.ApplyCoinTopUp(context.Background(), userID, coins, "test-"+uuid.NewString(), decimal.NewFromInt(1))
	require.NoError(t, err)
}

func (h *harness) processJobs(t *testing.T) {
	for _, id := range h.dispatcher.drain() {
		require.NoError(t, h.referrals.ProcessJob(context.Background(), id))
	}
}

func (h *harness) user(t *testing.T, id uuid.UUID) *model.User {
	u, err := h.stores.Users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (h *harness) assertLedgerConsistent(t *testing.T) {
	mismatches, err := h.stores.Transactions.FindLedgerMismatches(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestLedger_ReferralScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.register(t, "A", "")
	b := h.register(t, "B", a.ReferralCode)
	c := h.register(t, "C", b.ReferralCode)
	ad := h.ad(t, "1.00")

	r, err := h.rewards.GateAndEarn(ctx, c.ID, model.ActivityAdWatch, EarnContext{AdID: ad.ID})
	require.NoError(t, err)
	assert.False(t, r.Replayed)
	requireAmount(t, "1", r.Balance)

	h.processJobs(t)

	requireAmount(t, "1", h.user(t, c.ID).Balance)
	requireAmount(t, "0.1", h.user(t, b.ID).Balance)
	requireAmount(t, "0.05", h.user(t, a.ID).Balance)
	requireAmount(t, "0.1", h.user(t, b.ID).TotalEarnings)

	cTx, err := h.stores.Transactions.GetByUserID(ctx, c.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, cTx, 1)
	assert.Equal(t, model.TxTypeAdWatch, cTx[0].Kind)

	bTx, err := h.stores.Transactions.GetByUserID(ctx, b.ID, model.TxTypeReferral, 10)
	require.NoError(t, err)
	require.Len(t, bTx, 1)
	assert.Equal(t, 1, bTx[0].Metadata.Level)
	assert.Equal(t, model.TxTypeAdWatch, bTx[0].Metadata.Source)
	require.NotNil(t, bTx[0].Metadata.Earner)
	assert.Equal(t, c.ID, *bTx[0].Metadata.Earner)

	aTx, err := h.stores.Transactions.GetByUserID(ctx, a.ID, model.TxTypeReferral, 10)
	require.NoError(t, err)
	require.Len(t, aTx, 1)
	assert.Equal(t, 2, aTx[0].Metadata.Level)

	stats, err := h.referrals.Stats(ctx, a.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Counts.Total)
	assert.Equal(t, 1, stats.Counts.ByLevel[1])
	assert.Equal(t, 1, stats.Counts.ByLevel[2])
	requireAmount(t, "0.05", stats.TodayCommission)

	h.assertLedgerConsistent(t)
}

func TestLedger_FanOutDepthTenCreditsThree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	users := []*model.User{h.register(t, "root", "")}
	for i := 1; i <= 10; i++ {
		users = append(users, h.register(t, fmt.Sprintf("u%d", i), users[i-1].ReferralCode))
	}
	earner := users[10]
	ad := h.ad(t, "1.00")

	r, err := h.rewards.GateAndEarn(ctx, earner.ID, model.ActivityAdWatch, EarnContext{AdID: ad.ID})
	require.NoError(t, err)
	h.processJobs(t)

	requireAmount(t, "0.1", h.user(t, users[9].ID).Balance)
	requireAmount(t, "0.05", h.user(t, users[8].ID).Balance)
	requireAmount(t, "0.02", h.user(t, users[7].ID).Balance)
	for _, u := range users[:7] {
		assert.True(t, h.user(t, u.ID).Balance.IsZero(), "%s credited beyond max depth", u.DisplayName)
	}

	// Re-running the fan-out for the same source credits nothing new.
	again, err := h.referrals.DistributeCommission(ctx, earner.ID, r.TransactionID, r.Amount, r.Kind)
	require.NoError(t, err)
	require.Len(t, again, 3)
	for _, rec := range again {
		assert.True(t, rec.Replayed)
	}
	requireAmount(t, "0.1", h.user(t, users[9].ID).Balance)
	h.assertLedgerConsistent(t)
}

func TestLedger_GateDailyBound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "gate", "")

	_, err := h.rewards.GateAndEarn(ctx, u.ID, model.ActivityCheckin, EarnContext{})
	require.NoError(t, err)

	_, err = h.rewards.GateAndEarn(ctx, u.ID, model.ActivityCheckin, EarnContext{})
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, ReasonAlreadyCompletedToday, denied.Reason)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	for i := 0; i < 3; i++ {
		_, err = h.rewards.GateAndEarn(ctx, u.ID, model.ActivityScratchCard, EarnContext{})
		require.NoError(t, err)
	}
	_, err = h.rewards.GateAndEarn(ctx, u.ID, model.ActivityScratchCard, EarnContext{})
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, ReasonQuotaExhausted, denied.Reason)

	n, err := h.stores.Activity.CountForDay(ctx, u.ID, model.ActivityScratchCard, h.gate.Today(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// A new UTC day reopens the quota.
	h.clock.Advance(24 * time.Hour)
	_, err = h.rewards.GateAndEarn(ctx, u.ID, model.ActivityCheckin, EarnContext{})
	require.NoError(t, err)

	dash, err := h.accounts.GetDashboard(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, dash.Streak)
	h.assertLedgerConsistent(t)
}

func TestLedger_ConcurrentCheckinAcrossProcesses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "racer", "")

	// Each worker has its own engine and lock, so only the database
	// serializes them.
	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		denials   int
	)
	for i := 0; i < workers; i++ {
		engine := newEngine(t, h.pool, h.stores)
		rewards := NewRewards(engine, h.gate, h.registry, h.ranking)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rewards.GateAndEarn(ctx, u.ID, model.ActivityCheckin, EarnContext{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrQuotaExceeded):
				denials++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, denials)
	h.assertLedgerConsistent(t)
}

func TestLedger_IdempotentEarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "idem", "")
	ad := h.ad(t, "0.25")

	first, err := h.rewards.GateAndEarn(ctx, u.ID, model.ActivityAdWatch, EarnContext{AdID: ad.ID, RequestKey: "click-1"})
	require.NoError(t, err)
	second, err := h.rewards.GateAndEarn(ctx, u.ID, model.ActivityAdWatch, EarnContext{AdID: ad.ID, RequestKey: "click-1"})
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	requireAmount(t, "0.25", h.user(t, u.ID).Balance)

	n, err := h.stores.Activity.CountForDay(ctx, u.ID, model.ActivityAdWatch, h.gate.Today(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a replay does not consume quota")

	// Crediting the same activity under another key violates the precondition.
	_, err = h.engine.ApplyEarning(ctx, EarningRequest{
		UserID:         u.ID,
		Kind:           model.TxTypeAdWatch,
		Cash:           decimal.RequireFromString("0.25"),
		ActivityID:     first.Metadata.ActivityID,
		IdempotencyKey: "other",
	})
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	// Replaying the engine call itself returns the first receipt.
	replay, err := h.engine.ApplyEarning(ctx, EarningRequest{
		UserID:         u.ID,
		Kind:           model.TxTypeAdWatch,
		Cash:           decimal.RequireFromString("0.25"),
		ActivityID:     first.Metadata.ActivityID,
		IdempotencyKey: "earn:ad_watch:click-1",
	})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	requireAmount(t, "0.25", h.user(t, u.ID).Balance)
	h.assertLedgerConsistent(t)
}

func TestLedger_ConcurrentSpendSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "spender", "")
	h.topUp(t, u.ID, 10)

	const workers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		declined int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.rewards.SpendCoins(ctx, u.ID, 10, "race", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientFunds):
				declined++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, declined)
	assert.Equal(t, int64(0), h.user(t, u.ID).Coins)
	h.assertLedgerConsistent(t)
}

func TestLedger_LastItemSoldOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.shop.CreateProduct(ctx, ProductInput{Name: "Gift Card", Category: "Vouchers", PriceCoins: 50, Stock: 1})
	require.NoError(t, err)
	assert.Equal(t, "gift-card", p.Slug)

	buyers := []*model.User{h.register(t, "x", ""), h.register(t, "y", ""), h.register(t, "z", "")}
	for _, b := range buyers {
		h.topUp(t, b.ID, 100)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		sold       int
		outOfStock int
	)
	for _, b := range buyers {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := h.shop.Purchase(ctx, id, p.ID, 1, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sold++
			case errors.Is(err, ErrOutOfStock):
				outOfStock++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(b.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, sold)
	assert.Equal(t, 2, outOfStock)
	after, err := h.stores.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.StockQuantity)
	h.assertLedgerConsistent(t)
}

func TestLedger_CheckoutAllOrNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "cart", "")
	h.topUp(t, u.ID, 100)

	mug, err := h.shop.CreateProduct(ctx, ProductInput{Name: "Mug", PriceCoins: 20, Stock: 5})
	require.NoError(t, err)
	hat, err := h.shop.CreateProduct(ctx, ProductInput{Name: "Hat", PriceCoins: 30, Stock: 1})
	require.NoError(t, err)

	_, err = h.shop.Checkout(ctx, u.ID, []CartLine{{ProductID: mug.ID, Quantity: 1}, {ProductID: hat.ID, Quantity: 2}}, "")
	require.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, int64(100), h.user(t, u.ID).Coins)
	m, err := h.stores.Products.GetByID(ctx, mug.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, m.StockQuantity)

	out, err := h.shop.Checkout(ctx, u.ID, []CartLine{{ProductID: mug.ID, Quantity: 2}, {ProductID: hat.ID, Quantity: 1}}, "cart-1")
	require.NoError(t, err)
	assert.Len(t, out.Orders, 2)
	assert.Equal(t, int64(-70), out.Receipt.Coins)
	assert.Equal(t, int64(30), h.user(t, u.ID).Coins)

	replay, err := h.shop.Checkout(ctx, u.ID, []CartLine{{ProductID: mug.ID, Quantity: 2}, {ProductID: hat.ID, Quantity: 1}}, "cart-1")
	require.NoError(t, err)
	assert.True(t, replay.Receipt.Replayed)
	assert.Len(t, replay.Orders, 2)
	assert.Equal(t, int64(30), h.user(t, u.ID).Coins)

	_, err = h.shop.BuyLuckyDrawEntries(ctx, u.ID, 4, "")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	draw, err := h.shop.BuyLuckyDrawEntries(ctx, u.ID, 3, "")
	require.NoError(t, err)
	assert.Equal(t, 3, draw.Total)
	h.assertLedgerConsistent(t)
}

func TestLedger_WithdrawalBelowMinimumLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "saver", "")
	ad := h.ad(t, "2.00")
	_, err := h.rewards.GateAndEarn(ctx, u.ID, model.ActivityAdWatch, EarnContext{AdID: ad.ID})
	require.NoError(t, err)

	_, err = h.rewards.RequestWithdrawal(ctx, u.ID, decimal.RequireFromString("2.00"), MethodUPI, "saver@okaxis", "")
	require.ErrorIs(t, err, ErrValidation)

	requireAmount(t, "2", h.user(t, u.ID).Balance)
	ws, err := h.stores.Withdrawals.ListByUser(ctx, u.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, ws)
	txs, err := h.stores.Transactions.GetByUserID(ctx, u.ID, model.TxTypeWithdrawal, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestLedger_WithdrawalLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "payee", "")
	ad := h.ad(t, "2.00")
	for i := 0; i < 2; i++ {
		_, err := h.rewards.GateAndEarn(ctx, u.ID, model.ActivityAdWatch, EarnContext{AdID: ad.ID})
		require.NoError(t, err)
	}

	_, err := h.rewards.RequestWithdrawal(ctx, u.ID, decimal.RequireFromString("4.50"), MethodPayPal, "payee@example.com", "")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	wr, err := h.rewards.RequestWithdrawal(ctx, u.ID, decimal.RequireFromString("3.00"), MethodPayPal, "payee@example.com", "wd-1")
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalPending, wr.Withdrawal.Status)
	requireAmount(t, "0.06", wr.Withdrawal.Fee)
	requireAmount(t, "2.94", wr.Withdrawal.NetAmount)
	requireAmount(t, "1", h.user(t, u.ID).Balance)

	replay, err := h.rewards.RequestWithdrawal(ctx, u.ID, decimal.RequireFromString("3.00"), MethodPayPal, "payee@example.com", "wd-1")
	require.NoError(t, err)
	assert.True(t, replay.Receipt.Replayed)
	assert.Equal(t, wr.Withdrawal.ID, replay.Withdrawal.ID)
	requireAmount(t, "1", h.user(t, u.ID).Balance)

	_, err = h.backOffice.Complete(ctx, wr.Withdrawal.ID, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	rejected, err := h.backOffice.Reject(ctx, wr.Withdrawal.ID, "name mismatch")
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalRejected, rejected.Status)
	assert.NotNil(t, rejected.ResolvedAt)
	requireAmount(t, "4", h.user(t, u.ID).Balance)

	_, err = h.backOffice.Reject(ctx, wr.Withdrawal.ID, "again")
	require.ErrorIs(t, err, ErrInvalidTransition)
	requireAmount(t, "4", h.user(t, u.ID).Balance)

	second, err := h.rewards.RequestWithdrawal(ctx, u.ID, decimal.RequireFromString("3.00"), MethodUPI, "payee@okaxis", "")
	require.NoError(t, err)
	_, err = h.backOffice.Approve(ctx, second.Withdrawal.ID, "")
	require.NoError(t, err)
	done, err := h.backOffice.Complete(ctx, second.Withdrawal.ID, "paid")
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalCompleted, done.Status)

	profile, err := h.accounts.GetProfile(ctx, u.ID)
	require.NoError(t, err)
	requireAmount(t, "3", profile.TotalWithdrawn)

	stats, err := h.ranking.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.CompletedWithdrawals)
	requireAmount(t, "3", stats.TotalPayouts)
	assert.Equal(t, int64(1), stats.ActiveUsers)
	h.assertLedgerConsistent(t)
}

func TestLedger_LeaderboardOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	small := h.ad(t, "0.50")
	big := h.ad(t, "1.50")

	low := h.register(t, "low", "")
	high := h.register(t, "high", "")
	tieA := h.register(t, "tieA", "")
	tieB := h.register(t, "tieB", "")

	earn := func(u *model.User, ad *model.Advertisement) {
		_, err := h.rewards.GateAndEarn(ctx, u.ID, model.ActivityAdWatch, EarnContext{AdID: ad.ID})
		require.NoError(t, err)
	}
	earn(low, small)
	earn(high, big)
	earn(high, big)
	earn(tieA, big)
	earn(tieB, big)

	board, err := h.rewards.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 4)
	assert.Equal(t, high.ID, board[0].UserID)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, low.ID, board[3].UserID)

	first, second := tieA.ID, tieB.ID
	if second.String() < first.String() {
		first, second = second, first
	}
	assert.Equal(t, first, board[1].UserID)
	assert.Equal(t, second, board[2].UserID)

	require.NoError(t, h.ranking.Refresh(ctx))
	cached, err := h.rewards.GetLeaderboard(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, board[:2], cached)

	rank, err := h.ranking.GetUserRank(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, rank.Rank)
}

func TestLedger_RegisterIdempotentPerTelegramID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tg := int64(424242)

	first, created, err := h.accounts.Register(ctx, SignupRequest{TelegramID: &tg, DisplayName: "tg"})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := h.accounts.Register(ctx, SignupRequest{TelegramID: &tg, DisplayName: "tg"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	// Unknown codes are ignored.
	other, _, err := h.accounts.Register(ctx, SignupRequest{DisplayName: "o", ReferralCode: "NOPE2345"})
	require.NoError(t, err)
	assert.Nil(t, other.ReferrerID)

	links := h.accounts.ReferralLinks(first)
	assert.Equal(t, "https://t.me/CryptraBot?start="+first.ReferralCode, links.Telegram)
}

func TestLedger_CoinPurchaseReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "buyer", "")

	first, err := h.wallet.BuyCoins(ctx, u.ID, 1000, "buy-1")
	require.NoError(t, err)
	requireAmount(t, "8", first.Total)

	again, err := h.wallet.BuyCoins(ctx, u.ID, 1000, "buy-1")
	require.NoError(t, err)
	assert.True(t, again.Receipt.Replayed)
	assert.Equal(t, int64(1000), h.user(t, u.ID).Coins)
	assert.True(t, h.user(t, u.ID).Balance.IsZero(), "top-ups do not touch cash")
	h.assertLedgerConsistent(t)
}

func TestLedger_ProcessMissingJobIsNoop(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.referrals.ProcessJob(context.Background(), 987654))
}

func TestLedger_FailedJobCountsAttemptAfterContextExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	referrer := h.register(t, "referrer", "")
	earner := h.register(t, "earner", referrer.ReferralCode)
	ad := h.ad(t, "0.01")

	_, err := h.rewards.GateAndEarn(ctx, earner.ID, model.ActivityAdWatch, EarnContext{AdID: ad.ID})
	require.NoError(t, err)
	jobs := h.dispatcher.drain()
	require.Len(t, jobs, 1)

	expired, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, h.referrals.ProcessJob(expired, jobs[0]))

	job, err := h.stores.Commissions.GetByID(ctx, jobs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, model.CommissionPending, job.Status)

	require.NoError(t, h.referrals.ProcessJob(ctx, jobs[0]))
	job, err = h.stores.Commissions.GetByID(ctx, jobs[0])
	require.NoError(t, err)
	assert.Equal(t, model.CommissionDone, job.Status)
	requireAmount(t, "0.001", h.user(t, referrer.ID).Balance)
	h.assertLedgerConsistent(t)
}
