package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cryptra/internal/activity"
	"cryptra/internal/config"
	"cryptra/internal/metrics"
	"cryptra/internal/pkg/db"
	"cryptra/internal/pkg/lock"
	"cryptra/internal/service"
)

// app holds the wired business services.
type app struct {
	cfg      *config.Config
	clock    clockwork.Clock
	pool     *db.Pool
	registry *prometheus.Registry
	metrics  *metrics.Collector

	stores     service.Stores
	engine     *service.Engine
	gate       *service.Gate
	referrals  *service.ReferralService
	activities *activity.Registry
	ranking    *service.RankingService
	rewards    *service.Rewards
	accounts   *service.AccountService
	shop       *service.ShopService
	wallet     *service.WalletService
	backOffice *service.BackOffice
}

// newApp connects to the database and builds every service. The caller
// closes a.pool.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a, err := buildApp(cfg, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

func buildApp(cfg *config.Config, pool *db.Pool) (*app, error) {
	clock := clockwork.NewRealClock()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(registry)
	metrics.RegisterPoolStats(registry, pool.Stat)

	runner := db.NewRunner(pool.Pool, db.RetryPolicy{
		MaxRetries: cfg.Ledger.MaxRetries,
		BaseDelay:  cfg.Ledger.RetryBaseDelay,
		OpTimeout:  cfg.Ledger.OpTimeout,
	})
	runner.OnRetry(collector.TxRetry)

	policy, err := service.NewWithdrawalPolicy(cfg.Withdrawal)
	if err != nil {
		return nil, err
	}

	stores := service.NewStores(pool.Pool)
	engine := service.NewEngine(runner, stores, lock.NewUserLock(), cfg.Ledger.LockTimeout, policy, collector)
	gate := service.NewGate(stores.Users, stores.Activity, clock)

	rates, err := cfg.Referral.RateDecimals()
	if err != nil {
		return nil, err
	}
	referrals, err := service.NewReferralService(engine, service.ReferralPolicy{
		MaxLevels:   cfg.Referral.MaxLevels,
		Rates:       rates,
		MaxAttempts: cfg.Referral.MaxAttempts,
		RetryDelay:  cfg.Referral.RetryDelay,
		CacheSize:   cfg.Referral.CacheSize,
	}, clock)
	if err != nil {
		return nil, err
	}

	activities, err := activity.NewDefaultRegistry(cfg, stores.Catalogue)
	if err != nil {
		return nil, err
	}

	ranking := service.NewRankingService(stores, service.RankingOptions{
		DefaultLimit: cfg.Leaderboard.DefaultLimit,
		MaxLimit:     cfg.Leaderboard.MaxLimit,
		CacheTTL:     cfg.Leaderboard.CacheTTL,
		ActiveWindow: cfg.Leaderboard.ActiveWindow,
	}, clock)

	return &app{
		cfg:        cfg,
		clock:      clock,
		pool:       pool,
		registry:   registry,
		metrics:    collector,
		stores:     stores,
		engine:     engine,
		gate:       gate,
		referrals:  referrals,
		activities: activities,
		ranking:    ranking,
		rewards:    service.NewRewards(engine, gate, activities, ranking),
		accounts: service.NewAccountService(engine, referrals, gate, activities, clock,
			cfg.HTTP.PublicBaseURL, cfg.Bot.Username),
		shop:       service.NewShopService(engine, cfg.LuckyDraw.EntryCost, cfg.LuckyDraw.MaxEntries),
		wallet:     service.NewWalletService(engine, service.SimulatedGateway{}),
		backOffice: service.NewBackOffice(engine),
	}, nil
}
