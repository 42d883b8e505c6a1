package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"cryptra/internal/audit"
	"cryptra/internal/bot"
	"cryptra/internal/handler"
	"cryptra/internal/httpapi"
	"cryptra/internal/metrics"
	"cryptra/internal/pkg/db"
	"cryptra/internal/worker"
)

// Unclaimed ad views are dropped after this long.
const adViewMaxAge = time.Hour

var flagSkipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the Telegram bot and background workers",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pool, err := db.NewPool(cmd.Context(), &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
		return db.Migrate(cmd.Context(), pool.Pool)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Reconcile balances against the ledger once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.pool.Close()

		auditor, err := newAuditor(cmd.Context(), a)
		if err != nil {
			return err
		}
		report, err := auditor.Run(cmd.Context())
		if report != nil {
			log.Info().
				Int64("users", report.Users).
				Int("mismatches", len(report.Mismatches)).
				Msg("Audit finished")
		}
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&flagSkipMigrate, "skip-migrate", false,
		"do not apply migrations on startup")
}

func newAuditor(ctx context.Context, a *app) (*audit.Auditor, error) {
	var uploader audit.Uploader
	if a.cfg.Storage.Bucket != "" {
		s3, err := audit.NewS3Uploader(ctx, a.cfg.Storage)
		if err != nil {
			return nil, err
		}
		uploader = s3
	}
	return audit.NewAuditor(a.stores.Transactions, a.stores.Commissions, uploader, a.metrics,
		a.clock, a.cfg.Storage.Prefix), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.pool.Close()

	if !flagSkipMigrate {
		if err := db.Migrate(ctx, a.pool.Pool); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	// Jobs outlive the signal context so in-flight commissions can finish.
	dispatcher := worker.NewDispatcher(context.Background(), cfg.Workers.CommissionPoolSize,
		cfg.Ledger.OpTimeout*4, a.referrals)
	a.engine.SetDispatcher(dispatcher)
	metrics.RegisterQueueSize(a.registry, dispatcher.Backlog)
	sweeper := worker.NewSweeper(a.stores.Commissions, dispatcher.Dispatch, a.clock, cfg.Workers.SweepBatch)

	auditor, err := newAuditor(ctx, a)
	if err != nil {
		return err
	}

	var telegramBot *bot.Bot
	if cfg.Bot.Enabled {
		session, err := handler.NewSession(a.accounts, cfg.Referral.CacheSize)
		if err != nil {
			return err
		}
		telegramBot, err = bot.New(&bot.Dependencies{
			Config:     cfg,
			Accounts:   a.accounts,
			Referrals:  a.referrals,
			Rewards:    a.rewards,
			Ranking:    a.ranking,
			Shop:       a.shop,
			Wallet:     a.wallet,
			BackOffice: a.backOffice,
			Session:    session,
			Clock:      a.clock,
		})
		if err != nil {
			return err
		}
	}

	tasks := []worker.Task{
		{Name: "commission-sweep", Every: cfg.Workers.SweepInterval, Run: func(ctx context.Context) error {
			_, err := sweeper.Sweep(ctx)
			return err
		}},
		{Name: "leaderboard-refresh", Every: cfg.Workers.LeaderboardRefresh, Run: a.ranking.Refresh},
		{Name: "ledger-audit", Every: cfg.Workers.AuditInterval, Run: func(ctx context.Context) error {
			_, err := auditor.Run(ctx)
			return err
		}},
	}
	if telegramBot != nil {
		tasks = append(tasks, worker.Task{Name: "ad-view-prune", Every: adViewMaxAge, Run: func(ctx context.Context) error {
			if n := telegramBot.PruneAdViews(adViewMaxAge); n > 0 {
				log.Debug().Int("views", n).Msg("Pruned unclaimed ad views")
			}
			return nil
		}})
	}
	scheduler, err := worker.NewScheduler(a.clock, tasks...)
	if err != nil {
		return err
	}
	scheduler.Start()

	// Pick up jobs left pending by a previous run.
	if _, err := sweeper.Sweep(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial commission sweep failed")
	}

	errCh := make(chan error, 1)
	var server *httpapi.Server
	if cfg.HTTP.Enabled {
		server = httpapi.New(httpapi.Services{
			Accounts:  a.accounts,
			Rewards:   a.rewards,
			Shop:      a.shop,
			Wallet:    a.wallet,
			Referrals: a.referrals,
			Ranking:   a.ranking,
		}, httpapi.Options{
			GatewayToken: cfg.HTTP.GatewayToken,
			Gatherer:     a.registry,
			Metrics:      a.metrics,
			Health:       a.pool.HealthCheck,
		})
		go func() {
			if err := server.Listen(cfg.HTTP.Addr); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}
	if telegramBot != nil {
		go func() {
			log.Info().Msg("Bot is starting...")
			telegramBot.Start()
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("Server stopped unexpectedly")
		cancel()
	}

	return shutdown(cfg.HTTP.ShutdownTimeout, server, telegramBot, scheduler, dispatcher)
}

// shutdown stops intake first, then the background side.
func shutdown(timeout time.Duration, server *httpapi.Server, telegramBot *bot.Bot,
	scheduler *worker.Scheduler, dispatcher *worker.Dispatcher) error {
	var result *multierror.Error

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
		}
		cancel()
	}
	if telegramBot != nil {
		telegramBot.Stop()
	}
	if err := scheduler.Shutdown(); err != nil {
		result = multierror.Append(result, fmt.Errorf("scheduler shutdown: %w", err))
	}
	dispatcher.Stop()

	log.Info().Msg("Stopped gracefully")
	return result.ErrorOrNil()
}
