package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "users", `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			telegram_id BIGINT,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL DEFAULT '',
			balance NUMERIC(18,6) NOT NULL DEFAULT 0,
			coins BIGINT NOT NULL DEFAULT 0,
			total_earnings NUMERIC(18,6) NOT NULL DEFAULT 0,
			referral_code VARCHAR(16) NOT NULL,
			referrer_id UUID REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT users_telegram_id_key UNIQUE (telegram_id),
			CONSTRAINT users_referral_code_key UNIQUE (referral_code),
			CONSTRAINT users_balance_check CHECK (balance >= 0),
			CONSTRAINT users_coins_check CHECK (coins >= 0)
		);
		CREATE INDEX IF NOT EXISTS idx_users_total_earnings ON users(total_earnings DESC, id);
	`},
	{2, "transactions", `
		CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount NUMERIC(18,6) NOT NULL DEFAULT 0,
			coins BIGINT NOT NULL DEFAULT 0,
			kind VARCHAR(32) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			idempotency_key VARCHAR(255) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			balance_after NUMERIC(18,6) NOT NULL,
			coins_after BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT transactions_user_idempotency_key UNIQUE (user_id, idempotency_key)
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_kind_time ON transactions(kind, created_at DESC);
	`},
	{3, "activity_records", `
		CREATE TABLE IF NOT EXISTS activity_records (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			kind VARCHAR(32) NOT NULL,
			activity_date DATE NOT NULL,
			task_id BIGINT NOT NULL DEFAULT 0,
			seq INT NOT NULL,
			transaction_id BIGINT REFERENCES transactions(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT activity_records_slot_key UNIQUE (user_id, kind, activity_date, task_id, seq),
			CONSTRAINT activity_records_transaction_key UNIQUE (transaction_id)
		);
		CREATE INDEX IF NOT EXISTS idx_activity_user_date ON activity_records(user_id, activity_date DESC);
	`},
	{4, "referral_edges", `
		CREATE TABLE IF NOT EXISTS referral_edges (
			referrer_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			referred_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			level INT NOT NULL CHECK (level >= 1),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (referred_id, level)
		);
		CREATE INDEX IF NOT EXISTS idx_referral_edges_referrer ON referral_edges(referrer_id, level);
	`},
	{5, "withdrawals", `
		CREATE TABLE IF NOT EXISTS withdrawals (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount NUMERIC(18,6) NOT NULL CHECK (amount > 0),
			fee NUMERIC(18,6) NOT NULL DEFAULT 0,
			net_amount NUMERIC(18,6) NOT NULL,
			method VARCHAR(16) NOT NULL,
			destination VARCHAR(255) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status, created_at);
	`},
	{6, "marketplace", `
		CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			slug VARCHAR(255) NOT NULL,
			category VARCHAR(64) NOT NULL DEFAULT 'general',
			description TEXT NOT NULL DEFAULT '',
			price_coins BIGINT NOT NULL CHECK (price_coins > 0),
			stock_quantity INT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT products_slug_key UNIQUE (slug),
			CONSTRAINT products_stock_check CHECK (stock_quantity >= 0)
		);
		CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			product_id BIGINT NOT NULL REFERENCES products(id),
			product_name VARCHAR(255) NOT NULL,
			quantity INT NOT NULL CHECK (quantity > 0),
			unit_price_coins BIGINT NOT NULL,
			total_coins BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			transaction_id BIGINT NOT NULL REFERENCES transactions(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id, created_at DESC);
		CREATE TABLE IF NOT EXISTS lucky_draw_entries (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			entry_count INT NOT NULL CHECK (entry_count > 0),
			transaction_id BIGINT NOT NULL REFERENCES transactions(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{7, "earning_catalogue", `
		CREATE TABLE IF NOT EXISTS tasks (
			id BIGSERIAL PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			task_type VARCHAR(32) NOT NULL DEFAULT 'general',
			reward_amount NUMERIC(18,6) NOT NULL DEFAULT 0,
			reward_coins BIGINT NOT NULL DEFAULT 0,
			daily_limit INT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS advertisements (
			id BIGSERIAL PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			reward_amount NUMERIC(18,6) NOT NULL,
			duration_seconds INT NOT NULL DEFAULT 30,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{8, "commission_jobs", `
		CREATE TABLE IF NOT EXISTS commission_jobs (
			id BIGSERIAL PRIMARY KEY,
			source_transaction_id BIGINT NOT NULL REFERENCES transactions(id),
			earner_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount NUMERIC(18,6) NOT NULL,
			source_kind VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT commission_jobs_source_key UNIQUE (source_transaction_id)
		);
		CREATE INDEX IF NOT EXISTS idx_commission_jobs_due ON commission_jobs(status, next_attempt_at);
	`},
	{9, "lucky_draw_winners", `
		CREATE TABLE IF NOT EXISTS lucky_draw_winners (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			prize_amount NUMERIC(18,6) NOT NULL CHECK (prize_amount >= 0),
			position INT NOT NULL CHECK (position > 0),
			draw_date DATE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT lucky_draw_winners_slot_key UNIQUE (draw_date, position)
		);
		CREATE INDEX IF NOT EXISTS idx_lucky_draw_winners_date ON lucky_draw_winners(draw_date DESC);
	`},
}

// Migrate applies pending schema migrations in order. Each migration runs
// once; applied versions are tracked in schema_migrations.
func Migrate(ctx context.Context, db DBTX) error {
	log.Info().Msg("Running database migrations...")

	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(64) NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err := db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.version, err)
		}
		if applied {
			continue
		}

		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		if _, err := db.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name,
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		log.Info().Int("version", m.version).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
