// Package config provides configuration management using viper.
// It supports loading from YAML files, a .env file and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Bot         BotConfig         `mapstructure:"bot"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Whitelist   WhitelistConfig   `mapstructure:"whitelist"`
	Quotas      QuotaConfig       `mapstructure:"quotas"`
	Rewards     RewardsConfig     `mapstructure:"rewards"`
	Referral    ReferralConfig    `mapstructure:"referral"`
	Withdrawal  WithdrawalConfig  `mapstructure:"withdrawal"`
	LuckyDraw   LuckyDrawConfig   `mapstructure:"lucky_draw"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Workers     WorkersConfig     `mapstructure:"workers"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Storage     StorageConfig     `mapstructure:"storage"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	// Username is used to build t.me referral links.
	Username string `mapstructure:"username"`
}

// HTTPConfig holds the JSON API configuration.
type HTTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	GatewayToken    string        `mapstructure:"gateway_token"`
	PublicBaseURL   string        `mapstructure:"public_base_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// QuotaConfig holds per-day limits for quota-gated activities.
type QuotaConfig struct {
	Checkin     int `mapstructure:"checkin"`
	AdWatch     int `mapstructure:"ad_watch"`
	ScratchCard int `mapstructure:"scratch_card"`
	Treasure    int `mapstructure:"treasure"`
}

// RangeConfig is an inclusive cash range, in dollars.
type RangeConfig struct {
	Min string `mapstructure:"min"`
	Max string `mapstructure:"max"`
}

// Bounds parses the range into decimals.
func (r RangeConfig) Bounds() (decimal.Decimal, decimal.Decimal, error) {
	lo, err := decimal.NewFromString(r.Min)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid min %q: %w", r.Min, err)
	}
	hi, err := decimal.NewFromString(r.Max)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid max %q: %w", r.Max, err)
	}
	if lo.IsNegative() || hi.LessThan(lo) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid range [%s, %s]", r.Min, r.Max)
	}
	return lo, hi, nil
}

// RewardsConfig holds the server-side reward ranges for random-payout activities.
type RewardsConfig struct {
	Checkin     RangeConfig `mapstructure:"checkin"`
	Treasure    RangeConfig `mapstructure:"treasure"`
	ScratchCard RangeConfig `mapstructure:"scratch_card"`
}

// ReferralConfig holds the commission fan-out policy.
type ReferralConfig struct {
	MaxLevels   int           `mapstructure:"max_levels"`
	Rates       []string      `mapstructure:"rates"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	CacheSize   int           `mapstructure:"cache_size"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// RateDecimals parses the configured commission rates.
func (r ReferralConfig) RateDecimals() ([]decimal.Decimal, error) {
	rates := make([]decimal.Decimal, 0, len(r.Rates))
	for _, s := range r.Rates {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid referral rate %q: %w", s, err)
		}
		rates = append(rates, d)
	}
	return rates, nil
}

// WithdrawalConfig holds cash-out limits.
type WithdrawalConfig struct {
	Min        string   `mapstructure:"min"`
	Max        string   `mapstructure:"max"`
	FeePercent string   `mapstructure:"fee_percent"`
	Methods    []string `mapstructure:"methods"`
}

// LuckyDrawConfig holds lucky draw pricing.
type LuckyDrawConfig struct {
	EntryCost  int64 `mapstructure:"entry_cost"`
	MaxEntries int   `mapstructure:"max_entries"`
}

// LedgerConfig holds the transactional retry policy.
type LedgerConfig struct {
	OpTimeout      time.Duration `mapstructure:"op_timeout"`
	MaxRetries     uint64        `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
}

// WorkersConfig holds background worker settings.
type WorkersConfig struct {
	CommissionPoolSize int           `mapstructure:"commission_pool_size"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	SweepBatch         int           `mapstructure:"sweep_batch"`
	LeaderboardRefresh time.Duration `mapstructure:"leaderboard_refresh"`
	AuditInterval      time.Duration `mapstructure:"audit_interval"`
}

// LeaderboardConfig holds leaderboard settings.
type LeaderboardConfig struct {
	DefaultLimit int           `mapstructure:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	ActiveWindow time.Duration `mapstructure:"active_window"`
}

// StorageConfig points at the S3-compatible bucket for audit reports.
// An empty bucket disables uploads.
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Prefix          string `mapstructure:"prefix"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory. A .env file in the
// working directory, when present, is loaded into the environment first.
func Load(configPath string) (*Config, error) {
	// Missing .env is fine; real environment wins over it.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. BOT_TOKEN, DATABASE_HOST, REFERRAL_MAX_LEVELS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetDefault("bot.enabled", false)
	v.SetDefault("bot.username", "CryptraBot")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.public_base_url", "https://cryptra.app")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "cryptra")
	v.SetDefault("database.name", "cryptra")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("quotas.checkin", 1)
	v.SetDefault("quotas.ad_watch", 20)
	v.SetDefault("quotas.scratch_card", 3)
	v.SetDefault("quotas.treasure", 1)

	v.SetDefault("rewards.checkin.min", "0.001")
	v.SetDefault("rewards.checkin.max", "0.005")
	v.SetDefault("rewards.treasure.min", "0.004")
	v.SetDefault("rewards.treasure.max", "0.007")
	v.SetDefault("rewards.scratch_card.min", "0.002")
	v.SetDefault("rewards.scratch_card.max", "0.005")

	v.SetDefault("referral.max_levels", 3)
	v.SetDefault("referral.rates", []string{"0.10", "0.05", "0.02"})
	v.SetDefault("referral.max_attempts", 8)
	v.SetDefault("referral.cache_size", 10000)
	v.SetDefault("referral.retry_delay", "30s")

	v.SetDefault("withdrawal.min", "3")
	v.SetDefault("withdrawal.max", "5")
	v.SetDefault("withdrawal.fee_percent", "2")
	v.SetDefault("withdrawal.methods", []string{"upi", "paypal"})

	v.SetDefault("lucky_draw.entry_cost", 10)
	v.SetDefault("lucky_draw.max_entries", 100)

	v.SetDefault("ledger.op_timeout", "5s")
	v.SetDefault("ledger.max_retries", 5)
	v.SetDefault("ledger.retry_base_delay", "20ms")
	v.SetDefault("ledger.lock_timeout", "3s")

	v.SetDefault("workers.commission_pool_size", 8)
	v.SetDefault("workers.sweep_interval", "30s")
	v.SetDefault("workers.sweep_batch", 100)
	v.SetDefault("workers.leaderboard_refresh", "1m")
	v.SetDefault("workers.audit_interval", "24h")

	v.SetDefault("leaderboard.default_limit", 50)
	v.SetDefault("leaderboard.max_limit", 200)
	v.SetDefault("leaderboard.cache_ttl", "2m")
	v.SetDefault("leaderboard.active_window", "168h")

	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.prefix", "audits")
}

// Validate checks cross-field invariants that viper cannot express.
func (c *Config) Validate() error {
	if c.Referral.MaxLevels < 1 {
		return errors.New("referral.max_levels must be at least 1")
	}
	rates, err := c.Referral.RateDecimals()
	if err != nil {
		return err
	}
	if len(rates) < c.Referral.MaxLevels {
		return fmt.Errorf("referral.rates has %d entries, need %d", len(rates), c.Referral.MaxLevels)
	}
	for i, r := range rates {
		if !r.IsPositive() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("referral rate %s at level %d must be in (0, 1)", r, i+1)
		}
		if i > 0 && !r.LessThan(rates[i-1]) {
			return fmt.Errorf("referral rates must be strictly decreasing (level %d)", i+1)
		}
	}

	for name, rg := range map[string]RangeConfig{
		"rewards.checkin":      c.Rewards.Checkin,
		"rewards.treasure":     c.Rewards.Treasure,
		"rewards.scratch_card": c.Rewards.ScratchCard,
	} {
		if _, _, err := rg.Bounds(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if _, _, err := (RangeConfig{Min: c.Withdrawal.Min, Max: c.Withdrawal.Max}).Bounds(); err != nil {
		return fmt.Errorf("withdrawal: %w", err)
	}
	if _, err := decimal.NewFromString(c.Withdrawal.FeePercent); err != nil {
		return fmt.Errorf("withdrawal.fee_percent: %w", err)
	}

	if c.Quotas.Checkin < 1 || c.Quotas.AdWatch < 1 || c.Quotas.ScratchCard < 1 || c.Quotas.Treasure < 1 {
		return errors.New("quotas must be at least 1")
	}
	if c.LuckyDraw.EntryCost <= 0 {
		return errors.New("lucky_draw.entry_cost must be positive")
	}
	if c.Bot.Enabled && c.Bot.Token == "" {
		return errors.New("bot.token is required when bot.enabled")
	}
	return nil
}

// IsAdmin checks if a Telegram user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
