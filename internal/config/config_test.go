package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Quotas.Checkin)
	assert.Equal(t, 20, cfg.Quotas.AdWatch)
	assert.Equal(t, 3, cfg.Quotas.ScratchCard)
	assert.Equal(t, 1, cfg.Quotas.Treasure)
	assert.Equal(t, 3, cfg.Referral.MaxLevels)
	assert.Equal(t, 5*time.Second, cfg.Ledger.OpTimeout)
	assert.Equal(t, uint64(5), cfg.Ledger.MaxRetries)
	assert.Equal(t, 50, cfg.Leaderboard.DefaultLimit)
	assert.Equal(t, int64(10), cfg.LuckyDraw.EntryCost)

	rates, err := cfg.Referral.RateDecimals()
	require.NoError(t, err)
	require.Len(t, rates, 3)
	assert.True(t, rates[0].Equal(decimal.RequireFromString("0.10")))
	assert.True(t, rates[2].Equal(decimal.RequireFromString("0.02")))
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
database:
  host: db.internal
  port: 6543
quotas:
  ad_watch: 10
referral:
  max_levels: 2
  rates: ["0.2", "0.1"]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("DATABASE_HOST", "override.internal")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "override.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 10, cfg.Quotas.AdWatch)
	assert.Equal(t, 2, cfg.Referral.MaxLevels)
	assert.Equal(t, "postgres://cryptra:@override.internal:6543/cryptra?sslmode=disable", cfg.Database.DSN())
}

func TestValidate_ReferralRates(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"not decreasing", func(c *Config) { c.Referral.Rates = []string{"0.1", "0.1", "0.02"} }, true},
		{"too few rates", func(c *Config) { c.Referral.MaxLevels = 4 }, true},
		{"zero rate", func(c *Config) { c.Referral.Rates = []string{"0.1", "0.05", "0"} }, true},
		{"garbage rate", func(c *Config) { c.Referral.Rates = []string{"ten"} }, true},
		{"zero depth", func(c *Config) { c.Referral.MaxLevels = 0 }, true},
		{"inverted withdrawal range", func(c *Config) { c.Withdrawal.Min = "9" }, true},
		{"bot without token", func(c *Config) { c.Bot.Enabled = true; c.Bot.Token = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsAdminAndWhitelist(t *testing.T) {
	cfg := &Config{Admin: AdminConfig{IDs: []int64{7}}}
	assert.True(t, cfg.IsAdmin(7))
	assert.False(t, cfg.IsAdmin(8))
	assert.True(t, cfg.IsChatAllowed(123))

	cfg.Whitelist.Chats = []int64{-100}
	assert.True(t, cfg.IsChatAllowed(-100))
	assert.False(t, cfg.IsChatAllowed(123))
}
