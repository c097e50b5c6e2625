package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns Defaults() with the required credentials filled in.
func validConfig() Config {
	cfg := Defaults()
	cfg.Kalshi.ApiKeyID = "key-id"
	cfg.Kalshi.PrivateKeyPath = "/etc/kalshibot/key.pem"
	cfg.Oracle.BaseURL = "http://localhost:9000"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Kalshi.ApiKeyID = ""
	cfg.Trading.DailyBudget = 0
	cfg.Trading.MinAllocation = 0
	cfg.Server.Port = 99999

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key_id is required")
	assert.Contains(t, err.Error(), "daily_budget must be > 0")
	assert.Contains(t, err.Error(), "min_allocation must be > 0")
	assert.Contains(t, err.Error(), "port must be 1-65535")
}

func TestValidateRequiresSomeKeySource(t *testing.T) {
	cfg := validConfig()
	cfg.Kalshi.PrivateKeyPath = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key_pem, private_key_path, or encrypted_key_path")
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Kalshi.PrivateKeyPath = ""
	cfg.Kalshi.EncryptedKeyPath = "/etc/kalshibot/key.enc"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password is required")
}

func TestValidateAllocationOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.MinAllocation = 100
	cfg.Trading.MaxAllocation = 50

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_allocation must be >= min_allocation")
}

func TestValidateRejectsBogusTiePolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.TiePolicy = "coinflip"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tie_policy")
}

func TestLoadDecodesTOMLAndDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
log_level = "debug"

[kalshi]
api_key_id = "key-id"
private_key_path = "/etc/kalshibot/key.pem"

[oracle]
base_url = "http://oracle.internal:9000"

[trading]
daily_budget = 400.0
fill_timeout = "45s"
stale_after = "1h"

[scanner]
excluded_keywords = ["parlay", "crypto"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 400.0, cfg.Trading.DailyBudget)
	assert.Equal(t, 45*time.Second, cfg.Trading.FillTimeout.Duration)
	assert.Equal(t, time.Hour, cfg.Trading.StaleAfter.Duration)
	assert.Equal(t, []string{"parlay", "crypto"}, cfg.Scanner.ExcludedKeywords)
	// File did not touch these; defaults survive the decode.
	assert.Equal(t, 0.84, cfg.Screener.MinOdds)
	assert.True(t, cfg.Trading.DryRun)
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[kalshi]
api_key_id = "from-file"
private_key_path = "/etc/kalshibot/key.pem"

[oracle]
base_url = "http://oracle.internal:9000"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("KALSHIBOT_KALSHI_API_KEY_ID", "from-env")
	t.Setenv("KALSHIBOT_TRADING_DRY_RUN", "false")
	t.Setenv("KALSHIBOT_SCANNER_EXCLUDED_CATEGORIES", "Politics, Crypto")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Kalshi.ApiKeyID)
	assert.False(t, cfg.Trading.DryRun)
	assert.Equal(t, []string{"Politics", "Crypto"}, cfg.Scanner.ExcludedCategories)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[kalshi]\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Kalshi.KeyPassword = "hunter2"
	cfg.Postgres.Password = "pgpass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Server.APIKey = "trigger-key"

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Kalshi.KeyPassword)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	// Originals are untouched.
	assert.Equal(t, "hunter2", cfg.Kalshi.KeyPassword)
}
