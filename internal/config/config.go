// Package config defines the top-level configuration for the kalshi bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KALSHIBOT_* environment variables.
type Config struct {
	Kalshi   KalshiConfig   `toml:"kalshi"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Oracle   OracleConfig   `toml:"oracle"`
	Screener ScreenerConfig `toml:"screener"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Trading  TradingConfig  `toml:"trading"`
	Jobs     JobsConfig     `toml:"jobs"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// KalshiConfig holds Kalshi exchange API credentials. The private key can
// come inline, from a plaintext PEM file, or from an encrypted key file.
type KalshiConfig struct {
	ApiKeyID          string `toml:"api_key_id"`
	BaseURL           string `toml:"base_url"`
	PrivateKeyPEM     string `toml:"private_key_pem"`
	PrivateKeyPath    string `toml:"private_key_path"`
	EncryptedKeyPath  string `toml:"encrypted_key_path"`
	KeyPassword       string `toml:"key_password"`
	RequestsPerSecond int    `toml:"requests_per_second"`
	MaxAttempts       int    `toml:"max_attempts"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig holds the decision service endpoint.
type OracleConfig struct {
	BaseURL string `toml:"base_url"`
	ApiKey  string `toml:"api_key"`
}

// ScreenerConfig holds the discovery-time filtering thresholds.
type ScreenerConfig struct {
	MinOdds             float64 `toml:"min_odds"`
	MaxDegenerateOdds   float64 `toml:"max_degenerate_odds"`
	MaxDaysToResolution float64 `toml:"max_days_to_resolution"`
	MinVolume24H        int64   `toml:"min_volume_24h"`
	MinOpenInterest     int64   `toml:"min_open_interest"`
	MaxSpread           float64 `toml:"max_spread"`
	MinLiveLiquidity    int64   `toml:"min_live_liquidity"`
	MaxSlippagePct      float64 `toml:"max_slippage_pct"`
	AssumedOrderSize    int64   `toml:"assumed_order_size"`
	PageSize            int     `toml:"page_size"`
	MaxPages            int     `toml:"max_pages"`
	DepthCheckLimit     int     `toml:"depth_check_limit"`
}

// ScannerConfig holds the trade-time rescan thresholds and exclusion lists.
type ScannerConfig struct {
	MinOdds             float64  `toml:"min_odds"`
	MaxDaysToResolution float64  `toml:"max_days_to_resolution"`
	MinLiveLiquidity    int64    `toml:"min_live_liquidity"`
	ExcludedCategories  []string `toml:"excluded_categories"`
	ExcludedKeywords    []string `toml:"excluded_keywords"`
	MaxCandidates       int      `toml:"max_candidates"`
}

// TradingConfig holds sizing and execution parameters.
type TradingConfig struct {
	DryRun        bool     `toml:"dry_run"`
	Forced        bool     `toml:"forced"` // stop after the first filled trade
	DailyBudget   float64  `toml:"daily_budget"`
	MinAllocation float64  `toml:"min_allocation"`
	MaxAllocation float64  `toml:"max_allocation"`
	HistoryDepth  int      `toml:"history_depth"`
	FillTimeout   duration `toml:"fill_timeout"`
	StaleAfter    duration `toml:"stale_after"` // reconcile cutoff for resting orders
	TiePolicy     string   `toml:"tie_policy"`  // "yes" or "skip"
}

// JobsConfig holds the built-in scheduling knobs. Most jobs are triggered
// externally; only the cache refresher runs on an internal ticker.
type JobsConfig struct {
	RefreshInterval duration `toml:"refresh_interval"` // 0 disables the ticker
}

// ArchiveConfig holds cold-storage retention parameters.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL:           "https://api.elections.kalshi.com/trade-api/v2",
			RequestsPerSecond: 5,
			MaxAttempts:       3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "kalshibot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "kalshibot-archive",
			ForcePathStyle: true,
		},
		Screener: ScreenerConfig{
			MinOdds:             0.84,
			MaxDegenerateOdds:   0.99,
			MaxDaysToResolution: 7,
			MinVolume24H:        1_000,
			MinOpenInterest:     2_000,
			MinLiveLiquidity:    100,
			MaxSlippagePct:      5,
			AssumedOrderSize:    100,
			PageSize:            200,
			MaxPages:            25,
			DepthCheckLimit:     40,
		},
		Scanner: ScannerConfig{
			MinOdds:             0.84,
			MaxDaysToResolution: 7,
			MinLiveLiquidity:    100,
			MaxCandidates:       25,
		},
		Trading: TradingConfig{
			DryRun:        true,
			DailyBudget:   250,
			MinAllocation: 20,
			MaxAllocation: 100,
			HistoryDepth:  20,
			FillTimeout:   duration{30 * time.Second},
			StaleAfter:    duration{30 * time.Minute},
			TiePolicy:     "skip",
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency and returns a
// combined error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Kalshi.ApiKeyID == "" {
		errs = append(errs, "kalshi: api_key_id is required")
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}
	if c.Kalshi.PrivateKeyPEM == "" && c.Kalshi.PrivateKeyPath == "" && c.Kalshi.EncryptedKeyPath == "" {
		errs = append(errs, "kalshi: one of private_key_pem, private_key_path, or encrypted_key_path is required")
	}
	if c.Kalshi.EncryptedKeyPath != "" && c.Kalshi.KeyPassword == "" {
		errs = append(errs, "kalshi: key_password is required with encrypted_key_path")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url is required")
	}

	if c.Trading.DailyBudget <= 0 {
		errs = append(errs, "trading: daily_budget must be > 0")
	}
	if c.Trading.MinAllocation <= 0 {
		errs = append(errs, "trading: min_allocation must be > 0")
	}
	if c.Trading.MaxAllocation < c.Trading.MinAllocation {
		errs = append(errs, "trading: max_allocation must be >= min_allocation")
	}
	if c.Trading.MaxAllocation > c.Trading.DailyBudget {
		errs = append(errs, "trading: max_allocation must not exceed daily_budget")
	}
	switch c.Trading.TiePolicy {
	case "", "yes", "skip":
	default:
		errs = append(errs, fmt.Sprintf("trading: tie_policy must be \"yes\" or \"skip\", got %q", c.Trading.TiePolicy))
	}

	if c.Screener.MinOdds <= 0.5 || c.Screener.MinOdds >= 1 {
		errs = append(errs, "screener: min_odds must be in (0.5, 1)")
	}
	if c.Screener.MaxDegenerateOdds <= c.Screener.MinOdds {
		errs = append(errs, "screener: max_degenerate_odds must exceed min_odds")
	}
	if c.Screener.MaxDaysToResolution <= 0 {
		errs = append(errs, "screener: max_days_to_resolution must be > 0")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
