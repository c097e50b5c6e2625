package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "KALSHIBOT_"

// Load reads the configuration file at path, layers environment overrides on
// top, and validates the result. A missing file is not an error when path is
// empty; defaults plus environment variables are used instead.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env files are a development convenience; absence is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides maps KALSHIBOT_* environment variables onto config
// fields. Environment values always win over file values.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Kalshi.ApiKeyID, "KALSHI_API_KEY_ID")
	setStr(&cfg.Kalshi.BaseURL, "KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.PrivateKeyPEM, "KALSHI_PRIVATE_KEY_PEM")
	setStr(&cfg.Kalshi.PrivateKeyPath, "KALSHI_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.EncryptedKeyPath, "KALSHI_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Kalshi.KeyPassword, "KALSHI_KEY_PASSWORD")
	setInt(&cfg.Kalshi.RequestsPerSecond, "KALSHI_REQUESTS_PER_SECOND")
	setInt(&cfg.Kalshi.MaxAttempts, "KALSHI_MAX_ATTEMPTS")

	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")

	setStr(&cfg.Oracle.BaseURL, "ORACLE_BASE_URL")
	setStr(&cfg.Oracle.ApiKey, "ORACLE_API_KEY")

	setFloat64(&cfg.Screener.MinOdds, "SCREENER_MIN_ODDS")
	setFloat64(&cfg.Screener.MaxDaysToResolution, "SCREENER_MAX_DAYS_TO_RESOLUTION")
	setInt64(&cfg.Screener.MinVolume24H, "SCREENER_MIN_VOLUME_24H")
	setInt64(&cfg.Screener.MinOpenInterest, "SCREENER_MIN_OPEN_INTEREST")

	setStringSlice(&cfg.Scanner.ExcludedCategories, "SCANNER_EXCLUDED_CATEGORIES")
	setStringSlice(&cfg.Scanner.ExcludedKeywords, "SCANNER_EXCLUDED_KEYWORDS")
	setInt(&cfg.Scanner.MaxCandidates, "SCANNER_MAX_CANDIDATES")

	setBool(&cfg.Trading.DryRun, "TRADING_DRY_RUN")
	setBool(&cfg.Trading.Forced, "TRADING_FORCED")
	setFloat64(&cfg.Trading.DailyBudget, "TRADING_DAILY_BUDGET")
	setFloat64(&cfg.Trading.MinAllocation, "TRADING_MIN_ALLOCATION")
	setFloat64(&cfg.Trading.MaxAllocation, "TRADING_MAX_ALLOCATION")
	setDuration(&cfg.Trading.FillTimeout, "TRADING_FILL_TIMEOUT")
	setStr(&cfg.Trading.TiePolicy, "TRADING_TIE_POLICY")

	setDuration(&cfg.Jobs.RefreshInterval, "JOBS_REFRESH_INTERVAL")

	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")

	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")

	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v, ok := lookup(key); ok {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
