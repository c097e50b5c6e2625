package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/archive"
	s3blob "github.com/alanyoungcy/kalshibot/internal/blob/s3"
	"github.com/alanyoungcy/kalshibot/internal/cache/redis"
	"github.com/alanyoungcy/kalshibot/internal/config"
	"github.com/alanyoungcy/kalshibot/internal/crypto"
	"github.com/alanyoungcy/kalshibot/internal/executor"
	"github.com/alanyoungcy/kalshibot/internal/jobs"
	"github.com/alanyoungcy/kalshibot/internal/notify"
	"github.com/alanyoungcy/kalshibot/internal/oracle"
	"github.com/alanyoungcy/kalshibot/internal/platform/kalshi"
	"github.com/alanyoungcy/kalshibot/internal/resolver"
	"github.com/alanyoungcy/kalshibot/internal/risk"
	"github.com/alanyoungcy/kalshibot/internal/scanner"
	"github.com/alanyoungcy/kalshibot/internal/screener"
	"github.com/alanyoungcy/kalshibot/internal/store/postgres"
)

// Dependencies bundles every constructed component the application needs to
// operate. It is built by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Exchange *kalshi.Client
	Runner   *jobs.Runner

	TradeStore *postgres.TradeStore
	Notifier   *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Kalshi exchange client ---
	exchange := kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.ApiKeyID)
	keyPEM, err := crypto.LoadKey(crypto.KeyConfig{
		PrivateKeyPEM:    cfg.Kalshi.PrivateKeyPEM,
		PrivateKeyPath:   cfg.Kalshi.PrivateKeyPath,
		EncryptedKeyPath: cfg.Kalshi.EncryptedKeyPath,
		KeyPassword:      cfg.Kalshi.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: signing key: %w", err)
	}
	if err := exchange.SetRSAPrivateKey(keyPEM); err != nil {
		return nil, nil, fmt.Errorf("wire: signing key: %w", err)
	}
	if cfg.Kalshi.RequestsPerSecond > 0 {
		exchange.SetRateLimit(float64(cfg.Kalshi.RequestsPerSecond))
	}
	if cfg.Kalshi.MaxAttempts > 0 {
		exchange.SetMaxAttempts(cfg.Kalshi.MaxAttempts)
	}
	deps.Exchange = exchange

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	markets := postgres.NewMarketStore(pool)
	contracts := postgres.NewContractStore(pool)
	trades := postgres.NewTradeStore(pool)
	stopLoss := postgres.NewStopLossStore(pool)
	deps.TradeStore = trades

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	bankroll := redis.NewBankrollCache(redisClient)
	locks := redis.NewLockManager(redisClient)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Notifier = notifier

	// --- Pipeline stages ---
	scr := screener.New(exchange, logger)
	scn := scanner.New(markets, exchange, logger)
	orc := oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.ApiKey, logger)
	exec := executor.New(exchange, contracts, trades, executor.Options{
		DryRun:      cfg.Trading.DryRun,
		Forced:      cfg.Trading.Forced,
		FillTimeout: cfg.Trading.FillTimeout.Duration,
		TiePolicy:   executor.TiePolicy(cfg.Trading.TiePolicy),
	}, logger)
	riskEngine := risk.New(exchange, trades, stopLoss, notifier, logger)
	res := resolver.New(exchange, trades, markets, bankroll, notifier, logger)

	// --- Archive (optional) ---
	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		archiver = archive.New(trades, stopLoss, s3blob.NewWriter(s3Client), retention, logger)
	}

	deps.Runner = jobs.New(jobs.Deps{
		Gateway:  exchange,
		Markets:  markets,
		Trades:   trades,
		Bankroll: bankroll,

		Screener: scr,
		Scanner:  scn,
		Oracle:   orc,
		Executor: exec,
		Risk:     riskEngine,
		Resolver: res,
		Archiver: archiver,

		ScreenCriteria: screenCriteria(cfg),
		ScanCriteria:   scanCriteria(cfg),
		Policy: jobs.TradePolicy{
			DailyBudget:   cfg.Trading.DailyBudget,
			MinAllocation: cfg.Trading.MinAllocation,
			MaxAllocation: cfg.Trading.MaxAllocation,
			HistoryDepth:  cfg.Trading.HistoryDepth,
		},
		StaleAfter: cfg.Trading.StaleAfter.Duration,
	}, locks, logger)

	return deps, cleanup, nil
}

func screenCriteria(cfg *config.Config) screener.Criteria {
	return screener.Criteria{
		MinOdds:             cfg.Screener.MinOdds,
		MaxDegenerateOdds:   cfg.Screener.MaxDegenerateOdds,
		MaxDaysToResolution: cfg.Screener.MaxDaysToResolution,
		MinVolume24H:        cfg.Screener.MinVolume24H,
		MinOpenInterest:     cfg.Screener.MinOpenInterest,
		MaxSpread:           cfg.Screener.MaxSpread,
		MinLiveLiquidity:    cfg.Screener.MinLiveLiquidity,
		MaxSlippagePct:      cfg.Screener.MaxSlippagePct,
		AssumedOrderSize:    cfg.Screener.AssumedOrderSize,
		PageSize:            cfg.Screener.PageSize,
		MaxPages:            cfg.Screener.MaxPages,
		DepthCheckLimit:     cfg.Screener.DepthCheckLimit,
	}
}

func scanCriteria(cfg *config.Config) scanner.Criteria {
	return scanner.Criteria{
		MinOdds:             cfg.Scanner.MinOdds,
		MaxDaysToResolution: cfg.Scanner.MaxDaysToResolution,
		MinLiveLiquidity:    cfg.Scanner.MinLiveLiquidity,
		ExcludedCategories:  cfg.Scanner.ExcludedCategories,
		ExcludedKeywords:    cfg.Scanner.ExcludedKeywords,
		MaxCandidates:       cfg.Scanner.MaxCandidates,
	}
}
