package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/agentmarket/internal/blob/s3"
	"github.com/alanyoungcy/agentmarket/internal/cache/local"
	"github.com/alanyoungcy/agentmarket/internal/cache/redis"
	"github.com/alanyoungcy/agentmarket/internal/config"
	"github.com/alanyoungcy/agentmarket/internal/crypto"
	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/alanyoungcy/agentmarket/internal/notify"
	"github.com/alanyoungcy/agentmarket/internal/server/handler"
	"github.com/alanyoungcy/agentmarket/internal/service"
	"github.com/alanyoungcy/agentmarket/internal/store/memory"
	"github.com/alanyoungcy/agentmarket/internal/store/postgres"
)

// Dependencies bundles the stores, caches and services the run modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Storage
	Ledger     domain.Ledger
	AuditStore domain.AuditStore

	// Coordination
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Archive is nil unless archiving is enabled.
	Archive *service.ArchiveService

	// Services
	Agents      *service.AgentService
	Markets     *service.MarketService
	Trades      *service.TradeService
	Resolutions *service.ResolutionService
	Prices      *service.PriceHistoryService
	Performance *service.PerformanceService

	Notifier *notify.Notifier

	// HealthChecks ping every external dependency that was wired.
	HealthChecks map[string]handler.HealthCheck
}

// needsS3 reports whether the archive must be wired for this config.
func needsS3(cfg *config.Config) bool {
	return cfg.S3.Enabled && (cfg.Archive.Enabled || cfg.Mode == "archive")
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

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- Ledger ---
	switch cfg.Storage.Driver {
	case "memory":
		logger.WarnContext(ctx, "wire: using in-memory ledger; state is lost on exit")
		deps.Ledger = memory.NewLedger()
		deps.AuditStore = memory.NewAuditStore()
	default:
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

		deps.Ledger = pgClient.Ledger()
		deps.AuditStore = pgClient.AuditStore()
		deps.HealthChecks["postgres"] = pgClient.Pool().Ping
	}

	// --- Locks, events, rate limits ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.LockManager = local.NewLockManager()
		deps.SignalBus = local.NewSignalBus()
		deps.RateLimiter = local.NewRateLimiter()
	}

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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	// --- Services ---
	keys, err := crypto.NewKeyHasher(cfg.Auth.APIKeyPepper)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: api keys: %w", err)
	}

	opts := service.LedgerOptions{
		LockTTL:         cfg.Ledger.LockTTL.Duration,
		LockWait:        cfg.Ledger.LockWait.Duration,
		PayoutBatchSize: cfg.Ledger.PayoutBatchSize,
	}
	liquidity := decimal.NewFromFloat(cfg.Ledger.DefaultLiquidity)

	deps.Agents = service.NewAgentService(deps.Ledger, keys, deps.AuditStore, logger)
	deps.Markets = service.NewMarketService(deps.Ledger, liquidity, deps.SignalBus, deps.AuditStore, logger)
	deps.Trades = service.NewTradeService(deps.Ledger, deps.LockManager, deps.SignalBus, deps.AuditStore, deps.Notifier, opts, logger)
	deps.Resolutions = service.NewResolutionService(deps.Ledger, deps.LockManager, deps.SignalBus, deps.AuditStore, deps.Notifier, opts, logger)
	deps.Prices = service.NewPriceHistoryService(deps.Ledger, deps.Notifier, logger)
	deps.Performance = service.NewPerformanceService(deps.Ledger, logger)

	// --- S3 archive ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		stores := deps.Ledger.Stores()
		archiver := s3blob.NewLedgerArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewIndex(s3Client),
			stores.Trades,
			stores.Resolutions,
			deps.AuditStore,
		)
		deps.Archive = service.NewArchiveService(archiver, logger)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	return deps, cleanup, nil
}
