package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/stratexec/internal/blob/s3"
	"github.com/alanyoungcy/stratexec/internal/broker"
	alpacabroker "github.com/alanyoungcy/stratexec/internal/broker/alpaca"
	"github.com/alanyoungcy/stratexec/internal/broker/paper"
	"github.com/alanyoungcy/stratexec/internal/cache/redis"
	"github.com/alanyoungcy/stratexec/internal/config"
	"github.com/alanyoungcy/stratexec/internal/domain"
	"github.com/alanyoungcy/stratexec/internal/notify"
	"github.com/alanyoungcy/stratexec/internal/store/postgres"
	"github.com/alanyoungcy/stratexec/internal/store/sqlite"
)

// Dependencies bundles every domain-level dependency the engine needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	ProcessedSignals domain.ProcessedSignalStore
	Orders           domain.OrderStore
	Trades           domain.CompletedTradeStore
	Audit            domain.AuditStore

	// Redis
	PositionCache domain.PositionCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalQueue   domain.SignalQueue

	// Broker
	Gateway broker.Gateway

	// Blob storage (nil when archival is disabled)
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them with a cleanup function to be called on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Persistence ---
	switch cfg.Database.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ProcessedSignals = postgres.NewProcessedSignalStore(pool)
		deps.Orders = postgres.NewOrderStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)

	case "sqlite":
		store, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })

		deps.ProcessedSignals = store.ProcessedSignals()
		deps.Orders = store.Orders()
		deps.Trades = store.Trades()
		deps.Audit = store.Audit()

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown database driver %q", cfg.Database.Driver)
	}

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

	deps.PositionCache = redis.NewPositionCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalQueue = redis.NewSignalQueue(redisClient)

	// --- Broker gateway ---
	switch strings.ToLower(cfg.Mode) {
	case "live":
		deps.Gateway = alpacabroker.New(
			cfg.Broker.ApiKey, cfg.Broker.ApiSecret, cfg.Broker.BaseURL,
			cfg.Broker.CallTimeout.Duration, logger)
	case "paper":
		if cfg.Broker.Provider == "alpaca" && cfg.Broker.ApiKey != "" {
			// Alpaca's paper endpoint is a real venue; prefer it over the
			// in-process simulation when credentials are present.
			deps.Gateway = alpacabroker.New(
				cfg.Broker.ApiKey, cfg.Broker.ApiSecret, cfg.Broker.BaseURL,
				cfg.Broker.CallTimeout.Duration, logger)
		} else {
			deps.Gateway = paper.New(100_000, 2*time.Second, logger)
		}
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unsupported mode %q", cfg.Mode)
	}

	// --- Cold storage ---
	if cfg.S3.Enabled {
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

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client), deps.Trades, deps.ProcessedSignals, deps.Audit, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
