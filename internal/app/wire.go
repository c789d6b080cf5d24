package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/colemanlowe/fibhedge/internal/blob/s3"
	"github.com/colemanlowe/fibhedge/internal/cache/redis"
	"github.com/colemanlowe/fibhedge/internal/config"
	"github.com/colemanlowe/fibhedge/internal/domain"
	"github.com/colemanlowe/fibhedge/internal/notify"
	"github.com/colemanlowe/fibhedge/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	PlanStore       domain.PlanStore
	PositionStore   domain.PositionStore
	TriggerStore    domain.TriggerStore
	AllocationStore domain.AllocationStore

	// Caches
	PriceCache domain.PriceCache
	SignalBus  domain.SignalBus

	// Archive
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Clients kept for health checks.
	PG    *postgres.Client
	Redis *redis.Client
}

// needsRedis returns true for modes that run the live engine or API.
func needsRedis(mode string) bool {
	switch strings.ToLower(mode) {
	case "serve", "track", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true when the archive exporter will run.
func needsS3(cfg *config.Config) bool {
	return strings.ToLower(cfg.Mode) == "archive" || cfg.Archive.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (every mode persists or reads positions) ---
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
	deps.PG = pgClient

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	planStore := postgres.NewPlanStore(pool)
	positionStore := postgres.NewPositionStore(pool)
	triggerStore := postgres.NewTriggerStore(pool)
	deps.PlanStore = planStore
	deps.PositionStore = positionStore
	deps.TriggerStore = triggerStore
	deps.AllocationStore = postgres.NewAllocationStore(pool)

	// --- Redis (live modes only) ---
	if needsRedis(cfg.Mode) {
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
		deps.Redis = redisClient

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage (archive exporter only) ---
	if needsS3(cfg) {
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

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			positionStore,
			triggerStore,
			logger,
		)
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
