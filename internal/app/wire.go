package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/kevinmok/hypertracker/internal/blob/s3"
	"github.com/kevinmok/hypertracker/internal/cache/redis"
	"github.com/kevinmok/hypertracker/internal/config"
	"github.com/kevinmok/hypertracker/internal/domain"
	"github.com/kevinmok/hypertracker/internal/notify"
	"github.com/kevinmok/hypertracker/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. Constructed by Wire, torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Events    domain.EventStore
	State     domain.TraderStateStore
	Snapshots domain.SnapshotStore
	Signals   domain.SignalStore
	Candles   domain.CandleStore

	// Caches; nil when Redis is disabled.
	SignalCache domain.SignalCache
	AlertCache  domain.AlertCache
	PriceCache  domain.PriceCache
	Publisher   domain.Publisher

	// Blob archive; nil when S3 is disabled.
	BlobWriter domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them with a cleanup function.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

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
	deps.Events = postgres.NewEventStore(pool)
	deps.State = postgres.NewTraderStateStore(pool)
	deps.Snapshots = postgres.NewSnapshotStore(pool)
	deps.Signals = postgres.NewSignalStore(pool)
	deps.Candles = postgres.NewCandleStore(pool)

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalCache = redis.NewSignalCache(redisClient, cfg.Redis.SignalTTL.Duration)
		deps.AlertCache = redis.NewAlertCache(redisClient)
		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.Publisher = redis.NewPublisher(redisClient)
	}

	// --- S3 event archive ---
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
		deps.BlobWriter = s3blob.NewWriter(s3Client)
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
	deps.Notifier = notify.NewNotifier(
		senders, domain.AlertPriority(cfg.Notify.MinPriority), logger,
	)

	return deps, cleanup, nil
}
