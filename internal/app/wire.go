package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/scalpcore/internal/blob/s3"
	"github.com/alanyoungcy/scalpcore/internal/cache/redis"
	"github.com/alanyoungcy/scalpcore/internal/config"
	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/notify"
	"github.com/alanyoungcy/scalpcore/internal/sink/kafka"
	"github.com/alanyoungcy/scalpcore/internal/store/postgres"
)

// Dependencies bundles the infrastructure clients and domain-level stores the
// application modes need. It is constructed by Wire and torn down by the
// returned cleanup function. Optional parts are nil when disabled.
type Dependencies struct {
	Redis    *redis.Client
	Postgres *postgres.Client
	S3       *s3blob.Client

	// Stores
	CandleStore   domain.CandleStore
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore

	// Caches
	TickCache   domain.TickCache
	WindowCache domain.WindowCache
	RateLimiter domain.RateLimiter
	LockManager *redis.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Outbound
	Kafka    *kafka.Publisher
	Notifier *notify.Notifier
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
	var (
		pgCandles   *postgres.CandleStore
		pgPositions *postgres.PositionStore
	)

	// --- Redis (window cache, locks, mirror bus, rate limiting) ---
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

	deps.Redis = redisClient
	deps.TickCache = redis.NewTickCache(redisClient, cfg.Redis.TickTTL.Duration)
	deps.WindowCache = redis.NewWindowCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
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
		deps.Postgres = pgClient
		pgCandles = postgres.NewCandleStore(pool)
		pgPositions = postgres.NewPositionStore(pool)
		deps.CandleStore = pgCandles
		deps.PositionStore = pgPositions
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- S3 blob storage (only when archiving) ---
	if cfg.Pipeline.ArchiveEnabled {
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

		deps.S3 = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		// The archiver reads and deletes through the Postgres stores.
		if pgCandles != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, pgCandles, pgPositions, deps.AuditStore, cfg.Pipeline.ArchivePageSize)
		}
	}

	// --- Kafka position events ---
	if cfg.Kafka.Enabled {
		pub, err := kafka.New(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout.Duration,
			WriteTimeout: cfg.Kafka.WriteTimeout.Duration,
		}, "scalpcore-"+cfg.Mode)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kafka: %w", err)
		}
		closers = append(closers, func() { _ = pub.Close() })
		deps.Kafka = pub
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
