package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SCALP_* environment variable overrides, and
// returns the final Config. An empty path skips the file and runs on defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			// Detector params are free-form, everything else must be known.
			keys = slices.DeleteFunc(keys, func(k string) bool { return strings.Contains(k, ".params.") })
			if len(keys) > 0 {
				return nil, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SCALP_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Feeds ──
	setBool(&cfg.Feeds.Spot.Enabled, "SCALP_FEEDS_SPOT_ENABLED")
	setStr(&cfg.Feeds.Spot.URL, "SCALP_FEEDS_SPOT_URL")
	setStr(&cfg.Feeds.Spot.Token, "SCALP_FEEDS_SPOT_TOKEN")
	setStringSlice(&cfg.Feeds.Spot.Symbols, "SCALP_FEEDS_SPOT_SYMBOLS")
	setBool(&cfg.Feeds.Futures.Enabled, "SCALP_FEEDS_FUTURES_ENABLED")
	setStr(&cfg.Feeds.Futures.URL, "SCALP_FEEDS_FUTURES_URL")
	setStr(&cfg.Feeds.Futures.Token, "SCALP_FEEDS_FUTURES_TOKEN")
	setStringSlice(&cfg.Feeds.Futures.Symbols, "SCALP_FEEDS_FUTURES_SYMBOLS")

	// ── Calendar ──
	setBool(&cfg.Calendar.Enabled, "SCALP_CALENDAR_ENABLED")
	setStr(&cfg.Calendar.URL, "SCALP_CALENDAR_URL")
	setStr(&cfg.Calendar.Token, "SCALP_CALENDAR_TOKEN")
	setDuration(&cfg.Calendar.Interval, "SCALP_CALENDAR_INTERVAL")

	// ── Risk / lifecycle ──
	setInt(&cfg.Risk.MaxConcurrent, "SCALP_RISK_MAX_CONCURRENT")
	setInt(&cfg.Risk.DailyTradeCap, "SCALP_RISK_DAILY_TRADE_CAP")
	setFloat64(&cfg.Risk.DailyLossBudget, "SCALP_RISK_DAILY_LOSS_BUDGET")
	setDuration(&cfg.Risk.Cooldown, "SCALP_RISK_COOLDOWN")
	setDuration(&cfg.Lifecycle.MaxHold, "SCALP_LIFECYCLE_MAX_HOLD")

	// ── Oracle ──
	setStr(&cfg.Oracle.URL, "SCALP_ORACLE_URL")
	setStr(&cfg.Oracle.Token, "SCALP_ORACLE_TOKEN")
	setDuration(&cfg.Oracle.Timeout, "SCALP_ORACLE_TIMEOUT")
	setStr(&cfg.Oracle.SigningKey, "SCALP_ORACLE_SIGNING_KEY")
	setStr(&cfg.Oracle.SigningSecret, "SCALP_ORACLE_SIGNING_SECRET")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SCALP_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SCALP_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SCALP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SCALP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SCALP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SCALP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SCALP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SCALP_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SCALP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SCALP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SCALP_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SCALP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SCALP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SCALP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SCALP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SCALP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SCALP_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SCALP_REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "SCALP_REDIS_STREAM_MAX_LEN")
	setBool(&cfg.Mirror.Enabled, "SCALP_MIRROR_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SCALP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SCALP_S3_REGION")
	setStr(&cfg.S3.Bucket, "SCALP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SCALP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SCALP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SCALP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SCALP_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "SCALP_S3_PREFIX")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "SCALP_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "SCALP_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "SCALP_KAFKA_TOPIC")

	// ── Pipeline ──
	setInt(&cfg.Pipeline.CandleBatchSize, "SCALP_PIPELINE_CANDLE_BATCH_SIZE")
	setDuration(&cfg.Pipeline.CandleFlushInterval, "SCALP_PIPELINE_CANDLE_FLUSH_INTERVAL")
	setBool(&cfg.Pipeline.ArchiveEnabled, "SCALP_PIPELINE_ARCHIVE_ENABLED")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "SCALP_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "SCALP_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SCALP_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "SCALP_SERVER_ADDR")
	setStringSlice(&cfg.Server.CORSOrigins, "SCALP_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SCALP_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SCALP_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SCALP_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SCALP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SCALP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SCALP_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SCALP_MODE")
	setStr(&cfg.LogLevel, "SCALP_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
