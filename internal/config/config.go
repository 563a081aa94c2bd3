// Package config defines the top-level configuration for scalpcore and
// provides validation helpers.
package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/gate"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SCALP_* environment variables.
type Config struct {
	Hub        HubConfig        `toml:"hub"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Symbols    SymbolsConfig    `toml:"symbols"`
	OrderFlow  OrderFlowConfig  `toml:"orderflow"`
	Gate       GateConfig       `toml:"gate"`
	Calendar   CalendarConfig   `toml:"calendar"`
	Risk       RiskConfig       `toml:"risk"`
	Lifecycle  LifecycleConfig  `toml:"lifecycle"`
	Oracle     OracleConfig     `toml:"oracle"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Feeds      FeedsConfig      `toml:"feeds"`
	Redis      RedisConfig      `toml:"redis"`
	Mirror     MirrorConfig     `toml:"mirror"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Kafka      KafkaConfig      `toml:"kafka"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// HubConfig sizes the market data hub windows.
type HubConfig struct {
	CandleCapacity  int      `toml:"candle_capacity"`
	TickCapacity    int      `toml:"tick_capacity"`
	BaseTimeframe   duration `toml:"base_timeframe"`
	TickTTL         duration `toml:"tick_ttl"`
	OrderFlowTTL    duration `toml:"orderflow_ttl"`
	CandleTTLFactor float64  `toml:"candle_ttl_factor"`
	// WarmStartLimit is how many stored candles per source are loaded into
	// the hub at startup. Zero disables warm start.
	WarmStartLimit int `toml:"warm_start_limit"`
}

// AggregatorConfig configures the spot tick-to-candle aggregator.
type AggregatorConfig struct {
	Timeframes []duration `toml:"timeframes"`
	MaxGapFill int        `toml:"max_gap_fill"`
}

// SymbolsConfig configures the futures symbol mapper.
type SymbolsConfig struct {
	PendingLimit   int      `toml:"pending_limit"`
	PendingTimeout duration `toml:"pending_timeout"`
	SweepInterval  duration `toml:"sweep_interval"`
}

// OrderFlowConfig configures the order-flow engine.
type OrderFlowConfig struct {
	Depth            int                `toml:"depth"`
	ImbalanceLevels  int                `toml:"imbalance_levels"`
	DeltaWindow      duration           `toml:"delta_window"`
	SnapshotInterval duration           `toml:"snapshot_interval"`
	BarTimeframe     duration           `toml:"bar_timeframe"`
	SessionStart     string             `toml:"session_start"` // "HH:MM" UTC
	SweepLookback    int                `toml:"sweep_lookback"`
	SweepMinTicks    int                `toml:"sweep_min_ticks"`
	TickSize         float64            `toml:"tick_size"`
	TickSizes        map[string]float64 `toml:"tick_sizes"`
}

// SessionConfig is one trading session on the UTC clock.
type SessionConfig struct {
	Name        string   `toml:"name"`
	Start       string   `toml:"start"` // "HH:MM"
	End         string   `toml:"end"`
	Instruments []string `toml:"instruments"`
	Weekdays    []string `toml:"weekdays"` // "mon".."sun"
}

// GateConfig configures the entry gate.
type GateConfig struct {
	MaxSpread    float64            `toml:"max_spread"`
	MaxSpreads   map[string]float64 `toml:"max_spreads"`
	Sessions     []SessionConfig    `toml:"sessions"`
	SyncInterval duration           `toml:"sync_interval"`
	SyncHorizon  duration           `toml:"sync_horizon"`
}

// CalendarConfig configures the economic calendar poller.
type CalendarConfig struct {
	Enabled     bool     `toml:"enabled"`
	URL         string   `toml:"url"`
	Token       string   `toml:"token"`
	Interval    duration `toml:"interval"`
	Pre         duration `toml:"pre"`
	Post        duration `toml:"post"`
	MinSeverity int      `toml:"min_severity"`
	Timeout     duration `toml:"timeout"`
}

// RiskConfig holds the portfolio limits.
type RiskConfig struct {
	MaxConcurrent   int      `toml:"max_concurrent"`
	DailyTradeCap   int      `toml:"daily_trade_cap"`
	DailyLossBudget float64  `toml:"daily_loss_budget"`
	Cooldown        duration `toml:"cooldown"`
}

// LifecycleConfig configures position supervision.
type LifecycleConfig struct {
	MaxHold           duration  `toml:"max_hold"`
	SuperviseInterval duration  `toml:"supervise_interval"`
	SizeTiers         []float64 `toml:"size_tiers"`
	CandleLimit       int       `toml:"candle_limit"`
	HistoryLimit      int       `toml:"history_limit"`
	LeaderLockTTL     duration  `toml:"leader_lock_ttl"`
	EventBuffer       int       `toml:"event_buffer"`
}

// OracleConfig points at the external decision service.
type OracleConfig struct {
	URL     string   `toml:"url"`
	Token   string   `toml:"token"`
	Timeout duration `toml:"timeout"`
	// SigningKey and SigningSecret, when set, add HMAC signature headers to
	// every request.
	SigningKey    string `toml:"signing_key"`
	SigningSecret string `toml:"signing_secret"`
}

// DetectorConfig enables one setup detector.
type DetectorConfig struct {
	Name        string         `toml:"name"`
	Instruments []string       `toml:"instruments"`
	RewardRisk  float64        `toml:"reward_risk"`
	Params      map[string]any `toml:"params"`
}

// StrategyConfig configures the detection loop.
type StrategyConfig struct {
	CandleLimit int              `toml:"candle_limit"`
	Cooldown    duration         `toml:"cooldown"`
	Workers     int              `toml:"workers"`
	Buffer      int              `toml:"buffer"`
	Detectors   []DetectorConfig `toml:"detectors"`
}

// FeedConfig configures one upstream websocket feed.
type FeedConfig struct {
	Enabled      bool     `toml:"enabled"`
	URL          string   `toml:"url"`
	Token        string   `toml:"token"`
	Symbols      []string `toml:"symbols"`
	ReconnectMin duration `toml:"reconnect_min"`
	ReconnectMax duration `toml:"reconnect_max"`
}

// FeedsConfig holds the spot and futures feeds.
type FeedsConfig struct {
	Spot    FeedConfig `toml:"spot"`
	Futures FeedConfig `toml:"futures"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	TickTTL      duration `toml:"tick_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// MirrorConfig controls cross-process hub replication over Redis.
type MirrorConfig struct {
	Enabled bool `toml:"enabled"`
	CatchUp int  `toml:"catch_up"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled        bool     `toml:"enabled"`
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// KafkaConfig configures the position event publisher.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	BatchTimeout duration `toml:"batch_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
}

// PipelineConfig holds persistence and archival parameters.
type PipelineConfig struct {
	CandleBatchSize      int      `toml:"candle_batch_size"`
	CandleFlushInterval  duration `toml:"candle_flush_interval"`
	ArchiveEnabled       bool     `toml:"archive_enabled"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
	ArchivePageSize      int      `toml:"archive_page_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// Durations unwraps a list of durations.
func Durations(ds []duration) []time.Duration {
	out := make([]time.Duration, len(ds))
	for i, d := range ds {
		out[i] = d.Duration
	}
	return out
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
	MetricsPath string   `toml:"metrics_path"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Hub: HubConfig{
			CandleCapacity:  200,
			TickCapacity:    500,
			BaseTimeframe:   duration{time.Minute},
			TickTTL:         duration{2 * time.Second},
			OrderFlowTTL:    duration{5 * time.Second},
			CandleTTLFactor: 2,
			WarmStartLimit:  200,
		},
		Aggregator: AggregatorConfig{
			Timeframes: []duration{{time.Minute}, {5 * time.Minute}},
			MaxGapFill: 200,
		},
		Symbols: SymbolsConfig{
			PendingLimit:   1000,
			PendingTimeout: duration{10 * time.Second},
			SweepInterval:  duration{5 * time.Second},
		},
		OrderFlow: OrderFlowConfig{
			Depth:            10,
			ImbalanceLevels:  5,
			DeltaWindow:      duration{time.Minute},
			SnapshotInterval: duration{time.Second},
			BarTimeframe:     duration{time.Minute},
			SessionStart:     "00:00",
			SweepLookback:    20,
			SweepMinTicks:    2,
			TickSize:         0.25,
			TickSizes:        map[string]float64{},
		},
		Gate: GateConfig{
			MaxSpread:    0.0003,
			MaxSpreads:   map[string]float64{},
			SyncInterval: duration{30 * time.Second},
			SyncHorizon:  duration{24 * time.Hour},
		},
		Calendar: CalendarConfig{
			Interval:    duration{15 * time.Minute},
			Pre:         duration{5 * time.Minute},
			Post:        duration{15 * time.Minute},
			MinSeverity: 2,
			Timeout:     duration{15 * time.Second},
		},
		Risk: RiskConfig{
			MaxConcurrent:   2,
			DailyTradeCap:   20,
			DailyLossBudget: 500,
			Cooldown:        duration{5 * time.Minute},
		},
		Lifecycle: LifecycleConfig{
			MaxHold:           duration{15 * time.Minute},
			SuperviseInterval: duration{time.Second},
			SizeTiers:         []float64{1, 2, 3},
			CandleLimit:       50,
			HistoryLimit:      200,
			LeaderLockTTL:     duration{15 * time.Second},
			EventBuffer:       1024,
		},
		Oracle: OracleConfig{
			Timeout: duration{10 * time.Second},
		},
		Strategy: StrategyConfig{
			CandleLimit: 100,
			Cooldown:    duration{time.Minute},
			Workers:     4,
			Buffer:      256,
			Detectors: []DetectorConfig{
				{Name: "sweep_reversal", RewardRisk: 1.5, Params: map[string]any{}},
				{Name: "flow_momentum", RewardRisk: 1.5, Params: map[string]any{}},
			},
		},
		Feeds: FeedsConfig{
			Spot: FeedConfig{
				ReconnectMin: duration{time.Second},
				ReconnectMax: duration{30 * time.Second},
			},
			Futures: FeedConfig{
				ReconnectMin: duration{time.Second},
				ReconnectMax: duration{30 * time.Second},
			},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "scalp:",
			TickTTL:      duration{time.Minute},
			StreamMaxLen: 10000,
		},
		Mirror: MirrorConfig{
			Enabled: true,
			CatchUp: 500,
		},
		Postgres: PostgresConfig{
			Enabled:        true,
			Host:           "localhost",
			Port:           5432,
			Database:       "scalpcore",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{5 * time.Second},
			RunMigrations:  true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "scalpcore-archive",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Topic:        "scalpcore.positions",
			BatchTimeout: duration{50 * time.Millisecond},
			WriteTimeout: duration{10 * time.Second},
		},
		Pipeline: PipelineConfig{
			CandleBatchSize:      200,
			CandleFlushInterval:  duration{2 * time.Second},
			ArchiveEnabled:       false,
			ArchiveRetentionDays: 30,
			ArchiveCron:          "0 3 * * *",
			ArchivePageSize:      5000,
		},
		Server: ServerConfig{
			Enabled:     true,
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Second},
			MetricsPath: "/metrics",
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest":  true,
	"trade":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// parseWeekday accepts "mon", "Monday", "TUE" and so on.
func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	wd, ok := weekdays[s[:3]]
	return wd, ok
}

// Ingests reports whether the mode runs the feeds and aggregators.
func (c *Config) Ingests() bool { return c.Mode == "ingest" || c.Mode == "full" }

// Trades reports whether the mode runs the detectors and lifecycle manager.
func (c *Config) Trades() bool { return c.Mode == "trade" || c.Mode == "full" }

// Sessions converts the configured sessions into gate sessions.
func (c *Config) Sessions() ([]gate.Session, error) {
	out := make([]gate.Session, 0, len(c.Gate.Sessions))
	for i, s := range c.Gate.Sessions {
		start, err := gate.ParseClock(s.Start)
		if err != nil {
			return nil, fmt.Errorf("gate.sessions[%d] %q: start: %w", i, s.Name, err)
		}
		end, err := gate.ParseClock(s.End)
		if err != nil {
			return nil, fmt.Errorf("gate.sessions[%d] %q: end: %w", i, s.Name, err)
		}
		gs := gate.Session{Name: s.Name, Start: start, End: end, Instruments: s.Instruments}
		for _, d := range s.Weekdays {
			wd, ok := parseWeekday(d)
			if !ok {
				return nil, fmt.Errorf("gate.sessions[%d] %q: unknown weekday %q", i, s.Name, d)
			}
			gs.Weekdays = append(gs.Weekdays, wd)
		}
		out = append(out, gs)
	}
	return out, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if !validModes[c.Mode] {
		add("unknown mode %q (valid: ingest, trade, monitor, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Hub
	if c.Hub.CandleCapacity < 1 || c.Hub.TickCapacity < 1 {
		add("hub: candle_capacity and tick_capacity must be >= 1")
	}
	if c.Hub.BaseTimeframe.Duration <= 0 {
		add("hub: base_timeframe must be > 0")
	}
	if c.Hub.TickTTL.Duration <= 0 || c.Hub.OrderFlowTTL.Duration <= 0 || c.Hub.CandleTTLFactor <= 0 {
		add("hub: tick_ttl, orderflow_ttl and candle_ttl_factor must be > 0")
	}
	if c.Hub.WarmStartLimit < 0 {
		add("hub: warm_start_limit must be >= 0")
	}

	// Aggregator
	hasBase := false
	for _, tf := range c.Aggregator.Timeframes {
		if tf.Duration <= 0 {
			add("aggregator: timeframe %s must be > 0", tf.Duration)
		}
		if tf.Duration == c.Hub.BaseTimeframe.Duration {
			hasBase = true
		}
	}
	if c.Ingests() && !hasBase {
		add("aggregator: timeframes must include hub.base_timeframe %s", c.Hub.BaseTimeframe.Duration)
	}

	// Order flow
	if _, err := gate.ParseClock(c.OrderFlow.SessionStart); err != nil {
		add("orderflow: session_start: %v", err)
	}
	if c.OrderFlow.TickSize <= 0 {
		add("orderflow: tick_size must be > 0")
	}

	// Gate
	if c.Gate.MaxSpread <= 0 {
		add("gate: max_spread must be > 0")
	}
	for _, inst := range slices.Sorted(maps.Keys(c.Gate.MaxSpreads)) {
		if c.Gate.MaxSpreads[inst] <= 0 {
			add("gate: max_spreads.%s must be > 0", inst)
		}
	}
	if _, err := c.Sessions(); err != nil {
		add("%v", err)
	}
	if c.Calendar.Enabled && c.Calendar.URL == "" {
		add("calendar: url is required when enabled")
	}

	// Risk and lifecycle
	if c.Risk.MaxConcurrent < 1 {
		add("risk: max_concurrent must be >= 1")
	}
	if c.Risk.DailyTradeCap < 1 {
		add("risk: daily_trade_cap must be >= 1")
	}
	if c.Risk.DailyLossBudget <= 0 {
		add("risk: daily_loss_budget must be > 0")
	}
	if c.Risk.Cooldown.Duration < 0 {
		add("risk: cooldown must be >= 0")
	}
	if c.Lifecycle.MaxHold.Duration <= 0 {
		add("lifecycle: max_hold must be > 0")
	}
	if len(c.Lifecycle.SizeTiers) == 0 {
		add("lifecycle: size_tiers must not be empty")
	}
	for i, s := range c.Lifecycle.SizeTiers {
		if s <= 0 {
			add("lifecycle: size_tiers[%d] must be > 0", i)
		}
	}
	if (c.Oracle.SigningKey == "") != (c.Oracle.SigningSecret == "") {
		add("oracle: signing_key and signing_secret must be set together")
	}
	if c.Trades() && strings.TrimSpace(c.Oracle.URL) == "" {
		add("oracle: url is required for mode %s", c.Mode)
	}

	// Strategy
	if c.Trades() && len(c.Strategy.Detectors) == 0 {
		add("strategy: at least one detector is required for mode %s", c.Mode)
	}
	for i, d := range c.Strategy.Detectors {
		if d.Name == "" {
			add("strategy: detectors[%d] has no name", i)
		}
	}

	// Feeds
	if c.Ingests() && !c.Feeds.Spot.Enabled && !c.Feeds.Futures.Enabled {
		add("feeds: mode %s needs feeds.spot or feeds.futures enabled", c.Mode)
	}
	for name, f := range map[string]FeedConfig{"spot": c.Feeds.Spot, "futures": c.Feeds.Futures} {
		if f.Enabled && f.URL == "" {
			add("feeds.%s: url is required when enabled", name)
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Archive
	if c.Pipeline.ArchiveEnabled {
		if !c.Postgres.Enabled {
			add("pipeline: archive_enabled requires postgres.enabled")
		}
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archiving")
		}
		if c.Pipeline.ArchiveRetentionDays < 1 {
			add("pipeline: archive_retention_days must be >= 1")
		}
		if len(strings.Fields(c.Pipeline.ArchiveCron)) != 5 {
			add("pipeline: archive_cron %q must have 5 fields", c.Pipeline.ArchiveCron)
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			add("kafka: brokers must not be empty when enabled")
		}
		if c.Kafka.Topic == "" {
			add("kafka: topic must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Addr == "" {
			add("server: addr must not be empty")
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
