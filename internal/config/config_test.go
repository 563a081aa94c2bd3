package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Feeds.Spot.Enabled = true
	cfg.Feeds.Spot.URL = "wss://spot.example.com/ws"
	cfg.Oracle.URL = "http://oracle.local/decide"
	return cfg
}

func TestDefaults_ValidOnceFeedsAndOracleSet(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	bare := Defaults()
	err := bare.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle: url is required")
	assert.Contains(t, err.Error(), "feeds: mode full needs")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "paper"
	cfg.Risk.MaxConcurrent = 0
	cfg.Lifecycle.SizeTiers = nil
	cfg.Kafka.Enabled = true
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "paper"`)
	assert.Contains(t, msg, "risk: max_concurrent must be >= 1")
	assert.Contains(t, msg, "lifecycle: size_tiers must not be empty")
	assert.Contains(t, msg, "kafka: brokers must not be empty")
	assert.Contains(t, msg, "telegram_token and telegram_chat_id")
}

func TestValidate_ModeScopesRequirements(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	assert.NoError(t, cfg.Validate(), "monitor needs neither feeds nor an oracle")

	cfg.Mode = "ingest"
	err := cfg.Validate()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "oracle")
}

func TestValidate_BaseTimeframeMustBeAggregated(t *testing.T) {
	cfg := validConfig()
	cfg.Aggregator.Timeframes = []duration{{5 * time.Minute}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must include hub.base_timeframe")
}

func TestValidate_Archive(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.ArchiveEnabled = true
	cfg.Pipeline.ArchiveCron = "0 3 * *"
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
	assert.Contains(t, err.Error(), "must have 5 fields")
}

func TestValidate_SpreadGateCannotBeDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Gate.MaxSpread = 0
	cfg.Gate.MaxSpreads = map[string]float64{"GBPJPY": 0.03, "USDJPY": -1}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate: max_spread must be > 0")
	assert.Contains(t, err.Error(), "gate: max_spreads.USDJPY must be > 0")
	assert.NotContains(t, err.Error(), "GBPJPY")
}

func TestSessions(t *testing.T) {
	cfg := validConfig()
	cfg.Gate.Sessions = []SessionConfig{
		{Name: "us", Start: "13:30", End: "20:00", Instruments: []string{"ES.c.0"}, Weekdays: []string{"Mon", "tuesday", "FRI"}},
	}
	sessions, err := cfg.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, 13*time.Hour+30*time.Minute, s.Start)
	assert.Equal(t, 20*time.Hour, s.End)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Friday}, s.Weekdays)

	cfg.Gate.Sessions[0].Weekdays = []string{"someday"}
	_, err = cfg.Sessions()
	assert.ErrorContains(t, err, "unknown weekday")

	cfg.Gate.Sessions[0].Weekdays = nil
	cfg.Gate.Sessions[0].End = "25"
	assert.Error(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scalpcore.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "trade"
log_level = "debug"

[hub]
base_timeframe = "1m"
tick_ttl = "3s"

[aggregator]
timeframes = ["1m", "5m", "15m"]

[gate]
max_spread = 0.0005

[gate.max_spreads]
"ES.c.0" = 0.5

[[gate.sessions]]
name = "london"
start = "07:00"
end = "11:30"

[risk]
daily_loss_budget = 250.5

[oracle]
url = "http://from-file"

[kafka]
brokers = ["k1:9092", "k2:9092"]
`), 0o600))

	t.Setenv("SCALP_ORACLE_URL", "http://from-env")
	t.Setenv("SCALP_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("SCALP_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("SCALP_RISK_MAX_CONCURRENT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.Hub.TickTTL.Duration)
	assert.Equal(t, 500, cfg.Hub.TickCapacity, "defaults survive partial sections")
	assert.Equal(t, []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}, Durations(cfg.Aggregator.Timeframes))
	assert.Equal(t, 0.5, cfg.Gate.MaxSpreads["ES.c.0"])
	require.Len(t, cfg.Gate.Sessions, 1)
	assert.Equal(t, "london", cfg.Gate.Sessions[0].Name)
	assert.Equal(t, 250.5, cfg.Risk.DailyLossBudget)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)

	assert.Equal(t, "http://from-env", cfg.Oracle.URL)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 2, cfg.Risk.MaxConcurrent, "unparseable env values are ignored")

	require.NoError(t, cfg.Validate())
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[hub]\ncandle_capacityy = 10\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hub.candle_capacityy")
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	t.Setenv("SCALP_MODE", "monitor")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, Defaults().Hub, cfg.Hub)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Oracle.Token = "oracle-secret"
	cfg.Postgres.Password = "pg-secret"
	cfg.Server.APIKey = "api-secret"
	cfg.S3.SecretKey = ""
	cfg.Strategy.Detectors[0].Params = map[string]any{"lookback": int64(20)}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Oracle.Token)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.S3.SecretKey, "empty secrets stay empty")
	assert.Equal(t, "oracle-secret", cfg.Oracle.Token)

	out.Server.CORSOrigins[0] = "mutated"
	out.Strategy.Detectors[0].Params["lookback"] = int64(1)
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, int64(20), cfg.Strategy.Detectors[0].Params["lookback"])
}
