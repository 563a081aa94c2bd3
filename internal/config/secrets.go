package config

import "maps"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Feeds.Spot.Token)
	redact(&out.Feeds.Futures.Token)
	redact(&out.Calendar.Token)
	redact(&out.Oracle.Token)
	redact(&out.Oracle.SigningSecret)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Kafka.Brokers = cloneStrings(cfg.Kafka.Brokers)
	out.Feeds.Spot.Symbols = cloneStrings(cfg.Feeds.Spot.Symbols)
	out.Feeds.Futures.Symbols = cloneStrings(cfg.Feeds.Futures.Symbols)
	out.Gate.MaxSpreads = maps.Clone(cfg.Gate.MaxSpreads)
	out.OrderFlow.TickSizes = maps.Clone(cfg.OrderFlow.TickSizes)
	if cfg.Strategy.Detectors != nil {
		out.Strategy.Detectors = make([]DetectorConfig, len(cfg.Strategy.Detectors))
		for i, d := range cfg.Strategy.Detectors {
			d.Instruments = cloneStrings(d.Instruments)
			d.Params = maps.Clone(d.Params)
			out.Strategy.Detectors[i] = d
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
