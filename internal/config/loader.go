package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "syncbridge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SYNCBRIDGE_PORT")
	setString(&cfg.Server.CORSOrigin, "SYNCBRIDGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SYNCBRIDGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SYNCBRIDGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SYNCBRIDGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SYNCBRIDGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SYNCBRIDGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "SYNCBRIDGE_NATS_STREAM")
	setString(&cfg.Logging.Level, "SYNCBRIDGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SYNCBRIDGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SYNCBRIDGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "SYNCBRIDGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SYNCBRIDGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "SYNCBRIDGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "SYNCBRIDGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "SYNCBRIDGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "SYNCBRIDGE_RATE_MAX_IDLE_TIME")

	// Sync
	setInt(&cfg.Sync.Workers, "SYNCBRIDGE_SYNC_WORKERS")
	setInt(&cfg.Sync.BatchSize, "SYNCBRIDGE_SYNC_BATCH_SIZE")
	setDuration(&cfg.Sync.CallTimeout, "SYNCBRIDGE_SYNC_CALL_TIMEOUT")
	setDuration(&cfg.Sync.ClaimLease, "SYNCBRIDGE_SYNC_CLAIM_LEASE")
	setDuration(&cfg.Sync.WakeDebounce, "SYNCBRIDGE_SYNC_WAKE_DEBOUNCE")
	setFloat64(&cfg.Sync.RetryJitter, "SYNCBRIDGE_SYNC_RETRY_JITTER")
	setBool(&cfg.Sync.AutoSync, "SYNCBRIDGE_SYNC_AUTO")
	setInt(&cfg.Sync.IntervalSeconds, "SYNCBRIDGE_SYNC_INTERVAL_SECONDS")
	setInt(&cfg.Sync.MaxRetries, "SYNCBRIDGE_SYNC_MAX_RETRIES")
	setInt(&cfg.Sync.RetryDelaySeconds, "SYNCBRIDGE_SYNC_RETRY_DELAY_SECONDS")
	setInt(&cfg.Sync.RetryMaxDelaySeconds, "SYNCBRIDGE_SYNC_RETRY_MAX_DELAY_SECONDS")
	setString(&cfg.Sync.ConflictResolution, "SYNCBRIDGE_SYNC_CONFLICT_RESOLUTION")
	setStringSlice(&cfg.Sync.EnabledEntityTypes, "SYNCBRIDGE_SYNC_ENTITY_TYPES")

	// Webhook
	setDuration(&cfg.Webhook.DedupeTTL, "SYNCBRIDGE_WEBHOOK_DEDUPE_TTL")
	setInt64(&cfg.Webhook.MaxBodyBytes, "SYNCBRIDGE_WEBHOOK_MAX_BODY_BYTES")
	setString(&cfg.Webhook.SignatureHeader, "SYNCBRIDGE_WEBHOOK_SIGNATURE_HEADER")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "SYNCBRIDGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "SYNCBRIDGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "SYNCBRIDGE_CACHE_L2_TTL")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "SYNCBRIDGE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "SYNCBRIDGE_IDEMPOTENCY_TTL")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "SYNCBRIDGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "SYNCBRIDGE_OTEL_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "SYNCBRIDGE_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "SYNCBRIDGE_OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "SYNCBRIDGE_OTEL_SAMPLE_RATE")

	// Notify
	setString(&cfg.Notify.SlackWebhookURL, "SYNCBRIDGE_SLACK_WEBHOOK_URL")
	setString(&cfg.Notify.DiscordWebhookURL, "SYNCBRIDGE_DISCORD_WEBHOOK_URL")
	setString(&cfg.Notify.SMTP.Host, "SYNCBRIDGE_SMTP_HOST")
	setInt(&cfg.Notify.SMTP.Port, "SYNCBRIDGE_SMTP_PORT")
	setString(&cfg.Notify.SMTP.Username, "SYNCBRIDGE_SMTP_USERNAME")
	setString(&cfg.Notify.SMTP.Password, "SYNCBRIDGE_SMTP_PASSWORD")
	setString(&cfg.Notify.SMTP.From, "SYNCBRIDGE_SMTP_FROM")
	setString(&cfg.Notify.SMTP.To, "SYNCBRIDGE_SMTP_TO")
	setStringSlice(&cfg.Notify.Events, "SYNCBRIDGE_NOTIFY_EVENTS")

	setString(&cfg.Secrets.EnvPrefix, "SYNCBRIDGE_SECRETS_ENV_PREFIX")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Sync.Workers < 1 {
		return errors.New("sync.workers must be >= 1")
	}
	if cfg.Sync.BatchSize < 1 {
		return errors.New("sync.batch_size must be >= 1")
	}
	if cfg.Sync.CallTimeout <= 0 {
		return errors.New("sync.call_timeout must be > 0")
	}
	if cfg.Sync.ClaimLease < 2*cfg.Sync.CallTimeout+LeaseMargin {
		return fmt.Errorf("sync.claim_lease must be at least 2*sync.call_timeout + %s", LeaseMargin)
	}
	if cfg.Sync.IntervalSeconds < 1 {
		return errors.New("sync.interval_seconds must be >= 1")
	}
	if cfg.Sync.RetryDelaySeconds < 1 {
		return errors.New("sync.retry_delay_seconds must be >= 1")
	}
	if cfg.Sync.RetryMaxDelaySeconds < cfg.Sync.RetryDelaySeconds {
		return errors.New("sync.retry_max_delay_seconds must be >= sync.retry_delay_seconds")
	}
	if cfg.Sync.RetryJitter < 0 || cfg.Sync.RetryJitter >= 1 {
		return errors.New("sync.retry_jitter must be in [0, 1)")
	}
	switch cfg.Sync.ConflictResolution {
	case "manual", "local_wins", "external_wins":
	default:
		return fmt.Errorf("sync.conflict_resolution %q is invalid", cfg.Sync.ConflictResolution)
	}
	if cfg.Webhook.MaxBodyBytes < 1 {
		return errors.New("webhook.max_body_bytes must be >= 1")
	}
	for typ, tbl := range cfg.Entities {
		if tbl.Table == "" {
			return fmt.Errorf("entities.%s.table is required", typ)
		}
	}
	return nil
}

func setString(dst *string, key string) {
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

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
