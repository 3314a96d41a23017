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
const DefaultConfigFile = "spendpilot.yaml"

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
	setString(&cfg.Server.Port, "SPENDPILOT_PORT")
	setString(&cfg.Server.CORSOrigin, "SPENDPILOT_CORS_ORIGIN")
	setInt64(&cfg.Server.MaxRequestBodySize, "SPENDPILOT_MAX_BODY_SIZE")
	setFloat64(&cfg.Server.RateLimitRPS, "SPENDPILOT_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "SPENDPILOT_RATE_LIMIT_BURST")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SPENDPILOT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SPENDPILOT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SPENDPILOT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SPENDPILOT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SPENDPILOT_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "SPENDPILOT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SPENDPILOT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SPENDPILOT_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "SPENDPILOT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SPENDPILOT_BREAKER_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "SPENDPILOT_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "SPENDPILOT_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "SPENDPILOT_CACHE_L2_TTL")
	setString(&cfg.Cache.Idempotency, "SPENDPILOT_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Cache.IdempotencyTTL, "SPENDPILOT_IDEMPOTENCY_TTL")

	// Telemetry
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "SPENDPILOT_OTLP_INSECURE")

	// Orchestrator
	setInt(&cfg.Orchestrator.ConcurrencyLimit, "SPENDPILOT_ORCH_CONCURRENCY")
	setDuration(&cfg.Orchestrator.StepTimeout, "SPENDPILOT_ORCH_STEP_TIMEOUT")
	setInt(&cfg.Orchestrator.MaxLearningEntries, "SPENDPILOT_ORCH_MAX_LEARNING_ENTRIES")
	setFloat64(&cfg.Orchestrator.PerformanceAlpha, "SPENDPILOT_ORCH_PERFORMANCE_ALPHA")
	setBool(&cfg.Orchestrator.PublishDecisions, "SPENDPILOT_ORCH_PUBLISH_DECISIONS")

	// Agents
	setFloat64(&cfg.Agents.ApprovalMaxAmount, "SPENDPILOT_APPROVAL_MAX_AMOUNT")
	setFloat64(&cfg.Agents.ReimbursementMaxAmount, "SPENDPILOT_REIMBURSEMENT_MAX_AMOUNT")
	setFloat64(&cfg.Agents.PaymentSafetyCeiling, "SPENDPILOT_PAYMENT_SAFETY_CEILING")
	setDuration(&cfg.Agents.InterPaymentDelay, "SPENDPILOT_INTER_PAYMENT_DELAY")
	setDuration(&cfg.Agents.DuplicateLookback, "SPENDPILOT_DUPLICATE_LOOKBACK")
	setInt(&cfg.Agents.BusinessHoursStart, "SPENDPILOT_BUSINESS_HOURS_START")
	setInt(&cfg.Agents.BusinessHoursEnd, "SPENDPILOT_BUSINESS_HOURS_END")
	setString(&cfg.Agents.KeywordCatalog, "SPENDPILOT_KEYWORD_CATALOG")
	setString(&cfg.Agents.ReimbursementPolicyFile, "SPENDPILOT_REIMBURSEMENT_POLICY")

	// Learning
	setDuration(&cfg.Learning.Retention, "SPENDPILOT_LEARNING_RETENTION")
	setDuration(&cfg.Learning.AggregationInterval, "SPENDPILOT_LEARNING_INTERVAL")
	setInt(&cfg.Learning.MaxInsights, "SPENDPILOT_LEARNING_MAX_INSIGHTS")
	setInt(&cfg.Learning.MaxObservations, "SPENDPILOT_LEARNING_MAX_OBSERVATIONS")
	setInt(&cfg.Learning.MinPatternSamples, "SPENDPILOT_LEARNING_MIN_PATTERN_SAMPLES")
	setString(&cfg.Learning.AnonymizationKey, "SPENDPILOT_ANONYMIZATION_KEY")
	setDuration(&cfg.Learning.CacheTTL, "SPENDPILOT_LEARNING_CACHE_TTL")

	// Payments
	setString(&cfg.Payments.ProviderURL, "SPENDPILOT_PAYMENT_PROVIDER_URL")
	setString(&cfg.Payments.APIKey, "SPENDPILOT_PAYMENT_API_KEY")
	setDuration(&cfg.Payments.Timeout, "SPENDPILOT_PAYMENT_TIMEOUT")
	setInt(&cfg.Payments.MaxConcurrent, "SPENDPILOT_PAYMENT_MAX_CONCURRENT")
	setDuration(&cfg.Payments.SchedulerInterval, "SPENDPILOT_PAYMENT_SCHEDULER_INTERVAL")
	setInt(&cfg.Payments.SchedulerBatch, "SPENDPILOT_PAYMENT_SCHEDULER_BATCH")
	setString(&cfg.Payments.SecretsDir, "SPENDPILOT_SECRETS_DIR")

	// Notifications
	setString(&cfg.Notifications.SlackWebhookURL, "SPENDPILOT_SLACK_WEBHOOK_URL")
	setString(&cfg.Notifications.DiscordWebhookURL, "SPENDPILOT_DISCORD_WEBHOOK_URL")
	setFloat64(&cfg.Notifications.MinAmount, "SPENDPILOT_ALERT_MIN_AMOUNT")
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
	if cfg.Orchestrator.ConcurrencyLimit < 1 {
		return errors.New("orchestrator.concurrency_limit must be >= 1")
	}
	if cfg.Orchestrator.StepTimeout <= 0 {
		return errors.New("orchestrator.step_timeout must be positive")
	}
	if cfg.Orchestrator.PerformanceAlpha <= 0 || cfg.Orchestrator.PerformanceAlpha > 1 {
		return errors.New("orchestrator.performance_alpha must be in (0, 1]")
	}
	if cfg.Agents.ApprovalMaxAmount <= 0 {
		return errors.New("agents.approval_max_amount must be positive")
	}
	if cfg.Agents.PaymentSafetyCeiling <= 0 {
		return errors.New("agents.payment_safety_ceiling must be positive")
	}
	if cfg.Agents.BusinessHoursStart < 0 || cfg.Agents.BusinessHoursEnd > 24 ||
		cfg.Agents.BusinessHoursStart >= cfg.Agents.BusinessHoursEnd {
		return errors.New("agents.business_hours must satisfy 0 <= start < end <= 24")
	}
	if cfg.Learning.Retention <= 0 {
		return errors.New("learning.retention must be positive")
	}
	if cfg.Learning.MaxInsights < 1 {
		return errors.New("learning.max_insights must be >= 1")
	}
	if strings.TrimSpace(cfg.Learning.AnonymizationKey) == "" {
		return errors.New("learning.anonymization_key is required")
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
