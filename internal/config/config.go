// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// JobsKafkaTopic is the Kafka topic analysis jobs are enqueued to (default fleet-analysis-jobs).
	JobsKafkaTopic string `mapstructure:"JOBS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the analysis worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OpenAIAPIKey authenticates the external analysis collaborator. Required by cmd/worker.
	OpenAIAPIKey string `mapstructure:"OPENAI_API_KEY"`
	// OpenAIModel is the chat model used for analyses (default gpt-4o-mini).
	OpenAIModel string `mapstructure:"OPENAI_MODEL"`
	// OpenAIBaseURL overrides the OpenAI API base URL (e.g. a local gateway). Empty uses the default.
	OpenAIBaseURL string `mapstructure:"OPENAI_BASE_URL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint (e.g. http://localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints (standard OTEL_EXPORTER_OTLP_INSECURE behavior).
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// SchedulerBatchSize caps how many entities a single scheduler tick may enqueue per analysis type.
	SchedulerBatchSize int `mapstructure:"SCHEDULER_BATCH_SIZE"`
	// AggregateIntervalSecs is how often the score aggregator recomputes the tree (default 300).
	AggregateIntervalSecs int `mapstructure:"AGGREGATE_INTERVAL_SECS"`
	// ReapIntervalSecs is how often stuck in-flight records are swept (default 60).
	ReapIntervalSecs int `mapstructure:"REAP_INTERVAL_SECS"`
	// ReconcileIntervalSecs is how often tenant ledgers are audited against their
	// entry sums (default 300).
	ReconcileIntervalSecs int `mapstructure:"RECONCILE_INTERVAL_SECS"`

	// AnalysisCostOverrides overrides per-type default token costs, as "type=cost" pairs
	// (e.g. "device_health=2,tenant_posture=10"). Tenant-specific overrides live in the DB
	// and take precedence over these.
	AnalysisCostOverrides string `mapstructure:"ANALYSIS_COST_OVERRIDES"`
	// AnalysisIntervalOverrides overrides per-type schedule intervals, as "type=duration"
	// pairs (e.g. "device_health=30m,tenant_posture=24h").
	AnalysisIntervalOverrides string `mapstructure:"ANALYSIS_INTERVAL_OVERRIDES"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("JOBS_KAFKA_TOPIC", "fleet-analysis-jobs")
	v.SetDefault("KAFKA_GROUP_ID", "fleet-analysis-worker")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("SCHEDULER_BATCH_SIZE", 50)
	v.SetDefault("AGGREGATE_INTERVAL_SECS", 300)
	v.SetDefault("REAP_INTERVAL_SECS", 60)
	v.SetDefault("RECONCILE_INTERVAL_SECS", 300)
	v.SetDefault("ANALYSIS_COST_OVERRIDES", "")
	v.SetDefault("ANALYSIS_INTERVAL_OVERRIDES", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.SchedulerBatchSize <= 0 {
		return nil, errors.New("config: SCHEDULER_BATCH_SIZE must be positive")
	}
	if cfg.AggregateIntervalSecs <= 0 {
		return nil, errors.New("config: AGGREGATE_INTERVAL_SECS must be positive")
	}
	if cfg.ReapIntervalSecs <= 0 {
		return nil, errors.New("config: REAP_INTERVAL_SECS must be positive")
	}
	if cfg.ReconcileIntervalSecs <= 0 {
		return nil, errors.New("config: RECONCILE_INTERVAL_SECS must be positive")
	}
	if _, err := cfg.CostOverrides(); err != nil {
		return nil, err
	}
	if _, err := cfg.IntervalOverrides(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list means the queue is not configured.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// AggregateInterval returns the aggregator run interval.
func (c *Config) AggregateInterval() time.Duration {
	return time.Duration(c.AggregateIntervalSecs) * time.Second
}

// ReapInterval returns the stuck-record sweep interval.
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSecs) * time.Second
}

// ReconcileInterval returns the ledger audit sweep interval.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSecs) * time.Second
}

// CostOverrides parses ANALYSIS_COST_OVERRIDES into a type→cost map.
// Returns an error for malformed pairs or non-positive costs.
func (c *Config) CostOverrides() (map[string]int, error) {
	out := map[string]int{}
	for _, pair := range splitList(c.AnalysisCostOverrides) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("config: ANALYSIS_COST_OVERRIDES entry %q is not type=cost", pair)
		}
		cost, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || cost <= 0 {
			return nil, fmt.Errorf("config: ANALYSIS_COST_OVERRIDES cost for %q must be a positive integer", strings.TrimSpace(name))
		}
		out[strings.TrimSpace(name)] = cost
	}
	return out, nil
}

// IntervalOverrides parses ANALYSIS_INTERVAL_OVERRIDES into a type→duration map.
// Returns an error for malformed pairs or non-positive durations.
func (c *Config) IntervalOverrides() (map[string]time.Duration, error) {
	out := map[string]time.Duration{}
	for _, pair := range splitList(c.AnalysisIntervalOverrides) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("config: ANALYSIS_INTERVAL_OVERRIDES entry %q is not type=duration", pair)
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("config: ANALYSIS_INTERVAL_OVERRIDES duration for %q must be a positive duration", strings.TrimSpace(name))
		}
		out[strings.TrimSpace(name)] = d
	}
	return out, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
