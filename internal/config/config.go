// Package config loads reconcore's typed configuration tree from a TOML
// file, following the teacher's use of github.com/naoina/toml for node
// configuration, with environment overrides for secrets that never belong
// in a checked-in file (DB password, broker credentials).
package config

import (
	"fmt"
	"os"

	"github.com/naoina/toml"
)

// Config is the root configuration tree; one block per component, as
// SPEC_FULL.md §4.8 requires.
type Config struct {
	Store          StoreConfig
	Reconciliation ReconciliationConfig
	Workflow       WorkflowConfig
	Classification ClassificationConfig
	Kafka          KafkaConfig
	Redis          RedisConfig
	Metrics        MetricsConfig
	Log            LogConfig
}

// StoreConfig configures the relational connection (C1).
type StoreConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifeMins int
}

// ReconciliationConfig configures the C3 worker pool and provider backoff.
type ReconciliationConfig struct {
	PoolSize              int
	PollIntervalMillis    int
	StaleRunningThreshold int // minutes; default 60 per spec.md §4.3
	BaseBackoffSeconds    int
	MaxBackoffSeconds     int
	MaxErrorsBeforeFailed int
	Providers             map[string]ProviderConfig
}

// ProviderConfig is per-provider tuning, resolving SPEC_FULL.md's open
// question on provider timeouts.
type ProviderConfig struct {
	TimeoutSeconds int
}

// WorkflowConfig configures the C4 engine.
type WorkflowConfig struct {
	MaxBroadcastAttempts int
}

// ClassificationConfig configures the C5 worker.
type ClassificationConfig struct {
	PoolSize           int
	BatchSize          int
	MaxAttempts         int
	DefaultTTLHours    int
	PollIntervalMillis int
	CallTimeoutMillis  int
}

// KafkaConfig configures the optional eventbus publisher.
type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	TopicPrefix string
	Replicas    int16
	Partitions  int32
}

// RedisConfig configures the TokenPriceRepo read-through cache.
type RedisConfig struct {
	Enabled bool
	Addr    string
	TTLSecs int
}

// MetricsConfig configures the /metrics HTTP listener.
type MetricsConfig struct {
	ListenAddr string
}

// LogConfig configures the log package.
type LogConfig struct {
	Level       string
	Development bool
}

// Default returns the configuration reconcore ships with when no file is
// supplied, sized for a single-process development run.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			DSN:             "reconcore:reconcore@tcp(127.0.0.1:3306)/reconcore?parseTime=true",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifeMins: 30,
		},
		Reconciliation: ReconciliationConfig{
			PoolSize:              4,
			PollIntervalMillis:    500,
			StaleRunningThreshold: 60,
			BaseBackoffSeconds:    5,
			MaxBackoffSeconds:     300,
			MaxErrorsBeforeFailed: 8,
			Providers:             map[string]ProviderConfig{},
		},
		Workflow: WorkflowConfig{
			MaxBroadcastAttempts: 3,
		},
		Classification: ClassificationConfig{
			PoolSize:           1,
			BatchSize:          50,
			MaxAttempts:        5,
			DefaultTTLHours:    720,
			PollIntervalMillis: 2000,
			CallTimeoutMillis:  300,
		},
		Kafka: KafkaConfig{
			Enabled:     false,
			TopicPrefix: "reconcore",
			Replicas:    1,
			Partitions:  1,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "127.0.0.1:6379",
			TTLSecs: 60,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9464",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads and decodes a TOML file at path, starting from Default() so
// an omitted block keeps its default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %q: %w", path, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides layers in secrets that must never live in a
// checked-in TOML file.
func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("RECONCORE_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if addr := os.Getenv("RECONCORE_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
}
