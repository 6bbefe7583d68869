// Package config provides configuration management for the aether engine.
// It supports loading configuration from environment variables and config files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for aether.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	World     WorldConfig     `mapstructure:"world"`
	Clock     ClockConfig     `mapstructure:"clock"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Nav       NavConfig       `mapstructure:"nav"`
	Integrity IntegrityConfig `mapstructure:"integrity"`
	Events    EventsConfig    `mapstructure:"events"`
	Expansion ExpansionConfig `mapstructure:"expansion"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Search    SearchConfig    `mapstructure:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPPort            int           `mapstructure:"http_port"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	CORSOrigins         []string      `mapstructure:"cors_origins"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	RateLimitRPS        int           `mapstructure:"rate_limit_rps"`
	APIKey              string        `mapstructure:"api_key"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stdout, file path
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Mode       string           `mapstructure:"mode"` // memory, badger
	DataDir    string           `mapstructure:"data_dir"`
	SyncWrites bool             `mapstructure:"sync_writes"`
	Containers ContainersConfig `mapstructure:"containers"`
}

// ContainersConfig names the badger key prefixes for each record family.
// All names must be non-empty in badger mode.
type ContainersConfig struct {
	Events         string `mapstructure:"events"`
	Layers         string `mapstructure:"layers"`
	WorldClock     string `mapstructure:"worldclock"`
	LocationClocks string `mapstructure:"locationclocks"`
	DeadLetters    string `mapstructure:"deadletters"`
	Debounce       string `mapstructure:"debounce"`
	Processed      string `mapstructure:"processed"`
}

// WorldConfig holds world identity settings.
type WorldConfig struct {
	StarterLocationID string `mapstructure:"starter_location_id"`
	ServiceName       string `mapstructure:"service_name"`
}

// ClockConfig holds world clock settings.
type ClockConfig struct {
	AdvanceInterval time.Duration `mapstructure:"advance_interval"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	AdvanceRetries  int           `mapstructure:"advance_retries"`
}

// TemporalConfig tunes the location clock reconciler.
type TemporalConfig struct {
	EpsilonMs           int64   `mapstructure:"epsilon_ms"`
	SlowThresholdMs     int64   `mapstructure:"slow_threshold_ms"`
	CompressThresholdMs int64   `mapstructure:"compress_threshold_ms"`
	DriftRate           float64 `mapstructure:"drift_rate"`
	WaitMaxStepMs       int64   `mapstructure:"wait_max_step_ms"`
	SlowMaxStepMs       int64   `mapstructure:"slow_max_step_ms"`
}

// NavConfig holds movement pipeline settings.
type NavConfig struct {
	ExitHintDebounce time.Duration `mapstructure:"exit_hint_debounce"`
	HeadingStore     string        `mapstructure:"heading_store"` // memory, redis
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisDB          int           `mapstructure:"redis_db"`
}

// IntegrityConfig holds layer integrity sweep settings.
type IntegrityConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	RecomputeAll bool          `mapstructure:"recompute_all"`
	Interval     time.Duration `mapstructure:"interval"`
}

// EventsConfig holds dispatcher settings.
type EventsConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	QueryLimit       int           `mapstructure:"query_limit"`
}

// ExpansionConfig holds area generation settings.
type ExpansionConfig struct {
	MaxBudget int `mapstructure:"max_budget"`
}

// TelemetryConfig holds telemetry settings.
type TelemetryConfig struct {
	CostSoftLimitMicroUSD int64 `mapstructure:"cost_soft_limit_microusd"`
	StreamBuffer          int   `mapstructure:"stream_buffer"`
}

// SearchConfig holds admin search index settings.
type SearchConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	InMemory bool   `mapstructure:"in_memory"`
	Path     string `mapstructure:"path"`
}

// Default configuration values.
var defaults = map[string]interface{}{
	// Server defaults
	"server.http_port":             8080,
	"server.request_timeout":       "30s",
	"server.cors_origins":          []string{"*"},
	"server.shutdown_grace_period": "10s",
	"server.rate_limit_rps":        100,
	"server.api_key":               "",

	// Log defaults
	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	// Storage defaults
	"storage.mode":                      "memory",
	"storage.data_dir":                  "./data",
	"storage.sync_writes":               false,
	"storage.containers.events":         "events",
	"storage.containers.layers":         "layers",
	"storage.containers.worldclock":     "worldclock",
	"storage.containers.locationclocks": "locationclocks",
	"storage.containers.deadletters":    "deadletters",
	"storage.containers.debounce":       "debounce",
	"storage.containers.processed":      "processed",

	// World defaults
	"world.starter_location_id": "",
	"world.service_name":        "aether",

	// Clock defaults
	"clock.advance_interval": "60s",
	"clock.history_limit":    1000,
	"clock.advance_retries":  3,

	// Temporal defaults
	"temporal.epsilon_ms":            int64(250),
	"temporal.slow_threshold_ms":     int64(2000),
	"temporal.compress_threshold_ms": int64(60000),
	"temporal.drift_rate":            0.25,
	"temporal.wait_max_step_ms":      int64(500),
	"temporal.slow_max_step_ms":      int64(5000),

	// Nav defaults
	"nav.exit_hint_debounce": "60s",
	"nav.heading_store":      "memory",
	"nav.redis_addr":         "localhost:6379",
	"nav.redis_db":           0,

	// Integrity defaults
	"integrity.batch_size":    100,
	"integrity.recompute_all": false,
	"integrity.interval":      "6h",

	// Events defaults
	"events.max_attempts":      3,
	"events.retry_backoff":     "5s",
	"events.dispatch_interval": "1s",
	"events.query_limit":       100,

	// Expansion defaults
	"expansion.max_budget": 20,

	// Telemetry defaults
	"telemetry.cost_soft_limit_microusd": int64(0),
	"telemetry.stream_buffer":            64,

	// Search defaults
	"search.enabled":   true,
	"search.in_memory": true,
	"search.path":      "",
}

// Load loads configuration from environment variables and optional config file.
// Environment variables are prefixed with AETHER_ and use underscores.
// Example: AETHER_SERVER_HTTP_PORT=8080
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("AETHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindLegacyEnvVars(v)

	// Config file is optional.
	v.SetConfigName("aether")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/aether")
	v.AddConfigPath("$HOME/.aether")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// The legacy debounce variable carries a bare millisecond count, which
	// the duration hook cannot parse; apply it after unmarshaling.
	if ms := v.GetInt64("nav.exit_hint_debounce_ms"); ms > 0 {
		cfg.Nav.ExitHintDebounce = time.Duration(ms) * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// bindLegacyEnvVars maps the flat environment names older deployments set to
// the nested keys.
func bindLegacyEnvVars(v *viper.Viper) {
	legacyMappings := map[string]string{
		"PERSISTENCE_MODE":               "storage.mode",
		"DATA_DIR":                       "storage.data_dir",
		"HTTP_PORT":                      "server.http_port",
		"LOG_LEVEL":                      "log.level",
		"LOG_FORMAT":                     "log.format",
		"API_KEY":                        "server.api_key",
		"STARTER_LOCATION_ID":            "world.starter_location_id",
		"INTEGRITY_JOB_BATCH_SIZE":       "integrity.batch_size",
		"INTEGRITY_JOB_RECOMPUTE_ALL":    "integrity.recompute_all",
		"MAX_BUDGET_LOCATIONS":           "expansion.max_budget",
		"TEMPORAL_EPSILON_MS":            "temporal.epsilon_ms",
		"TEMPORAL_SLOW_THRESHOLD_MS":     "temporal.slow_threshold_ms",
		"TEMPORAL_COMPRESS_THRESHOLD_MS": "temporal.compress_threshold_ms",
		"TEMPORAL_DRIFT_RATE":            "temporal.drift_rate",
		"TEMPORAL_WAIT_MAX_STEP_MS":      "temporal.wait_max_step_ms",
		"TEMPORAL_SLOW_MAX_STEP_MS":      "temporal.slow_max_step_ms",
	}

	for envName, configKey := range legacyMappings {
		_ = v.BindEnv(configKey, envName)
	}
	_ = v.BindEnv("nav.exit_hint_debounce_ms", "EXIT_HINT_DEBOUNCE_MS")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit must not be negative: %d", c.Server.RateLimitRPS)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Log.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Log.Format)
	}

	switch c.Storage.Mode {
	case "memory":
	case "badger":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("data directory is required in badger mode")
		}
		if err := c.Storage.Containers.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid storage mode: %s (valid: memory, badger)", c.Storage.Mode)
	}

	if c.Clock.HistoryLimit < 1 {
		return fmt.Errorf("clock history limit must be positive: %d", c.Clock.HistoryLimit)
	}
	if c.Clock.AdvanceRetries < 1 {
		return fmt.Errorf("clock advance retries must be positive: %d", c.Clock.AdvanceRetries)
	}
	if c.Clock.AdvanceInterval <= 0 {
		return fmt.Errorf("clock advance interval must be positive: %s", c.Clock.AdvanceInterval)
	}

	if err := c.Temporal.validate(); err != nil {
		return err
	}

	switch c.Nav.HeadingStore {
	case "memory":
	case "redis":
		if c.Nav.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis heading store")
		}
	default:
		return fmt.Errorf("invalid heading store: %s (valid: memory, redis)", c.Nav.HeadingStore)
	}

	if c.Integrity.BatchSize < 1 {
		return fmt.Errorf("integrity batch size must be positive: %d", c.Integrity.BatchSize)
	}
	if c.Events.MaxAttempts < 1 {
		return fmt.Errorf("event max attempts must be positive: %d", c.Events.MaxAttempts)
	}
	if c.Expansion.MaxBudget < 1 {
		return fmt.Errorf("expansion max budget must be positive: %d", c.Expansion.MaxBudget)
	}
	if c.Telemetry.StreamBuffer < 1 {
		return fmt.Errorf("telemetry stream buffer must be positive: %d", c.Telemetry.StreamBuffer)
	}

	if c.Search.Enabled && !c.Search.InMemory && c.Search.Path == "" {
		return fmt.Errorf("search path is required for an on-disk search index")
	}

	return nil
}

func (cc *ContainersConfig) validate() error {
	named := map[string]string{
		"events":         cc.Events,
		"layers":         cc.Layers,
		"worldclock":     cc.WorldClock,
		"locationclocks": cc.LocationClocks,
		"deadletters":    cc.DeadLetters,
		"debounce":       cc.Debounce,
		"processed":      cc.Processed,
	}
	for name, value := range named {
		if value == "" {
			return fmt.Errorf("storage container name %q must not be empty in badger mode", name)
		}
	}
	return nil
}

func (tc *TemporalConfig) validate() error {
	if tc.EpsilonMs < 0 || tc.SlowThresholdMs < 0 || tc.CompressThresholdMs < 0 ||
		tc.WaitMaxStepMs < 0 || tc.SlowMaxStepMs < 0 {
		return fmt.Errorf("temporal thresholds must not be negative")
	}
	if tc.EpsilonMs >= tc.SlowThresholdMs {
		return fmt.Errorf("temporal epsilon (%d) must be below the slow threshold (%d)", tc.EpsilonMs, tc.SlowThresholdMs)
	}
	if tc.SlowThresholdMs > tc.CompressThresholdMs {
		return fmt.Errorf("temporal slow threshold (%d) must not exceed the compress threshold (%d)", tc.SlowThresholdMs, tc.CompressThresholdMs)
	}
	if tc.DriftRate <= 0 || tc.DriftRate > 1 {
		return fmt.Errorf("temporal drift rate must be in (0, 1]: %g", tc.DriftRate)
	}
	return nil
}

// String returns a string representation of the config (without sensitive values).
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Server: {HTTP: %d}, Storage: {Mode: %s, Dir: %s}, Clock: {Interval: %s}, Log: {Level: %s}}",
		c.Server.HTTPPort,
		c.Storage.Mode,
		c.Storage.DataDir,
		c.Clock.AdvanceInterval,
		c.Log.Level,
	)
}
