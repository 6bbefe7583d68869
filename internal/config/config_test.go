// Package config provides configuration management for the aether engine.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Verify server defaults
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownGracePeriod)
	assert.Equal(t, 100, cfg.Server.RateLimitRPS)
	assert.Contains(t, cfg.Server.CORSOrigins, "*")

	// Verify log defaults
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "stdout", cfg.Log.Output)

	// Verify storage defaults
	assert.Equal(t, "memory", cfg.Storage.Mode)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.False(t, cfg.Storage.SyncWrites)
	assert.Equal(t, "events", cfg.Storage.Containers.Events)
	assert.Equal(t, "deadletters", cfg.Storage.Containers.DeadLetters)

	// Verify clock defaults
	assert.Equal(t, time.Minute, cfg.Clock.AdvanceInterval)
	assert.Equal(t, 1000, cfg.Clock.HistoryLimit)
	assert.Equal(t, 3, cfg.Clock.AdvanceRetries)

	// Verify temporal defaults
	assert.Equal(t, int64(250), cfg.Temporal.EpsilonMs)
	assert.Equal(t, int64(2000), cfg.Temporal.SlowThresholdMs)
	assert.Equal(t, int64(60000), cfg.Temporal.CompressThresholdMs)
	assert.Equal(t, 0.25, cfg.Temporal.DriftRate)
	assert.Equal(t, int64(500), cfg.Temporal.WaitMaxStepMs)
	assert.Equal(t, int64(5000), cfg.Temporal.SlowMaxStepMs)

	// Verify nav defaults
	assert.Equal(t, time.Minute, cfg.Nav.ExitHintDebounce)
	assert.Equal(t, "memory", cfg.Nav.HeadingStore)

	// Verify the rest
	assert.Equal(t, 100, cfg.Integrity.BatchSize)
	assert.Equal(t, 6*time.Hour, cfg.Integrity.Interval)
	assert.Equal(t, 3, cfg.Events.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Events.RetryBackoff)
	assert.Equal(t, 20, cfg.Expansion.MaxBudget)
	assert.Equal(t, 64, cfg.Telemetry.StreamBuffer)
	assert.True(t, cfg.Search.Enabled)
	assert.True(t, cfg.Search.InMemory)
	assert.Equal(t, "aether", cfg.World.ServiceName)
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("AETHER_SERVER_HTTP_PORT", "3000")
	t.Setenv("AETHER_STORAGE_MODE", "badger")
	t.Setenv("AETHER_STORAGE_DATA_DIR", "/tmp/aether-test")
	t.Setenv("AETHER_LOG_LEVEL", "debug")
	t.Setenv("AETHER_CLOCK_ADVANCE_INTERVAL", "30s")
	t.Setenv("AETHER_EXPANSION_MAX_BUDGET", "7")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 3000, cfg.Server.HTTPPort)
	assert.Equal(t, "badger", cfg.Storage.Mode)
	assert.Equal(t, "/tmp/aether-test", cfg.Storage.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.Clock.AdvanceInterval)
	assert.Equal(t, 7, cfg.Expansion.MaxBudget)
}

func TestLoad_LegacyEnvVars(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("PERSISTENCE_MODE", "badger")
	t.Setenv("DATA_DIR", "/tmp/legacy-test")
	t.Setenv("HTTP_PORT", "4000")
	t.Setenv("EXIT_HINT_DEBOUNCE_MS", "90000")
	t.Setenv("MAX_BUDGET_LOCATIONS", "12")
	t.Setenv("TEMPORAL_EPSILON_MS", "100")
	t.Setenv("TEMPORAL_DRIFT_RATE", "0.5")
	t.Setenv("INTEGRITY_JOB_BATCH_SIZE", "250")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "badger", cfg.Storage.Mode)
	assert.Equal(t, "/tmp/legacy-test", cfg.Storage.DataDir)
	assert.Equal(t, 4000, cfg.Server.HTTPPort)
	assert.Equal(t, 90*time.Second, cfg.Nav.ExitHintDebounce)
	assert.Equal(t, 12, cfg.Expansion.MaxBudget)
	assert.Equal(t, int64(100), cfg.Temporal.EpsilonMs)
	assert.Equal(t, 0.5, cfg.Temporal.DriftRate)
	assert.Equal(t, 250, cfg.Integrity.BatchSize)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnvVars(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "aether.yaml")

	configContent := `
server:
  http_port: 5000
storage:
  mode: badger
  data_dir: /custom/data
log:
  level: error
  format: json
world:
  starter_location_id: 1f1e2d3c-0000-4000-8000-000000000001
clock:
  advance_interval: 15s
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Change to temp dir so viper can find the config
	origDir, err := os.Getwd()
	require.NoError(t, err)
	defer func() {
		_ = os.Chdir(origDir)
	}()
	err = os.Chdir(tmpDir)
	require.NoError(t, err)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 5000, cfg.Server.HTTPPort)
	assert.Equal(t, "badger", cfg.Storage.Mode)
	assert.Equal(t, "/custom/data", cfg.Storage.DataDir)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "1f1e2d3c-0000-4000-8000-000000000001", cfg.World.StarterLocationID)
	assert.Equal(t, 15*time.Second, cfg.Clock.AdvanceInterval)
}

func TestConfig_Validate_InvalidHTTPPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"port too low", 0},
		{"port negative", -1},
		{"port too high", 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.HTTPPort = tt.port

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "invalid HTTP port")
		})
	}
}

func TestConfig_Validate_StorageMode(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Mode = "postgres"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid storage mode")

	cfg = validConfig()
	cfg.Storage.Mode = "badger"
	cfg.Storage.DataDir = ""
	err = cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "data directory is required")

	// Memory mode tolerates missing container names; badger mode does not.
	cfg = validConfig()
	cfg.Storage.Containers.Events = ""
	assert.NoError(t, cfg.Validate())

	cfg.Storage.Mode = "badger"
	err = cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "container name")
}

func TestConfig_Validate_Temporal(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TemporalConfig)
		errMsg string
	}{
		{"negative epsilon", func(tc *TemporalConfig) { tc.EpsilonMs = -1 }, "must not be negative"},
		{"epsilon at slow threshold", func(tc *TemporalConfig) { tc.EpsilonMs = 2000 }, "below the slow threshold"},
		{"slow above compress", func(tc *TemporalConfig) { tc.SlowThresholdMs = 70000 }, "must not exceed the compress threshold"},
		{"zero drift rate", func(tc *TemporalConfig) { tc.DriftRate = 0 }, "drift rate"},
		{"drift rate above one", func(tc *TemporalConfig) { tc.DriftRate = 1.5 }, "drift rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg.Temporal)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	// Drift rate of exactly one is allowed.
	cfg := validConfig()
	cfg.Temporal.DriftRate = 1
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_HeadingStore(t *testing.T) {
	cfg := validConfig()
	cfg.Nav.HeadingStore = "etcd"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid heading store")

	cfg = validConfig()
	cfg.Nav.HeadingStore = "redis"
	cfg.Nav.RedisAddr = ""
	err = cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis address is required")

	cfg.Nav.RedisAddr = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "invalid"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestConfig_Validate_InvalidLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestConfig_Validate_SearchPath(t *testing.T) {
	cfg := validConfig()
	cfg.Search.Enabled = true
	cfg.Search.InMemory = false
	cfg.Search.Path = ""

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "search path is required")

	cfg.Search.Path = "/var/lib/aether/search"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_Bounds(t *testing.T) {
	cfg := validConfig()
	cfg.Clock.HistoryLimit = 0
	assert.ErrorContains(t, cfg.Validate(), "history limit")

	cfg = validConfig()
	cfg.Events.MaxAttempts = 0
	assert.ErrorContains(t, cfg.Validate(), "max attempts")

	cfg = validConfig()
	cfg.Expansion.MaxBudget = 0
	assert.ErrorContains(t, cfg.Validate(), "max budget")
}

func TestConfig_String(t *testing.T) {
	cfg := validConfig()
	cfg.Server.APIKey = "secret-key"

	str := cfg.String()
	assert.Contains(t, str, "HTTP: 8080")
	assert.Contains(t, str, "Mode: memory")
	assert.Contains(t, str, "Level: info")
	// Should not contain sensitive info
	assert.NotContains(t, str, "secret-key")
}

func TestConfig_Validate_AllLogLevels(t *testing.T) {
	levels := []string{"debug", "info", "warn", "error"}

	for _, level := range levels {
		t.Run(level, func(t *testing.T) {
			cfg := validConfig()
			cfg.Log.Level = level

			err := cfg.Validate()
			assert.NoError(t, err)
		})
	}
}

// validConfig returns a valid configuration for testing.
func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       8080,
			RequestTimeout: 30 * time.Second,
			RateLimitRPS:   100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Mode:    "memory",
			DataDir: "./data",
			Containers: ContainersConfig{
				Events:         "events",
				Layers:         "layers",
				WorldClock:     "worldclock",
				LocationClocks: "locationclocks",
				DeadLetters:    "deadletters",
				Debounce:       "debounce",
				Processed:      "processed",
			},
		},
		World: WorldConfig{ServiceName: "aether"},
		Clock: ClockConfig{
			AdvanceInterval: time.Minute,
			HistoryLimit:    1000,
			AdvanceRetries:  3,
		},
		Temporal: TemporalConfig{
			EpsilonMs:           250,
			SlowThresholdMs:     2000,
			CompressThresholdMs: 60000,
			DriftRate:           0.25,
			WaitMaxStepMs:       500,
			SlowMaxStepMs:       5000,
		},
		Nav: NavConfig{
			ExitHintDebounce: time.Minute,
			HeadingStore:     "memory",
		},
		Integrity: IntegrityConfig{BatchSize: 100, Interval: 6 * time.Hour},
		Events: EventsConfig{
			MaxAttempts:      3,
			RetryBackoff:     5 * time.Second,
			DispatchInterval: time.Second,
			QueryLimit:       100,
		},
		Expansion: ExpansionConfig{MaxBudget: 20},
		Telemetry: TelemetryConfig{StreamBuffer: 64},
		Search:    SearchConfig{Enabled: true, InMemory: true},
	}
}

// clearEnvVars unsets environment variables that would leak into Load.
func clearEnvVars(t *testing.T) {
	t.Helper()

	envVars := []string{
		"AETHER_SERVER_HTTP_PORT",
		"AETHER_STORAGE_MODE",
		"AETHER_STORAGE_DATA_DIR",
		"AETHER_LOG_LEVEL",
		"AETHER_LOG_FORMAT",
		"AETHER_CLOCK_ADVANCE_INTERVAL",
		"AETHER_EXPANSION_MAX_BUDGET",
		"PERSISTENCE_MODE",
		"DATA_DIR",
		"HTTP_PORT",
		"API_KEY",
		"EXIT_HINT_DEBOUNCE_MS",
		"MAX_BUDGET_LOCATIONS",
		"TEMPORAL_EPSILON_MS",
		"TEMPORAL_DRIFT_RATE",
		"INTEGRITY_JOB_BATCH_SIZE",
	}

	for _, env := range envVars {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}
