package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg, err := InitConfig("", func(config *Config) {})
	require.NoError(t, err)
	defer StoreGlobalConfig(GetDefaultConfig())

	require.Equal(t, "0.0.0.0:12020", cfg.Address)
	require.NotEmpty(t, cfg.AdvertiseAddress)
	require.Equal(t, EngineSQLite, cfg.DocDB.Engine)
	require.Equal(t, 30, cfg.Monitor.IntervalSeconds)
	require.Equal(t, 1000, cfg.Monitor.WindowSize)
	require.Equal(t, 2.0, cfg.Monitor.SeverityBreachMultiplier)
	require.Equal(t, 100.0, cfg.Target.MaxQueryTimeMs)
	require.Equal(t, 0.10, cfg.Regression.RegressionThreshold)
	require.Equal(t, "core", cfg.Regression.CoreTag)
	require.Equal(t, 30, cfg.Retention.SampleRetentionDays)
}

func TestConfigLoadFile(t *testing.T) {
	content := `
address = "127.0.0.1:8428"

[docdb]
engine = "genji"

[target]
max-query-time-ms = 250.0
target-cache-hit-rate = 85.0
max-cpu-percent = 70.0
max-memory-mb = 2048.0
min-health-score = 60.0
max-error-rate = 0.1

[regression]
worker-count = 2
`
	path := filepath.Join(t.TempDir(), "perfmon.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := InitConfig(path, func(config *Config) {})
	require.NoError(t, err)
	defer StoreGlobalConfig(GetDefaultConfig())

	require.Equal(t, "127.0.0.1:8428", cfg.Address)
	require.Equal(t, "127.0.0.1:8428", cfg.AdvertiseAddress)
	require.Equal(t, EngineGenji, cfg.DocDB.Engine)
	require.Equal(t, 250.0, cfg.Target.MaxQueryTimeMs)
	require.Equal(t, 2, cfg.Regression.WorkerCount)

	// Unset sections keep their defaults.
	require.Equal(t, 30, cfg.Monitor.IntervalSeconds)
}

func TestConfigOverride(t *testing.T) {
	cfg, err := InitConfig("", func(config *Config) {
		config.Address = "127.0.0.1:9090"
		config.Storage.Path = "/tmp/perfmon"
	})
	require.NoError(t, err)
	defer StoreGlobalConfig(GetDefaultConfig())

	require.Equal(t, "127.0.0.1:9090", cfg.Address)
	require.Equal(t, "/tmp/perfmon", cfg.Storage.Path)
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Address = "" }},
		{"zero port", func(c *Config) { c.Address = "0.0.0.0:0" }},
		{"bad log level", func(c *Config) { c.Log.Level = "TRACE" }},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }},
		{"bad engine", func(c *Config) { c.DocDB.Engine = "bolt" }},
		{"zero interval", func(c *Config) { c.Monitor.IntervalSeconds = 0 }},
		{"multiplier not above 1", func(c *Config) { c.Monitor.SeverityBreachMultiplier = 1 }},
		{"zero query target", func(c *Config) { c.Target.MaxQueryTimeMs = 0 }},
		{"cache rate over 100", func(c *Config) { c.Target.TargetCacheHitRate = 150 }},
		{"error rate over 1", func(c *Config) { c.Target.MaxErrorRate = 2 }},
		{"zero workers", func(c *Config) { c.Regression.WorkerCount = 0 }},
		{"zero retention", func(c *Config) { c.Retention.SampleRetentionDays = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := InitConfig("", func(config *Config) {
				tc.mutate(config)
			})
			require.Error(t, err)
		})
	}
}

func TestSubscribe(t *testing.T) {
	defer StoreGlobalConfig(GetDefaultConfig())

	sub := Subscribe()
	getCfg := <-sub
	require.Equal(t, GetGlobalConfig().Target, getCfg().Target)

	newCfg := GetDefaultConfig()
	newCfg.Target.MaxQueryTimeMs = 500
	StoreGlobalConfig(newCfg)

	getCfg = <-sub
	require.Equal(t, 500.0, getCfg().Target.MaxQueryTimeMs)
}
