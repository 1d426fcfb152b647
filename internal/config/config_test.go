package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "jobs", cfg.QueueKey)
	assert.Equal(t, "result:", cfg.ResultKeyPrefix)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.IdleInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.PacingInterval)
	assert.Equal(t, 60*time.Second, cfg.ResultTimeout)
	assert.Equal(t, "/usr/games/stockfish", cfg.StockfishExecutable)
	assert.Equal(t, 10, cfg.EngineSkillLevel)
	assert.Equal(t, 1, cfg.EngineThreads)
	assert.Equal(t, []string{"localhost:2379"}, cfg.EtcdEndpoints)
	assert.Equal(t, 10*time.Second, cfg.WorkerRegistryTTL)
	assert.Equal(t, "@every 5s", cfg.QueueSampleSchedule)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis-master:6379")
	t.Setenv("STOCKFISH_EXECUTABLE", "/opt/stockfish")
	t.Setenv("POLL_INTERVAL", "20ms")
	t.Setenv("ETCD_ENDPOINTS", "etcd-0:2379,etcd-1:2379")

	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "redis-master:6379", cfg.RedisAddr)
	assert.Equal(t, "/opt/stockfish", cfg.StockfishExecutable)
	assert.Equal(t, 20*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{"etcd-0:2379", "etcd-1:2379"}, cfg.EtcdEndpoints)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
store_backend: memory
engine_kind: builtin
result_timeout: 2s
blocking_pop: true
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600))

	cfg, err := load(viper.New(), dir)
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, EngineBuiltin, cfg.EngineKind)
	assert.Equal(t, 2*time.Second, cfg.ResultTimeout)
	assert.True(t, cfg.BlockingPop)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := load(viper.New(), t.TempDir())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.StoreBackend = "mongo" }},
		{"unknown engine", func(c *Config) { c.EngineKind = "leela" }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"bad cron schedule", func(c *Config) { c.QueueSampleSchedule = "every now and then" }},
		{"skill level out of range", func(c *Config) { c.EngineSkillLevel = 21 }},
		{"missing stockfish path", func(c *Config) { c.StockfishExecutable = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, want := range tests {
		cfg := &Config{LogLevel: name}
		assert.Equal(t, want, cfg.SlogLevel(), name)
	}
}
