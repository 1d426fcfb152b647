// internal/config/config.go
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendEtcd   = "etcd"
	BackendMemory = "memory"
)

// Engine kinds.
const (
	EngineStockfish = "stockfish"
	EngineBuiltin   = "builtin"
)

// Config holds all configuration for the backend and worker processes.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	StoreBackend  string        `mapstructure:"store_backend" validate:"oneof=redis etcd memory"`
	RedisAddr     string        `mapstructure:"redis_addr" validate:"required_if=StoreBackend redis"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
	EtcdEndpoints []string      `mapstructure:"etcd_endpoints" validate:"required_if=StoreBackend etcd"`
	EtcdTimeout   time.Duration `mapstructure:"etcd_timeout"`

	QueueKey        string        `mapstructure:"queue_key" validate:"required"`
	ResultKeyPrefix string        `mapstructure:"result_key_prefix" validate:"required"`
	ResultTTL       time.Duration `mapstructure:"result_ttl" validate:"gte=0"`

	HttpListenAddr    string `mapstructure:"http_listen_addr"`
	MetricsListenAddr string `mapstructure:"metrics_listen_addr"`
	HealthListenAddr  string `mapstructure:"health_listen_addr"`

	WorkerRegistryTTL time.Duration `mapstructure:"worker_registry_ttl" validate:"gte=1s"`
	LeaderElectionTTL time.Duration `mapstructure:"leader_election_ttl" validate:"gte=1s"`
	StartupTimeout    time.Duration `mapstructure:"startup_timeout" validate:"gt=0"`

	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ResultTimeout  time.Duration `mapstructure:"result_timeout" validate:"gte=0"`
	IdleInterval   time.Duration `mapstructure:"idle_interval" validate:"gt=0"`
	PacingInterval time.Duration `mapstructure:"pacing_interval" validate:"gte=0"`
	BlockingPop    bool          `mapstructure:"blocking_pop"`

	EngineKind          string        `mapstructure:"engine_kind" validate:"oneof=stockfish builtin"`
	StockfishExecutable string        `mapstructure:"stockfish_executable" validate:"required_if=EngineKind stockfish"`
	EngineThreads       int           `mapstructure:"engine_threads" validate:"gte=1"`
	EngineSkillLevel    int           `mapstructure:"engine_skill_level" validate:"gte=0,lte=20"`
	EngineDepth         int           `mapstructure:"engine_depth" validate:"gte=1"`
	EngineMoveTime      time.Duration `mapstructure:"engine_move_time" validate:"gte=0"`

	QueueSampleSchedule string  `mapstructure:"queue_sample_schedule" validate:"omitempty,cron"`
	SubmitRateLimit     float64 `mapstructure:"submit_rate_limit" validate:"gte=0"`
	SubmitBurst         int     `mapstructure:"submit_burst" validate:"gte=1"`

	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	LogLevel       string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_backend", BackendRedis)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("etcd_endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd_timeout", "5s")

	v.SetDefault("queue_key", "jobs")
	v.SetDefault("result_key_prefix", "result:")
	v.SetDefault("result_ttl", "10m")

	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("metrics_listen_addr", ":9000")
	v.SetDefault("health_listen_addr", ":50052")

	v.SetDefault("worker_registry_ttl", "10s")
	v.SetDefault("leader_election_ttl", "10s")
	v.SetDefault("startup_timeout", "30s")

	v.SetDefault("poll_interval", "50ms")
	v.SetDefault("result_timeout", "60s")
	v.SetDefault("idle_interval", "500ms")
	v.SetDefault("pacing_interval", "50ms")
	v.SetDefault("blocking_pop", false)

	v.SetDefault("engine_kind", EngineStockfish)
	v.SetDefault("stockfish_executable", "/usr/games/stockfish")
	v.SetDefault("engine_threads", 1)
	v.SetDefault("engine_skill_level", 10)
	v.SetDefault("engine_depth", 15)
	v.SetDefault("engine_move_time", "0s")

	v.SetDefault("queue_sample_schedule", "@every 5s")
	v.SetDefault("submit_rate_limit", 0)
	v.SetDefault("submit_burst", 10)

	v.SetDefault("tracing_enabled", true)
	v.SetDefault("log_level", "info")
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	return load(viper.New(), "./configs", ".")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// Environment variables are the upper-cased keys, e.g. REDIS_ADDR.
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file; defaults and env vars are enough.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints, including that QueueSampleSchedule parses as a
// seconds-resolution cron spec.
func (c *Config) Validate() error {
	validate := validator.New()
	_ = validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		_, err := parser.Parse(fl.Field().String())
		return err == nil
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SlogLevel converts LogLevel for slog.HandlerOptions.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
