package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port               int      `mapstructure:"port"`
	DatabasePath       string   `mapstructure:"database_path"`
	PostgresDSN        string   `mapstructure:"postgres_dsn"` // when set, Postgres is used instead of SQLite
	LogLevel           string   `mapstructure:"log_level"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	RequestTimeoutSec  int      `mapstructure:"request_timeout_sec"`   // HTTP read/write; 0 = server default
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"`  // Graceful shutdown wait
	DetectionWorkers   int      `mapstructure:"detection_workers"`     // Worker pool size for detection jobs
	DetectionQueueSize int      `mapstructure:"detection_queue_size"`  // Pending-job channel capacity
	FetchTimeoutSec    int      `mapstructure:"fetch_timeout_sec"`     // Per-attempt warehouse fetch timeout
	FetchMaxAttempts   int      `mapstructure:"fetch_max_attempts"`    // Warehouse fetch attempts before failing the run
	StaleRunTimeoutSec int      `mapstructure:"stale_run_timeout_sec"` // RUNNING runs older than this are swept to FAILED
	SweepIntervalSec   int      `mapstructure:"sweep_interval_sec"`    // Reconciliation sweep period
	OTLPEndpoint       string   `mapstructure:"otlp_endpoint"`         // Empty disables tracing
	TraceSamplingRate  float64  `mapstructure:"trace_sampling_rate"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/fraudlens/")
	viper.AddConfigPath("$HOME/.fraudlens")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8080)
	viper.SetDefault("database_path", "./fraudlens.db")
	viper.SetDefault("postgres_dsn", "")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("request_timeout_sec", 30)
	viper.SetDefault("shutdown_timeout_sec", 15)
	viper.SetDefault("detection_workers", 4)
	viper.SetDefault("detection_queue_size", 64)
	viper.SetDefault("fetch_timeout_sec", 30)
	viper.SetDefault("fetch_max_attempts", 3)
	viper.SetDefault("stale_run_timeout_sec", 1800)
	viper.SetDefault("sweep_interval_sec", 300)
	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("trace_sampling_rate", 0.1)

	// Environment variables
	viper.SetEnvPrefix("FRAUDLENS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
