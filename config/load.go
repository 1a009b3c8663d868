// Package config loads and validates the engine's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string         `yaml:"env"`
	Logging  LoggingConfig  `yaml:"logging"`
	Store    StoreConfig    `yaml:"store"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Executor ExecutorConfig `yaml:"executor"`
	Engine   EngineConfig   `yaml:"engine"`
	Orders   OrderLimits    `yaml:"orders"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // memory or postgres
	DSN    string `yaml:"dsn"`
}

type OracleConfig struct {
	URL          string `yaml:"url"`
	Symbol       string `yaml:"symbol"`
	MaxAgeSecs   int    `yaml:"maxAgeSeconds"`
	RetryBackoff int    `yaml:"retryBackoffSeconds"`
}

type ExecutorConfig struct {
	BaseURL    string  `yaml:"baseURL"`
	APIKey     string  `yaml:"apiKey"`
	RatePerSec float64 `yaml:"ratePerSec"`
	Burst      int     `yaml:"burst"`
	DryRun     bool    `yaml:"dryRun"`
}

type EngineConfig struct {
	MonitoringIntervalSecs  int  `yaml:"monitoringIntervalSeconds"`
	HealthCheckIntervalSecs int  `yaml:"healthCheckIntervalSeconds"`
	MaxConcurrentExecutions int  `yaml:"maxConcurrentExecutions"`
	EnableAutoRestart       bool `yaml:"enableAutoRestart"`
}

// OrderLimits bounds caller-supplied order fields at creation time.
type OrderLimits struct {
	MaxRetries         int     `yaml:"maxRetries"`
	SlippageMinPercent float64 `yaml:"slippageMinPercent"`
	SlippageMaxPercent float64 `yaml:"slippageMaxPercent"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from
// env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("TRIG_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("TRIG_EXECUTOR_API_KEY"); v != "" {
		cfg.Executor.APIKey = v
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Engine.MonitoringIntervalSecs == 0 {
		cfg.Engine.MonitoringIntervalSecs = 30
	}
	if cfg.Engine.HealthCheckIntervalSecs == 0 {
		cfg.Engine.HealthCheckIntervalSecs = 120
	}
	if cfg.Orders.MaxRetries == 0 {
		cfg.Orders.MaxRetries = 3
	}
	if cfg.Orders.SlippageMinPercent == 0 {
		cfg.Orders.SlippageMinPercent = 0.1
	}
	if cfg.Orders.SlippageMaxPercent == 0 {
		cfg.Orders.SlippageMaxPercent = 50
	}
	if cfg.Oracle.MaxAgeSecs == 0 {
		cfg.Oracle.MaxAgeSecs = 30
	}
}

// Validate ensures required fields are present and sane.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	switch cfg.Store.Driver {
	case "memory":
	case "postgres":
		if cfg.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver (or TRIG_STORE_DSN)")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", cfg.Store.Driver)
	}
	if cfg.Engine.MonitoringIntervalSecs <= 0 {
		return errors.New("engine.monitoringIntervalSeconds must be > 0")
	}
	if cfg.Engine.HealthCheckIntervalSecs <= 0 {
		return errors.New("engine.healthCheckIntervalSeconds must be > 0")
	}
	if cfg.Engine.MaxConcurrentExecutions < 0 {
		return errors.New("engine.maxConcurrentExecutions must be >= 0")
	}
	if cfg.Orders.MaxRetries <= 0 {
		return errors.New("orders.maxRetries must be > 0")
	}
	if cfg.Orders.SlippageMinPercent < 0 || cfg.Orders.SlippageMaxPercent <= cfg.Orders.SlippageMinPercent {
		return errors.New("orders slippage bounds must satisfy 0 <= min < max")
	}
	if cfg.Oracle.URL == "" && !cfg.Executor.DryRun {
		return errors.New("oracle.url is required outside dry-run")
	}
	if !cfg.Executor.DryRun && cfg.Executor.BaseURL == "" {
		return errors.New("executor.baseURL is required outside dry-run")
	}
	return nil
}
