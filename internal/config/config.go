// Package config provides YAML-based configuration loading for Relaywire.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Relaywire configuration, loaded from
// relaywire.yaml.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Broker       BrokerConfig       `yaml:"broker"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Ops          OpsConfig          `yaml:"ops"`
	Cleanup      CleanupConfig      `yaml:"cleanup"`
	Platforms    []PlatformConfig   `yaml:"platforms"`
}

// DatabaseConfig holds connection settings for the MySQL server.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// BrokerConfig selects and configures the queue broker. Kind "memory"
// keeps all lanes in-process (single-node deployments and tests);
// "redis" backs them with Redis sorted sets.
type BrokerConfig struct {
	Kind     string `yaml:"kind"` // memory, redis
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// KeyPrefix namespaces the lane keys so multiple deployments can
	// share one Redis.
	KeyPrefix string `yaml:"key_prefix"`
}

// OrchestratorConfig tunes the executor pool, health monitor, retry
// policy, and dispatcher scheduling.
type OrchestratorConfig struct {
	PoolSize                  int `yaml:"pool_size"`
	HealthCheckIntervalSec    int `yaml:"health_check_interval_seconds"`
	MaxRetryAttempts          int `yaml:"max_retry_attempts"`
	BackoffBaseMs             int `yaml:"backoff_base_ms"`
	StarvationThresholdMs     int `yaml:"starvation_threshold_ms"`
	CircuitBreakerThreshold   int `yaml:"circuit_breaker_threshold"`
	ReconnectFailureThreshold int `yaml:"reconnect_failure_threshold"`
	SendTimeoutSec            int `yaml:"send_timeout_seconds"`
	ProbeTimeoutSec           int `yaml:"probe_timeout_seconds"`
	ProbeConcurrency          int `yaml:"probe_concurrency"`
}

// OpsConfig configures the readiness/stats HTTP server.
type OpsConfig struct {
	Port int `yaml:"port"`
}

// CleanupConfig holds the cron expressions for pruning old task and
// message rows, and how many days of history to keep.
type CleanupConfig struct {
	TasksCron  string `yaml:"tasks_cron"`
	LogsCron   string `yaml:"logs_cron"`
	RetainDays int    `yaml:"retain_days"`
}

// PlatformConfig enables one platform dialer. Credentials are resolved
// per account via the account's credentials_ref, not from this file.
type PlatformConfig struct {
	Name    string `yaml:"name"` // telegram, discord, slack
	Enabled bool   `yaml:"enabled"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Database == "" {
		c.Database.Database = "relaywire"
	}
	if c.Broker.Kind == "" {
		c.Broker.Kind = "memory"
	}
	if c.Broker.Addr == "" {
		c.Broker.Addr = "127.0.0.1:6379"
	}
	if c.Broker.KeyPrefix == "" {
		c.Broker.KeyPrefix = "relaywire"
	}
	o := &c.Orchestrator
	if o.PoolSize == 0 {
		o.PoolSize = 8
	}
	if o.HealthCheckIntervalSec == 0 {
		o.HealthCheckIntervalSec = 300
	}
	if o.MaxRetryAttempts == 0 {
		o.MaxRetryAttempts = 3
	}
	if o.BackoffBaseMs == 0 {
		o.BackoffBaseMs = 30000
	}
	if o.StarvationThresholdMs == 0 {
		o.StarvationThresholdMs = 60000
	}
	if o.CircuitBreakerThreshold == 0 {
		o.CircuitBreakerThreshold = 5
	}
	if o.ReconnectFailureThreshold == 0 {
		o.ReconnectFailureThreshold = 3
	}
	if o.SendTimeoutSec == 0 {
		o.SendTimeoutSec = 30
	}
	if o.ProbeTimeoutSec == 0 {
		o.ProbeTimeoutSec = 10
	}
	if o.ProbeConcurrency == 0 {
		o.ProbeConcurrency = 4
	}
	if c.Ops.Port == 0 {
		c.Ops.Port = 8090
	}
	if c.Cleanup.TasksCron == "" {
		c.Cleanup.TasksCron = "0 * * * *" // hourly
	}
	if c.Cleanup.LogsCron == "" {
		c.Cleanup.LogsCron = "30 3 * * *" // daily
	}
	if c.Cleanup.RetainDays == 0 {
		c.Cleanup.RetainDays = 7
	}
	if len(c.Platforms) == 0 {
		c.Platforms = []PlatformConfig{
			{Name: "telegram", Enabled: true},
			{Name: "discord", Enabled: true},
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Broker.Kind {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("broker.kind %q is not recognized (memory, redis)", c.Broker.Kind))
	}
	if c.Orchestrator.PoolSize < 0 {
		errs = append(errs, "orchestrator.pool_size must be positive")
	}
	for i, p := range c.Platforms {
		switch p.Name {
		case "telegram", "discord", "slack":
		case "":
			errs = append(errs, fmt.Sprintf("platforms[%d].name is required", i))
		default:
			errs = append(errs, fmt.Sprintf("platforms[%d].name %q is not supported", i, p.Name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PlatformEnabled reports whether a platform dialer should be built.
func (c *Config) PlatformEnabled(name string) bool {
	for _, p := range c.Platforms {
		if p.Name == name {
			return p.Enabled
		}
	}
	return false
}
