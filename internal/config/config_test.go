package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  password: secret\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Database.Host != "127.0.0.1" || cfg.Database.Port != 3306 {
		t.Errorf("database defaults = %s:%d", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.Database != "relaywire" {
		t.Errorf("database name = %q, want relaywire", cfg.Database.Database)
	}
	if cfg.Broker.Kind != "memory" {
		t.Errorf("broker kind = %q, want memory", cfg.Broker.Kind)
	}
	o := cfg.Orchestrator
	if o.PoolSize != 8 || o.MaxRetryAttempts != 3 || o.HealthCheckIntervalSec != 300 {
		t.Errorf("orchestrator defaults = %+v", o)
	}
	if o.StarvationThresholdMs != 60000 || o.CircuitBreakerThreshold != 5 || o.ReconnectFailureThreshold != 3 {
		t.Errorf("scheduling defaults = %+v", o)
	}
	if cfg.Ops.Port != 8090 {
		t.Errorf("ops port = %d, want 8090", cfg.Ops.Port)
	}
	if cfg.Cleanup.RetainDays != 7 || cfg.Cleanup.TasksCron == "" || cfg.Cleanup.LogsCron == "" {
		t.Errorf("cleanup defaults = %+v", cfg.Cleanup)
	}
	if len(cfg.Platforms) == 0 {
		t.Error("default platforms must be populated")
	}
}

func TestParse_Overrides(t *testing.T) {
	raw := `
database:
  host: db.internal
  port: 3307
broker:
  kind: redis
  addr: redis.internal:6379
  key_prefix: relay-prod
orchestrator:
  pool_size: 16
  starvation_threshold_ms: 30000
platforms:
  - name: telegram
    enabled: true
  - name: slack
    enabled: false
`
	cfg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 3307 {
		t.Errorf("database = %s:%d", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Broker.Kind != "redis" || cfg.Broker.KeyPrefix != "relay-prod" {
		t.Errorf("broker = %+v", cfg.Broker)
	}
	if cfg.Orchestrator.PoolSize != 16 || cfg.Orchestrator.StarvationThresholdMs != 30000 {
		t.Errorf("orchestrator = %+v", cfg.Orchestrator)
	}
	if !cfg.PlatformEnabled("telegram") {
		t.Error("telegram should be enabled")
	}
	if cfg.PlatformEnabled("slack") {
		t.Error("slack should be disabled")
	}
	if cfg.PlatformEnabled("discord") {
		t.Error("unlisted platform should not be enabled")
	}
}

func TestParse_BadBrokerKind(t *testing.T) {
	_, err := Parse([]byte("broker:\n  kind: rabbitmq\n"))
	if err == nil || !strings.Contains(err.Error(), "broker.kind") {
		t.Fatalf("Parse = %v, want broker.kind validation error", err)
	}
}

func TestParse_BadPlatformName(t *testing.T) {
	_, err := Parse([]byte("platforms:\n  - name: irc\n    enabled: true\n"))
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("Parse = %v, want platform validation error", err)
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("database: [not a map")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaywire.yaml")
	if err := os.WriteFile(path, []byte("ops:\n  port: 9999\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ops.Port != 9999 {
		t.Errorf("ops port = %d, want 9999", cfg.Ops.Port)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
