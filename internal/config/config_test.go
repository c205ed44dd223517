package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_FLOWS_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Limits.MaxParamsInQuery != 25 {
		t.Fatalf("unexpected default maxParamsInQuery %d", cfg.Limits.MaxParamsInQuery)
	}
	if !cfg.Polling.Enabled() {
		t.Fatalf("expected polling enabled by default")
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
polling:
  refreshInterval: 5s
limits:
  maxEntitiesInStep:
    entity: 3
    alert: 2
  maxParamsInQuery: 10
flow:
  accounts: [1, 2]
logging:
  debug: true
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MIRADOR_FLOWS_ACCOUNTS", "7, 8 ,x")
	t.Setenv("MIRADOR_FLOWS_TIME_RANGE", "1h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Polling.Enabled() {
		t.Fatalf("5s refresh is below the 10s minimum and must disable polling")
	}
	if cfg.Limits.MaxEntitiesInStep.Entity != 3 || cfg.Limits.MaxEntitiesInStep.Alert != 2 {
		t.Fatalf("unexpected step limits %+v", cfg.Limits.MaxEntitiesInStep)
	}
	if cfg.Limits.MaxEntitiesInFlow.Entity != 250 {
		t.Fatalf("flow limit default lost: %+v", cfg.Limits.MaxEntitiesInFlow)
	}
	if len(cfg.Flow.Accounts) != 2 || cfg.Flow.Accounts[0] != 7 || cfg.Flow.Accounts[1] != 8 {
		t.Fatalf("unexpected accounts %v", cfg.Flow.Accounts)
	}
	if cfg.Polling.TimeRange != time.Hour {
		t.Fatalf("unexpected time range %v", cfg.Polling.TimeRange)
	}
	if !cfg.Logging.Debug {
		t.Fatalf("expected debug mode")
	}
}

func TestLoadRejectsInvalidBatchSize(t *testing.T) {
	t.Setenv("MIRADOR_FLOWS_MAX_PARAMS_IN_QUERY", "0")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
