package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"subscription-ledger/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH", "TX_MAX_RETRIES", "SERVER_PORT",
		"ALLOWED_ORIGINS", "BILLING_CURRENCY", "DELINQUENCY_DAYS", "LOG_LEVEL", "REPORT_CONCURRENCY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/ledger.db")
	t.Setenv("BILLING_CURRENCY", "eur")
	t.Setenv("DELINQUENCY_DAYS", "45")
	t.Setenv("REPORT_CONCURRENCY", "8")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != config.DriverSQLite || cfg.Store.SQLitePath != "/tmp/ledger.db" {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Billing.Currency != "EUR" || cfg.Billing.DelinquencyDays != 45 {
		t.Errorf("unexpected billing config: %+v", cfg.Billing)
	}
	if cfg.Reporting.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Reporting.Concurrency)
	}
	if cfg.Level() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %s", cfg.Level())
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	body := `
store:
  driver: memory
server:
  port: "9090"
billing:
  currency: ARS
  delinquency_days: 60
reporting:
  concurrency: 2
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != config.DriverMemory {
		t.Errorf("expected memory driver, got %s", cfg.Store.Driver)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected env to override port, got %s", cfg.Server.Port)
	}
	if cfg.Billing.Currency != "ARS" || cfg.Billing.DelinquencyDays != 60 || cfg.Reporting.Concurrency != 2 {
		t.Errorf("unexpected values from file: %+v", cfg)
	}
	if cfg.Store.TxMaxRetries != 3 {
		t.Errorf("expected default retries to survive the file, got %d", cfg.Store.TxMaxRetries)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}, "DATABASE_URL"},
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}, "unknown STORE_DRIVER"},
		{"negative days", map[string]string{"STORE_DRIVER": "memory", "DELINQUENCY_DAYS": "-1"}, "DELINQUENCY_DAYS"},
		{"zero concurrency", map[string]string{"STORE_DRIVER": "memory", "REPORT_CONCURRENCY": "0"}, "REPORT_CONCURRENCY"},
		{"missing file", map[string]string{"CONFIG_FILE": "/nonexistent/ledger.yaml"}, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetEnvInt_FallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	if got := config.GetEnvInt("SOME_INT", 5); got != 5 {
		t.Errorf("expected fallback 5, got %d", got)
	}
}
