// Package config resolves runtime settings from an optional YAML file, .env
// files and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	Store     StoreConfig   `yaml:"store"`
	Server    ServerConfig  `yaml:"server"`
	Billing   BillingConfig `yaml:"billing"`
	LogLevel  string        `yaml:"log_level"`
	Reporting ReportConfig  `yaml:"reporting"`
}

type StoreConfig struct {
	Driver       string `yaml:"driver"`
	DatabaseURL  string `yaml:"database_url"`
	SQLitePath   string `yaml:"sqlite_path"`
	TxMaxRetries int    `yaml:"tx_max_retries"`
}

type ServerConfig struct {
	Port           string `yaml:"port"`
	AllowedOrigins string `yaml:"allowed_origins"`
}

type BillingConfig struct {
	Currency        string `yaml:"currency"`
	DelinquencyDays int    `yaml:"delinquency_days"`
}

type ReportConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver:       DriverPostgres,
			SQLitePath:   "ledger.db",
			TxMaxRetries: 3,
		},
		Server:    ServerConfig{Port: "8080"},
		Billing:   BillingConfig{Currency: "USD", DelinquencyDays: 30},
		LogLevel:  "info",
		Reporting: ReportConfig{Concurrency: 4},
	}
}

// Load reads .env files, then CONFIG_FILE if set, then applies environment
// overrides and validates the result.
func Load(logger *logrus.Logger) (Config, error) {
	LoadEnv(logger)
	cfg := Default()
	if path := GetEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file %s not found", path)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Store.Driver = strings.ToLower(GetEnv("STORE_DRIVER", cfg.Store.Driver))
	cfg.Store.DatabaseURL = GetEnv("DATABASE_URL", cfg.Store.DatabaseURL)
	cfg.Store.SQLitePath = GetEnv("SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.TxMaxRetries = GetEnvInt("TX_MAX_RETRIES", cfg.Store.TxMaxRetries)
	cfg.Server.Port = GetEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = GetEnv("ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Billing.Currency = strings.ToUpper(GetEnv("BILLING_CURRENCY", cfg.Billing.Currency))
	cfg.Billing.DelinquencyDays = GetEnvInt("DELINQUENCY_DAYS", cfg.Billing.DelinquencyDays)
	cfg.LogLevel = strings.ToLower(GetEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.Reporting.Concurrency = GetEnvInt("REPORT_CONCURRENCY", cfg.Reporting.Concurrency)
}

// Validate rejects settings the store or server cannot start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL environment variable not set")
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("SQLITE_PATH must not be empty for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want postgres, sqlite or memory)", c.Store.Driver)
	}
	if c.Billing.DelinquencyDays < 0 {
		return fmt.Errorf("DELINQUENCY_DAYS must not be negative, got %d", c.Billing.DelinquencyDays)
	}
	if c.Reporting.Concurrency < 1 {
		return fmt.Errorf("REPORT_CONCURRENCY must be at least 1, got %d", c.Reporting.Concurrency)
	}
	if c.Store.TxMaxRetries < 0 {
		return fmt.Errorf("TX_MAX_RETRIES must not be negative, got %d", c.Store.TxMaxRetries)
	}
	return nil
}

// Level maps LogLevel onto logrus, defaulting to info.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// ── Environment helpers ───────────────────────────────────────────────────────

// LoadEnv loads .env and .env.dev from the working directory when present.
func LoadEnv(logger *logrus.Logger) {
	files := []string{".env", ".env.dev"}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger != nil && len(loaded) > 0 {
		logger.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
	}
}

// GetEnv gets an environment variable with a default value.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable with a default value.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}
