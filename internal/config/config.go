// Package config loads application configuration from environment variables,
// optionally layered over a YAML providers file. Environment variables always
// win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	ListenAddr  string
	DBPath      string
	Environment string
	// SecretKey encrypts user credentials at rest. Empty disables the
	// user-credential store; when set it must be exactly 32 bytes.
	SecretKey []byte

	Providers Providers

	QuoteTTL           time.Duration
	HistoricalTTL      time.Duration
	SearchTTL          time.Duration
	CacheSweepInterval time.Duration
	SymbolSyncInterval time.Duration

	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Providers groups per-provider settings, loadable from the YAML file named
// by MARKETGATE_PROVIDERS_FILE.
type Providers struct {
	AlphaVantage AlphaVantage `yaml:"alphavantage"`
	Yahoo        Yahoo        `yaml:"yahoo"`
}

// AlphaVantage configures the primary provider and its credential pools.
type AlphaVantage struct {
	Keys              []string `yaml:"keys"`
	BackupKeys        []string `yaml:"backup_keys"`
	FallbackKey       string   `yaml:"fallback_key"`
	BaseURL           string   `yaml:"base_url"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	RequestsPerDay    int      `yaml:"requests_per_day"`
	Premium           bool     `yaml:"premium"`
}

// Yahoo configures the keyless secondary provider.
type Yahoo struct {
	BaseURL string `yaml:"base_url"`
}

// IsProduction reports whether the gateway runs with production semantics
// (no placeholder dev keys, mandatory real credentials).
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads configuration, applying defaults, then the providers file if
// MARKETGATE_PROVIDERS_FILE is set, then MARKETGATE_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         "127.0.0.1:8080",
		DBPath:             "marketgate.db",
		Environment:        "development",
		QuoteTTL:           time.Minute,
		HistoricalTTL:      5 * time.Minute,
		SearchTTL:          10 * time.Minute,
		CacheSweepInterval: time.Minute,
		SymbolSyncInterval: 24 * time.Hour,
		RateLimitPerSecond: 10,
		RateLimitBurst:     20,
	}

	if path, ok := os.LookupEnv("MARKETGATE_PROVIDERS_FILE"); ok && path != "" {
		if err := loadProvidersFile(path, &cfg.Providers); err != nil {
			return nil, err
		}
	}

	if v, ok := os.LookupEnv("MARKETGATE_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("MARKETGATE_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("MARKETGATE_ENV"); ok {
		cfg.Environment = v
	}

	if v, ok := os.LookupEnv("MARKETGATE_SECRET_KEY"); ok && v != "" {
		if len(v) != 32 {
			return nil, fmt.Errorf("MARKETGATE_SECRET_KEY must be exactly 32 bytes, got %d", len(v))
		}
		cfg.SecretKey = []byte(v)
	}

	if v, ok := os.LookupEnv("MARKETGATE_ALPHAVANTAGE_KEYS"); ok {
		cfg.Providers.AlphaVantage.Keys = splitList(v)
	}
	if v, ok := os.LookupEnv("MARKETGATE_ALPHAVANTAGE_BACKUP_KEYS"); ok {
		cfg.Providers.AlphaVantage.BackupKeys = splitList(v)
	}
	if v, ok := os.LookupEnv("MARKETGATE_ALPHAVANTAGE_FALLBACK_KEY"); ok {
		cfg.Providers.AlphaVantage.FallbackKey = v
	}
	if v, ok := os.LookupEnv("MARKETGATE_ALPHAVANTAGE_BASE_URL"); ok {
		cfg.Providers.AlphaVantage.BaseURL = v
	}
	if v, ok := os.LookupEnv("MARKETGATE_YAHOO_BASE_URL"); ok {
		cfg.Providers.Yahoo.BaseURL = v
	}

	var err error
	if cfg.Providers.AlphaVantage.RequestsPerMinute, err = envInt("MARKETGATE_ALPHAVANTAGE_RPM", cfg.Providers.AlphaVantage.RequestsPerMinute); err != nil {
		return nil, err
	}
	if cfg.Providers.AlphaVantage.RequestsPerDay, err = envInt("MARKETGATE_ALPHAVANTAGE_RPD", cfg.Providers.AlphaVantage.RequestsPerDay); err != nil {
		return nil, err
	}
	if cfg.Providers.AlphaVantage.Premium, err = envBool("MARKETGATE_ALPHAVANTAGE_PREMIUM", cfg.Providers.AlphaVantage.Premium); err != nil {
		return nil, err
	}

	if cfg.QuoteTTL, err = envDuration("MARKETGATE_QUOTE_TTL", cfg.QuoteTTL); err != nil {
		return nil, err
	}
	if cfg.HistoricalTTL, err = envDuration("MARKETGATE_HISTORICAL_TTL", cfg.HistoricalTTL); err != nil {
		return nil, err
	}
	if cfg.SearchTTL, err = envDuration("MARKETGATE_SEARCH_TTL", cfg.SearchTTL); err != nil {
		return nil, err
	}
	if cfg.CacheSweepInterval, err = envDuration("MARKETGATE_CACHE_SWEEP_INTERVAL", cfg.CacheSweepInterval); err != nil {
		return nil, err
	}
	if cfg.SymbolSyncInterval, err = envDuration("MARKETGATE_SYMBOL_SYNC_INTERVAL", cfg.SymbolSyncInterval); err != nil {
		return nil, err
	}

	if cfg.RateLimitPerSecond, err = envFloat("MARKETGATE_RATE_LIMIT_RPS", cfg.RateLimitPerSecond); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = envInt("MARKETGATE_RATE_LIMIT_BURST", cfg.RateLimitBurst); err != nil {
		return nil, err
	}

	if cfg.IsProduction() && len(cfg.Providers.AlphaVantage.Keys) == 0 {
		return nil, fmt.Errorf("MARKETGATE_ALPHAVANTAGE_KEYS is required in production")
	}

	return cfg, nil
}

func loadProvidersFile(path string, providers *Providers) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading providers file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, providers); err != nil {
		return fmt.Errorf("parsing providers file %s: %w", path, err)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	return parsed, nil
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	return parsed, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid number %q: %w", key, v, err)
	}
	return parsed, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return parsed, nil
}
