// Package config loads service configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunable settings for the API service.
type Config struct {
	Addr          string
	PostgresDSN   string
	NATSURL       string
	CacheTTL      time.Duration
	ExpiryWindow  time.Duration
	SweepInterval time.Duration

	RateBurst  int
	RatePerSec int

	Recommend RecommendConfig
}

// RecommendConfig configures the recommendation provider chain.
type RecommendConfig struct {
	PrimaryURL  string
	FallbackURL string
	APIKey      string
	Model       string
	Timeout     time.Duration
}

// fileConfig mirrors Config for YAML decoding. Durations arrive as strings
// ("30s", "24h") since yaml cannot decode time.Duration directly.
type fileConfig struct {
	Addr          string `yaml:"addr"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	NATSURL       string `yaml:"nats_url"`
	CacheTTL      string `yaml:"cache_ttl"`
	ExpiryWindow  string `yaml:"expiry_window"`
	SweepInterval string `yaml:"sweep_interval"`

	RateBurst  *int `yaml:"rate_burst"`
	RatePerSec *int `yaml:"rate_per_sec"`

	Recommend struct {
		PrimaryURL  string `yaml:"primary_url"`
		FallbackURL string `yaml:"fallback_url"`
		APIKey      string `yaml:"api_key"`
		Model       string `yaml:"model"`
		Timeout     string `yaml:"timeout"`
	} `yaml:"recommend"`
}

func (fc fileConfig) apply(cfg *Config) error {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v, field string) error {
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: parse %s: %w", field, err)
		}
		*dst = d
		return nil
	}

	setStr(&cfg.Addr, fc.Addr)
	setStr(&cfg.PostgresDSN, fc.PostgresDSN)
	setStr(&cfg.NATSURL, fc.NATSURL)
	if err := setDur(&cfg.CacheTTL, fc.CacheTTL, "cache_ttl"); err != nil {
		return err
	}
	if err := setDur(&cfg.ExpiryWindow, fc.ExpiryWindow, "expiry_window"); err != nil {
		return err
	}
	if err := setDur(&cfg.SweepInterval, fc.SweepInterval, "sweep_interval"); err != nil {
		return err
	}
	if fc.RateBurst != nil {
		cfg.RateBurst = *fc.RateBurst
	}
	if fc.RatePerSec != nil {
		cfg.RatePerSec = *fc.RatePerSec
	}
	setStr(&cfg.Recommend.PrimaryURL, fc.Recommend.PrimaryURL)
	setStr(&cfg.Recommend.FallbackURL, fc.Recommend.FallbackURL)
	setStr(&cfg.Recommend.APIKey, fc.Recommend.APIKey)
	setStr(&cfg.Recommend.Model, fc.Recommend.Model)
	return setDur(&cfg.Recommend.Timeout, fc.Recommend.Timeout, "recommend.timeout")
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Addr:          ":8080",
		CacheTTL:      180 * time.Second,
		ExpiryWindow:  24 * time.Hour,
		SweepInterval: time.Minute,
		RateBurst:     20,
		RatePerSec:    10,
		Recommend: RecommendConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads the config file at path (if non-empty), then applies
// DECISIONGATE_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
			if err := fc.apply(&cfg); err != nil {
				return Config{}, err
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DECISIONGATE_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("DECISIONGATE_PG_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("DECISIONGATE_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("DECISIONGATE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}
	if v := os.Getenv("DECISIONGATE_EXPIRY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ExpiryWindow = d
		}
	}
	if v := os.Getenv("DECISIONGATE_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateBurst = n
		}
	}
	if v := os.Getenv("DECISIONGATE_RATE_PER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RatePerSec = n
		}
	}
	if v := os.Getenv("DECISIONGATE_RECOMMEND_PRIMARY_URL"); v != "" {
		cfg.Recommend.PrimaryURL = v
	}
	if v := os.Getenv("DECISIONGATE_RECOMMEND_FALLBACK_URL"); v != "" {
		cfg.Recommend.FallbackURL = v
	}
	if v := os.Getenv("DECISIONGATE_RECOMMEND_API_KEY"); v != "" {
		cfg.Recommend.APIKey = v
	}
	if v := os.Getenv("DECISIONGATE_RECOMMEND_MODEL"); v != "" {
		cfg.Recommend.Model = v
	}
}

// Validate checks invariants that would otherwise surface at runtime.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("config: addr is required")
	}
	if c.ExpiryWindow <= 0 {
		return errors.New("config: expiry_window must be positive")
	}
	if c.CacheTTL < 0 {
		return errors.New("config: cache_ttl must not be negative")
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return errors.New("config: rate limits must be positive")
	}
	return nil
}
