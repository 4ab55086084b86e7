// Package config loads pipeline configuration from a YAML file, applies
// environment variable overrides and fills defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EU-27 reporter codes (numeric M49), the default target set.
var defaultCountries = []string{
	"040", "056", "100", "191", "196", "203", "208", "233", "246", "250",
	"276", "300", "348", "372", "380", "428", "440", "442", "470", "528",
	"616", "620", "642", "703", "705", "724", "752",
}

type Config struct {
	API struct {
		PrimaryKey     string `yaml:"primary_key"`
		SecondaryKey   string `yaml:"secondary_key"`
		DailyLimit     int    `yaml:"daily_limit"`
		RecordLimit    int    `yaml:"record_limit"`
		MaxRetries     int    `yaml:"max_retries"`
		BaseRetryDelay int    `yaml:"base_retry_delay_seconds"`
		BaseURL        string `yaml:"base_url"`
	} `yaml:"api"`
	Cache struct {
		Dir     string `yaml:"dir"`
		Enabled *bool  `yaml:"enabled"`
		TTLDays int    `yaml:"ttl_days"`
	} `yaml:"cache"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Comtrade struct {
		FlowCode       string `yaml:"flow_code"`
		TypeCode       string `yaml:"type_code"`
		Frequency      string `yaml:"frequency"`
		Classification string `yaml:"classification"`
		MonthsPerCall  int    `yaml:"months_per_call"`
		PauseSeconds   int    `yaml:"pause_seconds"`
	} `yaml:"comtrade"`
	Schedule struct {
		Cron           string `yaml:"cron"`
		LookbackMonths int    `yaml:"lookback_months"`
	} `yaml:"schedule"`
	Countries []string `yaml:"countries"`
}

// Load reads config from a YAML file (a missing file is fine), then applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := getenv("COMTRADE_PRIMARY_KEY"); v != "" {
		cfg.API.PrimaryKey = v
	}
	if v := getenv("COMTRADE_SECONDARY_KEY"); v != "" {
		cfg.API.SecondaryKey = v
	}
	if v := getenv("COMTRADE_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := getenvInt("COMTRADE_DAILY_LIMIT"); v > 0 {
		cfg.API.DailyLimit = v
	}
	if v := getenv("COMTRADE_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := getenv("COMTRADE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	if c.API.DailyLimit <= 0 {
		c.API.DailyLimit = 500
	}
	if c.API.RecordLimit <= 0 {
		c.API.RecordLimit = 100000
	}
	if c.API.MaxRetries <= 0 {
		c.API.MaxRetries = 5
	}
	if c.API.BaseRetryDelay <= 0 {
		c.API.BaseRetryDelay = 2
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		c.Cache.Dir = "cache"
	}
	if c.Cache.Enabled == nil {
		enabled := true
		c.Cache.Enabled = &enabled
	}
	if c.Cache.TTLDays <= 0 {
		c.Cache.TTLDays = 30
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = "comtrade.db"
	}
	if strings.TrimSpace(c.Comtrade.FlowCode) == "" {
		c.Comtrade.FlowCode = "M"
	}
	if strings.TrimSpace(c.Comtrade.TypeCode) == "" {
		c.Comtrade.TypeCode = "C"
	}
	if strings.TrimSpace(c.Comtrade.Frequency) == "" {
		c.Comtrade.Frequency = "M"
	}
	if strings.TrimSpace(c.Comtrade.Classification) == "" {
		c.Comtrade.Classification = "HS"
	}
	if c.Comtrade.MonthsPerCall <= 0 {
		c.Comtrade.MonthsPerCall = 3
	}
	if c.Comtrade.PauseSeconds <= 0 {
		c.Comtrade.PauseSeconds = 1
	}
	if c.Schedule.LookbackMonths <= 0 {
		c.Schedule.LookbackMonths = 3
	}
	if len(c.Countries) == 0 {
		c.Countries = append([]string(nil), defaultCountries...)
	}
}

// CacheEnabled resolves the enabled flag after defaulting.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// Pause returns the configured inter-range pause.
func (c *Config) Pause() time.Duration {
	return time.Duration(c.Comtrade.PauseSeconds) * time.Second
}

// RetryDelay returns the configured base backoff delay.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.API.BaseRetryDelay) * time.Second
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func getenvInt(key string) int {
	value := getenv(key)
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
