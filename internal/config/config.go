package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-level configuration loaded at startup. Everything the
// scheduler can change at runtime lives in its own persisted document, not
// here.
type Config struct {
	Storage struct {
		Dir string `yaml:"dir"`
	} `yaml:"storage"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Market struct {
		BaseURL        string        `yaml:"base_url"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		KlineLimit     int           `yaml:"kline_limit"`
		RateRPS        float64       `yaml:"rate_rps"`
		RateBurst      int           `yaml:"rate_burst"`
	} `yaml:"market"`

	Redis struct {
		Addr     string        `yaml:"addr"` // empty disables the snapshot cache
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	Postgres struct {
		DSN string `yaml:"dsn"` // empty disables the decision archive
	} `yaml:"postgres"`

	Scheduler struct {
		PollInterval   time.Duration `yaml:"poll_interval"`
		CollectTimeout time.Duration `yaml:"collect_timeout"`
	} `yaml:"scheduler"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.Storage.Dir = "data"
	c.HTTP.Addr = "127.0.0.1:8087"
	c.Market.BaseURL = "https://api.binance.com"
	c.Market.RequestTimeout = 10 * time.Second
	c.Market.KlineLimit = 31
	c.Market.RateRPS = 5
	c.Market.RateBurst = 10
	c.Redis.TTL = 60 * time.Second
	c.Scheduler.PollInterval = 30 * time.Second
	c.Scheduler.CollectTimeout = 30 * time.Second
	return c
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Zero values from a sparse file fall back to defaults.
	def := Default()
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = def.Storage.Dir
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = def.HTTP.Addr
	}
	if cfg.Market.BaseURL == "" {
		cfg.Market.BaseURL = def.Market.BaseURL
	}
	if cfg.Market.RequestTimeout <= 0 {
		cfg.Market.RequestTimeout = def.Market.RequestTimeout
	}
	if cfg.Market.KlineLimit <= 0 {
		cfg.Market.KlineLimit = def.Market.KlineLimit
	}
	if cfg.Market.RateRPS <= 0 {
		cfg.Market.RateRPS = def.Market.RateRPS
	}
	if cfg.Market.RateBurst <= 0 {
		cfg.Market.RateBurst = def.Market.RateBurst
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = def.Redis.TTL
	}
	if cfg.Scheduler.PollInterval <= 0 {
		cfg.Scheduler.PollInterval = def.Scheduler.PollInterval
	}
	if cfg.Scheduler.CollectTimeout <= 0 {
		cfg.Scheduler.CollectTimeout = def.Scheduler.CollectTimeout
	}
	return cfg, nil
}
