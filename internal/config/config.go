package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
	MaxBodyBytes      int64  `json:"max_body_bytes"`
}

type TwelveData struct {
	APIKey                string `json:"api_key"`
	BaseURL               string `json:"base_url"`
	TimeoutSec            int    `json:"timeout_sec"`
	MaxRequestsPerMinute  int    `json:"max_requests_per_minute"`
	Burst                 int    `json:"burst"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec"`
	// ValidateKey makes the server check a configured key with one
	// reference quote before activating it.
	ValidateKey bool `json:"validate_key"`
}

type Refresh struct {
	IntervalSec     int `json:"interval_sec"`
	FetchTimeoutSec int `json:"fetch_timeout_sec"`
	MaxConcurrency  int `json:"max_concurrency"`
	Retries         int `json:"retries"`
}

type Portfolio struct {
	Currency string `json:"currency"`
	Broker   string `json:"broker"`
}

type Logging struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type Config struct {
	Server     Server     `json:"server"`
	TwelveData TwelveData `json:"twelvedata"`
	Refresh    Refresh    `json:"refresh"`
	Portfolio  Portfolio  `json:"portfolio"`
	Logging    Logging    `json:"logging"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10, MaxBodyBytes: 1 << 20},
		TwelveData: TwelveData{
			BaseURL:              "https://api.twelvedata.com",
			TimeoutSec:           10,
			MaxRequestsPerMinute: 8,
			Burst:                1,
			ValidateKey:          true,
		},
		Refresh: Refresh{
			IntervalSec:     300,
			FetchTimeoutSec: 10,
			MaxConcurrency:  4,
			Retries:         1,
		},
		Portfolio: Portfolio{Currency: "USD", Broker: "other"},
		Logging:   Logging{Level: "info", Format: "json"},
	}
}

// Interval returns the refresh period as a duration.
func (r Refresh) Interval() time.Duration { return time.Duration(r.IntervalSec) * time.Second }

// FetchTimeout returns the per-symbol fetch timeout as a duration.
func (r Refresh) FetchTimeout() time.Duration { return time.Duration(r.FetchTimeoutSec) * time.Second }

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. A .env file in the working directory is loaded into
// the environment first, then environment variables override select fields.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Default(), fmt.Errorf("load .env: %w", err)
	}
	return load(path)
}

func load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Refresh.IntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("refresh.interval_sec must be positive, got %d", c.Refresh.IntervalSec))
	}
	if c.Portfolio.Currency == "" {
		errs = append(errs, errors.New("portfolio.currency is required"))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	envInt("REQUEST_TIMEOUT_SEC", 1, &cfg.Server.RequestTimeoutSec)

	if v := os.Getenv("TWELVEDATA_API_KEY"); v != "" {
		cfg.TwelveData.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("TWELVEDATA_BASE_URL"); v != "" {
		cfg.TwelveData.BaseURL = v
	}
	envInt("TWELVEDATA_MAX_RPM", 0, &cfg.TwelveData.MaxRequestsPerMinute)
	envInt("TWELVEDATA_BURST", 1, &cfg.TwelveData.Burst)
	envInt("TWELVEDATA_MIN_INTERVAL_SEC", 0, &cfg.TwelveData.MinRequestIntervalSec)
	envBool("TWELVEDATA_VALIDATE_KEY", &cfg.TwelveData.ValidateKey)

	envInt("REFRESH_INTERVAL_SEC", 1, &cfg.Refresh.IntervalSec)
	envInt("REFRESH_FETCH_TIMEOUT_SEC", 1, &cfg.Refresh.FetchTimeoutSec)
	envInt("REFRESH_MAX_CONCURRENCY", 1, &cfg.Refresh.MaxConcurrency)
	envInt("REFRESH_RETRIES", 0, &cfg.Refresh.Retries)

	if v := os.Getenv("PORTFOLIO_CURRENCY"); v != "" {
		cfg.Portfolio.Currency = strings.ToUpper(v)
	}
	if v := os.Getenv("PORTFOLIO_BROKER"); v != "" {
		cfg.Portfolio.Broker = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// envInt overwrites dst when name holds an integer >= min.
func envInt(name string, min int, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	x, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || x < min {
		return
	}
	*dst = x
}

func envBool(name string, dst *bool) {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
}
