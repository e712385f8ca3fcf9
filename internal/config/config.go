// Package config loads runtime settings: a YAML file for tunables, the
// environment for credentials. A .env file is read first so local runs can
// keep Alpaca keys out of the shell profile; real environment variables win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gotrader/internal/detector"
)

type App struct {
	DBPath       string `yaml:"db_path"`
	CacheDir     string `yaml:"cache_dir"`
	AuditPath    string `yaml:"audit_path"`
	MetricsAddr  string `yaml:"metrics_addr"`
	LookbackDays int    `yaml:"lookback_days"`
}

// Duration decodes YAML values like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Trading struct {
	TopN              int      `yaml:"top_n"`
	PositionPct       float64  `yaml:"position_pct"`
	StopPct           float64  `yaml:"stop_pct"`
	TimeoutDays       int      `yaml:"timeout_days"`
	ReconcileInterval Duration `yaml:"reconcile_interval"`
}

type Config struct {
	App      App             `yaml:"app"`
	Strategy detector.Params `yaml:"strategy"`
	Trading  Trading         `yaml:"trading"`

	// Credentials come from the environment only.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
	Paper     bool   `yaml:"-"`
}

func defaults() Config {
	return Config{
		App: App{
			DBPath:       "trader.db",
			CacheDir:     ".cache",
			AuditPath:    "audit.ndjson",
			MetricsAddr:  ":9100",
			// Long enough history for the 200-bar trend window to be fully
			// warmed up well before the dates that can still emit signals.
			LookbackDays: 1600,
		},
		Strategy: detector.Defaults(),
		Trading: Trading{
			TopN:              100,
			PositionPct:       0.05,
			StopPct:           0.98,
			TimeoutDays:       10,
			ReconcileInterval: Duration(30 * time.Second),
		},
	}
}

// Load builds the config from defaults, the YAML file at path (optional when
// empty or absent), and environment credentials, in that order.
func Load(path string) (Config, error) {
	// Best effort: a missing .env just means the environment is already set.
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.APIKey = os.Getenv("APCA_API_KEY_ID")
	cfg.APISecret = os.Getenv("APCA_API_SECRET_KEY")
	cfg.Paper = boolEnv("ALPACA_PAPER", true)

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func boolEnv(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func validate(cfg Config) error {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required")
	}
	if cfg.Strategy.TrendWindow <= 1 {
		return fmt.Errorf("trend window must be > 1")
	}
	if cfg.App.LookbackDays <= cfg.Strategy.TrendWindow {
		return fmt.Errorf("lookback_days must exceed the trend window (%d)", cfg.Strategy.TrendWindow)
	}
	if cfg.Strategy.Span <= 1 {
		return fmt.Errorf("smoothing span must be > 1")
	}
	if cfg.Strategy.BuyRSI <= 0 || cfg.Strategy.BuyRSI >= 100 {
		return fmt.Errorf("buy threshold must be between 0 and 100")
	}
	if cfg.Strategy.SellRSI <= cfg.Strategy.BuyRSI {
		return fmt.Errorf("sell threshold must exceed the buy threshold")
	}
	if cfg.Trading.TopN <= 0 {
		return fmt.Errorf("top_n must be > 0")
	}
	if cfg.Trading.PositionPct <= 0 || cfg.Trading.PositionPct > 1 {
		return fmt.Errorf("position_pct must be in (0, 1]")
	}
	if cfg.Trading.StopPct <= 0 || cfg.Trading.StopPct >= 1 {
		return fmt.Errorf("stop_pct must be in (0, 1)")
	}
	if cfg.Trading.TimeoutDays <= 0 {
		return fmt.Errorf("timeout_days must be > 0")
	}
	if cfg.Trading.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile_interval must be > 0")
	}
	return nil
}
