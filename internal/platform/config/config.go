package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/localday"
)

const FileName = "config.yaml"

type Config struct {
	DataDir string `yaml:"-"`
	DBPath  string `yaml:"db_path"`

	UserID    string `yaml:"user_id"`
	Token     string `yaml:"token"`
	RemoteURL string `yaml:"remote_url"`

	// Timezone is either an IANA zone name or a free-form label. When it
	// resolves as a location the offset is derived per instant, otherwise
	// OffsetMinutes is used as-is.
	Timezone      string `yaml:"timezone"`
	OffsetMinutes int    `yaml:"offset_minutes"`

	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	BatchSize        int           `yaml:"batch_size"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	BackoffInitial   time.Duration `yaml:"backoff_initial"`
	BackoffMax       time.Duration `yaml:"backoff_max"`

	MinInterval     time.Duration `yaml:"min_interval"`
	MaxSession      time.Duration `yaml:"max_session"`
	MaxDaily        time.Duration `yaml:"max_daily"`
	HistoryLimit    int           `yaml:"history_limit"`
	RetentionPerDay int           `yaml:"retention_per_day"`
	CategoryTTL     time.Duration `yaml:"category_ttl"`

	ProbePlugin  string        `yaml:"probe_plugin"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ExpiryCheck  time.Duration `yaml:"expiry_check"`
	MetricsAddr  string        `yaml:"metrics_addr"`
	LogFile      string        `yaml:"log_file"`

	Categories map[string]string `yaml:"categories"`

	Ledger LedgerConfig `yaml:"ledger"`
}

type LedgerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	// Tokens maps opaque bearer tokens to user ids.
	Tokens       map[string]string `yaml:"tokens"`
	RateLimit    int               `yaml:"rate_limit_per_minute"`
	HistoryLimit int               `yaml:"history_limit"`
}

func Default(dataDir string) Config {
	return Config{
		DataDir:          dataDir,
		UserID:           "local",
		Timezone:         "Local",
		DispatchInterval: 5 * time.Minute,
		BatchSize:        200,
		RequestTimeout:   15 * time.Second,
		BackoffInitial:   30 * time.Second,
		BackoffMax:       30 * time.Minute,
		MinInterval:      2 * time.Second,
		MaxSession:       12 * time.Hour,
		MaxDaily:         24 * time.Hour,
		HistoryLimit:     100,
		RetentionPerDay:  500,
		CategoryTTL:      time.Hour,
		PollInterval:     5 * time.Second,
		ExpiryCheck:      time.Second,
		Ledger: LedgerConfig{
			ListenAddr:   "127.0.0.1:8787",
			RateLimit:    600,
			HistoryLimit: 100,
		},
	}
}

// Load reads defaults, then <dataDir>/config.yaml, then DWELL_* variables.
func Load(dataDir string) (Config, error) {
	return LoadWithEnv(dataDir, os.Getenv)
}

func LoadWithEnv(dataDir string, getenv func(string) string) (Config, error) {
	if dataDir == "" {
		return Config{}, xerrors.Errorf("data dir is required: %w", apperrors.ErrInvalidInput)
	}
	cfg := Default(dataDir)

	raw, err := os.ReadFile(filepath.Join(dataDir, FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, xerrors.Errorf("parse %s: %w", FileName, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, xerrors.Errorf("read %s: %w", FileName, err)
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	cfg.fillPaths()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	strs := map[string]*string{
		"DWELL_USER_ID":       &cfg.UserID,
		"DWELL_TOKEN":         &cfg.Token,
		"DWELL_REMOTE_URL":    &cfg.RemoteURL,
		"DWELL_TIMEZONE":      &cfg.Timezone,
		"DWELL_PROBE_PLUGIN":  &cfg.ProbePlugin,
		"DWELL_METRICS_ADDR":  &cfg.MetricsAddr,
		"DWELL_LOG_FILE":      &cfg.LogFile,
		"DWELL_LEDGER_LISTEN": &cfg.Ledger.ListenAddr,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	if v := getenv("DWELL_OFFSET_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return xerrors.Errorf("DWELL_OFFSET_MINUTES: %w", apperrors.ErrInvalidInput)
		}
		cfg.OffsetMinutes = n
	}
	if v := getenv("DWELL_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return xerrors.Errorf("DWELL_BATCH_SIZE: %w", apperrors.ErrInvalidInput)
		}
		cfg.BatchSize = n
	}
	if v := getenv("DWELL_DISPATCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return xerrors.Errorf("DWELL_DISPATCH_INTERVAL: %w", apperrors.ErrInvalidInput)
		}
		cfg.DispatchInterval = d
	}
	return nil
}

func (c *Config) fillPaths() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "dwell.db")
	}
	if c.Ledger.DBPath == "" {
		c.Ledger.DBPath = filepath.Join(c.DataDir, "ledger.db")
	}
}

func (c Config) Validate() error {
	if err := localday.ValidateOffset(c.OffsetMinutes); err != nil {
		return err
	}
	positive := map[string]time.Duration{
		"dispatch_interval": c.DispatchInterval,
		"request_timeout":   c.RequestTimeout,
		"backoff_initial":   c.BackoffInitial,
		"backoff_max":       c.BackoffMax,
		"max_session":       c.MaxSession,
		"max_daily":         c.MaxDaily,
		"poll_interval":     c.PollInterval,
		"expiry_check":      c.ExpiryCheck,
	}
	for name, d := range positive {
		if d <= 0 {
			return xerrors.Errorf("%s must be positive: %w", name, apperrors.ErrInvalidInput)
		}
	}
	if c.MinInterval < 0 || c.BatchSize <= 0 || c.HistoryLimit <= 0 || c.RetentionPerDay <= 0 {
		return xerrors.Errorf("min_interval, batch_size, history_limit and retention_per_day must be positive: %w", apperrors.ErrInvalidInput)
	}
	if c.MaxSession > c.MaxDaily {
		return xerrors.Errorf("max_session exceeds max_daily: %w", apperrors.ErrInvalidInput)
	}
	return nil
}

func (c Config) SocketPath() string        { return filepath.Join(c.DataDir, "dwell.sock") }
func (c Config) PIDPath() string           { return filepath.Join(c.DataDir, "dwell.pid") }
func (c Config) LockPath() string          { return filepath.Join(c.DataDir, "dwell.lock") }
func (c Config) ActiveSessionPath() string { return filepath.Join(c.DataDir, "active-session.json") }

func (c Config) DaemonLogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "logs", "dwell.log")
}

// Zone returns the timezone label and offset to stamp on an interval
// starting at t.
func (c Config) Zone(t time.Time) (string, int) {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil && c.OffsetMinutes == 0 {
			name := c.Timezone
			if name == "Local" {
				name, _ = t.In(loc).Zone()
			}
			return name, localday.OffsetAt(loc, t)
		}
	}
	return c.Timezone, c.OffsetMinutes
}
