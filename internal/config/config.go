package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	defaultListen         = "127.0.0.1:8080"
	defaultEventsURL      = "http://127.0.0.1:8081/api/events"
	defaultRefreshCron    = "*/15 * * * *"
	defaultCacheDir       = "./var/cache"
	defaultRequestTimeout = 15 * time.Second
	defaultHorizonDays    = 28
	defaultBackfillDays   = 7
	defaultWeekStart      = "sunday"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for record IDs and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label; it is also the category for events
	// that carry no CATEGORIES property.
	Name string `yaml:"name" json:"name"`
}

// WindowConfig holds the hours shown when no event bounds the grid.
type WindowConfig struct {
	FallbackMinHour int `yaml:"fallback_min_hour" json:"fallback_min_hour"`
	FallbackMaxHour int `yaml:"fallback_max_hour" json:"fallback_max_hour"`
}

// LogConfig selects the logger flavor and level.
type LogConfig struct {
	// Environment is "production", "development" or "test".
	Environment string `yaml:"environment" json:"environment"`
	Level       string `yaml:"level" json:"level"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the calendar API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone events are shown in. Empty means the host's
	// zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "sunday" (default) or "monday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// EventsURL is the backend endpoint returning the raw event array.
	// Empty disables the backend source (ICS only).
	EventsURL string `yaml:"events_url" json:"events_url"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheDir stores the last good payload of every source.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// RequestTimeout bounds each source fetch.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// HorizonDays / BackfillDays bound ICS recurrence expansion around now.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	Window WindowConfig `yaml:"window" json:"window"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	Log LogConfig `yaml:"log" json:"log"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		Timezone:       "",
		WeekStart:      defaultWeekStart,
		EventsURL:      defaultEventsURL,
		RefreshCron:    defaultRefreshCron,
		CacheDir:       defaultCacheDir,
		RequestTimeout: defaultRequestTimeout,
		HorizonDays:    defaultHorizonDays,
		BackfillDays:   defaultBackfillDays,
		Window: WindowConfig{
			FallbackMinHour: 8,
			FallbackMaxHour: 22,
		},
		ICS: []ICSConfig{},
		Log: LogConfig{Environment: "production", Level: "info"},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = defaultWeekStart
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}

	w := &c.Window
	if w.FallbackMinHour < 0 || w.FallbackMinHour > 23 {
		w.FallbackMinHour = 8
	}
	if w.FallbackMaxHour < 1 || w.FallbackMaxHour > 24 {
		w.FallbackMaxHour = 22
	}
	if w.FallbackMaxHour <= w.FallbackMinHour {
		w.FallbackMinHour, w.FallbackMaxHour = 8, 22
	}

	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Log.Environment == "" {
		c.Log.Environment = "production"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.EventsURL == "" && len(c.ICS) == 0 {
		return errors.New("config: neither events_url nor ics sources are set")
	}
	for i, src := range c.ICS {
		if strings.TrimSpace(src.URL) == "" {
			return fmt.Errorf("config: ics[%d] has no url", i)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone; empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// WeekStartDay maps WeekStart to a time.Weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// ApplyEnv overrides selected fields from PLANIT_* environment variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("PLANIT_LISTEN")); v != "" {
		c.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("PLANIT_EVENTS_URL")); v != "" {
		c.EventsURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PLANIT_TIMEZONE")); v != "" {
		c.Timezone = v
	}
	if v := strings.TrimSpace(os.Getenv("PLANIT_LOG_LEVEL")); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".planit-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
