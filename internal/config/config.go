// Package config loads and saves the recurra YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyp0633/recurra/server/cache"
	"github.com/cyp0633/recurra/server/recurrence"
	"github.com/cyp0633/recurra/server/scheduler"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// StorageConfig selects the event store backend.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "memory".
	Driver string `yaml:"driver" json:"driver"`
	// Path is the sqlite database file; ignored by the memory driver.
	Path string `yaml:"path" json:"path"`
}

// EngineConfig holds the generation bounds.
type EngineConfig struct {
	HorizonDays    int `yaml:"horizon_days" json:"horizon_days"`
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`
	// DefaultTime is the HH:MM used for rules without times of day.
	DefaultTime string `yaml:"default_time" json:"default_time"`
}

// CacheConfig sizes the event read cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for rules whose own zone is empty or
	// unknown. The regenerate schedule is evaluated in it as well.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RegenerateCron is the cron schedule of the horizon sweep.
	RegenerateCron string `yaml:"regenerate_cron" json:"regenerate_cron"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Storage StorageConfig `yaml:"storage" json:"storage"`
	Engine  EngineConfig  `yaml:"engine" json:"engine"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
}

// DefaultConfig returns the built-in defaults, backed by a SQLite database
// at recurra.db.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:8080",
		Timezone:       "UTC",
		RegenerateCron: scheduler.DefaultSchedule,
		LogLevel:       "info",
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "recurra.db",
		},
		Engine: EngineConfig{
			HorizonDays:    recurrence.DefaultEngineConfig.HorizonDays,
			MaxOccurrences: recurrence.DefaultEngineConfig.MaxOccurrences,
			DefaultTime:    recurrence.DefaultEngineConfig.DefaultTime.String(),
		},
		Cache: CacheConfig{
			TTL:        cache.DefaultCacheConfig.TTL,
			MaxEntries: cache.DefaultCacheConfig.MaxEntries,
		},
	}
}

// Normalize fills in missing or zero values so that partially filled
// files still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RegenerateCron == "" {
		c.RegenerateCron = def.RegenerateCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	default:
		c.Storage.Driver = def.Storage.Driver
	}
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}

	if c.Engine.HorizonDays <= 0 {
		c.Engine.HorizonDays = def.Engine.HorizonDays
	}
	if c.Engine.MaxOccurrences <= 0 {
		c.Engine.MaxOccurrences = def.Engine.MaxOccurrences
	}
	if c.Engine.DefaultTime == "" {
		c.Engine.DefaultTime = def.Engine.DefaultTime
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = def.Cache.TTL
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = def.Cache.MaxEntries
	}
}

// Validate reports values Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if _, err := recurrence.ParseClockTime(c.Engine.DefaultTime); err != nil {
		errs = append(errs, fmt.Errorf("engine.default_time: %w", err))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the default zone, or UTC if it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}

// EngineSettings converts the engine section into recurrence bounds.
func (c *Config) EngineSettings() (recurrence.EngineConfig, error) {
	def, err := recurrence.ParseClockTime(c.Engine.DefaultTime)
	if err != nil {
		return recurrence.EngineConfig{}, fmt.Errorf("engine.default_time: %w", err)
	}
	ec := recurrence.DefaultEngineConfig
	ec.HorizonDays = c.Engine.HorizonDays
	ec.MaxOccurrences = c.Engine.MaxOccurrences
	ec.DefaultTime = def
	return ec, nil
}

// CacheSettings converts the cache section into event cache settings.
func (c *Config) CacheSettings() cache.CacheConfig {
	cc := cache.DefaultCacheConfig
	cc.TTL = c.Cache.TTL
	cc.MaxEntries = c.Cache.MaxEntries
	return cc
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there with
// 0600 permissions and returned. Otherwise the file is decoded and
// normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// caller may still run with the defaults
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save normalizes cfg and writes it to path atomically via a temp file
// in the same directory, leaving the file with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".recurra-config-*.tmp")
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

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
