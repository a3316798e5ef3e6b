package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read on top of the config file.
const (
	EnvDir       = "TLIFARM_DIR"
	EnvLogPath   = "TLIFARM_LOG_PATH"
	EnvDebug     = "TLIFARM_DEBUG"
	EnvRelayAddr = "TLIFARM_RELAY_ADDR"
)

const defaultStatsPerSecond = 2

type Config struct {
	// LogPath is the game's UE_game.log. Empty means it must be supplied
	// on the command line.
	LogPath string `yaml:"log_path"`
	// LogTimezone is the IANA zone the game writes timestamps in. Empty
	// means the local zone.
	LogTimezone string `yaml:"log_timezone"`
	Debug       bool   `yaml:"debug"`

	Tail    TailConfig    `yaml:"tail"`
	Prices  PricesConfig  `yaml:"prices"`
	Items   ItemsConfig   `yaml:"items"`
	History HistoryConfig `yaml:"history"`
	Journal JournalConfig `yaml:"journal"`
	Relay   RelayConfig   `yaml:"relay"`
}

type TailConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	WarmupBytes  int64         `yaml:"warmup_bytes"`
	QueueSize    int           `yaml:"queue_size"`
}

type PricesConfig struct {
	CachePath string `yaml:"cache_path"`
}

type ItemsConfig struct {
	CatalogPath string `yaml:"catalog_path"`
}

type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

type JournalConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	Compress bool   `yaml:"compress"`
}

type RelayConfig struct {
	// Addr is the listen address, e.g. 127.0.0.1:7420. Empty disables the
	// relay.
	Addr           string  `yaml:"addr"`
	StatsPerSecond float64 `yaml:"stats_per_second"`
}

// ConfigDir returns the tlifarm configuration directory: $TLIFARM_DIR if
// set, otherwise ~/.tlifarm/.
func ConfigDir() string {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".tlifarm")
	}
	return filepath.Join(home, ".tlifarm")
}

// LoadDotEnv loads .env from the working directory and then from the
// config directory. Variables already set are never overridden and
// missing files are ignored.
func LoadDotEnv() {
	for _, path := range []string{".env", filepath.Join(ConfigDir(), ".env")} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

// Load reads .env files, then ~/.tlifarm/config.yaml, then applies
// environment overrides.
// If the file does not exist, the defaults are used with no error.
func Load() (*Config, error) {
	return LoadWithEnv(filepath.Join(ConfigDir(), "config.yaml"))
}

// LoadWithEnv is Load with an explicit config file.
func LoadWithEnv(path string) (*Config, error) {
	LoadDotEnv()
	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom reads the config from the given path.
// If the file does not exist, it returns an empty Config with no error.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from TLIFARM_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvLogPath); v != "" {
		c.LogPath = v
	}
	if v := os.Getenv(EnvRelayAddr); v != "" {
		c.Relay.Addr = v
	}
	if v := os.Getenv(EnvDebug); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebug, err)
		}
		c.Debug = on
	}
	return nil
}

func (c *Config) validate() error {
	if c.Tail.PollInterval < 0 {
		return fmt.Errorf("tail.poll_interval: must not be negative")
	}
	if c.Tail.WarmupBytes < 0 {
		return fmt.Errorf("tail.warmup_bytes: must not be negative")
	}
	if c.Tail.QueueSize < 0 {
		return fmt.Errorf("tail.queue_size: must not be negative")
	}
	if c.Relay.StatsPerSecond < 0 {
		return fmt.Errorf("relay.stats_per_second: must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves LogTimezone.
func (c *Config) Location() (*time.Location, error) {
	if c.LogTimezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.LogTimezone)
	if err != nil {
		return nil, fmt.Errorf("log_timezone: %w", err)
	}
	return loc, nil
}

// PriceCachePath returns the price cache file, defaulting to
// <config dir>/prices.json.
func (c *Config) PriceCachePath() string {
	return orDefault(c.Prices.CachePath, "prices.json")
}

// HistoryDBPath returns the ended-session database, defaulting to
// <config dir>/history.db.
func (c *Config) HistoryDBPath() string {
	return orDefault(c.History.DBPath, "history.db")
}

// JournalDir returns the event journal directory, defaulting to
// <config dir>/journal.
func (c *Config) JournalDir() string {
	return orDefault(c.Journal.Dir, "journal")
}

// StatsPerSecond returns the relay stats rate limit.
func (c *Config) StatsPerSecond() float64 {
	if c.Relay.StatsPerSecond == 0 {
		return defaultStatsPerSecond
	}
	return c.Relay.StatsPerSecond
}

func orDefault(path, name string) string {
	if path != "" {
		return expandHome(path)
	}
	return filepath.Join(ConfigDir(), name)
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
