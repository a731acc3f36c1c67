package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Archive  Archive  `yaml:"archive"`
	Batch    Batch    `yaml:"batch"`
	Cache    Cache    `yaml:"cache"`
	Output   Output   `yaml:"output"`
	Postgres Postgres `yaml:"postgres"`
	Metrics  Metrics  `yaml:"metrics"`
	Schedule Schedule `yaml:"schedule"`
	Logging  Logging  `yaml:"logging"`
}

type Archive struct {
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	Pages     int           `yaml:"pages"`
	Delay     float64       `yaml:"delay"` // seconds
}

type Batch struct {
	OnError string        `yaml:"on_error"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type Cache struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir"`
	TTL     time.Duration `yaml:"ttl"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Postgres struct {
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

type Schedule struct {
	Cron string `yaml:"cron"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for shipstats.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "shipstats")
}

// DataDir returns the XDG data directory for shipstats.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "shipstats")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/shipstats/config.yaml > ./config.yaml
// It returns "" when no file exists and none was asked for.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// LoadOrDefault resolves and loads the config, falling back to built-in
// defaults when there is no file. It returns the path actually used.
func LoadOrDefault(explicit string) (*Config, string, error) {
	path, err := ResolveConfigPath(explicit)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		cfg, err := parse(nil)
		return cfg, "", err
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Archive: Archive{
			BaseURL:   "https://archiveofourown.org",
			UserAgent: "shipstats/1.0 (+https://github.com/TobiSchelling/shipstats)",
			Timeout:   30 * time.Second,
			Pages:     1,
			Delay:     1.0,
		},
		Batch: Batch{
			OnError: "abort",
			LockTTL: 10 * time.Minute,
		},
		Cache:    Cache{TTL: 24 * time.Hour},
		Postgres: Postgres{Schema: "public"},
		Schedule: Schedule{Cron: "@daily"},
		Logging:  Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Override copies every non-zero field of o over c.
func (c *Config) Override(o Config) error {
	if err := mergo.Merge(c, o, mergo.WithOverride); err != nil {
		return fmt.Errorf("applying overrides: %w", err)
	}
	return nil
}

// Validate checks the values a run depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Archive.Pages < 1 {
		errs = append(errs, fmt.Errorf("archive.pages must be at least 1, got %d", c.Archive.Pages))
	}
	if c.Archive.Delay <= 0 {
		errs = append(errs, fmt.Errorf("archive.delay must be positive, got %g", c.Archive.Delay))
	}
	if c.Archive.BaseURL == "" {
		errs = append(errs, errors.New("archive.base_url is empty"))
	}
	switch c.Batch.OnError {
	case "abort", "skip":
	default:
		errs = append(errs, fmt.Errorf("batch.on_error must be abort or skip, got %q", c.Batch.OnError))
	}
	return errors.Join(errs...)
}

// DelayDuration returns the request delay as a duration.
func (c *Config) DelayDuration() time.Duration {
	return time.Duration(c.Archive.Delay * float64(time.Second))
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetCacheDir returns the page cache directory.
func (c *Config) GetCacheDir() string {
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	return filepath.Join(c.GetDataDir(), "cache")
}

// DatabasePath returns the run history database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "shipstats.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
