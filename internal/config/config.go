package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the configuration file is looked up when none is given
const DefaultPath = "config/config.yaml"

type Config struct {
	Server    Server    `yaml:"server"`
	Sync      Sync      `yaml:"sync"`
	Dist      Dist      `yaml:"dist"`
	Storage   Storage   `yaml:"storage"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Log       Log       `yaml:"log"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Sync struct {
	Interval time.Duration `yaml:"interval"`
	Workers  int           `yaml:"workers"`
	Limit    int           `yaml:"limit"` // 0 means no limit
	Force    bool          `yaml:"force"`
}

type Dist struct {
	BaseURL       string        `yaml:"base_url"`
	ManifestsPath string        `yaml:"manifests_path"`
	Timeout       time.Duration `yaml:"timeout"`      // per manifest
	ListTimeout   time.Duration `yaml:"list_timeout"` // manifest list
	RPS           float64       `yaml:"rps"`          // outbound, 0 disables
	Burst         int           `yaml:"burst"`
}

type Storage struct {
	Path string `yaml:"path"` // SQLite database file
}

type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type Log struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Filename   string `yaml:"filename"`    // optional log file path
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // number of backups
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`    // compress rotated files
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: Server{Port: 8080},
		Sync: Sync{
			Interval: time.Hour,
			Workers:  8,
		},
		Dist: Dist{
			BaseURL:       "https://static.rust-lang.org",
			ManifestsPath: "manifests.txt",
			Timeout:       60 * time.Second,
			ListTimeout:   30 * time.Second,
			Burst:         1,
		},
		Storage:   Storage{Path: "./rust_versions.sqlite3"},
		RateLimit: RateLimit{RPS: 10, Burst: 20},
		Log: Log{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// Load loads the configuration from the default config file
func Load() (*Config, error) {
	return LoadFromFile(DefaultPath)
}

// LoadFromFile loads the configuration from the specified file. A missing
// file yields the defaults. Environment overrides are applied last.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML on top of the defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// applyEnv applies RUSTDIST_DATABASE, RUSTDIST_WORKERS and LOG_LEVEL
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("RUSTDIST_DATABASE"); ok && v != "" {
		c.Storage.Path = v
	}
	if v, ok := lookup("RUSTDIST_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RUSTDIST_WORKERS %q: %w", v, err)
		}
		c.Sync.Workers = n
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks values that would make a run impossible
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	}
	if c.Sync.Limit < 0 {
		return fmt.Errorf("sync.limit must not be negative, got %d", c.Sync.Limit)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
