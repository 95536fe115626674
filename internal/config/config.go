// Package config loads the cloda configuration file.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matta/cloda/internal/homedir"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendHTTP   = "http"
)

// Config is the cloda configuration.
type Config struct {
	Store StoreConfig `toml:"store"`
	Query QueryConfig `toml:"query"`
	Log   LogConfig   `toml:"log"`

	// Computed, not read from the file.
	HomeDir string `toml:"-"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend string `toml:"backend"` // "sqlite" or "http"

	// SQLite database file.
	Path string `toml:"path"`

	// HTTP store settings.
	URL          string  `toml:"url"`
	Token        string  `toml:"token"`
	APIKey       string  `toml:"api_key"`
	RateLimitQPS float64 `toml:"rate_limit_qps"`
	Trace        bool    `toml:"trace"`
}

// QueryConfig tunes conversation queries.
type QueryConfig struct {
	Timeout      Duration `toml:"timeout"`
	MaxTimestamp int64    `toml:"max_timestamp"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "duration %q", text)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultHome returns the cloda home directory: $CLODA_HOME, else
// ~/.cloda.
func DefaultHome() string {
	if h := os.Getenv("CLODA_HOME"); h != "" {
		return h
	}
	home, err := homedir.Get()
	if err != nil {
		return ".cloda"
	}
	return filepath.Join(home, ".cloda")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	homeDir := DefaultHome()
	return &Config{
		HomeDir: homeDir,
		Store: StoreConfig{
			Backend:      BackendSQLite,
			Path:         filepath.Join(homeDir, "cloda.db"),
			RateLimitQPS: 10,
		},
		Query: QueryConfig{
			Timeout:      Duration{30 * time.Second},
			MaxTimestamp: 4000000000,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the configuration at path over the defaults.  An empty
// path means config.toml in the home directory; a missing file is not
// an error.  Unknown keys are.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = filepath.Join(cfg.HomeDir, "config.toml")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	if cfg.Store.Path, err = homedir.Expand(cfg.Store.Path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks the settings that have no usable fallback.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite backend")
		}
	case BackendHTTP:
		if c.Store.URL == "" {
			return errors.New("store.url is required for the http backend")
		}
	default:
		return errors.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Query.Timeout.Duration < 0 {
		return errors.Errorf("negative query.timeout %v", c.Query.Timeout)
	}
	if c.Query.MaxTimestamp <= 0 {
		return errors.Errorf("query.max_timestamp must be positive, got %d", c.Query.MaxTimestamp)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses the configured log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, errors.Wrapf(err, "log.level %q", l.Level)
	}
	return level, nil
}
