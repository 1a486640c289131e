// Package config handles configuration loading from CLI flags, environment variables, and TOML or YAML files.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the snippets server.
type Config struct {
	Server  ServerConfig  `toml:"server" yaml:"server"`
	Storage StorageConfig `toml:"storage" yaml:"storage"`
	Cache   CacheConfig   `toml:"cache" yaml:"cache"`
	Notice  NoticeConfig  `toml:"notice" yaml:"notice"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`

	log *logState
}

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`
	Dir  string `toml:"-" yaml:"-"` // Site directory (CLI only, not in config file)
}

// StorageConfig holds storage-related settings.
type StorageConfig struct {
	Type   string `toml:"type" yaml:"type"`     // "memory", "sqlite", "postgresql"
	Driver string `toml:"driver" yaml:"driver"` // SQLite driver: "sqlite3" (cgo) or "sqlite" (pure Go)
	Path   string `toml:"path" yaml:"path"`     // SQLite file path
	URL    string `toml:"url" yaml:"url"`       // PostgreSQL connection URL
}

// CacheConfig holds asset cache settings.
type CacheConfig struct {
	Name   string   `toml:"name" yaml:"name"`     // Versioned cache name; bump to evict old generations
	Dir    string   `toml:"dir" yaml:"dir"`       // Directory holding one subdirectory per generation
	Paths  []string `toml:"paths" yaml:"paths"`   // Allow-list of cached site paths
	Origin string   `toml:"origin" yaml:"origin"` // Upstream base URL; empty means the site itself
}

// NoticeConfig holds user notice settings.
type NoticeConfig struct {
	TTL Duration `toml:"ttl" yaml:"ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `toml:"level" yaml:"level"`         // "debug", "info", "warn", "error"
	Verbosity int    `toml:"verbosity" yaml:"verbosity"` // 0=none, 1=requests, 2=storage, 3=cache
	Format    string `toml:"format" yaml:"format"`       // "console" or "json"
}

// Duration is a time.Duration that can be unmarshaled from TOML and YAML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultPaths is the asset allow-list cached when none is configured.
var DefaultPaths = []string{"./", "./style.css", "./app.js"}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Storage: StorageConfig{
			Type:   "sqlite",
			Driver: "sqlite3",
			Path:   "BancoDeCodigos.db",
		},
		Cache: CacheConfig{
			Name:  "snippets-cache-v1",
			Dir:   ".cache",
			Paths: append([]string(nil), DefaultPaths...),
		},
		Notice: NoticeConfig{
			TTL: Duration(1500 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		log: &logState{},
	}
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("dir", "", "Serve from directory instead of embedded site")
	fs.String("config", "", "Config file (default: config/config.toml or config/config.yaml)")

	fs.String("host", "", "Listen address")
	fs.Int("port", 0, "Listen port")

	fs.String("storage", "", "Storage type: memory, sqlite, postgresql")
	fs.String("storage-driver", "", "SQLite driver: sqlite3 or sqlite")
	fs.String("storage-path", "", "SQLite database path")
	fs.String("storage-url", "", "PostgreSQL connection URL")

	fs.String("cache-name", "", "Versioned asset cache name")
	fs.String("cache-dir", "", "Asset cache directory")
	fs.String("cache-origin", "", "Upstream base URL for cached assets")

	fs.Duration("notice-ttl", 0, "How long user notices stay visible")

	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.String("log-format", "", "Log format: console, json")
	fs.CountP("verbose", "v", "Verbosity level (use -v, -vv, or -vvv)")
}

// Load loads configuration from flags, environment variables, and the config file.
// Priority: flags > env vars > file > defaults. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()

	dir := flagString(fs, "dir")
	path := flagString(fs, "config")
	if path == "" {
		path = findConfigFile(dir)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.applyEnv()
	if err := cfg.applyFlags(fs); err != nil {
		return nil, err
	}
	cfg.Server.Dir = dir
	if len(cfg.Cache.Paths) == 0 {
		cfg.Cache.Paths = append([]string(nil), DefaultPaths...)
	}

	return cfg, nil
}

// findConfigFile returns the first config file present under dir/config.
func findConfigFile(dir string) string {
	base := filepath.Join(dir, "config")
	for _, name := range []string{"config.toml", "config.yaml", "config.yml"} {
		p := filepath.Join(base, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadFile loads configuration from a TOML or YAML file, chosen by extension.
func (c *Config) loadFile(path string) error {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(data, c)
	default:
		_, err := toml.DecodeFile(path, c)
		return err
	}
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("SNIPPETS_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SNIPPETS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SNIPPETS_STORAGE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("SNIPPETS_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("SNIPPETS_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SNIPPETS_STORAGE_URL"); v != "" {
		c.Storage.URL = v
	}
	if v := os.Getenv("SNIPPETS_CACHE_NAME"); v != "" {
		c.Cache.Name = v
	}
	if v := os.Getenv("SNIPPETS_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("SNIPPETS_CACHE_ORIGIN"); v != "" {
		c.Cache.Origin = v
	}
	if v := os.Getenv("SNIPPETS_NOTICE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Notice.TTL = Duration(d)
		}
	}
	if v := os.Getenv("SNIPPETS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SNIPPETS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("SNIPPETS_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
}

// applyFlags applies the flags that were set explicitly.
func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	var errs []error
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			v, err := fs.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("host", &c.Server.Host)
	str("storage", &c.Storage.Type)
	str("storage-driver", &c.Storage.Driver)
	str("storage-path", &c.Storage.Path)
	str("storage-url", &c.Storage.URL)
	str("cache-name", &c.Cache.Name)
	str("cache-dir", &c.Cache.Dir)
	str("cache-origin", &c.Cache.Origin)
	str("log-level", &c.Logging.Level)
	str("log-format", &c.Logging.Format)

	if fs.Changed("port") {
		port, err := fs.GetInt("port")
		errs = append(errs, err)
		c.Server.Port = port
	}
	if fs.Changed("notice-ttl") {
		ttl, err := fs.GetDuration("notice-ttl")
		errs = append(errs, err)
		c.Notice.TTL = Duration(ttl)
	}
	if fs.Changed("verbose") {
		v, err := fs.GetCount("verbose")
		errs = append(errs, err)
		c.Logging.Verbosity = v
	}
	return errors.Join(errs...)
}

// flagString returns a string flag, or "" when fs is nil or lacks it.
func flagString(fs *pflag.FlagSet, name string) string {
	if fs == nil || fs.Lookup(name) == nil {
		return ""
	}
	v, _ := fs.GetString(name)
	return v
}

// Verbosity returns the configured verbosity level.
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}
