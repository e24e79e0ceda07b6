package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/query"
)

//go:embed config.toml.sample
var configTemplate string

const appName = "oaweb"

// Backend names accepted by the backend setting.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

type Config struct {
	DatasetDir string       `toml:"dataset_dir"`
	IndexPath  string       `toml:"index_path,omitempty"`
	Backend    string       `toml:"backend"`
	SQLitePath string       `toml:"sqlite_path"`
	Server     ServerConfig `toml:"server"`
	Limits     LimitsConfig `toml:"limits"`
}

type ServerConfig struct {
	Host         string   `toml:"host"`
	Port         int      `toml:"port"`
	CacheTTL     Duration `toml:"cache_ttl"`
	CacheSize    int      `toml:"cache_size"`
	QueryTimeout Duration `toml:"query_timeout"`
	// RateLimit is the sustained number of requests per second allowed per
	// client address. Zero disables rate limiting.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
	// Compress enables gzip compression of API responses.
	Compress *bool `toml:"compress,omitempty"`
	// Watch reloads the dataset when files in dataset_dir change.
	Watch *bool `toml:"watch,omitempty"`
}

type LimitsConfig struct {
	TableMinLimit     int   `toml:"table_min_limit"`
	TableMaxLimit     int   `toml:"table_max_limit"`
	TableDefaultLimit int   `toml:"table_default_limit"`
	SearchMinLimit    int   `toml:"search_min_limit"`
	SearchMaxLimit    int   `toml:"search_max_limit"`
	SearchDefault     int   `toml:"search_default_limit"`
	MinNOutputs       int64 `toml:"min_n_outputs"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// GetDefaultConfig returns the configuration used when no file exists.
func GetDefaultConfig() (*Config, error) {
	cfg := &Config{}
	if err := cfg.fillDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.fillDefaults(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return &config, nil
}

func (c *Config) fillDefaults() error {
	if c.DatasetDir == "" {
		dataDir, err := GetDefaultStorageDir()
		if err != nil {
			return fmt.Errorf("getting default storage directory: %w", err)
		}
		c.DatasetDir = filepath.Join(dataDir, "data")
	}
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.SQLitePath == "" {
		dbPath, err := GetDefaultDBPath()
		if err != nil {
			return err
		}
		c.SQLitePath = dbPath
	}

	s := &c.Server
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.Port == 0 {
		s.Port = 8787
	}
	if s.CacheTTL.Duration == 0 {
		s.CacheTTL = Duration{7 * 24 * time.Hour}
	}
	if s.CacheSize == 0 {
		s.CacheSize = 4096
	}
	if s.QueryTimeout.Duration == 0 {
		s.QueryTimeout = Duration{5 * time.Second}
	}
	if s.RateLimit > 0 && s.RateBurst == 0 {
		s.RateBurst = int(s.RateLimit * 2)
	}

	l := &c.Limits
	if l.TableMinLimit == 0 {
		l.TableMinLimit = query.TablePageLimits.MinLimit
	}
	if l.TableMaxLimit == 0 {
		l.TableMaxLimit = query.TablePageLimits.MaxLimit
	}
	if l.TableDefaultLimit == 0 {
		l.TableDefaultLimit = query.TablePageLimits.DefaultLimit
	}
	if l.SearchMinLimit == 0 {
		l.SearchMinLimit = query.SearchPageLimits.MinLimit
	}
	if l.SearchMaxLimit == 0 {
		l.SearchMaxLimit = query.SearchPageLimits.MaxLimit
	}
	if l.SearchDefault == 0 {
		l.SearchDefault = query.SearchPageLimits.DefaultLimit
	}
	return nil
}

// Validate reports settings that cannot be served.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend != BackendMemory && c.Backend != BackendSQLite {
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendMemory, BackendSQLite, c.Backend))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	check := func(name string, lo, hi, def int) {
		if lo < 1 || hi < lo || def < lo || def > hi {
			errs = append(errs, fmt.Errorf("limits: %s bounds must satisfy 1 <= min <= default <= max (got %d/%d/%d)", name, lo, def, hi))
		}
	}
	check("table", c.Limits.TableMinLimit, c.Limits.TableMaxLimit, c.Limits.TableDefaultLimit)
	check("search", c.Limits.SearchMinLimit, c.Limits.SearchMaxLimit, c.Limits.SearchDefault)
	if c.Limits.MinNOutputs < 0 {
		errs = append(errs, errors.New("limits.min_n_outputs must not be negative"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ResolvedIndexPath returns the index export location, defaulting to the
// dataset directory.
func (c *Config) ResolvedIndexPath() string {
	if c.IndexPath != "" {
		return c.IndexPath
	}
	return filepath.Join(c.DatasetDir, "index.msgpack.zst")
}

// CompressionEnabled reports whether API responses are gzip compressed.
func (c *Config) CompressionEnabled() bool {
	return c.Server.Compress == nil || *c.Server.Compress
}

// WatchEnabled reports whether the dataset directory is watched for changes.
func (c *Config) WatchEnabled() bool {
	return c.Server.Watch == nil || *c.Server.Watch
}

// QueryLimits returns the range clamping domains.
func (c *Config) QueryLimits() query.Limits {
	return query.Limits{MinNOutputs: c.Limits.MinNOutputs}
}

// TablePageLimits returns the paging bounds of country and institution tables.
func (c *Config) TablePageLimits() query.PageLimits {
	return query.PageLimits{
		MinLimit:       c.Limits.TableMinLimit,
		MaxLimit:       c.Limits.TableMaxLimit,
		DefaultLimit:   c.Limits.TableDefaultLimit,
		DefaultOrderBy: query.TablePageLimits.DefaultOrderBy,
	}
}

// SearchPageLimits returns the paging bounds of search results.
func (c *Config) SearchPageLimits() query.PageLimits {
	return query.PageLimits{
		MinLimit:       c.Limits.SearchMinLimit,
		MaxLimit:       c.Limits.SearchMaxLimit,
		DefaultLimit:   c.Limits.SearchDefault,
		DefaultOrderBy: query.SearchPageLimits.DefaultOrderBy,
	}
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	template := c.generateConfigTemplate()
	return os.WriteFile(configPath, []byte(template), 0644)
}

func (c *Config) generateConfigTemplate() string {
	r := strings.NewReplacer(
		"/home/user/.local/share/oaweb/data", c.DatasetDir,
		"/home/user/.local/share/oaweb/oaweb.db", c.SQLitePath,
	)
	return r.Replace(configTemplate)
}

// GetDefaultStorageDir returns the default storage directory for databases
func GetDefaultStorageDir() (string, error) {
	// Use XDG_DATA_HOME if set, otherwise use ~/.local/share
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	appDir := filepath.Join(dataDir, appName)
	if err := os.MkdirAll(appDir, 0755); err != nil {
		return "", fmt.Errorf("creating storage directory %s: %w", appDir, err)
	}

	return appDir, nil
}

// GetDefaultDBPath returns the default database path in the user's data directory
func GetDefaultDBPath() (string, error) {
	storageDir, err := GetDefaultStorageDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(storageDir, appName+".db"), nil
}

// GetConfigDir returns the configuration directory
func GetConfigDir() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	appConfigDir := filepath.Join(configDir, appName)
	if err := os.MkdirAll(appConfigDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", appConfigDir, err)
	}

	return appConfigDir, nil
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
