package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/layout"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for tickvault.
type Config struct {
	// Root is the base directory of the store. The run lock, the
	// registry document, and every partition tree live under it.
	Root string `yaml:"root"`

	// Dataset names the stored series, used in partition directories.
	Dataset string `yaml:"dataset"`

	// Log configures level and output format.
	Log LogConfig `yaml:"log"`

	// Source configures the upstream chart API.
	Source SourceConfig `yaml:"source"`

	// Storage configures partition commits and Parquet encoding.
	Storage StorageConfig `yaml:"storage"`

	// Lock configures the global run lock.
	Lock LockConfig `yaml:"lock"`

	// Registry configures fetch failure cooldowns.
	Registry RegistryConfig `yaml:"registry"`

	// Venues lists what a fetch pass covers.
	Venues []VenueConfig `yaml:"venues"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the minimum level emitted: debug|info|warn|error.
	// Default: info
	Level string `yaml:"level"`

	// Format is the log encoding: auto|text|json.
	// Default: auto (text on a terminal, JSON otherwise)
	Format string `yaml:"format"`
}

// SourceConfig configures the upstream source.
type SourceConfig struct {
	// BaseURL is the chart API endpoint.
	// Default: http://localhost:8642
	BaseURL string `yaml:"base_url"`

	// Token is sent as a bearer token when non-empty. Supports
	// environment expansion: token: ${TICKVAULT_TOKEN}
	Token string `yaml:"token"`

	// RequestTimeout bounds one HTTP request.
	// Default: 30s
	RequestTimeout Duration `yaml:"request_timeout"`

	// RequestsPerMinute paces requests. Zero disables pacing.
	// Default: 60
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	// Durability is the fsync policy: best_effort|strict.
	// Default: best_effort
	Durability string `yaml:"durability"`

	// Compression is the Parquet algorithm: zstd|snappy|lz4|gzip|none.
	// Default: zstd
	Compression string `yaml:"compression"`

	// CompressionLevel applies to algorithms that support it (zstd: 1-22).
	// Default: 3
	CompressionLevel int `yaml:"compression_level"`

	// ReadConcurrency bounds parallel partition loads per read.
	// Default: 4
	ReadConcurrency int `yaml:"read_concurrency"`
}

// LockConfig configures the global run lock.
type LockConfig struct {
	// StaleAfter is the age past which an unverifiable lock is
	// reclaimed.
	// Default: 1h
	StaleAfter Duration `yaml:"stale_after"`
}

// RegistryConfig configures the fetch registry.
type RegistryConfig struct {
	// MaxFailures is how many consecutive failures arm the cooldown.
	// Default: 3
	MaxFailures int `yaml:"max_failures"`

	// Cooldown is how long an armed pair sits out.
	// Default: 1h
	Cooldown Duration `yaml:"cooldown"`
}

// VenueConfig defines one (market, source) venue and its fetch set.
type VenueConfig struct {
	// Market is the venue's market segment, e.g. "us".
	Market string `yaml:"market"`

	// Source is the upstream data source name, e.g. "yahoo".
	Source string `yaml:"source"`

	// Intervals lists bar intervals to fetch, e.g. ["1d", "1h"].
	Intervals []string `yaml:"intervals"`

	// Tickers lists symbols to fetch.
	Tickers []string `yaml:"tickers"`
}

// ID returns the venue's "market:source" identity.
func (v VenueConfig) ID() string {
	return v.Market + ":" + v.Source
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config with documented defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Root:    DefaultRoot,
		Dataset: DefaultDataset,

		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},

		Source: SourceConfig{
			BaseURL:           DefaultBaseURL,
			RequestTimeout:    Duration(DefaultRequestTimeout),
			RequestsPerMinute: DefaultRequestsPerMinute,
		},

		Storage: StorageConfig{
			Durability:       DefaultDurability,
			Compression:      DefaultCompression,
			CompressionLevel: DefaultCompressionLevel,
			ReadConcurrency:  DefaultReadConcurrency,
		},

		Lock: LockConfig{
			StaleAfter: Duration(DefaultStaleAfter),
		},

		Registry: RegistryConfig{
			MaxFailures: DefaultMaxFailures,
			Cooldown:    Duration(DefaultCooldown),
		},
	}
}

// =============================================================================
// Load
// =============================================================================

// Load reads a YAML configuration file over the defaults. Environment
// variables in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	errs := errors.NewValidationErrors()

	if c.Root == "" {
		errs.AddField("root", "cannot be empty")
	}
	if c.Dataset == "" {
		errs.AddField("dataset", "cannot be empty")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs.AddField("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "auto", "text", "json":
	default:
		errs.AddField("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}

	if c.Source.BaseURL == "" {
		errs.AddField("source.base_url", "cannot be empty")
	}
	if c.Source.RequestTimeout.Duration() <= 0 {
		errs.AddField("source.request_timeout", "must be positive")
	}
	if c.Source.RequestsPerMinute < 0 {
		errs.AddField("source.requests_per_minute", "cannot be negative")
	}

	switch c.Storage.Durability {
	case "", "best_effort", "strict":
	default:
		errs.AddField("storage.durability", fmt.Sprintf("unknown policy %q", c.Storage.Durability))
	}
	switch c.Storage.Compression {
	case "", "none", "snappy", "zstd", "lz4", "gzip":
	default:
		errs.AddField("storage.compression", fmt.Sprintf("unknown algorithm %q", c.Storage.Compression))
	}
	if c.Storage.ReadConcurrency < 0 {
		errs.AddField("storage.read_concurrency", "cannot be negative")
	}

	if c.Registry.MaxFailures < 0 {
		errs.AddField("registry.max_failures", "cannot be negative")
	}

	seen := make(map[string]bool)
	for i, v := range c.Venues {
		field := func(name string) string {
			return fmt.Sprintf("venues[%d].%s", i, name)
		}
		if v.Market == "" {
			errs.AddField(field("market"), "cannot be empty")
		}
		if v.Source == "" {
			errs.AddField(field("source"), "cannot be empty")
		}
		if v.Market != "" && v.Source != "" {
			if seen[v.ID()] {
				errs.AddField(field("market"), fmt.Sprintf("duplicate venue %q", v.ID()))
			}
			seen[v.ID()] = true
		}
		if len(v.Intervals) == 0 {
			errs.AddField(field("intervals"), "at least one interval is required")
		}
		for _, interval := range v.Intervals {
			if _, err := layout.IntervalGranularity(interval); err != nil {
				errs.AddField(field("intervals"), fmt.Sprintf("unknown interval %q", interval))
			}
		}
		if len(v.Tickers) == 0 {
			errs.AddField(field("tickers"), "at least one ticker is required")
		}
		for _, ticker := range v.Tickers {
			if err := layout.ValidateTicker(ticker); err != nil {
				errs.AddField(field("tickers"), fmt.Sprintf("invalid ticker %q", ticker))
			}
		}
	}

	return errs.Err()
}

// EnsureDirectories creates the store root if it does not exist.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Root, 0755); err != nil {
		return fmt.Errorf("create root %s: %w", c.Root, err)
	}
	return nil
}

// RegistryPath returns the registry document location under the root.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Root, "registry.json")
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML as a
// duration string ("30s", "1h") or an integer number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
