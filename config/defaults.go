// Package config provides configuration loading and defaults for the
// tickvault application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultRoot is the base directory of the partitioned store. The
	// run lock, registry, and all partition trees live under it.
	// Override via config: root
	DefaultRoot = "/var/lib/tickvault"

	// DefaultDataset is the dataset name used in partition directories
	// (<dataset>_<interval>).
	// Override via config: dataset
	DefaultDataset = "bars"
)

// =============================================================================
// Upstream Source Defaults
// =============================================================================

const (
	// DefaultBaseURL is the upstream chart API endpoint.
	// Override via config: source.base_url
	DefaultBaseURL = "http://localhost:8642"

	// DefaultRequestTimeout bounds one upstream HTTP request.
	// Override via config: source.request_timeout
	DefaultRequestTimeout = 30 * time.Second

	// DefaultRequestsPerMinute paces upstream requests. Zero disables
	// pacing.
	// Override via config: source.requests_per_minute
	DefaultRequestsPerMinute = 60
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDurability selects the fsync policy for partition commits.
	//   best_effort - log and continue when fsync fails
	//   strict      - fail the save when fsync fails
	// Override via config: storage.durability
	DefaultDurability = "best_effort"

	// DefaultCompression is the Parquet compression algorithm.
	//   zstd   - best ratio, good speed (recommended)
	//   snappy - fast, moderate ratio
	//   lz4    - fastest, lowest ratio
	//   gzip   - widest compatibility
	//   none   - no compression
	// Override via config: storage.compression
	DefaultCompression = "zstd"

	// DefaultCompressionLevel is the compression level (zstd: 1-22).
	// Override via config: storage.compression_level
	DefaultCompressionLevel = 3

	// DefaultReadConcurrency bounds parallel partition loads per read.
	// Override via config: storage.read_concurrency
	DefaultReadConcurrency = 4
)

// =============================================================================
// Run Lock Defaults
// =============================================================================

const (
	// DefaultStaleAfter is the age past which a run lock whose owner
	// cannot be verified is considered abandoned and reclaimed.
	// Override via config: lock.stale_after
	DefaultStaleAfter = time.Hour
)

// =============================================================================
// Registry Defaults
// =============================================================================

const (
	// DefaultMaxFailures is how many consecutive fetch failures put a
	// (ticker, interval) pair into cooldown.
	// Override via config: registry.max_failures
	DefaultMaxFailures = 3

	// DefaultCooldown is how long a cooled pair sits out.
	// Override via config: registry.cooldown
	DefaultCooldown = time.Hour
)

// =============================================================================
// Logging Defaults
// =============================================================================

const (
	// DefaultLogLevel is the minimum level emitted.
	//   debug | info | warn | error
	// Override via config: log.level
	DefaultLogLevel = "info"

	// DefaultLogFormat selects the log encoding.
	//   auto - text on a terminal, JSON otherwise
	//   text - human-readable key=value lines
	//   json - one JSON object per line
	// Override via config: log.format
	DefaultLogFormat = "auto"
)
