// Package config handles NornicDB's storage-engine configuration via
// environment variables and, optionally, a YAML file on disk.
//
// Configuration is loaded from environment variables using LoadFromEnv()
// and can be validated with Validate() before being handed to
// storage.Open via ToStorageConfig(). A YAML file produced by the "init"
// CLI subcommand can also seed defaults through LoadFromFile.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//	db, err := storage.Open(cfg.ToStorageConfig())
//
// Environment Variables:
//
//	NORNICDB_DATA_DIR=./data
//	NORNICDB_STORAGE_MODE=IN_MEMORY_TRANSACTIONAL | IN_MEMORY_ANALYTICAL
//	NORNICDB_PROPERTIES_ON_EDGES=true
//	NORNICDB_MAX_PROPERTY_VALUE_BYTES=1MB
//	NORNICDB_DEFAULT_ISOLATION=SNAPSHOT_ISOLATION | READ_COMMITTED | READ_UNCOMMITTED
//	NORNICDB_WAL_ENABLED=true
//	NORNICDB_WAL_FILE_SIZE_BYTES=64MB
//	NORNICDB_WAL_FLUSH_EVERY=100ms
//	NORNICDB_WAL_INDEX_ENABLED=false
//	NORNICDB_SNAPSHOT_INTERVAL=5m
//	NORNICDB_SNAPSHOT_RETENTION=3
//	NORNICDB_GC_INTERVAL=1s
//	NORNICDB_LOG_LEVEL=info
//	NORNICDB_LOG_FORMAT=json | text
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/nornicdb/pkg/storage"
)

// StorageConfig mirrors storage.Config field-for-field so it can be
// loaded from the environment (or a YAML file) independently of the
// storage package's own zero-value defaulting, and round-tripped to/from
// disk for the "init" subcommand.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`

	StorageMode           string `yaml:"storage_mode"`
	PropertiesOnEdges     bool   `yaml:"properties_on_edges"`
	MaxPropertyValueBytes int64  `yaml:"max_property_value_bytes"`
	DefaultIsolation      string `yaml:"default_isolation"`

	WALEnabled        bool          `yaml:"wal_enabled"`
	WALFileSizeBytes  int64         `yaml:"wal_file_size_bytes"`
	WALFlushEvery     time.Duration `yaml:"wal_flush_every"`
	WALIndexEnabled   bool          `yaml:"wal_index_enabled"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	SnapshotRetention int           `yaml:"snapshot_retention"`
	GCInterval        time.Duration `yaml:"gc_interval"`
}

// LoggingConfig controls the teacher-style structured logger cmd/nornicdb
// sets up at startup. Storage itself stays silent (spec.md's boundary:
// storage reports errors, not logs); logging is strictly an ambient,
// CLI-level concern layered on top.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Config is the top-level settings object LoadFromEnv/LoadFromFile
// produce.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the settings a bare `nornicdb init` writes out,
// matching storage.DefaultConfig's values so the two never drift apart
// silently.
func DefaultConfig() *Config {
	d := storage.DefaultConfig()
	return &Config{
		Storage: StorageConfig{
			DataDir:               "./data",
			StorageMode:           storage.StorageModeTransactional.String(),
			PropertiesOnEdges:     d.PropertiesOnEdges,
			MaxPropertyValueBytes: int64(d.MaxPropertyValueBytes),
			DefaultIsolation:      d.DefaultIsolation.String(),
			WALEnabled:            d.WALEnabled,
			WALFileSizeBytes:      d.WALFileSizeBytes,
			WALFlushEvery:         d.WALFlushEvery,
			WALIndexEnabled:       false,
			SnapshotInterval:      d.SnapshotInterval,
			SnapshotRetention:     d.SnapshotRetention,
			GCInterval:            d.GCInterval,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromEnv reads every NORNICDB_* variable documented in the package
// doc comment, falling back to DefaultConfig's values for anything unset.
func LoadFromEnv() *Config {
	c := DefaultConfig()

	c.Storage.DataDir = getEnv("NORNICDB_DATA_DIR", c.Storage.DataDir)
	c.Storage.StorageMode = getEnv("NORNICDB_STORAGE_MODE", c.Storage.StorageMode)
	c.Storage.PropertiesOnEdges = getEnvBool("NORNICDB_PROPERTIES_ON_EDGES", c.Storage.PropertiesOnEdges)
	c.Storage.MaxPropertyValueBytes = getEnvMemorySize("NORNICDB_MAX_PROPERTY_VALUE_BYTES", c.Storage.MaxPropertyValueBytes)
	c.Storage.DefaultIsolation = getEnv("NORNICDB_DEFAULT_ISOLATION", c.Storage.DefaultIsolation)

	c.Storage.WALEnabled = getEnvBool("NORNICDB_WAL_ENABLED", c.Storage.WALEnabled)
	c.Storage.WALFileSizeBytes = getEnvMemorySize("NORNICDB_WAL_FILE_SIZE_BYTES", c.Storage.WALFileSizeBytes)
	c.Storage.WALFlushEvery = getEnvDuration("NORNICDB_WAL_FLUSH_EVERY", c.Storage.WALFlushEvery)
	c.Storage.WALIndexEnabled = getEnvBool("NORNICDB_WAL_INDEX_ENABLED", c.Storage.WALIndexEnabled)
	c.Storage.SnapshotInterval = getEnvDuration("NORNICDB_SNAPSHOT_INTERVAL", c.Storage.SnapshotInterval)
	c.Storage.SnapshotRetention = getEnvInt("NORNICDB_SNAPSHOT_RETENTION", c.Storage.SnapshotRetention)
	c.Storage.GCInterval = getEnvDuration("NORNICDB_GC_INTERVAL", c.Storage.GCInterval)

	c.Logging.Level = getEnv("NORNICDB_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("NORNICDB_LOG_FORMAT", c.Logging.Format)

	return c
}

// LoadFromFile reads a YAML config file written by "nornicdb init" (or
// hand-edited), layering it over DefaultConfig for any field the file
// omits.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return c, nil
}

// SaveToFile writes c as YAML to path; it does not create parent
// directories. Used by "nornicdb init" (which creates the data directory
// first) to leave behind a config that later subcommands' --config flag
// (or any storage.Open caller) can start from.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings storage.Open would otherwise have to reject
// at a less helpful layer, per spec.md §9's "snapshot_retention_count=0
// is a configuration error" decision and the isolation/storage-mode
// enums' closed value sets.
func (c *Config) Validate() error {
	if c.Storage.DataDir != "" {
		if c.Storage.SnapshotRetention <= 0 {
			return fmt.Errorf("storage.snapshot_retention must be positive when data_dir is set, got %d", c.Storage.SnapshotRetention)
		}
	}
	if _, ok := storage.ParseIsolationLevel(c.Storage.DefaultIsolation); !ok {
		return fmt.Errorf("storage.default_isolation %q is not a recognized isolation level", c.Storage.DefaultIsolation)
	}
	switch strings.ToUpper(c.Storage.StorageMode) {
	case "IN_MEMORY_TRANSACTIONAL", "IN_MEMORY_ANALYTICAL":
	default:
		return fmt.Errorf("storage.storage_mode %q must be IN_MEMORY_TRANSACTIONAL or IN_MEMORY_ANALYTICAL", c.Storage.StorageMode)
	}
	if c.Storage.MaxPropertyValueBytes <= 0 {
		return fmt.Errorf("storage.max_property_value_bytes must be positive")
	}
	return nil
}

// ToStorageConfig translates the loaded settings into storage.Config,
// resolving the string-typed isolation level and storage mode enums.
func (c *Config) ToStorageConfig() storage.Config {
	isolation, _ := storage.ParseIsolationLevel(c.Storage.DefaultIsolation)
	mode := storage.StorageModeTransactional
	if strings.EqualFold(c.Storage.StorageMode, "IN_MEMORY_ANALYTICAL") {
		mode = storage.StorageModeAnalytical
	}
	return storage.Config{
		DataDir:               c.Storage.DataDir,
		StorageMode:           mode,
		PropertiesOnEdges:     c.Storage.PropertiesOnEdges,
		MaxPropertyValueBytes: int(c.Storage.MaxPropertyValueBytes),
		DefaultIsolation:      isolation,
		WALEnabled:            c.Storage.WALEnabled,
		WALFileSizeBytes:      c.Storage.WALFileSizeBytes,
		WALFlushEvery:         c.Storage.WALFlushEvery,
		WALIndexEnabled:       c.Storage.WALIndexEnabled,
		SnapshotInterval:      c.Storage.SnapshotInterval,
		SnapshotRetention:     c.Storage.SnapshotRetention,
		GCInterval:            c.Storage.GCInterval,
	}
}

// String renders a human-readable summary, logged by the CLI each time a
// subcommand opens storage.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "data_dir=%s mode=%s isolation=%s wal=%v snapshot_every=%s retain=%d\n",
		c.Storage.DataDir, c.Storage.StorageMode, c.Storage.DefaultIsolation,
		c.Storage.WALEnabled, c.Storage.SnapshotInterval, c.Storage.SnapshotRetention)
	return b.String()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvMemorySize(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n := parseMemorySize(val); n > 0 {
			return n
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited".
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as a human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
