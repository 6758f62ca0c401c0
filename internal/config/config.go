// Package config provides unified configuration for Strata tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration shared by all Strata tools.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Writer configuration
	Writer WriterConfig `json:"writer" yaml:"writer"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// WriterConfig holds rowset writer configuration.
type WriterConfig struct {
	// MaxRowsPerSegment cuts a new segment past this row count (0 = unbounded)
	MaxRowsPerSegment int `json:"max_rows_per_segment" yaml:"max_rows_per_segment"`

	// MaxColumnsPerGroup bounds column-group width for vertical writes
	MaxColumnsPerGroup int `json:"max_columns_per_group" yaml:"max_columns_per_group"`

	// ChunkSize is the row count per read/write batch
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// ShipConcurrency is the number of parallel segment transfers
	ShipConcurrency int `json:"ship_concurrency" yaml:"ship_concurrency"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage backend: local or s3
	Type string `json:"type" yaml:"type"`

	// Path is the base directory for local storage
	Path string `json:"path" yaml:"path"`

	// S3 holds S3-specific configuration
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3-specific configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is an optional custom endpoint (MinIO, LocalStack)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/strata",
		Writer: WriterConfig{
			MaxRowsPerSegment:  1 << 20,
			MaxColumnsPerGroup: 5,
			ChunkSize:          4096,
			ShipConcurrency:    4,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/strata"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
}

// MetastorePath returns the path to the rowset catalog database.
func (c *Config) MetastorePath() string {
	return filepath.Join(c.DataDir, "metastore.db")
}

// TabletDir returns the data directory of one tablet.
func (c *Config) TabletDir(tabletID int64) string {
	return filepath.Join(c.DataDir, "tablets", strconv.FormatInt(tabletID, 10))
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}
	if c.Writer.MaxRowsPerSegment < 0 {
		return fmt.Errorf("writer.max_rows_per_segment must not be negative, got %d", c.Writer.MaxRowsPerSegment)
	}
	if c.Writer.MaxColumnsPerGroup < 1 {
		return fmt.Errorf("writer.max_columns_per_group must be at least 1, got %d", c.Writer.MaxColumnsPerGroup)
	}
	if c.Writer.ChunkSize < 1 {
		return fmt.Errorf("writer.chunk_size must be at least 1, got %d", c.Writer.ChunkSize)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the STRATA_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("STRATA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STRATA_MAX_ROWS_PER_SEGMENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Writer.MaxRowsPerSegment = n
		}
	}
	if v := os.Getenv("STRATA_MAX_COLUMNS_PER_GROUP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Writer.MaxColumnsPerGroup = n
		}
	}
	if v := os.Getenv("STRATA_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Writer.ChunkSize = n
		}
	}
	if v := os.Getenv("STRATA_SHIP_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Writer.ShipConcurrency = n
		}
	}
	if v := os.Getenv("STRATA_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("STRATA_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("STRATA_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("STRATA_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("STRATA_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// Load reads the optional config file, applies environment overrides and
// resolves derived paths.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	LoadFromEnv(cfg)
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDirectories creates the directories the config points at.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, filepath.Join(c.DataDir, "tablets")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if c.Storage.Type == "local" {
		if err := os.MkdirAll(c.Storage.Path, 0o755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return nil
}
