// Package config provides the configuration of the fanoutlab services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "FANOUTLAB_"

// Config holds the configuration of the server binary.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir" env:"DATA_DIR"`

	HTTP    HTTPConfig    `json:"http" yaml:"http" envPrefix:"HTTP_"`
	GRPC    GRPCConfig    `json:"grpc" yaml:"grpc" envPrefix:"GRPC_"`
	Storage StorageConfig `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Broker  BrokerConfig  `json:"broker" yaml:"broker" envPrefix:"BROKER_"`
	Workers WorkersConfig `json:"workers" yaml:"workers" envPrefix:"WORKERS_"`
	Replay  ReplayConfig  `json:"replay" yaml:"replay" envPrefix:"REPLAY_"`
	Catalog CatalogConfig `json:"catalog" yaml:"catalog" envPrefix:"CATALOG_"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr" env:"ADDR"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	Addr    string `json:"addr" yaml:"addr" env:"ADDR"`
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" env:"TYPE"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path" env:"PATH"`

	S3 S3Config `json:"s3" yaml:"s3" envPrefix:"S3_"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket string `json:"bucket" yaml:"bucket" env:"BUCKET"`
	Region string `json:"region" yaml:"region" env:"REGION"`

	// Endpoint is the S3 endpoint (for LocalStack and other S3-compatible stores)
	Endpoint     string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// BrokerConfig configures the in-process topic and queues.
type BrokerConfig struct {
	Topic             string        `json:"topic" yaml:"topic" env:"TOPIC"`
	MaxReceiveCount   int           `json:"max_receive_count" yaml:"max_receive_count" env:"MAX_RECEIVE_COUNT"`
	VisibilityTimeout time.Duration `json:"visibility_timeout" yaml:"visibility_timeout" env:"VISIBILITY_TIMEOUT"`
}

// WorkersConfig configures the fanout consumers.
type WorkersConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled" env:"ENABLED"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" env:"POLL_INTERVAL"`
	BatchSize    int           `json:"batch_size" yaml:"batch_size" env:"BATCH_SIZE"`
}

// ReplayConfig configures replay playback.
type ReplayConfig struct {
	// DefaultSpeed is the auto-play interval used when a request names none
	DefaultSpeed time.Duration `json:"default_speed" yaml:"default_speed" env:"DEFAULT_SPEED"`
	// MinSpeed is the lower clamp of the auto-play interval
	MinSpeed    time.Duration `json:"min_speed" yaml:"min_speed" env:"MIN_SPEED"`
	MaxSessions int           `json:"max_sessions" yaml:"max_sessions" env:"MAX_SESSIONS"`
}

// CatalogConfig configures the correlation id index.
type CatalogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Path    string `json:"path" yaml:"path" env:"PATH"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/fanoutlab",
		HTTP: HTTPConfig{
			Addr:         ":4000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Storage: StorageConfig{
			Type: "local",
			S3: S3Config{
				Bucket:       "demo-data",
				Region:       "us-east-1",
				UsePathStyle: true,
			},
		},
		Broker: BrokerConfig{
			Topic:             "demo-fanout-topic",
			MaxReceiveCount:   3,
			VisibilityTimeout: 30 * time.Second,
		},
		Workers: WorkersConfig{
			Enabled:      true,
			PollInterval: time.Second,
			BatchSize:    10,
		},
		Replay: ReplayConfig{
			DefaultSpeed: 850 * time.Millisecond,
			MinSpeed:     120 * time.Millisecond,
			MaxSessions:  64,
		},
		Catalog: CatalogConfig{
			Enabled: true,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/fanoutlab"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
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

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	if c.Broker.MaxReceiveCount < 1 {
		return fmt.Errorf("broker.max_receive_count must be at least 1, got %d", c.Broker.MaxReceiveCount)
	}

	if c.Workers.BatchSize < 1 || c.Workers.BatchSize > 10 {
		return fmt.Errorf("workers.batch_size must be between 1 and 10, got %d", c.Workers.BatchSize)
	}

	if c.Replay.MinSpeed <= 0 {
		return fmt.Errorf("replay.min_speed must be positive")
	}

	if c.Replay.DefaultSpeed < c.Replay.MinSpeed {
		return fmt.Errorf("replay.default_speed %s is below replay.min_speed %s", c.Replay.DefaultSpeed, c.Replay.MinSpeed)
	}

	if c.Replay.MaxSessions < 1 {
		return fmt.Errorf("replay.max_sessions must be at least 1, got %d", c.Replay.MaxSessions)
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

// LoadFromEnv overlays environment variables on cfg.
// Environment variables use the FANOUTLAB_ prefix, e.g. FANOUTLAB_HTTP_ADDR.
func LoadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.Catalog.Enabled {
		dirs = append(dirs, filepath.Dir(c.Catalog.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
