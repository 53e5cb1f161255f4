package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds the resource database connection settings.
type DatabaseConfig struct {
	DBType          string `yaml:"db_type"` // only "mysql" is supported by the undo manager
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// CompressionConfig controls rollback_info body compression.
type CompressionConfig struct {
	Type           string `yaml:"type"` // "none", "snappy", "lz4", "zstd"
	ThresholdBytes int    `yaml:"threshold_bytes"`
}

// UndoConfig holds the undo log manager settings.
type UndoConfig struct {
	TableName      string            `yaml:"table_name"`
	Serialization  string            `yaml:"serialization"` // "json" or "msgpack"
	Compression    CompressionConfig `yaml:"compression"`
	DataValidation bool              `yaml:"data_validation"`
	// MaxRetries caps undo attempts after a lost tombstone race; 0 retries until the context ends.
	MaxRetries     int    `yaml:"max_retries"`
	RetryInterval  string `yaml:"retry_interval"`
	LogRetention   string `yaml:"log_retention"`
	PurgeInterval  string `yaml:"purge_interval"`
	PurgeBatchSize int    `yaml:"purge_batch_size"`
}

// AsyncCommitConfig holds the phase-two commit queue settings.
type AsyncCommitConfig struct {
	QueueSize     int    `yaml:"queue_size"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval string `yaml:"flush_interval"`
}

// TableMetaConfig holds the table meta cache settings.
type TableMetaConfig struct {
	CacheCapacity int    `yaml:"cache_capacity"`
	LoadTimeout   string `yaml:"load_timeout"` // bound on one information_schema load, e.g. "10s"
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// Config is the top-level configuration struct.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Undo        UndoConfig        `yaml:"undo"`
	AsyncCommit AsyncCommitConfig `yaml:"async_commit"`
	TableMeta   TableMetaConfig   `yaml:"table_meta"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			DBType:          "mysql",
			DSN:             "root:root@tcp(127.0.0.1:3306)/seata?parseTime=true",
			MaxOpenConns:    32,
			MaxIdleConns:    8,
			ConnMaxLifetime: "30m",
		},
		Undo: UndoConfig{
			TableName:     "undo_log",
			Serialization: "json",
			Compression: CompressionConfig{
				Type:           "zstd",
				ThresholdBytes: 64 * 1024, // 64 KiB
			},
			DataValidation: true,
			MaxRetries:     0,
			RetryInterval:  "10ms",
			LogRetention:   "168h", // 7 days
			PurgeInterval:  "1h",
			PurgeBatchSize: 1000,
		},
		AsyncCommit: AsyncCommitConfig{
			QueueSize:     10000,
			BatchSize:     1000,
			FlushInterval: "1s",
		},
		TableMeta: TableMetaConfig{
			CacheCapacity: 1024,
			LoadTimeout:   "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "undoctl.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9464",
		},
	}
}

// Load reads configuration from an io.Reader, overlaying it on Default.
// A nil or empty reader yields the defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch {
	case c.Undo.TableName == "":
		return fmt.Errorf("undo.table_name cannot be empty")
	case c.Undo.MaxRetries < 0:
		return fmt.Errorf("undo.max_retries must be >= 0, got %d", c.Undo.MaxRetries)
	case c.Undo.PurgeBatchSize <= 0:
		return fmt.Errorf("undo.purge_batch_size must be positive, got %d", c.Undo.PurgeBatchSize)
	case c.AsyncCommit.BatchSize <= 0:
		return fmt.Errorf("async_commit.batch_size must be positive, got %d", c.AsyncCommit.BatchSize)
	}
	return nil
}
