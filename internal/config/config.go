package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Keys     KeysConfig     `yaml:"keys"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// PipelineConfig holds scheduling and chunking configuration.
type PipelineConfig struct {
	Policy          string `yaml:"policy" env:"PIPELINE_POLICY"`                     // fifo or priority
	Workers         int    `yaml:"workers" env:"PIPELINE_WORKERS"`                   // 0 = auto-tune
	ChunkSize       int    `yaml:"chunk_size" env:"PIPELINE_CHUNK_SIZE"`             // 0 = auto-tune
	MinChunkSize    int    `yaml:"min_chunk_size" env:"PIPELINE_MIN_CHUNK_SIZE"`     // floor for per-chunk overhead
	MaxChunkSize    int    `yaml:"max_chunk_size" env:"PIPELINE_MAX_CHUNK_SIZE"`     // ceiling for in-flight memory
	StreamThreshold int64  `yaml:"stream_threshold" env:"PIPELINE_STREAM_THRESHOLD"` // below this, single-chunk path
	TuneSampleSize  int    `yaml:"tune_sample_size" env:"PIPELINE_TUNE_SAMPLE_SIZE"` // synthetic calibration buffer
}

// KeysConfig holds key derivation and key store configuration.
type KeysConfig struct {
	Iterations int    `yaml:"iterations" env:"KEYS_ITERATIONS"` // PBKDF2 iteration count
	StorePath  string `yaml:"store_path" env:"KEYS_STORE_PATH"` // badger directory, empty = in-memory
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	ListenAddr string `yaml:"listen_addr" env:"METRICS_LISTEN_ADDR"`
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" env:"TRACING_ENABLED"`
	ServiceName    string  `yaml:"service_name" env:"TRACING_SERVICE_NAME"`
	ServiceVersion string  `yaml:"service_version" env:"TRACING_SERVICE_VERSION"`
	SamplingRatio  float64 `yaml:"sampling_ratio" env:"TRACING_SAMPLING_RATIO"`
}

const (
	// MinIterations is the floor for PBKDF2 iteration counts.
	MinIterations = 100000

	defaultMinChunkSize    = 64 * 1024
	defaultMaxChunkSize    = 64 * 1024 * 1024
	defaultStreamThreshold = 1024 * 1024
	defaultTuneSampleSize  = 4 * 1024 * 1024
)

// LoadConfig loads configuration from a file and environment variables.
func LoadConfig(path string) (*Config, error) {
	config := &Config{
		LogLevel: "info",
		Pipeline: PipelineConfig{
			Policy:          "priority",
			MinChunkSize:    defaultMinChunkSize,
			MaxChunkSize:    defaultMaxChunkSize,
			StreamThreshold: defaultStreamThreshold,
			TuneSampleSize:  defaultTuneSampleSize,
		},
		Keys: KeysConfig{
			Iterations: MinIterations,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "cryptoflow",
			ServiceVersion: "dev",
			SamplingRatio:  1.0,
		},
	}

	// Load from file if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	loadFromEnv(config)

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromEnv loads configuration values from environment variables.
func loadFromEnv(config *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("PIPELINE_POLICY"); v != "" {
		config.Pipeline.Policy = v
	}
	if v := os.Getenv("PIPELINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("PIPELINE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.Pipeline.ChunkSize = n
		}
	}
	if v := os.Getenv("PIPELINE_MIN_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Pipeline.MinChunkSize = n
		}
	}
	if v := os.Getenv("PIPELINE_MAX_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Pipeline.MaxChunkSize = n
		}
	}
	if v := os.Getenv("PIPELINE_STREAM_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			config.Pipeline.StreamThreshold = n
		}
	}
	if v := os.Getenv("PIPELINE_TUNE_SAMPLE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Pipeline.TuneSampleSize = n
		}
	}
	if v := os.Getenv("KEYS_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Keys.Iterations = n
		}
	}
	if v := os.Getenv("KEYS_STORE_PATH"); v != "" {
		config.Keys.StorePath = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		config.Metrics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("METRICS_LISTEN_ADDR"); v != "" {
		config.Metrics.ListenAddr = v
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		config.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TRACING_SERVICE_NAME"); v != "" {
		config.Tracing.ServiceName = v
	}
	if v := os.Getenv("TRACING_SAMPLING_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Tracing.SamplingRatio = f
		}
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Pipeline.Policy {
	case "fifo", "priority":
	default:
		return fmt.Errorf("pipeline policy must be fifo or priority, got %q", c.Pipeline.Policy)
	}

	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline workers cannot be negative")
	}

	if c.Pipeline.MinChunkSize <= 0 {
		return fmt.Errorf("min chunk size must be positive")
	}
	if c.Pipeline.MaxChunkSize < c.Pipeline.MinChunkSize {
		return fmt.Errorf("max chunk size %d is below min chunk size %d",
			c.Pipeline.MaxChunkSize, c.Pipeline.MinChunkSize)
	}
	if c.Pipeline.ChunkSize != 0 &&
		(c.Pipeline.ChunkSize < c.Pipeline.MinChunkSize || c.Pipeline.ChunkSize > c.Pipeline.MaxChunkSize) {
		return fmt.Errorf("chunk size %d outside [%d, %d]",
			c.Pipeline.ChunkSize, c.Pipeline.MinChunkSize, c.Pipeline.MaxChunkSize)
	}

	if c.Pipeline.StreamThreshold < 0 {
		return fmt.Errorf("stream threshold cannot be negative")
	}
	if c.Pipeline.TuneSampleSize <= 0 {
		return fmt.Errorf("tune sample size must be positive")
	}

	if c.Keys.Iterations < MinIterations {
		return fmt.Errorf("key derivation iterations must be at least %d, got %d",
			MinIterations, c.Keys.Iterations)
	}

	if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
		return fmt.Errorf("tracing sampling ratio must be between 0.0 and 1.0")
	}

	return nil
}
