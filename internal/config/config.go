// Package config loads reconsage's YAML configuration, with environment
// variable overrides and sensible defaults when no config file is present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"reconsage/internal/falsepositive"
	"reconsage/internal/fingerprint"
	"reconsage/internal/governor"
)

// Config holds all configuration for reconsage.
type Config struct {
	Control   ControlConfig     `yaml:"control"`
	Run       RunConfig         `yaml:"run"`
	Logging   LoggingConfig     `yaml:"logging"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
	Storage   StorageConfig     `yaml:"storage"`
	Scan      ScanConfig        `yaml:"scan"`
}

// ControlConfig holds control API configuration.
type ControlConfig struct {
	Listen  string            `yaml:"listen"`
	Enabled bool              `yaml:"enabled"`
	Auth    ControlAuthConfig `yaml:"auth"`
}

// ControlAuthConfig holds control API authentication settings.
type ControlAuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"` // bearer token required on every route but /control/health
}

// RunConfig configures the run store backing the control API's run history.
type RunConfig struct {
	Store         string        `yaml:"store"` // "memory" or "redis"
	Redis         RedisConfig   `yaml:"redis"`
	RetentionTime time.Duration `yaml:"retention"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// StorageConfig holds persistent run-history storage configuration.
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// ScanConfig groups the knobs every orchestrator shares. Governor clamp
// bounds and the Cloudflare TLS threshold are canonical constants, not
// configurable here (see governor.Floor/Ceiling, fingerprint.CloudflareTLSThreshold).
type ScanConfig struct {
	DefaultConcurrency       int             `yaml:"default_concurrency"`
	DefaultTimeoutSecs       int             `yaml:"default_timeout_secs"`
	Clusterer                ClustererConfig `yaml:"clusterer"`
	MaxFingerprintBatchPaths int             `yaml:"max_fingerprint_batch_paths"`
	LogDir                   string          `yaml:"log_dir"`
	DefaultWordlistPath      string          `yaml:"default_wordlist_path"`
}

// ClustererConfig mirrors falsepositive.Thresholds for YAML unmarshalling.
type ClustererConfig struct {
	HashClusterSize   int `yaml:"hash_cluster_size"`
	LengthClusterSize int `yaml:"length_cluster_size"`
	SmallResponse     int `yaml:"small_response"`
	LargeResponse     int `yaml:"large_response"`
	VerifiedMinSize   int `yaml:"verified_min_size"`
	VerifiedMaxSize   int `yaml:"verified_max_size"`
}

// Thresholds converts a ClustererConfig into falsepositive.Thresholds.
func (c ClustererConfig) Thresholds() falsepositive.Thresholds {
	return falsepositive.Thresholds{
		HashClusterSize:   c.HashClusterSize,
		LengthClusterSize: c.LengthClusterSize,
		SmallResponse:     c.SmallResponse,
		LargeResponse:     c.LargeResponse,
		VerifiedMinSize:   c.VerifiedMinSize,
		VerifiedMaxSize:   c.VerifiedMaxSize,
	}
}

// Load reads and parses the configuration file, falling back to defaults
// when the path doesn't exist. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path) // #nosec G304 -- config path from trusted CLI flag
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config with sensible default values.
func defaults() *Config {
	return &Config{
		Control: ControlConfig{
			Listen:  ":9090",
			Enabled: true,
		},
		Run: RunConfig{
			Store:         "memory",
			RetentionTime: 24 * time.Hour,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "reconsage:run:",
			},
		},
		Logging: LoggingConfig{
			Format: "json",
			Level:  "info",
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			Exporter:    "stdout",
			ServiceName: "reconsage",
			Endpoint:    "localhost:4317",
			Insecure:    true,
		},
		Storage: StorageConfig{
			Enabled:       true,
			Path:          "data/reconsage.db",
			RetentionDays: 30,
		},
		Scan: ScanConfig{
			DefaultConcurrency: governor.Floor,
			DefaultTimeoutSecs: 10,
			Clusterer: ClustererConfig{
				HashClusterSize:   3,
				LengthClusterSize: 5,
				SmallResponse:     100,
				LargeResponse:     50000,
				VerifiedMinSize:   3,
				VerifiedMaxSize:   5,
			},
			MaxFingerprintBatchPaths: fingerprint.MaxBatchPaths,
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RECONSAGE_CONTROL_LISTEN"); v != "" {
		c.Control.Listen = v
	}
	if v := os.Getenv("RECONSAGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RECONSAGE_RUN_STORE"); v != "" {
		c.Run.Store = v
	}
	if v := os.Getenv("RECONSAGE_REDIS_ADDR"); v != "" {
		c.Run.Redis.Addr = v
	}
	if v := os.Getenv("RECONSAGE_REDIS_PASSWORD"); v != "" {
		c.Run.Redis.Password = v
	}

	if os.Getenv("RECONSAGE_TELEMETRY_ENABLED") == "false" {
		c.Telemetry.Enabled = false
	}
	if v := os.Getenv("RECONSAGE_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = v
	}
	if v := os.Getenv("RECONSAGE_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = "otlp"
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = "otlp"
		c.Telemetry.Endpoint = v
	}

	if os.Getenv("RECONSAGE_STORAGE_ENABLED") == "false" {
		c.Storage.Enabled = false
	}
	if v := os.Getenv("RECONSAGE_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("RECONSAGE_STORAGE_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			c.Storage.RetentionDays = days
		}
	}

	if v := os.Getenv("RECONSAGE_CONTROL_API_KEY"); v != "" {
		c.Control.Auth.APIKey = v
		c.Control.Auth.Enabled = true
	}

	if v := os.Getenv("LOG_DIR"); v != "" {
		c.Scan.LogDir = v
	}
}

// validate checks that the configuration is internally consistent.
func (c *Config) validate() error {
	if c.Control.Listen == "" {
		return fmt.Errorf("control listen address is required")
	}
	if c.Run.Store != "memory" && c.Run.Store != "redis" {
		return fmt.Errorf("run store must be \"memory\" or \"redis\", got %q", c.Run.Store)
	}
	if c.Scan.DefaultConcurrency <= 0 || c.Scan.DefaultTimeoutSecs <= 0 {
		return fmt.Errorf("scan.default_concurrency and scan.default_timeout_secs must be positive")
	}
	if c.Scan.Clusterer.VerifiedMaxSize < c.Scan.Clusterer.VerifiedMinSize {
		return fmt.Errorf("scan.clusterer.verified_max_size must be >= verified_min_size")
	}
	return nil
}
