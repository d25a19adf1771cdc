// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Telemetry source (NetworkTables) settings
	Source SourceConfig `yaml:"source"`

	// Messaging transport settings
	Transport TransportConfig `yaml:"transport"`

	// Publish loop settings
	Bridge BridgeConfig `yaml:"bridge"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics"`
}

// SourceConfig holds NetworkTables connection settings.
type SourceConfig struct {
	Address          string        `envconfig:"NTB_SOURCE_ADDRESS" yaml:"address"`
	ClientID         string        `envconfig:"NTB_SOURCE_CLIENT_ID" yaml:"client_id"`
	DialTimeout      time.Duration `envconfig:"NTB_SOURCE_DIAL_TIMEOUT" yaml:"dial_timeout"`
	KeepAlive        time.Duration `envconfig:"NTB_SOURCE_KEEP_ALIVE" yaml:"keep_alive"`
	ReconnectTimeout time.Duration `envconfig:"NTB_SOURCE_RECONNECT_TIMEOUT" yaml:"reconnect_timeout"`
	Backoff          BackoffConfig `yaml:"backoff"`
}

// BackoffConfig spaces out reconnect attempts. Initial 0 retries every tick.
type BackoffConfig struct {
	Initial time.Duration `envconfig:"NTB_BACKOFF_INITIAL" yaml:"initial"`
	Max     time.Duration `envconfig:"NTB_BACKOFF_MAX" yaml:"max"`
	Jitter  float64       `envconfig:"NTB_BACKOFF_JITTER" yaml:"jitter"`
}

// TransportConfig holds messaging transport settings.
type TransportConfig struct {
	Type           string        `envconfig:"NTB_TRANSPORT_TYPE" yaml:"type"` // mqtt, kafka, redis, memory
	Host           string        `envconfig:"NTB_TRANSPORT_HOST" yaml:"host"`
	Port           int           `envconfig:"NTB_TRANSPORT_PORT" yaml:"port"`
	ClientID       string        `envconfig:"NTB_TRANSPORT_CLIENT_ID" yaml:"client_id"`
	KeepAlive      time.Duration `envconfig:"NTB_TRANSPORT_KEEP_ALIVE" yaml:"keep_alive"`
	QoS            int           `envconfig:"NTB_TRANSPORT_QOS" yaml:"qos"`
	Retain         bool          `envconfig:"NTB_TRANSPORT_RETAIN" yaml:"retain"`
	PublishTimeout time.Duration `envconfig:"NTB_TRANSPORT_PUBLISH_TIMEOUT" yaml:"publish_timeout"`
	BufferSize     int           `envconfig:"NTB_TRANSPORT_BUFFER_SIZE" yaml:"buffer_size"`

	KafkaBrokers string `envconfig:"NTB_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaTopic   string `envconfig:"NTB_KAFKA_TOPIC" yaml:"kafka_topic"`
	KafkaVersion string `envconfig:"NTB_KAFKA_VERSION" yaml:"kafka_version"`

	RedisURL    string `envconfig:"NTB_REDIS_URL" yaml:"redis_url"`
	RedisPrefix string `envconfig:"NTB_REDIS_PREFIX" yaml:"redis_prefix"`
}

// BridgeConfig holds publish loop settings.
type BridgeConfig struct {
	TickInterval time.Duration `envconfig:"NTB_TICK_INTERVAL" yaml:"tick_interval"`
	// PublishRateLimit caps messages per second; 0 means unlimited.
	PublishRateLimit float64 `envconfig:"NTB_PUBLISH_RATE_LIMIT" yaml:"publish_rate_limit"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"NTB_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"NTB_LOG_FORMAT" yaml:"format"`
}

// MetricsConfig holds metrics exposition settings.
type MetricsConfig struct {
	Enabled        bool          `envconfig:"NTB_METRICS_ENABLED" yaml:"enabled"`
	Address        string        `envconfig:"NTB_METRICS_ADDRESS" yaml:"address"`
	Path           string        `envconfig:"NTB_METRICS_PATH" yaml:"path"`
	StatusInterval time.Duration `envconfig:"NTB_STATUS_INTERVAL" yaml:"status_interval"` // 0 disables
}

// Load loads configuration from environment variables and optional config file.
// The source address usually arrives by flag, so it is not required here;
// call Validate once flags are applied.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.validate(false); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Source = SourceConfig{
		ClientID:         "grafana-mqtt",
		DialTimeout:      5 * time.Second,
		KeepAlive:        time.Second,
		ReconnectTimeout: 2 * time.Second,
	}

	cfg.Transport = TransportConfig{
		Type:           "mqtt",
		Host:           "localhost",
		Port:           1883,
		ClientID:       "nt-bridge",
		KeepAlive:      5 * time.Second,
		QoS:            1,
		Retain:         true,
		PublishTimeout: time.Second,
		BufferSize:     10,
		KafkaTopic:     "nt-telemetry",
		KafkaVersion:   "2.8.0",
		RedisURL:       "redis://localhost:6379",
		RedisPrefix:    "nt:",
	}

	cfg.Bridge = BridgeConfig{
		TickInterval: 20 * time.Millisecond,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Metrics = MetricsConfig{
		Enabled:        false,
		Address:        ":9464",
		Path:           "/metrics",
		StatusInterval: 30 * time.Second,
	}
}

// Validate checks the complete configuration, including the source address.
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(requireAddress bool) error {
	var errs []string

	// Source validation
	if requireAddress && strings.TrimSpace(c.Source.Address) == "" {
		errs = append(errs, "source address is required")
	}
	if c.Source.ClientID == "" {
		errs = append(errs, "source client_id must not be empty")
	}
	if c.Source.DialTimeout <= 0 {
		errs = append(errs, "source dial_timeout must be positive")
	}
	if c.Source.KeepAlive <= 0 {
		errs = append(errs, "source keep_alive must be positive")
	}
	if c.Source.ReconnectTimeout <= 0 {
		errs = append(errs, "source reconnect_timeout must be positive")
	}
	if b := c.Source.Backoff; b.Initial < 0 || b.Max < 0 || (b.Max > 0 && b.Max < b.Initial) {
		errs = append(errs, "backoff max must be zero or at least initial")
	}
	if j := c.Source.Backoff.Jitter; j < 0 || j > 1 {
		errs = append(errs, "backoff jitter must be between 0 and 1")
	}

	// Transport validation
	validTypes := map[string]bool{"mqtt": true, "kafka": true, "redis": true, "memory": true}
	if !validTypes[c.Transport.Type] {
		errs = append(errs, fmt.Sprintf("invalid transport type: %s (must be mqtt, kafka, redis, or memory)", c.Transport.Type))
	}
	if c.Transport.Port < 1 || c.Transport.Port > 65535 {
		errs = append(errs, "transport port must be between 1 and 65535")
	}
	if c.Transport.QoS < 0 || c.Transport.QoS > 2 {
		errs = append(errs, "transport qos must be 0, 1, or 2")
	}
	if c.Transport.PublishTimeout <= 0 {
		errs = append(errs, "transport publish_timeout must be positive")
	}
	if c.Transport.BufferSize < 1 {
		errs = append(errs, "transport buffer_size must be positive")
	}
	if c.Transport.Type == "kafka" && strings.TrimSpace(c.Transport.KafkaBrokers) == "" {
		errs = append(errs, "kafka_brokers is required for the kafka transport")
	}

	// Bridge validation
	if c.Bridge.TickInterval <= 0 {
		errs = append(errs, "tick_interval must be positive")
	}
	if c.Bridge.PublishRateLimit < 0 {
		errs = append(errs, "publish_rate_limit must not be negative")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	// Metrics validation
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, "metrics address is required when metrics are enabled")
	}
	if c.Metrics.StatusInterval < 0 {
		errs = append(errs, "status_interval must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
