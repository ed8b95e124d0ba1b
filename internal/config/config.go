// Package config loads runtime configuration from an optional YAML file
// with environment variable overrides for the common knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry modes.
const (
	RegistryModeMemory = "memory"
	RegistryModeEth    = "eth"
)

// Config holds all runtime configuration for the swap service.
type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// TradeTimeout is the window after creation during which a trade
	// can progress; past it the expiration guard cancels on access.
	TradeTimeout time.Duration `yaml:"trade_timeout"`

	// JournalDir enables the durable trade journal when non-empty.
	JournalDir string `yaml:"journal_dir"`

	Registry RegistryConfig `yaml:"registry"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Kafka    KafkaConfig    `yaml:"kafka"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RegistryConfig selects the asset registry backend.
type RegistryConfig struct {
	// Mode is "memory" (dev/test) or "eth".
	Mode string `yaml:"mode"`

	// Operator is the principal that approvals are granted to in
	// memory mode. In eth mode the operator is derived from the key.
	Operator string `yaml:"operator"`

	// RPCURL and OperatorKey apply to eth mode. Contracts maps
	// registry names to ERC-721 contract addresses.
	RPCURL      string            `yaml:"rpc_url"`
	OperatorKey string            `yaml:"operator_key"`
	Contracts   map[string]string `yaml:"contracts"`
}

// WebhookConfig enables the webhook notification sink when URL is set.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// KafkaConfig enables the kafka notification sink when brokers are set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Load reads configuration from the YAML file at path (skipped when
// path is empty), applies environment overrides and defaults, and
// validates values.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:            8080,
		LogLevel:        "info",
		TradeTimeout:    24 * time.Hour,
		Registry:        RegistryConfig{Mode: RegistryModeMemory, Operator: "miniswap"},
		Webhook:         WebhookConfig{Timeout: 5 * time.Second},
		Kafka:           KafkaConfig{Topic: "miniswap.events"},
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	var err error
	if cfg.Port, err = getInt("PORT", cfg.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	cfg.LogLevel = getStr("LOG_LEVEL", cfg.LogLevel)
	if cfg.TradeTimeout, err = getDuration("TRADE_TIMEOUT", cfg.TradeTimeout); err != nil {
		return nil, fmt.Errorf("invalid TRADE_TIMEOUT: %w", err)
	}
	cfg.JournalDir = getStr("JOURNAL_DIR", cfg.JournalDir)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level: %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.TradeTimeout <= 0 {
		return fmt.Errorf("trade_timeout must be positive, got %s", c.TradeTimeout)
	}
	switch c.Registry.Mode {
	case RegistryModeMemory:
		if c.Registry.Operator == "" {
			return fmt.Errorf("registry.operator is required in memory mode")
		}
	case RegistryModeEth:
		if c.Registry.RPCURL == "" {
			return fmt.Errorf("registry.rpc_url is required in eth mode")
		}
		if c.Registry.OperatorKey == "" {
			return fmt.Errorf("registry.operator_key is required in eth mode")
		}
		if len(c.Registry.Contracts) == 0 {
			return fmt.Errorf("registry.contracts must name at least one contract in eth mode")
		}
	default:
		return fmt.Errorf("invalid registry.mode: %q, must be %q or %q",
			c.Registry.Mode, RegistryModeMemory, RegistryModeEth)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}
	return nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
