package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("got port %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("got log_level %q, want info", cfg.LogLevel)
	}
	if cfg.TradeTimeout != 24*time.Hour {
		t.Errorf("got trade_timeout %s, want 24h", cfg.TradeTimeout)
	}
	if cfg.Registry.Mode != RegistryModeMemory {
		t.Errorf("got registry mode %q, want memory", cfg.Registry.Mode)
	}
	if cfg.Registry.Operator != "miniswap" {
		t.Errorf("got operator %q, want miniswap", cfg.Registry.Operator)
	}
	if cfg.JournalDir != "" {
		t.Errorf("got journal_dir %q, want empty", cfg.JournalDir)
	}
	if cfg.Kafka.Topic != "miniswap.events" {
		t.Errorf("got kafka topic %q, want miniswap.events", cfg.Kafka.Topic)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
port: 9090
log_level: debug
trade_timeout: 1h
journal_dir: /var/lib/miniswap
registry:
  mode: eth
  rpc_url: http://localhost:8545
  operator_key: 4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318
  contracts:
    kitties: "0x06012c8cf97bead5deae237070f9587f8e7a266d"
webhook:
  url: https://example.com/hooks
  timeout: 2s
kafka:
  brokers: [localhost:9092]
  topic: swap.events
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("got port %d, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("got log_level %q, want debug", cfg.LogLevel)
	}
	if cfg.TradeTimeout != time.Hour {
		t.Errorf("got trade_timeout %s, want 1h", cfg.TradeTimeout)
	}
	if cfg.JournalDir != "/var/lib/miniswap" {
		t.Errorf("got journal_dir %q", cfg.JournalDir)
	}
	if cfg.Registry.Mode != RegistryModeEth {
		t.Errorf("got registry mode %q, want eth", cfg.Registry.Mode)
	}
	if cfg.Registry.Contracts["kitties"] == "" {
		t.Error("missing contract address")
	}
	if cfg.Webhook.URL != "https://example.com/hooks" || cfg.Webhook.Timeout != 2*time.Second {
		t.Errorf("got webhook %+v", cfg.Webhook)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Topic != "swap.events" {
		t.Errorf("got kafka %+v", cfg.Kafka)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, "port: 9090\nlog_level: debug\n")

	t.Setenv("PORT", "7070")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("TRADE_TIMEOUT", "30m")
	t.Setenv("JOURNAL_DIR", "/tmp/journal")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("got port %d, want env override 7070", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("got log_level %q, want env override warn", cfg.LogLevel)
	}
	if cfg.TradeTimeout != 30*time.Minute {
		t.Errorf("got trade_timeout %s, want 30m", cfg.TradeTimeout)
	}
	if cfg.JournalDir != "/tmp/journal" {
		t.Errorf("got journal_dir %q, want /tmp/journal", cfg.JournalDir)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad port", "port: 70000\n", "invalid port"},
		{"zero port", "port: 0\n", "invalid port"},
		{"bad log level", "log_level: loud\n", "invalid log_level"},
		{"negative timeout", "trade_timeout: -1h\n", "trade_timeout must be positive"},
		{"bad registry mode", "registry:\n  mode: dynamo\n", "invalid registry.mode"},
		{"memory mode without operator", "registry:\n  mode: memory\n  operator: \"\"\n", "registry.operator is required"},
		{"eth mode without rpc url", "registry:\n  mode: eth\n", "registry.rpc_url is required"},
		{
			"eth mode without key",
			"registry:\n  mode: eth\n  rpc_url: http://localhost:8545\n",
			"registry.operator_key is required",
		},
		{
			"eth mode without contracts",
			"registry:\n  mode: eth\n  rpc_url: http://localhost:8545\n  operator_key: ab\n",
			"registry.contracts must name",
		},
		{"kafka brokers without topic", "kafka:\n  brokers: [localhost:9092]\n  topic: \"\"\n", "kafka.topic is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("got error %q, want it to contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_InvalidEnvValues(t *testing.T) {
	t.Run("bad PORT", func(t *testing.T) {
		t.Setenv("PORT", "eighty")
		if _, err := Load(""); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("bad TRADE_TIMEOUT", func(t *testing.T) {
		t.Setenv("TRADE_TIMEOUT", "soon")
		if _, err := Load(""); err == nil {
			t.Fatal("expected error")
		}
	})
}
