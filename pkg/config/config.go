// Package config loads the layered configuration every cmd/workbus
// entrypoint runs from: bundled defaults, overlaid by an optional YAML
// file, overlaid by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BusConstants mirrors the six configuration constants in the
// runtime's specification; overriding them changes timing only, never
// the consume algorithm.
type BusConstants struct {
	MaxAttempts     int `yaml:"max_attempts"`
	RetryIntervalMS int64 `yaml:"retry_interval_ms"`
	LockTTLSeconds  int `yaml:"lock_ttl_seconds"`
	DedupeTTLSeconds int `yaml:"dedupe_ttl_seconds"`
	ReadCount       int `yaml:"read_count"`
	ReadBlockMS     int `yaml:"read_block_ms"`
}

// LockTTL returns LockTTLSeconds as a time.Duration.
func (b BusConstants) LockTTL() time.Duration {
	return time.Duration(b.LockTTLSeconds) * time.Second
}

// DedupeTTL returns DedupeTTLSeconds as a time.Duration.
func (b BusConstants) DedupeTTL() time.Duration {
	return time.Duration(b.DedupeTTLSeconds) * time.Second
}

// LogStoreConfig selects and configures the log store backend.
type LogStoreConfig struct {
	Backend string `yaml:"backend"` // memory|sqlite|postgres
	DSN     string `yaml:"dsn"`     // sqlite file path or postgres connection string
}

// HTTPConfig configures the admin/live-tail API listener.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// TelemetryConfig configures the structured logger.
type TelemetryConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Config is the fully-resolved configuration document.
type Config struct {
	LogStore  LogStoreConfig  `yaml:"log_store"`
	Bus       BusConstants    `yaml:"bus"`
	HTTP      HTTPConfig      `yaml:"http"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// defaults returns the bundled base document, matching §6.4 exactly.
func defaults() Config {
	return Config{
		LogStore: LogStoreConfig{Backend: "memory", DSN: ""},
		Bus: BusConstants{
			MaxAttempts:      5,
			RetryIntervalMS:  1000,
			LockTTLSeconds:   30,
			DedupeTTLSeconds: 3600,
			ReadCount:        1,
			ReadBlockMS:      1000,
		},
		HTTP:      HTTPConfig{ListenAddr: ":8080"},
		Telemetry: TelemetryConfig{Level: "info", Service: "workbus"},
	}
}

// Load returns a fully-defaulted Config, overlaid by the YAML document at
// path (if path != "" and the file exists) and then by environment
// variable overrides. path == "" is valid and yields the bundled
// defaults plus any environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: env overrides: %w", err)
	}
	return &cfg, nil
}

// envOverrides enumerates every field this loader honors as an
// environment variable, named WORKBUS_<UPPER_SNAKE_PATH> per §10.2.
var envOverrides = []struct {
	name string
	set  func(cfg *Config, v string) error
}{
	{"WORKBUS_LOG_STORE_BACKEND", func(c *Config, v string) error { c.LogStore.Backend = v; return nil }},
	{"WORKBUS_LOG_STORE_DSN", func(c *Config, v string) error { c.LogStore.DSN = v; return nil }},
	{"WORKBUS_BUS_MAX_ATTEMPTS", intSetter(func(c *Config, n int) { c.Bus.MaxAttempts = n })},
	{"WORKBUS_BUS_RETRY_INTERVAL_MS", int64Setter(func(c *Config, n int64) { c.Bus.RetryIntervalMS = n })},
	{"WORKBUS_BUS_LOCK_TTL_SECONDS", intSetter(func(c *Config, n int) { c.Bus.LockTTLSeconds = n })},
	{"WORKBUS_BUS_DEDUPE_TTL_SECONDS", intSetter(func(c *Config, n int) { c.Bus.DedupeTTLSeconds = n })},
	{"WORKBUS_BUS_READ_COUNT", intSetter(func(c *Config, n int) { c.Bus.ReadCount = n })},
	{"WORKBUS_BUS_READ_BLOCK_MS", intSetter(func(c *Config, n int) { c.Bus.ReadBlockMS = n })},
	{"WORKBUS_HTTP_LISTEN_ADDR", func(c *Config, v string) error { c.HTTP.ListenAddr = v; return nil }},
	{"WORKBUS_TELEMETRY_LEVEL", func(c *Config, v string) error { c.Telemetry.Level = v; return nil }},
	{"WORKBUS_TELEMETRY_SERVICE", func(c *Config, v string) error { c.Telemetry.Service = v; return nil }},
}

func intSetter(apply func(c *Config, n int)) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		apply(c, n)
		return nil
	}
}

func int64Setter(apply func(c *Config, n int64)) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return err
		}
		apply(c, n)
		return nil
	}
}

func applyEnv(cfg *Config) error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok {
			continue
		}
		if err := o.set(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}
