// Package config loads Chronicle's configuration from an optional file
// (config.yaml or config.toml, auto-detected by extension) overlaid by
// CHRONICLE_-prefixed environment variables, which always win. Grounded on
// the teacher's internal/pkg/config.Load (file.Provider + env.Provider
// layering, ${VAR} substitution in secret-shaped fields).
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root of Chronicle's static configuration. Custom providers
// and API keys, which an operator can also manage at runtime through the
// admin API, have a config-file form here; aliases have no config-file form.
type Config struct {
	Server    ServerConfig      `koanf:"server"`
	Storage   StorageConfig     `koanf:"storage"`
	Events    EventsConfig      `koanf:"events"`
	Retry     RetryConfig       `koanf:"retry"`
	Telemetry TelemetryConfig   `koanf:"telemetry"`
	Keyvault  KeyvaultConfig    `koanf:"keyvault"`
	Providers []ProviderConfig  `koanf:"providers"`
	APIKeys   []APIKeyConfig    `koanf:"api_keys"`
}

// ServerConfig configures the chat/events HTTP surface (internal/server).
type ServerConfig struct {
	Port int `koanf:"port"`
}

// StorageConfig selects the sqlstore dialect and connection details.
type StorageConfig struct {
	Driver string       `koanf:"driver"` // sqlite | postgres
	SQLite SQLiteConfig `koanf:"sqlite"`
	DSN    string        `koanf:"dsn"` // postgres connection string
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// EventsConfig points the dispatcher's eventqueue.Sink at the ingestion
// endpoint it logs every chat call to; defaults to the process's own
// POST /events.
type EventsConfig struct {
	Endpoint string `koanf:"endpoint"`
}

// RetryConfig overlays retryflow.DefaultPolicy; zero fields keep the
// default. Durations are expressed in milliseconds to match
// domain.RetryOptions's wire shape.
type RetryConfig struct {
	MaxTries                         int     `koanf:"max_tries"`
	InitialBackoffMS                 int     `koanf:"initial_backoff_ms"`
	MaxBackoffMS                     int     `koanf:"max_backoff_ms"`
	JitterMS                         int     `koanf:"jitter_ms"`
	Growth                           string  `koanf:"growth"` // constant | exponential | additive
	GrowthMultiplier                 float64 `koanf:"growth_multiplier"`
	GrowthAmountMS                   int     `koanf:"growth_amount_ms"`
	FailIfRateLimitExceedsMaxBackoff bool    `koanf:"fail_if_rate_limit_exceeds_max_backoff"`
}

// TelemetryConfig configures the otel tracer provider.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// KeyvaultConfig configures the optional Redis cache tier in front of the
// DB-backed provider API key lookup.
type KeyvaultConfig struct {
	Redis RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Addr   string `koanf:"addr"`
	Prefix string `koanf:"prefix"`
	TTL    string `koanf:"ttl"` // duration string, e.g. "5m"
}

// ParsedTTL returns TTL as a time.Duration, defaulting to 5 minutes when
// unset or unparseable.
func (r RedisConfig) ParsedTTL() time.Duration {
	if r.TTL == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(r.TTL)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// ProviderConfig registers a builtin or custom upstream the dispatcher can
// route to, mirroring domain.CustomProvider's shape for config-driven
// bootstrap.
type ProviderConfig struct {
	Name         string            `koanf:"name"`
	Format       string            `koanf:"format"` // openai | anthropic | bedrock | ollama | custom-template
	BaseURL      string            `koanf:"base_url"`
	APIKey       string            `koanf:"api_key"` // may contain ${ENV_VAR}
	Headers      map[string]string `koanf:"headers"`
	ModelPrefix  string            `koanf:"model_prefix"`
}

// APIKeyConfig registers a named credential the keyvault resolves ahead of
// the database; Source "env" dereferences Value against the process
// environment instead of treating it as a literal secret.
type APIKeyConfig struct {
	Provider string `koanf:"provider"`
	Name     string `koanf:"name"`
	Source   string `koanf:"source"` // raw | env
	Value    string `koanf:"value"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configPath (config.yaml or config.toml; a missing file is not
// an error) and overlays CHRONICLE_-prefixed environment variables, which
// always win. configPath may be empty, in which case only defaults and
// environment variables apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		parser, err := parserFor(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(configPath), parser); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	if err := k.Load(env.Provider("CHRONICLE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CHRONICLE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("storage.driver") {
		k.Set("storage.driver", "sqlite")
	}
	if !k.Exists("storage.sqlite.path") {
		k.Set("storage.sqlite.path", "chronicle.db")
	}
	if !k.Exists("events.endpoint") {
		k.Set("events.endpoint", "http://127.0.0.1:8080/events")
	}
	if !k.Exists("telemetry.service_name") {
		k.Set("telemetry.service_name", "chronicle")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = substituteEnvVars(cfg.Providers[i].APIKey)
	}
	for i := range cfg.APIKeys {
		cfg.APIKeys[i].Value = substituteEnvVars(cfg.APIKeys[i].Value)
	}

	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Parser(), nil
	default:
		return yaml.Parser(), nil
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
