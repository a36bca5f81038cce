/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus backend selection. Local keeps events in-process; redis and nats
// bridge them across instances.
type EventBusBackend string

const (
	EventBusLocal EventBusBackend = "local"
	EventBusRedis EventBusBackend = "redis"
	EventBusNATS  EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., http://192.168.1.20:8080)
	DBBackend   DatabaseBackend
	DBDSN       string
	MetricsBind string

	// Presets configuration
	PresetsPath string // Optional YAML file overriding the embedded presets

	// Preview configuration
	PreviewDebounce time.Duration

	// Smart playlist refresh loop
	RefreshInterval time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Cache / multi-instance configuration
	CacheEnabled          bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string
	LeaderElectionEnabled bool

	// Event bus configuration
	EventBusBackend EventBusBackend
	NATSURL         string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"SONGBASE_ENV", "SB_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"SONGBASE_HTTP_BIND", "SB_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"SONGBASE_HTTP_PORT", "SB_HTTP_PORT"}, 8080),
		BaseURL:     getEnvAny([]string{"SONGBASE_BASE_URL", "SB_BASE_URL"}, ""),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"SONGBASE_DB_BACKEND", "SB_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"SONGBASE_DB_DSN", "SB_DB_DSN"}, ""),
		MetricsBind: getEnvAny([]string{"SONGBASE_METRICS_BIND", "SB_METRICS_BIND"}, "127.0.0.1:9000"),

		PresetsPath: getEnvAny([]string{"SONGBASE_PRESETS_PATH", "SB_PRESETS_PATH"}, ""),

		PreviewDebounce: time.Duration(getEnvIntAny([]string{"SONGBASE_PREVIEW_DEBOUNCE_MS", "SB_PREVIEW_DEBOUNCE_MS"}, 500)) * time.Millisecond,

		RefreshInterval: time.Duration(getEnvIntAny([]string{"SONGBASE_REFRESH_INTERVAL_MINUTES", "SB_REFRESH_INTERVAL_MINUTES"}, 30)) * time.Minute,

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"SONGBASE_TRACING_ENABLED", "SB_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"SONGBASE_OTLP_ENDPOINT", "SB_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"SONGBASE_TRACING_SAMPLE_RATE", "SB_TRACING_SAMPLE_RATE"}, 1.0),

		// Cache / multi-instance configuration
		CacheEnabled:          getEnvBoolAny([]string{"SONGBASE_CACHE_ENABLED", "SB_CACHE_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"SONGBASE_REDIS_ADDR", "SB_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"SONGBASE_REDIS_PASSWORD", "SB_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"SONGBASE_REDIS_DB", "SB_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"SONGBASE_INSTANCE_ID", "SB_INSTANCE_ID"}, ""),
		LeaderElectionEnabled: getEnvBoolAny([]string{"SONGBASE_LEADER_ELECTION_ENABLED", "SB_LEADER_ELECTION_ENABLED"}, false),

		// Event bus configuration
		EventBusBackend: EventBusBackend(getEnvAny([]string{"SONGBASE_EVENT_BUS", "SB_EVENT_BUS"}, string(EventBusLocal))),
		NATSURL:         getEnvAny([]string{"SONGBASE_NATS_URL", "SB_NATS_URL"}, "nats://localhost:4222"),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.EventBusBackend != EventBusLocal && cfg.EventBusBackend != EventBusRedis && cfg.EventBusBackend != EventBusNATS {
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.EventBusBackend)
	}

	if cfg.DBDSN == "" {
		if cfg.DBBackend != DatabaseSQLite {
			return nil, fmt.Errorf("SONGBASE_DB_DSN or SB_DB_DSN must be provided for %s", cfg.DBBackend)
		}
		cfg.DBDSN = "songbase.db"
	}

	if cfg.PreviewDebounce <= 0 {
		return nil, fmt.Errorf("SONGBASE_PREVIEW_DEBOUNCE_MS must be positive")
	}

	if cfg.RefreshInterval < time.Minute {
		return nil, fmt.Errorf("SONGBASE_REFRESH_INTERVAL_MINUTES must be at least 1")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":     "use SONGBASE_ENV (or SB_ENV)",
		"DB_DSN":          "use SONGBASE_DB_DSN (or SB_DB_DSN)",
		"TRACING_ENABLED": "use SONGBASE_TRACING_ENABLED (or SB_TRACING_ENABLED)",
		"OTLP_ENDPOINT":   "use SONGBASE_OTLP_ENDPOINT (or SB_OTLP_ENDPOINT)",
		"REDIS_ADDR":      "use SONGBASE_REDIS_ADDR (or SB_REDIS_ADDR)",
		"NATS_URL":        "use SONGBASE_NATS_URL (or SB_NATS_URL)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
