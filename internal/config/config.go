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

// DatabaseBackend enumerates supported database engines.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventBusBackend selects how lifecycle events fan out between instances.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config captures runtime configuration for the service.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string
	InstanceID  string

	DBBackend DatabaseBackend
	DBDSN     string

	// Capacity booking
	HoldDuration  time.Duration
	SweepInterval time.Duration
	CatalogPath   string

	// Redis (cache, event bus, leader election)
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CacheEnabled          bool
	LeaderElectionEnabled bool

	EventBus EventBusBackend
	NATSURL  string

	// Audit stream
	KafkaBrokers []string
	KafkaTopic   string

	// Schedule exports
	ExportDir         string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	// Client tokens; empty disables authentication
	JWTSigningKey string

	// Tracing
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"CURIE_ENV", "ENVIRONMENT"}, "development"),
		HTTPBind:    getEnv("CURIE_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("CURIE_HTTP_PORT", 8080),
		MetricsBind: getEnv("CURIE_METRICS_BIND", "127.0.0.1:9000"),
		InstanceID:  getEnv("CURIE_INSTANCE_ID", ""),

		DBBackend: DatabaseBackend(strings.ToLower(getEnv("CURIE_DB_BACKEND", string(DatabaseSQLite)))),
		DBDSN:     getEnvAny([]string{"CURIE_DB_DSN", "DATABASE_URL"}, "curie.db"),

		HoldDuration:  time.Duration(getEnvInt("CURIE_HOLD_MINUTES", 15)) * time.Minute,
		SweepInterval: time.Duration(getEnvInt("CURIE_SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		CatalogPath:   getEnv("CURIE_CATALOG_PATH", ""),

		RedisAddr:             getEnvAny([]string{"CURIE_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"CURIE_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"CURIE_REDIS_DB", "REDIS_DB"}, 0),
		CacheEnabled:          getEnvBoolAny([]string{"CURIE_CACHE_ENABLED"}, false),
		LeaderElectionEnabled: getEnvBoolAny([]string{"CURIE_LEADER_ELECTION_ENABLED"}, false),

		EventBus: EventBusBackend(strings.ToLower(getEnv("CURIE_EVENT_BUS", string(EventBusMemory)))),
		NATSURL:  getEnvAny([]string{"CURIE_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),

		KafkaBrokers: splitList(getEnvAny([]string{"CURIE_KAFKA_BROKERS", "KAFKA_BROKERS"}, "")),
		KafkaTopic:   getEnv("CURIE_KAFKA_TOPIC", "curie.audit"),

		ExportDir:         getEnv("CURIE_EXPORT_DIR", "exports"),
		S3Bucket:          getEnvAny([]string{"CURIE_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Region:          getEnvAny([]string{"CURIE_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Endpoint:        getEnvAny([]string{"CURIE_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3AccessKeyID:     getEnvAny([]string{"CURIE_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"CURIE_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"CURIE_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		JWTSigningKey: getEnv("CURIE_JWT_SIGNING_KEY", ""),

		TracingEnabled:    getEnvBoolAny([]string{"CURIE_TRACING_ENABLED", "TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"CURIE_OTLP_ENDPOINT", "OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"CURIE_TRACING_SAMPLE_RATE", "TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("CURIE_DB_DSN or DATABASE_URL must be provided")
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}

	if cfg.HoldDuration <= 0 {
		return nil, fmt.Errorf("CURIE_HOLD_MINUTES must be positive")
	}

	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("CURIE_SWEEP_INTERVAL_SECONDS must be positive")
	}

	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return nil, fmt.Errorf("CURIE_TRACING_SAMPLE_RATE must be between 0 and 1, got %v", cfg.TracingSampleRate)
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID, _ = os.Hostname()
	}

	return cfg, nil
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// UsesS3 reports whether exports go to S3 instead of the local filesystem.
func (c *Config) UsesS3() bool {
	return c.S3Bucket != ""
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
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
