// Package appconfig loads process configuration from the environment, the
// way the teacher's cmd/kernel/main.go does with its getEnv helper,
// generalized to every external dependency this module wires: DGraph,
// Redis, NATS, and the event-buffer flush policy (spec.md §6's
// "Configuration (ErrorHandling, OpenTelemetry, EventBufferFlushing)").
package appconfig

import (
	"os"
	"strconv"
	"time"
)

// Config is the full set of environment-sourced settings cmd/server reads
// at startup.
type Config struct {
	// Service
	HTTPPort string
	LogLevel string

	// Persistence (component F)
	DGraphAddress         string
	PersistenceMaxRetries int
	PersistenceRetryDelay time.Duration
	PersistenceTimeout    time.Duration

	// Event buffer / flush strategy (components D, E)
	EventBufferSizeLimit   int
	EventBufferFlushPeriod time.Duration
	DependencyFreeWriter   bool

	// Shard configuration bootstrap (component H)
	ShardConfigSeedPath string

	// Router / redistribution fan-out (components I, J)
	NATSAddress    string
	RedisAddress   string
	RedisPassword  string
	RedisLockTTL   time.Duration
	RedistributeBatchSize int

	// Admin endpoint authentication
	JWTSigningKey string
}

// Load reads Config from the environment, defaulting every field the way
// getEnv does: present-and-non-empty wins, otherwise a hardcoded default.
func Load() Config {
	return Config{
		HTTPPort: getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DGraphAddress:         getEnv("DGRAPH_URL", "localhost:9080"),
		PersistenceMaxRetries: getEnvInt("PERSISTENCE_MAX_RETRIES", 5),
		PersistenceRetryDelay: getEnvDuration("PERSISTENCE_RETRY_DELAY", time.Second),
		PersistenceTimeout:    getEnvDuration("PERSISTENCE_TIMEOUT", 10*time.Second),

		EventBufferSizeLimit:   getEnvInt("EVENT_BUFFER_SIZE_LIMIT", 500),
		EventBufferFlushPeriod: getEnvDuration("EVENT_BUFFER_FLUSH_PERIOD", 5*time.Second),
		DependencyFreeWriter:   getEnvBool("DEPENDENCY_FREE_WRITER", true),

		ShardConfigSeedPath: getEnv("SHARD_CONFIG_SEED_PATH", ""),

		NATSAddress:           getEnv("NATS_URL", "nats://localhost:4222"),
		RedisAddress:          getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisLockTTL:          getEnvDuration("REDIS_LOCK_TTL", 2*time.Minute),
		RedistributeBatchSize: getEnvInt("REDISTRIBUTE_BATCH_SIZE", 500),

		JWTSigningKey: getEnv("JWT_SIGNING_KEY", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}
