// Package config builds runtime configuration from environment variables so
// main stays lean. Every knob has a usable default; only external endpoints
// must be supplied.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Redis tunes the queue/notification client.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the audit outbox relay. An empty broker list disables it.
type Kafka struct {
	Brokers       []string
	AuditTopic    string
	RelayInterval time.Duration
}

// Pipeline tunes the stage workers and their poll fallbacks.
type Pipeline struct {
	StagingWorkers  int
	BusinessWorkers int
	PollInterval    time.Duration
	// PendingAge is how long a PENDING row may sit before the poller assumes
	// its notification was lost.
	PendingAge time.Duration
	// StaleAge is how long a PROCESSING claim may sit before the poller
	// assumes the worker died.
	StaleAge time.Duration
	// RetryBackoffAge is the minimum age of an ERROR row before re-claiming.
	RetryBackoffAge time.Duration
	MaxRetries      int
	QueueMaxDepth   int64
}

// Staging tunes validation.
type Staging struct {
	QualityThreshold float64
	ClockSkew        time.Duration
}

// Config is the full server configuration.
type Config struct {
	Addr          string
	JWTSigningKey string

	// PostgresDSN empty means in-memory stores, for development and tests.
	PostgresDSN string
	TxTimeout   time.Duration

	Redis    Redis
	Kafka    Kafka
	Pipeline Pipeline
	Staging  Staging
}

// FromEnv reads the TRIBUTARY_* environment.
func FromEnv() Config {
	return Config{
		Addr:          getString("TRIBUTARY_ADDR", ":8080"),
		JWTSigningKey: getString("TRIBUTARY_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresDSN:   os.Getenv("TRIBUTARY_POSTGRES_DSN"),
		TxTimeout:     getDuration("TRIBUTARY_TX_TIMEOUT", 10*time.Second),
		Redis: Redis{
			URL:          os.Getenv("TRIBUTARY_REDIS_URL"),
			PoolSize:     getInt("TRIBUTARY_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("TRIBUTARY_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("TRIBUTARY_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("TRIBUTARY_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("TRIBUTARY_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:       getList("TRIBUTARY_KAFKA_BROKERS"),
			AuditTopic:    getString("TRIBUTARY_KAFKA_AUDIT_TOPIC", "tributary.audit"),
			RelayInterval: getDuration("TRIBUTARY_KAFKA_RELAY_INTERVAL", 5*time.Second),
		},
		Pipeline: Pipeline{
			StagingWorkers:  getInt("TRIBUTARY_STAGING_WORKERS", 4),
			BusinessWorkers: getInt("TRIBUTARY_BUSINESS_WORKERS", 4),
			PollInterval:    getDuration("TRIBUTARY_POLL_INTERVAL", 30*time.Second),
			PendingAge:      getDuration("TRIBUTARY_PENDING_AGE", time.Minute),
			StaleAge:        getDuration("TRIBUTARY_STALE_AGE", 5*time.Minute),
			RetryBackoffAge: getDuration("TRIBUTARY_RETRY_BACKOFF_AGE", time.Minute),
			MaxRetries:      getInt("TRIBUTARY_MAX_RETRIES", 5),
			QueueMaxDepth:   int64(getInt("TRIBUTARY_QUEUE_MAX_DEPTH", 100_000)),
		},
		Staging: Staging{
			QualityThreshold: getFloat("TRIBUTARY_QUALITY_THRESHOLD", 0.7),
			ClockSkew:        getDuration("TRIBUTARY_CLOCK_SKEW", 5*time.Minute),
		},
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
