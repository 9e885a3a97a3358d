package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Worker configuration
	WorkerConcurrency int

	// Queue defaults (per-group values in the config store override these)
	DefaultSeatLimit   int
	LockExpiry         time.Duration
	EvictionMentionGap time.Duration

	// Check-in defaults
	CheckinGracePeriod time.Duration
	CheckinGroupLimit  int
	CheckinMemberLimit int

	// Retention
	ArchiveRetentionDays int

	// Admin
	AdminTokenHash string

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Workers
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 10),

		// Queue
		DefaultSeatLimit:   getEnvAsInt("DEFAULT_SEAT_LIMIT", 8),
		LockExpiry:         getEnvAsDuration("DISPATCH_LOCK_EXPIRY", "90s"),
		EvictionMentionGap: getEnvAsDuration("EVICTION_MENTION_GAP", "1s"),

		// Check-in
		CheckinGracePeriod: getEnvAsDuration("CHECKIN_GRACE_PERIOD", "10m"),
		CheckinGroupLimit:  getEnvAsInt("CHECKIN_GROUP_LIMIT", 3),
		CheckinMemberLimit: getEnvAsInt("CHECKIN_MEMBER_LIMIT", 2),

		// Retention
		ArchiveRetentionDays: getEnvAsInt("ARCHIVE_RETENTION_DAYS", 7),

		// Admin
		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
