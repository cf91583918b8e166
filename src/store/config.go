package store

import (
	"os"
	"strconv"
	"time"
)

// MongoConfig holds connection settings for the Mongo-backed store.
type MongoConfig struct {
	URI               string        // default "mongodb://localhost:27017"
	Database          string        // default "crm"
	LeadsCollection   string        // default "leads"
	HistoryCollection string        // default "notification_history"
	ConnectTimeout    time.Duration // default 10s
}

// DefaultMongoConfig returns a MongoConfig with sensible defaults.
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:               "mongodb://localhost:27017",
		Database:          "crm",
		LeadsCollection:   "leads",
		HistoryCollection: "notification_history",
		ConnectTimeout:    10 * time.Second,
	}
}

// MongoConfigFromEnv loads Mongo configuration from environment variables.
// Falls back to defaults for any missing values.
func MongoConfigFromEnv() *MongoConfig {
	cfg := DefaultMongoConfig()

	if uri := os.Getenv("MONGO_URI"); uri != "" {
		cfg.URI = uri
	}
	if db := os.Getenv("MONGO_DATABASE"); db != "" {
		cfg.Database = db
	}
	if col := os.Getenv("MONGO_LEADS_COLLECTION"); col != "" {
		cfg.LeadsCollection = col
	}
	if col := os.Getenv("MONGO_HISTORY_COLLECTION"); col != "" {
		cfg.HistoryCollection = col
	}
	if v := os.Getenv("MONGO_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ConnectTimeout = d
		}
	}
	return cfg
}

// RedisConfig holds connection settings for the Redis history stream.
type RedisConfig struct {
	Addr     string // Redis address, default "localhost:6379"
	Password string // Redis password, default ""
	DB       int    // Redis database number, default 0
	Stream   string // history stream key, default "realtime:history"
	MaxLen   int64  // approximate stream cap, default 100000
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Stream: "realtime:history",
		MaxLen: 100000,
	}
}

// RedisConfigFromEnv loads Redis configuration from environment variables.
// Falls back to defaults for any missing values.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = db
		}
	}
	if stream := os.Getenv("REDIS_HISTORY_STREAM"); stream != "" {
		cfg.Stream = stream
	}
	if v := os.Getenv("REDIS_HISTORY_MAXLEN"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxLen = n
		}
	}
	return cfg
}
