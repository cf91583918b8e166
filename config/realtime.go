package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the notification engine tuning knobs.
type Config struct {
	QueueSize         int           // outbox capacity per connection
	SendTimeout       time.Duration // bound on a single enqueue attempt
	ReaperInterval    time.Duration // stale-connection scan period
	HeartbeatInterval time.Duration // SSE keep-alive period
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		QueueSize:         50,
		SendTimeout:       time.Second,
		ReaperInterval:    5 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
	}
}

// FromEnv loads configuration from environment variables.
// Falls back to defaults for any missing or malformed values.
func FromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("REALTIME_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueSize = n
		}
	}
	if v := os.Getenv("REALTIME_SEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SendTimeout = d
		}
	}
	if v := os.Getenv("REALTIME_REAPER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ReaperInterval = d
		}
	}
	if v := os.Getenv("REALTIME_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HeartbeatInterval = d
		}
	}
	return cfg
}
