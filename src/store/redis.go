package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/leadpulse/realtime/src/types"
)

// historyEnvelope is the JSON payload stored per stream entry.
type historyEnvelope struct {
	UserID       string             `json:"user_id"`
	Notification types.Notification `json:"notification"`
}

// RedisHistory appends delivered notifications to a capped Redis Stream.
// It implements HistoryRecorder.
type RedisHistory struct {
	client *redis.Client
	cfg    *RedisConfig
	logger zerolog.Logger

	mu     sync.RWMutex
	active bool
}

// NewRedisHistory creates a Redis-backed history recorder. Call Start
// before use.
func NewRedisHistory(cfg *RedisConfig, logger zerolog.Logger) *RedisHistory {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisHistory{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "redis-history").Logger(),
	}
}

// Start verifies the Redis connection.
func (h *RedisHistory) Start(ctx context.Context) error {
	if err := h.client.Ping(ctx).Err(); err != nil {
		return err
	}

	h.mu.Lock()
	h.active = true
	h.mu.Unlock()

	h.logger.Info().Str("stream", h.cfg.Stream).Msg("redis history started")
	return nil
}

// Stop closes the Redis connection.
func (h *RedisHistory) Stop() error {
	h.mu.Lock()
	h.active = false
	h.mu.Unlock()
	return h.client.Close()
}

// Available reports whether the recorder is connected.
func (h *RedisHistory) Available() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// Append adds one entry to the history stream, trimming it to roughly the
// configured length.
func (h *RedisHistory) Append(ctx context.Context, userID string, n types.Notification) error {
	if !h.Available() {
		return ErrNotStarted
	}

	data, err := json.Marshal(historyEnvelope{UserID: userID, Notification: n})
	if err != nil {
		return err
	}
	return h.client.XAdd(ctx, &redis.XAddArgs{
		Stream: h.cfg.Stream,
		MaxLen: h.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{"event": data},
	}).Err()
}
