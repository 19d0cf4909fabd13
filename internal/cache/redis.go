package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"vies-gateway/internal/config"
	"vies-gateway/internal/models"
)

// Redis keeps one JSON document per VAT number with no expiry.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a cache client from config.
func NewRedis(cfg config.Config) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisWithClient(client, cfg.RedisKeyPrefix)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "vies:cache:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(vatNumber string) string {
	return r.prefix + vatNumber
}

// Get reads and decodes the entry for vatNumber. A missing key is a miss.
func (r *Redis) Get(ctx context.Context, vatNumber string) (models.CacheEntry, bool, error) {
	raw, err := r.client.Get(ctx, r.key(vatNumber)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, true, nil
}

// Put overwrites the entry for its VAT number.
func (r *Redis) Put(ctx context.Context, entry models.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := r.client.Set(ctx, r.key(entry.VATNumber), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
