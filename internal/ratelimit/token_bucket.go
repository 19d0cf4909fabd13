package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// UpstreamKey is the bucket shared by every gateway instance calling VIES.
const UpstreamKey = "vies:ratelimit:upstream"

// TokenBucket paces calls to the upstream service across processes using a
// token bucket kept in Redis.
type TokenBucket struct {
	client   *redis.Client
	key      string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewTokenBucket constructs a bucket with the provided capacity/refill. An
// empty key uses UpstreamKey.
func NewTokenBucket(client *redis.Client, key string, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	if key == "" {
		key = UpstreamKey
	}
	return &TokenBucket{
		client:   client,
		key:      key,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes a single token if one is available.
func (b *TokenBucket) Allow(ctx context.Context) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{b.key}, b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("token bucket: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 1 {
		return false, fmt.Errorf("token bucket: unexpected reply %T", res)
	}
	allowed, ok := arr[0].(int64)
	if !ok {
		return false, fmt.Errorf("token bucket: unexpected flag %T", arr[0])
	}
	return allowed == 1, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed}
`)
