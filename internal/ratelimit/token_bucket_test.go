package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, "", 2, 0.001, time.Minute)

	allowed, err := bucket.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, allowed, "first token")
	allowed, _ = bucket.Allow(ctx)
	assert.True(t, allowed, "second token")
	allowed, _ = bucket.Allow(ctx)
	assert.False(t, allowed, "third token should be rejected")

	assert.True(t, mr.Exists(UpstreamKey))

	// Refill cannot be driven with miniredis.FastForward because the script
	// takes its clock from the caller.
}

func TestTokenBucketSeparateKeys(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	a := NewTokenBucket(client, "a", 1, 0.001, time.Minute)
	b := NewTokenBucket(client, "b", 1, 0.001, time.Minute)

	ok, _ := a.Allow(ctx)
	assert.True(t, ok)
	ok, _ = a.Allow(ctx)
	assert.False(t, ok)
	ok, _ = b.Allow(ctx)
	assert.True(t, ok)
}

func TestTokenBucketRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	_, err = NewTokenBucket(client, "", 1, 1, time.Minute).Allow(context.Background())
	assert.Error(t, err)
}
