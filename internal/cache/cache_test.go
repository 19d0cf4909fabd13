package cache

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vies-gateway/internal/config"
	"vies-gateway/internal/logger"
	"vies-gateway/internal/models"
)

func sampleEntry(date time.Time, valid bool) models.CacheEntry {
	return models.CacheEntry{
		VATNumber: "SE502070882101",
		Date:      models.Day(date),
		Result: models.ValidationResult{
			CountryCode: "SE",
			VATNumber:   "502070882101",
			RequestDate: date.Format("2006-01-02"),
			Valid:       valid,
			Name:        "TELEFONAKTIEBOLAGET L M ERICSSON",
		},
	}
}

// exerciseCache checks the get/put contract every backend shares.
func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	_, found, err := c.Get(ctx, "SE502070882101")
	require.NoError(t, err)
	assert.False(t, found)

	first := sampleEntry(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), true)
	require.NoError(t, c.Put(ctx, first))

	got, found, err := c.Get(ctx, "SE502070882101")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.Result, got.Result)
	assert.True(t, first.Date.Equal(got.Date))

	second := sampleEntry(time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC), false)
	require.NoError(t, c.Put(ctx, second))

	got, found, err = c.Get(ctx, "SE502070882101")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, got.Result.Valid)
	assert.True(t, second.Date.Equal(got.Date))

	_, found, err = c.Get(ctx, "GB0000000")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Nop{}
	require.NoError(t, c.Put(ctx, sampleEntry(time.Now(), true)))
	_, found, err := c.Get(ctx, "SE502070882101")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, c.Close())
}

func TestMemory(t *testing.T) {
	c, err := NewMemory(4)
	require.NoError(t, err)
	exerciseCache(t, c)
}

func TestMemoryEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory(1)
	require.NoError(t, err)

	a := sampleEntry(time.Now(), true)
	b := a
	b.VATNumber = "GB0000000"
	require.NoError(t, c.Put(ctx, a))
	require.NoError(t, c.Put(ctx, b))

	_, found, _ := c.Get(ctx, a.VATNumber)
	assert.False(t, found)
	_, found, _ = c.Get(ctx, b.VATNumber)
	assert.True(t, found)
}

func TestRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	c := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	defer c.Close()
	exerciseCache(t, c)

	assert.True(t, mr.Exists("test:SE502070882101"))
	assert.Zero(t, mr.TTL("test:SE502070882101"))
}

func TestRedisCorruptEntry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	require.NoError(t, mr.Set("vies:cache:SE502070882101", "{not json"))

	c := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	_, found, err := c.Get(context.Background(), "SE502070882101")
	assert.Error(t, err)
	assert.False(t, found)
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeObjectStore) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(raw))}, nil
}

func (f *fakeObjectStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	raw, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = raw
	return &s3.PutObjectOutput{}, nil
}

func TestS3(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{}}
	c := newS3WithClient(store, "bucket", "cache/")
	exerciseCache(t, c)

	_, ok := store.objects["bucket/cache/SE502070882101.json"]
	assert.True(t, ok)
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), config.Config{})
	assert.Error(t, err)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pg, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	defer pg.Close()
	require.NoError(t, pg.RunMigrations(ctx))
	_, err = pg.pool.Exec(ctx, `DELETE FROM vat_cache WHERE vat_number IN ('SE502070882101', 'GB0000000')`)
	require.NoError(t, err)

	exerciseCache(t, pg)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	log := logger.Discard()

	c, err := Open(ctx, config.Config{CacheBackend: "none"}, log)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, c)

	c, err = Open(ctx, config.Config{CacheBackend: "memory", CacheMemorySize: 8}, log)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	c, err = Open(ctx, config.Config{CacheBackend: "redis", RedisAddr: mr.Addr()}, log)
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, c)
	exerciseCache(t, c)

	_, err = Open(ctx, config.Config{CacheBackend: "mongo"}, log)
	assert.Error(t, err)
}
