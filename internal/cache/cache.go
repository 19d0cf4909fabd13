package cache

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"vies-gateway/internal/config"
	"vies-gateway/internal/models"
)

// Cache stores the newest successful validation per VAT number. Entries never
// expire; freshness is decided by the reader.
type Cache interface {
	// Get returns the stored entry. found is false when nothing is stored.
	Get(ctx context.Context, vatNumber string) (entry models.CacheEntry, found bool, err error)
	// Put upserts an entry keyed by entry.VATNumber.
	Put(ctx context.Context, entry models.CacheEntry) error
	Close() error
}

// Open builds the backend named by cfg.CacheBackend.
func Open(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (Cache, error) {
	switch cfg.CacheBackend {
	case "", "none", "off":
		log.Info("result cache disabled")
		return Nop{}, nil
	case "memory":
		return NewMemory(cfg.CacheMemorySize)
	case "redis":
		return NewRedis(cfg), nil
	case "postgres":
		pg, err := NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("cache migrations: %w", err)
		}
		return pg, nil
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

// Nop is the disabled cache: nothing is ever found and writes are dropped.
type Nop struct{}

// Get always reports a miss.
func (Nop) Get(context.Context, string) (models.CacheEntry, bool, error) {
	return models.CacheEntry{}, false, nil
}

// Put discards the entry.
func (Nop) Put(context.Context, models.CacheEntry) error { return nil }

// Close is a no-op.
func (Nop) Close() error { return nil }
