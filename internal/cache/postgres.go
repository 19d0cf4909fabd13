package cache

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vies-gateway/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Postgres persists entries in the vat_cache table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// RunMigrations executes the embedded SQL migrations in order.
func (p *Postgres) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := p.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Get loads the row for vatNumber.
func (p *Postgres) Get(ctx context.Context, vatNumber string) (models.CacheEntry, bool, error) {
	var (
		date time.Time
		raw  []byte
	)
	err := p.pool.QueryRow(ctx, `
		SELECT result_date, result FROM vat_cache WHERE vat_number = $1
	`, vatNumber).Scan(&date, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("query cache entry: %w", err)
	}
	entry := models.CacheEntry{VATNumber: vatNumber, Date: models.Day(date)}
	if err := json.Unmarshal(raw, &entry.Result); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("unmarshal cached result: %w", err)
	}
	return entry, true, nil
}

// Put upserts atomically; the newest write wins.
func (p *Postgres) Put(ctx context.Context, entry models.CacheEntry) error {
	raw, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO vat_cache (vat_number, result_date, result, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (vat_number) DO UPDATE
		SET result_date = EXCLUDED.result_date, result = EXCLUDED.result, updated_at = NOW()
	`, entry.VATNumber, models.Day(entry.Date), raw)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Close shuts the pool down.
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
