package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"vies-gateway/internal/models"
)

// Memory is a process-local LRU. It does not survive restarts.
type Memory struct {
	entries *lru.Cache[string, models.CacheEntry]
}

// NewMemory builds an LRU holding at most size numbers.
func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = 10000
	}
	c, err := lru.New[string, models.CacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Memory{entries: c}, nil
}

// Get returns the entry for vatNumber and marks it recently used.
func (m *Memory) Get(_ context.Context, vatNumber string) (models.CacheEntry, bool, error) {
	e, ok := m.entries.Get(vatNumber)
	return e, ok, nil
}

// Put stores entry, evicting the least recently used one when full.
func (m *Memory) Put(_ context.Context, entry models.CacheEntry) error {
	m.entries.Add(entry.VATNumber, entry)
	return nil
}

// Close drops every entry.
func (m *Memory) Close() error {
	m.entries.Purge()
	return nil
}
