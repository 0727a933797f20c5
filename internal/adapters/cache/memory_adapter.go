package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/govscan/licitahub/backend/internal/domain/providers"
)

// MemoryAdapter implements the CacheProvider interface with an in-process
// expirable LRU. It is the fast tier of the result cache and only survives
// for the process lifetime.
type MemoryAdapter struct {
	cache *lru.LRU[string, []byte]
}

// NewMemoryAdapter creates an in-memory cache holding at most size entries,
// each expiring after ttl.
func NewMemoryAdapter(size int, ttl time.Duration) providers.CacheProvider {
	if size <= 0 {
		size = 256
	}
	return &MemoryAdapter{
		cache: lru.NewLRU[string, []byte](size, nil, ttl),
	}
}

// Get retrieves a value from cache
func (a *MemoryAdapter) Get(_ context.Context, key string) ([]byte, error) {
	if value, ok := a.cache.Get(key); ok {
		return value, nil
	}
	return nil, fmt.Errorf("key not found: %s", key)
}

// Set stores a value. The per-entry TTL is fixed at construction; the
// expirationSeconds argument is accepted for interface compatibility.
func (a *MemoryAdapter) Set(_ context.Context, key string, value []byte, _ int) error {
	a.cache.Add(key, value)
	return nil
}

// Delete removes a value from cache
func (a *MemoryAdapter) Delete(_ context.Context, key string) error {
	a.cache.Remove(key)
	return nil
}

// Exists checks if a key exists in cache
func (a *MemoryAdapter) Exists(_ context.Context, key string) (bool, error) {
	return a.cache.Contains(key), nil
}
