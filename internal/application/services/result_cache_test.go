package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
)

func cachedRecords(n int) []entities.UnifiedRecord {
	published := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	records := make([]entities.UnifiedRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, testRecord("pncp", "111", time.Now().Format("150405")+string(rune('a'+i)), 2025, published))
	}
	return records
}

func TestResultCache_WriteThenRead(t *testing.T) {
	memory := newMemCacheProvider()
	durable := newMemCacheProvider()
	cache := NewResultCache(memory, durable, testConsolidationConfig(), nil)
	defer cache.Close()

	cache.Put("hash-1", cachedRecords(3), []string{"pncp"})

	require.Eventually(t, func() bool {
		return cache.Get(context.Background(), "hash-1") != nil
	}, time.Second, 10*time.Millisecond)

	entry := cache.Get(context.Background(), "hash-1")
	require.NotNil(t, entry)
	assert.Len(t, entry.Records, 3)
	assert.Equal(t, []string{"pncp"}, entry.SourcesUsed)

	// Both tiers received the write
	assert.Equal(t, 1, memory.len())
	assert.Equal(t, 1, durable.len())
}

func TestResultCache_NeverStoresEmpty(t *testing.T) {
	memory := newMemCacheProvider()
	durable := newMemCacheProvider()
	cache := NewResultCache(memory, durable, testConsolidationConfig(), nil)
	defer cache.Close()

	cache.Put("hash-empty", nil, []string{"pncp"})
	cache.Put("hash-empty", []entities.UnifiedRecord{}, []string{"pncp"})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, memory.len())
	assert.Equal(t, 0, durable.len())
	assert.Nil(t, cache.Get(context.Background(), "hash-empty"))
}

func TestResultCache_DurableHitBackfillsMemory(t *testing.T) {
	memory := newMemCacheProvider()
	durable := newMemCacheProvider()

	// Seed only the durable tier, as after a process restart
	seed := NewResultCache(nil, durable, testConsolidationConfig(), nil)
	seed.Put("hash-2", cachedRecords(2), []string{"pncp"})
	require.Eventually(t, func() bool { return durable.len() == 1 }, time.Second, 10*time.Millisecond)
	seed.Close()

	cache := NewResultCache(memory, durable, testConsolidationConfig(), nil)
	defer cache.Close()

	entry := cache.Get(context.Background(), "hash-2")
	require.NotNil(t, entry)
	assert.Equal(t, 1, memory.len(), "durable hit should backfill the memory tier")
}

func TestResultCache_MissReturnsNil(t *testing.T) {
	cache := NewResultCache(newMemCacheProvider(), newMemCacheProvider(), testConsolidationConfig(), nil)
	defer cache.Close()

	assert.Nil(t, cache.Get(context.Background(), "no-such-hash"))
}

func TestResultCache_SurvivesTierFailure(t *testing.T) {
	memory := newMemCacheProvider()
	memory.failAll = true
	durable := newMemCacheProvider()

	cache := NewResultCache(memory, durable, testConsolidationConfig(), nil)
	defer cache.Close()

	cache.Put("hash-3", cachedRecords(1), []string{"pncp"})

	require.Eventually(t, func() bool {
		return cache.Get(context.Background(), "hash-3") != nil
	}, time.Second, 10*time.Millisecond, "durable tier alone should serve the entry")
}

func TestResultCache_NilDurableTier(t *testing.T) {
	cache := NewResultCache(newMemCacheProvider(), nil, testConsolidationConfig(), nil)
	defer cache.Close()

	cache.Put("hash-4", cachedRecords(1), []string{"pncp"})
	require.Eventually(t, func() bool {
		return cache.Get(context.Background(), "hash-4") != nil
	}, time.Second, 10*time.Millisecond)
}
