package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/providers"
	"github.com/govscan/licitahub/backend/internal/infrastructure/observability"
	"github.com/govscan/licitahub/backend/pkg/config"
)

const resultKeyPrefix = "results:"

// cacheWriteQueueSize bounds the async write backlog. When full, new writes
// are dropped rather than blocking a search response.
const cacheWriteQueueSize = 64

// ResultCache layers a fast in-process tier over a durable tier. Reads fall
// through memory to durable and backfill on the way out; writes go to both
// tiers asynchronously. Empty result sets are never stored, so a window of
// source downtime cannot poison later searches.
type ResultCache struct {
	memory  providers.CacheProvider
	durable providers.CacheProvider
	cfg     config.ConsolidationConfig
	metrics *observability.Metrics

	writes chan cacheWrite
	done   chan struct{}
}

type cacheWrite struct {
	key   string
	entry *entities.CacheEntry
}

// NewResultCache creates the two-tier result cache. Either tier may be nil;
// a nil durable tier leaves the cache memory-only.
func NewResultCache(memory, durable providers.CacheProvider, cfg config.ConsolidationConfig, metrics *observability.Metrics) *ResultCache {
	c := &ResultCache{
		memory:  memory,
		durable: durable,
		cfg:     cfg,
		metrics: metrics,
		writes:  make(chan cacheWrite, cacheWriteQueueSize),
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Get returns the cached entry for a params hash, or nil on miss. Tier
// errors are treated as misses.
func (c *ResultCache) Get(ctx context.Context, paramsHash string) *entities.CacheEntry {
	key := resultKeyPrefix + paramsHash

	if c.memory != nil {
		if data, err := c.memory.Get(ctx, key); err == nil {
			if entry := decodeEntry(data); entry != nil {
				c.recordHit(ctx, "memory")
				return entry
			}
		}
		c.recordMiss(ctx, "memory")
	}

	if c.durable != nil {
		if data, err := c.durable.Get(ctx, key); err == nil {
			if entry := decodeEntry(data); entry != nil {
				c.recordHit(ctx, "durable")
				// Backfill the fast tier so the next read stays local
				if c.memory != nil {
					if err := c.memory.Set(ctx, key, data, int(c.cfg.MemoryCacheTTL.Seconds())); err != nil {
						log.Printf("Failed to backfill memory cache: %v", err)
					}
				}
				return entry
			}
		}
		c.recordMiss(ctx, "durable")
	}

	return nil
}

// Put queues an entry for asynchronous storage in both tiers. Entries with
// no records are discarded. Never blocks the caller.
func (c *ResultCache) Put(paramsHash string, records []entities.UnifiedRecord, sourcesUsed []string) {
	if len(records) == 0 {
		return
	}

	entry := &entities.CacheEntry{
		ParamsHash:  paramsHash,
		Records:     records,
		TotalCount:  len(records),
		FetchedAt:   time.Now(),
		SourcesUsed: sourcesUsed,
	}

	select {
	case c.writes <- cacheWrite{key: resultKeyPrefix + paramsHash, entry: entry}:
	default:
		log.Printf("Result cache write queue full, dropping entry for %s", paramsHash)
	}
}

// Close stops the background writer
func (c *ResultCache) Close() {
	close(c.done)
}

func (c *ResultCache) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case write := <-c.writes:
			c.store(write)
		}
	}
}

func (c *ResultCache) store(write cacheWrite) {
	data, err := json.Marshal(write.entry)
	if err != nil {
		log.Printf("Failed to marshal cache entry: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.memory != nil {
		if err := c.memory.Set(ctx, write.key, data, int(c.cfg.MemoryCacheTTL.Seconds())); err != nil {
			log.Printf("Failed to write memory cache tier: %v", err)
		}
	}
	if c.durable != nil {
		if err := c.durable.Set(ctx, write.key, data, int(c.cfg.DurableCacheTTL.Seconds())); err != nil {
			log.Printf("Failed to write durable cache tier: %v", err)
		}
	}
}

func (c *ResultCache) recordHit(ctx context.Context, tier string) {
	if c.metrics != nil {
		observability.RecordCacheHit(ctx, c.metrics, tier)
	}
}

func (c *ResultCache) recordMiss(ctx context.Context, tier string) {
	if c.metrics != nil {
		observability.RecordCacheMiss(ctx, c.metrics, tier)
	}
}

func decodeEntry(data []byte) *entities.CacheEntry {
	var entry entities.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Printf("Failed to decode cache entry: %v", err)
		return nil
	}
	if len(entry.Records) == 0 {
		return nil
	}
	return &entry
}
