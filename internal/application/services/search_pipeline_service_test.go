package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/providers"
	apperrors "github.com/govscan/licitahub/backend/pkg/errors"
)

type pipelineFixture struct {
	pipeline *SearchPipelineService
	repo     *fakeSessionRepo
	bus      *fakeEventBus
	indexer  *fakeIndexer
	cache    *ResultCache
	adapters []*fakeAdapter
}

func newPipelineFixture(t *testing.T, adapters ...*fakeAdapter) *pipelineFixture {
	t.Helper()

	cfg := testConsolidationConfig()
	sourceAdapters := make([]providers.SourceAdapter, 0, len(adapters))
	for _, a := range adapters {
		sourceAdapters = append(sourceAdapters, a)
	}

	repo := newFakeSessionRepo()
	bus := &fakeEventBus{}
	indexer := &fakeIndexer{}
	cache := NewResultCache(newMemCacheProvider(), newMemCacheProvider(), cfg, nil)
	t.Cleanup(cache.Close)

	consolidation := NewConsolidationService(sourceAdapters, cfg, nil, nil)
	states := NewSearchStateManager(repo, cfg.SessionStaleAfter)

	return &pipelineFixture{
		pipeline: NewSearchPipelineService(consolidation, cache, states, bus, indexer),
		repo:     repo,
		bus:      bus,
		indexer:  indexer,
		cache:    cache,
		adapters: adapters,
	}
}

func testParams() entities.SearchParams {
	return entities.SearchParams{
		Sector:     "saude",
		Regions:    []string{"SP"},
		SearchMode: "consolidated",
		DateRange:  testWindow,
	}
}

func TestSearchPipeline_FreshSearch(t *testing.T) {
	published := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	f := newPipelineFixture(t,
		&fakeAdapter{code: "pncp", priority: 1, records: []entities.UnifiedRecord{
			testRecord("pncp", "111", "1/2025", 2025, published),
			testRecord("pncp", "111", "2/2025", 2025, published),
		}},
	)

	result, session, err := f.pipeline.Search(context.Background(), testParams())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Len(t, result.Records, 2)
	assert.False(t, result.Cached)

	stored, err := f.repo.GetSession(context.Background(), session.SearchID)
	require.NoError(t, err)
	assert.Equal(t, entities.SessionCompleted, stored.Status)

	// Per-source progress was published under the search's channel
	events := f.bus.published()
	require.NotEmpty(t, events)
	for _, event := range events {
		assert.Equal(t, session.SearchID, event.SearchID)
		assert.Equal(t, entities.StageSourceStatus, event.Stage)
	}

	// Records were handed to the indexer in the background
	require.Eventually(t, func() bool { return f.indexer.indexedCount() == 2 }, time.Second, 10*time.Millisecond)
}

func TestSearchPipeline_SecondSearchServedFromCache(t *testing.T) {
	published := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{code: "pncp", priority: 1, records: []entities.UnifiedRecord{
		testRecord("pncp", "111", "1/2025", 2025, published),
	}}
	f := newPipelineFixture(t, adapter)

	_, _, err := f.pipeline.Search(context.Background(), testParams())
	require.NoError(t, err)

	// Wait for the async cache write, then make live fetches impossible
	require.Eventually(t, func() bool {
		return f.cache.Get(context.Background(), testParams().ParamsHash()) != nil
	}, time.Second, 10*time.Millisecond)
	adapter.err = fmt.Errorf("source is down now")
	adapter.records = nil

	result, _, err := f.pipeline.Search(context.Background(), testParams())
	require.NoError(t, err)
	assert.True(t, result.Cached)
	require.NotNil(t, result.CachedAt)
	assert.Len(t, result.Records, 1)
}

func TestSearchPipeline_CacheKeyIgnoresDateRange(t *testing.T) {
	published := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{code: "pncp", priority: 1, records: []entities.UnifiedRecord{
		testRecord("pncp", "111", "1/2025", 2025, published),
	}}
	f := newPipelineFixture(t, adapter)

	_, _, err := f.pipeline.Search(context.Background(), testParams())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.cache.Get(context.Background(), testParams().ParamsHash()) != nil
	}, time.Second, 10*time.Millisecond)
	adapter.err = fmt.Errorf("down")
	adapter.records = nil

	shifted := testParams()
	shifted.DateRange.From = shifted.DateRange.From.AddDate(0, 0, -7)

	result, _, err := f.pipeline.Search(context.Background(), shifted)
	require.NoError(t, err)
	assert.True(t, result.Cached, "a drifted date range still hits the cache")
}

func TestSearchPipeline_ForceFreshBypassesCacheRead(t *testing.T) {
	published := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{code: "pncp", priority: 1, records: []entities.UnifiedRecord{
		testRecord("pncp", "111", "1/2025", 2025, published),
	}}
	f := newPipelineFixture(t, adapter)

	_, _, err := f.pipeline.Search(context.Background(), testParams())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.cache.Get(context.Background(), testParams().ParamsHash()) != nil
	}, time.Second, 10*time.Millisecond)

	params := testParams()
	params.ForceFresh = true
	result, _, err := f.pipeline.Search(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, result.Cached, "force_fresh must fetch live even with a cached entry")

	// And a failing live fetch must not silently fall back to cache
	adapter.err = fmt.Errorf("down")
	adapter.records = nil
	result, _, err = f.pipeline.Search(context.Background(), params)
	assert.Nil(t, result)
	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeUnavailable, appErr.Type)
}

func TestSearchPipeline_AllSourcesFailedWithoutCache(t *testing.T) {
	adapter := &fakeAdapter{code: "pncp", priority: 1, err: fmt.Errorf("down")}
	f := newPipelineFixture(t, adapter)

	result, session, err := f.pipeline.Search(context.Background(), testParams())
	assert.Nil(t, result)
	require.Error(t, err)

	stored, getErr := f.repo.GetSession(context.Background(), session.SearchID)
	require.NoError(t, getErr)
	assert.Equal(t, entities.SessionFailed, stored.Status)
	assert.Equal(t, ErrCodeAllSourcesFailed, stored.ErrorCode)
}

func TestSearchPipeline_CachedOnlyMiss(t *testing.T) {
	f := newPipelineFixture(t, &fakeAdapter{code: "pncp", priority: 1})

	params := testParams()
	params.CachedOnly = true

	result, session, err := f.pipeline.Search(context.Background(), params)
	assert.Nil(t, result)
	require.Error(t, err)

	stored, getErr := f.repo.GetSession(context.Background(), session.SearchID)
	require.NoError(t, getErr)
	assert.Equal(t, entities.SessionFailed, stored.Status)
	assert.Equal(t, ErrCodeCachedOnlyMiss, stored.ErrorCode)
}

func TestSearchPipeline_EmptyResultNotCached(t *testing.T) {
	f := newPipelineFixture(t, &fakeAdapter{code: "pncp", priority: 1})

	result, _, err := f.pipeline.Search(context.Background(), testParams())
	require.NoError(t, err)
	assert.Empty(t, result.Records)

	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, f.cache.Get(context.Background(), testParams().ParamsHash()),
		"an empty result must never be cached")
}

func TestSearchPipeline_PartialRunReportsFailedSources(t *testing.T) {
	published := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	f := newPipelineFixture(t,
		&fakeAdapter{code: "pncp", priority: 1, records: []entities.UnifiedRecord{
			testRecord("pncp", "111", "1/2025", 2025, published),
		}},
		&fakeAdapter{code: "comprasgov", priority: 2, err: fmt.Errorf("boom")},
	)

	result, session, err := f.pipeline.Search(context.Background(), testParams())
	require.NoError(t, err)
	require.True(t, result.IsPartial)

	stored, getErr := f.repo.GetSession(context.Background(), session.SearchID)
	require.NoError(t, getErr)
	assert.Empty(t, stored.FailedRegions,
		"a source failure spans every requested region, it cannot be pinned to one")

	transitions := f.repo.transitionsFor(session.SearchID)
	require.NotEmpty(t, transitions)
	last := transitions[len(transitions)-1]
	assert.Equal(t, entities.SessionCompleted, last.ToState)
	assert.Contains(t, string(last.DetailsJSON), `"failed_sources":["comprasgov"]`)
}

func TestSearchPipeline_CallerHangsUp(t *testing.T) {
	published := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	f := newPipelineFixture(t,
		&fakeAdapter{code: "pncp", priority: 1, delay: time.Second, records: []entities.UnifiedRecord{
			testRecord("pncp", "111", "1/2025", 2025, published),
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, session, err := f.pipeline.Search(ctx, testParams())
	assert.Nil(t, result)
	require.ErrorIs(t, err, context.Canceled)

	stored, getErr := f.repo.GetSession(context.Background(), session.SearchID)
	require.NoError(t, getErr)
	assert.Equal(t, entities.SessionCancelled, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
}
