package services

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/providers"
	"github.com/govscan/licitahub/backend/internal/domain/repositories"
	apperrors "github.com/govscan/licitahub/backend/pkg/errors"
)

// Pipeline stage names recorded on sessions and transitions
const (
	StageCacheLookup = "cache_lookup"
	StageFetching    = "fetching"
	StageIndexing    = "indexing"
	StageDone        = "done"
)

// Session error codes
const (
	ErrCodeAllSourcesFailed = "ALL_SOURCES_FAILED"
	ErrCodeCachedOnlyMiss   = "CACHED_ONLY_MISS"
)

// SearchPipelineService runs one search end to end: session bookkeeping,
// cache lookup, live consolidation, progress events, cache write-back and
// optional search indexing. When every source fails it falls back to a
// cached result rather than serving an error, unless the caller demanded
// fresh data.
type SearchPipelineService struct {
	consolidation *ConsolidationService
	cache         *ResultCache
	states        *SearchStateManager
	bus           providers.EventBus
	indexer       repositories.ListingIndexRepository
}

// NewSearchPipelineService creates the pipeline. bus and indexer may be nil.
func NewSearchPipelineService(
	consolidation *ConsolidationService,
	cache *ResultCache,
	states *SearchStateManager,
	bus providers.EventBus,
	indexer repositories.ListingIndexRepository,
) *SearchPipelineService {
	return &SearchPipelineService{
		consolidation: consolidation,
		cache:         cache,
		states:        states,
		bus:           bus,
		indexer:       indexer,
	}
}

// States exposes the session manager for read-side handlers
func (s *SearchPipelineService) States() *SearchStateManager {
	return s.states
}

// Search executes one search. The returned session carries the search ID
// that progress events were published under.
func (s *SearchPipelineService) Search(ctx context.Context, params entities.SearchParams) (*entities.ConsolidationResult, *entities.SearchSession, error) {
	session, err := s.states.Create(ctx)
	if err != nil {
		return nil, nil, apperrors.NewInternalError("failed to create search session", err)
	}

	if err := s.states.Transition(ctx, session, entities.SessionProcessing, StageCacheLookup, nil); err != nil {
		return nil, session, err
	}

	paramsHash := params.ParamsHash()

	// ForceFresh bypasses the read path only; the write path still runs
	if !params.ForceFresh {
		if entry := s.cache.Get(ctx, paramsHash); entry != nil {
			result := resultFromCache(entry)
			_ = s.states.Transition(ctx, session, entities.SessionCompleted, StageDone, map[string]interface{}{
				"records": result.TotalAfterDedup,
				"cached":  true,
			})
			return result, session, nil
		}
	}

	if params.CachedOnly {
		_ = s.states.Fail(ctx, session, ErrCodeCachedOnlyMiss, StageCacheLookup)
		return nil, session, apperrors.NewNotFoundError("no cached result for these parameters")
	}

	if err := s.states.Transition(ctx, session, entities.SessionProcessing, StageFetching, nil); err != nil {
		return nil, session, err
	}

	result, err := s.consolidation.Consolidate(ctx, params.DateRange, params.Regions, FetchOptions{
		Progress: s.progressPublisher(session.SearchID),
	})
	if err != nil {
		// A caller that hung up mid-fetch gets a cancelled session, not a
		// failed one. The request context is dead, so persist on a fresh one.
		if errors.Is(ctx.Err(), context.Canceled) {
			bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.states.Transition(bgCtx, session, entities.SessionCancelled, StageFetching, nil)
			return nil, session, ctx.Err()
		}
		var allFailed *AllSourcesFailedError
		if errors.As(err, &allFailed) {
			return s.handleAllSourcesFailed(ctx, session, params, paramsHash, allFailed)
		}
		_ = s.states.Fail(ctx, session, "INTERNAL", StageFetching)
		return nil, session, apperrors.NewInternalError("consolidation failed", err)
	}

	s.cache.Put(paramsHash, result.Records, result.SucceededSources)
	s.indexAsync(result.Records)

	details := map[string]interface{}{
		"records": result.TotalAfterDedup,
		"partial": result.IsPartial,
	}
	if result.IsPartial {
		details["failed_sources"] = result.FailedSources
	}
	_ = s.states.Transition(ctx, session, entities.SessionCompleted, StageDone, details)

	return result, session, nil
}

// handleAllSourcesFailed serves a cached result when one exists and the
// caller allows it; otherwise the honest outcome is unavailability.
func (s *SearchPipelineService) handleAllSourcesFailed(ctx context.Context, session *entities.SearchSession, params entities.SearchParams, paramsHash string, allFailed *AllSourcesFailedError) (*entities.ConsolidationResult, *entities.SearchSession, error) {
	if !params.ForceFresh {
		if entry := s.cache.Get(ctx, paramsHash); entry != nil {
			log.Printf("All sources failed, serving cached result from %v for search %s", entry.FetchedAt, session.SearchID)
			result := resultFromCache(entry)
			_ = s.states.Transition(ctx, session, entities.SessionCompleted, StageDone, map[string]interface{}{
				"records":        result.TotalAfterDedup,
				"cached":         true,
				"stale_fallback": true,
				"failed_sources": failedSourceCodes(allFailed),
			})
			return result, session, nil
		}
	}

	_ = s.states.Fail(ctx, session, ErrCodeAllSourcesFailed, StageFetching)
	return nil, session, apperrors.NewUnavailableError("all sources failed", allFailed)
}

func failedSourceCodes(allFailed *AllSourcesFailedError) []string {
	codes := make([]string, 0, len(allFailed.SourceErrors))
	for code := range allFailed.SourceErrors {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// progressPublisher maps consolidation progress onto bus events for the
// search's channel. Publish failures are logged, never surfaced.
func (s *SearchPipelineService) progressPublisher(searchID string) ProgressReporter {
	if s.bus == nil {
		return nil
	}

	channel := providers.GetSearchChannel(searchID)
	return func(source string, status entities.SourceProgressStatus, count, attempt *int) {
		event := &entities.SearchProgressEvent{
			Stage:     entities.StageSourceStatus,
			SearchID:  searchID,
			Source:    source,
			Status:    status,
			Count:     count,
			Attempt:   attempt,
			Timestamp: time.Now(),
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.bus.Publish(ctx, channel, event); err != nil {
			log.Printf("Failed to publish progress event for %s: %v", searchID, err)
		}
	}
}

// indexAsync pushes the consolidated records into the search index without
// blocking the response
func (s *SearchPipelineService) indexAsync(records []entities.UnifiedRecord) {
	if s.indexer == nil || len(records) == 0 {
		return
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := s.indexer.IndexBatch(bgCtx, records); err != nil {
			log.Printf("Failed to index consolidated records: %v", err)
		}
	}()
}

func resultFromCache(entry *entities.CacheEntry) *entities.ConsolidationResult {
	fetchedAt := entry.FetchedAt
	return &entities.ConsolidationResult{
		Records:          entry.Records,
		TotalBeforeDedup: entry.TotalCount,
		TotalAfterDedup:  len(entry.Records),
		SucceededSources: entry.SourcesUsed,
		FailedSources:    []string{},
		Cached:           true,
		CachedAt:         &fetchedAt,
	}
}
