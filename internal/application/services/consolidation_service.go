package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/providers"
	"github.com/govscan/licitahub/backend/internal/infrastructure/clients/sourceapi"
	"github.com/govscan/licitahub/backend/internal/infrastructure/observability"
	"github.com/govscan/licitahub/backend/pkg/config"
)

// AllSourcesFailedError is returned when every attempted source failed and
// the engine is configured to treat that as an error rather than an empty
// result.
type AllSourcesFailedError struct {
	SourceErrors map[string]string
}

func (e *AllSourcesFailedError) Error() string {
	parts := make([]string, 0, len(e.SourceErrors))
	for code, msg := range e.SourceErrors {
		parts = append(parts, fmt.Sprintf("%s: %s", code, msg))
	}
	sort.Strings(parts)
	return "all sources failed: " + strings.Join(parts, "; ")
}

// ProgressReporter receives per-source progress while a consolidation run is
// in flight. count and attempt are nil when not meaningful for the status.
type ProgressReporter func(source string, status entities.SourceProgressStatus, count, attempt *int)

// FetchOptions tune one consolidation run
type FetchOptions struct {
	Progress ProgressReporter
}

// ConsolidationService fans a search out to every registered source in
// parallel, applies circuit breaker accounting, and merges the per-source
// streams into one deduplicated result. A run succeeds if at least one
// source delivers; failures of individual sources degrade the result to
// partial instead of sinking it.
type ConsolidationService struct {
	adapters []providers.SourceAdapter
	breakers map[string]*CircuitBreaker
	cfg      config.ConsolidationConfig
	metrics  *observability.Metrics
}

// NewConsolidationService creates the consolidation engine. breakerStore and
// metrics may be nil.
func NewConsolidationService(
	adapters []providers.SourceAdapter,
	cfg config.ConsolidationConfig,
	breakerStore providers.BreakerStateStore,
	metrics *observability.Metrics,
) *ConsolidationService {
	breakers := make(map[string]*CircuitBreaker, len(adapters))
	for _, adapter := range adapters {
		breakers[adapter.Code()] = NewCircuitBreaker(
			adapter.Code(),
			cfg.FailureThreshold,
			cfg.BreakerCooldown,
			breakerStore,
			metrics,
		)
	}

	return &ConsolidationService{
		adapters: adapters,
		breakers: breakers,
		cfg:      cfg,
		metrics:  metrics,
	}
}

// RestoreBreakers loads persisted breaker state for every source. Called
// once at startup.
func (s *ConsolidationService) RestoreBreakers(ctx context.Context) {
	for _, breaker := range s.breakers {
		breaker.Restore(ctx)
	}
}

// Breaker returns the breaker for a source code, or nil if unknown
func (s *ConsolidationService) Breaker(sourceCode string) *CircuitBreaker {
	return s.breakers[sourceCode]
}

// Adapters returns the registered source adapters
func (s *ConsolidationService) Adapters() []providers.SourceAdapter {
	return s.adapters
}

// sourceOutcome is one adapter's contribution to a run
type sourceOutcome struct {
	code     string
	priority int
	records  []entities.UnifiedRecord
	status   entities.SourceFetchStatus
	err      error
	duration time.Duration
}

// Consolidate runs one fan-out across all sources. Returns an
// AllSourcesFailedError only when every attempted source failed and
// FailOnAllErrors is set; otherwise partial results are returned with the
// failure detail in SourceResults.
func (s *ConsolidationService) Consolidate(ctx context.Context, dateRange entities.DateRange, regions []string, opts FetchOptions) (*entities.ConsolidationResult, error) {
	start := time.Now()

	if len(s.adapters) == 0 {
		return nil, fmt.Errorf("no sources registered")
	}

	progress := opts.Progress
	if progress == nil {
		progress = func(string, entities.SourceProgressStatus, *int, *int) {}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.GlobalTimeout)
	defer cancel()

	outcomes := make(chan sourceOutcome, len(s.adapters))
	var wg sync.WaitGroup

	for _, adapter := range s.adapters {
		progress(adapter.Code(), entities.ProgressPending, nil, nil)

		wg.Add(1)
		go func(adapter providers.SourceAdapter) {
			defer wg.Done()
			outcomes <- s.fetchOne(ctx, adapter, dateRange, regions, progress)
		}(adapter)
	}

	wg.Wait()
	close(outcomes)

	result := &entities.ConsolidationResult{
		SucceededSources: []string{},
		FailedSources:    []string{},
	}
	sourceErrors := make(map[string]string)
	var collected []sourceOutcome

	for outcome := range outcomes {
		sourceResult := entities.SourceResult{
			SourceCode:  outcome.code,
			RecordCount: len(outcome.records),
			DurationMs:  outcome.duration.Milliseconds(),
			Status:      outcome.status,
		}
		if outcome.err != nil {
			sourceResult.ErrorMessage = outcome.err.Error()
		}
		result.SourceResults = append(result.SourceResults, sourceResult)

		switch outcome.status {
		case entities.SourceStatusSuccess:
			result.SucceededSources = append(result.SucceededSources, outcome.code)
		case entities.SourceStatusDisabled:
			// Excluded from both success and failure accounting
		default:
			result.FailedSources = append(result.FailedSources, outcome.code)
			sourceErrors[outcome.code] = sourceResult.ErrorMessage
		}

		result.TotalBeforeDedup += len(outcome.records)
		collected = append(collected, outcome)

		if s.metrics != nil {
			observability.RecordSourceFetchMetric(ctx, s.metrics, outcome.code, string(outcome.status), len(outcome.records), outcome.duration)
		}
	}

	sort.Slice(result.SourceResults, func(i, j int) bool {
		return result.SourceResults[i].SourceCode < result.SourceResults[j].SourceCode
	})
	sort.Strings(result.SucceededSources)
	sort.Strings(result.FailedSources)

	if len(result.SucceededSources) == 0 {
		if s.cfg.FailOnAllErrors && len(sourceErrors) > 0 {
			return nil, &AllSourcesFailedError{SourceErrors: sourceErrors}
		}
	}

	result.Records = s.dedup(collected)
	result.TotalAfterDedup = len(result.Records)
	result.IsPartial = len(result.FailedSources) > 0 && len(result.SucceededSources) > 0
	result.ElapsedMs = time.Since(start).Milliseconds()

	log.Printf("Consolidation finished: %d sources succeeded, %d failed, %d records (%d before dedup) in %dms",
		len(result.SucceededSources), len(result.FailedSources), result.TotalAfterDedup, result.TotalBeforeDedup, result.ElapsedMs)

	return result, nil
}

// fetchOne drives a single adapter to completion, with breaker accounting
// and progress reporting
func (s *ConsolidationService) fetchOne(ctx context.Context, adapter providers.SourceAdapter, dateRange entities.DateRange, regions []string, progress ProgressReporter) sourceOutcome {
	code := adapter.Code()
	breaker := s.breakers[code]

	timeout := s.cfg.PerSourceTimeout
	if breaker != nil && breaker.IsDegraded() {
		// Degraded sources still run, with a longer leash
		timeout = s.cfg.DegradedTimeout
		log.Printf("Source %s is degraded, using %v timeout", code, timeout)
	}

	srcCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	srcCtx = entities.WithProgress(srcCtx, func(status entities.SourceProgressStatus, attempt int) {
		progress(code, status, nil, &attempt)
	})

	progress(code, entities.ProgressFetching, nil, nil)
	start := time.Now()

	recordCh, errCh := adapter.Fetch(srcCtx, dateRange, regions)

	var records []entities.UnifiedRecord
	for record := range recordCh {
		records = append(records, record)
	}
	err := <-errCh
	duration := time.Since(start)

	outcome := sourceOutcome{
		code:     code,
		priority: adapter.Priority(),
		records:  records,
		err:      err,
		duration: duration,
	}

	switch {
	case err == nil:
		outcome.status = entities.SourceStatusSuccess
		recovered := false
		if breaker != nil {
			recovered = breaker.RecordSuccess(ctx)
		}
		count := len(records)
		if recovered {
			progress(code, entities.ProgressRecovered, &count, nil)
		} else {
			progress(code, entities.ProgressSuccess, &count, nil)
		}

	case errors.Is(err, providers.ErrMissingCredentials):
		outcome.status = entities.SourceStatusDisabled
		log.Printf("Source %s skipped: credentials not configured", code)

	case sourceapi.IsClientError(err):
		// A malformed request is our bug, not source unavailability
		outcome.status = entities.SourceStatusError
		progress(code, entities.ProgressFailed, nil, nil)
		log.Printf("Source %s failed with client error: %v", code, err)

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(srcCtx.Err(), context.DeadlineExceeded):
		outcome.status = entities.SourceStatusTimeout
		if breaker != nil {
			breaker.RecordFailure(ctx)
		}
		progress(code, entities.ProgressFailed, nil, nil)
		log.Printf("Source %s timed out after %v (%d records kept)", code, duration, len(records))

	default:
		outcome.status = entities.SourceStatusError
		if breaker != nil {
			breaker.RecordFailure(ctx)
		}
		progress(code, entities.ProgressFailed, nil, nil)
		log.Printf("Source %s failed: %v (%d records kept)", code, err, len(records))
	}

	return outcome
}

// dedup merges per-source record sets by dedup key. On a collision the
// record from the lower-priority-number source wins; within the same
// priority the earlier publication date wins, then first seen.
func (s *ConsolidationService) dedup(outcomes []sourceOutcome) []entities.UnifiedRecord {
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].code < outcomes[j].code
	})

	best := make(map[string]dedupCandidate)
	seq := 0
	for _, outcome := range outcomes {
		for _, record := range outcome.records {
			seq++
			next := dedupCandidate{record: record, priority: outcome.priority, seq: seq}

			current, exists := best[record.DedupKey]
			if !exists {
				best[record.DedupKey] = next
				continue
			}
			if wins(next, current) {
				best[record.DedupKey] = next
			}
		}
	}

	merged := make([]entities.UnifiedRecord, 0, len(best))
	for _, c := range best {
		merged = append(merged, c.record)
	}

	// Newest listings first, key as a stable tiebreaker
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].PublicationDate.Equal(merged[j].PublicationDate) {
			return merged[i].PublicationDate.After(merged[j].PublicationDate)
		}
		return merged[i].DedupKey < merged[j].DedupKey
	})

	return merged
}

type dedupCandidate struct {
	record   entities.UnifiedRecord
	priority int
	seq      int
}

func wins(next, current dedupCandidate) bool {
	if next.priority != current.priority {
		return next.priority < current.priority
	}
	if !next.record.PublicationDate.Equal(current.record.PublicationDate) {
		return next.record.PublicationDate.Before(current.record.PublicationDate)
	}
	return next.seq < current.seq
}
