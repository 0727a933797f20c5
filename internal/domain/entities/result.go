package entities

import "time"

// SourceFetchStatus is the terminal outcome of one adapter's fetch attempt
type SourceFetchStatus string

const (
	SourceStatusSuccess  SourceFetchStatus = "success"
	SourceStatusError    SourceFetchStatus = "error"
	SourceStatusTimeout  SourceFetchStatus = "timeout"
	SourceStatusDisabled SourceFetchStatus = "disabled"
)

// SourceResult records the outcome of one adapter's participation in one
// consolidation run. Immutable once produced.
type SourceResult struct {
	SourceCode   string            `json:"source_code"`
	RecordCount  int               `json:"record_count"`
	DurationMs   int64             `json:"duration_ms"`
	Status       SourceFetchStatus `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// ConsolidationResult is the aggregate outcome of one consolidation run
type ConsolidationResult struct {
	Records          []UnifiedRecord `json:"records"`
	TotalBeforeDedup int             `json:"total_before_dedup"`
	TotalAfterDedup  int             `json:"total_after_dedup"`
	SourceResults    []SourceResult  `json:"source_results"`
	SucceededSources []string        `json:"succeeded_sources"`
	FailedSources    []string        `json:"failed_sources"`
	IsPartial        bool            `json:"is_partial"`
	Cached           bool            `json:"cached"`
	CachedAt         *time.Time      `json:"cached_at,omitempty"`
	ElapsedMs        int64           `json:"elapsed_ms"`
}
