package entities

import (
	"context"
	"time"
)

// SourceProgressStatus is one step in a source's live progress
type SourceProgressStatus string

const (
	ProgressPending   SourceProgressStatus = "pending"
	ProgressFetching  SourceProgressStatus = "fetching"
	ProgressRetrying  SourceProgressStatus = "retrying"
	ProgressSuccess   SourceProgressStatus = "success"
	ProgressFailed    SourceProgressStatus = "failed"
	ProgressRecovered SourceProgressStatus = "recovered"
)

// SearchProgressEvent is published on the event bus while a consolidation
// run is in flight, so a UI can render per-source progress in real time.
type SearchProgressEvent struct {
	Stage     string               `json:"stage"`
	SearchID  string               `json:"search_id"`
	Source    string               `json:"source"`
	Status    SourceProgressStatus `json:"status"`
	Count     *int                 `json:"count,omitempty"`
	Attempt   *int                 `json:"attempt,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// StageSourceStatus is the stage value for per-source progress events
const StageSourceStatus = "source_status"

// ProgressFunc receives progress updates for a single source's fetch.
// Adapters report retry attempts through it; the orchestrator reports the
// coarser lifecycle steps.
type ProgressFunc func(status SourceProgressStatus, attempt int)

type progressCtxKey struct{}

// WithProgress attaches a progress reporter to the context handed to an
// adapter's Fetch.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressCtxKey{}, fn)
}

// ProgressFromContext returns the attached reporter, or a no-op
func ProgressFromContext(ctx context.Context) ProgressFunc {
	if fn, ok := ctx.Value(progressCtxKey{}).(ProgressFunc); ok && fn != nil {
		return fn
	}
	return func(SourceProgressStatus, int) {}
}
