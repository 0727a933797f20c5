package entities

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// SessionStatus is the lifecycle state of one user-initiated search
type SessionStatus string

const (
	SessionCreated    SessionStatus = "created"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionTimedOut   SessionStatus = "timed_out"
	SessionCancelled  SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionTimedOut, SessionCancelled:
		return true
	}
	return false
}

// SearchSession is one user-initiated search. Mutated exclusively by the
// search state manager; every mutation also appends a SearchStateTransition.
type SearchSession struct {
	SearchID      string         `json:"search_id" db:"search_id"`
	Status        SessionStatus  `json:"status" db:"status"`
	PipelineStage string         `json:"pipeline_stage,omitempty" db:"pipeline_stage"`
	StartedAt     time.Time      `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	ErrorCode string `json:"error_code,omitempty" db:"error_code"`

	// FailedRegions lists regions whose listings are known missing from the
	// result. A source failure affects every requested region at once and is
	// reported through the failed_sources transition detail instead, so this
	// is only populated when a failure can be pinned to specific regions.
	FailedRegions pq.StringArray `json:"failed_regions" db:"failed_regions"`

	// LastTransitionAt feeds the per-transition elapsed time; it is not part
	// of the persisted session row.
	LastTransitionAt time.Time `json:"-" db:"-"`
}

// SearchStateTransition is one append-only audit row. Never updated or
// deleted.
type SearchStateTransition struct {
	ID                      string          `json:"id" db:"id"`
	SearchID                string          `json:"search_id" db:"search_id"`
	FromState               SessionStatus   `json:"from_state" db:"from_state"`
	ToState                 SessionStatus   `json:"to_state" db:"to_state"`
	Stage                   string          `json:"stage,omitempty" db:"stage"`
	DetailsJSON             json.RawMessage `json:"details,omitempty" db:"details_json"`
	DurationSincePreviousMs int64           `json:"duration_since_previous_ms" db:"duration_since_previous_ms"`
	CreatedAt               time.Time       `json:"created_at" db:"created_at"`
}
