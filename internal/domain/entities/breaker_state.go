package entities

import "time"

// BreakerState is the per-source circuit breaker state. Owned exclusively by
// the source's CircuitBreaker instance; the persisted copy in Redis is a
// read-mostly mirror used only for restart recovery.
type BreakerState struct {
	SourceCode          string     `json:"source_code"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	DegradedUntil       *time.Time `json:"degraded_until,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsDegraded reports whether the source is within its degraded window
func (s *BreakerState) IsDegraded(now time.Time) bool {
	return s.DegradedUntil != nil && now.Before(*s.DegradedUntil)
}

// Clone returns a copy safe to publish outside the breaker's lock
func (s *BreakerState) Clone() *BreakerState {
	out := *s
	if s.DegradedUntil != nil {
		t := *s.DegradedUntil
		out.DegradedUntil = &t
	}
	return &out
}
