package providers

import (
	"context"
	"time"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
)

// BreakerStateStore persists a read-mostly mirror of each circuit breaker's
// state so it survives restarts. The breaker is the only writer; the mirror
// is consulted once, at process start. A nil or failing store must never
// change breaker behavior beyond losing persistence.
type BreakerStateStore interface {
	// Load returns the persisted state for a source, or nil when absent
	Load(ctx context.Context, sourceCode string) (*entities.BreakerState, error)

	// Save persists the state with a TTL slightly longer than the cooldown
	Save(ctx context.Context, state *entities.BreakerState, ttl time.Duration) error
}
