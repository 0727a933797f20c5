package repositories

import (
	"context"
	"time"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
)

// SessionRepository persists search sessions and their append-only audit
// trail. Transition rows are never updated or deleted.
type SessionRepository interface {
	// CreateSession inserts a new session row
	CreateSession(ctx context.Context, session *entities.SearchSession) error

	// UpdateSession updates the mutable fields of a session row
	UpdateSession(ctx context.Context, session *entities.SearchSession) error

	// GetSession retrieves a session by its search ID
	GetSession(ctx context.Context, searchID string) (*entities.SearchSession, error)

	// AppendTransition appends one audit row
	AppendTransition(ctx context.Context, transition *entities.SearchStateTransition) error

	// ListTransitions returns a session's audit rows in append order
	ListTransitions(ctx context.Context, searchID string) ([]*entities.SearchStateTransition, error)

	// ListStaleProcessing returns sessions still processing that started
	// before the given instant; used for restart recovery
	ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*entities.SearchSession, error)
}
