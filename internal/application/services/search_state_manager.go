package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/repositories"
	apperrors "github.com/govscan/licitahub/backend/pkg/errors"
)

// SearchStateManager owns the lifecycle of search sessions. Every mutation
// goes through Transition, which appends an audit row alongside the session
// update. Audit persistence is best effort: a failed write is logged and
// swallowed so bookkeeping can never sink a search that is otherwise
// succeeding.
type SearchStateManager struct {
	repo       repositories.SessionRepository
	staleAfter time.Duration
	now        func() time.Time
}

// NewSearchStateManager creates the session lifecycle manager
func NewSearchStateManager(repo repositories.SessionRepository, staleAfter time.Duration) *SearchStateManager {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &SearchStateManager{
		repo:       repo,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Create starts a new session in the created state
func (m *SearchStateManager) Create(ctx context.Context) (*entities.SearchSession, error) {
	now := m.now()
	session := &entities.SearchSession{
		SearchID:         uuid.New().String(),
		Status:           entities.SessionCreated,
		StartedAt:        now,
		FailedRegions:    []string{},
		LastTransitionAt: now,
	}

	if err := m.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	m.appendTransition(ctx, session, "", entities.SessionCreated, "", nil)
	return session, nil
}

// Transition moves a session to a new state, appending one audit row.
// Re-entering processing is allowed and records pipeline stage changes.
// Terminal states are immutable.
func (m *SearchStateManager) Transition(ctx context.Context, session *entities.SearchSession, to entities.SessionStatus, stage string, details interface{}) error {
	if session.Status.IsTerminal() {
		return apperrors.NewValidationError(
			fmt.Sprintf("session %s is already %s and cannot transition to %s", session.SearchID, session.Status, to))
	}

	from := session.Status
	now := m.now()

	session.Status = to
	session.PipelineStage = stage
	if to.IsTerminal() {
		session.CompletedAt = &now
	}

	if err := m.repo.UpdateSession(ctx, session); err != nil {
		log.Printf("Failed to persist session %s update to %s: %v", session.SearchID, to, err)
	}

	m.appendTransition(ctx, session, from, to, stage, details)
	session.LastTransitionAt = now
	return nil
}

// Fail moves a session to failed with an error code
func (m *SearchStateManager) Fail(ctx context.Context, session *entities.SearchSession, errorCode, stage string) error {
	session.ErrorCode = errorCode
	return m.Transition(ctx, session, entities.SessionFailed, stage, map[string]string{"error_code": errorCode})
}

// Get retrieves a session by search ID
func (m *SearchStateManager) Get(ctx context.Context, searchID string) (*entities.SearchSession, error) {
	return m.repo.GetSession(ctx, searchID)
}

// Transitions returns a session's audit trail in append order
func (m *SearchStateManager) Transitions(ctx context.Context, searchID string) ([]*entities.SearchStateTransition, error) {
	return m.repo.ListTransitions(ctx, searchID)
}

// RecoverStale closes out sessions abandoned mid-processing, typically by a
// crash or redeploy. Called once at startup. Returns the number recovered.
func (m *SearchStateManager) RecoverStale(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.staleAfter)

	stale, err := m.repo.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, session := range stale {
		session.LastTransitionAt = session.StartedAt
		session.ErrorCode = "STALE_RECOVERED"
		if err := m.Transition(ctx, session, entities.SessionTimedOut, "recovery", map[string]string{
			"reason": "stale processing session recovered at startup",
		}); err != nil {
			log.Printf("Failed to recover stale session %s: %v", session.SearchID, err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		log.Printf("Recovered %d stale search sessions", recovered)
	}
	return recovered, nil
}

func (m *SearchStateManager) appendTransition(ctx context.Context, session *entities.SearchSession, from, to entities.SessionStatus, stage string, details interface{}) {
	now := m.now()

	var detailsJSON json.RawMessage
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			log.Printf("Failed to marshal transition details for %s: %v", session.SearchID, err)
		} else {
			detailsJSON = data
		}
	}

	var sincePrevious int64
	if !session.LastTransitionAt.IsZero() {
		sincePrevious = now.Sub(session.LastTransitionAt).Milliseconds()
	}

	transition := &entities.SearchStateTransition{
		SearchID:                session.SearchID,
		FromState:               from,
		ToState:                 to,
		Stage:                   stage,
		DetailsJSON:             detailsJSON,
		DurationSincePreviousMs: sincePrevious,
		CreatedAt:               now,
	}

	if err := m.repo.AppendTransition(ctx, transition); err != nil {
		log.Printf("Failed to append transition %s -> %s for %s: %v", from, to, session.SearchID, err)
	}
}
