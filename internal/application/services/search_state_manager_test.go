package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
)

func TestSearchStateManager_CreateAndTransition(t *testing.T) {
	repo := newFakeSessionRepo()
	manager := NewSearchStateManager(repo, 10*time.Minute)
	ctx := context.Background()

	session, err := manager.Create(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, session.SearchID)
	assert.Equal(t, entities.SessionCreated, session.Status)

	require.NoError(t, manager.Transition(ctx, session, entities.SessionProcessing, StageFetching, nil))
	require.NoError(t, manager.Transition(ctx, session, entities.SessionCompleted, StageDone, map[string]int{"records": 12}))

	stored, err := manager.Get(ctx, session.SearchID)
	require.NoError(t, err)
	assert.Equal(t, entities.SessionCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	transitions := repo.transitionsFor(session.SearchID)
	require.Len(t, transitions, 3)
	assert.Equal(t, entities.SessionStatus(""), transitions[0].FromState)
	assert.Equal(t, entities.SessionCreated, transitions[0].ToState)
	assert.Equal(t, entities.SessionCreated, transitions[1].FromState)
	assert.Equal(t, entities.SessionProcessing, transitions[1].ToState)
	assert.Equal(t, entities.SessionProcessing, transitions[2].FromState)
	assert.Equal(t, entities.SessionCompleted, transitions[2].ToState)
	assert.JSONEq(t, `{"records":12}`, string(transitions[2].DetailsJSON))
}

func TestSearchStateManager_TerminalStatesAreImmutable(t *testing.T) {
	repo := newFakeSessionRepo()
	manager := NewSearchStateManager(repo, 10*time.Minute)
	ctx := context.Background()

	session, err := manager.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, manager.Transition(ctx, session, entities.SessionProcessing, StageFetching, nil))
	require.NoError(t, manager.Transition(ctx, session, entities.SessionFailed, StageFetching, nil))

	err = manager.Transition(ctx, session, entities.SessionProcessing, StageFetching, nil)
	assert.Error(t, err, "failed is terminal")

	err = manager.Transition(ctx, session, entities.SessionCompleted, StageDone, nil)
	assert.Error(t, err)

	// No extra audit rows were written
	assert.Len(t, repo.transitionsFor(session.SearchID), 3)
}

func TestSearchStateManager_StageUpdatesWithinProcessing(t *testing.T) {
	repo := newFakeSessionRepo()
	manager := NewSearchStateManager(repo, 10*time.Minute)
	ctx := context.Background()

	session, err := manager.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, manager.Transition(ctx, session, entities.SessionProcessing, StageCacheLookup, nil))
	require.NoError(t, manager.Transition(ctx, session, entities.SessionProcessing, StageFetching, nil))

	stored, err := manager.Get(ctx, session.SearchID)
	require.NoError(t, err)
	assert.Equal(t, StageFetching, stored.PipelineStage)

	transitions := repo.transitionsFor(session.SearchID)
	require.Len(t, transitions, 3)
	assert.Equal(t, entities.SessionProcessing, transitions[2].FromState)
	assert.Equal(t, entities.SessionProcessing, transitions[2].ToState)
	assert.Equal(t, StageFetching, transitions[2].Stage)
}

func TestSearchStateManager_PersistenceFailuresAreSwallowed(t *testing.T) {
	repo := newFakeSessionRepo()
	manager := NewSearchStateManager(repo, 10*time.Minute)
	ctx := context.Background()

	session, err := manager.Create(ctx)
	require.NoError(t, err)

	repo.failUpdates = true
	repo.failAppends = true

	// The in-flight search keeps going even when bookkeeping is down
	assert.NoError(t, manager.Transition(ctx, session, entities.SessionProcessing, StageFetching, nil))
	assert.NoError(t, manager.Transition(ctx, session, entities.SessionCompleted, StageDone, nil))
	assert.Equal(t, entities.SessionCompleted, session.Status)
}

func TestSearchStateManager_Fail(t *testing.T) {
	repo := newFakeSessionRepo()
	manager := NewSearchStateManager(repo, 10*time.Minute)
	ctx := context.Background()

	session, err := manager.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, manager.Transition(ctx, session, entities.SessionProcessing, StageFetching, nil))
	require.NoError(t, manager.Fail(ctx, session, ErrCodeAllSourcesFailed, StageFetching))

	stored, err := manager.Get(ctx, session.SearchID)
	require.NoError(t, err)
	assert.Equal(t, entities.SessionFailed, stored.Status)
	assert.Equal(t, ErrCodeAllSourcesFailed, stored.ErrorCode)
}

func TestSearchStateManager_RecoverStale(t *testing.T) {
	repo := newFakeSessionRepo()
	manager := NewSearchStateManager(repo, 10*time.Minute)
	ctx := context.Background()

	// A session stuck in processing since before the staleness cutoff
	stale := &entities.SearchSession{
		SearchID:  "stale-1",
		Status:    entities.SessionProcessing,
		StartedAt: time.Now().Add(-30 * time.Minute),
	}
	require.NoError(t, repo.CreateSession(ctx, stale))

	// A fresh processing session must be left alone
	fresh := &entities.SearchSession{
		SearchID:  "fresh-1",
		Status:    entities.SessionProcessing,
		StartedAt: time.Now(),
	}
	require.NoError(t, repo.CreateSession(ctx, fresh))

	recovered, err := manager.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	staleStored, err := manager.Get(ctx, "stale-1")
	require.NoError(t, err)
	assert.Equal(t, entities.SessionTimedOut, staleStored.Status)

	freshStored, err := manager.Get(ctx, "fresh-1")
	require.NoError(t, err)
	assert.Equal(t, entities.SessionProcessing, freshStored.Status)
}
