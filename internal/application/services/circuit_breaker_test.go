package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
)

func TestCircuitBreaker_ThresholdTrips(t *testing.T) {
	breaker := NewCircuitBreaker("pncp", 8, 120*time.Second, nil, nil)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		breaker.RecordFailure(ctx)
		assert.False(t, breaker.IsDegraded(), "should not degrade before threshold")
	}

	breaker.RecordFailure(ctx)
	assert.True(t, breaker.IsDegraded(), "8th consecutive failure must degrade")

	state := breaker.State()
	assert.Equal(t, 8, state.ConsecutiveFailures)
	require.NotNil(t, state.DegradedUntil)
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	breaker := NewCircuitBreaker("pncp", 8, 120*time.Second, nil, nil)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		breaker.RecordFailure(ctx)
	}
	recovered := breaker.RecordSuccess(ctx)
	assert.False(t, recovered, "success without degradation is not a recovery")
	assert.Equal(t, 0, breaker.State().ConsecutiveFailures)

	// The count restarts: 7 more failures must not trip
	for i := 0; i < 7; i++ {
		breaker.RecordFailure(ctx)
	}
	assert.False(t, breaker.IsDegraded())
}

func TestCircuitBreaker_RecoveryFromDegraded(t *testing.T) {
	breaker := NewCircuitBreaker("pncp", 2, 120*time.Second, nil, nil)
	ctx := context.Background()

	breaker.RecordFailure(ctx)
	breaker.RecordFailure(ctx)
	require.True(t, breaker.IsDegraded())

	recovered := breaker.RecordSuccess(ctx)
	assert.True(t, recovered)
	assert.False(t, breaker.IsDegraded())
	assert.Nil(t, breaker.State().DegradedUntil)
}

func TestCircuitBreaker_CooldownExpires(t *testing.T) {
	breaker := NewCircuitBreaker("pncp", 2, 120*time.Second, nil, nil)
	ctx := context.Background()

	current := time.Now()
	breaker.now = func() time.Time { return current }

	breaker.RecordFailure(ctx)
	breaker.RecordFailure(ctx)
	require.True(t, breaker.IsDegraded())

	// Advancing past the cooldown clears degradation without any success
	current = current.Add(121 * time.Second)
	assert.False(t, breaker.IsDegraded())

	// But the failure count is still there: one more failure re-degrades
	breaker.RecordFailure(ctx)
	assert.True(t, breaker.IsDegraded())
}

func TestCircuitBreaker_PersistsToStore(t *testing.T) {
	store := newFakeBreakerStore()
	breaker := NewCircuitBreaker("pncp", 2, 120*time.Second, store, nil)
	ctx := context.Background()

	breaker.RecordFailure(ctx)
	breaker.RecordFailure(ctx)

	require.Eventually(t, func() bool {
		state, _ := store.Load(ctx, "pncp")
		return state != nil && state.ConsecutiveFailures == 2 && state.DegradedUntil != nil
	}, time.Second, 10*time.Millisecond, "degraded state should be mirrored to the store")
}

func TestCircuitBreaker_RestoreFromStore(t *testing.T) {
	store := newFakeBreakerStore()
	until := time.Now().Add(90 * time.Second)
	require.NoError(t, store.Save(context.Background(), &entities.BreakerState{
		SourceCode:          "pncp",
		ConsecutiveFailures: 9,
		DegradedUntil:       &until,
		UpdatedAt:           time.Now(),
	}, time.Minute))

	breaker := NewCircuitBreaker("pncp", 8, 120*time.Second, store, nil)
	assert.False(t, breaker.IsDegraded(), "fresh breaker starts clean")

	breaker.Restore(context.Background())
	assert.True(t, breaker.IsDegraded(), "restored breaker keeps the source degraded")
	assert.Equal(t, 9, breaker.State().ConsecutiveFailures)
}

func TestCircuitBreaker_RestoreAfterCooldownExpired(t *testing.T) {
	store := newFakeBreakerStore()
	until := time.Now().Add(-30 * time.Second)
	require.NoError(t, store.Save(context.Background(), &entities.BreakerState{
		SourceCode:          "pncp",
		ConsecutiveFailures: 9,
		DegradedUntil:       &until,
		UpdatedAt:           time.Now().Add(-3 * time.Minute),
	}, time.Minute))

	breaker := NewCircuitBreaker("pncp", 8, 120*time.Second, store, nil)
	breaker.Restore(context.Background())

	assert.False(t, breaker.IsDegraded(), "a cooldown that lapsed while the process was down stays lapsed")
	assert.Equal(t, 9, breaker.State().ConsecutiveFailures, "the failure streak survives the restart")

	// Still over the threshold, so the very next failure re-degrades
	breaker.RecordFailure(context.Background())
	assert.True(t, breaker.IsDegraded())
}

func TestCircuitBreaker_RestoreWithEmptyStore(t *testing.T) {
	breaker := NewCircuitBreaker("pncp", 8, 120*time.Second, newFakeBreakerStore(), nil)
	breaker.Restore(context.Background())
	assert.False(t, breaker.IsDegraded())
	assert.Equal(t, 0, breaker.State().ConsecutiveFailures)
}
