package services

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/providers"
	"github.com/govscan/licitahub/backend/internal/infrastructure/observability"
)

// breakerLockTimeout bounds how long any breaker operation waits for the
// lock. Readers that miss the window fall back to the last published
// snapshot; a stale availability read is preferable to stalling a search.
const breakerLockTimeout = time.Second

// CircuitBreaker tracks consecutive availability failures for one source and
// degrades it once the threshold is reached. Degraded is not dead: a
// degraded source is still attempted, just with reduced concurrency and a
// longer timeout. Client errors (4xx) never reach this type; callers only
// record availability failures.
//
// State is mirrored to an optional durable store so a restart keeps a
// degraded source degraded. The in-memory copy is always authoritative.
type CircuitBreaker struct {
	sourceCode string
	threshold  int
	cooldown   time.Duration
	store      providers.BreakerStateStore
	metrics    *observability.Metrics

	sem      chan struct{}
	state    *entities.BreakerState
	snapshot atomic.Pointer[entities.BreakerState]

	now func() time.Time
}

// NewCircuitBreaker creates a breaker for one source. store and metrics may
// be nil; the breaker then runs purely in memory.
func NewCircuitBreaker(sourceCode string, threshold int, cooldown time.Duration, store providers.BreakerStateStore, metrics *observability.Metrics) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 8
	}
	if cooldown <= 0 {
		cooldown = 120 * time.Second
	}

	b := &CircuitBreaker{
		sourceCode: sourceCode,
		threshold:  threshold,
		cooldown:   cooldown,
		store:      store,
		metrics:    metrics,
		sem:        make(chan struct{}, 1),
		state: &entities.BreakerState{
			SourceCode: sourceCode,
			UpdatedAt:  time.Now(),
		},
		now: time.Now,
	}
	b.snapshot.Store(b.state.Clone())
	return b
}

// Restore adopts persisted state from the durable store, if any. Called once
// at startup; a load failure leaves the breaker at its zero state.
func (b *CircuitBreaker) Restore(ctx context.Context) {
	if b.store == nil {
		return
	}

	state, err := b.store.Load(ctx, b.sourceCode)
	if err != nil {
		log.Printf("Failed to restore breaker state for %s: %v", b.sourceCode, err)
		return
	}
	if state == nil {
		return
	}

	if !b.acquire() {
		return
	}
	b.state = state
	b.snapshot.Store(state.Clone())
	b.release()

	if state.IsDegraded(b.now()) {
		log.Printf("Restored breaker for %s: degraded until %v", b.sourceCode, state.DegradedUntil)
	}
}

// IsDegraded reports whether the source is currently degraded. If the lock
// cannot be acquired within the timeout, the last snapshot is consulted
// instead of blocking.
func (b *CircuitBreaker) IsDegraded() bool {
	now := b.now()

	if !b.acquire() {
		return b.snapshot.Load().IsDegraded(now)
	}
	degraded := b.state.IsDegraded(now)
	b.release()
	return degraded
}

// State returns a copy of the current breaker state
func (b *CircuitBreaker) State() *entities.BreakerState {
	if !b.acquire() {
		return b.snapshot.Load().Clone()
	}
	defer b.release()
	return b.state.Clone()
}

// RecordFailure counts one availability failure. Crossing the threshold
// degrades the source for the cooldown window.
func (b *CircuitBreaker) RecordFailure(ctx context.Context) {
	now := b.now()

	if !b.acquire() {
		log.Printf("Breaker lock timeout for %s, dropping failure record", b.sourceCode)
		return
	}

	b.state.ConsecutiveFailures++
	b.state.UpdatedAt = now

	tripped := false
	if b.state.ConsecutiveFailures >= b.threshold && !b.state.IsDegraded(now) {
		until := now.Add(b.cooldown)
		b.state.DegradedUntil = &until
		tripped = true
	}

	b.publishLocked()
	b.release()

	if tripped {
		log.Printf("Source %s degraded after %d consecutive failures (cooldown %v)", b.sourceCode, b.threshold, b.cooldown)
		if b.metrics != nil {
			observability.RecordBreakerTrip(ctx, b.metrics, b.sourceCode)
		}
	}
}

// RecordSuccess resets the failure count and clears any degradation. Returns
// true when the source was degraded and has now recovered.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context) bool {
	now := b.now()

	if !b.acquire() {
		log.Printf("Breaker lock timeout for %s, dropping success record", b.sourceCode)
		return false
	}

	recovered := b.state.IsDegraded(now)
	b.state.ConsecutiveFailures = 0
	b.state.DegradedUntil = nil
	b.state.UpdatedAt = now

	b.publishLocked()
	b.release()

	if recovered {
		log.Printf("Source %s recovered", b.sourceCode)
	}
	return recovered
}

// publishLocked refreshes the snapshot and mirrors the state to the durable
// store. Must be called with the lock held. The store write is fire and
// forget: persistence failures never affect breaker decisions.
func (b *CircuitBreaker) publishLocked() {
	copied := b.state.Clone()
	b.snapshot.Store(copied)

	if b.store == nil {
		return
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ttl := b.cooldown + time.Minute
		if err := b.store.Save(bgCtx, copied, ttl); err != nil {
			log.Printf("Failed to persist breaker state for %s: %v", b.sourceCode, err)
		}
	}()
}

func (b *CircuitBreaker) acquire() bool {
	select {
	case b.sem <- struct{}{}:
		return true
	case <-time.After(breakerLockTimeout):
		return false
	}
}

func (b *CircuitBreaker) release() {
	<-b.sem
}
