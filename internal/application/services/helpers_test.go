package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/providers"
	"github.com/govscan/licitahub/backend/internal/domain/repositories"
	"github.com/govscan/licitahub/backend/pkg/config"
)

func testConsolidationConfig() config.ConsolidationConfig {
	return config.ConsolidationConfig{
		PerSourceTimeout:  2 * time.Second,
		DegradedTimeout:   4 * time.Second,
		GlobalTimeout:     5 * time.Second,
		FailOnAllErrors:   true,
		FailureThreshold:  8,
		BreakerCooldown:   120 * time.Second,
		MemoryCacheTTL:    time.Minute,
		DurableCacheTTL:   time.Hour,
		SessionStaleAfter: 10 * time.Minute,
	}
}

// fakeAdapter is a scriptable source adapter
type fakeAdapter struct {
	code     string
	priority int
	records  []entities.UnifiedRecord
	err      error
	delay    time.Duration
	health   providers.HealthStatus
}

func (a *fakeAdapter) Code() string  { return a.code }
func (a *fakeAdapter) Priority() int { return a.priority }

func (a *fakeAdapter) HealthCheck(ctx context.Context) providers.HealthStatus {
	if a.health == "" {
		return providers.HealthAvailable
	}
	return a.health
}

func (a *fakeAdapter) Fetch(ctx context.Context, dateRange entities.DateRange, regions []string) (<-chan entities.UnifiedRecord, <-chan error) {
	recordCh := make(chan entities.UnifiedRecord)
	errCh := make(chan error, 1)

	go func() {
		defer close(recordCh)
		defer close(errCh)

		if a.delay > 0 {
			select {
			case <-time.After(a.delay):
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}

		for _, record := range a.records {
			select {
			case recordCh <- record:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if a.err != nil {
			errCh <- a.err
		}
	}()

	return recordCh, errCh
}

func testRecord(source, orgID, number string, year int, published time.Time) entities.UnifiedRecord {
	return entities.UnifiedRecord{
		SourceCode:      source,
		SourceID:        fmt.Sprintf("%s-%s", source, number),
		DedupKey:        entities.BuildDedupKey(orgID, number, year),
		Object:          "Objeto " + number,
		OrganizationID:  orgID,
		ListingNumber:   number,
		PublicationDate: published,
	}
}

// memCacheProvider is an in-memory CacheProvider for tests
type memCacheProvider struct {
	mu      sync.Mutex
	data    map[string][]byte
	failAll bool
}

func newMemCacheProvider() *memCacheProvider {
	return &memCacheProvider{data: make(map[string][]byte)}
}

func (c *memCacheProvider) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return nil, fmt.Errorf("cache unavailable")
	}
	if value, ok := c.data[key]; ok {
		return value, nil
	}
	return nil, fmt.Errorf("key not found: %s", key)
}

func (c *memCacheProvider) Set(ctx context.Context, key string, value []byte, expirationSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return fmt.Errorf("cache unavailable")
	}
	c.data[key] = value
	return nil
}

func (c *memCacheProvider) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCacheProvider) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

func (c *memCacheProvider) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// fakeBreakerStore is an in-memory BreakerStateStore
type fakeBreakerStore struct {
	mu     sync.Mutex
	states map[string]*entities.BreakerState
	saves  int
}

func newFakeBreakerStore() *fakeBreakerStore {
	return &fakeBreakerStore{states: make(map[string]*entities.BreakerState)}
}

func (s *fakeBreakerStore) Load(ctx context.Context, sourceCode string) (*entities.BreakerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[sourceCode]; ok {
		return state.Clone(), nil
	}
	return nil, nil
}

func (s *fakeBreakerStore) Save(ctx context.Context, state *entities.BreakerState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SourceCode] = state.Clone()
	s.saves++
	return nil
}

func (s *fakeBreakerStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// fakeSessionRepo is an in-memory SessionRepository
type fakeSessionRepo struct {
	mu          sync.Mutex
	sessions    map[string]*entities.SearchSession
	transitions []*entities.SearchStateTransition
	failUpdates bool
	failAppends bool
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*entities.SearchSession)}
}

func (r *fakeSessionRepo) CreateSession(ctx context.Context, session *entities.SearchSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *session
	r.sessions[session.SearchID] = &copied
	return nil
}

func (r *fakeSessionRepo) UpdateSession(ctx context.Context, session *entities.SearchSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdates {
		return fmt.Errorf("database unavailable")
	}
	copied := *session
	r.sessions[session.SearchID] = &copied
	return nil
}

func (r *fakeSessionRepo) GetSession(ctx context.Context, searchID string) (*entities.SearchSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[searchID]; ok {
		copied := *session
		return &copied, nil
	}
	return nil, fmt.Errorf("session not found: %s", searchID)
}

func (r *fakeSessionRepo) AppendTransition(ctx context.Context, transition *entities.SearchStateTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAppends {
		return fmt.Errorf("database unavailable")
	}
	copied := *transition
	r.transitions = append(r.transitions, &copied)
	return nil
}

func (r *fakeSessionRepo) ListTransitions(ctx context.Context, searchID string) ([]*entities.SearchStateTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*entities.SearchStateTransition
	for _, t := range r.transitions {
		if t.SearchID == searchID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (r *fakeSessionRepo) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*entities.SearchSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*entities.SearchSession
	for _, session := range r.sessions {
		if session.Status == entities.SessionProcessing && session.StartedAt.Before(olderThan) {
			copied := *session
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *fakeSessionRepo) transitionsFor(searchID string) []*entities.SearchStateTransition {
	transitions, _ := r.ListTransitions(context.Background(), searchID)
	return transitions
}

// fakeEventBus records published events
type fakeEventBus struct {
	mu     sync.Mutex
	events []*entities.SearchProgressEvent
}

func (b *fakeEventBus) Publish(ctx context.Context, channel string, event *entities.SearchProgressEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *fakeEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.SearchProgressEvent, error) {
	ch := make(chan *entities.SearchProgressEvent)
	close(ch)
	return ch, nil
}

func (b *fakeEventBus) Unsubscribe(ctx context.Context, channel string) error { return nil }
func (b *fakeEventBus) Close() error                                          { return nil }

func (b *fakeEventBus) published() []*entities.SearchProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*entities.SearchProgressEvent(nil), b.events...)
}

// fakeIndexer records indexed listings
type fakeIndexer struct {
	mu      sync.Mutex
	indexed []entities.UnifiedRecord
}

var _ repositories.ListingIndexRepository = (*fakeIndexer)(nil)

func (f *fakeIndexer) InitSchema(ctx context.Context) error { return nil }

func (f *fakeIndexer) Index(ctx context.Context, record *entities.UnifiedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, *record)
	return nil
}

func (f *fakeIndexer) IndexBatch(ctx context.Context, records []entities.UnifiedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
	return nil
}

func (f *fakeIndexer) Delete(ctx context.Context, dedupKey string) error { return nil }

func (f *fakeIndexer) Search(ctx context.Context, params repositories.ListingSearchParams) ([]*entities.UnifiedRecord, error) {
	return nil, nil
}

func (f *fakeIndexer) indexedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indexed)
}
