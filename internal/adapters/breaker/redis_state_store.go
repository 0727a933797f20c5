package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/providers"
	redisclient "github.com/govscan/licitahub/backend/internal/infrastructure/clients/redis"
	"github.com/redis/go-redis/v9"
)

// RedisStateStore persists circuit breaker state mirrors in Redis, one key
// per source, TTL-bounded so stale mirrors expire on their own.
type RedisStateStore struct {
	client *redisclient.Client
}

// NewRedisStateStore creates a Redis-backed breaker state store
func NewRedisStateStore(client *redisclient.Client) providers.BreakerStateStore {
	return &RedisStateStore{client: client}
}

func breakerKey(sourceCode string) string {
	return "breaker:" + sourceCode
}

// Load returns the persisted state for a source, or nil when absent
func (s *RedisStateStore) Load(ctx context.Context, sourceCode string) (*entities.BreakerState, error) {
	data, err := s.client.Client().Get(ctx, breakerKey(sourceCode)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load breaker state for %s: %w", sourceCode, err)
	}

	var state entities.BreakerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal breaker state for %s: %w", sourceCode, err)
	}
	return &state, nil
}

// Save persists the state with the given TTL
func (s *RedisStateStore) Save(ctx context.Context, state *entities.BreakerState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal breaker state for %s: %w", state.SourceCode, err)
	}

	if err := s.client.Client().Set(ctx, breakerKey(state.SourceCode), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save breaker state for %s: %w", state.SourceCode, err)
	}
	return nil
}
