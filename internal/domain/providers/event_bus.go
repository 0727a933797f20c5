package providers

import (
	"context"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to search
// progress events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.SearchProgressEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.SearchProgressEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannelSearchPrefix is the prefix for per-search progress channels
const EventChannelSearchPrefix = "search:"

// GetSearchChannel returns the progress channel name for a search session
func GetSearchChannel(searchID string) string {
	return EventChannelSearchPrefix + searchID
}
