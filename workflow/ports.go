package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/books_sync/config"
	"bitbucket.org/mmdatafocus/books_sync/models"
)

// EntityStore is the port to the authoritative entity store (the billing
// domain owns those records; this engine only hands the winner back).
// Implementations must be safe for concurrent use.
type EntityStore interface {
	SaveResolved(ctx context.Context, businessId string, entityType models.EntityType, entityId string, record map[string]interface{}) error
}

// NoopEntityStore is the default: resolution still closes the conflict and
// emits the event; persistence of the winner is left to the subscriber.
type NoopEntityStore struct{}

func (NoopEntityStore) SaveResolved(ctx context.Context, businessId string, entityType models.EntityType, entityId string, record map[string]interface{}) error {
	return nil
}

// Notifier is the sink for user-visible resolution notifications.
type Notifier interface {
	NotifyResolved(ctx context.Context, event *models.ResolutionEvent) error
}

// RedisNotifier publishes to a per-business pub/sub channel that UI sessions
// subscribe to. Best-effort delivery.
type RedisNotifier struct{}

func (RedisNotifier) NotifyResolved(ctx context.Context, event *models.ResolutionEvent) error {
	return config.PublishRedis(ctx, "conflicts:"+event.BusinessId, event)
}

var entityStore EntityStore = NoopEntityStore{}

// SetEntityStore installs the authoritative-entity-store adapter. Call once
// during startup, before requests are served.
func SetEntityStore(store EntityStore) {
	if store != nil {
		entityStore = store
	}
}
