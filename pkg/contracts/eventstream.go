package contracts

import (
	"context"
)

// MessageEvent is the host runtime's message event. Its schema is owned by the host;
// the stream carries it opaquely.
type MessageEvent map[string]any

// KeyValues holds the indexes attached to an event. Values are scalars
// (string, number, bool) or arrays of scalars.
type KeyValues map[string]any

// EventListener is invoked once per delivered event.
// A returned error is logged and has no effect on delivery or acknowledgement.
type EventListener func(tenant string, event MessageEvent, indexes KeyValues) error

// EventSubscription is the handle returned by EventStream.Subscribe.
type EventSubscription interface {
	// ID returns the caller-supplied subscription identifier.
	ID() string

	// Close detaches the listener and deletes the broker subscription.
	// It is idempotent; closing an already closed handle returns nil.
	Close(ctx context.Context) error
}

// EventStream is the publish/subscribe contract consumed by the host runtime.
type EventStream interface {
	// Open marks the stream open. It is idempotent.
	Open(ctx context.Context) error

	// Close marks the stream closed and closes every subscription it created.
	Close(ctx context.Context) error

	// Subscribe registers listener for events of tenant under the given id.
	Subscribe(ctx context.Context, tenant, id string, listener EventListener) (EventSubscription, error)

	// Emit publishes an event for tenant. Emitting on a closed stream is reported
	// through the stream's error handler, not returned.
	Emit(ctx context.Context, tenant string, event MessageEvent, indexes KeyValues) error
}
