// Package eventbus provides event-driven communication infrastructure for
// the workflow engine.
package eventbus

import (
	"context"

	"github.com/sequentcrm/sequent/pkg/events"
)

// Event is anything the bus can carry. Domain events implement it by
// reporting their type, which doubles as the routing topic.
type Event interface {
	GetType() events.EventType
}

// EventPublisher emits domain events. The key partitions the stream so
// events for one contact stay ordered.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventHandler processes one delivered event. Returning an error nacks
// the message for redelivery.
type EventHandler func(ctx context.Context, event any) error

// EventSubscriber registers handlers and starts consumption. Handle must
// be called for every event type of interest before Subscribe.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventBus combines both halves over one transport.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
