package eventbus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sequentcrm/sequent/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// topicFor routes contact domain events to the domain topic and engine
// lifecycle events to the engine topic.
func topicFor(eventType events.EventType) string {
	if strings.HasPrefix(string(eventType), "contact.") {
		return events.DomainTopic
	}

	return events.Topic
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(topicFor(event.GetType()), msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	for _, topic := range []string{events.Topic, events.DomainTopic} {
		messages, err := eb.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return err
		}

		go eb.consume(ctx, messages)
	}

	return nil
}

func (eb *WatermillEventBus) consume(ctx context.Context, messages <-chan *message.Message) {
	for msg := range messages {
		eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

		handler, exists := eb.subscriptions[eventType]
		if !exists {
			msg.Ack()

			continue
		}

		event := decode(eventType)
		if event == nil {
			msg.Nack()

			continue
		}

		if err := json.Unmarshal(msg.Payload, event); err != nil {
			msg.Nack()

			continue
		}

		if err := handler(ctx, event); err != nil {
			msg.Nack()

			continue
		}

		msg.Ack()
	}
}

// decode returns a zero value of the concrete event struct for a type, or
// nil for unknown types.
func decode(eventType events.EventType) any {
	switch eventType {
	case events.ExecutionStartedEvent:
		return &events.ExecutionStarted{}
	case events.ExecutionCompletedEvent:
		return &events.ExecutionCompleted{}
	case events.ExecutionFailedEvent:
		return &events.ExecutionFailed{}
	case events.ExecutionCancelledEvent:
		return &events.ExecutionCancelled{}
	case events.ExecutionWaitingEvent:
		return &events.ExecutionWaiting{}
	case events.ExecutionResumedEvent:
		return &events.ExecutionResumed{}
	case events.ExecutionExitedOnGoalEvent:
		return &events.ExecutionExitedOnGoal{}
	case events.VersionPublishedEvent:
		return &events.VersionPublished{}
	case events.VersionRolledBackEvent:
		return &events.VersionRolledBack{}
	case events.VersionArchivedEvent:
		return &events.VersionArchived{}
	case events.GoalAchievedEvent:
		return &events.GoalAchieved{}
	case events.MigrationFinishedEvent:
		return &events.MigrationFinished{}
	case events.MigrationCancelledEvent:
		return &events.MigrationCancelled{}
	case events.EnrollmentDueEvent:
		return &events.EnrollmentDue{}
	case events.TagAppliedEvent,
		events.PurchaseMadeEvent,
		events.AppointmentBookedEvent,
		events.FormSubmittedEvent,
		events.PipelineStageReachedEvent,
		events.EmailRepliedEvent,
		events.LinkClickedEvent,
		events.AppointmentCancelledEvent,
		events.SubscriptionCancelledEvent:
		return &events.DomainEvent{}
	default:
		return nil
	}
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
