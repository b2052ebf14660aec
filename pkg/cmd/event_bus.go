package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sequentcrm/sequent/pkg/channels/gochannel"
	"github.com/sequentcrm/sequent/pkg/channels/kafka"
	"github.com/sequentcrm/sequent/pkg/eventbus"
)

// NewEventBus creates the event bus for the given provider. The
// publisher is also returned for components that publish raw messages,
// such as queue-backed senders.
func NewEventBus(provider, serviceName string, logger *slog.Logger) (eventbus.EventBus, message.Publisher) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub), pub
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create GoChannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub), pub
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
