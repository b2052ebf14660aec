// Package cmd provides common initialization for the service binaries.
package cmd

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sequentcrm/sequent/pkg/persistence"
	"github.com/sequentcrm/sequent/pkg/protocol"
	"github.com/sequentcrm/sequent/pkg/registry"
	"github.com/sequentcrm/sequent/pkg/senders"
)

// providerChannels lists every side-effect channel the builtin action
// families send through.
var providerChannels = []string{
	registry.ProviderEmail,
	registry.ProviderSMS,
	registry.ProviderCRM,
	registry.ProviderWebhook,
	registry.ProviderMembership,
}

// NewSenders builds one sender per provider channel. With a gateway URL
// configured the senders POST to <gatewayURL>/<channel>; otherwise
// provider requests are queued on the broker for channel consumers.
func NewSenders(gatewayURL string, publisher message.Publisher, logger *slog.Logger) map[string]protocol.Sender {
	out := make(map[string]protocol.Sender, len(providerChannels))

	for _, channel := range providerChannels {
		if gatewayURL != "" {
			out[channel] = senders.NewHTTPSender(gatewayURL+"/"+channel, logger)
		} else {
			out[channel] = senders.NewQueueSender(publisher, channel, logger)
		}
	}

	return out
}

// NewRegistry builds the executor registry with every builtin action
// family registered.
func NewRegistry(logger *slog.Logger, steps persistence.StepRepository, senders map[string]protocol.Sender) *registry.Registry {
	reg := registry.NewRegistry(logger, steps)

	registry.RegisterBuiltins(reg, protocol.Dependencies{
		Logger:  logger,
		Senders: senders,
	})

	return reg
}
