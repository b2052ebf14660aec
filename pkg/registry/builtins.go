package registry

import (
	"github.com/sequentcrm/sequent/pkg/executors/crm"
	"github.com/sequentcrm/sequent/pkg/executors/email"
	"github.com/sequentcrm/sequent/pkg/executors/internalaction"
	"github.com/sequentcrm/sequent/pkg/executors/membership"
	"github.com/sequentcrm/sequent/pkg/executors/sms"
	"github.com/sequentcrm/sequent/pkg/executors/wait"
	"github.com/sequentcrm/sequent/pkg/protocol"
)

// Provider channel names looked up in Dependencies.Senders.
const (
	ProviderEmail      = "email"
	ProviderSMS        = "sms"
	ProviderCRM        = "crm"
	ProviderWebhook    = "webhook"
	ProviderMembership = "membership"
)

// RegisterBuiltins registers every built-in executor family against the
// provider senders carried in deps.
func RegisterBuiltins(r *Registry, deps protocol.Dependencies) {
	for _, kind := range email.Kinds() {
		r.Register(email.NewFactory(kind, deps.Senders[ProviderEmail]))
	}

	for _, kind := range sms.Kinds() {
		r.Register(sms.NewFactory(kind, deps.Senders[ProviderSMS]))
	}

	for _, kind := range crm.Kinds() {
		r.Register(crm.NewFactory(kind, deps.Senders[ProviderCRM]))
	}

	for _, kind := range internalaction.Kinds() {
		r.Register(internalaction.NewFactory(kind, deps.Senders[ProviderWebhook]))
	}

	for _, kind := range membership.Kinds() {
		r.Register(membership.NewFactory(kind, deps.Senders[ProviderMembership]))
	}

	for _, kind := range wait.Kinds() {
		r.Register(wait.NewFactory(kind))
	}
}
