package membership

import (
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/protocol"
)

// Factory creates membership executors for one kind.
type Factory struct {
	kind   string
	sender protocol.Sender
}

// NewFactory creates a factory for the given membership kind.
func NewFactory(kind string, sender protocol.Sender) *Factory {
	return &Factory{kind: kind, sender: sender}
}

func (f *Factory) Kind() string {
	return f.kind
}

func (f *Factory) Family() models.NodeFamily {
	return models.FamilyMembership
}

func (f *Factory) Create(config map[string]any) (protocol.Executor, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewExecutor(f.kind, config, f.sender)
}

// Schema returns the JSON schema for configuring membership actions.
func (f *Factory) Schema() map[string]any {
	switch f.kind {
	case KindGrantOffer, KindRevokeOffer:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"offer_id": map[string]any{
					"type":        "string",
					"description": "Membership offer to grant or revoke.",
					"minLength":   1,
				},
			},
			"required":             []string{"offer_id"},
			"additionalProperties": false,
		}
	default:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"workflow_id": map[string]any{
					"type":        "string",
					"description": "Workflow the contact is added to or removed from.",
					"minLength":   1,
				},
			},
			"required":             []string{"workflow_id"},
			"additionalProperties": false,
		}
	}
}
