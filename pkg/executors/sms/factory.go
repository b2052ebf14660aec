package sms

import (
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/protocol"
)

// Factory creates telephony executors for one kind.
type Factory struct {
	kind   string
	sender protocol.Sender
}

// NewFactory creates a factory for the given telephony kind.
func NewFactory(kind string, sender protocol.Sender) *Factory {
	return &Factory{kind: kind, sender: sender}
}

func (f *Factory) Kind() string {
	return f.kind
}

func (f *Factory) Family() models.NodeFamily {
	return models.FamilyCommunication
}

func (f *Factory) Create(config map[string]any) (protocol.Executor, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewExecutor(f.kind, config, f.sender)
}

// Schema returns the JSON schema for configuring telephony actions.
func (f *Factory) Schema() map[string]any {
	switch f.kind {
	case KindVoicemailDrop, KindPlaceCall:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"media_id": map[string]any{
					"type":        "string",
					"description": "Recorded media asset played to the contact.",
					"minLength":   1,
				},
			},
			"required":             []string{"media_id"},
			"additionalProperties": false,
		}
	default:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "Message text. Supports merge fields.",
					"minLength":   1,
				},
			},
			"required":             []string{"message"},
			"additionalProperties": false,
		}
	}
}
