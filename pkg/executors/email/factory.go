package email

import (
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/protocol"
)

// Factory creates email executors for one kind.
type Factory struct {
	kind   string
	sender protocol.Sender
}

// NewFactory creates a factory for the given email kind.
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

// Schema returns the JSON schema for configuring email actions.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subject": map[string]any{
				"type":        "string",
				"description": "Message subject. Supports merge fields like {{.contact.first_name}}.",
				"minLength":   1,
			},
			"body": map[string]any{
				"type":        "string",
				"format":      "code",
				"description": "Message body. Supports merge fields.",
				"minLength":   1,
			},
			"from_name": map[string]any{
				"type":        "string",
				"description": "Display name of the sender.",
			},
			"to": map[string]any{
				"type":        "string",
				"description": "Override recipient. Defaults to the enrolled contact's address.",
			},
		},
		"required":             []string{"subject", "body"},
		"additionalProperties": false,
	}
}
