package internalaction

import (
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/protocol"
)

// Factory creates internal executors for one kind.
type Factory struct {
	kind   string
	sender protocol.Sender
}

// NewFactory creates a factory for the given internal kind.
func NewFactory(kind string, sender protocol.Sender) *Factory {
	return &Factory{kind: kind, sender: sender}
}

func (f *Factory) Kind() string {
	return f.kind
}

func (f *Factory) Family() models.NodeFamily {
	return models.FamilyInternal
}

func (f *Factory) Create(config map[string]any) (protocol.Executor, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewExecutor(f.kind, config, f.sender)
}

// Schema returns the JSON schema for configuring internal actions.
func (f *Factory) Schema() map[string]any {
	switch f.kind {
	case KindWebhook:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Endpoint to call. Supports merge fields.",
					"minLength":   1,
				},
				"method": map[string]any{
					"type":    "string",
					"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
					"default": "POST",
				},
				"headers": map[string]any{
					"type":        "object",
					"description": "Extra request headers.",
				},
				"payload": map[string]any{
					"type":        "object",
					"description": "Request body merged with the contact snapshot.",
				},
			},
			"required":             []string{"url"},
			"additionalProperties": false,
		}
	case KindNotification:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "Notification text. Supports merge fields.",
					"minLength":   1,
				},
				"recipients": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "User IDs to notify. Defaults to the workflow owner.",
				},
			},
			"required":             []string{"message"},
			"additionalProperties": false,
		}
	case KindMath:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operator": map[string]any{
					"type": "string",
					"enum": []string{"add", "subtract", "multiply", "divide"},
				},
				"operand_one": map[string]any{
					"description": "Left operand. Strings support merge fields.",
				},
				"operand_two": map[string]any{
					"description": "Right operand. Strings support merge fields.",
				},
				"target_field": map[string]any{
					"type":        "string",
					"description": "Custom field receiving the result.",
					"minLength":   1,
				},
			},
			"required":             []string{"operator", "operand_one", "operand_two", "target_field"},
			"additionalProperties": false,
		}
	default:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key": map[string]any{
					"type":        "string",
					"description": "Custom value key.",
					"minLength":   1,
				},
				"value": map[string]any{
					"description": "New value. Strings support merge fields.",
				},
			},
			"required":             []string{"key", "value"},
			"additionalProperties": false,
		}
	}
}
