package crm

import (
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/protocol"
)

// Factory creates CRM executors for one kind.
type Factory struct {
	kind   string
	sender protocol.Sender
}

// NewFactory creates a factory for the given CRM kind.
func NewFactory(kind string, sender protocol.Sender) *Factory {
	return &Factory{kind: kind, sender: sender}
}

func (f *Factory) Kind() string {
	return f.kind
}

func (f *Factory) Family() models.NodeFamily {
	return models.FamilyCRM
}

func (f *Factory) Create(config map[string]any) (protocol.Executor, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewExecutor(f.kind, config, f.sender)
}

// kindSchemas holds the per-kind property definitions; every CRM kind
// shares the same validation shape (object with required string keys).
var kindSchemas = map[string]map[string]any{
	KindAddTag: {
		"tag": map[string]any{"type": "string", "minLength": 1, "description": "Tag to apply to the contact."},
	},
	KindRemoveTag: {
		"tag": map[string]any{"type": "string", "minLength": 1, "description": "Tag to remove from the contact."},
	},
	KindUpdateField: {
		"field": map[string]any{"type": "string", "minLength": 1, "description": "Contact field name."},
		"value": map[string]any{"description": "New value. String values support merge fields."},
	},
	KindAddNote: {
		"note": map[string]any{"type": "string", "minLength": 1, "description": "Note body. Supports merge fields."},
	},
	KindAddTask: {
		"title":       map[string]any{"type": "string", "minLength": 1, "description": "Task title."},
		"description": map[string]any{"type": "string", "description": "Task details."},
		"due_in_days": map[string]any{"type": "integer", "minimum": 0, "description": "Days until the task is due."},
	},
	KindMovePipelineStage: {
		"pipeline_id": map[string]any{"type": "string", "minLength": 1},
		"stage_id":    map[string]any{"type": "string", "minLength": 1},
	},
	KindAssignOwner: {
		"owner_id": map[string]any{"type": "string", "minLength": 1, "description": "User who becomes the contact owner."},
	},
	KindUpdateDND: {
		"channel": map[string]any{"type": "string", "enum": []string{"email", "sms", "call", "all"}},
		"enabled": map[string]any{"type": "boolean"},
	},
}

// Schema returns the JSON schema for configuring this CRM kind.
func (f *Factory) Schema() map[string]any {
	properties, ok := kindSchemas[f.kind]
	if !ok {
		return nil
	}

	required := make([]string, 0, len(properties))
	for _, key := range requiredKeys[f.kind] {
		required = append(required, key)
	}

	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}
