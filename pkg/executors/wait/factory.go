package wait

import (
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/protocol"
)

// Factory creates timing executors for one kind.
type Factory struct {
	kind string
}

// NewFactory creates a factory for the given timing kind.
func NewFactory(kind string) *Factory {
	return &Factory{kind: kind}
}

func (f *Factory) Kind() string {
	return f.kind
}

func (f *Factory) Family() models.NodeFamily {
	return models.FamilyTiming
}

func (f *Factory) Create(config map[string]any) (protocol.Executor, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewExecutor(f.kind, config)
}

// Schema returns the JSON schema for configuring timing actions.
func (f *Factory) Schema() map[string]any {
	switch f.kind {
	case KindDelay:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount": map[string]any{
					"type":    "integer",
					"minimum": 1,
				},
				"unit": map[string]any{
					"type": "string",
					"enum": []string{"minutes", "hours", "days"},
				},
			},
			"required":             []string{"amount", "unit"},
			"additionalProperties": false,
		}
	case KindUntil:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date": map[string]any{
					"type":        "string",
					"description": "RFC 3339 timestamp or YYYY-MM-DD date. Supports merge fields.",
					"minLength":   1,
				},
			},
			"required":             []string{"date"},
			"additionalProperties": false,
		}
	default:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"event_type": map[string]any{
					"type":        "string",
					"description": "Domain event that ends the wait early.",
					"minLength":   1,
				},
				"timeout_hours": map[string]any{
					"type":        "integer",
					"description": "Hours to wait before resuming without the event.",
					"minimum":     1,
				},
			},
			"required":             []string{"event_type", "timeout_hours"},
			"additionalProperties": false,
		}
	}
}
