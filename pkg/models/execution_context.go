package models

import "strings"

// ExecutionContext is the data bag visible to executors, branch conditions
// and merge-field templates while one execution advances.
type ExecutionContext struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	VersionID   string         `json:"version_id"`
	ContactID   string         `json:"contact_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	ContactData map[string]any `json:"contact_data,omitempty"`
	StepResults map[string]any `json:"step_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Lookup resolves a dotted path against the context. The first segment
// selects the namespace: "contact", "trigger", "steps" or "meta".
func (c *ExecutionContext) Lookup(path string) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return nil, false
	}

	var root map[string]any

	switch segments[0] {
	case "contact":
		root = c.ContactData
	case "trigger":
		root = c.TriggerData
	case "steps":
		root = c.StepResults
	case "meta":
		root = c.Metadata
	default:
		return nil, false
	}

	return lookupPath(root, segments[1:])
}

func lookupPath(root map[string]any, segments []string) (any, bool) {
	if root == nil {
		return nil, false
	}

	var current any = root

	for _, segment := range segments {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = asMap[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
