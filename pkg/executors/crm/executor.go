// Package crm provides the CRM-mutation family executors: tags, fields,
// notes, tasks, pipeline and ownership changes applied to the enrolled
// contact through the CRM service.
package crm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/protocol"
	"github.com/sequentcrm/sequent/pkg/template"
)

// Action kinds served by this package.
const (
	KindAddTag            = "crm:add_tag"
	KindRemoveTag         = "crm:remove_tag"
	KindUpdateField       = "crm:update_field"
	KindAddNote           = "crm:add_note"
	KindAddTask           = "crm:add_task"
	KindMovePipelineStage = "crm:move_pipeline_stage"
	KindAssignOwner       = "crm:assign_owner"
	KindUpdateDND         = "crm:update_dnd"
)

// Kinds returns every action kind this package registers.
func Kinds() []string {
	return []string{
		KindAddTag, KindRemoveTag, KindUpdateField, KindAddNote,
		KindAddTask, KindMovePipelineStage, KindAssignOwner, KindUpdateDND,
	}
}

// requiredKeys lists the config keys each kind cannot do without.
var requiredKeys = map[string][]string{
	KindAddTag:            {"tag"},
	KindRemoveTag:         {"tag"},
	KindUpdateField:       {"field", "value"},
	KindAddNote:           {"note"},
	KindAddTask:           {"title"},
	KindMovePipelineStage: {"pipeline_id", "stage_id"},
	KindAssignOwner:       {"owner_id"},
	KindUpdateDND:         {"channel", "enabled"},
}

// Executor applies one contact mutation through the CRM service.
type Executor struct {
	kind   string
	Config map[string]any
	sender protocol.Sender
}

// NewExecutor creates a CRM executor from node configuration.
func NewExecutor(kind string, config map[string]any, sender protocol.Sender) (*Executor, error) {
	for _, key := range requiredKeys[kind] {
		if _, ok := config[key]; !ok {
			return nil, fmt.Errorf("missing '%s' in configuration: %w", key, protocol.ErrInvalidConfig)
		}
	}

	for key, value := range config {
		str, ok := value.(string)
		if !ok {
			continue
		}

		if _, err := template.Parse(str); err != nil {
			return nil, fmt.Errorf("invalid '%s' template: %w: %w", key, err, protocol.ErrInvalidConfig)
		}
	}

	return &Executor{kind: kind, Config: config, sender: sender}, nil
}

func (e *Executor) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (*protocol.ActionResult, error) {
	logger = logger.With("module", "crm_executor", "kind", e.kind)
	logger.InfoContext(ctx, "Executing CRM mutation")

	payload := map[string]any{
		"kind":       e.kind,
		"contact_id": execCtx.ContactID,
	}

	for key, value := range e.Config {
		if str, ok := value.(string); ok {
			rendered, err := template.RenderWithContext(str, &execCtx)
			if err != nil {
				return nil, fmt.Errorf("render '%s': %w: %w", key, err, protocol.ErrInvalidConfig)
			}

			payload[key] = rendered

			continue
		}

		payload[key] = value
	}

	output, err := e.sender.Send(ctx, payload, execCtx)
	if err != nil {
		return nil, fmt.Errorf("crm service call: %w", err)
	}

	logger.InfoContext(ctx, "CRM mutation completed")

	return &protocol.ActionResult{Status: protocol.ActionCompleted, Output: output}, nil
}
