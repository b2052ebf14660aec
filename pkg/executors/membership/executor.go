// Package membership provides executors that change what a contact is
// enrolled in: membership offers and other workflows.
package membership

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
	KindGrantOffer         = "membership:grant_offer"
	KindRevokeOffer        = "membership:revoke_offer"
	KindAddToWorkflow      = "membership:add_to_workflow"
	KindRemoveFromWorkflow = "membership:remove_from_workflow"
)

// Kinds returns every action kind this package registers.
func Kinds() []string {
	return []string{KindGrantOffer, KindRevokeOffer, KindAddToWorkflow, KindRemoveFromWorkflow}
}

// Executor applies one membership mutation through the membership provider.
type Executor struct {
	kind   string
	config map[string]any
	sender protocol.Sender
}

// requiredKeys lists the config keys each kind cannot do without.
var requiredKeys = map[string][]string{
	KindGrantOffer:         {"offer_id"},
	KindRevokeOffer:        {"offer_id"},
	KindAddToWorkflow:      {"workflow_id"},
	KindRemoveFromWorkflow: {"workflow_id"},
}

// NewExecutor creates a membership executor from node configuration.
func NewExecutor(kind string, config map[string]any, sender protocol.Sender) (*Executor, error) {
	for _, key := range requiredKeys[kind] {
		value, _ := config[key].(string)
		if value == "" {
			return nil, fmt.Errorf("missing '%s' in configuration: %w", key, protocol.ErrInvalidConfig)
		}
	}

	for key, value := range config {
		str, ok := value.(string)
		if !ok {
			continue
		}

		if _, err := template.Parse(str); err != nil {
			return nil, fmt.Errorf("invalid template in '%s': %w: %w", key, err, protocol.ErrInvalidConfig)
		}
	}

	return &Executor{kind: kind, config: config, sender: sender}, nil
}

func (e *Executor) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (*protocol.ActionResult, error) {
	logger = logger.With("module", "membership_executor", "kind", e.kind)
	logger.InfoContext(ctx, "Executing membership action")

	payload := map[string]any{
		"kind":       e.kind,
		"contact_id": execCtx.ContactID,
	}

	for key, value := range e.config {
		str, ok := value.(string)
		if !ok {
			payload[key] = value

			continue
		}

		rendered, err := template.RenderString(str, &execCtx)
		if err != nil {
			return nil, fmt.Errorf("render '%s': %w: %w", key, err, protocol.ErrInvalidConfig)
		}

		payload[key] = rendered
	}

	output, err := e.sender.Send(ctx, payload, execCtx)
	if err != nil {
		return nil, fmt.Errorf("membership provider send: %w", err)
	}

	logger.InfoContext(ctx, "Membership action completed")

	return &protocol.ActionResult{Status: protocol.ActionCompleted, Output: output}, nil
}
