// Package internalaction provides the internal-family executors: webhook
// delivery, operator notifications, math over custom values, and custom
// value updates.
package internalaction

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/protocol"
	"github.com/sequentcrm/sequent/pkg/template"
)

// Action kinds served by this package.
const (
	KindWebhook           = "internal:webhook"
	KindNotification      = "internal:notification"
	KindMath              = "internal:math"
	KindUpdateCustomValue = "internal:update_custom_value"
)

// Kinds returns every action kind this package registers.
func Kinds() []string {
	return []string{KindWebhook, KindNotification, KindMath, KindUpdateCustomValue}
}

// Executor runs one internal action. Math operations resolve entirely in
// process; the other kinds go through the webhook provider.
type Executor struct {
	kind   string
	config map[string]any
	sender protocol.Sender
}

// requiredKeys lists the config keys each kind cannot do without.
var requiredKeys = map[string][]string{
	KindWebhook:           {"url"},
	KindNotification:      {"message"},
	KindMath:              {"operator", "operand_one", "operand_two", "target_field"},
	KindUpdateCustomValue: {"key", "value"},
}

// NewExecutor creates an internal executor from node configuration.
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
			return nil, fmt.Errorf("invalid template in '%s': %w: %w", key, err, protocol.ErrInvalidConfig)
		}
	}

	if kind == KindMath {
		operator, _ := config["operator"].(string)
		switch operator {
		case "add", "subtract", "multiply", "divide":
		default:
			return nil, fmt.Errorf("unknown math operator %q: %w", operator, protocol.ErrInvalidConfig)
		}
	}

	return &Executor{kind: kind, config: config, sender: sender}, nil
}

func (e *Executor) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (*protocol.ActionResult, error) {
	logger = logger.With("module", "internal_executor", "kind", e.kind)
	logger.InfoContext(ctx, "Executing internal action")

	rendered, err := e.renderConfig(&execCtx)
	if err != nil {
		return nil, err
	}

	if e.kind == KindMath {
		return e.executeMath(ctx, rendered, logger)
	}

	payload := map[string]any{
		"kind":       e.kind,
		"contact_id": execCtx.ContactID,
	}
	for key, value := range rendered {
		payload[key] = value
	}

	output, err := e.sender.Send(ctx, payload, execCtx)
	if err != nil {
		return nil, fmt.Errorf("internal action send: %w", err)
	}

	logger.InfoContext(ctx, "Internal action completed")

	return &protocol.ActionResult{Status: protocol.ActionCompleted, Output: output}, nil
}

func (e *Executor) renderConfig(execCtx *models.ExecutionContext) (map[string]any, error) {
	rendered := make(map[string]any, len(e.config))

	for key, value := range e.config {
		str, ok := value.(string)
		if !ok {
			rendered[key] = value

			continue
		}

		out, err := template.Render(str, execCtx)
		if err != nil {
			return nil, fmt.Errorf("render '%s': %w: %w", key, err, protocol.ErrInvalidConfig)
		}

		rendered[key] = out
	}

	return rendered, nil
}

// executeMath computes the operation locally and reports the new value for
// the target custom field as output. Division by zero fails permanently.
func (e *Executor) executeMath(ctx context.Context, rendered map[string]any, logger *slog.Logger) (*protocol.ActionResult, error) {
	left, err := toFloat(rendered["operand_one"])
	if err != nil {
		return nil, fmt.Errorf("operand_one: %w: %w", err, protocol.ErrInvalidConfig)
	}

	right, err := toFloat(rendered["operand_two"])
	if err != nil {
		return nil, fmt.Errorf("operand_two: %w: %w", err, protocol.ErrInvalidConfig)
	}

	operator, _ := rendered["operator"].(string)

	var result float64

	switch operator {
	case "add":
		result = left + right
	case "subtract":
		result = left - right
	case "multiply":
		result = left * right
	case "divide":
		if right == 0 {
			return nil, fmt.Errorf("division by zero: %w", protocol.ErrInvalidConfig)
		}

		result = left / right
	}

	target, _ := rendered["target_field"].(string)

	logger.InfoContext(ctx, "Math action completed", "operator", operator, "result", result)

	return &protocol.ActionResult{
		Status: protocol.ActionCompleted,
		Output: map[string]any{
			"target_field": target,
			"result":       result,
		},
	}, nil
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("not a number: %v", value)
	}
}
