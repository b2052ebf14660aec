// Package wait provides the timing-family executors. They never call an
// external provider: each one computes when the execution should resume and
// reports a waiting result for the engine to persist.
package wait

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/protocol"
	"github.com/sequentcrm/sequent/pkg/template"
)

// Action kinds served by this package.
const (
	KindDelay    = "wait:delay"
	KindUntil    = "wait:until"
	KindForEvent = "wait:for_event"
)

// Kinds returns every action kind this package registers.
func Kinds() []string {
	return []string{KindDelay, KindUntil, KindForEvent}
}

// delayUnits maps the configured unit to its duration.
var delayUnits = map[string]time.Duration{
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

// Executor computes the resume deadline for one timing node.
type Executor struct {
	kind string

	// wait:delay
	amount int
	unit   string

	// wait:until
	until string

	// wait:for_event
	eventType string
	timeout   time.Duration

	now func() time.Time
}

// NewExecutor creates a timing executor from node configuration.
func NewExecutor(kind string, config map[string]any) (*Executor, error) {
	e := &Executor{kind: kind, now: time.Now}

	switch kind {
	case KindDelay:
		amount, ok := asInt(config["amount"])
		if !ok || amount <= 0 {
			return nil, fmt.Errorf("'amount' must be a positive integer: %w", protocol.ErrInvalidConfig)
		}

		unit, _ := config["unit"].(string)
		if _, ok := delayUnits[unit]; !ok {
			return nil, fmt.Errorf("unknown delay unit %q: %w", unit, protocol.ErrInvalidConfig)
		}

		e.amount = amount
		e.unit = unit
	case KindUntil:
		until, _ := config["date"].(string)
		if until == "" {
			return nil, fmt.Errorf("missing 'date' in configuration: %w", protocol.ErrInvalidConfig)
		}

		if _, err := template.Parse(until); err != nil {
			return nil, fmt.Errorf("invalid date template: %w: %w", err, protocol.ErrInvalidConfig)
		}

		e.until = until
	case KindForEvent:
		eventType, _ := config["event_type"].(string)
		if eventType == "" {
			return nil, fmt.Errorf("missing 'event_type' in configuration: %w", protocol.ErrInvalidConfig)
		}

		e.eventType = eventType

		timeout, ok := asInt(config["timeout_hours"])
		if !ok || timeout <= 0 {
			return nil, fmt.Errorf("'timeout_hours' must be a positive integer: %w", protocol.ErrInvalidConfig)
		}

		e.timeout = time.Duration(timeout) * time.Hour
	default:
		return nil, fmt.Errorf("unknown timing kind %q: %w", kind, protocol.ErrInvalidConfig)
	}

	return e, nil
}

func (e *Executor) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (*protocol.ActionResult, error) {
	logger = logger.With("module", "wait_executor", "kind", e.kind)

	result := &protocol.ActionResult{Status: protocol.ActionWaiting}

	switch e.kind {
	case KindDelay:
		resumeAt := e.now().Add(time.Duration(e.amount) * delayUnits[e.unit])
		result.ResumeAt = &resumeAt
	case KindUntil:
		rendered, err := template.RenderString(e.until, &execCtx)
		if err != nil {
			return nil, fmt.Errorf("render date: %w: %w", err, protocol.ErrInvalidConfig)
		}

		resumeAt, err := parseDate(rendered)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w: %w", rendered, err, protocol.ErrInvalidConfig)
		}

		// A date already in the past resumes on the next scheduler poll.
		result.ResumeAt = &resumeAt
	case KindForEvent:
		resumeAt := e.now().Add(e.timeout)
		result.ResumeAt = &resumeAt
		result.WaitEvent = e.eventType
	}

	logger.InfoContext(ctx, "Entering wait", "resume_at", result.ResumeAt, "wait_event", result.WaitEvent)

	return result, nil
}

// parseDate accepts RFC 3339 timestamps and bare dates, which resume at
// midnight UTC.
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}

	return time.Parse("2006-01-02", value)
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}

		return int(v), true
	default:
		return 0, false
	}
}
