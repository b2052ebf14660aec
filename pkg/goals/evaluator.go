// Package goals evaluates CRM domain events against workflow goal
// configuration. A matched goal records an achievement and exits the
// contact's execution early; events can also end event waits.
package goals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/eventbus"
	"github.com/sequentcrm/sequent/pkg/events"
	"github.com/sequentcrm/sequent/pkg/execution"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

// Engine is the evaluator's view of the execution engine.
type Engine interface {
	RequestExit(ctx context.Context, executionID string, reason models.ExitReason, goalID string) error
	Resume(ctx context.Context, executionID string, epoch int) error
}

// Evaluator consumes domain events and applies them to every active
// execution of the contact.
type Evaluator struct {
	persistence persistence.Persistence
	engine      Engine
	eventBus    eventbus.EventBus
	logger      *slog.Logger

	now func() time.Time
}

// NewEvaluator creates a goal evaluator.
func NewEvaluator(p persistence.Persistence, engine Engine, eb eventbus.EventBus, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		persistence: p,
		engine:      engine,
		eventBus:    eb,
		logger:      logger.With("module", "goal_evaluator"),
		now:         time.Now,
	}
}

// domainEventTypes lists every event type the evaluator consumes.
var domainEventTypes = []events.EventType{
	events.TagAppliedEvent,
	events.PurchaseMadeEvent,
	events.AppointmentBookedEvent,
	events.FormSubmittedEvent,
	events.PipelineStageReachedEvent,
	events.EmailRepliedEvent,
	events.LinkClickedEvent,
	events.AppointmentCancelledEvent,
	events.SubscriptionCancelledEvent,
}

// Bind registers the evaluator on the event bus for every domain event
// type. Call Subscribe on the bus afterwards to start consuming.
func (e *Evaluator) Bind(bus eventbus.EventBus) error {
	handler := func(ctx context.Context, raw any) error {
		event, ok := raw.(*events.DomainEvent)
		if !ok {
			return fmt.Errorf("unexpected event payload %T", raw)
		}

		return e.OnEvent(ctx, event)
	}

	for _, eventType := range domainEventTypes {
		if err := bus.Handle(eventType, handler); err != nil {
			return fmt.Errorf("failed to bind handler for %s: %w", eventType, err)
		}
	}

	return nil
}

// OnEvent applies one domain event: goal evaluation first, then early
// resume of event waits. Goal exits trump wait resumes, so a contact whose
// goal fires while parked on wait:for_event leaves the workflow instead of
// continuing it.
func (e *Evaluator) OnEvent(ctx context.Context, event *events.DomainEvent) error {
	executions, err := e.persistence.Executions().ActiveByContact(ctx, event.ContactID)
	if err != nil {
		return fmt.Errorf("failed to list executions for contact %s: %w", event.ContactID, err)
	}

	for _, exec := range executions {
		exited, err := e.evaluateGoals(ctx, exec, event)
		if err != nil {
			e.logger.ErrorContext(ctx, "Goal evaluation failed",
				"execution_id", exec.ID, "event_type", event.Type, "error", err)

			continue
		}

		if exited {
			continue
		}

		if exec.Status == models.ExecutionStatusWaiting && exec.WaitEvent == string(event.Type) {
			if err := e.engine.Resume(ctx, exec.ID, exec.Epoch); err != nil &&
				!errors.Is(err, execution.ErrStaleResume) && !errors.Is(err, execution.ErrNotWaiting) {
				e.logger.ErrorContext(ctx, "Failed to resume event wait",
					"execution_id", exec.ID, "event_type", event.Type, "error", err)
			}
		}
	}

	return nil
}

// evaluateGoals matches the event against the workflow's active goals and
// exits the execution when its match mode is satisfied. Returns whether an
// exit was requested.
func (e *Evaluator) evaluateGoals(ctx context.Context, exec *models.Execution, event *events.DomainEvent) (bool, error) {
	goals, err := e.persistence.Goals().ActiveByWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return false, fmt.Errorf("failed to list goals for workflow %s: %w", exec.WorkflowID, err)
	}

	if len(goals) == 0 {
		return false, nil
	}

	var matched *models.GoalConfig

	for _, goal := range goals {
		if !Matches(goal, event) {
			continue
		}

		matched = goal

		if err := e.recordAchievement(ctx, exec, goal, event); err != nil {
			return false, err
		}
	}

	if matched == nil {
		return false, nil
	}

	workflow, err := e.persistence.Workflows().GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return false, fmt.Errorf("failed to get workflow %s: %w", exec.WorkflowID, err)
	}

	if workflow.GoalMatchMode == models.GoalMatchAll {
		satisfied, err := e.allGoalsSatisfied(ctx, exec, goals)
		if err != nil {
			return false, err
		}

		if !satisfied {
			return false, nil
		}
	}

	if err := e.engine.RequestExit(ctx, exec.ID, models.ExitReasonGoal, matched.ID); err != nil {
		return false, fmt.Errorf("failed to request goal exit for execution %s: %w", exec.ID, err)
	}

	return true, nil
}

// recordAchievement stores the (execution, goal) achievement. A duplicate
// under concurrent delivery is fine: the first recording won and the event
// was already published.
func (e *Evaluator) recordAchievement(ctx context.Context, exec *models.Execution, goal *models.GoalConfig, event *events.DomainEvent) error {
	achievement := &models.GoalAchievement{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ExecutionID: exec.ID,
		GoalID:      goal.ID,
		WorkflowID:  exec.WorkflowID,
		ContactID:   exec.ContactID,
		EventType:   string(event.Type),
		AchievedAt:  e.now().UTC(),
	}

	err := e.persistence.Goals().RecordAchievement(ctx, achievement)
	if err != nil {
		if errors.Is(err, persistence.ErrDuplicateAchievement) {
			return nil
		}

		return fmt.Errorf("failed to record achievement for goal %s: %w", goal.ID, err)
	}

	e.logger.InfoContext(ctx, "Goal achieved",
		"execution_id", exec.ID, "goal_id", goal.ID,
		"goal_type", goal.Type, "contact_id", exec.ContactID)

	if e.eventBus != nil {
		published := events.GoalAchieved{
			BaseEvent: events.BaseEvent{
				ID:         e.eventBus.GenerateID(),
				Type:       events.GoalAchievedEvent,
				Timestamp:  e.now().UTC(),
				WorkflowID: exec.WorkflowID,
			},
			ExecutionID: exec.ID,
			ContactID:   exec.ContactID,
			GoalID:      goal.ID,
			GoalType:    goal.Type,
		}

		if err := e.eventBus.Publish(ctx, exec.ID, published); err != nil {
			e.logger.ErrorContext(ctx, "Failed to publish goal event",
				"execution_id", exec.ID, "goal_id", goal.ID, "error", err)
		}
	}

	return nil
}

// allGoalsSatisfied reports whether every active goal has an achievement
// for this execution.
func (e *Evaluator) allGoalsSatisfied(ctx context.Context, exec *models.Execution, goals []*models.GoalConfig) (bool, error) {
	achievements, err := e.persistence.Goals().AchievementsByExecution(ctx, exec.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list achievements for execution %s: %w", exec.ID, err)
	}

	achieved := make(map[string]bool, len(achievements))
	for _, a := range achievements {
		achieved[a.GoalID] = true
	}

	for _, goal := range goals {
		if !achieved[goal.ID] {
			return false, nil
		}
	}

	return true, nil
}
