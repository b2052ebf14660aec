// Package execution implements the per-contact execution engine: enrollment
// against the current version, the resumable advance loop, wait handling
// and early termination at safe boundaries.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/eventbus"
	"github.com/sequentcrm/sequent/pkg/events"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/otelhelper"
	"github.com/sequentcrm/sequent/pkg/persistence"
	"github.com/sequentcrm/sequent/pkg/protocol"
	"github.com/sequentcrm/sequent/pkg/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrStaleResume is returned when a resume delivery carries an epoch that
// no longer matches the execution.
var ErrStaleResume = errors.New("stale resume delivery")

// ErrNotWaiting is returned when a resume targets an execution that is not
// parked in a wait.
var ErrNotWaiting = errors.New("execution is not waiting")

// Scheduler is the engine's view of the durable timer store. The engine
// schedules one resume per wait entry and cancels it when the execution
// leaves the wait another way.
type Scheduler interface {
	ScheduleResume(ctx context.Context, executionID string, resumeAt time.Time, epoch int) error
	CancelResume(ctx context.Context, executionID string) error
}

// Engine drives executions through their pinned version's action graph.
// One worker owns an execution while advancing it; everything another
// actor wants to do to a running execution goes through the queued exit
// marker and is applied at the next safe boundary.
type Engine struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	scheduler   Scheduler
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	tracer      trace.Tracer
	workerID    string

	now func() time.Time
}

// NewEngine creates an execution engine.
func NewEngine(workerID string, p persistence.Persistence, r *registry.Registry, s Scheduler, eb eventbus.EventBus, logger *slog.Logger) *Engine {
	return &Engine{
		persistence: p,
		registry:    r,
		scheduler:   s,
		eventBus:    eb,
		logger:      logger.With("module", "execution_engine", "worker_id", workerID),
		tracer:      otel.Tracer("sequent/execution"),
		workerID:    workerID,
		now:         time.Now,
	}
}

// Enroll creates an execution for a contact against the workflow's current
// version and advances it until it parks or terminates. The version is
// pinned at enrollment: publishes after this point do not affect the
// execution. A contact already active in the workflow is rejected with
// ErrDuplicateEnrollment.
func (e *Engine) Enroll(ctx context.Context, workflowID, contactID string, triggerData, contactData map[string]any) (*models.Execution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.enroll",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.ContactIDKey, contactID))
	defer span.End()

	version, err := e.persistence.Versions().CurrentByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get current version for workflow %s: %w", workflowID, err)
	}

	entry := version.EntryNode()
	if entry == nil {
		return nil, fmt.Errorf("version %s has no entry node: %w", version.ID, models.ErrNoActionNodes)
	}

	now := e.now().UTC()
	execution := &models.Execution{
		ID:            uuid.Must(uuid.NewV7()).String(),
		WorkflowID:    workflowID,
		VersionID:     version.ID,
		ContactID:     contactID,
		Status:        models.ExecutionStatusRunning,
		CurrentNodeID: entry.ID,
		TriggerData:   triggerData,
		ContactData:   contactData,
		StepResults:   map[string]any{},
		CreatedAt:     now,
	}

	if err := e.persistence.Executions().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	if err := e.persistence.Versions().AdjustActiveExecutions(ctx, version.ID, 1); err != nil {
		return nil, fmt.Errorf("failed to count enrollment against version %s: %w", version.ID, err)
	}

	e.logger.InfoContext(ctx, "Enrolled contact",
		"workflow_id", workflowID, "version_id", version.ID,
		"contact_id", contactID, "execution_id", execution.ID)

	e.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent, workflowID),
		ExecutionID: execution.ID,
		VersionID:   version.ID,
		ContactID:   contactID,
	})

	if err := e.advance(ctx, execution, version); err != nil {
		return execution, err
	}

	return execution, nil
}

// Resume wakes a waiting execution. The epoch must match the execution's
// current wait epoch; redeliveries of an older timer are dropped with
// ErrStaleResume. The wait node is considered complete and the graph
// continues from its next edge.
func (e *Engine) Resume(ctx context.Context, executionID string, epoch int) error {
	execution, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to get execution %s: %w", executionID, err)
	}

	if execution.Status != models.ExecutionStatusWaiting {
		return persistence.NewExecutionError("resume", executionID, ErrNotWaiting)
	}

	if epoch != execution.Epoch {
		e.logger.InfoContext(ctx, "Dropping stale resume",
			"execution_id", executionID, "delivered_epoch", epoch, "current_epoch", execution.Epoch)

		return persistence.NewExecutionError("resume", executionID, ErrStaleResume)
	}

	if err := e.scheduler.CancelResume(ctx, executionID); err != nil {
		e.logger.WarnContext(ctx, "Failed to cancel resume timer",
			"execution_id", executionID, "error", err)
	}

	version, err := e.persistence.Versions().GetByID(ctx, execution.VersionID)
	if err != nil {
		return fmt.Errorf("failed to get version %s: %w", execution.VersionID, err)
	}

	if execution.ExitRequested != nil {
		return e.finalizeExit(ctx, execution)
	}

	waitNode := version.NodeByID(execution.CurrentNodeID)
	if waitNode == nil {
		return e.fail(ctx, execution, execution.CurrentNodeID,
			fmt.Errorf("wait node %s missing from pinned version", execution.CurrentNodeID))
	}

	execution.Status = models.ExecutionStatusRunning
	execution.CurrentNodeID = waitNode.NextNodeID()
	execution.ResumeAt = nil
	execution.WaitEvent = ""
	execution.Epoch++

	if err := e.persist(ctx, execution); err != nil {
		return err
	}

	e.publish(ctx, execution.ID, events.ExecutionResumed{
		BaseEvent:   e.baseEvent(events.ExecutionResumedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		NodeID:      waitNode.ID,
		Epoch:       execution.Epoch,
	})

	return e.advance(ctx, execution, version)
}

// RequestExit marks an execution for early termination. A parked execution
// exits immediately; a running one carries the marker until the worker
// reaches the next safe boundary. Terminal executions ignore the request.
func (e *Engine) RequestExit(ctx context.Context, executionID string, reason models.ExitReason, goalID string) error {
	var err error

	// The worker owns status and position, so a lock conflict here means
	// the execution moved under us. Reload and re-decide from the fresh
	// row each attempt instead of rewriting our stale snapshot over it.
	for attempt := 0; attempt < 3; attempt++ {
		var execution *models.Execution

		execution, err = e.persistence.Executions().GetByID(ctx, executionID)
		if err != nil {
			return fmt.Errorf("failed to get execution %s: %w", executionID, err)
		}

		if !execution.Status.Active() {
			return nil
		}

		if execution.ExitRequested == nil {
			execution.ExitRequested = &models.ExitRequest{
				Reason:      reason,
				GoalID:      goalID,
				RequestedAt: e.now().UTC(),
			}
		}

		if execution.Status == models.ExecutionStatusWaiting {
			return e.finalizeExit(ctx, execution)
		}

		err = e.persistence.Executions().Update(ctx, execution, execution.LockToken)
		if err == nil {
			e.logger.InfoContext(ctx, "Queued exit request",
				"execution_id", executionID, "reason", reason, "goal_id", goalID)

			return nil
		}

		if !persistence.IsLockConflict(err) {
			return fmt.Errorf("failed to update execution %s: %w", executionID, err)
		}
	}

	return fmt.Errorf("failed to update execution %s: %w", executionID, err)
}

// Cancel terminates an execution on operator request.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	return e.RequestExit(ctx, executionID, models.ExitReasonCancelled, "")
}

// FailWaiting fails a parked execution after the scheduler has exhausted
// its delivery attempts.
func (e *Engine) FailWaiting(ctx context.Context, executionID string, cause error) error {
	execution, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to get execution %s: %w", executionID, err)
	}

	if execution.Status != models.ExecutionStatusWaiting {
		return persistence.NewExecutionError("fail_waiting", executionID, ErrNotWaiting)
	}

	return e.fail(ctx, execution, execution.CurrentNodeID, cause)
}

// Get returns one execution.
func (e *Engine) Get(ctx context.Context, executionID string) (*models.Execution, error) {
	execution, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", executionID, err)
	}

	return execution, nil
}

// advance walks the graph from the execution's current node until it
// completes, fails, or parks in a wait. The queued exit marker is checked
// at every node boundary.
func (e *Engine) advance(ctx context.Context, execution *models.Execution, version *models.WorkflowVersion) error {
	for {
		if execution.ExitRequested != nil {
			return e.finalizeExit(ctx, execution)
		}

		if execution.CurrentNodeID == "" {
			return e.complete(ctx, execution)
		}

		node := version.NodeByID(execution.CurrentNodeID)
		if node == nil {
			return e.fail(ctx, execution, execution.CurrentNodeID,
				fmt.Errorf("node %s missing from pinned version", execution.CurrentNodeID))
		}

		if !node.Enabled {
			execution.CurrentNodeID = node.NextNodeID()
			if err := e.persist(ctx, execution); err != nil {
				return err
			}

			continue
		}

		if node.IsBranch() {
			next, err := e.evaluateBranch(ctx, node, execution)
			if err != nil {
				return e.fail(ctx, execution, node.ID, err)
			}

			execution.CurrentNodeID = next
			if err := e.persist(ctx, execution); err != nil {
				return err
			}

			continue
		}

		dispatchCtx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.dispatch",
			attribute.String(otelhelper.ExecutionIDKey, execution.ID),
			attribute.String(otelhelper.NodeIDKey, node.ID),
			attribute.String(otelhelper.NodeKindKey, node.Kind))

		result, err := e.registry.Dispatch(dispatchCtx, node, *execution.Context(), execution.Epoch)
		if err != nil {
			otelhelper.SetError(span, err)
			span.End()

			if registry.IsPermanent(err) && node.FallbackNodeID != nil {
				e.logger.WarnContext(ctx, "Taking fallback edge after permanent failure",
					"execution_id", execution.ID, "node_id", node.ID,
					"fallback_node_id", *node.FallbackNodeID, "error", err)

				execution.CurrentNodeID = *node.FallbackNodeID
				if err := e.persist(ctx, execution); err != nil {
					return err
				}

				continue
			}

			return e.fail(ctx, execution, node.ID, err)
		}

		span.End()

		if result.Status == protocol.ActionWaiting {
			return e.enterWait(ctx, execution, node, result.ResumeAt, result.WaitEvent)
		}

		if result.Output != nil {
			if execution.StepResults == nil {
				execution.StepResults = map[string]any{}
			}

			execution.StepResults[node.ID] = result.Output
		}

		execution.CurrentNodeID = node.NextNodeID()

		if err := e.persist(ctx, execution); err != nil {
			return err
		}
	}
}

// enterWait parks the execution. The wait's epoch is the one the resume
// must carry back; the epoch only increments when the wait actually ends.
func (e *Engine) enterWait(ctx context.Context, execution *models.Execution, node *models.ActionNode, resumeAt *time.Time, waitEvent string) error {
	execution.Status = models.ExecutionStatusWaiting
	execution.ResumeAt = resumeAt
	execution.WaitEvent = waitEvent

	if err := e.persist(ctx, execution); err != nil {
		return err
	}

	// An exit that arrived while the dispatch was in flight lands here,
	// at the wait boundary.
	if execution.ExitRequested != nil {
		return e.finalizeExit(ctx, execution)
	}

	if resumeAt != nil {
		if err := e.scheduler.ScheduleResume(ctx, execution.ID, *resumeAt, execution.Epoch); err != nil {
			return fmt.Errorf("failed to schedule resume for execution %s: %w", execution.ID, err)
		}
	}

	e.logger.InfoContext(ctx, "Execution waiting",
		"execution_id", execution.ID, "node_id", node.ID,
		"resume_at", resumeAt, "wait_event", waitEvent, "epoch", execution.Epoch)

	e.publish(ctx, execution.ID, events.ExecutionWaiting{
		BaseEvent:   e.baseEvent(events.ExecutionWaitingEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		ResumeAt:    resumeAt,
		WaitEvent:   waitEvent,
		Epoch:       execution.Epoch,
	})

	return nil
}

// evaluateBranch picks the next node from the branch's cases, falling
// through to the default edge when nothing matches or a condition cannot
// be resolved.
func (e *Engine) evaluateBranch(ctx context.Context, node *models.ActionNode, execution *models.Execution) (string, error) {
	if node.Branch == nil {
		return "", fmt.Errorf("branch node %s: %w", node.ID, models.ErrMissingDefaultEdge)
	}

	execCtx := execution.Context()

	for _, branchCase := range node.Branch.Cases {
		matched, err := branchCase.When.Evaluate(execCtx)
		if err != nil {
			e.logger.WarnContext(ctx, "Branch condition unresolvable, falling through",
				"execution_id", execution.ID, "node_id", node.ID, "error", err)

			continue
		}

		if matched {
			return branchCase.NextNodeID, nil
		}
	}

	return node.Branch.DefaultNodeID, nil
}

func (e *Engine) complete(ctx context.Context, execution *models.Execution) error {
	now := e.now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &now

	if err := e.persist(ctx, execution); err != nil {
		return err
	}

	if err := e.persistence.Versions().AdjustActiveExecutions(ctx, execution.VersionID, -1); err != nil {
		e.logger.ErrorContext(ctx, "Failed to release version pin",
			"execution_id", execution.ID, "version_id", execution.VersionID, "error", err)
	}

	e.logger.InfoContext(ctx, "Execution completed",
		"execution_id", execution.ID, "contact_id", execution.ContactID)

	e.publish(ctx, execution.ID, events.ExecutionCompleted{
		BaseEvent:   e.baseEvent(events.ExecutionCompletedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		VersionID:   execution.VersionID,
		ContactID:   execution.ContactID,
		Duration:    now.Sub(execution.CreatedAt),
	})

	return nil
}

func (e *Engine) fail(ctx context.Context, execution *models.Execution, nodeID string, cause error) error {
	now := e.now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.TerminationReason = cause.Error()
	execution.CompletedAt = &now
	execution.ResumeAt = nil
	execution.WaitEvent = ""

	if err := e.persist(ctx, execution); err != nil {
		return err
	}

	if err := e.scheduler.CancelResume(ctx, execution.ID); err != nil {
		e.logger.WarnContext(ctx, "Failed to cancel resume timer",
			"execution_id", execution.ID, "error", err)
	}

	if err := e.persistence.Versions().AdjustActiveExecutions(ctx, execution.VersionID, -1); err != nil {
		e.logger.ErrorContext(ctx, "Failed to release version pin",
			"execution_id", execution.ID, "version_id", execution.VersionID, "error", err)
	}

	e.logger.ErrorContext(ctx, "Execution failed",
		"execution_id", execution.ID, "node_id", nodeID, "error", cause)

	e.publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent:   e.baseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		VersionID:   execution.VersionID,
		ContactID:   execution.ContactID,
		NodeID:      nodeID,
		Error:       cause.Error(),
	})

	return cause
}

// finalizeExit applies a queued exit marker: the execution leaves the
// graph, its timer is cancelled and its version pin released.
func (e *Engine) finalizeExit(ctx context.Context, execution *models.Execution) error {
	request := execution.ExitRequested
	if request == nil {
		return nil
	}

	now := e.now().UTC()

	switch request.Reason {
	case models.ExitReasonGoal:
		execution.Status = models.ExecutionStatusExitedOnGoal
	default:
		execution.Status = models.ExecutionStatusCancelled
	}

	execution.TerminationReason = string(request.Reason)
	execution.CompletedAt = &now
	execution.ResumeAt = nil
	execution.WaitEvent = ""

	if err := e.persist(ctx, execution); err != nil {
		return err
	}

	if err := e.scheduler.CancelResume(ctx, execution.ID); err != nil {
		e.logger.WarnContext(ctx, "Failed to cancel resume timer",
			"execution_id", execution.ID, "error", err)
	}

	if err := e.persistence.Versions().AdjustActiveExecutions(ctx, execution.VersionID, -1); err != nil {
		e.logger.ErrorContext(ctx, "Failed to release version pin",
			"execution_id", execution.ID, "version_id", execution.VersionID, "error", err)
	}

	e.logger.InfoContext(ctx, "Execution exited",
		"execution_id", execution.ID, "reason", request.Reason, "goal_id", request.GoalID)

	switch request.Reason {
	case models.ExitReasonGoal:
		e.publish(ctx, execution.ID, events.ExecutionExitedOnGoal{
			BaseEvent:   e.baseEvent(events.ExecutionExitedOnGoalEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			ContactID:   execution.ContactID,
			GoalID:      request.GoalID,
		})
	default:
		e.publish(ctx, execution.ID, events.ExecutionCancelled{
			BaseEvent:   e.baseEvent(events.ExecutionCancelledEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			ContactID:   execution.ContactID,
		})
	}

	return nil
}

// persist writes the execution under its optimistic lock on behalf of the
// worker, which owns status and position. A conflict means another actor
// queued an exit marker since our last read: the marker is merged in and
// the write retried, so the marker is never lost. A row that has gone
// terminal under us is never rewritten; the conflict surfaces instead.
func (e *Engine) persist(ctx context.Context, execution *models.Execution) error {
	var err error

	for attempt := 0; attempt < 3; attempt++ {
		err = e.persistence.Executions().Update(ctx, execution, execution.LockToken)
		if err == nil {
			return nil
		}

		if !persistence.IsLockConflict(err) {
			return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
		}

		stored, getErr := e.persistence.Executions().GetByID(ctx, execution.ID)
		if getErr != nil {
			return fmt.Errorf("failed to reload execution %s: %w", execution.ID, getErr)
		}

		if !stored.Status.Active() {
			e.logger.InfoContext(ctx, "Execution finalized by another writer",
				"execution_id", execution.ID, "status", stored.Status)

			return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
		}

		if execution.ExitRequested == nil {
			execution.ExitRequested = stored.ExitRequested
		}

		execution.LockToken = stored.LockToken
	}

	return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
}

func (e *Engine) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	id := ""
	if e.eventBus != nil {
		id = e.eventBus.GenerateID()
	}

	return events.BaseEvent{
		ID:         id,
		Type:       eventType,
		Timestamp:  e.now().UTC(),
		WorkflowID: workflowID,
		WorkerID:   e.workerID,
	}
}

// publish sends a lifecycle event; delivery failures are logged, not
// propagated, because execution state already committed.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish execution event",
			"event_type", event.GetType(), "error", err)
	}
}
