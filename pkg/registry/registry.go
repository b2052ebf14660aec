// Package registry maps action kinds to executors and owns dispatch:
// retry policy, error classification, idempotency and step auditing.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
	"github.com/sequentcrm/sequent/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// Registry holds the executor factories keyed by action kind.
type Registry struct {
	logger    *slog.Logger
	factories map[string]protocol.ExecutorFactory
	policies  map[models.NodeFamily]RetryPolicy
	steps     persistence.StepRepository

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewRegistry creates an empty registry writing step audit records to the
// given repository.
func NewRegistry(logger *slog.Logger, steps persistence.StepRepository) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[string]protocol.ExecutorFactory),
		policies:  defaultPolicies(),
		steps:     steps,
		sleep:     time.Sleep,
	}
}

// Register adds an executor factory for its kind.
func (r *Registry) Register(factory protocol.ExecutorFactory) {
	r.factories[factory.Kind()] = factory
}

// Kinds returns every registered action kind.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}

	return kinds
}

// Factory returns the factory for a kind, or nil.
func (r *Registry) Factory(kind string) protocol.ExecutorFactory {
	return r.factories[kind]
}

// IdempotencyKey builds the per-step key checked before external side
// effects under at-least-once redelivery.
func IdempotencyKey(executionID, nodeID string, epoch int) string {
	return fmt.Sprintf("%s:%s:%d", executionID, nodeID, epoch)
}

// Dispatch executes one node against the execution context. Transient
// errors retry with exponential backoff up to the family cap; permanent
// errors fail immediately. Every dispatch writes one step audit record.
// A dispatch whose idempotency key was already completed returns the
// recorded result without re-performing the side effect.
func (r *Registry) Dispatch(ctx context.Context, node *models.ActionNode, execCtx models.ExecutionContext, epoch int) (*protocol.ActionResult, error) {
	factory, ok := r.factories[node.Kind]
	if !ok {
		return nil, &ExecutorError{Kind: node.Kind, NodeID: node.ID, Retryable: false, Err: ErrKindNotRegistered}
	}

	key := IdempotencyKey(execCtx.ExecutionID, node.ID, epoch)

	prior, err := r.steps.FindByIdempotencyKey(ctx, key)
	if err != nil {
		// Without the guard a redelivery would re-perform the side effect,
		// so a failed lookup fails the dispatch instead of skipping it.
		return nil, &ExecutorError{Kind: node.Kind, NodeID: node.ID, Retryable: true,
			Err: fmt.Errorf("idempotency lookup failed: %w", err)}
	}

	if prior != nil && prior.Status == models.StepStatusCompleted {
		r.logger.InfoContext(ctx, "Skipping dispatch, idempotency key already recorded",
			"execution_id", execCtx.ExecutionID, "node_id", node.ID, "key", key)

		return recordedResult(prior), nil
	}

	logger := r.logger.With(
		"execution_id", execCtx.ExecutionID,
		"node_id", node.ID,
		"kind", node.Kind,
	)

	executor, err := factory.Create(node.Config)
	if err != nil {
		dispatchErr := &ExecutorError{Kind: node.Kind, NodeID: node.ID, Retryable: false,
			Err: fmt.Errorf("%w: %w", protocol.ErrInvalidConfig, err)}
		r.audit(ctx, node, execCtx, key, 0, time.Now().UTC(), nil, dispatchErr)

		return nil, dispatchErr
	}

	policy := r.policies[factory.Family()]
	if policy.MaxAttempts == 0 {
		policy = RetryPolicy{MaxAttempts: 1}
	}

	startedAt := time.Now().UTC()

	var (
		result  *protocol.ActionResult
		lastErr error
	)

	attempt := 0

	for attempt = 1; attempt <= policy.MaxAttempts; attempt++ {
		if delay := policy.Delay(attempt); delay > 0 {
			logger.InfoContext(ctx, "Retrying dispatch after backoff", "attempt", attempt, "delay", delay)
			r.sleep(delay)
		}

		result, lastErr = executor.Execute(ctx, execCtx, logger)
		if lastErr == nil {
			break
		}

		if !classify(lastErr) {
			lastErr = &ExecutorError{Kind: node.Kind, NodeID: node.ID, Retryable: false, Err: lastErr}
			logger.ErrorContext(ctx, "Permanent executor error", "error", lastErr)

			r.audit(ctx, node, execCtx, key, attempt, startedAt, nil, lastErr)

			return nil, lastErr
		}

		logger.WarnContext(ctx, "Transient executor error", "attempt", attempt, "error", lastErr)
	}

	if lastErr != nil {
		lastErr = &ExecutorError{Kind: node.Kind, NodeID: node.ID, Retryable: true,
			Err: fmt.Errorf("retries exhausted after %d attempts: %w", policy.MaxAttempts, lastErr)}
		r.audit(ctx, node, execCtx, key, policy.MaxAttempts, startedAt, nil, lastErr)

		return nil, lastErr
	}

	r.audit(ctx, node, execCtx, key, attempt, startedAt, result, nil)

	return result, nil
}

// audit writes the single step record for a dispatch.
func (r *Registry) audit(ctx context.Context, node *models.ActionNode, execCtx models.ExecutionContext, key string, attempt int, startedAt time.Time, result *protocol.ActionResult, dispatchErr error) {
	record := &models.StepRecord{
		ID:             uuid.New().String(),
		ExecutionID:    execCtx.ExecutionID,
		NodeID:         node.ID,
		Kind:           node.Kind,
		Attempt:        attempt,
		IdempotencyKey: key,
		Input:          node.Config,
		StartedAt:      startedAt,
		FinishedAt:     time.Now().UTC(),
	}

	switch {
	case dispatchErr != nil:
		record.Status = models.StepStatusFailed
		record.Error = dispatchErr.Error()
	case result != nil && result.Status == protocol.ActionWaiting:
		record.Status = models.StepStatusWaiting
		record.Output = result.Output
	default:
		record.Status = models.StepStatusCompleted
		if result != nil {
			record.Output = result.Output
		}
	}

	if err := r.steps.Append(ctx, record); err != nil {
		r.logger.ErrorContext(ctx, "Failed to append step audit record",
			"execution_id", execCtx.ExecutionID, "node_id", node.ID, "error", err)
	}
}

// recordedResult reconstructs the dispatch result from a completed step
// record. Only completed records replay: a waiting record does not carry
// its resumption terms, and timing kinds are side-effect free, so a
// redelivered wait dispatch re-executes and recomputes them instead.
func recordedResult(record *models.StepRecord) *protocol.ActionResult {
	return &protocol.ActionResult{Status: protocol.ActionCompleted, Output: record.Output}
}

// ValidateGraph validates every node config in a version against its
// kind's JSON schema. Used at publish time so the whole graph is checked
// exhaustively before any execution can pin the version.
func (r *Registry) ValidateGraph(version *models.WorkflowVersion) error {
	for _, node := range version.Nodes {
		if node.IsBranch() {
			continue
		}

		factory, ok := r.factories[node.Kind]
		if !ok {
			return fmt.Errorf("node %s kind %q: %w", node.ID, node.Kind, ErrKindNotRegistered)
		}

		schema := factory.Schema()
		if schema == nil {
			continue
		}

		config := node.Config
		if config == nil {
			config = map[string]any{}
		}

		result, err := gojsonschema.Validate(
			gojsonschema.NewGoLoader(schema),
			gojsonschema.NewGoLoader(config),
		)
		if err != nil {
			return fmt.Errorf("node %s schema validation: %w", node.ID, err)
		}

		if !result.Valid() {
			return fmt.Errorf("node %s config invalid: %s: %w", node.ID, result.Errors()[0].String(), protocol.ErrInvalidConfig)
		}
	}

	return nil
}

// WithSleep replaces the backoff sleeper, for tests.
func (r *Registry) WithSleep(sleep func(time.Duration)) *Registry {
	r.sleep = sleep

	return r
}
