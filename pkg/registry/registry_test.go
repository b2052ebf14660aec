package registry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
	"github.com/sequentcrm/sequent/pkg/persistence/memory"
	"github.com/sequentcrm/sequent/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedExecutor struct {
	calls  int
	errs   []error
	result *protocol.ActionResult
}

func (e *scriptedExecutor) Execute(_ context.Context, _ models.ExecutionContext, _ *slog.Logger) (*protocol.ActionResult, error) {
	e.calls++

	if e.calls <= len(e.errs) && e.errs[e.calls-1] != nil {
		return nil, e.errs[e.calls-1]
	}

	if e.result != nil {
		return e.result, nil
	}

	return &protocol.ActionResult{Status: protocol.ActionCompleted}, nil
}

type scriptedFactory struct {
	kind      string
	family    models.NodeFamily
	createErr error
	executor  *scriptedExecutor
}

func (f *scriptedFactory) Kind() string              { return f.kind }
func (f *scriptedFactory) Family() models.NodeFamily { return f.family }
func (f *scriptedFactory) Schema() map[string]any    { return nil }

func (f *scriptedFactory) Create(_ map[string]any) (protocol.Executor, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}

	return f.executor, nil
}

func newTestRegistry(t *testing.T, factory *scriptedFactory) (*Registry, *memory.Persistence, *[]time.Duration) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	backend := memory.NewPersistence()

	sleeps := &[]time.Duration{}
	reg := NewRegistry(logger, backend.Steps()).WithSleep(func(d time.Duration) {
		*sleeps = append(*sleeps, d)
	})

	if factory != nil {
		reg.Register(factory)
	}

	return reg, backend, sleeps
}

func testDispatchContext() models.ExecutionContext {
	return models.ExecutionContext{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		VersionID:   "v-1",
		ContactID:   "contact-1",
	}
}

func testNode(kind string) *models.ActionNode {
	return &models.ActionNode{ID: "n1", Kind: kind, Config: map[string]any{"key": "value"}, Enabled: true}
}

func TestRegistry_Dispatch_Success(t *testing.T) {
	ctx := context.Background()
	executor := &scriptedExecutor{result: &protocol.ActionResult{
		Status: protocol.ActionCompleted,
		Output: map[string]any{"sent": true},
	}}
	reg, backend, sleeps := newTestRegistry(t, &scriptedFactory{
		kind: "email:send", family: models.FamilyCommunication, executor: executor,
	})

	result, err := reg.Dispatch(ctx, testNode("email:send"), testDispatchContext(), 0)
	require.NoError(t, err)

	assert.Equal(t, protocol.ActionCompleted, result.Status)
	assert.Equal(t, 1, executor.calls)
	assert.Empty(t, *sleeps)

	records, err := backend.Steps().ListByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StepStatusCompleted, records[0].Status)
	assert.Equal(t, 1, records[0].Attempt)
	assert.Equal(t, IdempotencyKey("exec-1", "n1", 0), records[0].IdempotencyKey)
}

func TestRegistry_Dispatch_TransientRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	executor := &scriptedExecutor{errs: []error{
		protocol.ErrProviderUnavailable,
		protocol.ErrRateLimited,
	}}
	reg, backend, sleeps := newTestRegistry(t, &scriptedFactory{
		kind: "email:send", family: models.FamilyCommunication, executor: executor,
	})

	result, err := reg.Dispatch(ctx, testNode("email:send"), testDispatchContext(), 0)
	require.NoError(t, err)

	assert.Equal(t, protocol.ActionCompleted, result.Status)
	assert.Equal(t, 3, executor.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)

	records, err := backend.Steps().ListByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StepStatusCompleted, records[0].Status)
	assert.Equal(t, 3, records[0].Attempt)
}

func TestRegistry_Dispatch_PermanentFailsImmediately(t *testing.T) {
	ctx := context.Background()
	executor := &scriptedExecutor{errs: []error{protocol.ErrUnauthorized}}
	reg, backend, sleeps := newTestRegistry(t, &scriptedFactory{
		kind: "crm:add_tag", family: models.FamilyCRM, executor: executor,
	})

	_, err := reg.Dispatch(ctx, testNode("crm:add_tag"), testDispatchContext(), 0)
	require.Error(t, err)

	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))
	assert.ErrorIs(t, err, protocol.ErrUnauthorized)
	assert.Equal(t, 1, executor.calls)
	assert.Empty(t, *sleeps)

	records, err := backend.Steps().ListByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StepStatusFailed, records[0].Status)
}

func TestRegistry_Dispatch_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	executor := &scriptedExecutor{errs: []error{
		protocol.ErrProviderTimeout,
		protocol.ErrProviderTimeout,
		protocol.ErrProviderTimeout,
	}}
	reg, backend, _ := newTestRegistry(t, &scriptedFactory{
		kind: "internal:webhook", family: models.FamilyInternal, executor: executor,
	})

	_, err := reg.Dispatch(ctx, testNode("internal:webhook"), testDispatchContext(), 0)
	require.Error(t, err)

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, protocol.ErrProviderTimeout)
	assert.Equal(t, 3, executor.calls)

	records, err := backend.Steps().ListByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StepStatusFailed, records[0].Status)
	assert.Equal(t, 3, records[0].Attempt)
	assert.Contains(t, records[0].Error, "retries exhausted")
}

func TestRegistry_Dispatch_UnknownErrorsAreTransient(t *testing.T) {
	ctx := context.Background()
	executor := &scriptedExecutor{errs: []error{errors.New("connection reset")}}
	reg, _, _ := newTestRegistry(t, &scriptedFactory{
		kind: "email:send", family: models.FamilyCommunication, executor: executor,
	})

	result, err := reg.Dispatch(ctx, testNode("email:send"), testDispatchContext(), 0)
	require.NoError(t, err)

	assert.Equal(t, protocol.ActionCompleted, result.Status)
	assert.Equal(t, 2, executor.calls)
}

func TestRegistry_Dispatch_KindNotRegistered(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)

	_, err := reg.Dispatch(context.Background(), testNode("carrier:pigeon"), testDispatchContext(), 0)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrKindNotRegistered)
	assert.True(t, IsPermanent(err))
}

func TestRegistry_Dispatch_InvalidConfigAtCreate(t *testing.T) {
	ctx := context.Background()
	reg, backend, _ := newTestRegistry(t, &scriptedFactory{
		kind: "email:send", family: models.FamilyCommunication,
		createErr: errors.New("missing 'message'"),
	})

	_, err := reg.Dispatch(ctx, testNode("email:send"), testDispatchContext(), 0)
	require.Error(t, err)

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, protocol.ErrInvalidConfig)

	records, err := backend.Steps().ListByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StepStatusFailed, records[0].Status)
}

func TestRegistry_Dispatch_IdempotencySkip(t *testing.T) {
	ctx := context.Background()
	executor := &scriptedExecutor{}
	reg, backend, _ := newTestRegistry(t, &scriptedFactory{
		kind: "email:send", family: models.FamilyCommunication, executor: executor,
	})

	require.NoError(t, backend.Steps().Append(ctx, &models.StepRecord{
		ExecutionID:    "exec-1",
		NodeID:         "n1",
		Kind:           "email:send",
		Attempt:        1,
		IdempotencyKey: IdempotencyKey("exec-1", "n1", 0),
		Status:         models.StepStatusCompleted,
		Output:         map[string]any{"message_id": "m-1"},
	}))

	result, err := reg.Dispatch(ctx, testNode("email:send"), testDispatchContext(), 0)
	require.NoError(t, err)

	assert.Equal(t, protocol.ActionCompleted, result.Status)
	assert.Equal(t, "m-1", result.Output["message_id"])
	assert.Zero(t, executor.calls, "side effect must not repeat")
}

func TestRegistry_Dispatch_FailedAttemptDoesNotBlockRedispatch(t *testing.T) {
	ctx := context.Background()
	executor := &scriptedExecutor{}
	reg, backend, _ := newTestRegistry(t, &scriptedFactory{
		kind: "email:send", family: models.FamilyCommunication, executor: executor,
	})

	// A failed record under the same key does not satisfy idempotency.
	require.NoError(t, backend.Steps().Append(ctx, &models.StepRecord{
		ExecutionID:    "exec-1",
		NodeID:         "n1",
		Kind:           "email:send",
		IdempotencyKey: IdempotencyKey("exec-1", "n1", 0),
		Status:         models.StepStatusFailed,
	}))

	_, err := reg.Dispatch(ctx, testNode("email:send"), testDispatchContext(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, executor.calls)
}

type brokenStepRepository struct {
	persistence.StepRepository
	lookupErr error
}

func (r *brokenStepRepository) FindByIdempotencyKey(_ context.Context, _ string) (*models.StepRecord, error) {
	return nil, r.lookupErr
}

func TestRegistry_Dispatch_IdempotencyLookupFailure(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	backend := memory.NewPersistence()

	executor := &scriptedExecutor{}
	steps := &brokenStepRepository{StepRepository: backend.Steps(), lookupErr: errors.New("store unavailable")}
	reg := NewRegistry(logger, steps).WithSleep(func(time.Duration) {})
	reg.Register(&scriptedFactory{kind: "email:send", family: models.FamilyCommunication, executor: executor})

	// An unreadable store must fail the dispatch, not skip the guard and
	// repeat the side effect.
	_, err := reg.Dispatch(ctx, testNode("email:send"), testDispatchContext(), 0)
	require.Error(t, err)

	assert.True(t, IsTransient(err))
	assert.Zero(t, executor.calls)
}

func TestRegistry_Dispatch_WaitingRecordReexecutes(t *testing.T) {
	ctx := context.Background()
	resumeAt := time.Now().Add(time.Hour).UTC()
	executor := &scriptedExecutor{result: &protocol.ActionResult{
		Status:   protocol.ActionWaiting,
		ResumeAt: &resumeAt,
	}}
	reg, backend, _ := newTestRegistry(t, &scriptedFactory{
		kind: "wait:delay", family: models.FamilyTiming, executor: executor,
	})

	// A waiting record does not replay: it carries no resumption terms,
	// so a redelivered dispatch re-executes and recomputes them.
	require.NoError(t, backend.Steps().Append(ctx, &models.StepRecord{
		ExecutionID:    "exec-1",
		NodeID:         "n1",
		Kind:           "wait:delay",
		Attempt:        1,
		IdempotencyKey: IdempotencyKey("exec-1", "n1", 0),
		Status:         models.StepStatusWaiting,
	}))

	result, err := reg.Dispatch(ctx, testNode("wait:delay"), testDispatchContext(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, executor.calls)
	assert.Equal(t, protocol.ActionWaiting, result.Status)
	require.NotNil(t, result.ResumeAt)
	assert.Equal(t, resumeAt, *result.ResumeAt)
}

func TestRegistry_Dispatch_EpochSeparatesAttempts(t *testing.T) {
	ctx := context.Background()
	executor := &scriptedExecutor{}
	reg, _, _ := newTestRegistry(t, &scriptedFactory{
		kind: "email:send", family: models.FamilyCommunication, executor: executor,
	})

	_, err := reg.Dispatch(ctx, testNode("email:send"), testDispatchContext(), 0)
	require.NoError(t, err)

	_, err = reg.Dispatch(ctx, testNode("email:send"), testDispatchContext(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, executor.calls)
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, Factor: 2}

	assert.Equal(t, time.Duration(0), policy.Delay(1))
	assert.Equal(t, time.Second, policy.Delay(2))
	assert.Equal(t, 2*time.Second, policy.Delay(3))
	assert.Equal(t, 4*time.Second, policy.Delay(4))
	assert.Equal(t, 8*time.Second, policy.Delay(5))
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "exec-1:n1:3", IdempotencyKey("exec-1", "n1", 3))
}
