package execution

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sequentcrm/sequent/pkg/executors/wait"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
	"github.com/sequentcrm/sequent/pkg/persistence/memory"
	"github.com/sequentcrm/sequent/pkg/protocol"
	"github.com/sequentcrm/sequent/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	kindOK   = "test:ok"
	kindFail = "test:fail"
)

type fakeExecutor struct {
	calls  int
	err    error
	result *protocol.ActionResult
}

func (e *fakeExecutor) Execute(_ context.Context, _ models.ExecutionContext, _ *slog.Logger) (*protocol.ActionResult, error) {
	e.calls++

	if e.err != nil {
		return nil, e.err
	}

	if e.result != nil {
		return e.result, nil
	}

	return &protocol.ActionResult{Status: protocol.ActionCompleted, Output: map[string]any{"ok": true}}, nil
}

type fakeFactory struct {
	kind     string
	executor *fakeExecutor
}

func (f *fakeFactory) Kind() string              { return f.kind }
func (f *fakeFactory) Family() models.NodeFamily { return models.FamilyCRM }
func (f *fakeFactory) Schema() map[string]any    { return nil }

func (f *fakeFactory) Create(_ map[string]any) (protocol.Executor, error) {
	return f.executor, nil
}

type scheduledResume struct {
	executionID string
	resumeAt    time.Time
	epoch       int
}

type stubScheduler struct {
	scheduled []scheduledResume
	cancelled []string
}

func (s *stubScheduler) ScheduleResume(_ context.Context, executionID string, resumeAt time.Time, epoch int) error {
	s.scheduled = append(s.scheduled, scheduledResume{executionID, resumeAt, epoch})

	return nil
}

func (s *stubScheduler) CancelResume(_ context.Context, executionID string) error {
	s.cancelled = append(s.cancelled, executionID)

	return nil
}

type engineFixture struct {
	engine    *Engine
	backend   *memory.Persistence
	scheduler *stubScheduler
	okExec    *fakeExecutor
	failExec  *fakeExecutor
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	backend := memory.NewPersistence()

	okExec := &fakeExecutor{}
	failExec := &fakeExecutor{err: protocol.ErrUnauthorized}

	reg := registry.NewRegistry(logger, backend.Steps()).WithSleep(func(time.Duration) {})
	reg.Register(&fakeFactory{kind: kindOK, executor: okExec})
	reg.Register(&fakeFactory{kind: kindFail, executor: failExec})
	reg.Register(wait.NewFactory(wait.KindDelay))
	reg.Register(wait.NewFactory(wait.KindForEvent))

	scheduler := &stubScheduler{}
	engine := NewEngine("worker-test", backend, reg, scheduler, nil, logger)

	return &engineFixture{
		engine:    engine,
		backend:   backend,
		scheduler: scheduler,
		okExec:    okExec,
		failExec:  failExec,
	}
}

func (f *engineFixture) seedCurrentVersion(t *testing.T, workflowID string, nodes []*models.ActionNode) *models.WorkflowVersion {
	t.Helper()

	version := &models.WorkflowVersion{
		WorkflowID: workflowID,
		Number:     1,
		Status:     models.VersionStatusActive,
		IsCurrent:  true,
		Trigger:    &models.TriggerDescriptor{Type: "segment.entered"},
		Nodes:      nodes,
	}
	require.NoError(t, f.backend.Versions().Create(context.Background(), version))

	return version
}

func strPtr(s string) *string { return &s }

func actionNode(id string, position int, next *string) *models.ActionNode {
	return &models.ActionNode{ID: id, Kind: kindOK, Position: position, Enabled: true, Next: next}
}

func delayNode(id string, position int, next *string) *models.ActionNode {
	return &models.ActionNode{
		ID:       id,
		Kind:     wait.KindDelay,
		Config:   map[string]any{"amount": 1, "unit": "hours"},
		Position: position,
		Enabled:  true,
		Next:     next,
	}
}

func TestEngine_Enroll_RunsToCompletion(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	version := f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		actionNode("n1", 0, strPtr("n2")),
		actionNode("n2", 1, nil),
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", map[string]any{"source": "import"}, nil)
	require.NoError(t, err)

	assert.Equal(t, version.ID, execution.VersionID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Empty(t, execution.CurrentNodeID)
	assert.NotNil(t, execution.CompletedAt)
	assert.Equal(t, 2, f.okExec.calls)
	assert.Contains(t, execution.StepResults, "n1")
	assert.Contains(t, execution.StepResults, "n2")

	// The version pin was taken and released.
	stored, err := f.backend.Versions().GetByID(ctx, version.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.ActiveExecutionCount)
}

func TestEngine_Enroll_NoCurrentVersion(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Enroll(context.Background(), "wf-1", "contact-1", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrNoCurrentVersion)
}

func TestEngine_Enroll_ParksOnWait(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	version := f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		delayNode("w1", 0, strPtr("n1")),
		actionNode("n1", 1, nil),
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusWaiting, execution.Status)
	assert.Equal(t, "w1", execution.CurrentNodeID)
	assert.NotNil(t, execution.ResumeAt)
	assert.Zero(t, execution.Epoch)
	assert.Zero(t, f.okExec.calls)

	require.Len(t, f.scheduler.scheduled, 1)
	assert.Equal(t, execution.ID, f.scheduler.scheduled[0].executionID)
	assert.Zero(t, f.scheduler.scheduled[0].epoch)

	stored, err := f.backend.Versions().GetByID(ctx, version.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ActiveExecutionCount)
}

func TestEngine_Enroll_DuplicateEnrollment(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		delayNode("w1", 0, nil),
	})

	_, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)

	_, err = f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrDuplicateEnrollment)
}

func TestEngine_Resume_ContinuesOnPinnedVersion(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	pinned := f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		delayNode("w1", 0, strPtr("n1")),
		actionNode("n1", 1, nil),
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusWaiting, execution.Status)

	// A new current version appears while the execution sleeps.
	replacement := &models.WorkflowVersion{
		WorkflowID: "wf-1",
		Number:     2,
		Status:     models.VersionStatusDraft,
		Trigger:    &models.TriggerDescriptor{Type: "segment.entered"},
		Nodes:      []*models.ActionNode{{ID: "x1", Kind: kindFail, Position: 0, Enabled: true}},
	}
	require.NoError(t, f.backend.Versions().Create(ctx, replacement))
	_, err = f.backend.Versions().SetCurrent(ctx, "wf-1", replacement.ID, replacement.LockToken)
	require.NoError(t, err)

	require.NoError(t, f.engine.Resume(ctx, execution.ID, 0))

	resumed, err := f.engine.Get(ctx, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, pinned.ID, resumed.VersionID)
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Equal(t, 1, resumed.Epoch)
	assert.Equal(t, 1, f.okExec.calls)
	assert.Zero(t, f.failExec.calls)
}

func TestEngine_Resume_StaleEpoch(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		delayNode("w1", 0, nil),
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)

	err = f.engine.Resume(ctx, execution.ID, 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleResume)

	stored, err := f.engine.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaiting, stored.Status)
}

func TestEngine_Resume_NotWaiting(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		actionNode("n1", 0, nil),
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	err = f.engine.Resume(ctx, execution.ID, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotWaiting)
}

func TestEngine_Resume_AppliesQueuedExit(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		delayNode("w1", 0, strPtr("n1")),
		actionNode("n1", 1, nil),
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)

	// A goal evaluator queued an exit marker while the execution slept.
	stored, err := f.backend.Executions().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	stored.ExitRequested = &models.ExitRequest{Reason: models.ExitReasonGoal, GoalID: "g-1", RequestedAt: time.Now().UTC()}
	require.NoError(t, f.backend.Executions().Update(ctx, stored, stored.LockToken))

	require.NoError(t, f.engine.Resume(ctx, execution.ID, 0))

	final, err := f.engine.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusExitedOnGoal, final.Status)
	assert.Zero(t, f.okExec.calls, "graph must not advance past an exit marker")
}

func TestEngine_RequestExit_WhileWaiting(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	version := f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		delayNode("w1", 0, nil),
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.RequestExit(ctx, execution.ID, models.ExitReasonGoal, "g-1"))

	stored, err := f.engine.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusExitedOnGoal, stored.Status)
	assert.Equal(t, string(models.ExitReasonGoal), stored.TerminationReason)
	assert.Contains(t, f.scheduler.cancelled, execution.ID)

	pinned, err := f.backend.Versions().GetByID(ctx, version.ID)
	require.NoError(t, err)
	assert.Zero(t, pinned.ActiveExecutionCount)
}

// parkingExecutions runs a one-shot callback after a read so a test can
// interleave a concurrent writer between an actor's read and its write.
type parkingExecutions struct {
	persistence.ExecutionRepository
	afterRead func()
}

func (r *parkingExecutions) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := r.ExecutionRepository.GetByID(ctx, id)

	if err == nil && r.afterRead != nil {
		hook := r.afterRead
		r.afterRead = nil
		hook()
	}

	return execution, err
}

type parkingPersistence struct {
	*memory.Persistence
	executions *parkingExecutions
}

func (p *parkingPersistence) Executions() persistence.ExecutionRepository {
	return p.executions
}

func TestEngine_RequestExit_RacingParkKeepsSingleWriter(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	backend := memory.NewPersistence()

	version := &models.WorkflowVersion{
		WorkflowID: "wf-1",
		Number:     1,
		Status:     models.VersionStatusActive,
		IsCurrent:  true,
		Trigger:    &models.TriggerDescriptor{Type: "segment.entered"},
		Nodes:      []*models.ActionNode{delayNode("w1", 0, nil)},
	}
	require.NoError(t, backend.Versions().Create(ctx, version))
	require.NoError(t, backend.Versions().AdjustActiveExecutions(ctx, version.ID, 1))

	execution := &models.Execution{
		WorkflowID:    "wf-1",
		VersionID:     version.ID,
		ContactID:     "contact-1",
		Status:        models.ExecutionStatusRunning,
		CurrentNodeID: "w1",
	}
	require.NoError(t, backend.Executions().Create(ctx, execution))

	// A worker parks the execution between the exit request's read and
	// its write, so the requester's snapshot goes stale mid-flight.
	wrapped := &parkingPersistence{Persistence: backend}
	wrapped.executions = &parkingExecutions{
		ExecutionRepository: backend.Executions(),
		afterRead: func() {
			stored, err := backend.Executions().GetByID(ctx, execution.ID)
			require.NoError(t, err)

			resumeAt := time.Now().Add(time.Hour).UTC()
			stored.Status = models.ExecutionStatusWaiting
			stored.ResumeAt = &resumeAt
			require.NoError(t, backend.Executions().Update(ctx, stored, stored.LockToken))
		},
	}

	reg := registry.NewRegistry(logger, backend.Steps()).WithSleep(func(time.Duration) {})
	scheduler := &stubScheduler{}
	engine := NewEngine("worker-test", wrapped, reg, scheduler, nil, logger)

	require.NoError(t, engine.RequestExit(ctx, execution.ID, models.ExitReasonGoal, "g-1"))

	// The parked state must not be overwritten back to running with its
	// resume timer orphaned: the exit applies to the fresh row instead.
	final, err := backend.Executions().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusExitedOnGoal, final.Status)
	assert.Equal(t, string(models.ExitReasonGoal), final.TerminationReason)
	assert.Nil(t, final.ResumeAt)
	assert.Contains(t, scheduler.cancelled, execution.ID)

	pinned, err := backend.Versions().GetByID(ctx, version.ID)
	require.NoError(t, err)
	assert.Zero(t, pinned.ActiveExecutionCount)
}

func TestEngine_RequestExit_TerminalIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		actionNode("n1", 0, nil),
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	require.NoError(t, f.engine.RequestExit(ctx, execution.ID, models.ExitReasonGoal, "g-1"))

	stored, err := f.engine.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
}

func TestEngine_Cancel(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		delayNode("w1", 0, nil),
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.Cancel(ctx, execution.ID))

	stored, err := f.engine.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
}

func TestEngine_FailWaiting(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		delayNode("w1", 0, nil),
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)

	cause := persistence.ErrTimerNotFound
	err = f.engine.FailWaiting(ctx, execution.ID, cause)
	assert.ErrorIs(t, err, cause)

	stored, err := f.engine.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.TerminationReason)

	err = f.engine.FailWaiting(ctx, execution.ID, cause)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotWaiting)
}

func TestEngine_Advance_BranchRouting(t *testing.T) {
	tests := []struct {
		name        string
		contactData map[string]any
		wantCalls   int
	}{
		{
			name:        "matching case takes its edge",
			contactData: map[string]any{"country": "BR"},
			wantCalls:   1,
		},
		{
			name:        "no match takes default edge",
			contactData: map[string]any{"country": "US"},
			wantCalls:   0,
		},
		{
			name:        "missing field takes default edge",
			contactData: map[string]any{},
			wantCalls:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newEngineFixture(t)
			f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
				{
					ID:       "b1",
					Kind:     models.KindBranch,
					Position: 0,
					Enabled:  true,
					Branch: &models.BranchSpec{
						Cases: []models.BranchCase{
							{
								When:       models.Condition{Field: "contact.country", Operator: models.OpEquals, Value: "BR"},
								NextNodeID: "n1",
							},
						},
						DefaultNodeID: "n2",
					},
				},
				actionNode("n1", 1, nil),
				{ID: "n2", Kind: kindOK, Position: 2, Enabled: false},
			})

			execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, tt.contactData)
			require.NoError(t, err)

			assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
			assert.Equal(t, tt.wantCalls, f.okExec.calls)
		})
	}
}

func TestEngine_Advance_FallbackEdge(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		{ID: "n1", Kind: kindFail, Position: 0, Enabled: true, FallbackNodeID: strPtr("n2")},
		actionNode("n2", 1, nil),
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 1, f.failExec.calls)
	assert.Equal(t, 1, f.okExec.calls)
}

func TestEngine_Advance_PermanentFailureWithoutFallback(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	version := f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		{ID: "n1", Kind: kindFail, Position: 0, Enabled: true},
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrUnauthorized)

	stored, getErr := f.engine.Get(ctx, execution.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.TerminationReason)

	pinned, getErr := f.backend.Versions().GetByID(ctx, version.ID)
	require.NoError(t, getErr)
	assert.Zero(t, pinned.ActiveExecutionCount)
}

func TestEngine_Advance_SkipsDisabledNodes(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		{ID: "n1", Kind: kindFail, Position: 0, Enabled: false, Next: strPtr("n2")},
		actionNode("n2", 1, nil),
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Zero(t, f.failExec.calls)
	assert.Equal(t, 1, f.okExec.calls)
}

func TestEngine_WaitForEvent_ParksWithTimeout(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCurrentVersion(t, "wf-1", []*models.ActionNode{
		{
			ID:       "w1",
			Kind:     wait.KindForEvent,
			Config:   map[string]any{"event_type": "contact.purchase_recorded", "timeout_hours": 48},
			Position: 0,
			Enabled:  true,
		},
	})

	execution, err := f.engine.Enroll(ctx, "wf-1", "contact-1", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusWaiting, execution.Status)
	assert.Equal(t, "contact.purchase_recorded", execution.WaitEvent)
	require.NotNil(t, execution.ResumeAt)
	require.Len(t, f.scheduler.scheduled, 1)
}
