package migration

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	service *Service
	backend *memory.Persistence
	source  *models.WorkflowVersion
	target  *models.WorkflowVersion
}

func newServiceFixture(t *testing.T, sourceNodes, targetNodes []*models.ActionNode) *serviceFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	backend := memory.NewPersistence()

	publishedAt := time.Now().UTC().Add(-time.Hour)

	source := &models.WorkflowVersion{
		WorkflowID:  "wf-1",
		Number:      1,
		Status:      models.VersionStatusActive,
		Nodes:       sourceNodes,
		PublishedAt: &publishedAt,
	}
	require.NoError(t, backend.Versions().Create(context.Background(), source))

	target := &models.WorkflowVersion{
		WorkflowID:  "wf-1",
		Number:      2,
		Status:      models.VersionStatusActive,
		IsCurrent:   true,
		Nodes:       targetNodes,
		PublishedAt: &publishedAt,
	}
	require.NoError(t, backend.Versions().Create(context.Background(), target))

	return &serviceFixture{
		service: NewService(backend, nil, logger).WithSleep(func(time.Duration) {}),
		backend: backend,
		source:  source,
		target:  target,
	}
}

func node(id string, position int) *models.ActionNode {
	return &models.ActionNode{ID: id, Kind: "email:send", Position: position, Enabled: true}
}

func (f *serviceFixture) seedExecution(t *testing.T, contactID, currentNodeID string) *models.Execution {
	t.Helper()

	execution := &models.Execution{
		WorkflowID:    "wf-1",
		VersionID:     f.source.ID,
		ContactID:     contactID,
		Status:        models.ExecutionStatusWaiting,
		CurrentNodeID: currentNodeID,
	}
	require.NoError(t, f.backend.Executions().Create(context.Background(), execution))

	return execution
}

func (f *serviceFixture) startJob(t *testing.T, mutate func(*models.MigrationJob)) *models.MigrationJob {
	t.Helper()

	job := &models.MigrationJob{
		SourceVersionID: f.source.ID,
		TargetVersionID: f.target.ID,
	}
	if mutate != nil {
		mutate(job)
	}

	created, err := f.service.Start(context.Background(), job)
	require.NoError(t, err)

	return created
}

func TestService_Start_Defaults(t *testing.T) {
	f := newServiceFixture(t, []*models.ActionNode{node("n1", 0)}, []*models.ActionNode{node("n1", 0)})

	job := f.startJob(t, nil)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "wf-1", job.WorkflowID)
	assert.Equal(t, models.MigrationImmediate, job.Strategy)
	assert.Equal(t, defaultBatchSize, job.BatchSize)
	assert.Equal(t, models.MigrationStatusPending, job.Status)
}

func TestService_Start_SameVersion(t *testing.T) {
	f := newServiceFixture(t, []*models.ActionNode{node("n1", 0)}, []*models.ActionNode{node("n1", 0)})

	_, err := f.service.Start(context.Background(), &models.MigrationJob{
		SourceVersionID: f.source.ID,
		TargetVersionID: f.source.ID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSameVersion)
}

func TestService_Start_TargetNeverPublished(t *testing.T) {
	f := newServiceFixture(t, []*models.ActionNode{node("n1", 0)}, []*models.ActionNode{node("n1", 0)})

	draft := &models.WorkflowVersion{
		WorkflowID: "wf-1",
		Number:     3,
		Status:     models.VersionStatusDraft,
		Nodes:      []*models.ActionNode{node("n1", 0)},
	}
	require.NoError(t, f.backend.Versions().Create(context.Background(), draft))

	_, err := f.service.Start(context.Background(), &models.MigrationJob{
		SourceVersionID: f.source.ID,
		TargetVersionID: draft.ID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTargetNotPublished)
}

func TestService_Run_Immediate(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t,
		[]*models.ActionNode{node("n1", 0), node("n2", 1)},
		[]*models.ActionNode{node("n1", 0), node("n2", 1)})

	first := f.seedExecution(t, "contact-1", "n1")
	second := f.seedExecution(t, "contact-2", "n2")

	job := f.startJob(t, nil)
	require.NoError(t, f.service.Run(ctx, job.ID))

	stored, err := f.service.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MigrationStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.MigratedCount)
	assert.Zero(t, stored.FailedCount)
	assert.NotNil(t, stored.CompletedAt)

	for _, seeded := range []*models.Execution{first, second} {
		migrated, err := f.backend.Executions().GetByID(ctx, seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, f.target.ID, migrated.VersionID)
		assert.Equal(t, seeded.CurrentNodeID, migrated.CurrentNodeID)
	}

	outcomes, err := f.backend.Migrations().OutcomesByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	for _, outcome := range outcomes {
		assert.Equal(t, models.MigrationOutcomeMigrated, outcome.Outcome)
	}
}

func TestService_Run_MovesVersionPins(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, []*models.ActionNode{node("n1", 0)}, []*models.ActionNode{node("n1", 0)})

	f.seedExecution(t, "contact-1", "n1")
	require.NoError(t, f.backend.Versions().AdjustActiveExecutions(ctx, f.source.ID, 1))

	job := f.startJob(t, nil)
	require.NoError(t, f.service.Run(ctx, job.ID))

	source, err := f.backend.Versions().GetByID(ctx, f.source.ID)
	require.NoError(t, err)
	assert.Zero(t, source.ActiveExecutionCount)

	target, err := f.backend.Versions().GetByID(ctx, f.target.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, target.ActiveExecutionCount)
}

func TestService_Run_PositionalMapping(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t,
		[]*models.ActionNode{node("old-1", 0), node("old-2", 1)},
		[]*models.ActionNode{node("new-1", 0), node("new-2", 1)})

	execution := f.seedExecution(t, "contact-1", "old-2")

	job := f.startJob(t, nil)
	require.NoError(t, f.service.Run(ctx, job.ID))

	migrated, err := f.backend.Executions().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, f.target.ID, migrated.VersionID)
	assert.Equal(t, "new-2", migrated.CurrentNodeID)
}

func TestService_Run_ExplicitMappingWins(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t,
		[]*models.ActionNode{node("old-1", 0)},
		[]*models.ActionNode{node("new-1", 0), node("new-2", 1)})

	execution := f.seedExecution(t, "contact-1", "old-1")

	job := f.startJob(t, func(j *models.MigrationJob) {
		j.ActionMappings = map[string]string{"old-1": "new-2"}
	})
	require.NoError(t, f.service.Run(ctx, job.ID))

	migrated, err := f.backend.Executions().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-2", migrated.CurrentNodeID)
}

func TestService_Run_UnmappableNodeFailsExecution(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t,
		[]*models.ActionNode{node("old-1", 0), {ID: "old-2", Kind: "sms:send", Position: 1, Enabled: true}},
		[]*models.ActionNode{node("new-1", 0), node("new-2", 1)})

	mapped := f.seedExecution(t, "contact-1", "old-1")
	stranded := f.seedExecution(t, "contact-2", "old-2")

	job := f.startJob(t, nil)
	require.NoError(t, f.service.Run(ctx, job.ID))

	stored, err := f.service.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MigrationStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.MigratedCount)
	assert.Equal(t, 1, stored.FailedCount)

	// The stranded execution keeps its source pin and node.
	left, err := f.backend.Executions().GetByID(ctx, stranded.ID)
	require.NoError(t, err)
	assert.Equal(t, f.source.ID, left.VersionID)
	assert.Equal(t, "old-2", left.CurrentNodeID)

	moved, err := f.backend.Executions().GetByID(ctx, mapped.ID)
	require.NoError(t, err)
	assert.Equal(t, f.target.ID, moved.VersionID)

	outcomes, err := f.backend.Migrations().OutcomesByJob(ctx, job.ID)
	require.NoError(t, err)

	failures := 0

	for _, outcome := range outcomes {
		if outcome.Outcome == models.MigrationOutcomeFailed {
			failures++
			assert.Equal(t, stranded.ID, outcome.ExecutionID)
			assert.Contains(t, outcome.Error, "no equivalent")
		}
	}

	assert.Equal(t, 1, failures)
}

func TestService_Run_Manual(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, []*models.ActionNode{node("n1", 0)}, []*models.ActionNode{node("n1", 0)})

	listed := f.seedExecution(t, "contact-1", "n1")
	unlisted := f.seedExecution(t, "contact-2", "n1")

	job := f.startJob(t, func(j *models.MigrationJob) {
		j.Strategy = models.MigrationManual
		j.ContactIDs = []string{"contact-1", "contact-3"}
	})
	require.NoError(t, f.service.Run(ctx, job.ID))

	moved, err := f.backend.Executions().GetByID(ctx, listed.ID)
	require.NoError(t, err)
	assert.Equal(t, f.target.ID, moved.VersionID)

	left, err := f.backend.Executions().GetByID(ctx, unlisted.ID)
	require.NoError(t, err)
	assert.Equal(t, f.source.ID, left.VersionID)

	stored, err := f.service.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MigrationStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.MigratedCount)
}

func TestService_Run_NotPending(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, []*models.ActionNode{node("n1", 0)}, []*models.ActionNode{node("n1", 0)})

	job := f.startJob(t, nil)
	require.NoError(t, f.service.Run(ctx, job.ID))

	err := f.service.Run(ctx, job.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobNotRunnable)
}

func TestService_Run_AttemptedOnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, []*models.ActionNode{node("n1", 0)}, []*models.ActionNode{node("n1", 0)})

	execution := f.seedExecution(t, "contact-1", "n1")

	job := f.startJob(t, nil)

	// A prior delivery already recorded an outcome for this execution.
	require.NoError(t, f.backend.Migrations().RecordOutcome(ctx, &models.MigrationRecord{
		ID:          uuid.New().String(),
		JobID:       job.ID,
		ExecutionID: execution.ID,
		ContactID:   "contact-1",
		Outcome:     models.MigrationOutcomeFailed,
	}))

	require.NoError(t, f.service.Run(ctx, job.ID))

	left, err := f.backend.Executions().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, f.source.ID, left.VersionID, "an attempted execution is never retried")

	outcomes, err := f.backend.Migrations().OutcomesByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
}

func TestService_Cancel_StopsPendingJob(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, []*models.ActionNode{node("n1", 0)}, []*models.ActionNode{node("n1", 0)})

	f.seedExecution(t, "contact-1", "n1")

	job := f.startJob(t, nil)
	require.NoError(t, f.service.Cancel(ctx, job.ID))

	stored, err := f.service.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MigrationStatusCancelled, stored.Status)

	// A cancelled job refuses to run.
	err = f.service.Run(ctx, job.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobNotRunnable)
}

func TestService_Cancel_TerminalIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, []*models.ActionNode{node("n1", 0)}, []*models.ActionNode{node("n1", 0)})

	job := f.startJob(t, nil)
	require.NoError(t, f.service.Run(ctx, job.ID))

	require.NoError(t, f.service.Cancel(ctx, job.ID))

	stored, err := f.service.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MigrationStatusCompleted, stored.Status)
}
