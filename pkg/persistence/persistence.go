// Package persistence provides the data storage abstraction for versions,
// executions, goals, migrations and scheduler timers.
package persistence

import (
	"context"
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
)

// Persistence aggregates the engine's repositories behind one backend.
type Persistence interface {
	Workflows() WorkflowRepository
	Versions() VersionRepository
	Executions() ExecutionRepository
	Steps() StepRepository
	Goals() GoalRepository
	Migrations() MigrationRepository
	Timers() TimerRepository
	Schedules() ScheduleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores the stable workflow identities that group
// versions and own goal configuration.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// VersionRepository stores workflow versions and owns the single-current
// invariant. Every mutating call on a draft takes the caller's expected
// lock token; a mismatch fails with ErrLockConflict instead of overwriting.
type VersionRepository interface {
	Create(ctx context.Context, version *models.WorkflowVersion) error
	UpdateDraft(ctx context.Context, version *models.WorkflowVersion, expectedLockToken string) error
	GetByID(ctx context.Context, id string) (*models.WorkflowVersion, error)
	CurrentByWorkflow(ctx context.Context, workflowID string) (*models.WorkflowVersion, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error)

	// SetCurrent atomically flips the current pointer: the previous
	// current (if any) loses is_current and the target becomes current
	// and active. The previous current's lock token guards concurrent
	// publishes; the target's guards concurrent draft edits.
	SetCurrent(ctx context.Context, workflowID, targetVersionID, expectedLockToken string) (*models.WorkflowVersion, error)

	// AdjustActiveExecutions moves the pinned-execution counter by delta.
	AdjustActiveExecutions(ctx context.Context, versionID string, delta int) error

	Archive(ctx context.Context, versionID string) error
}

// ExecutionRepository stores enrollments. Update is optimistically locked
// per execution so resume/exit races have exactly one winner.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	Update(ctx context.Context, execution *models.Execution, expectedLockToken string) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	ActiveByContact(ctx context.Context, contactID string) ([]*models.Execution, error)
	ActiveByContactAndWorkflow(ctx context.Context, contactID, workflowID string) (*models.Execution, error)
	ActiveByVersion(ctx context.Context, versionID string, limit, offset int) ([]*models.Execution, error)
	CountActiveOnNode(ctx context.Context, versionID, nodeID string) (int, error)
}

// StepRepository stores the per-dispatch audit trail and backs the
// idempotency check for at-least-once redelivery.
type StepRepository interface {
	Append(ctx context.Context, record *models.StepRecord) error
	ListByExecution(ctx context.Context, executionID string) ([]*models.StepRecord, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.StepRecord, error)
}

// GoalRepository stores goal configs and achievements. RecordAchievement
// enforces (execution, goal) uniqueness and returns ErrDuplicateAchievement
// on a second recording.
type GoalRepository interface {
	SaveConfig(ctx context.Context, config *models.GoalConfig) error
	GetConfig(ctx context.Context, id string) (*models.GoalConfig, error)
	ActiveByWorkflow(ctx context.Context, workflowID string) ([]*models.GoalConfig, error)
	DeleteConfig(ctx context.Context, id string) error

	RecordAchievement(ctx context.Context, achievement *models.GoalAchievement) error
	AchievementsByExecution(ctx context.Context, executionID string) ([]*models.GoalAchievement, error)
}

// MigrationRepository stores migration jobs and their per-contact records.
type MigrationRepository interface {
	CreateJob(ctx context.Context, job *models.MigrationJob) error
	UpdateJob(ctx context.Context, job *models.MigrationJob) error
	GetJob(ctx context.Context, id string) (*models.MigrationJob, error)
	ListJobs(ctx context.Context, workflowID string) ([]*models.MigrationJob, error)

	RecordOutcome(ctx context.Context, record *models.MigrationRecord) error
	OutcomesByJob(ctx context.Context, jobID string) ([]*models.MigrationRecord, error)
	HasOutcome(ctx context.Context, jobID, executionID string) (bool, error)
}

// TimerRepository is the durable scheduler store. One timer per execution:
// scheduling again replaces the previous entry.
type TimerRepository interface {
	Schedule(ctx context.Context, timer *models.Timer) error
	Cancel(ctx context.Context, executionID string) error
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Timer, error)
	Delete(ctx context.Context, executionID string) error
}

// ScheduleRepository stores recurring enrollment schedules.
type ScheduleRepository interface {
	Save(ctx context.Context, schedule *models.EnrollmentSchedule) error
	Due(ctx context.Context, now time.Time) ([]*models.EnrollmentSchedule, error)
	GetByID(ctx context.Context, id string) (*models.EnrollmentSchedule, error)
	Delete(ctx context.Context, id string) error
}
