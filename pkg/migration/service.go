// Package migration moves in-flight executions between versions of one
// workflow. Migration is the only path that changes an execution's version
// pin, and every transition is recorded per contact.
package migration

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
	"github.com/sequentcrm/sequent/pkg/persistence"
)

const (
	defaultBatchSize  = 100
	gradualBatchDelay = 30 * time.Second
)

// ErrSameVersion is returned when a job's source and target are the same
// version.
var ErrSameVersion = errors.New("source and target versions are the same")

// ErrTargetNotPublished is returned when the target version was never
// published.
var ErrTargetNotPublished = errors.New("target version was never published")

// ErrJobNotRunnable is returned when Run is called on a job that is not
// pending.
var ErrJobNotRunnable = errors.New("migration job is not pending")

// ErrNoMappedNode is the per-execution failure cause when the current node
// has no equivalent in the target version.
var ErrNoMappedNode = errors.New("current node has no equivalent in target version")

// Service creates and runs migration jobs.
type Service struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	logger      *slog.Logger

	// sleep is swapped out by tests to avoid real gradual-batch delays.
	sleep func(time.Duration)
	now   func() time.Time
}

// NewService creates a migration service.
func NewService(p persistence.Persistence, eb eventbus.EventBus, logger *slog.Logger) *Service {
	return &Service{
		persistence: p,
		eventBus:    eb,
		logger:      logger.With("module", "migration_service"),
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

// WithSleep replaces the gradual-batch sleeper, for tests.
func (s *Service) WithSleep(sleep func(time.Duration)) *Service {
	s.sleep = sleep

	return s
}

// Start validates and stores a new migration job in pending state. Run
// executes it.
func (s *Service) Start(ctx context.Context, job *models.MigrationJob) (*models.MigrationJob, error) {
	if job.SourceVersionID == job.TargetVersionID {
		return nil, ErrSameVersion
	}

	source, err := s.persistence.Versions().GetByID(ctx, job.SourceVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get source version %s: %w", job.SourceVersionID, err)
	}

	target, err := s.persistence.Versions().GetByID(ctx, job.TargetVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get target version %s: %w", job.TargetVersionID, err)
	}

	if source.WorkflowID != target.WorkflowID {
		return nil, fmt.Errorf("versions belong to different workflows: %w", persistence.ErrVersionNotFound)
	}

	if target.PublishedAt == nil {
		return nil, ErrTargetNotPublished
	}

	if job.Strategy == "" {
		job.Strategy = models.MigrationImmediate
	}

	if job.BatchSize <= 0 {
		job.BatchSize = defaultBatchSize
	}

	now := s.now().UTC()
	job.ID = uuid.Must(uuid.NewV7()).String()
	job.WorkflowID = source.WorkflowID
	job.Status = models.MigrationStatusPending
	job.MigratedCount = 0
	job.FailedCount = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := s.persistence.Migrations().CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create migration job: %w", err)
	}

	s.logger.InfoContext(ctx, "Created migration job",
		"job_id", job.ID, "workflow_id", job.WorkflowID,
		"source_version_id", job.SourceVersionID, "target_version_id", job.TargetVersionID,
		"strategy", job.Strategy)

	return job, nil
}

// Run executes a pending job to completion or cancellation. Each execution
// is attempted at most once per job; failures leave the execution on the
// source version and are recorded, never retried silently.
func (s *Service) Run(ctx context.Context, jobID string) error {
	job, err := s.persistence.Migrations().GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get migration job %s: %w", jobID, err)
	}

	if job.Status != models.MigrationStatusPending {
		return fmt.Errorf("job %s in status %s: %w", jobID, job.Status, ErrJobNotRunnable)
	}

	source, err := s.persistence.Versions().GetByID(ctx, job.SourceVersionID)
	if err != nil {
		return fmt.Errorf("failed to get source version: %w", err)
	}

	target, err := s.persistence.Versions().GetByID(ctx, job.TargetVersionID)
	if err != nil {
		return fmt.Errorf("failed to get target version: %w", err)
	}

	job.Status = models.MigrationStatusInProgress
	if err := s.persistence.Migrations().UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to update migration job: %w", err)
	}

	s.logger.InfoContext(ctx, "Running migration job", "job_id", job.ID, "strategy", job.Strategy)

	switch job.Strategy {
	case models.MigrationManual:
		err = s.runManual(ctx, job, source, target)
	default:
		err = s.runBatched(ctx, job, source, target)
	}

	if err != nil {
		job.Status = models.MigrationStatusFailed
		job.UpdatedAt = s.now().UTC()

		if updateErr := s.persistence.Migrations().UpdateJob(ctx, job); updateErr != nil {
			s.logger.ErrorContext(ctx, "Failed to record job failure", "job_id", job.ID, "error", updateErr)
		}

		return err
	}

	if job.Status == models.MigrationStatusCancelled {
		s.publish(ctx, job, events.MigrationCancelled{
			BaseEvent: s.baseEvent(events.MigrationCancelledEvent, job.WorkflowID),
			JobID:     job.ID,
		})

		return nil
	}

	now := s.now().UTC()
	job.Status = models.MigrationStatusCompleted
	job.CompletedAt = &now
	job.UpdatedAt = now

	if err := s.persistence.Migrations().UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to complete migration job: %w", err)
	}

	s.logger.InfoContext(ctx, "Migration job finished",
		"job_id", job.ID, "migrated", job.MigratedCount, "failed", job.FailedCount)

	s.publish(ctx, job, events.MigrationFinished{
		BaseEvent:     s.baseEvent(events.MigrationFinishedEvent, job.WorkflowID),
		JobID:         job.ID,
		FromVersionID: job.SourceVersionID,
		ToVersionID:   job.TargetVersionID,
		MigratedCount: job.MigratedCount,
		FailedCount:   job.FailedCount,
	})

	return nil
}

// Cancel stops a pending or running job. Executions already migrated stay
// on the target version.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.persistence.Migrations().GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get migration job %s: %w", jobID, err)
	}

	if job.Status != models.MigrationStatusPending && job.Status != models.MigrationStatusInProgress {
		return nil
	}

	job.Status = models.MigrationStatusCancelled
	job.UpdatedAt = s.now().UTC()

	if err := s.persistence.Migrations().UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to cancel migration job %s: %w", jobID, err)
	}

	s.logger.InfoContext(ctx, "Cancelled migration job", "job_id", jobID)

	return nil
}

// GetJob returns one migration job.
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.MigrationJob, error) {
	job, err := s.persistence.Migrations().GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration job %s: %w", jobID, err)
	}

	return job, nil
}

// runBatched drains the source version batch by batch. Executions that
// failed to migrate (or were already attempted) stay on the source
// version, so the read offset advances past them.
func (s *Service) runBatched(ctx context.Context, job *models.MigrationJob, source, target *models.WorkflowVersion) error {
	offset := 0
	firstBatch := true

	for {
		if cancelled, err := s.reloadCancelled(ctx, job); err != nil {
			return err
		} else if cancelled {
			return nil
		}

		if !firstBatch && job.Strategy == models.MigrationGradual {
			s.sleep(gradualBatchDelay)
		}

		firstBatch = false

		batch, err := s.persistence.Executions().ActiveByVersion(ctx, job.SourceVersionID, job.BatchSize, offset)
		if err != nil {
			return fmt.Errorf("failed to list executions on version %s: %w", job.SourceVersionID, err)
		}

		if len(batch) == 0 {
			return nil
		}

		for _, exec := range batch {
			migrated, err := s.migrateOne(ctx, job, exec, source, target)
			if err != nil {
				return err
			}

			if !migrated {
				offset++
			}
		}

		if err := s.persistence.Migrations().UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("failed to update migration job: %w", err)
		}
	}
}

// runManual migrates only the job's listed contacts.
func (s *Service) runManual(ctx context.Context, job *models.MigrationJob, source, target *models.WorkflowVersion) error {
	for _, contactID := range job.ContactIDs {
		if cancelled, err := s.reloadCancelled(ctx, job); err != nil {
			return err
		} else if cancelled {
			return nil
		}

		exec, err := s.persistence.Executions().ActiveByContactAndWorkflow(ctx, contactID, job.WorkflowID)
		if err != nil {
			if persistence.IsNotFound(err) {
				s.logger.WarnContext(ctx, "Contact has no active execution to migrate",
					"job_id", job.ID, "contact_id", contactID)

				continue
			}

			return fmt.Errorf("failed to find execution for contact %s: %w", contactID, err)
		}

		if exec.VersionID != job.SourceVersionID {
			s.logger.WarnContext(ctx, "Contact's execution is not on the source version",
				"job_id", job.ID, "contact_id", contactID, "version_id", exec.VersionID)

			continue
		}

		if _, err := s.migrateOne(ctx, job, exec, source, target); err != nil {
			return err
		}
	}

	return s.persistence.Migrations().UpdateJob(ctx, job)
}

// migrateOne moves a single execution, recording exactly one outcome per
// (job, execution). The pin and current node flip together under the
// execution's optimistic lock; a lock conflict records a failure and
// leaves the execution untouched.
func (s *Service) migrateOne(ctx context.Context, job *models.MigrationJob, exec *models.Execution, source, target *models.WorkflowVersion) (bool, error) {
	attempted, err := s.persistence.Migrations().HasOutcome(ctx, job.ID, exec.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check outcome for execution %s: %w", exec.ID, err)
	}

	if attempted {
		return false, nil
	}

	record := &models.MigrationRecord{
		ID:            uuid.Must(uuid.NewV7()).String(),
		JobID:         job.ID,
		ExecutionID:   exec.ID,
		ContactID:     exec.ContactID,
		FromVersionID: job.SourceVersionID,
		ToVersionID:   job.TargetVersionID,
		FromNodeID:    exec.CurrentNodeID,
		RecordedAt:    s.now().UTC(),
	}

	targetNodeID, err := s.mapNode(exec.CurrentNodeID, source, target, job.ActionMappings)
	if err != nil {
		return false, s.recordFailure(ctx, job, record, err)
	}

	record.ToNodeID = targetNodeID

	exec.VersionID = job.TargetVersionID
	exec.CurrentNodeID = targetNodeID

	if err := s.persistence.Executions().Update(ctx, exec, exec.LockToken); err != nil {
		if persistence.IsLockConflict(err) {
			return false, s.recordFailure(ctx, job, record, err)
		}

		return false, fmt.Errorf("failed to update execution %s: %w", exec.ID, err)
	}

	if err := s.persistence.Versions().AdjustActiveExecutions(ctx, job.SourceVersionID, -1); err != nil {
		return false, fmt.Errorf("failed to release source pin: %w", err)
	}

	if err := s.persistence.Versions().AdjustActiveExecutions(ctx, job.TargetVersionID, 1); err != nil {
		return false, fmt.Errorf("failed to take target pin: %w", err)
	}

	record.Outcome = models.MigrationOutcomeMigrated

	if err := s.persistence.Migrations().RecordOutcome(ctx, record); err != nil {
		return false, fmt.Errorf("failed to record migration outcome: %w", err)
	}

	job.MigratedCount++
	job.UpdatedAt = s.now().UTC()

	return true, nil
}

func (s *Service) recordFailure(ctx context.Context, job *models.MigrationJob, record *models.MigrationRecord, cause error) error {
	record.Outcome = models.MigrationOutcomeFailed
	record.Error = cause.Error()

	if err := s.persistence.Migrations().RecordOutcome(ctx, record); err != nil {
		return fmt.Errorf("failed to record migration failure: %w", err)
	}

	job.FailedCount++
	job.UpdatedAt = s.now().UTC()

	s.logger.WarnContext(ctx, "Execution not migrated",
		"job_id", job.ID, "execution_id", record.ExecutionID, "error", cause)

	return nil
}

// mapNode resolves the target node for an execution's current node:
// explicit mapping first, then identical node ID, then the same position
// in the target graph. An execution between nodes (empty current node)
// needs no mapping.
func (s *Service) mapNode(currentNodeID string, source, target *models.WorkflowVersion, mappings map[string]string) (string, error) {
	if currentNodeID == "" {
		return "", nil
	}

	if mapped, ok := mappings[currentNodeID]; ok {
		if target.NodeByID(mapped) == nil {
			return "", fmt.Errorf("mapped node %s: %w", mapped, ErrNoMappedNode)
		}

		return mapped, nil
	}

	if target.NodeByID(currentNodeID) != nil {
		return currentNodeID, nil
	}

	for position, node := range source.Nodes {
		if node.ID != currentNodeID {
			continue
		}

		if candidate := target.NodeAtPosition(position); candidate != nil && candidate.Kind == node.Kind {
			return candidate.ID, nil
		}

		break
	}

	return "", fmt.Errorf("node %s: %w", currentNodeID, ErrNoMappedNode)
}

func (s *Service) reloadCancelled(ctx context.Context, job *models.MigrationJob) (bool, error) {
	stored, err := s.persistence.Migrations().GetJob(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("failed to reload migration job %s: %w", job.ID, err)
	}

	if stored.Status == models.MigrationStatusCancelled {
		job.Status = models.MigrationStatusCancelled

		s.logger.InfoContext(ctx, "Migration job cancelled, stopping", "job_id", job.ID)

		return true, nil
	}

	return false, nil
}

func (s *Service) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	id := ""
	if s.eventBus != nil {
		id = s.eventBus.GenerateID()
	}

	return events.BaseEvent{
		ID:         id,
		Type:       eventType,
		Timestamp:  s.now().UTC(),
		WorkflowID: workflowID,
	}
}

func (s *Service) publish(ctx context.Context, job *models.MigrationJob, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	if err := s.eventBus.Publish(ctx, job.ID, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish migration event",
			"job_id", job.ID, "event_type", event.GetType(), "error", err)
	}
}
