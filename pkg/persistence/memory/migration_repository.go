package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

type migrationRepository struct {
	p *Persistence
}

func (r *migrationRepository) CreateJob(_ context.Context, job *models.MigrationJob) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if job.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		job.ID = id.String()
	}

	now := time.Now().UTC()

	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}

	job.UpdatedAt = now
	r.p.jobs[job.ID] = clone(job)

	return nil
}

func (r *migrationRepository) UpdateJob(_ context.Context, job *models.MigrationJob) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.jobs[job.ID]; !ok {
		return persistence.ErrMigrationJobNotFound
	}

	job.UpdatedAt = time.Now().UTC()
	r.p.jobs[job.ID] = clone(job)

	return nil
}

func (r *migrationRepository) GetJob(_ context.Context, id string) (*models.MigrationJob, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	job, ok := r.p.jobs[id]
	if !ok {
		return nil, persistence.ErrMigrationJobNotFound
	}

	return clone(job), nil
}

func (r *migrationRepository) ListJobs(_ context.Context, workflowID string) ([]*models.MigrationJob, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	jobs := make([]*models.MigrationJob, 0)

	for _, job := range r.p.jobs {
		if workflowID == "" || job.WorkflowID == workflowID {
			jobs = append(jobs, clone(job))
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	return jobs, nil
}

func (r *migrationRepository) RecordOutcome(_ context.Context, record *models.MigrationRecord) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	r.p.records = append(r.p.records, clone(record))

	return nil
}

func (r *migrationRepository) OutcomesByJob(_ context.Context, jobID string) ([]*models.MigrationRecord, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	records := make([]*models.MigrationRecord, 0)

	for _, record := range r.p.records {
		if record.JobID == jobID {
			records = append(records, clone(record))
		}
	}

	return records, nil
}

func (r *migrationRepository) HasOutcome(_ context.Context, jobID, executionID string) (bool, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, record := range r.p.records {
		if record.JobID == jobID && record.ExecutionID == executionID {
			return true, nil
		}
	}

	return false, nil
}
