package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

// MigrationRepository handles migration jobs and their outcome records.
type MigrationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const migrationJobColumns = `
	id, workflow_id, source_version_id, target_version_id, strategy, batch_size,
	action_mappings, contact_ids, status, migrated_count, failed_count,
	created_at, updated_at, completed_at
`

func (r *MigrationRepository) CreateJob(ctx context.Context, job *models.MigrationJob) error {
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

	mappings, contactIDs, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO migration_jobs
			(id, workflow_id, source_version_id, target_version_id, strategy, batch_size,
			 action_mappings, contact_ids, status, migrated_count, failed_count,
			 created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		job.ID, job.WorkflowID, job.SourceVersionID, job.TargetVersionID,
		job.Strategy, job.BatchSize, mappings, contactIDs, job.Status,
		job.MigratedCount, job.FailedCount, job.CreatedAt, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create migration job: %w", err)
	}

	return nil
}

func (r *MigrationRepository) UpdateJob(ctx context.Context, job *models.MigrationJob) error {
	mappings, contactIDs, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}

	job.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE migration_jobs
		SET strategy = $1, batch_size = $2, action_mappings = $3, contact_ids = $4,
			status = $5, migrated_count = $6, failed_count = $7,
			updated_at = $8, completed_at = $9
		WHERE id = $10
	`

	result, err := r.db.ExecContext(ctx, query,
		job.Strategy, job.BatchSize, mappings, contactIDs, job.Status,
		job.MigratedCount, job.FailedCount, job.UpdatedAt, job.CompletedAt, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update migration job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrMigrationJobNotFound
	}

	return nil
}

func (r *MigrationRepository) GetJob(ctx context.Context, id string) (*models.MigrationJob, error) {
	query := `SELECT ` + migrationJobColumns + ` FROM migration_jobs WHERE id = $1`

	job, err := scanMigrationJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrMigrationJobNotFound
		}

		return nil, fmt.Errorf("failed to query migration job: %w", err)
	}

	return job, nil
}

func (r *MigrationRepository) ListJobs(ctx context.Context, workflowID string) ([]*models.MigrationJob, error) {
	query := `SELECT ` + migrationJobColumns + `
		FROM migration_jobs
		WHERE workflow_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration jobs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	jobs := make([]*models.MigrationJob, 0)

	for rows.Next() {
		job, err := scanMigrationJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration job: %w", err)
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration jobs: %w", err)
	}

	return jobs, nil
}

func (r *MigrationRepository) RecordOutcome(ctx context.Context, record *models.MigrationRecord) error {
	if record.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		record.ID = id.String()
	}

	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO migration_records
			(id, job_id, execution_id, contact_id, from_version_id, to_version_id,
			 from_node_id, to_node_id, outcome, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id, execution_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.JobID, record.ExecutionID, record.ContactID,
		record.FromVersionID, record.ToVersionID,
		nullString(record.FromNodeID), nullString(record.ToNodeID),
		record.Outcome, nullString(record.Error), record.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to record migration outcome: %w", err)
	}

	return nil
}

func (r *MigrationRepository) OutcomesByJob(ctx context.Context, jobID string) ([]*models.MigrationRecord, error) {
	query := `
		SELECT id, job_id, execution_id, contact_id, from_version_id, to_version_id,
			   from_node_id, to_node_id, outcome, error, recorded_at
		FROM migration_records
		WHERE job_id = $1
		ORDER BY recorded_at
	`

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration records: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.MigrationRecord, 0)

	for rows.Next() {
		record := &models.MigrationRecord{}

		var fromNodeID, toNodeID, errMsg sql.NullString

		err := rows.Scan(&record.ID, &record.JobID, &record.ExecutionID,
			&record.ContactID, &record.FromVersionID, &record.ToVersionID,
			&fromNodeID, &toNodeID, &record.Outcome, &errMsg, &record.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}

		record.FromNodeID = fromNodeID.String
		record.ToNodeID = toNodeID.String
		record.Error = errMsg.String

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration records: %w", err)
	}

	return records, nil
}

func (r *MigrationRepository) HasOutcome(ctx context.Context, jobID, executionID string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM migration_records WHERE job_id = $1 AND execution_id = $2)`,
		jobID, executionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check migration outcome: %w", err)
	}

	return exists, nil
}

func marshalJobBlobs(job *models.MigrationJob) ([]byte, []byte, error) {
	var mappings, contactIDs []byte

	if job.ActionMappings != nil {
		data, err := json.Marshal(job.ActionMappings)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal action mappings: %w", err)
		}

		mappings = data
	}

	if job.ContactIDs != nil {
		data, err := json.Marshal(job.ContactIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal contact IDs: %w", err)
		}

		contactIDs = data
	}

	return mappings, contactIDs, nil
}

func scanMigrationJob(row rowScanner) (*models.MigrationJob, error) {
	job := &models.MigrationJob{}

	var mappings, contactIDs []byte

	err := row.Scan(&job.ID, &job.WorkflowID, &job.SourceVersionID, &job.TargetVersionID,
		&job.Strategy, &job.BatchSize, &mappings, &contactIDs, &job.Status,
		&job.MigratedCount, &job.FailedCount, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}

	if len(mappings) > 0 {
		if err := json.Unmarshal(mappings, &job.ActionMappings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action mappings: %w", err)
		}
	}

	if len(contactIDs) > 0 {
		if err := json.Unmarshal(contactIDs, &job.ContactIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal contact IDs: %w", err)
		}
	}

	return job, nil
}
