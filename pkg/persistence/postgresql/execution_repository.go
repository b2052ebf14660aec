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
	"github.com/lib/pq"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

// uniqueViolation is the PostgreSQL error code for unique constraint hits.
const uniqueViolation = "23505"

// ExecutionRepository handles execution rows.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const executionColumns = `
	id, workflow_id, version_id, contact_id, status, current_node_id,
	resume_at, wait_event, epoch, retry_counts, exit_requested, lock_token,
	trigger_data, contact_data, step_results, termination_reason,
	created_at, updated_at, completed_at
`

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		execution.ID = id.String()
	}

	if execution.LockToken == "" {
		execution.LockToken = uuid.New().String()
	}

	now := time.Now().UTC()

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	blobs, err := marshalExecutionBlobs(execution)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions
			(id, workflow_id, version_id, contact_id, status, current_node_id,
			 resume_at, wait_event, epoch, retry_counts, exit_requested, lock_token,
			 trigger_data, contact_data, step_results, termination_reason,
			 created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID, execution.WorkflowID, execution.VersionID, execution.ContactID,
		execution.Status, nullString(execution.CurrentNodeID),
		execution.ResumeAt, nullString(execution.WaitEvent), execution.Epoch,
		blobs.retryCounts, blobs.exitRequested, execution.LockToken,
		blobs.triggerData, blobs.contactData, blobs.stepResults,
		nullString(execution.TerminationReason),
		execution.CreatedAt, execution.UpdatedAt, execution.CompletedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrDuplicateEnrollment)
		}

		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// Update writes the execution under its optimistic lock, rotating the
// token on success.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution, expectedLockToken string) error {
	blobs, err := marshalExecutionBlobs(execution)
	if err != nil {
		return err
	}

	newToken := uuid.New().String()
	execution.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE executions
		SET status = $1, current_node_id = $2, resume_at = $3, wait_event = $4,
			epoch = $5, retry_counts = $6, exit_requested = $7, lock_token = $8,
			trigger_data = $9, contact_data = $10, step_results = $11,
			termination_reason = $12, updated_at = $13, completed_at = $14,
			version_id = $15
		WHERE id = $16 AND lock_token = $17
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.Status, nullString(execution.CurrentNodeID), execution.ResumeAt,
		nullString(execution.WaitEvent), execution.Epoch,
		blobs.retryCounts, blobs.exitRequested, newToken,
		blobs.triggerData, blobs.contactData, blobs.stepResults,
		nullString(execution.TerminationReason), execution.UpdatedAt,
		execution.CompletedAt, execution.VersionID,
		execution.ID, expectedLockToken)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM executions WHERE id = $1)`, execution.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to inspect execution: %w", err)
		}

		if !exists {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrLockConflict)
	}

	execution.LockToken = newToken

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to query execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ActiveByContact(ctx context.Context, contactID string) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE contact_id = $1 AND status IN ('running', 'waiting')
		ORDER BY created_at
	`

	return r.queryExecutions(ctx, query, contactID)
}

func (r *ExecutionRepository) ActiveByContactAndWorkflow(ctx context.Context, contactID, workflowID string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE contact_id = $1 AND workflow_id = $2 AND status IN ('running', 'waiting')
	`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, contactID, workflowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to query execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ActiveByVersion(ctx context.Context, versionID string, limit, offset int) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE version_id = $1 AND status IN ('running', 'waiting')
		ORDER BY id
		LIMIT $2 OFFSET $3
	`

	return r.queryExecutions(ctx, query, versionID, limit, offset)
}

func (r *ExecutionRepository) CountActiveOnNode(ctx context.Context, versionID, nodeID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions
		WHERE version_id = $1 AND current_node_id = $2 AND status IN ('running', 'waiting')
	`, versionID, nodeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions on node: %w", err)
	}

	return count, nil
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

type executionBlobs struct {
	retryCounts   []byte
	exitRequested []byte
	triggerData   []byte
	contactData   []byte
	stepResults   []byte
}

func marshalExecutionBlobs(execution *models.Execution) (*executionBlobs, error) {
	blobs := &executionBlobs{}

	for _, field := range []struct {
		name  string
		value any
		dest  *[]byte
	}{
		{"retry_counts", execution.RetryCounts, &blobs.retryCounts},
		{"exit_requested", execution.ExitRequested, &blobs.exitRequested},
		{"trigger_data", execution.TriggerData, &blobs.triggerData},
		{"contact_data", execution.ContactData, &blobs.contactData},
		{"step_results", execution.StepResults, &blobs.stepResults},
	} {
		if field.value == nil {
			continue
		}

		data, err := json.Marshal(field.value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", field.name, err)
		}

		*field.dest = data
	}

	return blobs, nil
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	execution := &models.Execution{}

	var (
		currentNodeID, waitEvent, terminationReason sql.NullString
		retryCounts, exitRequested                  []byte
		triggerData, contactData, stepResults       []byte
	)

	err := row.Scan(
		&execution.ID, &execution.WorkflowID, &execution.VersionID, &execution.ContactID,
		&execution.Status, &currentNodeID, &execution.ResumeAt, &waitEvent,
		&execution.Epoch, &retryCounts, &exitRequested, &execution.LockToken,
		&triggerData, &contactData, &stepResults, &terminationReason,
		&execution.CreatedAt, &execution.UpdatedAt, &execution.CompletedAt)
	if err != nil {
		return nil, err
	}

	execution.CurrentNodeID = currentNodeID.String
	execution.WaitEvent = waitEvent.String
	execution.TerminationReason = terminationReason.String

	for _, blob := range []struct {
		name string
		data []byte
		dest any
	}{
		{"retry_counts", retryCounts, &execution.RetryCounts},
		{"exit_requested", exitRequested, &execution.ExitRequested},
		{"trigger_data", triggerData, &execution.TriggerData},
		{"contact_data", contactData, &execution.ContactData},
		{"step_results", stepResults, &execution.StepResults},
	} {
		if len(blob.data) == 0 {
			continue
		}

		if err := json.Unmarshal(blob.data, blob.dest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", blob.name, err)
		}
	}

	return execution, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

// StepRepository handles the step audit trail.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *StepRepository) Append(ctx context.Context, record *models.StepRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	input, err := json.Marshal(record.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal step input: %w", err)
	}

	output, err := json.Marshal(record.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	query := `
		INSERT INTO execution_steps
			(id, execution_id, node_id, kind, attempt, idempotency_key, status,
			 input, output, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		record.ID, record.ExecutionID, record.NodeID, record.Kind, record.Attempt,
		record.IdempotencyKey, record.Status, input, output,
		nullString(record.Error), record.StartedAt, record.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to append step record: %w", err)
	}

	return nil
}

func (r *StepRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.StepRecord, error) {
	query := `
		SELECT id, execution_id, node_id, kind, attempt, idempotency_key, status,
			   input, output, error, started_at, finished_at
		FROM execution_steps
		WHERE execution_id = $1
		ORDER BY started_at
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step records: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.StepRecord, 0)

	for rows.Next() {
		record, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step record: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step records: %w", err)
	}

	return records, nil
}

func (r *StepRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.StepRecord, error) {
	query := `
		SELECT id, execution_id, node_id, kind, attempt, idempotency_key, status,
			   input, output, error, started_at, finished_at
		FROM execution_steps
		WHERE idempotency_key = $1 AND status != 'failed'
		LIMIT 1
	`

	record, err := scanStep(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to query step record: %w", err)
	}

	return record, nil
}

func scanStep(row rowScanner) (*models.StepRecord, error) {
	record := &models.StepRecord{}

	var (
		input, output []byte
		errMsg        sql.NullString
	)

	err := row.Scan(
		&record.ID, &record.ExecutionID, &record.NodeID, &record.Kind,
		&record.Attempt, &record.IdempotencyKey, &record.Status,
		&input, &output, &errMsg, &record.StartedAt, &record.FinishedAt)
	if err != nil {
		return nil, err
	}

	record.Error = errMsg.String

	if len(input) > 0 {
		if err := json.Unmarshal(input, &record.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step input: %w", err)
		}
	}

	if len(output) > 0 {
		if err := json.Unmarshal(output, &record.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
		}
	}

	return record, nil
}
