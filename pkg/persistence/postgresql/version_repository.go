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

// VersionRepository handles workflow version rows. The trigger and node
// graph live in JSONB columns; a version is read and executed whole.
type VersionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const versionColumns = `
	id, workflow_id, number, status, trigger, nodes, is_current,
	active_execution_count, lock_token, created_at, updated_at,
	published_at, archived_at
`

func (r *VersionRepository) Create(ctx context.Context, version *models.WorkflowVersion) error {
	if version.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		version.ID = id.String()
	}

	if version.LockToken == "" {
		version.LockToken = uuid.New().String()
	}

	now := time.Now().UTC()

	if version.CreatedAt.IsZero() {
		version.CreatedAt = now
	}

	version.UpdatedAt = now

	trigger, nodes, err := marshalGraph(version)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_versions
			(id, workflow_id, number, status, trigger, nodes, is_current,
			 active_execution_count, lock_token, created_at, updated_at, published_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		version.ID, version.WorkflowID, version.Number, version.Status,
		trigger, nodes, version.IsCurrent, version.ActiveExecutionCount,
		version.LockToken, version.CreatedAt, version.UpdatedAt,
		version.PublishedAt, version.ArchivedAt)
	if err != nil {
		return fmt.Errorf("failed to create version: %w", err)
	}

	return nil
}

// UpdateDraft writes a draft's graph under the optimistic lock: the update
// only lands when the stored token matches, and the token rotates with it.
func (r *VersionRepository) UpdateDraft(ctx context.Context, version *models.WorkflowVersion, expectedLockToken string) error {
	trigger, nodes, err := marshalGraph(version)
	if err != nil {
		return err
	}

	newToken := uuid.New().String()
	version.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE workflow_versions
		SET trigger = $1, nodes = $2, updated_at = $3, lock_token = $4
		WHERE id = $5 AND status = 'draft' AND lock_token = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		trigger, nodes, version.UpdatedAt, newToken, version.ID, expectedLockToken)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 0 {
		return r.explainMiss(ctx, "UpdateDraft", version.ID, true)
	}

	version.LockToken = newToken

	return nil
}

func (r *VersionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM workflow_versions WHERE id = $1`

	version, err := scanVersion(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrVersionNotFound
		}

		return nil, fmt.Errorf("failed to query version: %w", err)
	}

	return version, nil
}

func (r *VersionRepository) CurrentByWorkflow(ctx context.Context, workflowID string) (*models.WorkflowVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM workflow_versions WHERE workflow_id = $1 AND is_current`

	version, err := scanVersion(r.db.QueryRowContext(ctx, query, workflowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNoCurrentVersion
		}

		return nil, fmt.Errorf("failed to query current version: %w", err)
	}

	return version, nil
}

func (r *VersionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM workflow_versions WHERE workflow_id = $1 ORDER BY number`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	versions := make([]*models.WorkflowVersion, 0)

	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		versions = append(versions, version)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return versions, nil
}

// SetCurrent flips the current pointer in one transaction: the target row
// is locked, its token checked, the previous current demoted and the
// target promoted. Concurrent publishes serialize on the row lock and the
// loser fails the token check.
func (r *VersionRepository) SetCurrent(ctx context.Context, workflowID, targetVersionID, expectedLockToken string) (*models.WorkflowVersion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.ErrorContext(ctx, "failed to roll back transaction", "error", err)
		}
	}()

	var storedWorkflowID, storedToken string

	err = tx.QueryRowContext(ctx,
		`SELECT workflow_id, lock_token FROM workflow_versions WHERE id = $1 FOR UPDATE`,
		targetVersionID).Scan(&storedWorkflowID, &storedToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewVersionError("SetCurrent", targetVersionID, persistence.ErrVersionNotFound)
		}

		return nil, fmt.Errorf("failed to lock target version: %w", err)
	}

	if storedWorkflowID != workflowID {
		return nil, persistence.NewVersionError("SetCurrent", targetVersionID, persistence.ErrVersionNotFound)
	}

	if storedToken != expectedLockToken {
		return nil, persistence.NewVersionError("SetCurrent", targetVersionID, persistence.ErrLockConflict)
	}

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_versions
		SET is_current = FALSE, lock_token = $1, updated_at = $2
		WHERE workflow_id = $3 AND is_current AND id != $4
	`, uuid.New().String(), now, workflowID, targetVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to demote current version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_versions
		SET is_current = TRUE
		  , status = 'active'
		  , lock_token = $1
		  , updated_at = $2
		  , published_at = COALESCE(published_at, $2)
		WHERE id = $3
	`, uuid.New().String(), now, targetVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to promote target version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit current-pointer flip: %w", err)
	}

	return r.GetByID(ctx, targetVersionID)
}

func (r *VersionRepository) AdjustActiveExecutions(ctx context.Context, versionID string, delta int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_versions
		SET active_execution_count = GREATEST(active_execution_count + $1, 0), updated_at = NOW()
		WHERE id = $2
	`, delta, versionID)
	if err != nil {
		return fmt.Errorf("failed to adjust active executions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check adjust result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrVersionNotFound
	}

	return nil
}

func (r *VersionRepository) Archive(ctx context.Context, versionID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_versions
		SET status = 'archived', archived_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, versionID)
	if err != nil {
		return fmt.Errorf("failed to archive version: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check archive result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrVersionNotFound
	}

	return nil
}

// explainMiss turns a zero-row optimistic update into the precise error:
// missing row, wrong status, or lock conflict.
func (r *VersionRepository) explainMiss(ctx context.Context, op, versionID string, wantDraft bool) error {
	var status string

	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM workflow_versions WHERE id = $1`, versionID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewVersionError(op, versionID, persistence.ErrVersionNotFound)
		}

		return fmt.Errorf("failed to inspect version: %w", err)
	}

	if wantDraft && status != string(models.VersionStatusDraft) {
		return persistence.NewVersionError(op, versionID, persistence.ErrNotDraft)
	}

	return persistence.NewVersionError(op, versionID, persistence.ErrLockConflict)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*models.WorkflowVersion, error) {
	version := &models.WorkflowVersion{}

	var trigger, nodes []byte

	err := row.Scan(
		&version.ID, &version.WorkflowID, &version.Number, &version.Status,
		&trigger, &nodes, &version.IsCurrent, &version.ActiveExecutionCount,
		&version.LockToken, &version.CreatedAt, &version.UpdatedAt,
		&version.PublishedAt, &version.ArchivedAt)
	if err != nil {
		return nil, err
	}

	if len(trigger) > 0 {
		if err := json.Unmarshal(trigger, &version.Trigger); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
		}
	}

	if len(nodes) > 0 {
		if err := json.Unmarshal(nodes, &version.Nodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
		}
	}

	return version, nil
}

func marshalGraph(version *models.WorkflowVersion) ([]byte, []byte, error) {
	var trigger []byte

	if version.Trigger != nil {
		var err error

		trigger, err = json.Marshal(version.Trigger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal trigger: %w", err)
		}
	}

	nodes, err := json.Marshal(version.Nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal nodes: %w", err)
	}

	return trigger, nodes, nil
}
