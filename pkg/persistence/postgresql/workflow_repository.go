package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

// WorkflowRepository handles workflow identity rows.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.GoalMatchMode == "" {
		workflow.GoalMatchMode = models.GoalMatchAny
	}

	query := `
		INSERT INTO workflows (id, name, description, goal_match_mode, owner, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , goal_match_mode = EXCLUDED.goal_match_mode
		  , owner = EXCLUDED.owner
		  , updated_at = EXCLUDED.updated_at
		  , deleted_at = EXCLUDED.deleted_at
	`

	_, err := r.db.ExecContext(ctx, query,
		workflow.ID, workflow.Name, workflow.Description, workflow.GoalMatchMode,
		workflow.Owner, workflow.CreatedAt, workflow.UpdatedAt, workflow.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT id, name, description, goal_match_mode, owner, created_at, updated_at, deleted_at
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	workflow := &models.Workflow{}
	owner := sql.NullString{}

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&workflow.ID, &workflow.Name, &workflow.Description, &workflow.GoalMatchMode,
		&owner, &workflow.CreatedAt, &workflow.UpdatedAt, &workflow.DeletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}

	workflow.Owner = owner.String

	return workflow, nil
}

func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT id, name, description, goal_match_mode, owner, created_at, updated_at, deleted_at
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer r.closeRows(ctx, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow := &models.Workflow{}
		owner := sql.NullString{}

		err := rows.Scan(
			&workflow.ID, &workflow.Name, &workflow.Description, &workflow.GoalMatchMode,
			&owner, &workflow.CreatedAt, &workflow.UpdatedAt, &workflow.DeletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflow.Owner = owner.String
		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE workflows SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

func (r *WorkflowRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
