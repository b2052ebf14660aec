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

// GoalRepository handles goal configs and achievements.
type GoalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *GoalRepository) SaveConfig(ctx context.Context, config *models.GoalConfig) error {
	if config.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		config.ID = id.String()
	}

	now := time.Now().UTC()

	if config.CreatedAt.IsZero() {
		config.CreatedAt = now
	}

	config.UpdatedAt = now

	criteria, err := json.Marshal(config.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal goal criteria: %w", err)
	}

	query := `
		INSERT INTO goal_configs (id, workflow_id, type, criteria, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			criteria = EXCLUDED.criteria,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		config.ID, config.WorkflowID, config.Type, criteria, config.Active,
		config.CreatedAt, config.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save goal config: %w", err)
	}

	return nil
}

func (r *GoalRepository) GetConfig(ctx context.Context, id string) (*models.GoalConfig, error) {
	query := `
		SELECT id, workflow_id, type, criteria, active, created_at, updated_at
		FROM goal_configs WHERE id = $1
	`

	config, err := scanGoalConfig(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrGoalNotFound
		}

		return nil, fmt.Errorf("failed to query goal config: %w", err)
	}

	return config, nil
}

func (r *GoalRepository) ActiveByWorkflow(ctx context.Context, workflowID string) ([]*models.GoalConfig, error) {
	query := `
		SELECT id, workflow_id, type, criteria, active, created_at, updated_at
		FROM goal_configs
		WHERE workflow_id = $1 AND active
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query goal configs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	configs := make([]*models.GoalConfig, 0)

	for rows.Next() {
		config, err := scanGoalConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal config: %w", err)
		}

		configs = append(configs, config)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating goal configs: %w", err)
	}

	return configs, nil
}

func (r *GoalRepository) DeleteConfig(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM goal_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete goal config: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrGoalNotFound
	}

	return nil
}

func (r *GoalRepository) RecordAchievement(ctx context.Context, achievement *models.GoalAchievement) error {
	if achievement.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		achievement.ID = id.String()
	}

	if achievement.AchievedAt.IsZero() {
		achievement.AchievedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO goal_achievements
			(id, execution_id, goal_id, workflow_id, contact_id, event_type, achieved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		achievement.ID, achievement.ExecutionID, achievement.GoalID,
		achievement.WorkflowID, achievement.ContactID, achievement.EventType,
		achievement.AchievedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return persistence.ErrDuplicateAchievement
		}

		return fmt.Errorf("failed to record goal achievement: %w", err)
	}

	return nil
}

func (r *GoalRepository) AchievementsByExecution(ctx context.Context, executionID string) ([]*models.GoalAchievement, error) {
	query := `
		SELECT id, execution_id, goal_id, workflow_id, contact_id, event_type, achieved_at
		FROM goal_achievements
		WHERE execution_id = $1
		ORDER BY achieved_at
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query goal achievements: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	achievements := make([]*models.GoalAchievement, 0)

	for rows.Next() {
		achievement := &models.GoalAchievement{}

		err := rows.Scan(&achievement.ID, &achievement.ExecutionID, &achievement.GoalID,
			&achievement.WorkflowID, &achievement.ContactID, &achievement.EventType,
			&achievement.AchievedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal achievement: %w", err)
		}

		achievements = append(achievements, achievement)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating goal achievements: %w", err)
	}

	return achievements, nil
}

func scanGoalConfig(row rowScanner) (*models.GoalConfig, error) {
	config := &models.GoalConfig{}

	var criteria []byte

	err := row.Scan(&config.ID, &config.WorkflowID, &config.Type, &criteria,
		&config.Active, &config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &config.Criteria); err != nil {
			return nil, fmt.Errorf("failed to unmarshal goal criteria: %w", err)
		}
	}

	return config, nil
}
