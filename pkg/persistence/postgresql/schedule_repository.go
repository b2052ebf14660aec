package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

// ScheduleRepository stores recurring enrollment schedules.
type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.EnrollmentSchedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()

	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	query := `
		INSERT INTO enrollment_schedules
			(id, workflow_id, cron_expression, segment_id, next_due_at, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			segment_id = EXCLUDED.segment_id,
			next_due_at = EXCLUDED.next_due_at,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		schedule.ID, schedule.WorkflowID, schedule.CronExpression,
		nullString(schedule.SegmentID), schedule.NextDueAt, schedule.Active,
		schedule.CreatedAt, schedule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	return nil
}

func (r *ScheduleRepository) Due(ctx context.Context, now time.Time) ([]*models.EnrollmentSchedule, error) {
	query := `
		SELECT id, workflow_id, cron_expression, segment_id, next_due_at, active, created_at, updated_at
		FROM enrollment_schedules
		WHERE active AND next_due_at <= $1
		ORDER BY next_due_at
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	schedules := make([]*models.EnrollmentSchedule, 0)

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*models.EnrollmentSchedule, error) {
	query := `
		SELECT id, workflow_id, cron_expression, segment_id, next_due_at, active, created_at, updated_at
		FROM enrollment_schedules WHERE id = $1
	`

	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}

	return schedule, nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM enrollment_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrScheduleNotFound
	}

	return nil
}

func scanSchedule(row rowScanner) (*models.EnrollmentSchedule, error) {
	schedule := &models.EnrollmentSchedule{}

	var segmentID sql.NullString

	err := row.Scan(&schedule.ID, &schedule.WorkflowID, &schedule.CronExpression,
		&segmentID, &schedule.NextDueAt, &schedule.Active,
		&schedule.CreatedAt, &schedule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	schedule.SegmentID = segmentID.String

	return schedule, nil
}
