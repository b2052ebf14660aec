package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

// TimerRepository stores durable resume timers keyed by execution.
type TimerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *TimerRepository) Schedule(ctx context.Context, timer *models.Timer) error {
	if timer.CreatedAt.IsZero() {
		timer.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO timers (execution_id, resume_at, epoch, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (execution_id) DO UPDATE SET
			resume_at = EXCLUDED.resume_at,
			epoch = EXCLUDED.epoch,
			attempts = EXCLUDED.attempts,
			created_at = EXCLUDED.created_at
	`

	_, err := r.db.ExecContext(ctx, query,
		timer.ExecutionID, timer.ResumeAt, timer.Epoch, timer.Attempts, timer.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to schedule timer: %w", err)
	}

	return nil
}

func (r *TimerRepository) Cancel(ctx context.Context, executionID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM timers WHERE execution_id = $1`, executionID)
	if err != nil {
		return fmt.Errorf("failed to cancel timer: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cancel result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTimerNotFound
	}

	return nil
}

func (r *TimerRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Timer, error) {
	query := `
		SELECT execution_id, resume_at, epoch, attempts, created_at
		FROM timers
		WHERE resume_at <= $1
		ORDER BY resume_at
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due timers: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	timers := make([]*models.Timer, 0)

	for rows.Next() {
		timer := &models.Timer{}

		err := rows.Scan(&timer.ExecutionID, &timer.ResumeAt, &timer.Epoch,
			&timer.Attempts, &timer.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}

		timers = append(timers, timer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timers: %w", err)
	}

	return timers, nil
}

func (r *TimerRepository) Delete(ctx context.Context, executionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM timers WHERE execution_id = $1`, executionID); err != nil {
		return fmt.Errorf("failed to delete timer: %w", err)
	}

	return nil
}
