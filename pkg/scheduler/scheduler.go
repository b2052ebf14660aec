// Package scheduler owns durable time: it stores resume timers when
// executions enter waits and delivers them back to the engine when due.
// Timers live in the timer store, never in-process, so pending waits
// survive restarts and years-long delays cost nothing while parked.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

// TimerScheduler is the engine-facing half: it writes and cancels durable
// timers. One timer per execution; scheduling again replaces the entry.
type TimerScheduler struct {
	timers persistence.TimerRepository
	logger *slog.Logger
}

// NewTimerScheduler creates a timer scheduler over the given store.
func NewTimerScheduler(timers persistence.TimerRepository, logger *slog.Logger) *TimerScheduler {
	return &TimerScheduler{
		timers: timers,
		logger: logger.With("module", "timer_scheduler"),
	}
}

// ScheduleResume stores a durable timer for one wait entry.
func (s *TimerScheduler) ScheduleResume(ctx context.Context, executionID string, resumeAt time.Time, epoch int) error {
	timer := &models.Timer{
		ExecutionID: executionID,
		ResumeAt:    resumeAt,
		Epoch:       epoch,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.timers.Schedule(ctx, timer); err != nil {
		return fmt.Errorf("failed to schedule timer for execution %s: %w", executionID, err)
	}

	s.logger.InfoContext(ctx, "Scheduled resume timer",
		"execution_id", executionID, "resume_at", resumeAt, "epoch", epoch)

	return nil
}

// CancelResume removes the execution's pending timer. An execution with no
// timer is already where cancellation wants it.
func (s *TimerScheduler) CancelResume(ctx context.Context, executionID string) error {
	err := s.timers.Cancel(ctx, executionID)
	if err != nil && !errors.Is(err, persistence.ErrTimerNotFound) {
		return fmt.Errorf("failed to cancel timer for execution %s: %w", executionID, err)
	}

	return nil
}
