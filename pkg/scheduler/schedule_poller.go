package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

const defaultSchedulePoll = time.Minute

// ScheduleCallback is invoked for every due enrollment schedule. It
// resolves the schedule's segment and enrolls the matching contacts.
type ScheduleCallback func(ctx context.Context, schedule *models.EnrollmentSchedule) error

// SchedulePoller is the centralized poller for recurring enrollment
// schedules. All cron expressions share one poll loop: a due schedule
// fires its callback and has its next due time advanced, so no per-schedule
// goroutines or in-process cron entries exist.
type SchedulePoller struct {
	schedules persistence.ScheduleRepository
	callback  ScheduleCallback
	logger    *slog.Logger

	pollInterval time.Duration
	ticker       *time.Ticker
	done         chan bool
	started      bool
	mu           sync.Mutex
}

// NewSchedulePoller creates a schedule poller.
func NewSchedulePoller(schedules persistence.ScheduleRepository, callback ScheduleCallback, logger *slog.Logger) *SchedulePoller {
	return &SchedulePoller{
		schedules:    schedules,
		callback:     callback,
		logger:       logger.With("module", "schedule_poller"),
		pollInterval: defaultSchedulePoll,
	}
}

// Start begins the poll loop.
func (p *SchedulePoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	p.ticker = time.NewTicker(p.pollInterval)
	p.done = make(chan bool)
	p.started = true

	go p.poll(ctx)

	p.logger.InfoContext(ctx, "Schedule poller started", "poll_interval", p.pollInterval)

	return nil
}

// Stop halts the poll loop.
func (p *SchedulePoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}

	p.ticker.Stop()

	select {
	case p.done <- true:
	default:
	}

	p.started = false

	p.logger.InfoContext(ctx, "Schedule poller stopped")

	return nil
}

func (p *SchedulePoller) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-p.ticker.C:
			p.processDue(ctx)
		}
	}
}

func (p *SchedulePoller) processDue(ctx context.Context) {
	due, err := p.schedules.Due(ctx, time.Now().UTC())
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to fetch due schedules", "error", err)

		return
	}

	for _, schedule := range due {
		logger := p.logger.With(
			"schedule_id", schedule.ID,
			"workflow_id", schedule.WorkflowID,
			"cron_expression", schedule.CronExpression,
		)

		if err := p.callback(ctx, schedule); err != nil {
			logger.ErrorContext(ctx, "Schedule callback failed", "error", err)
		}

		// The due time advances even after a callback failure; a missed
		// run is not retried outside its own cron cadence.
		if err := schedule.UpdateNextDueAt(); err != nil {
			logger.ErrorContext(ctx, "Failed to compute next due time", "error", err)

			continue
		}

		if err := p.schedules.Save(ctx, schedule); err != nil {
			logger.ErrorContext(ctx, "Failed to save schedule", "error", err)

			continue
		}

		logger.InfoContext(ctx, "Schedule processed", "next_due_at", schedule.NextDueAt)
	}
}
