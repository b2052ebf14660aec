package memory

import (
	"context"
	"sort"
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

type timerRepository struct {
	p *Persistence
}

// Schedule replaces any existing timer for the execution; an execution
// waits on at most one resumption at a time.
func (r *timerRepository) Schedule(_ context.Context, timer *models.Timer) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if timer.CreatedAt.IsZero() {
		timer.CreatedAt = time.Now().UTC()
	}

	r.p.timers[timer.ExecutionID] = clone(timer)

	return nil
}

func (r *timerRepository) Cancel(_ context.Context, executionID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.timers[executionID]; !ok {
		return persistence.ErrTimerNotFound
	}

	delete(r.p.timers, executionID)

	return nil
}

func (r *timerRepository) Due(_ context.Context, now time.Time, limit int) ([]*models.Timer, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	due := make([]*models.Timer, 0)

	for _, timer := range r.p.timers {
		if !timer.ResumeAt.After(now) {
			due = append(due, clone(timer))
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ResumeAt.Before(due[j].ResumeAt)
	})

	if limit > 0 && limit < len(due) {
		due = due[:limit]
	}

	return due, nil
}

func (r *timerRepository) Delete(_ context.Context, executionID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	delete(r.p.timers, executionID)

	return nil
}

type scheduleRepository struct {
	p *Persistence
}

func (r *scheduleRepository) Save(_ context.Context, schedule *models.EnrollmentSchedule) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.schedules[schedule.ID] = clone(schedule)

	return nil
}

func (r *scheduleRepository) Due(_ context.Context, now time.Time) ([]*models.EnrollmentSchedule, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	due := make([]*models.EnrollmentSchedule, 0)

	for _, schedule := range r.p.schedules {
		if schedule.IsDue(now) {
			due = append(due, clone(schedule))
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextDueAt.Before(due[j].NextDueAt)
	})

	return due, nil
}

func (r *scheduleRepository) GetByID(_ context.Context, id string) (*models.EnrollmentSchedule, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	schedule, ok := r.p.schedules[id]
	if !ok {
		return nil, persistence.ErrScheduleNotFound
	}

	return clone(schedule), nil
}

func (r *scheduleRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.schedules[id]; !ok {
		return persistence.ErrScheduleNotFound
	}

	delete(r.p.schedules, id)

	return nil
}
