package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// EnrollmentSchedule is a recurring cron-based enrollment trigger. The
// scheduler polls for due entries and enrolls matching contacts against
// the workflow's current version, so schedules with different cron
// expressions share one poller instead of individual timers.
type EnrollmentSchedule struct {
	// ID uniquely identifies this schedule entry
	ID string `json:"id" validate:"required"`

	// WorkflowID identifies the workflow contacts are enrolled into
	WorkflowID string `json:"workflow_id" validate:"required"`

	// CronExpression uses the standard 5-field format
	// (minute hour day month weekday)
	CronExpression string `json:"cron_expression" validate:"required"`

	// SegmentID selects which contacts the trigger source enrolls
	SegmentID string `json:"segment_id,omitempty"`

	// NextDueAt is the precomputed next execution time, kept in the
	// store so due schedules are one indexed query away
	NextDueAt time.Time `json:"next_due_at" validate:"required"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Active schedules are the only ones the poller processes
	Active bool `json:"active"`
}

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// NewEnrollmentSchedule creates a schedule with its first due time computed.
func NewEnrollmentSchedule(id, workflowID, cronExpression string) (*EnrollmentSchedule, error) {
	now := time.Now().UTC()
	schedule := &EnrollmentSchedule{
		ID:             id,
		WorkflowID:     workflowID,
		CronExpression: cronExpression,
		CreatedAt:      now,
		UpdatedAt:      now,
		Active:         true,
	}

	if err := schedule.calculateNextDueAt(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// UpdateNextDueAt advances NextDueAt past the current time.
func (s *EnrollmentSchedule) UpdateNextDueAt() error {
	return s.calculateNextDueAt(time.Now().UTC())
}

func (s *EnrollmentSchedule) calculateNextDueAt(referenceTime time.Time) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	cronSchedule, err := parser.Parse(s.CronExpression)
	if err != nil {
		return err
	}

	s.NextDueAt = cronSchedule.Next(referenceTime)
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// IsDue checks whether this schedule should fire at the given time.
func (s *EnrollmentSchedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextDueAt.After(now)
}

// Validate checks the schedule fields and cron expression.
func (s *EnrollmentSchedule) Validate() error {
	if s.ID == "" || s.WorkflowID == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(s.CronExpression)

	return err
}
