package models

import "time"

// GoalType identifies which domain events a goal can match.
type GoalType string

const (
	GoalTagApplied       GoalType = "tag_applied"
	GoalPurchaseMade     GoalType = "purchase_made"
	GoalAppointmentBook  GoalType = "appointment_booked"
	GoalFormSubmitted    GoalType = "form_submitted"
	GoalPipelineStage    GoalType = "pipeline_stage_reached"
)

// GoalMatchMode decides how multiple goals on one workflow combine.
type GoalMatchMode string

const (
	// GoalMatchAny exits on the first matching goal. This is the default.
	GoalMatchAny GoalMatchMode = "any"

	// GoalMatchAll records partial matches and exits only once every
	// active goal has matched.
	GoalMatchAll GoalMatchMode = "all"
)

// GoalConfig belongs to a workflow, not a version. A goal added after a
// contact enrolled still applies to that contact.
type GoalConfig struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Type       GoalType       `json:"type"        validate:"required"`
	Criteria   map[string]any `json:"criteria"`
	Active     bool           `json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// GoalAchievement records one goal matching one execution. Uniqueness on
// (execution, goal) makes recording idempotent under concurrent delivery.
type GoalAchievement struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	GoalID      string    `json:"goal_id"`
	WorkflowID  string    `json:"workflow_id"`
	ContactID   string    `json:"contact_id"`
	EventType   string    `json:"event_type"`
	AchievedAt  time.Time `json:"achieved_at"`
}
