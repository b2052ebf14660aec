package models

import "time"

// ExecutionStatus represents the lifecycle state of one enrollment.
type ExecutionStatus string

const (
	ExecutionStatusRunning      ExecutionStatus = "running"
	ExecutionStatusWaiting      ExecutionStatus = "waiting"
	ExecutionStatusCompleted    ExecutionStatus = "completed"
	ExecutionStatusFailed       ExecutionStatus = "failed"
	ExecutionStatusExitedOnGoal ExecutionStatus = "exited_on_goal"
	ExecutionStatusCancelled    ExecutionStatus = "cancelled"
)

// Active reports whether the status is non-terminal.
func (s ExecutionStatus) Active() bool {
	return s == ExecutionStatusRunning || s == ExecutionStatusWaiting
}

// ExitReason explains why an execution left the graph early.
type ExitReason string

const (
	ExitReasonGoal      ExitReason = "goal_achieved"
	ExitReasonCancelled ExitReason = "cancelled"
)

// ExitRequest is a pending early-termination marker. Exits requested while
// a dispatch is in flight are queued here and applied at the next safe
// boundary so that only one writer ever mutates execution state.
type ExitRequest struct {
	Reason      ExitReason `json:"reason"`
	GoalID      string     `json:"goal_id,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
}

// Execution is one contact enrolled against one pinned workflow version.
// VersionID never changes except through a recorded migration.
type Execution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"     validate:"required"`
	VersionID     string          `json:"version_id"      validate:"required"`
	ContactID     string          `json:"contact_id"      validate:"required"`
	Status        ExecutionStatus `json:"status"`
	CurrentNodeID string          `json:"current_node_id"`

	// Waiting state. Epoch increments on every wait entry and doubles as
	// the attempt epoch in step idempotency keys, so a stale scheduler
	// redelivery can be told apart from the live one.
	ResumeAt  *time.Time `json:"resume_at,omitempty"`
	WaitEvent string     `json:"wait_event,omitempty"`
	Epoch     int        `json:"epoch"`

	RetryCounts   map[string]int `json:"retry_counts,omitempty"`
	ExitRequested *ExitRequest   `json:"exit_requested,omitempty"`
	LockToken     string         `json:"lock_token"`

	TriggerData map[string]any `json:"trigger_data,omitempty"`
	ContactData map[string]any `json:"contact_data,omitempty"`
	StepResults map[string]any `json:"step_results,omitempty"`

	TerminationReason string     `json:"termination_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Context assembles the execution context handed to executors, branch
// conditions and templates.
func (e *Execution) Context() *ExecutionContext {
	return &ExecutionContext{
		ExecutionID: e.ID,
		WorkflowID:  e.WorkflowID,
		VersionID:   e.VersionID,
		ContactID:   e.ContactID,
		TriggerData: e.TriggerData,
		ContactData: e.ContactData,
		StepResults: e.StepResults,
	}
}

// StepStatus is the outcome of one dispatched step.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusWaiting   StepStatus = "waiting"
)

// StepRecord is the audit record written for every dispatch. The
// idempotency key (execution:node:epoch) is checked before external side
// effects so at-least-once redelivery performs them at most once.
type StepRecord struct {
	ID             string         `json:"id"`
	ExecutionID    string         `json:"execution_id"`
	NodeID         string         `json:"node_id"`
	Kind           string         `json:"kind"`
	Attempt        int            `json:"attempt"`
	IdempotencyKey string         `json:"idempotency_key"`
	Status         StepStatus     `json:"status"`
	Input          map[string]any `json:"input,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}
