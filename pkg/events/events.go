// Package events defines the event types published and consumed across the
// engine: execution lifecycle notifications and the CRM domain events that
// drive goal evaluation and event waits.
package events

import (
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
)

type EventType string

// Kafka topics.
const Topic = "sequent.engine.events"       // Execution and version lifecycle events
const DomainTopic = "sequent.domain.events" // CRM activity consumed by the goal evaluator

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent      EventType = "execution.started"
	ExecutionCompletedEvent    EventType = "execution.completed"
	ExecutionFailedEvent       EventType = "execution.failed"
	ExecutionCancelledEvent    EventType = "execution.cancelled"
	ExecutionWaitingEvent      EventType = "execution.waiting"
	ExecutionResumedEvent      EventType = "execution.resumed"
	ExecutionExitedOnGoalEvent EventType = "execution.exited_on_goal"

	// Version lifecycle events.
	VersionPublishedEvent  EventType = "version.published"
	VersionRolledBackEvent EventType = "version.rolled_back"
	VersionArchivedEvent   EventType = "version.archived"

	// Goal and migration events.
	GoalAchievedEvent       EventType = "goal.achieved"
	MigrationFinishedEvent  EventType = "migration.finished"
	MigrationCancelledEvent EventType = "migration.cancelled"

	// Scheduler events.
	EnrollmentDueEvent EventType = "enrollment.due"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	VersionID   string `json:"version_id"`
	ContactID   string `json:"contact_id"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	VersionID   string        `json:"version_id"`
	ContactID   string        `json:"contact_id"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	VersionID   string `json:"version_id"`
	ContactID   string `json:"contact_id"`
	NodeID      string `json:"node_id"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type ExecutionWaiting struct {
	BaseEvent

	ExecutionID string     `json:"execution_id"`
	NodeID      string     `json:"node_id"`
	ResumeAt    *time.Time `json:"resume_at,omitempty"`
	WaitEvent   string     `json:"wait_event,omitempty"`
	Epoch       int        `json:"epoch"`
}

func (e ExecutionWaiting) GetType() EventType {
	return ExecutionWaitingEvent
}

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	Epoch       int    `json:"epoch"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionExitedOnGoal struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
	GoalID      string `json:"goal_id"`
}

func (e ExecutionExitedOnGoal) GetType() EventType {
	return ExecutionExitedOnGoalEvent
}

type VersionPublished struct {
	BaseEvent

	VersionID         string `json:"version_id"`
	VersionNumber     int    `json:"version_number"`
	PreviousVersionID string `json:"previous_version_id,omitempty"`
}

func (e VersionPublished) GetType() EventType {
	return VersionPublishedEvent
}

type VersionRolledBack struct {
	BaseEvent

	VersionID     string `json:"version_id"`
	VersionNumber int    `json:"version_number"`
	FromVersionID string `json:"from_version_id"`
}

func (e VersionRolledBack) GetType() EventType {
	return VersionRolledBackEvent
}

type VersionArchived struct {
	BaseEvent

	VersionID     string `json:"version_id"`
	VersionNumber int    `json:"version_number"`
}

func (e VersionArchived) GetType() EventType {
	return VersionArchivedEvent
}

type GoalAchieved struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	ContactID   string          `json:"contact_id"`
	GoalID      string          `json:"goal_id"`
	GoalType    models.GoalType `json:"goal_type"`
}

func (e GoalAchieved) GetType() EventType {
	return GoalAchievedEvent
}

type MigrationFinished struct {
	BaseEvent

	JobID         string `json:"job_id"`
	FromVersionID string `json:"from_version_id"`
	ToVersionID   string `json:"to_version_id"`
	MigratedCount int    `json:"migrated_count"`
	FailedCount   int    `json:"failed_count"`
}

func (e MigrationFinished) GetType() EventType {
	return MigrationFinishedEvent
}

type MigrationCancelled struct {
	BaseEvent

	JobID string `json:"job_id"`
}

func (e MigrationCancelled) GetType() EventType {
	return MigrationCancelledEvent
}

// EnrollmentDue signals that a recurring enrollment schedule fired. A
// downstream contact service resolves the segment and enrolls matching
// contacts through the API.
type EnrollmentDue struct {
	BaseEvent

	ScheduleID string    `json:"schedule_id"`
	SegmentID  string    `json:"segment_id,omitempty"`
	DueAt      time.Time `json:"due_at"`
}

func (e EnrollmentDue) GetType() EventType {
	return EnrollmentDueEvent
}
