// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/sequentcrm/sequent/pkg/models"
)

// CreateWorkflowRequest is the body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name          string `json:"name"            validate:"required,min=3"`
	Description   string `json:"description"`
	Owner         string `json:"owner"           validate:"required"`
	GoalMatchMode string `json:"goal_match_mode" validate:"omitempty,oneof=any all"`
}

// UpdateWorkflowRequest supports partial workflow updates.
type UpdateWorkflowRequest struct {
	Name          *string `json:"name,omitempty"            validate:"omitempty,min=3"`
	Description   *string `json:"description,omitempty"`
	GoalMatchMode *string `json:"goal_match_mode,omitempty" validate:"omitempty,oneof=any all"`
}

// UpdateDraftRequest replaces a draft version's trigger and graph. The
// lock token must match the draft's current token or the update is
// rejected with a conflict.
type UpdateDraftRequest struct {
	Trigger   *models.TriggerDescriptor `json:"trigger"`
	Nodes     []*models.ActionNode      `json:"nodes"`
	LockToken string                    `json:"lock_token" validate:"required"`
}

// PublishRequest carries the draft's lock token.
type PublishRequest struct {
	LockToken string `json:"lock_token" validate:"required"`
}

// RollbackRequest names the previously published version to restore.
type RollbackRequest struct {
	TargetVersionID string `json:"target_version_id" validate:"required"`
	LockToken       string `json:"lock_token"        validate:"required"`
}

// EnrollRequest enrolls a contact into a workflow's current version.
type EnrollRequest struct {
	ContactID   string         `json:"contact_id" validate:"required"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	ContactData map[string]any `json:"contact_data,omitempty"`
}

// CreateGoalRequest configures a workflow exit goal.
type CreateGoalRequest struct {
	Type     string         `json:"type"     validate:"required,oneof=tag_applied purchase_made appointment_booked form_submitted pipeline_stage_reached"`
	Criteria map[string]any `json:"criteria"`
	Active   *bool          `json:"active,omitempty"`
}

// CreateMigrationRequest starts a migration job between two versions.
type CreateMigrationRequest struct {
	SourceVersionID string            `json:"source_version_id" validate:"required"`
	TargetVersionID string            `json:"target_version_id" validate:"required"`
	Strategy        string            `json:"strategy"          validate:"omitempty,oneof=immediate gradual manual"`
	BatchSize       int               `json:"batch_size"        validate:"omitempty,min=1"`
	ActionMappings  map[string]string `json:"action_mappings,omitempty"`
	ContactIDs      []string          `json:"contact_ids,omitempty"`
}

// CreateScheduleRequest registers a recurring enrollment schedule.
type CreateScheduleRequest struct {
	CronExpression string `json:"cron_expression" validate:"required"`
	SegmentID      string `json:"segment_id,omitempty"`
}

// ExecutionResponse is the API view of an execution. The lock token is
// internal and never leaves the service.
type ExecutionResponse struct {
	ID                string               `json:"id"`
	WorkflowID        string               `json:"workflow_id"`
	VersionID         string               `json:"version_id"`
	ContactID         string               `json:"contact_id"`
	Status            string               `json:"status"`
	CurrentNodeID     string               `json:"current_node_id,omitempty"`
	ResumeAt          *string              `json:"resume_at,omitempty"`
	WaitEvent         string               `json:"wait_event,omitempty"`
	Epoch             int                  `json:"epoch"`
	TerminationReason string               `json:"termination_reason,omitempty"`
	CreatedAt         string               `json:"created_at"`
	CompletedAt       *string              `json:"completed_at,omitempty"`
	Steps             []*models.StepRecord `json:"steps,omitempty"`
}
