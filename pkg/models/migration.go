package models

import "time"

// MigrationStrategy controls how a migration job spreads its batches.
type MigrationStrategy string

const (
	// MigrationImmediate enqueues every matching execution right away.
	MigrationImmediate MigrationStrategy = "immediate"

	// MigrationGradual rate-limits batches over time to bound load.
	MigrationGradual MigrationStrategy = "gradual"

	// MigrationManual migrates only the explicitly listed contacts.
	MigrationManual MigrationStrategy = "manual"
)

// MigrationStatus is the lifecycle state of a migration job.
type MigrationStatus string

const (
	MigrationStatusPending    MigrationStatus = "pending"
	MigrationStatusInProgress MigrationStatus = "in_progress"
	MigrationStatusCompleted  MigrationStatus = "completed"
	MigrationStatusCancelled  MigrationStatus = "cancelled"
	MigrationStatusFailed     MigrationStatus = "failed"
)

// MigrationJob moves in-flight executions from one version to another.
// It is the only path that may change an execution's version pin.
type MigrationJob struct {
	ID              string            `json:"id"`
	WorkflowID      string            `json:"workflow_id"`
	SourceVersionID string            `json:"source_version_id" validate:"required"`
	TargetVersionID string            `json:"target_version_id" validate:"required"`
	Strategy        MigrationStrategy `json:"strategy"          validate:"required"`
	BatchSize       int               `json:"batch_size"`

	// ActionMappings maps source node IDs to target node IDs. Nodes
	// without an explicit mapping fall back to positional equivalence.
	ActionMappings map[string]string `json:"action_mappings,omitempty"`

	// ContactIDs limits a manual migration to the listed contacts.
	ContactIDs []string `json:"contact_ids,omitempty"`

	Status        MigrationStatus `json:"status"`
	MigratedCount int             `json:"migrated_count"`
	FailedCount   int             `json:"failed_count"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// MigrationOutcome is the per-contact result of a migration job.
type MigrationOutcome string

const (
	MigrationOutcomeMigrated MigrationOutcome = "migrated"
	MigrationOutcomeFailed   MigrationOutcome = "failed"
)

// MigrationRecord is the recorded version transition for one execution.
// A failed record means the execution was left untouched on the source
// version, never half-migrated.
type MigrationRecord struct {
	ID            string           `json:"id"`
	JobID         string           `json:"job_id"`
	ExecutionID   string           `json:"execution_id"`
	ContactID     string           `json:"contact_id"`
	FromVersionID string           `json:"from_version_id"`
	ToVersionID   string           `json:"to_version_id"`
	FromNodeID    string           `json:"from_node_id"`
	ToNodeID      string           `json:"to_node_id,omitempty"`
	Outcome       MigrationOutcome `json:"outcome"`
	Error         string           `json:"error,omitempty"`
	RecordedAt    time.Time        `json:"recorded_at"`
}
