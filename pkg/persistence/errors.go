// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrVersionNotFound indicates a workflow version was not found.
	ErrVersionNotFound = errors.New("workflow version not found")

	// ErrNoCurrentVersion indicates no published current version exists for the workflow.
	ErrNoCurrentVersion = errors.New("no current version for workflow")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrGoalNotFound indicates a goal config was not found.
	ErrGoalNotFound = errors.New("goal config not found")

	// ErrMigrationJobNotFound indicates a migration job was not found.
	ErrMigrationJobNotFound = errors.New("migration job not found")

	// ErrTimerNotFound indicates no scheduled timer exists for the execution.
	ErrTimerNotFound = errors.New("timer not found")

	// ErrScheduleNotFound indicates an enrollment schedule was not found.
	ErrScheduleNotFound = errors.New("enrollment schedule not found")

	// ErrLockConflict indicates an optimistic lock token mismatch. The
	// caller must reload and retry; the conflict is never resolved
	// silently.
	ErrLockConflict = errors.New("optimistic lock conflict")

	// ErrDuplicateEnrollment indicates the contact already has an active
	// execution for this workflow.
	ErrDuplicateEnrollment = errors.New("contact already enrolled")

	// ErrDuplicateAchievement indicates the (execution, goal) pair was
	// already recorded.
	ErrDuplicateAchievement = errors.New("goal achievement already recorded")

	// ErrNotDraft indicates a mutating call targeted a non-draft version.
	ErrNotDraft = errors.New("version is not a draft")
)

// VersionError wraps version-store errors with operation context.
type VersionError struct {
	Op         string // Operation being performed (e.g., "Publish", "UpdateDraft")
	VersionID  string // Version ID if applicable
	WorkflowID string // Workflow ID if applicable
	Err        error  // Underlying error
}

func (e *VersionError) Error() string {
	target := e.VersionID
	if target == "" {
		target = fmt.Sprintf("workflow %s", e.WorkflowID)
	}

	return fmt.Sprintf("%s operation failed for version %s: %v", e.Op, target, e.Err)
}

func (e *VersionError) Unwrap() error {
	return e.Err
}

func (e *VersionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewVersionError creates a version error for a specific version.
func NewVersionError(op, versionID string, err error) *VersionError {
	return &VersionError{Op: op, VersionID: versionID, Err: err}
}

// ExecutionError wraps execution-store errors with operation context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates an execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsLockConflict checks if an error indicates an optimistic lock mismatch.
func IsLockConflict(err error) bool {
	return errors.Is(err, ErrLockConflict)
}

// IsNotFound checks if an error indicates a missing record of any kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrNoCurrentVersion) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrGoalNotFound) ||
		errors.Is(err, ErrMigrationJobNotFound) ||
		errors.Is(err, ErrScheduleNotFound)
}
