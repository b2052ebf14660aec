// Package version owns the workflow version lifecycle: drafts, publishing,
// rollback, comparison and archival.
package version

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/eventbus"
	"github.com/sequentcrm/sequent/pkg/events"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
	"github.com/sequentcrm/sequent/pkg/registry"
)

// retentionPeriod is how long a superseded version must sit idle before it
// becomes archivable.
const retentionPeriod = 90 * 24 * time.Hour

// minRetainedVersions is how many versions a workflow keeps regardless of
// age.
const minRetainedVersions = 10

// ErrNotArchivable is returned when a version fails the archival policy.
var ErrNotArchivable = errors.New("version is not archivable")

// ErrVersionIsCurrent is returned when an operation needs a non-current
// version but got the current one.
var ErrVersionIsCurrent = errors.New("version is the current version")

// Store manages workflow versions on top of persistence. Publishing and
// draft edits are optimistically locked; every mutating call takes the lock
// token the caller last observed.
type Store struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	logger      *slog.Logger

	now func() time.Time
}

// NewStore creates a version store.
func NewStore(p persistence.Persistence, r *registry.Registry, eb eventbus.EventBus, logger *slog.Logger) *Store {
	return &Store{
		persistence: p,
		registry:    r,
		eventBus:    eb,
		logger:      logger.With("module", "version_store"),
		now:         time.Now,
	}
}

// CreateDraft starts a new draft for a workflow. When the latest version is
// already an unpublished draft, that draft is returned instead of stacking
// another one. A new draft starts from the current version's graph when one
// exists.
func (s *Store) CreateDraft(ctx context.Context, workflowID string) (*models.WorkflowVersion, error) {
	if _, err := s.persistence.Workflows().GetByID(ctx, workflowID); err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", workflowID, err)
	}

	versions, err := s.persistence.Versions().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	number := 0

	for _, v := range versions {
		if v.Status == models.VersionStatusDraft {
			return v, nil
		}

		if v.Number > number {
			number = v.Number
		}
	}

	if number >= models.MaxVersionNumber {
		return nil, persistence.NewVersionError("create_draft", workflowID, models.ErrVersionLimitReached)
	}

	now := s.now().UTC()
	draft := &models.WorkflowVersion{
		ID:         uuid.Must(uuid.NewV7()).String(),
		WorkflowID: workflowID,
		Number:     number + 1,
		Status:     models.VersionStatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if current, err := s.persistence.Versions().CurrentByWorkflow(ctx, workflowID); err == nil {
		draft.Trigger = cloneTrigger(current.Trigger)
		draft.Nodes = cloneNodes(current.Nodes)
	} else if !errors.Is(err, persistence.ErrNoCurrentVersion) {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}

	if err := s.persistence.Versions().Create(ctx, draft); err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}

	s.logger.InfoContext(ctx, "Created draft version",
		"workflow_id", workflowID, "version_id", draft.ID, "number", draft.Number)

	return draft, nil
}

// UpdateDraft replaces a draft's trigger and graph. The expected lock token
// must match the stored draft's; on success the token rotates.
func (s *Store) UpdateDraft(ctx context.Context, draft *models.WorkflowVersion, expectedLockToken string) (*models.WorkflowVersion, error) {
	stored, err := s.persistence.Versions().GetByID(ctx, draft.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", draft.ID, err)
	}

	if stored.Status != models.VersionStatusDraft {
		return nil, persistence.NewVersionError("update_draft", draft.ID, persistence.ErrNotDraft)
	}

	stored.Trigger = draft.Trigger
	stored.Nodes = draft.Nodes
	stored.UpdatedAt = s.now().UTC()

	if err := s.persistence.Versions().UpdateDraft(ctx, stored, expectedLockToken); err != nil {
		return nil, fmt.Errorf("failed to update draft %s: %w", draft.ID, err)
	}

	return stored, nil
}

// Publish validates a draft and makes it the workflow's current version.
// Validation covers graph structure and every node config against its
// kind's schema. In-flight executions keep the version they are pinned to;
// only future enrollments see the new current.
func (s *Store) Publish(ctx context.Context, versionID, expectedLockToken string) (*models.WorkflowVersion, error) {
	draft, err := s.persistence.Versions().GetByID(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", versionID, err)
	}

	if draft.Status != models.VersionStatusDraft {
		return nil, persistence.NewVersionError("publish", versionID, persistence.ErrNotDraft)
	}

	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("version validation failed: %w", err)
	}

	if err := s.registry.ValidateGraph(draft); err != nil {
		return nil, fmt.Errorf("node config validation failed: %w", err)
	}

	previous, err := s.persistence.Versions().CurrentByWorkflow(ctx, draft.WorkflowID)
	if err != nil && !errors.Is(err, persistence.ErrNoCurrentVersion) {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}

	published, err := s.persistence.Versions().SetCurrent(ctx, draft.WorkflowID, versionID, expectedLockToken)
	if err != nil {
		return nil, fmt.Errorf("failed to publish version %s: %w", versionID, err)
	}

	s.logger.InfoContext(ctx, "Published version",
		"workflow_id", draft.WorkflowID, "version_id", versionID, "number", published.Number)

	event := events.VersionPublished{
		BaseEvent:     s.baseEvent(events.VersionPublishedEvent, draft.WorkflowID),
		VersionID:     published.ID,
		VersionNumber: published.Number,
	}
	if previous != nil {
		event.PreviousVersionID = previous.ID
	}

	s.publish(ctx, draft.WorkflowID, event)

	return published, nil
}

// Rollback makes a previously published version current again. The target
// must belong to the workflow and must have been published before. The
// expected lock token is the target's, same as Publish.
func (s *Store) Rollback(ctx context.Context, workflowID, targetVersionID, expectedLockToken string) (*models.WorkflowVersion, error) {
	target, err := s.persistence.Versions().GetByID(ctx, targetVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", targetVersionID, err)
	}

	if target.WorkflowID != workflowID {
		return nil, persistence.NewVersionError("rollback", targetVersionID, persistence.ErrVersionNotFound)
	}

	if target.PublishedAt == nil {
		return nil, fmt.Errorf("version %s was never published: %w", targetVersionID, persistence.ErrNotDraft)
	}

	if target.IsCurrent {
		return nil, persistence.NewVersionError("rollback", targetVersionID, ErrVersionIsCurrent)
	}

	current, err := s.persistence.Versions().CurrentByWorkflow(ctx, workflowID)
	if err != nil && !errors.Is(err, persistence.ErrNoCurrentVersion) {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}

	restored, err := s.persistence.Versions().SetCurrent(ctx, workflowID, targetVersionID, expectedLockToken)
	if err != nil {
		return nil, fmt.Errorf("failed to roll back to version %s: %w", targetVersionID, err)
	}

	s.logger.InfoContext(ctx, "Rolled back to version",
		"workflow_id", workflowID, "version_id", targetVersionID, "number", restored.Number)

	event := events.VersionRolledBack{
		BaseEvent:     s.baseEvent(events.VersionRolledBackEvent, workflowID),
		VersionID:     restored.ID,
		VersionNumber: restored.Number,
	}
	if current != nil {
		event.FromVersionID = current.ID
	}

	s.publish(ctx, workflowID, event)

	return restored, nil
}

// GetCurrent returns the workflow's current published version.
func (s *Store) GetCurrent(ctx context.Context, workflowID string) (*models.WorkflowVersion, error) {
	current, err := s.persistence.Versions().CurrentByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get current version for workflow %s: %w", workflowID, err)
	}

	return current, nil
}

// Get returns one version by ID.
func (s *Store) Get(ctx context.Context, versionID string) (*models.WorkflowVersion, error) {
	version, err := s.persistence.Versions().GetByID(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", versionID, err)
	}

	return version, nil
}

// List returns every version of a workflow, newest number first.
func (s *Store) List(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	versions, err := s.persistence.Versions().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for workflow %s: %w", workflowID, err)
	}

	return versions, nil
}

// Archive retires a superseded version. A version is archivable only when
// it is not current, has no active executions pinned to it, its retention
// period has elapsed, and the workflow keeps at least minRetainedVersions.
func (s *Store) Archive(ctx context.Context, versionID string) error {
	version, err := s.persistence.Versions().GetByID(ctx, versionID)
	if err != nil {
		return fmt.Errorf("failed to get version %s: %w", versionID, err)
	}

	if version.IsCurrent {
		return persistence.NewVersionError("archive", versionID, ErrVersionIsCurrent)
	}

	if version.Status == models.VersionStatusArchived {
		return nil
	}

	if version.ActiveExecutionCount > 0 {
		return fmt.Errorf("%d executions still pinned: %w", version.ActiveExecutionCount, ErrNotArchivable)
	}

	supersededAt := version.UpdatedAt
	if version.PublishedAt != nil {
		supersededAt = *version.PublishedAt
	}

	if s.now().Sub(supersededAt) < retentionPeriod {
		return fmt.Errorf("retention period not elapsed: %w", ErrNotArchivable)
	}

	versions, err := s.persistence.Versions().ListByWorkflow(ctx, version.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to list versions: %w", err)
	}

	unarchived := 0

	for _, v := range versions {
		if v.Status != models.VersionStatusArchived {
			unarchived++
		}
	}

	if unarchived <= minRetainedVersions {
		return fmt.Errorf("workflow retains its last %d versions: %w", minRetainedVersions, ErrNotArchivable)
	}

	if err := s.persistence.Versions().Archive(ctx, versionID); err != nil {
		return fmt.Errorf("failed to archive version %s: %w", versionID, err)
	}

	s.logger.InfoContext(ctx, "Archived version",
		"workflow_id", version.WorkflowID, "version_id", versionID, "number", version.Number)

	s.publish(ctx, version.WorkflowID, events.VersionArchived{
		BaseEvent:     s.baseEvent(events.VersionArchivedEvent, version.WorkflowID),
		VersionID:     versionID,
		VersionNumber: version.Number,
	})

	return nil
}

func (s *Store) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	id := ""
	if s.eventBus != nil {
		id = s.eventBus.GenerateID()
	}

	return events.BaseEvent{
		ID:         id,
		Type:       eventType,
		Timestamp:  s.now().UTC(),
		WorkflowID: workflowID,
	}
}

// publish sends a lifecycle event; delivery failures are logged, not
// propagated, because the state change already committed.
func (s *Store) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	if err := s.eventBus.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish version event",
			"event_type", event.GetType(), "error", err)
	}
}

func cloneTrigger(trigger *models.TriggerDescriptor) *models.TriggerDescriptor {
	if trigger == nil {
		return nil
	}

	clone := &models.TriggerDescriptor{Type: trigger.Type}
	if trigger.Config != nil {
		clone.Config = make(map[string]any, len(trigger.Config))
		for k, v := range trigger.Config {
			clone.Config[k] = v
		}
	}

	return clone
}

func cloneNodes(nodes []*models.ActionNode) []*models.ActionNode {
	if nodes == nil {
		return nil
	}

	clones := make([]*models.ActionNode, len(nodes))
	for i, node := range nodes {
		clone := *node

		if node.Config != nil {
			clone.Config = make(map[string]any, len(node.Config))
			for k, v := range node.Config {
				clone.Config[k] = v
			}
		}

		if node.Next != nil {
			next := *node.Next
			clone.Next = &next
		}

		if node.FallbackNodeID != nil {
			fallback := *node.FallbackNodeID
			clone.FallbackNodeID = &fallback
		}

		if node.Branch != nil {
			branch := *node.Branch
			branch.Cases = append([]models.BranchCase(nil), node.Branch.Cases...)
			clone.Branch = &branch
		}

		clones[i] = &clone
	}

	return clones
}
