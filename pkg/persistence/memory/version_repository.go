package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

type workflowRepository struct {
	p *Persistence
}

func (r *workflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	workflow.UpdatedAt = time.Now().UTC()
	r.p.workflows[workflow.ID] = clone(workflow)

	return nil
}

func (r *workflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflow, ok := r.p.workflows[id]
	if !ok || workflow.DeletedAt != nil {
		return nil, persistence.ErrWorkflowNotFound
	}

	return clone(workflow), nil
}

func (r *workflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(r.p.workflows))

	for _, workflow := range r.p.workflows {
		if workflow.DeletedAt == nil {
			workflows = append(workflows, clone(workflow))
		}
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (r *workflowRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	workflow, ok := r.p.workflows[id]
	if !ok {
		return persistence.ErrWorkflowNotFound
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now

	return nil
}

type versionRepository struct {
	p *Persistence
}

func (r *versionRepository) Create(_ context.Context, version *models.WorkflowVersion) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if version.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		version.ID = id.String()
	}

	if version.LockToken == "" {
		version.LockToken = uuid.New().String()
	}

	now := time.Now().UTC()

	if version.CreatedAt.IsZero() {
		version.CreatedAt = now
	}

	version.UpdatedAt = now
	r.p.versions[version.ID] = clone(version)

	return nil
}

func (r *versionRepository) UpdateDraft(_ context.Context, version *models.WorkflowVersion, expectedLockToken string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, ok := r.p.versions[version.ID]
	if !ok {
		return persistence.NewVersionError("UpdateDraft", version.ID, persistence.ErrVersionNotFound)
	}

	if stored.Status != models.VersionStatusDraft {
		return persistence.NewVersionError("UpdateDraft", version.ID, persistence.ErrNotDraft)
	}

	if stored.LockToken != expectedLockToken {
		return persistence.NewVersionError("UpdateDraft", version.ID, persistence.ErrLockConflict)
	}

	version.LockToken = uuid.New().String()
	version.UpdatedAt = time.Now().UTC()
	r.p.versions[version.ID] = clone(version)

	return nil
}

func (r *versionRepository) GetByID(_ context.Context, id string) (*models.WorkflowVersion, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	version, ok := r.p.versions[id]
	if !ok {
		return nil, persistence.ErrVersionNotFound
	}

	return clone(version), nil
}

func (r *versionRepository) CurrentByWorkflow(_ context.Context, workflowID string) (*models.WorkflowVersion, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, version := range r.p.versions {
		if version.WorkflowID == workflowID && version.IsCurrent {
			return clone(version), nil
		}
	}

	return nil, persistence.ErrNoCurrentVersion
}

func (r *versionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	versions := make([]*models.WorkflowVersion, 0)

	for _, version := range r.p.versions {
		if version.WorkflowID == workflowID {
			versions = append(versions, clone(version))
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Number < versions[j].Number
	})

	return versions, nil
}

// SetCurrent performs the transactional current-pointer flip. The shared
// mutex stands in for the database transaction: the previous current is
// demoted and the target promoted with no observable intermediate state.
func (r *versionRepository) SetCurrent(_ context.Context, workflowID, targetVersionID, expectedLockToken string) (*models.WorkflowVersion, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	target, ok := r.p.versions[targetVersionID]
	if !ok || target.WorkflowID != workflowID {
		return nil, persistence.NewVersionError("SetCurrent", targetVersionID, persistence.ErrVersionNotFound)
	}

	if target.LockToken != expectedLockToken {
		return nil, persistence.NewVersionError("SetCurrent", targetVersionID, persistence.ErrLockConflict)
	}

	now := time.Now().UTC()

	for _, version := range r.p.versions {
		if version.WorkflowID == workflowID && version.IsCurrent && version.ID != targetVersionID {
			version.IsCurrent = false
			version.LockToken = uuid.New().String()
			version.UpdatedAt = now
		}
	}

	target.IsCurrent = true
	target.Status = models.VersionStatusActive
	target.LockToken = uuid.New().String()
	target.UpdatedAt = now

	if target.PublishedAt == nil {
		target.PublishedAt = &now
	}

	return clone(target), nil
}

func (r *versionRepository) AdjustActiveExecutions(_ context.Context, versionID string, delta int) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	version, ok := r.p.versions[versionID]
	if !ok {
		return persistence.ErrVersionNotFound
	}

	version.ActiveExecutionCount += delta
	if version.ActiveExecutionCount < 0 {
		version.ActiveExecutionCount = 0
	}

	version.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *versionRepository) Archive(_ context.Context, versionID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	version, ok := r.p.versions[versionID]
	if !ok {
		return persistence.ErrVersionNotFound
	}

	now := time.Now().UTC()
	version.Status = models.VersionStatusArchived
	version.ArchivedAt = &now
	version.UpdatedAt = now

	return nil
}
