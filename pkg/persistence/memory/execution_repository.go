package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

type executionRepository struct {
	p *Persistence
}

func (r *executionRepository) Create(_ context.Context, execution *models.Execution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for _, existing := range r.p.executions {
		if existing.ContactID == execution.ContactID &&
			existing.WorkflowID == execution.WorkflowID &&
			existing.Status.Active() {
			return persistence.NewExecutionError("Create", existing.ID, persistence.ErrDuplicateEnrollment)
		}
	}

	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		execution.ID = id.String()
	}

	if execution.LockToken == "" {
		execution.LockToken = uuid.New().String()
	}

	now := time.Now().UTC()

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now
	r.p.executions[execution.ID] = clone(execution)

	return nil
}

// Update applies the per-execution optimistic lock: the stored token must
// match the caller's expectation, and the token is rotated on success so
// any concurrent writer loses with ErrLockConflict.
func (r *executionRepository) Update(_ context.Context, execution *models.Execution, expectedLockToken string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, ok := r.p.executions[execution.ID]
	if !ok {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	if stored.LockToken != expectedLockToken {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrLockConflict)
	}

	execution.LockToken = uuid.New().String()
	execution.UpdatedAt = time.Now().UTC()
	r.p.executions[execution.ID] = clone(execution)

	return nil
}

func (r *executionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	execution, ok := r.p.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	return clone(execution), nil
}

func (r *executionRepository) ActiveByContact(_ context.Context, contactID string) ([]*models.Execution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	executions := make([]*models.Execution, 0)

	for _, execution := range r.p.executions {
		if execution.ContactID == contactID && execution.Status.Active() {
			executions = append(executions, clone(execution))
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})

	return executions, nil
}

func (r *executionRepository) ActiveByContactAndWorkflow(_ context.Context, contactID, workflowID string) (*models.Execution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, execution := range r.p.executions {
		if execution.ContactID == contactID && execution.WorkflowID == workflowID && execution.Status.Active() {
			return clone(execution), nil
		}
	}

	return nil, persistence.ErrExecutionNotFound
}

func (r *executionRepository) ActiveByVersion(_ context.Context, versionID string, limit, offset int) ([]*models.Execution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	executions := make([]*models.Execution, 0)

	for _, execution := range r.p.executions {
		if execution.VersionID == versionID && execution.Status.Active() {
			executions = append(executions, clone(execution))
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].ID < executions[j].ID
	})

	if offset >= len(executions) {
		return []*models.Execution{}, nil
	}

	executions = executions[offset:]

	if limit > 0 && limit < len(executions) {
		executions = executions[:limit]
	}

	return executions, nil
}

func (r *executionRepository) CountActiveOnNode(_ context.Context, versionID, nodeID string) (int, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	count := 0

	for _, execution := range r.p.executions {
		if execution.VersionID == versionID && execution.CurrentNodeID == nodeID && execution.Status.Active() {
			count++
		}
	}

	return count, nil
}

type stepRepository struct {
	p *Persistence
}

func (r *stepRepository) Append(_ context.Context, record *models.StepRecord) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	r.p.steps = append(r.p.steps, clone(record))

	return nil
}

func (r *stepRepository) ListByExecution(_ context.Context, executionID string) ([]*models.StepRecord, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	records := make([]*models.StepRecord, 0)

	for _, record := range r.p.steps {
		if record.ExecutionID == executionID {
			records = append(records, clone(record))
		}
	}

	return records, nil
}

func (r *stepRepository) FindByIdempotencyKey(_ context.Context, key string) (*models.StepRecord, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, record := range r.p.steps {
		if record.IdempotencyKey == key && record.Status != models.StepStatusFailed {
			return clone(record), nil
		}
	}

	return nil, nil
}
