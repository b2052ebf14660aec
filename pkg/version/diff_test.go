package version

import (
	"context"
	"testing"

	"github.com/sequentcrm/sequent/pkg/executors/sms"
	"github.com/sequentcrm/sequent/pkg/executors/wait"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedVersion(t *testing.T, backend *memory.Persistence, workflowID string, number int, trigger *models.TriggerDescriptor, nodes []*models.ActionNode) *models.WorkflowVersion {
	t.Helper()

	version := &models.WorkflowVersion{
		WorkflowID: workflowID,
		Number:     number,
		Status:     models.VersionStatusActive,
		Trigger:    trigger,
		Nodes:      nodes,
	}
	require.NoError(t, backend.Versions().Create(context.Background(), version))

	return version
}

func TestStore_Compare_Identical(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)
	workflow := seedWorkflow(t, backend)

	trigger, nodes := validGraph()
	from := seedVersion(t, backend, workflow.ID, 1, trigger, nodes)
	to := seedVersion(t, backend, workflow.ID, 2, trigger, nodes)

	diff, err := store.Compare(ctx, from.ID, to.ID)
	require.NoError(t, err)

	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
	assert.Empty(t, diff.Modified)
	assert.Zero(t, diff.BreakingChanges)
}

func TestStore_Compare_AddedRemovedModified(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)
	workflow := seedWorkflow(t, backend)

	trigger, _ := validGraph()
	from := seedVersion(t, backend, workflow.ID, 1, trigger, []*models.ActionNode{
		delayNode("n1", 0, strPtr("n2")),
		delayNode("n2", 1, nil),
	})
	to := seedVersion(t, backend, workflow.ID, 2, trigger, []*models.ActionNode{
		{
			ID:       "n2",
			Kind:     wait.KindDelay,
			Config:   map[string]any{"amount": 3, "unit": "days"},
			Position: 0,
			Enabled:  true,
			Next:     strPtr("n3"),
		},
		delayNode("n3", 1, nil),
	})

	diff, err := store.Compare(ctx, from.ID, to.ID)
	require.NoError(t, err)

	require.Len(t, diff.Added, 1)
	assert.Equal(t, "n3", diff.Added[0].NodeID)
	assert.Equal(t, models.DiffCategoryAction, diff.Added[0].Category)

	require.Len(t, diff.Removed, 1)
	assert.Equal(t, "n1", diff.Removed[0].NodeID)

	require.Len(t, diff.Modified, 1)
	assert.Equal(t, "n2", diff.Modified[0].NodeID)
	assert.Equal(t, "config changed", diff.Modified[0].Detail)
}

func TestStore_Compare_TriggerChange(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)
	workflow := seedWorkflow(t, backend)

	_, nodes := validGraph()
	from := seedVersion(t, backend, workflow.ID, 1,
		&models.TriggerDescriptor{Type: "segment.entered"}, nodes)
	to := seedVersion(t, backend, workflow.ID, 2,
		&models.TriggerDescriptor{Type: "tag.added"}, nodes)

	diff, err := store.Compare(ctx, from.ID, to.ID)
	require.NoError(t, err)

	require.Len(t, diff.Modified, 1)
	assert.Equal(t, models.DiffCategoryTrigger, diff.Modified[0].Category)
}

func TestStore_Compare_BreakingChanges_RemovedNode(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)
	workflow := seedWorkflow(t, backend)

	trigger, _ := validGraph()
	from := seedVersion(t, backend, workflow.ID, 1, trigger, []*models.ActionNode{
		delayNode("n1", 0, strPtr("n2")),
		delayNode("n2", 1, nil),
	})
	to := seedVersion(t, backend, workflow.ID, 2, trigger, []*models.ActionNode{
		delayNode("n2", 0, nil),
	})

	// Two executions waiting on the removed node, one terminal.
	for i, status := range []models.ExecutionStatus{
		models.ExecutionStatusWaiting,
		models.ExecutionStatusRunning,
		models.ExecutionStatusCompleted,
	} {
		require.NoError(t, backend.Executions().Create(ctx, &models.Execution{
			WorkflowID:    workflow.ID,
			VersionID:     from.ID,
			ContactID:     string(rune('a' + i)),
			Status:        status,
			CurrentNodeID: "n1",
		}))
	}

	diff, err := store.Compare(ctx, from.ID, to.ID)
	require.NoError(t, err)

	require.Len(t, diff.Removed, 1)
	assert.Equal(t, 2, diff.BreakingChanges)
}

func TestStore_Compare_BreakingChanges_KindChange(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)
	workflow := seedWorkflow(t, backend)

	trigger, _ := validGraph()
	from := seedVersion(t, backend, workflow.ID, 1, trigger, []*models.ActionNode{
		delayNode("n1", 0, nil),
	})
	to := seedVersion(t, backend, workflow.ID, 2, trigger, []*models.ActionNode{
		{ID: "n1", Kind: sms.KindSend, Config: map[string]any{"body": "hi"}, Position: 0, Enabled: true},
	})

	require.NoError(t, backend.Executions().Create(ctx, &models.Execution{
		WorkflowID:    workflow.ID,
		VersionID:     from.ID,
		ContactID:     "contact-1",
		Status:        models.ExecutionStatusWaiting,
		CurrentNodeID: "n1",
	}))

	diff, err := store.Compare(ctx, from.ID, to.ID)
	require.NoError(t, err)

	require.Len(t, diff.Modified, 1)
	assert.Contains(t, diff.Modified[0].Detail, "kind changed")
	assert.Equal(t, 1, diff.BreakingChanges)
}

func TestStore_Compare_EdgeChange(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)
	workflow := seedWorkflow(t, backend)

	trigger, _ := validGraph()
	from := seedVersion(t, backend, workflow.ID, 1, trigger, []*models.ActionNode{
		delayNode("n1", 0, strPtr("n2")),
		delayNode("n2", 1, nil),
		delayNode("n3", 2, nil),
	})
	to := seedVersion(t, backend, workflow.ID, 2, trigger, []*models.ActionNode{
		delayNode("n1", 0, strPtr("n3")),
		delayNode("n2", 1, nil),
		delayNode("n3", 2, nil),
	})

	diff, err := store.Compare(ctx, from.ID, to.ID)
	require.NoError(t, err)

	require.Len(t, diff.Modified, 1)
	assert.Equal(t, "edges changed", diff.Modified[0].Detail)
	assert.Zero(t, diff.BreakingChanges)
}

func TestStore_Compare_DifferentWorkflows(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)
	workflow := seedWorkflow(t, backend)
	other := seedWorkflow(t, backend)

	trigger, nodes := validGraph()
	from := seedVersion(t, backend, workflow.ID, 1, trigger, nodes)
	to := seedVersion(t, backend, other.ID, 1, trigger, nodes)

	_, err := store.Compare(ctx, from.ID, to.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different workflows")
}
