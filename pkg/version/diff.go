package version

import (
	"context"
	"fmt"
	"reflect"

	"github.com/sequentcrm/sequent/pkg/models"
)

// Compare computes the structural diff between two versions of the same
// workflow. Breaking changes count the removed or re-kinded nodes that
// still have executions sitting on them in the from version.
func (s *Store) Compare(ctx context.Context, fromVersionID, toVersionID string) (*models.VersionDiff, error) {
	from, err := s.persistence.Versions().GetByID(ctx, fromVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", fromVersionID, err)
	}

	to, err := s.persistence.Versions().GetByID(ctx, toVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", toVersionID, err)
	}

	if from.WorkflowID != to.WorkflowID {
		return nil, fmt.Errorf("versions %s and %s belong to different workflows", fromVersionID, toVersionID)
	}

	diff := &models.VersionDiff{
		FromVersionID: fromVersionID,
		ToVersionID:   toVersionID,
	}

	if !reflect.DeepEqual(from.Trigger, to.Trigger) {
		diff.Modified = append(diff.Modified, models.NodeChange{
			Category: models.DiffCategoryTrigger,
			Detail:   "trigger changed",
		})
	}

	fromNodes := nodeIndex(from)
	toNodes := nodeIndex(to)

	for _, node := range to.Nodes {
		if _, exists := fromNodes[node.ID]; !exists {
			diff.Added = append(diff.Added, nodeChange(node, "node added"))
		}
	}

	for _, node := range from.Nodes {
		after, exists := toNodes[node.ID]
		if !exists {
			diff.Removed = append(diff.Removed, nodeChange(node, "node removed"))

			breaking, err := s.countPinned(ctx, fromVersionID, node.ID)
			if err != nil {
				return nil, err
			}

			diff.BreakingChanges += breaking

			continue
		}

		if change, changed := compareNodes(node, after); changed {
			diff.Modified = append(diff.Modified, change)

			if node.Kind != after.Kind {
				breaking, err := s.countPinned(ctx, fromVersionID, node.ID)
				if err != nil {
					return nil, err
				}

				diff.BreakingChanges += breaking
			}
		}
	}

	return diff, nil
}

func (s *Store) countPinned(ctx context.Context, versionID, nodeID string) (int, error) {
	count, err := s.persistence.Executions().CountActiveOnNode(ctx, versionID, nodeID)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions on node %s: %w", nodeID, err)
	}

	return count, nil
}

func nodeIndex(version *models.WorkflowVersion) map[string]*models.ActionNode {
	index := make(map[string]*models.ActionNode, len(version.Nodes))
	for _, node := range version.Nodes {
		index[node.ID] = node
	}

	return index
}

func nodeChange(node *models.ActionNode, detail string) models.NodeChange {
	category := models.DiffCategoryAction
	if node.IsBranch() {
		category = models.DiffCategoryCondition
	}

	return models.NodeChange{
		Category: category,
		NodeID:   node.ID,
		Kind:     node.Kind,
		Detail:   detail,
	}
}

func compareNodes(before, after *models.ActionNode) (models.NodeChange, bool) {
	switch {
	case before.Kind != after.Kind:
		return nodeChange(after, fmt.Sprintf("kind changed from %s to %s", before.Kind, after.Kind)), true
	case !reflect.DeepEqual(before.Config, after.Config):
		return nodeChange(after, "config changed"), true
	case !reflect.DeepEqual(before.Branch, after.Branch):
		return nodeChange(after, "branch cases changed"), true
	case !sameEdge(before.Next, after.Next) || !sameEdge(before.FallbackNodeID, after.FallbackNodeID):
		return nodeChange(after, "edges changed"), true
	case before.Enabled != after.Enabled:
		return nodeChange(after, "enabled flag changed"), true
	default:
		return models.NodeChange{}, false
	}
}

func sameEdge(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}
