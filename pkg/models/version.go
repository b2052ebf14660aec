// Package models defines the core domain models for the workflow execution engine.
package models

import (
	"errors"
	"fmt"
	"time"
)

// VersionStatus represents the lifecycle state of a workflow version.
type VersionStatus string

const (
	VersionStatusDraft    VersionStatus = "draft"    // Editable, not executable
	VersionStatusActive   VersionStatus = "active"   // Published, executable
	VersionStatusArchived VersionStatus = "archived" // Historical, retained for audit
)

// MaxVersionNumber bounds how many versions a single workflow may accumulate.
const MaxVersionNumber = 1000

// Workflow groups all versions of one automation under a stable identity.
// Goal configuration hangs off the workflow, not a version, so goals apply
// across every version an execution may be pinned to.
type Workflow struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"           validate:"required,min=3"`
	Description   string        `json:"description"`
	GoalMatchMode GoalMatchMode `json:"goal_match_mode"`
	Owner         string        `json:"owner"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	DeletedAt     *time.Time    `json:"deleted_at,omitempty"`
}

// TriggerDescriptor describes what enrolls contacts into a version.
type TriggerDescriptor struct {
	Type   string         `json:"type"   validate:"required"`
	Config map[string]any `json:"config"`
}

// WorkflowVersion is an immutable-once-published snapshot of a workflow's
// trigger and action graph. Drafts are mutable under optimistic locking.
type WorkflowVersion struct {
	ID                   string             `json:"id"`
	WorkflowID           string             `json:"workflow_id"            validate:"required"`
	Number               int                `json:"number"                 validate:"required,min=1"`
	Status               VersionStatus      `json:"status"                 validate:"required"`
	Trigger              *TriggerDescriptor `json:"trigger"`
	Nodes                []*ActionNode      `json:"nodes"`
	IsCurrent            bool               `json:"is_current"`
	ActiveExecutionCount int                `json:"active_execution_count"`
	LockToken            string             `json:"lock_token"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	PublishedAt          *time.Time         `json:"published_at,omitempty"`
	ArchivedAt           *time.Time         `json:"archived_at,omitempty"`
}

var (
	// ErrNoTrigger is returned when a version has no trigger descriptor.
	ErrNoTrigger = errors.New("version has no trigger")

	// ErrNoActionNodes is returned when a version has no action nodes.
	ErrNoActionNodes = errors.New("version has no action nodes")

	// ErrCyclicGraph is returned when the action graph contains a cycle.
	ErrCyclicGraph = errors.New("action graph contains a cycle")

	// ErrMissingDefaultEdge is returned when a branch node has no default edge.
	ErrMissingDefaultEdge = errors.New("branch node has no default edge")

	// ErrDanglingEdge is returned when an edge references a node that does not exist.
	ErrDanglingEdge = errors.New("edge references non-existent node")

	// ErrVersionLimitReached is returned when a workflow already has the maximum number of versions.
	ErrVersionLimitReached = errors.New("workflow version limit reached")
)

// NodeByID returns the node with the given ID, or nil.
func (v *WorkflowVersion) NodeByID(id string) *ActionNode {
	for _, node := range v.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// EntryNode returns the first action node by position, or nil for an empty graph.
func (v *WorkflowVersion) EntryNode() *ActionNode {
	var entry *ActionNode

	for _, node := range v.Nodes {
		if entry == nil || node.Position < entry.Position {
			entry = node
		}
	}

	return entry
}

// NodeAtPosition returns the node at the given position, or nil.
func (v *WorkflowVersion) NodeAtPosition(position int) *ActionNode {
	for _, node := range v.Nodes {
		if node.Position == position {
			return node
		}
	}

	return nil
}

// Validate checks the structural invariants required for publishing: a
// trigger, at least one action node, no dangling edges, a default edge on
// every branch node, and an acyclic graph. Per-kind config validation is
// the registry's responsibility.
func (v *WorkflowVersion) Validate() error {
	if v.Trigger == nil || v.Trigger.Type == "" {
		return ErrNoTrigger
	}

	if len(v.Nodes) == 0 {
		return ErrNoActionNodes
	}

	if v.Number < 1 || v.Number > MaxVersionNumber {
		return fmt.Errorf("version number %d out of range: %w", v.Number, ErrVersionLimitReached)
	}

	nodeSet := make(map[string]*ActionNode, len(v.Nodes))

	for _, node := range v.Nodes {
		if node.ID == "" {
			return errors.New("found node with empty ID")
		}

		if node.Kind == "" {
			return fmt.Errorf("node %s has no kind specified", node.ID)
		}

		nodeSet[node.ID] = node
	}

	for _, node := range v.Nodes {
		for _, target := range node.edgeTargets() {
			if _, ok := nodeSet[target]; !ok {
				return fmt.Errorf("node %s -> %s: %w", node.ID, target, ErrDanglingEdge)
			}
		}

		if node.IsBranch() {
			if node.Branch == nil || node.Branch.DefaultNodeID == "" {
				return fmt.Errorf("node %s: %w", node.ID, ErrMissingDefaultEdge)
			}
		}
	}

	return v.validateAcyclic(nodeSet)
}

// validateAcyclic rejects graphs where any edge path revisits a node. Only
// forward, branch and terminal edges are supported; loops are not.
func (v *WorkflowVersion) validateAcyclic(nodeSet map[string]*ActionNode) error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make(map[string]int, len(nodeSet))

	var visit func(id string) error

	visit = func(id string) error {
		switch state[id] {
		case inStack:
			return fmt.Errorf("node %s: %w", id, ErrCyclicGraph)
		case done:
			return nil
		}

		state[id] = inStack

		for _, target := range nodeSet[id].edgeTargets() {
			if err := visit(target); err != nil {
				return err
			}
		}

		state[id] = done

		return nil
	}

	for id := range nodeSet {
		if err := visit(id); err != nil {
			return err
		}
	}

	return nil
}
