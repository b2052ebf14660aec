package models

// NodeFamily groups action kinds that share retry policy and config
// validation rules.
type NodeFamily string

const (
	FamilyCommunication NodeFamily = "communication" // email, sms, voicemail, call
	FamilyCRM           NodeFamily = "crm"           // tag, field, pipeline mutations
	FamilyTiming        NodeFamily = "timing"        // wait steps
	FamilyInternal      NodeFamily = "internal"      // webhooks, internal notifications
	FamilyMembership    NodeFamily = "membership"    // offer grants, workflow membership
	FamilyBranch        NodeFamily = "branch"        // condition branches, no side effects
)

// KindBranch is the branch node kind. Branch nodes are resolved by the
// execution engine against the accumulated context rather than dispatched
// through the executor registry.
const KindBranch = "branch:condition"

// ActionNode is one node in a version's action graph. Edges are forward
// only: a linear Next edge, branch edges, or none (terminal).
type ActionNode struct {
	ID       string         `json:"id"       validate:"required"`
	Kind     string         `json:"kind"     validate:"required"`
	Name     string         `json:"name"`
	Config   map[string]any `json:"config"`
	Position int            `json:"position"`
	Enabled  bool           `json:"enabled"`

	Next           *string     `json:"next,omitempty"`
	Branch         *BranchSpec `json:"branch,omitempty"`
	FallbackNodeID *string     `json:"fallback_node_id,omitempty"`
}

// BranchSpec routes an execution based on conditions evaluated against the
// execution context. The first matching case wins; unmatched or ambiguous
// evaluation takes the default edge.
type BranchSpec struct {
	Cases         []BranchCase `json:"cases"`
	DefaultNodeID string       `json:"default_node_id"`
}

// BranchCase pairs a condition with the edge taken when it matches.
type BranchCase struct {
	When       Condition `json:"when"`
	NextNodeID string    `json:"next_node_id"`
}

func (n *ActionNode) IsBranch() bool {
	return n.Kind == KindBranch
}

// edgeTargets returns every node ID reachable from this node in one hop.
func (n *ActionNode) edgeTargets() []string {
	targets := make([]string, 0, 4)

	if n.Next != nil && *n.Next != "" {
		targets = append(targets, *n.Next)
	}

	if n.Branch != nil {
		for _, c := range n.Branch.Cases {
			if c.NextNodeID != "" {
				targets = append(targets, c.NextNodeID)
			}
		}

		if n.Branch.DefaultNodeID != "" {
			targets = append(targets, n.Branch.DefaultNodeID)
		}
	}

	if n.FallbackNodeID != nil && *n.FallbackNodeID != "" {
		targets = append(targets, *n.FallbackNodeID)
	}

	return targets
}

// NextNodeID returns the linear edge target, or empty for terminal nodes.
func (n *ActionNode) NextNodeID() string {
	if n.Next == nil {
		return ""
	}

	return *n.Next
}
