package models

// DiffCategory classifies what part of a version a change touches.
type DiffCategory string

const (
	DiffCategoryTrigger   DiffCategory = "trigger"
	DiffCategoryAction    DiffCategory = "action"
	DiffCategoryCondition DiffCategory = "condition"
)

// NodeChange is one structural difference between two versions.
type NodeChange struct {
	Category DiffCategory `json:"category"`
	NodeID   string       `json:"node_id,omitempty"`
	Kind     string       `json:"kind,omitempty"`
	Detail   string       `json:"detail,omitempty"`
}

// VersionDiff is the structural comparison of two versions of one
// workflow. BreakingChanges counts removed nodes that some pinned
// execution still sits on.
type VersionDiff struct {
	FromVersionID   string       `json:"from_version_id"`
	ToVersionID     string       `json:"to_version_id"`
	Added           []NodeChange `json:"added"`
	Removed         []NodeChange `json:"removed"`
	Modified        []NodeChange `json:"modified"`
	BreakingChanges int          `json:"breaking_changes"`
}
