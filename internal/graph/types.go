// Package graph implements the in-memory directed multigraph of tools and
// capabilities together with the topology queries the rest of the planning
// engine builds on.
package graph

// NodeKind classifies a graph node.
type NodeKind string

const (
	KindTool       NodeKind = "tool"
	KindOperation  NodeKind = "operation"
	KindCapability NodeKind = "capability"
	KindMeta       NodeKind = "meta"
)

// Node is a tool, operation, capability, or meta-node. Identifiers follow
// one of two conventions: "server:tool" for tools/operations, or
// "capability:<uuid>" for capability nodes.
type Node struct {
	ID          string
	Kind        NodeKind
	DisplayName string
	Server      string // set for kind=tool
	Category    string // set for kind=operation
	Purity      *bool  // set for kind=operation
	Metadata    map[string]interface{}
}

// EdgeType is one of the five typed relations carrying a fixed weight
// modifier.
type EdgeType string

const (
	TypeDependency  EdgeType = "dependency"
	TypeContains    EdgeType = "contains"
	TypeAlternative EdgeType = "alternative"
	TypeProvides    EdgeType = "provides"
	TypeSequence    EdgeType = "sequence"
)

// EdgeSource is the provenance of an edge observation, carrying its own
// weight modifier and an inferred->observed promotion rule.
type EdgeSource string

const (
	SourceObserved EdgeSource = "observed"
	SourceInferred EdgeSource = "inferred"
	SourceTemplate EdgeSource = "template"
	SourceUser     EdgeSource = "user"
)

// Edge is a directed, at-most-one-per-ordered-pair relation between two nodes.
type Edge struct {
	From   string
	To     string
	Type   EdgeType
	Source EdgeSource
	Count  int
	Weight float64
}
