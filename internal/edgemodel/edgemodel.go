// Package edgemodel implements the typed/sourced edge-weight algebra:
// weight is always the pure product of a type weight
// and a source modifier, and inferred edges promote to observed once enough
// evidence accumulates.
package edgemodel

import "github.com/flowgraph/planner/internal/graph"

// TypeWeight is the fixed per-type weight contribution.
var TypeWeight = map[graph.EdgeType]float64{
	graph.TypeDependency:  1.0,
	graph.TypeContains:    0.8,
	graph.TypeAlternative: 0.6,
	graph.TypeProvides:    0.7,
	graph.TypeSequence:    0.5,
}

// SourceModifier is the fixed per-source weight contribution. SourceUser is
// not used by Weight directly: user-defined edges are rank-pinned to a fixed
// confidence of 0.90 at creation time, independent of type.
var SourceModifier = map[graph.EdgeSource]float64{
	graph.SourceObserved: 1.0,
	graph.SourceInferred: 0.7,
	graph.SourceTemplate: 0.5,
	graph.SourceUser:     0.90,
}

// UserEdgeConfidence is the fixed confidence assigned to user-defined edges.
const UserEdgeConfidence = 0.90

// PromotionThreshold is the observation count at which an inferred edge
// promotes to observed.
const PromotionThreshold = 3

// defaultType and defaultSource are used for legacy rows lacking a type/source.
const (
	defaultType   = graph.TypeSequence
	defaultSource = graph.SourceInferred
)

// Weight returns the product TYPE[type] x SOURCE[source], defaulting to
// sequence/inferred for legacy rows with an unrecognized type or source.
func Weight(typ graph.EdgeType, source graph.EdgeSource) float64 {
	if source == graph.SourceUser {
		return UserEdgeConfidence
	}

	tw, ok := TypeWeight[typ]
	if !ok {
		typ = defaultType
		tw = TypeWeight[defaultType]
	}
	sw, ok := SourceModifier[source]
	if !ok {
		source = defaultSource
		sw = SourceModifier[defaultSource]
	}
	return tw * sw
}

// Promote re-evaluates source upgrade given a fresh observation count. An
// inferred edge promotes to observed once count reaches PromotionThreshold;
// all other sources are unaffected by count.
func Promote(source graph.EdgeSource, count int) graph.EdgeSource {
	if source == graph.SourceInferred && count >= PromotionThreshold {
		return graph.SourceObserved
	}
	return source
}

// ApplyCount increments an edge's count, re-evaluates promotion, and
// recomputes weight atomically so type/source and weight never diverge.
func ApplyCount(e *graph.Edge, delta int) {
	e.Count += delta
	e.Source = Promote(e.Source, e.Count)
	e.Weight = Weight(e.Type, e.Source)
}

// ShortestPathCost converts an edge weight to a traversal cost: higher
// weight means a cheaper hop. Floored at weight=0.1 so near-zero weights
// don't produce unbounded costs.
func ShortestPathCost(weight float64) float64 {
	if weight < 0.1 {
		weight = 0.1
	}
	return 1.0 / weight
}
