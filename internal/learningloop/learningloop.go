// Package learningloop folds execution outcomes and code-execution traces
// back into the graph as typed, sourced edges, re-triggering metrics
// recomputation when the topology actually changed.
package learningloop

import (
	"sort"

	"github.com/flowgraph/planner/internal/edgemodel"
	"github.com/flowgraph/planner/internal/graph"
	"github.com/flowgraph/planner/internal/metrics"
)

// weightLift is the multiplicative factor applied to an existing
// dependsOn edge's weight on every successful re-observation.
const weightLift = 1.1

// DependsOn is one explicit dependency edge observed in a completed DAG.
type DependsOn struct {
	From string
	To   string
}

// CompletedDAG is the input to UpdateFromExecution: the dependency edges
// that were actually walked, plus the outcome.
type CompletedDAG struct {
	Edges   []DependsOn
	Success bool
}

// Engine applies execution feedback to the graph and re-triggers metrics.
type Engine struct {
	graph        *graph.Store
	recomputeFn  func(*graph.Store) metrics.Snapshot
	onRecompute  func(metrics.Snapshot)
}

// New builds a LearningLoop engine. onRecompute, if non-nil, receives the
// freshly computed snapshot whenever a call actually changes the graph.
func New(g *graph.Store, onRecompute func(metrics.Snapshot)) *Engine {
	return &Engine{graph: g, recomputeFn: metrics.Compute, onRecompute: onRecompute}
}

// UpdateFromExecution folds a completed DAG's dependsOn edges back in: an
// existing dependency edge's count increments and its weight is lifted by
// 1.1 (capped at 1.0); a missing edge is created as type=dependency,
// source=template at its initial derived weight.
func (e *Engine) UpdateFromExecution(dag CompletedDAG) {
	var changed bool
	for _, dep := range dag.Edges {
		if dep.From == dep.To {
			continue
		}
		existing, ok := e.graph.Edge(dep.From, dep.To)
		if ok {
			newWeight := existing.Weight * weightLift
			if newWeight > 1.0 {
				newWeight = 1.0
			}
			e.graph.SetEdge(graph.Edge{
				From:   dep.From,
				To:     dep.To,
				Type:   existing.Type,
				Source: existing.Source,
				Count:  existing.Count + 1,
				Weight: newWeight,
			})
		} else {
			e.graph.SetEdge(graph.Edge{
				From:   dep.From,
				To:     dep.To,
				Type:   graph.TypeDependency,
				Source: graph.SourceTemplate,
				Count:  1,
				Weight: edgemodel.Weight(graph.TypeDependency, graph.SourceTemplate),
			})
		}
		changed = true
	}
	e.maybeRecompute(changed)
}

// Trace is one execution-trace record fed to UpdateFromCodeExecution.
type Trace struct {
	TraceID       string
	ParentTraceID string // empty for top-level traces
	ToolID        string
	Timestamp     int64
}

// UpdateFromCodeExecution ingests a code-execution trace hierarchy:
// contains edges from parent to child, sequence edges between
// timestamp-ordered siblings, and backward-compatible sequence edges
// between top-level traces lacking a parent.
func (e *Engine) UpdateFromCodeExecution(traces []Trace) {
	if len(traces) == 0 {
		return
	}

	byID := make(map[string]Trace, len(traces))
	childrenByParent := make(map[string][]Trace)
	var topLevel []Trace
	for _, t := range traces {
		byID[t.TraceID] = t
		if t.ParentTraceID == "" {
			topLevel = append(topLevel, t)
		} else {
			childrenByParent[t.ParentTraceID] = append(childrenByParent[t.ParentTraceID], t)
		}
	}

	var changed bool
	for parentID, children := range childrenByParent {
		parent, ok := byID[parentID]
		if !ok {
			continue
		}
		for _, child := range children {
			if createOrUpdateEdge(e.graph, parent.ToolID, child.ToolID, graph.TypeContains) {
				changed = true
			}
		}
		if sequenceSiblings(e.graph, children) {
			changed = true
		}
	}

	if sequenceSiblings(e.graph, topLevel) {
		changed = true
	}

	e.maybeRecompute(changed)
}

// sequenceSiblings creates sequence edges between consecutive
// timestamp-ordered siblings.
func sequenceSiblings(g *graph.Store, siblings []Trace) bool {
	if len(siblings) < 2 {
		return false
	}
	ordered := append([]Trace(nil), siblings...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp < ordered[j].Timestamp })

	var changed bool
	for i := 1; i < len(ordered); i++ {
		if createOrUpdateEdge(g, ordered[i-1].ToolID, ordered[i].ToolID, graph.TypeSequence) {
			changed = true
		}
	}
	return changed
}

// createOrUpdateEdge maintains the inferred->observed promotion rule: a new
// edge starts inferred with count=1; an existing one increments count and
// recomputes weight, promoting to observed once count crosses the
// threshold.
func createOrUpdateEdge(g *graph.Store, from, to string, typ graph.EdgeType) bool {
	if from == to || from == "" || to == "" {
		return false
	}
	existing, ok := g.Edge(from, to)
	if !ok {
		g.AddEdge(from, to, graph.EdgeAttrs{Type: typ, Source: graph.SourceInferred, Count: 1})
		return true
	}
	edge := existing
	edgemodel.ApplyCount(&edge, 1)
	g.SetEdge(edge)
	return true
}

func (e *Engine) maybeRecompute(changed bool) {
	if !changed || e.onRecompute == nil {
		return
	}
	e.onRecompute(e.recomputeFn(e.graph))
}
