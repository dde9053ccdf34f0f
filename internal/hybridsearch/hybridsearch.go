// Package hybridsearch fuses semantic search over tool embeddings with
// graph relatedness under a per-candidate LocalAlpha blending coefficient.
package hybridsearch

import (
	"context"
	"math"
	"sort"

	"github.com/flowgraph/planner/internal/graph"
	"github.com/flowgraph/planner/internal/linkpredict"
	"github.com/flowgraph/planner/internal/localalpha"
)

// SemanticResult is one raw hit from the external embed+ANN layer.
type SemanticResult struct {
	ToolID string
	Score  float64
}

// SemanticSearch is the external dense-vector search dependency HybridSearch
// fuses with graph signal. Implementations typically call an ANN index.
type SemanticSearch interface {
	Search(ctx context.Context, query string, k int) ([]SemanticResult, error)
}

// RelatedTool is a neighbor of a result candidate surfaced for explainability.
type RelatedTool struct {
	ToolID string
	Label  string // "often_before" or "often_after"
}

// Result is one ranked hybrid search hit.
type Result struct {
	ToolID       string
	Semantic     float64
	Graph        float64
	Alpha        float64
	FinalScore   float64
	RelatedTools []RelatedTool
}

// Engine runs hybrid semantic+graph search.
type Engine struct {
	graph    *graph.Store
	semantic SemanticSearch
	alpha    *localalpha.Engine
}

// New builds a HybridSearch engine.
func New(g *graph.Store, semantic SemanticSearch, alpha *localalpha.Engine) *Engine {
	return &Engine{graph: g, semantic: semantic, alpha: alpha}
}

// expansionFactor sets how far the semantic candidate pool is widened beyond
// the requested limit: 1.5x below density 0.01, 2x below 0.10, 3x otherwise,
// so denser graphs get the wider pool.
func expansionFactor(density float64) float64 {
	switch {
	case density < 0.01:
		return 1.5
	case density < 0.10:
		return 2.0
	default:
		return 3.0
	}
}

// Search runs the full HybridSearch pipeline. Graph relatedness and
// LocalAlpha are local computations that cannot themselves fail; the one
// external dependency is the semantic search call, whose failure the
// caller treats as NoCandidates.
func (e *Engine) Search(ctx context.Context, query string, context_ []string, limit int, density float64) []Result {
	if limit <= 0 {
		limit = 10
	}
	k := int(math.Ceil(float64(limit) * expansionFactor(density)))

	raw, err := e.semantic.Search(ctx, query, k)
	if err != nil {
		return nil
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		graphScore := e.computeGraphRelatedness(r.ToolID, context_)

		alpha := 1.0
		if e.alpha != nil {
			alpha = e.alpha.Alpha(r.ToolID, localalpha.ModeActiveSearch, context_)
		}

		final := alpha*r.Score + (1-alpha)*graphScore
		results = append(results, Result{
			ToolID:       r.ToolID,
			Semantic:     r.Score,
			Graph:        graphScore,
			Alpha:        alpha,
			FinalScore:   final,
			RelatedTools: e.relatedTools(r.ToolID),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// computeGraphRelatedness scores graph proximity: a direct edge to any
// context tool scores 1.0; otherwise fall back to Adamic-Adar.
func (e *Engine) computeGraphRelatedness(toolID string, contextTools []string) float64 {
	if len(contextTools) == 0 {
		return 0
	}
	for _, ctx := range contextTools {
		if e.graph.HasEdge(toolID, ctx) || e.graph.HasEdge(ctx, toolID) {
			return 1.0
		}
	}

	var maxAA float64
	for _, ctx := range contextTools {
		if aa := linkpredict.AdamicAdar(e.graph, toolID, ctx); aa > maxAA {
			maxAA = aa
		}
	}
	return math.Min(maxAA/2, 1.0)
}

// relatedTools labels a candidate's immediate neighbors by traversal
// direction, for display alongside a search result.
func (e *Engine) relatedTools(toolID string) []RelatedTool {
	var out []RelatedTool
	for _, in := range e.graph.InNeighbors(toolID) {
		out = append(out, RelatedTool{ToolID: in, Label: "often_before"})
	}
	for _, out2 := range e.graph.OutNeighbors(toolID) {
		out = append(out, RelatedTool{ToolID: out2, Label: "often_after"})
	}
	return out
}
