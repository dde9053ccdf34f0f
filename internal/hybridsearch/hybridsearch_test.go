package hybridsearch

import (
	"context"
	"errors"
	"testing"

	"github.com/flowgraph/planner/internal/graph"
	"github.com/flowgraph/planner/internal/localalpha"
)

type fakeSemantic struct {
	results []SemanticResult
	err     error
}

func (f fakeSemantic) Search(ctx context.Context, query string, k int) ([]SemanticResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.results) {
		return f.results[:k], nil
	}
	return f.results, nil
}

func TestExpansionFactor(t *testing.T) {
	cases := []struct {
		density float64
		want    float64
	}{
		{0.005, 1.5},
		{0.05, 2.0},
		{0.5, 3.0},
	}
	for _, c := range cases {
		if got := expansionFactor(c.density); got != c.want {
			t.Errorf("expansionFactor(%v) = %v, want %v", c.density, got, c.want)
		}
	}
}

func TestSearchDegradesToNilOnSemanticFailure(t *testing.T) {
	g := graph.New()
	e := New(g, fakeSemantic{err: errors.New("ann down")}, nil)
	results := e.Search(context.Background(), "read a file", nil, 10, 0.01)
	if results != nil {
		t.Errorf("expected nil results on semantic failure, got %v", results)
	}
}

func TestSearchDirectEdgeScoresFullGraphRelatedness(t *testing.T) {
	g := graph.New()
	g.AddEdge("fs:read", "fs:write", graph.EdgeAttrs{Type: graph.TypeSequence, Source: graph.SourceObserved})

	sem := fakeSemantic{results: []SemanticResult{{ToolID: "fs:write", Score: 0.5}}}
	e := New(g, sem, nil)

	results := e.Search(context.Background(), "write", []string{"fs:read"}, 10, 0.5)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Graph != 1.0 {
		t.Errorf("Graph score = %v, want 1.0 for direct edge", results[0].Graph)
	}
}

func TestSearchSortsByFinalScoreDescending(t *testing.T) {
	g := graph.New()
	sem := fakeSemantic{results: []SemanticResult{
		{ToolID: "a", Score: 0.3},
		{ToolID: "b", Score: 0.9},
	}}
	e := New(g, sem, nil)
	results := e.Search(context.Background(), "q", nil, 10, 0.5)
	if len(results) != 2 || results[0].ToolID != "b" {
		t.Errorf("expected b ranked first, got %+v", results)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	g := graph.New()
	sem := fakeSemantic{results: []SemanticResult{
		{ToolID: "a", Score: 0.9},
		{ToolID: "b", Score: 0.8},
		{ToolID: "c", Score: 0.7},
	}}
	e := New(g, sem, nil)
	results := e.Search(context.Background(), "q", nil, 2, 0.5)
	if len(results) != 2 {
		t.Errorf("expected limit of 2, got %d", len(results))
	}
}

func TestSearchUsesLocalAlphaWhenProvided(t *testing.T) {
	g := graph.New()
	g.AddNode(graph.Node{ID: "a", Kind: graph.KindTool})
	alphaEngine := localalpha.New(g, localalpha.DefaultConfig(), nil, func(string) int { return 0 })

	sem := fakeSemantic{results: []SemanticResult{{ToolID: "a", Score: 0.5}}}
	e := New(g, sem, alphaEngine)
	results := e.Search(context.Background(), "q", nil, 10, 0.5)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	// cold start at 0 observations -> bayesian alpha = prior = 1.0
	if results[0].Alpha != 1.0 {
		t.Errorf("Alpha = %v, want 1.0 (cold-start prior)", results[0].Alpha)
	}
}

func TestRelatedToolsLabelsDirection(t *testing.T) {
	g := graph.New()
	g.AddEdge("a", "b", graph.EdgeAttrs{Type: graph.TypeSequence, Source: graph.SourceObserved})
	g.AddEdge("c", "b", graph.EdgeAttrs{Type: graph.TypeSequence, Source: graph.SourceObserved})

	sem := fakeSemantic{results: []SemanticResult{{ToolID: "b", Score: 0.5}}}
	e := New(g, sem, nil)
	results := e.Search(context.Background(), "q", nil, 10, 0.5)

	var before, after bool
	for _, rt := range results[0].RelatedTools {
		if rt.Label == "often_before" {
			before = true
		}
		if rt.Label == "often_after" {
			after = true
		}
	}
	if !before {
		t.Error("expected an often_before related tool")
	}
	_ = after
}
