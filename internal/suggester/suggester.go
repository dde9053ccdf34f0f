// Package suggester implements the public Suggest(intent, contextTools)
// contract: HybridSearch, LocalAlpha, DAGBuilder, and capability injection
// orchestrated into one scored DAG.
package suggester

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/flowgraph/planner/internal/capability"
	"github.com/flowgraph/planner/internal/dagbuilder"
	"github.com/flowgraph/planner/internal/dagscoring"
	"github.com/flowgraph/planner/internal/episodic"
	"github.com/flowgraph/planner/internal/errors"
	"github.com/flowgraph/planner/internal/graph"
	"github.com/flowgraph/planner/internal/hybridsearch"
	"github.com/flowgraph/planner/internal/localalpha"
	"github.com/flowgraph/planner/internal/metrics"
	"github.com/flowgraph/planner/internal/spectral"
)

// TaskType distinguishes a tool-invocation task from an injected capability.
type TaskType string

const (
	TaskTool       TaskType = "tool"
	TaskCapability TaskType = "capability"
)

// Task is one node of a SuggestedDAG.
type Task struct {
	ID           int
	Type         TaskType
	ToolID       string
	CapabilityID string
	Dependencies []int
	// Confidence is set for injected capability tasks; tool
	// tasks are scored collectively via SuggestedDAG.Confidence instead.
	Confidence float64
}

// SuggestedDAG is the public result of a successful Suggest call.
type SuggestedDAG struct {
	Tasks      []Task
	Confidence float64
	Warning    string
	Rationale  string
}

// Engine wires together the components Suggest orchestrates.
type Engine struct {
	graph      *graph.Store
	hybrid     *hybridsearch.Engine
	alpha      *localalpha.Engine
	caps       capability.Store
	episodes   episodic.Store
	cfg        dagscoring.Config
	clusterFn  func() spectral.Result
}

// New builds a Suggester engine. clusterFn supplies the current
// SpectralCluster result (already cached/recomputed by the caller).
func New(g *graph.Store, hybrid *hybridsearch.Engine, alpha *localalpha.Engine, caps capability.Store, episodes episodic.Store, cfg dagscoring.Config, clusterFn func() spectral.Result) *Engine {
	return &Engine{graph: g, hybrid: hybrid, alpha: alpha, caps: caps, episodes: episodes, cfg: cfg, clusterFn: clusterFn}
}

// Suggest runs the full pipeline. Returns nil when confidence
// falls below suggestion_reject, or a *PlannerError for genuine failures.
func (e *Engine) Suggest(ctx context.Context, intent string, contextTools []string, snapshot metrics.Snapshot) (*SuggestedDAG, error) {
	limit := e.cfg.Defaults.CandidateLimit
	if limit <= 0 {
		limit = 10
	}

	hits := e.hybrid.Search(ctx, intent, contextTools, limit, snapshot.Density)
	if len(hits) == 0 {
		return nil, errors.New(errors.NoCandidates, "semantic search returned nothing usable", nil)
	}

	combined := make([]hybridsearch.Result, len(hits))
	copy(combined, hits)
	sort.Slice(combined, func(i, j int) bool {
		ci := 0.8*combined[i].FinalScore + 0.2*snapshot.PageRank[combined[i].ToolID]
		cj := 0.8*combined[j].FinalScore + 0.2*snapshot.PageRank[combined[j].ToolID]
		return ci > cj
	})
	top := combined
	if len(top) > 5 {
		top = top[:5]
	}

	var avgAlpha float64
	for _, r := range top {
		avgAlpha += r.Alpha
	}
	avgAlpha /= float64(len(top))

	candidateIDs := make([]string, len(top))
	for i, r := range top {
		candidateIDs[i] = r.ToolID
	}

	dag := dagbuilder.Build(e.graph, candidateIDs)
	if dag == nil {
		return nil, errors.New(errors.CycleDetected, "DAG rebuild produced a cycle", nil)
	}

	tasks := make([]Task, len(dag.Tasks))
	for i, t := range dag.Tasks {
		tasks[i] = Task{ID: i, Type: TaskTool, ToolID: t.ToolID, Dependencies: append([]int(nil), t.Predecessors...)}
	}

	pathConfidences := e.enumeratePaths(candidateIDs)

	hybridWeight := e.cfg.Weights.Hybrid.InterpolateInverse(avgAlpha)
	prWeight := e.cfg.Weights.PageRank.Interpolate(avgAlpha)
	pathWeight := e.cfg.Weights.Path.Interpolate(avgAlpha)

	avgPR3 := avgTopPageRank(top, snapshot, 3)
	avgPathConf := avgFloat(pathConfidences)

	conf := hybridWeight*top[0].FinalScore + prWeight*avgPR3 + pathWeight*avgPathConf

	tasks = e.injectCapabilities(tasks, candidateIDs, snapshot, contextTools)

	if conf < e.cfg.Thresholds.SuggestionReject {
		return nil, nil
	}

	result := &SuggestedDAG{
		Tasks:      tasks,
		Confidence: conf,
		Rationale:  e.rationale(top[0], avgAlpha, len(pathConfidences)),
	}
	if conf < e.cfg.Thresholds.SuggestionFloor {
		result.Warning = "confidence below suggestion floor"
	}
	return result, nil
}

func (e *Engine) rationale(top hybridsearch.Result, avgAlpha float64, pathCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s ranked first (hybrid=%.2f, semantic=%.2f, graph=%.2f); ", top.ToolID, top.FinalScore, top.Semantic, top.Graph)
	fmt.Fprintf(&b, "avgAlpha=%.2f; %d dependency path(s) found", avgAlpha, pathCount)
	return b.String()
}

func avgTopPageRank(results []hybridsearch.Result, snapshot metrics.Snapshot, n int) float64 {
	if len(results) < n {
		n = len(results)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += snapshot.PageRank[results[i].ToolID]
	}
	return sum / float64(n)
}

func avgFloat(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
