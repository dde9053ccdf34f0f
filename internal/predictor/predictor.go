// Package predictor implements passive next-step prediction from community
// membership, co-occurrence, and capability alternatives, adjusted by
// LocalAlpha and episodic memory.
package predictor

import (
	"math"
	"sort"
	"strings"

	"github.com/flowgraph/planner/internal/capability"
	"github.com/flowgraph/planner/internal/dagscoring"
	"github.com/flowgraph/planner/internal/episodic"
	"github.com/flowgraph/planner/internal/graph"
	"github.com/flowgraph/planner/internal/linkpredict"
	"github.com/flowgraph/planner/internal/localalpha"
	"github.com/flowgraph/planner/internal/metrics"
)

// dangerWords excludes any tool whose id contains one of these substrings
// from prediction.
var dangerWords = []string{
	"delete", "remove", "deploy", "payment", "send_email",
	"execute_shell", "drop", "truncate", "transfer", "admin",
}

// Task is one entry in a workflow's execution history.
type Task struct {
	ToolID    string
	Succeeded bool
}

// WorkflowState is the input to PredictNext: the sequence of tasks executed
// so far in a workflow.
type WorkflowState struct {
	Tasks []Task
}

// PredictedNode is one ranked next-step suggestion.
type PredictedNode struct {
	ID         string
	Type       string // "tool" or "capability"
	Confidence float64
	Reason     string
}

// Engine predicts the next likely step(s) given workflow history.
type Engine struct {
	graph    *graph.Store
	alpha    *localalpha.Engine
	caps     capability.Store
	episodes episodic.Store
	cfg      dagscoring.Config
}

// New builds a Predictor engine.
func New(g *graph.Store, alpha *localalpha.Engine, caps capability.Store, episodes episodic.Store, cfg dagscoring.Config) *Engine {
	return &Engine{graph: g, alpha: alpha, caps: caps, episodes: episodes, cfg: cfg}
}

// PredictNext runs the full pipeline.
func (e *Engine) PredictNext(state WorkflowState, snapshot metrics.Snapshot) []PredictedNode {
	anchor, ok := lastSuccessfulTool(state)
	if !ok {
		return nil
	}

	executed := make(map[string]bool, len(state.Tasks))
	for _, t := range state.Tasks {
		executed[t.ToolID] = true
	}

	contextTools := make([]string, 0, len(state.Tasks))
	for _, t := range state.Tasks {
		contextTools = append(contextTools, t.ToolID)
	}
	contextHash := episodic.HashContext(contextTools)

	var out []PredictedNode
	out = append(out, e.communityPredictions(anchor, snapshot, executed)...)
	out = append(out, e.cooccurrencePredictions(anchor, snapshot, executed)...)
	out = append(out, e.capabilityPredictions(contextTools, executed)...)

	adjusted := make([]PredictedNode, 0, len(out))
	for _, n := range out {
		a := 1.0
		if e.alpha != nil {
			a = e.alpha.Alpha(n.ID, localalpha.ModePassiveSuggestion, contextTools)
		}
		n.Confidence = clamp01(math.Min(n.Confidence*(1.5-a), 0.95))

		if e.episodes != nil {
			if agg, ok := e.episodes.Lookup(contextHash, n.ID); ok {
				if agg.FailureRate() > e.cfg.Episodic.FailureExcludeThreshold {
					continue
				}
				n.Confidence = clamp01(n.Confidence + minF(e.cfg.Episodic.SuccessBoostCap, agg.SuccessRate()*e.cfg.Episodic.SuccessBoostCap) - minF(e.cfg.Episodic.FailurePenaltyCap, agg.FailureRate()*e.cfg.Episodic.FailurePenaltyCap))
			}
		}
		adjusted = append(adjusted, n)
	}

	return dedupAndSort(adjusted)
}

func lastSuccessfulTool(state WorkflowState) (string, bool) {
	for i := len(state.Tasks) - 1; i >= 0; i-- {
		if state.Tasks[i].Succeeded {
			return state.Tasks[i].ToolID, true
		}
	}
	return "", false
}

func isDangerous(id string) bool {
	lower := strings.ToLower(id)
	for _, w := range dangerWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// communityPredictions proposes members of the anchor's Louvain community.
func (e *Engine) communityPredictions(anchor string, snapshot metrics.Snapshot, executed map[string]bool) []PredictedNode {
	members := snapshot.CommunityMembers(anchor)
	cfg := e.cfg.Community
	limit := cfg.MaxMembers
	if limit <= 0 {
		limit = 5
	}

	var out []PredictedNode
	for _, m := range members {
		if len(out) >= limit {
			break
		}
		if executed[m] || isDangerous(m) {
			continue
		}
		edgeWeight := linkpredict.WeightBetween(e.graph, anchor, m)
		aa := linkpredict.AdamicAdar(e.graph, anchor, m)
		base := cfg.BaseConfidence + math.Min(snapshot.PageRank[m]*2, 0.20) + math.Min(edgeWeight*0.25, 0.25) + math.Min(aa*0.1, 0.10)
		out = append(out, PredictedNode{ID: m, Type: "tool", Confidence: math.Min(base, cfg.Cap), Reason: "community"})
	}
	return out
}

// cooccurrencePredictions proposes the anchor's outgoing neighbors.
func (e *Engine) cooccurrencePredictions(anchor string, snapshot metrics.Snapshot, executed map[string]bool) []PredictedNode {
	cfg := e.cfg.Cooccurrence
	var out []PredictedNode
	for _, n := range e.graph.OutNeighbors(anchor) {
		if executed[n] || isDangerous(n) {
			continue
		}
		edge, ok := e.graph.Edge(anchor, n)
		if !ok {
			continue
		}
		countBoost := math.Min(math.Log2(float64(edge.Count+1))*0.05, cfg.CountBoostCap)
		recencyBoost := cfg.RecencyBoostCap // no timestamp signal available on Edge; treat most-recent neighbor as full recency
		base := math.Min(edge.Weight, cfg.EdgeWeightCap) + countBoost + recencyBoost
		out = append(out, PredictedNode{ID: n, Type: "tool", Confidence: math.Min(base, cfg.Cap), Reason: "cooccurrence"})
	}
	return out
}

// capabilityPredictions proposes capabilities whose tools_used overlap the
// executed-tool context, plus their qualifying alternatives.
func (e *Engine) capabilityPredictions(contextTools []string, executed map[string]bool) []PredictedNode {
	if e.caps == nil {
		return nil
	}
	all, err := e.caps.ListAll()
	if err != nil {
		return nil
	}

	executedSet := make(map[string]bool, len(executed))
	for id := range executed {
		executedSet[id] = true
	}

	var out []PredictedNode
	for _, c := range all {
		overlap := overlapRatio(c.ToolsUsed, executedSet)
		if overlap < e.cfg.Capability.OverlapThreshold {
			continue
		}
		score := e.cfg.Capability.ConfidenceMin + overlap*(e.cfg.Capability.ConfidenceMax-e.cfg.Capability.ConfidenceMin)
		out = append(out, PredictedNode{ID: c.ID, Type: "capability", Confidence: score, Reason: "capability"})

		for _, alt := range e.alternatives(c.ID) {
			if alt.SuccessRate <= e.cfg.Thresholds.AlternativeSuccessRate {
				continue
			}
			out = append(out, PredictedNode{ID: alt.ID, Type: "capability", Confidence: score * e.cfg.Alternatives.ScoreMultiplier, Reason: "alternative"})
		}
	}
	return out
}

// alternatives returns capabilities connected to id by a symmetric
// `alternative` edge in the graph.
func (e *Engine) alternatives(id string) []capability.Capability {
	if e.caps == nil {
		return nil
	}
	var ids []string
	for _, nb := range e.graph.OutNeighbors(id) {
		if edge, ok := e.graph.Edge(id, nb); ok && edge.Type == graph.TypeAlternative {
			ids = append(ids, nb)
		}
	}
	for _, nb := range e.graph.InNeighbors(id) {
		if edge, ok := e.graph.Edge(nb, id); ok && edge.Type == graph.TypeAlternative {
			ids = append(ids, nb)
		}
	}

	var out []capability.Capability
	for _, altID := range ids {
		if c, ok, err := e.caps.Get(altID); ok && err == nil {
			out = append(out, c)
		}
	}
	return out
}

func overlapRatio(toolsUsed []string, executed map[string]bool) float64 {
	if len(toolsUsed) == 0 {
		return 0
	}
	var matched int
	for _, t := range toolsUsed {
		if executed[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(toolsUsed))
}

func dedupAndSort(nodes []PredictedNode) []PredictedNode {
	best := make(map[string]PredictedNode, len(nodes))
	order := make([]string, 0, len(nodes))
	for _, n := range nodes {
		existing, seen := best[n.ID]
		if !seen {
			order = append(order, n.ID)
			best[n.ID] = n
			continue
		}
		if n.Confidence > existing.Confidence {
			best[n.ID] = n
		}
	}

	out := make([]PredictedNode, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
