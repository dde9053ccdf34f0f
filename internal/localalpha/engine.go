// Package localalpha computes a per-node locally adaptive blending
// coefficient alpha in [0.5, 1.0], selected from one of four algorithms
// depending on observation count, query mode, and node kind.
package localalpha

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/flowgraph/planner/internal/graph"
)

// Mode distinguishes the two request contexts LocalAlpha is consulted from.
type Mode string

const (
	ModeActiveSearch      Mode = "active-search"
	ModePassiveSuggestion Mode = "passive-suggestion"
)

// EmbeddingLookup returns a node's semantic embedding, if known.
type EmbeddingLookup func(nodeID string) ([]float64, bool)

// ObservationCount returns how many times a node has been observed in
// execution traces (drives the cold-start gate).
type ObservationCount func(nodeID string) int

// Engine computes alpha against a live graph store.
type Engine struct {
	graph        *graph.Store
	cfg          Config
	embeddings   EmbeddingLookup
	observations ObservationCount
	cache        *heatCache
}

// New builds a LocalAlpha engine. cfg must already be Validate()-clean.
func New(g *graph.Store, cfg Config, embeddings EmbeddingLookup, observations ObservationCount) *Engine {
	return &Engine{
		graph:        g,
		cfg:          cfg,
		embeddings:   embeddings,
		observations: observations,
		cache:        newHeatCache(time.Duration(cfg.HeatCacheTTLSeconds)*time.Second, nil),
	}
}

// InvalidateCache clears cached heat values; callers invoke it when
// spectral clustering or graph topology changes.
func (e *Engine) InvalidateCache() {
	e.cache.invalidate()
}

// Alpha selects and runs the appropriate algorithm for nodeID: Bayesian
// below the cold-start observation threshold, pattern coherence in active
// mode, heat diffusion (flat or hierarchical by kind) in passive mode.
func (e *Engine) Alpha(nodeID string, mode Mode, context []string) float64 {
	obs := 0
	if e.observations != nil {
		obs = e.observations(nodeID)
	}
	if obs < e.cfg.ColdStartObservations {
		return e.bayesian(obs)
	}

	if mode == ModeActiveSearch {
		return e.embeddingsPatternCoherence(nodeID)
	}

	node, ok := e.graph.Node(nodeID)
	if !ok {
		return e.cfg.AlphaMax
	}
	if node.Kind == graph.KindTool {
		return e.heatDiffusion(nodeID, context)
	}
	return e.hierarchicalHeat(nodeID, context)
}

// bayesian handles cold start: confidence grows linearly
// with observation count towards the target.
func (e *Engine) bayesian(observations int) float64 {
	confidence := float64(observations) / float64(e.cfg.ColdStartObservations)
	if confidence > 1 {
		confidence = 1
	}
	return e.cfg.ColdStartPrior*(1-confidence) + e.cfg.ColdStartTarget*confidence
}

// embeddingsPatternCoherence correlates per-neighbor
// semantic similarity against per-neighbor structural similarity, rather
// than comparing the raw dimension-mismatched vectors directly.
func (e *Engine) embeddingsPatternCoherence(nodeID string) float64 {
	neighbors := e.graph.AllNeighbors(nodeID)
	if len(neighbors) < 2 {
		return e.cfg.AlphaMax
	}
	if e.embeddings == nil {
		return e.cfg.AlphaMax
	}
	nodeEmb, ok := e.embeddings(nodeID)
	if !ok {
		return e.cfg.AlphaMax
	}

	maxWeight := 0.0
	edgeWeight := make(map[string]float64, len(neighbors))
	for _, nb := range neighbors {
		w := e.directedWeight(nodeID, nb)
		edgeWeight[nb] = w
		if w > maxWeight {
			maxWeight = w
		}
	}
	if maxWeight == 0 {
		return e.cfg.AlphaMax
	}

	var semantic, structural []float64
	for _, nb := range neighbors {
		nbEmb, ok := e.embeddings(nb)
		if !ok {
			continue
		}
		semantic = append(semantic, cosine(nodeEmb, nbEmb))
		structural = append(structural, edgeWeight[nb]/maxWeight)
	}
	if len(semantic) < 2 {
		return e.cfg.AlphaMax
	}

	r := stat.Correlation(semantic, structural, nil)
	if math.IsNaN(r) {
		return e.cfg.AlphaMax
	}
	n := (r + 1) / 2
	alpha := 1.0 - n*0.5
	if alpha < e.cfg.AlphaMin {
		alpha = e.cfg.AlphaMin
	}
	return alpha
}

// heatDiffusion computes alpha for tool nodes in passive mode.
func (e *Engine) heatDiffusion(nodeID string, context []string) float64 {
	h := e.heat(nodeID)
	contextHeat := e.meanHeat(context)
	pathHeat := e.meanPathHeat(nodeID, context)

	structural := e.cfg.Heat.Intrinsic*h + e.cfg.Heat.Context*contextHeat + e.cfg.Heat.Path*pathHeat
	alpha := 1.0 - 0.5*structural
	if alpha < e.cfg.AlphaMin {
		alpha = e.cfg.AlphaMin
	}
	return alpha
}

// hierarchicalHeat computes alpha for capability/meta nodes in passive mode.
func (e *Engine) hierarchicalHeat(nodeID string, context []string) float64 {
	node, ok := e.graph.Node(nodeID)
	if !ok {
		return e.cfg.AlphaMax
	}
	weights, ok := e.cfg.HierarchyWeights[node.Kind]
	if !ok {
		weights = e.cfg.HierarchyWeights[graph.KindCapability]
	}

	intrinsic := e.heat(nodeID)
	neighbor := e.meanHeat(e.graph.AllNeighbors(nodeID))
	hierarchy := e.hierarchyHeat(nodeID)

	structural := weights.Intrinsic*intrinsic + weights.Neighbor*neighbor + weights.Hierarchy*hierarchy
	alpha := 1.0 - 0.5*structural
	if alpha < e.cfg.AlphaMin {
		alpha = e.cfg.AlphaMin
	}
	return alpha
}

// heat computes a node's intrinsic+neighbor heat, cached with a 60s TTL.
func (e *Engine) heat(nodeID string) float64 {
	if v, ok := e.cache.get(nodeID); ok {
		return v
	}

	maxDeg := e.maxDegree()
	if maxDeg == 0 {
		e.cache.set(nodeID, 0)
		return 0
	}

	inDeg, outDeg := e.graph.Degree(nodeID)
	deg := float64(inDeg + outDeg)

	neighbors := e.graph.AllNeighbors(nodeID)
	var neighborDegSum float64
	for _, nb := range neighbors {
		nbIn, nbOut := e.graph.Degree(nb)
		neighborDegSum += float64(nbIn + nbOut)
	}
	meanNeighborDeg := 0.0
	if len(neighbors) > 0 {
		meanNeighborDeg = neighborDegSum / float64(len(neighbors))
	}

	h := 0.6*minF(1, deg/maxDeg) + 0.4*minF(1, meanNeighborDeg/maxDeg)
	e.cache.set(nodeID, h)
	return h
}

func (e *Engine) maxDegree() float64 {
	var maxDeg float64
	e.graph.ForEachNode(func(n graph.Node) {
		inDeg, outDeg := e.graph.Degree(n.ID)
		if d := float64(inDeg + outDeg); d > maxDeg {
			maxDeg = d
		}
	})
	return maxDeg
}

func (e *Engine) meanHeat(nodeIDs []string) float64 {
	if len(nodeIDs) == 0 {
		return 0
	}
	var sum float64
	for _, id := range nodeIDs {
		sum += e.heat(id)
	}
	return sum / float64(len(nodeIDs))
}

// meanPathHeat scores, for each context node, 1.0 if a direct edge exists to
// the target (either direction), else a function of shared neighbor count,
// then averages.
func (e *Engine) meanPathHeat(nodeID string, context []string) float64 {
	if len(context) == 0 {
		return 0
	}
	targetNeighbors := make(map[string]bool)
	for _, n := range e.graph.AllNeighbors(nodeID) {
		targetNeighbors[n] = true
	}

	var sum float64
	for _, ctxNode := range context {
		if e.graph.HasEdge(nodeID, ctxNode) || e.graph.HasEdge(ctxNode, nodeID) {
			sum += 1.0
			continue
		}
		common := 0
		for _, n := range e.graph.AllNeighbors(ctxNode) {
			if targetNeighbors[n] {
				common++
			}
		}
		sum += minF(1, float64(common)*0.2)
	}
	return sum / float64(len(context))
}

// hierarchyHeat propagates heat bottom-up from children and top-down from
// parents along "contains" edges, capped at MaxHierarchyDepth.
func (e *Engine) hierarchyHeat(nodeID string) float64 {
	visited := map[string]bool{nodeID: true}
	var totalWeight, totalHeat float64

	type frontierEntry struct {
		id     string
		depth  int
		factor float64
	}
	frontier := []frontierEntry{{id: nodeID, depth: 0, factor: 1.0}}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur.depth >= e.cfg.MaxHierarchyDepth {
			continue
		}

		children := e.containsChildren(cur.id)
		for _, child := range children {
			if visited[child] {
				continue
			}
			visited[child] = true
			factor := cur.factor * e.propagationFactor(cur.id, child)
			totalWeight += factor
			totalHeat += factor * e.heat(child)
			frontier = append(frontier, frontierEntry{id: child, depth: cur.depth + 1, factor: factor})
		}

		parents := e.containsParents(cur.id)
		for _, parent := range parents {
			if visited[parent] {
				continue
			}
			visited[parent] = true
			factor := cur.factor * e.propagationFactor(parent, cur.id)
			totalWeight += factor
			totalHeat += factor * e.heat(parent)
			frontier = append(frontier, frontierEntry{id: parent, depth: cur.depth + 1, factor: factor})
		}
	}

	if totalWeight == 0 {
		return 0
	}
	return totalHeat / totalWeight
}

// propagationFactor returns the inheritance factor for a parent->child
// "contains" edge, keyed by the parent's kind.
func (e *Engine) propagationFactor(parentID, childID string) float64 {
	parent, ok := e.graph.Node(parentID)
	if !ok {
		return e.cfg.CapabilityToTool
	}
	switch parent.Kind {
	case graph.KindMeta:
		return e.cfg.MetaToCapability
	default:
		return e.cfg.CapabilityToTool
	}
}

func (e *Engine) containsChildren(id string) []string {
	var out []string
	for _, to := range e.graph.OutNeighbors(id) {
		if edge, ok := e.graph.Edge(id, to); ok && edge.Type == graph.TypeContains {
			out = append(out, to)
		}
	}
	return out
}

func (e *Engine) containsParents(id string) []string {
	var out []string
	for _, from := range e.graph.InNeighbors(id) {
		if edge, ok := e.graph.Edge(from, id); ok && edge.Type == graph.TypeContains {
			out = append(out, from)
		}
	}
	return out
}

// directedWeight returns the edge weight between nodeID and nb regardless
// of direction (0 if no edge exists either way).
func (e *Engine) directedWeight(nodeID, nb string) float64 {
	if edge, ok := e.graph.Edge(nodeID, nb); ok {
		return edge.Weight
	}
	if edge, ok := e.graph.Edge(nb, nodeID); ok {
		return edge.Weight
	}
	return 0
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
