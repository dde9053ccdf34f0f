package suggester

import (
	"github.com/flowgraph/planner/internal/dagscoring"
	"github.com/flowgraph/planner/internal/episodic"
	"github.com/flowgraph/planner/internal/metrics"
)

// injectCapabilities folds stored capabilities in: those whose tool-used set
// overlaps the candidate set above overlap_threshold are folded into the
// plan as their own task, in ListAll order, each scored by a cluster-boosted
// discovery score mapped onto the confidence_min/confidence_max range.
func (e *Engine) injectCapabilities(tasks []Task, candidateIDs []string, snapshot metrics.Snapshot, contextTools []string) []Task {
	if e.caps == nil {
		return tasks
	}
	all, err := e.caps.ListAll()
	if err != nil || len(all) == 0 {
		return tasks
	}

	candidateSet := make(map[string]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		candidateSet[id] = true
	}

	var cluster interface {
		ActiveCluster([]string) (int, bool)
		ClusterBoost(string, int, float64) float64
	}
	if e.clusterFn != nil {
		result := e.clusterFn()
		cluster = result
	}
	activeCluster := -1
	if cluster != nil {
		if c, ok := cluster.ActiveCluster(contextTools); ok {
			activeCluster = c
		}
	}

	contextHash := episodic.HashContext(contextTools)

	for _, c := range all {
		overlap := overlapRatio(c.ToolsUsed, candidateSet)
		if overlap < e.cfg.Capability.OverlapThreshold {
			continue
		}

		boost := 0.0
		if cluster != nil {
			boost = cluster.ClusterBoost(c.ID, activeCluster, e.cfg.Capability.BoundaryClusterBoost)
		}
		discovery := overlap * (1 + boost)

		confidence := e.cfg.Capability.ConfidenceMin + discovery*(e.cfg.Capability.ConfidenceMax-e.cfg.Capability.ConfidenceMin)
		if confidence > e.cfg.Capability.ConfidenceMax {
			confidence = e.cfg.Capability.ConfidenceMax
		}

		if e.episodes != nil {
			if agg, ok := e.episodes.Lookup(contextHash, c.ID); ok {
				confidence = adjustEpisodic(confidence, agg, e.cfg.Episodic)
			}
		}
		if confidence < e.cfg.Capability.ConfidenceMin {
			continue
		}

		dep := dependenciesInCandidates(c.ToolsUsed, candidateIDs)
		if len(dep) == 0 && len(tasks) > 0 {
			dep = []int{tasks[len(tasks)-1].ID}
		}
		tasks = append(tasks, Task{
			ID:           len(tasks),
			Type:         TaskCapability,
			CapabilityID: c.ID,
			Dependencies: dep,
			Confidence:   confidence,
		})
	}
	return tasks
}

func overlapRatio(toolsUsed []string, candidateSet map[string]bool) float64 {
	if len(toolsUsed) == 0 {
		return 0
	}
	var matched int
	for _, t := range toolsUsed {
		if candidateSet[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(toolsUsed))
}

func dependenciesInCandidates(toolsUsed []string, candidateIDs []string) []int {
	var deps []int
	for _, t := range toolsUsed {
		for i, c := range candidateIDs {
			if c == t {
				deps = append(deps, i)
			}
		}
	}
	return deps
}

func adjustEpisodic(confidence float64, agg episodic.Aggregate, cfg dagscoring.EpisodicConfig) float64 {
	if agg.FailureRate() > cfg.FailureExcludeThreshold {
		return 0
	}
	adjusted := confidence + minF(cfg.SuccessBoostCap, agg.SuccessRate()*cfg.SuccessBoostCap) - minF(cfg.FailurePenaltyCap, agg.FailureRate()*cfg.FailurePenaltyCap)
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > 1 {
		adjusted = 1
	}
	return adjusted
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// enumeratePaths computes per-hop confidences for every reachable ordered
// pair of candidates.
func (e *Engine) enumeratePaths(candidateIDs []string) []float64 {
	var confidences []float64
	for _, from := range candidateIDs {
		for _, to := range candidateIDs {
			if from == to {
				continue
			}
			hops, ok := e.hopDistance(from, to)
			if !ok {
				continue
			}
			confidences = append(confidences, dagscoring.PathConfidence(hops))
		}
	}
	return confidences
}

// hopDistance runs a bounded BFS (maxHops=4) over the graph to find the
// shortest hop count between two candidates, if reachable.
func (e *Engine) hopDistance(from, to string) (int, bool) {
	const maxHops = 4
	visited := map[string]bool{from: true}
	frontier := []string{from}
	for hop := 1; hop <= maxHops; hop++ {
		var next []string
		for _, id := range frontier {
			for _, nb := range e.graph.OutNeighbors(id) {
				if nb == to {
					return hop, true
				}
				if !visited[nb] {
					visited[nb] = true
					next = append(next, nb)
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return 0, false
}
