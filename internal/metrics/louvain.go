package metrics

import "github.com/flowgraph/planner/internal/graph"

// louvain runs modularity-optimizing community detection (resolution 1.0)
// over the graph treated as undirected and weighted: edge weight
// contributes to both endpoints' degree, matching how PageRank treats
// directed weight as a shared relation strength. This from-scratch
// implementation runs the local-moving phase only (at most 50 passes);
// communities are not aggregated into super-nodes for further passes.
func louvain(nodes []string, edges []graph.Edge) map[string]int {
	idx := make(map[string]int, len(nodes))
	for i, id := range nodes {
		idx[id] = i
	}
	n := len(nodes)
	if n == 0 {
		return map[string]int{}
	}

	// adjacency as undirected weighted multigraph: adj[i][j] = combined weight
	adj := make([]map[int]float64, n)
	for i := range adj {
		adj[i] = make(map[int]float64)
	}
	var totalWeight float64
	for _, e := range edges {
		fi, ok1 := idx[e.From]
		ti, ok2 := idx[e.To]
		if !ok1 || !ok2 || fi == ti {
			continue
		}
		w := e.Weight
		if w <= 0 {
			w = 0.01
		}
		adj[fi][ti] += w
		adj[ti][fi] += w
		totalWeight += w
	}
	if totalWeight == 0 {
		// no edges: every node is its own community
		out := make(map[string]int, n)
		for i, id := range nodes {
			out[id] = i
		}
		return out
	}
	m2 := 2 * totalWeight // sum of degrees = 2m

	degree := make([]float64, n)
	for i := range adj {
		for _, w := range adj[i] {
			degree[i] += w
		}
	}

	community := make([]int, n)
	for i := range community {
		community[i] = i
	}
	communityWeight := make([]float64, n) // sum of degrees in community
	copy(communityWeight, degree)

	// local moving phase: repeatedly move nodes into the neighboring
	// community that most improves modularity gain, until no move helps.
	improved := true
	for pass := 0; pass < 50 && improved; pass++ {
		improved = false
		for i := 0; i < n; i++ {
			currentComm := community[i]

			neighborWeight := make(map[int]float64)
			for j, w := range adj[i] {
				neighborWeight[community[j]] += w
			}

			communityWeight[currentComm] -= degree[i]

			bestComm := currentComm
			bestGain := neighborWeight[currentComm] - louvainResolution*communityWeight[currentComm]*degree[i]/m2

			for comm, w := range neighborWeight {
				if comm == currentComm {
					continue
				}
				gain := w - louvainResolution*communityWeight[comm]*degree[i]/m2
				if gain > bestGain {
					bestGain = gain
					bestComm = comm
				}
			}

			communityWeight[bestComm] += degree[i]
			if bestComm != currentComm {
				community[i] = bestComm
				improved = true
			}
		}
	}

	// relabel communities to dense 0..k-1
	relabel := make(map[int]int)
	out := make(map[string]int, n)
	for i, id := range nodes {
		c := community[i]
		if _, ok := relabel[c]; !ok {
			relabel[c] = len(relabel)
		}
		out[id] = relabel[c]
	}
	return out
}
