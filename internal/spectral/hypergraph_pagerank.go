package spectral

const (
	hyperDamping   = 0.85
	hyperTolerance = 1e-4
	hyperMaxIter   = 100
)

// hypergraphPageRank runs PageRank over the tool<->capability bipartite
// membership graph, producing a centrality score per capability. Tools and
// capabilities are both vertices; edges are unweighted membership links,
// mirroring the incidence matrix B.
func hypergraphPageRank(in Input, toolIdx map[string]int) map[string]float64 {
	nTools := len(in.Tools)
	n := nTools + len(in.Capabilities)
	if n == 0 {
		return map[string]float64{}
	}

	// adjacency: capability j connects to each of its member tools, both
	// directions (bipartite membership is symmetric).
	out := make([][]int, n)
	for j, cap := range in.Capabilities {
		capVertex := nTools + j
		for _, toolID := range cap.ToolsUsed {
			i, ok := toolIdx[toolID]
			if !ok {
				continue
			}
			out[capVertex] = append(out[capVertex], i)
			out[i] = append(out[i], capVertex)
		}
	}

	outDegree := make([]float64, n)
	for i, neighbors := range out {
		outDegree[i] = float64(len(neighbors))
	}

	scores := make([]float64, n)
	uniform := 1.0 / float64(n)
	for i := range scores {
		scores[i] = uniform
	}

	next := make([]float64, n)
	for iter := 0; iter < hyperMaxIter; iter++ {
		for i := range next {
			next[i] = 0
		}
		var dangling float64
		for i, d := range outDegree {
			if d == 0 {
				dangling += scores[i]
			}
		}
		for i, neighbors := range out {
			if outDegree[i] == 0 {
				continue
			}
			share := scores[i] / outDegree[i]
			for _, j := range neighbors {
				next[j] += share
			}
		}
		maxDiff := 0.0
		for i := range next {
			next[i] = (1-hyperDamping)*uniform + hyperDamping*(dangling*uniform+next[i])
			if diff := next[i] - scores[i]; diff > maxDiff || -diff > maxDiff {
				if diff < 0 {
					diff = -diff
				}
				maxDiff = diff
			}
		}
		scores, next = next, scores
		if maxDiff < hyperTolerance {
			break
		}
	}

	out2 := make(map[string]float64, len(in.Capabilities))
	for j, cap := range in.Capabilities {
		out2[cap.ID] = scores[nTools+j]
	}
	return out2
}
