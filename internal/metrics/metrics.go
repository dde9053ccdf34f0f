// Package metrics computes PageRank, Louvain communities, and graph-level
// statistics, recomputed after every Sync or bulk mutation.
// PageRank runs as a damped power iteration generalized from a
// personalized/seeded walk to a standard global walk over the whole graph.
package metrics

import (
	"math"
	"sort"

	"github.com/flowgraph/planner/internal/graph"
)

const (
	damping           = 0.85
	tolerance         = 1e-4
	maxIterations     = 100
	louvainResolution = 1.0
)

// Snapshot is the copy-on-write result of a recomputation.
type Snapshot struct {
	PageRank  map[string]float64
	Community map[string]int
	Density   float64
	NodeCount int
	EdgeCount int
	AvgWeight float64
}

// Empty returns the degraded-mode snapshot used when recomputation fails.
func Empty() Snapshot {
	return Snapshot{
		PageRank:  map[string]float64{},
		Community: map[string]int{},
	}
}

// Compute runs PageRank and Louvain over the current graph contents and
// returns a fresh snapshot. It never mutates the store.
func Compute(g *graph.Store) Snapshot {
	nodes := g.Nodes()
	edges := g.AllEdges()

	n := len(nodes)
	m := len(edges)

	snap := Snapshot{
		NodeCount: n,
		EdgeCount: m,
	}

	if n == 0 {
		snap.PageRank = map[string]float64{}
		snap.Community = map[string]int{}
		return snap
	}

	if n > 1 {
		snap.Density = float64(m) / float64(n*(n-1))
	}

	var totalWeight float64
	for _, e := range edges {
		totalWeight += e.Weight
	}
	if m > 0 {
		snap.AvgWeight = totalWeight / float64(m)
	}

	snap.PageRank = pageRank(nodes, edges)
	snap.Community = louvain(nodes, edges)
	return snap
}

// TopK returns the k highest-scoring node IDs by PageRank, descending.
func (s Snapshot) TopK(k int) []string {
	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(s.PageRank))
	for id, score := range s.PageRank {
		ranked = append(ranked, scored{id, score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})
	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = ranked[i].id
	}
	return out
}

// CommunityMembers returns every node sharing id's community, excluding id
// itself.
func (s Snapshot) CommunityMembers(id string) []string {
	c, ok := s.Community[id]
	if !ok {
		return nil
	}
	var out []string
	for other, oc := range s.Community {
		if other != id && oc == c {
			out = append(out, other)
		}
	}
	return out
}

// pageRank computes weighted PageRank via power iteration to the tolerance
// at 1e-4, dangling mass redistributed uniformly each iteration.
func pageRank(nodes []string, edges []graph.Edge) map[string]float64 {
	idx := make(map[string]int, len(nodes))
	for i, id := range nodes {
		idx[id] = i
	}
	n := len(nodes)

	outWeight := make([]float64, n)
	type weightedEdge struct {
		from, to int
		weight   float64
	}
	wedges := make([]weightedEdge, 0, len(edges))
	for _, e := range edges {
		fi, ok1 := idx[e.From]
		ti, ok2 := idx[e.To]
		if !ok1 || !ok2 {
			continue
		}
		w := e.Weight
		if w <= 0 {
			w = 0.01
		}
		wedges = append(wedges, weightedEdge{fi, ti, w})
		outWeight[fi] += w
	}

	scores := make([]float64, n)
	uniform := 1.0 / float64(n)
	for i := range scores {
		scores[i] = uniform
	}

	next := make([]float64, n)
	for iter := 0; iter < maxIterations; iter++ {
		for i := range next {
			next[i] = 0
		}

		var danglingMass float64
		for i, w := range outWeight {
			if w == 0 {
				danglingMass += scores[i]
			}
		}

		for _, e := range wedges {
			if outWeight[e.from] == 0 {
				continue
			}
			next[e.to] += scores[e.from] * (e.weight / outWeight[e.from])
		}

		teleport := (1 - damping) * uniform
		danglingShare := damping * danglingMass * uniform
		maxDiff := 0.0
		for i := range next {
			next[i] = teleport + danglingShare + damping*next[i]
			if diff := math.Abs(next[i] - scores[i]); diff > maxDiff {
				maxDiff = diff
			}
		}

		scores, next = next, scores
		if maxDiff < tolerance {
			break
		}
	}

	out := make(map[string]float64, n)
	for i, id := range nodes {
		out[id] = scores[i]
	}
	return out
}
