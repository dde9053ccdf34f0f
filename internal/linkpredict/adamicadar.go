// Package linkpredict holds link-prediction graph metrics shared across
// HybridSearch and Predictor: both score a candidate/neighbor pair
// by shared-neighbor rarity rather than raw overlap count.
package linkpredict

import (
	"math"

	"github.com/flowgraph/planner/internal/graph"
)

// AdamicAdar computes a weighted Adamic-Adar relatedness score between u and
// v: AA(u,v) = sum over shared neighbors w (with degree >= 2) of
// edge_weight(u,w) / log(deg(w)). Each shared neighbor is weighted by the
// edge strength from u rather than counting every neighbor edge as unit
// weight, so strong observed edges dominate the score.
func AdamicAdar(g *graph.Store, u, v string) float64 {
	uNeighbors := g.AllNeighbors(u)
	if len(uNeighbors) == 0 {
		return 0
	}
	vSet := make(map[string]bool)
	for _, n := range g.AllNeighbors(v) {
		vSet[n] = true
	}

	var sum float64
	for _, w := range uNeighbors {
		if !vSet[w] {
			continue
		}
		inDeg, outDeg := g.Degree(w)
		deg := inDeg + outDeg
		if deg < 2 {
			continue
		}
		sum += WeightBetween(g, u, w) / math.Log(float64(deg))
	}
	return sum
}

// WeightBetween returns the edge weight between a and b in whichever
// direction it exists, or 0 if neither direction has an edge.
func WeightBetween(g *graph.Store, a, b string) float64 {
	if e, ok := g.Edge(a, b); ok {
		return e.Weight
	}
	if e, ok := g.Edge(b, a); ok {
		return e.Weight
	}
	return 0
}
