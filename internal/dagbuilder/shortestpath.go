package dagbuilder

import (
	"container/heap"

	"github.com/flowgraph/planner/internal/edgemodel"
	"github.com/flowgraph/planner/internal/graph"
)

// PathResult is a shortest path between two tools, bounded to a hop cap.
type PathResult struct {
	Hops          int
	TotalCost     float64
	AvgEdgeWeight float64
}

// shortestPath runs a hop-bounded Dijkstra from source to target over edge
// costs of 1/max(weight,0.1): a heap-based relaxation loop with a
// distance/predecessor map that also tracks hop count per vertex so
// exploration can be pruned at maxHops. Returns nil rather than an error
// when no path exists or it exceeds the cap.
func shortestPath(g *graph.Store, source, target string, maxHops int) *PathResult {
	if source == target {
		return nil
	}

	best := map[string]float64{source: 0}

	pq := &pathQueue{{id: source, cost: 0, hops: 0, pathSum: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pathItem)
		if cur.cost > best[cur.id] {
			continue // stale lazy-decrease-key entry
		}
		if cur.id == target {
			return &PathResult{
				Hops:          cur.hops,
				TotalCost:     cur.cost,
				AvgEdgeWeight: cur.pathSum / float64(cur.hops),
			}
		}
		if cur.hops >= maxHops {
			continue
		}

		for _, next := range g.OutNeighbors(cur.id) {
			edge, ok := g.Edge(cur.id, next)
			if !ok {
				continue
			}
			cost := edgemodel.ShortestPathCost(edge.Weight)
			newCost := cur.cost + cost
			newHops := cur.hops + 1
			if existing, seen := best[next]; !seen || newCost < existing {
				best[next] = newCost
				heap.Push(pq, pathItem{id: next, cost: newCost, hops: newHops, pathSum: cur.pathSum + edge.Weight})
			}
		}
	}
	return nil
}

type pathItem struct {
	id      string
	cost    float64
	hops    int
	pathSum float64
}

type pathQueue []pathItem

func (q pathQueue) Len() int            { return len(q) }
func (q pathQueue) Less(i, j int) bool  { return q[i].cost < q[j].cost }
func (q pathQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *pathQueue) Push(x interface{}) { *q = append(*q, x.(pathItem)) }
func (q *pathQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
