// Package dagbuilder turns an ordered candidate tool list into a
// dependency DAG by pairwise shortest-path probing, cycle breaking, and
// topological validation.
package dagbuilder

import (
	"github.com/flowgraph/planner/internal/graph"
)

const maxHops = 4

// Task is one node of the built DAG: a candidate tool plus the IDs of the
// tasks (by index into the original candidate slice) it depends on.
type Task struct {
	ToolID       string
	Predecessors []int
}

// DAG is the output of a successful build.
type DAG struct {
	Tasks []Task
	// EdgeWeight[{j, i}] is populated when task i depends on task j (j
	// precedes i): the key is {predecessor, dependent}, matching Predecessors.
	EdgeWeight map[[2]int]float64
}

// Build runs the full pipeline: pairwise shortest path, cycle breaking,
// topological validation. Returns nil if validation fails so the caller
// can fall back to the previous DAG.
func Build(g *graph.Store, candidates []string) *DAG {
	n := len(candidates)
	if n == 0 {
		return &DAG{Tasks: nil, EdgeWeight: map[[2]int]float64{}}
	}

	adj := make([][]bool, n)
	weight := make([][]float64, n)
	for i := range adj {
		adj[i] = make([]bool, n)
		weight[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			path := shortestPath(g, candidates[i], candidates[j], maxHops)
			if path == nil {
				continue
			}
			adj[i][j] = true
			weight[i][j] = (1.0 / float64(path.Hops)) * path.AvgEdgeWeight
		}
	}

	// Cycle breaking: for every pair with edges both ways, keep the
	// higher-weighted direction.
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if adj[i][j] && adj[j][i] {
				if weight[i][j] >= weight[j][i] {
					adj[j][i] = false
				} else {
					adj[i][j] = false
				}
			}
		}
	}

	if !isAcyclic(adj, n) {
		return nil
	}

	tasks := make([]Task, n)
	edgeWeight := make(map[[2]int]float64)
	for i := 0; i < n; i++ {
		tasks[i] = Task{ToolID: candidates[i]}
		for j := 0; j < n; j++ {
			if adj[j][i] { // j is a predecessor of i
				tasks[i].Predecessors = append(tasks[i].Predecessors, j)
				edgeWeight[[2]int{j, i}] = weight[j][i]
			}
		}
	}

	return &DAG{Tasks: tasks, EdgeWeight: edgeWeight}
}

// isAcyclic runs Kahn's algorithm: a successful topological sort visits
// every vertex exactly once.
func isAcyclic(adj [][]bool, n int) bool {
	inDegree := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if adj[i][j] {
				inDegree[j]++
			}
		}
	}

	queue := make([]int, 0, n)
	for i, d := range inDegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}

	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++
		for j := 0; j < n; j++ {
			if !adj[cur][j] {
				continue
			}
			inDegree[j]--
			if inDegree[j] == 0 {
				queue = append(queue, j)
			}
		}
	}
	return visited == n
}
