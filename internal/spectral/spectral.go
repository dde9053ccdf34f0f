// Package spectral implements bipartite tool<->capability clustering over a
// weighted incidence matrix, hypergraph PageRank over the same bipartite
// graph, and the cache key and TTL under which callers cache its results.
//
// The Laplacian eigendecomposition uses gonum.org/v1/gonum/mat's EigenSym;
// hand-rolling an eigensolver for symmetric dense matrices buys nothing
// over gonum's.
package spectral

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
)

const (
	minK            = 2
	maxK            = 5
	maxEigen        = 10
	cacheTTL        = 5 * time.Minute
	kmeansMaxIter   = 100
	kmeansTolerance = 1e-4
)

// Capability describes one capability node's tool membership for incidence
// matrix construction.
type Capability struct {
	ID         string
	ToolsUsed  []string
}

// Input is the bipartite graph snapshot SpectralCluster clusters over.
type Input struct {
	Tools        []string
	Capabilities []Capability
}

// Result holds the clustering and centrality output of one Compute call.
type Result struct {
	K                int
	ToolCluster      map[string]int
	CapabilityCluster map[string]int
	// BoundaryTools are tools whose embedding sits near more than one
	// centroid (partial cluster membership).
	BoundaryTools map[string]bool
	// CapabilityTools records each capability's tools_used so ClusterBoost
	// can score partial membership through boundary tools.
	CapabilityTools map[string][]string
	// CapabilityPageRank is the hypergraph PageRank centrality per capability.
	CapabilityPageRank map[string]float64
}

// Empty is the degraded-mode result used when there are too few tools or
// capabilities to cluster.
func Empty() Result {
	return Result{
		ToolCluster:        map[string]int{},
		CapabilityCluster:  map[string]int{},
		BoundaryTools:      map[string]bool{},
		CapabilityTools:    map[string][]string{},
		CapabilityPageRank: map[string]float64{},
	}
}

// Compute builds the bipartite incidence matrix, its symmetric normalized
// Laplacian, embeds nodes in the k smallest non-trivial eigenvectors, and
// clusters the embedding with k-means.
func Compute(in Input) Result {
	if len(in.Tools) < 2 || len(in.Capabilities) < 2 {
		return Empty()
	}

	toolIdx := make(map[string]int, len(in.Tools))
	for i, t := range in.Tools {
		toolIdx[t] = i
	}
	nTools := len(in.Tools)
	nCaps := len(in.Capabilities)
	n := nTools + nCaps // vertex i<nTools is a tool, i>=nTools is capability i-nTools

	adj := mat.NewSymDense(n, nil)
	for j, cap := range in.Capabilities {
		capVertex := nTools + j
		for _, toolID := range cap.ToolsUsed {
			i, ok := toolIdx[toolID]
			if !ok {
				continue
			}
			adj.SetSym(i, capVertex, 1)
		}
	}

	degree := make([]float64, n)
	for i := 0; i < n; i++ {
		var d float64
		for j := 0; j < n; j++ {
			d += adj.At(i, j)
		}
		degree[i] = d
	}

	lap := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var v float64
			if i == j {
				if degree[i] > 0 {
					v = 1
				}
			} else if degree[i] > 0 && degree[j] > 0 {
				v = -adj.At(i, j) / math.Sqrt(degree[i]*degree[j])
			}
			lap.SetSym(i, j, v)
		}
	}

	k := n - 1
	if k > maxK {
		k = maxK
	}
	if k < minK {
		k = minK
	}
	eigCount := k + 1 // +1 to drop the trivial eigenvalue
	if eigCount > maxEigen {
		eigCount = maxEigen
	}
	if eigCount > n {
		eigCount = n
	}

	var eig mat.EigenSym
	ok := eig.Factorize(lap, true)
	if !ok {
		return Empty()
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// gonum returns eigenvalues ascending; eigenvectors are the matching
	// columns. Column 0 is the trivial (~0) eigenvalue; take the next k.
	embedding := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, k)
		for c := 0; c < k && c+1 < eigCount; c++ {
			row[c] = vectors.At(i, c+1)
		}
		embedding[i] = row
	}

	assignments, centroids := kmeans(embedding, k)

	result := Result{
		K:                  k,
		ToolCluster:        make(map[string]int, nTools),
		CapabilityCluster:  make(map[string]int, nCaps),
		BoundaryTools:      make(map[string]bool),
		CapabilityTools:    make(map[string][]string, nCaps),
		CapabilityPageRank: hypergraphPageRank(in, toolIdx),
	}
	for i, t := range in.Tools {
		result.ToolCluster[t] = assignments[i]
		if isBoundary(embedding[i], centroids, assignments[i]) {
			result.BoundaryTools[t] = true
		}
	}
	for j, c := range in.Capabilities {
		result.CapabilityCluster[c.ID] = assignments[nTools+j]
		result.CapabilityTools[c.ID] = append([]string(nil), c.ToolsUsed...)
	}
	return result
}

// ActiveCluster returns the cluster containing the plurality of context
// tools. Returns (-1, false) if no context tool is known.
func (r Result) ActiveCluster(contextTools []string) (int, bool) {
	counts := make(map[int]int)
	for _, t := range contextTools {
		if c, ok := r.ToolCluster[t]; ok {
			counts[c]++
		}
	}
	best, bestCount := -1, 0
	for c, n := range counts {
		if n > bestCount {
			best, bestCount = c, n
		}
	}
	return best, bestCount > 0
}

// ClusterBoost returns a [0,0.5] boost for a capability given the active
// cluster, with a partial-membership multiplier for boundary tools and a
// HypergraphPageRank contribution capped by the combine rule.
func (r Result) ClusterBoost(capabilityID string, activeCluster int, boundaryMultiplier float64) float64 {
	if activeCluster < 0 {
		return 0
	}
	cluster, ok := r.CapabilityCluster[capabilityID]
	if !ok {
		return 0
	}

	if boundaryMultiplier <= 0 {
		boundaryMultiplier = 0.25
	}

	var boost float64
	switch {
	case cluster == activeCluster:
		boost = 0.5
	default:
		// Partial membership: the capability sits in another cluster but
		// reaches into the active one through a boundary tool.
		for _, toolID := range r.CapabilityTools[capabilityID] {
			if r.BoundaryTools[toolID] && r.ToolCluster[toolID] == activeCluster {
				boost = 0.5 * boundaryMultiplier
				break
			}
		}
	}

	pr := r.CapabilityPageRank[capabilityID]
	boost += math.Min(0.3*pr, 0.3)
	if boost > 0.5 {
		boost = 0.5
	}
	return boost
}

// CacheKey hashes a (tool-ID set, capability set) pair so callers can key a
// TTL cache on graph content rather than identity.
func CacheKey(in Input) string {
	h := sha256.New()
	tools := append([]string(nil), in.Tools...)
	sort.Strings(tools)
	for _, t := range tools {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	caps := append([]Capability(nil), in.Capabilities...)
	sort.Slice(caps, func(i, j int) bool { return caps[i].ID < caps[j].ID })
	for _, c := range caps {
		h.Write([]byte(c.ID))
		tu := append([]string(nil), c.ToolsUsed...)
		sort.Strings(tu)
		for _, t := range tu {
			h.Write([]byte(t))
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CacheTTL is the fixed TTL for spectral clustering results.
const CacheTTL = cacheTTL

func isBoundary(point []float64, centroids [][]float64, assigned int) bool {
	if len(centroids) < 2 {
		return false
	}
	best := distance(point, centroids[assigned])
	for i, c := range centroids {
		if i == assigned {
			continue
		}
		d := distance(point, c)
		if d > 0 && d < best*1.25 {
			return true
		}
	}
	return false
}

func distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
