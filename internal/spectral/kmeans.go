package spectral

import "math"

// kmeans clusters points into k groups using kmeans++ seeding and
// bounded-iteration Lloyd's algorithm, stopping early on small centroid
// drift. The embeddings here are small and low-dimensional, so plain
// Lloyd's converges in a handful of iterations.
func kmeans(points [][]float64, k int) (assignments []int, centroids [][]float64) {
	n := len(points)
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}

	centroids = kmeansPlusPlusInit(points, k)
	assignments = make([]int, n)

	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				d := distance(p, centroid)
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		newCentroids := make([][]float64, k)
		counts := make([]int, k)
		dim := len(points[0])
		for c := range newCentroids {
			newCentroids[c] = make([]float64, dim)
		}
		for i, p := range points {
			c := assignments[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				newCentroids[c][d] += p[d]
			}
		}
		var drift float64
		for c := range newCentroids {
			if counts[c] == 0 {
				newCentroids[c] = centroids[c]
				continue
			}
			for d := range newCentroids[c] {
				newCentroids[c][d] /= float64(counts[c])
			}
			drift += distance(newCentroids[c], centroids[c])
		}
		centroids = newCentroids

		if !changed || drift < kmeansTolerance {
			break
		}
	}
	return assignments, centroids
}

// kmeansPlusPlusInit seeds centroids so each successive pick is likely far
// from those already chosen, weighted by squared distance to the nearest
// existing centroid. Deterministic: picks the farthest point each round
// rather than sampling, since embeddings here are small (<=few hundred
// points) and determinism keeps cluster assignment stable across recomputes.
func kmeansPlusPlusInit(points [][]float64, k int) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), points[0]...))

	for len(centroids) < k {
		bestIdx, bestDist := 0, -1.0
		for i, p := range points {
			minDist := math.Inf(1)
			for _, c := range centroids {
				if d := distance(p, c); d < minDist {
					minDist = d
				}
			}
			if minDist > bestDist {
				bestDist, bestIdx = minDist, i
			}
		}
		centroids = append(centroids, append([]float64(nil), points[bestIdx]...))
	}
	return centroids
}
