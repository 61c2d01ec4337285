package index

import "github.com/viant/vec/search"

func norm(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return search.Float32s(v).Magnitude()
}

// cosineDistance takes precomputed norms. A zero vector is orthogonal to
// everything.
func cosineDistance(a, b []float32, normA, normB float32) float64 {
	if normA == 0 || normB == 0 {
		return 1
	}
	d := float64(cosineWithMagnitude(a, b, normA, normB))
	return min(max(d, 0), 2)
}

func l2Distance(a, b []float32) float64 {
	return float64(search.Float32s(a).EuclideanDistance(b))
}

// distance computes m between a stored vector and the query
func distance(m Metric, v, query []float32, normV, normQ float32) float64 {
	if m == L2 {
		return l2Distance(v, query)
	}
	return cosineDistance(v, query, normV, normQ)
}
