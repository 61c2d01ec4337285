//go:build arm64

package index

import "github.com/viant/vec/search"

// cosineWithMagnitude calls viant/vec's exported cosine-with-magnitude
// method, which is named CosineDistanceWithMagnitude on arm64.
func cosineWithMagnitude(a, b []float32, normA, normB float32) float32 {
	return search.Float32s(a).CosineDistanceWithMagnitude(b, normA, normB)
}
