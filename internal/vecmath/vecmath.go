// Package vecmath provides the vector operations shared by template search and
// fusion scoring.
//
// Embeddings arrive from external encoders as opaque float32 vectors. All
// similarity math accumulates in float64 so rankings are stable regardless of
// vector length.
package vecmath

import "math"

// CosineSimilarity calculates cosine similarity between two float32 vectors.
// Returns a value in [-1, 1], or 0 when the lengths differ or either vector
// has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DotProduct calculates the dot product of two float32 vectors.
// For normalized vectors, the dot product equals cosine similarity.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Normalize returns a unit-length copy of the vector. A zero vector yields a
// zero vector of the same length.
func Normalize(vec []float32) []float32 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}

	normalized := make([]float32, len(vec))
	if sumSquares == 0 {
		return normalized
	}

	norm := math.Sqrt(sumSquares)
	for i, v := range vec {
		normalized[i] = float32(float64(v) / norm)
	}
	return normalized
}

// Clamp01 bounds x to [0, 1].
func Clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
