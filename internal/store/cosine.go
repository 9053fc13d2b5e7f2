package store

import "math"

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value between -1 (opposite) and 1 (identical), or -1 for
// invalid or zero vectors so that degenerate inputs can never match.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return -1
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return similarity
}

// CosineDistance computes the cosine distance between two vectors.
// Cosine distance = 1 - cosine similarity, so 0 means identical and
// 2 means opposite. Invalid input yields the maximum distance.
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}
