// Package cluster implements deterministic grouping of articles by the
// cosine similarity of their title embeddings.
package cluster

import (
	"math"
	"strings"

	"NewsRefinery/internal/domain"
)

// TitleText is the single text projection used for every embedding in
// the clustering engine. Titles only: most articles lack a summary, and
// comparing a title-only vector against a title+summary vector makes
// matches irreproducible.
func TitleText(a domain.Article) string {
	return strings.TrimSpace(a.Title)
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
