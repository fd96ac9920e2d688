package grading

import (
	"context"
	"fmt"
	"math"

	"github.com/noah-isme/gema-grader/pkg/embedding"
)

// VectorStore serves reference embeddings by question id.
type VectorStore interface {
	EmbeddingFor(id uint) ([]float32, error)
}

// Scorer compares an answer embedding against the stored reference embedding.
type Scorer struct {
	embedder embedding.Embedder
	store    VectorStore
}

// NewScorer constructs a Scorer.
func NewScorer(embedder embedding.Embedder, store VectorStore) *Scorer {
	return &Scorer{embedder: embedder, store: store}
}

// Score returns the cosine similarity between normalizedAnswer and the reference answer of
// question id. An empty answer scores 0 without calling the embedder.
func (s *Scorer) Score(ctx context.Context, normalizedAnswer string, id uint) (float64, error) {
	reference, err := s.store.EmbeddingFor(id)
	if err != nil {
		return 0, err
	}
	if normalizedAnswer == "" {
		return 0, nil
	}

	answer, err := s.embedder.Embed(ctx, normalizedAnswer)
	if err != nil {
		return 0, fmt.Errorf("embed answer: %w", err)
	}
	return CosineSimilarity(answer, reference)
}

// CosineSimilarity computes dot(a,b)/(|a||b|) in float64. A zero-magnitude operand yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
