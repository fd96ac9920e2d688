package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/minio/highwayhash"
)

const defaultHashingDimension = 384

var hashingKey = []byte("gema-grader-hashing-embedder-key")

// Hashing is a deterministic bag-of-words embedder based on feature hashing. It needs no
// network access and is meant for offline runs and tests; texts sharing tokens get similar
// vectors, which is enough to exercise the grading pipeline end to end.
type Hashing struct {
	dim int
}

// NewHashing constructs the embedder. Non-positive dimensions fall back to 384.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = defaultHashingDimension
	}
	return &Hashing{dim: dim}
}

// Model identifies the embedder and its dimension.
func (h *Hashing) Model() string {
	return fmt.Sprintf("hashing-%d", h.dim)
}

// Dimension returns the vector length.
func (h *Hashing) Dimension() int {
	return h.dim
}

// Embed returns the hashed vector of text. Text without tokens yields the zero vector.
func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, h.dim)
	for _, token := range strings.Fields(text) {
		sum := highwayhash.Sum64([]byte(token), hashingKey)
		bucket := int(sum % uint64(h.dim))
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		vector[bucket] += sign
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vector, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= scale
	}
	return vector, nil
}

// EmbedBatch embeds every text.
func (h *Hashing) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vector
	}
	return out, nil
}
