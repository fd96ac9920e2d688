// Package embedding provides the text embedding collaborators used for grading.
package embedding

import (
	"context"
	"errors"
)

// ErrUnexpectedResponse indicates the provider returned a payload that does not line up with
// the request.
var ErrUnexpectedResponse = errors.New("unexpected embedding response")

// Embedder turns normalized text into a fixed-length vector. Implementations must be
// deterministic for identical input and model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Dimensioned is implemented by embedders whose output size is configurable. A zero
// dimension means the provider default.
type Dimensioned interface {
	Dimension() int
}

// DimensionOf reports the configured output size of e, or 0 when it does not say.
func DimensionOf(e Embedder) int {
	if d, ok := e.(Dimensioned); ok {
		return d.Dimension()
	}
	return 0
}
