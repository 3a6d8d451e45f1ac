// Package embed computes the 384-dimensional float32 vectors stored
// alongside each entry for similarity search.
package embed

import "context"

// Dims is the fixed embedding dimensionality the vector index is built
// around. Every Embedder implementation must return vectors of this length.
const Dims = 384

// Embedder turns text into a fixed-size embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
