package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Local is a deterministic, offline Embedder. It has no semantic notion of
// similarity beyond shared tokens, but it is stable across runs and needs no
// network access, which keeps capture/index/retrieve usable and testable
// without a configured remote embedding provider.
type Local struct{}

// NewLocal returns a Local embedder.
func NewLocal() *Local { return &Local{} }

// Embed hashes each token of text into one of Dims buckets and accumulates a
// signed count per bucket, then L2-normalizes the result. Two texts sharing
// more tokens land closer together under cosine/L2 similarity.
func (Local) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, Dims)

	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		bucket := h.Sum32() % uint32(Dims)

		sign := float32(1)
		if (h.Sum32()>>8)&1 == 1 {
			sign = -1
		}

		vec[bucket] += sign
	}

	normalize(vec)

	return vec, nil
}

func normalize(vec []float32) {
	var sumSq float64

	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}

	if sumSq == 0 {
		return
	}

	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
}
