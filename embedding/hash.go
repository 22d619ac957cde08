package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashProvider produces deterministic pseudo-embeddings from token
// hashes. It carries no semantics and exists for dev mode and tests,
// where only dimensional consistency and determinism matter.
type HashProvider struct {
	dimensions int
}

// NewHashProvider creates a hash-based provider with the given
// dimensionality.
func NewHashProvider(dimensions int) *HashProvider {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &HashProvider{dimensions: dimensions}
}

func (p *HashProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.embed(query), nil
}

func (p *HashProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(documents))
	for i, doc := range documents {
		out[i] = p.embed(doc)
	}
	return out, nil
}

// embed folds token hashes into buckets and L2-normalizes, so shared
// tokens produce nonzero cosine similarity.
func (p *HashProvider) embed(text string) []float32 {
	vec := make([]float32, p.dimensions)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[int(h.Sum32())%p.dimensions] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func (p *HashProvider) Dimensions() int { return p.dimensions }

func (p *HashProvider) Name() string { return "hash-embedding" }

var _ Provider = (*HashProvider)(nil)
