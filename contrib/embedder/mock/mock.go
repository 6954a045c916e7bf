package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/sweetpotato0/ragline/vector"
)

// Embedder produces deterministic unit vectors without a provider. The seed
// is a cryptographic hash of the text, expanded through an xorshift64* stream
// and L2-normalized, so equal texts always embed identically.
type Embedder struct {
	dimension int
}

// New creates a deterministic embedder with the given dimension.
func New(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = 1536
	}
	return &Embedder{dimension: dimension}
}

// Dimension return number of embedding dimensions
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed converts text to a vector embedding
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.generate(text), nil
}

// EmbedBatch converts multiple texts to embeddings
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.generate(text)
	}
	return out, nil
}

func (e *Embedder) generate(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	state := binary.BigEndian.Uint64(sum[:8])
	if state == 0 {
		state = 0x9e3779b97f4a7c15
	}

	vec := make([]float32, e.dimension)
	for i := range vec {
		state = xorshift(state)
		// map to [-1, 1)
		vec[i] = float32(int64(state)) / float32(math.MaxInt64)
	}
	return vector.Normalize(vec)
}

func xorshift(x uint64) uint64 {
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	return x
}
