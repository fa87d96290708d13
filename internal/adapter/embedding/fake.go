package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// FakeEmbedder produces deterministic bag-of-words vectors: each word hashes
// into a dimension bucket, so texts sharing vocabulary score high cosine
// similarity. Used by tests and as the offline provider.
type FakeEmbedder struct {
	dimension int
}

func NewFakeEmbedder(dimension int) *FakeEmbedder {
	if dimension <= 0 {
		dimension = 64
	}
	return &FakeEmbedder{dimension: dimension}
}

func (e *FakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e *FakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vector(text)
	}
	return vectors, nil
}

func (e *FakeEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		h := fnv.New32a()
		h.Write([]byte(word))
		v[int(h.Sum32())%e.dimension]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= scale
		}
	}
	return v
}

func (e *FakeEmbedder) Dimension() int {
	return e.dimension
}

func (e *FakeEmbedder) ModelName() string {
	return "fake"
}
