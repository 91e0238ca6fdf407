package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// SimpleEmbedding is a hash-based embedding generator for offline use and
// tests. Texts sharing words land close together.
type SimpleEmbedding struct {
	dimensions int
}

// NewSimpleEmbedding creates a simple hash-based embedding generator
func NewSimpleEmbedding(dimensions int) *SimpleEmbedding {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &SimpleEmbedding{dimensions: dimensions}
}

// Embed hashes each word into a bucket and returns the unit-length result.
// Earlier words weigh more; single characters are ignored.
func (e *SimpleEmbedding) Embed(_ context.Context, text string) ([]float32, error) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	vec := make([]float64, e.dimensions)
	n := float64(len(words))
	for i, word := range words {
		if len([]rune(word)) < 2 {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%uint32(e.dimensions)] += 1 / (1 + float64(i)/n)
	}
	return unitVector(vec), nil
}

// Dimensions returns the embedding vector dimensionality
func (e *SimpleEmbedding) Dimensions() int {
	return e.dimensions
}

func unitVector(v []float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}
