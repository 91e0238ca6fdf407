// Package knowledge stores support articles and retrieves the ones most
// relevant to a customer message by embedding similarity.
package knowledge

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/quantumflow/supportflow/internal/models"
)

// ErrNotFound is returned when an entry id is unknown to the store
var ErrNotFound = errors.New("knowledge entry not found")

// SearchOptions narrows a similarity search. A nil Category searches all.
type SearchOptions struct {
	TopK     int
	Category *models.Category
	MinScore float64
}

// Store is a vector-indexed knowledge base
type Store interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]models.ScoredEntry, error)
	RecordUsage(ctx context.Context, id string, helpful bool) error
	Upsert(ctx context.Context, entry *models.KnowledgeEntry) error
	Get(ctx context.Context, id string) (*models.KnowledgeEntry, error)
	Close() error
}

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// rankResults clamps scores, drops those under MinScore, orders by score
// descending and keeps at most TopK.
func rankResults(results []models.ScoredEntry, opts SearchOptions) []models.ScoredEntry {
	out := make([]models.ScoredEntry, 0, len(results))
	for _, r := range results {
		r.Score = models.ClampConfidence(r.Score)
		if r.Score < opts.MinScore {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	if opts.TopK > 0 && len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out
}

func matchesCategory(entry *models.KnowledgeEntry, category *models.Category) bool {
	return category == nil || entry.Category == *category
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when the vectors are empty, mismatched or zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
