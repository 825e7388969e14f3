// Package vector holds the similarity index used by duplicate detection.
// Every vector stored or queried is expected to be L2-normalized.
package vector

import (
	"context"
	"errors"
	"math"
	"sort"
)

// ErrZeroVector is returned when a vector has no direction to normalize
var ErrZeroVector = errors.New("zero-length vector")

// Neighbor is one query hit
type Neighbor struct {
	ID         string
	Similarity float64
}

// Index is the nearest-neighbor store, partitioned into named collections
type Index interface {
	Query(ctx context.Context, collection string, vec []float32, k int) ([]Neighbor, error)
	Upsert(ctx context.Context, collection, id string, vec []float32) error
	Delete(ctx context.Context, collection, id string) error
}

// Normalize returns a unit-length copy of vec
func Normalize(vec []float32) ([]float32, error) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, ErrZeroVector
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b. Mismatched lengths score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// topK scores every candidate and keeps the k most similar, highest first.
// Equal similarities are ordered by id, so a tie can straddle the cut.
func topK(query []float32, candidates map[string][]float32, k int) []Neighbor {
	hits := make([]Neighbor, 0, len(candidates))
	for id, vec := range candidates {
		hits = append(hits, Neighbor{ID: id, Similarity: Cosine(query, vec)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
