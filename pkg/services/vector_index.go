package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"supplychain-iq-api/pkg/models"
)

// VectorIndex is one immutable index generation over document chunks.
type VectorIndex interface {
	// Search returns at most k hits ordered by ascending Euclidean distance,
	// ties broken by insertion order.
	Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error)
	Len() int
	Close() error
}

// IndexBuilder creates a new index generation from embedded chunks.
type IndexBuilder interface {
	Build(ctx context.Context, generation uint64, chunks []models.DocumentChunk, vectors [][]float32) (VectorIndex, error)
	Name() string
}

// FlatIndexBuilder builds in-memory brute-force indexes.
type FlatIndexBuilder struct{}

// Name implements IndexBuilder.
func (FlatIndexBuilder) Name() string { return "flat" }

// Build implements IndexBuilder.
func (FlatIndexBuilder) Build(_ context.Context, _ uint64, chunks []models.DocumentChunk, vectors [][]float32) (VectorIndex, error) {
	return NewFlatIndex(chunks, vectors)
}

// FlatIndex is an exact L2 index. Chunks and vectors are parallel arrays.
type FlatIndex struct {
	chunks  []models.DocumentChunk
	vectors [][]float32
	dim     int
}

// NewFlatIndex validates the inputs and copies the chunk slice.
func NewFlatIndex(chunks []models.DocumentChunk, vectors [][]float32) (*FlatIndex, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyCorpus
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunk/vector count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return &FlatIndex{
		chunks:  append([]models.DocumentChunk(nil), chunks...),
		vectors: vectors,
		dim:     dim,
	}, nil
}

// Search implements VectorIndex.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		return []models.SearchHit{}, nil
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), f.dim)
	}
	hits := make([]models.SearchHit, len(f.vectors))
	for i, v := range f.vectors {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hits[i] = models.SearchHit{Chunk: f.chunks[i], Distance: l2(query, v), Position: i}
	}
	sortHits(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Len implements VectorIndex.
func (f *FlatIndex) Len() int { return len(f.chunks) }

// Close implements VectorIndex.
func (f *FlatIndex) Close() error { return nil }

// sortHits orders by distance, then by insertion position.
func sortHits(hits []models.SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Position < hits[j].Position
	})
}

// l2 is the Euclidean distance accumulated in float64.
func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
