package driven

import (
	"context"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

// VectorIndex stores embedded chunks in named collections and answers
// nearest-neighbour queries by cosine similarity.
//
// Implementations serialise conflicting writes themselves; callers never
// lock around them. Every operation but EnsureCollection and DropCollection
// returns domain.ErrNotFound when the collection does not exist.
type VectorIndex interface {
	// EnsureCollection creates the collection sized to dim with cosine
	// distance if it is absent. It is a no-op when a collection of the same
	// dimension exists and fails with domain.ErrDimensionMismatch otherwise.
	// Concurrent first use from several processes yields one collection.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert writes points, overwriting any with the same ID.
	// A call either stores every point or returns an error.
	Upsert(ctx context.Context, name string, points []domain.VectorPoint) error

	// DeleteWhere removes every point whose payload matches the filter and
	// returns how many were removed. A filter matching nothing is not an error.
	DeleteWhere(ctx context.Context, name string, filter domain.PointFilter) (int, error)

	// Search returns up to topK payloads by descending cosine similarity.
	// topK must be positive.
	Search(ctx context.Context, name string, query []float32, topK int) ([]domain.ScoredPayload, error)

	// Count returns the number of points matching the filter.
	// The zero filter counts every point.
	Count(ctx context.Context, name string, filter domain.PointFilter) (int, error)

	// Info describes a collection, or returns domain.ErrNotFound.
	Info(ctx context.Context, name string) (*domain.CollectionInfo, error)

	// DropCollection deletes a collection and all its points.
	DropCollection(ctx context.Context, name string) error

	// Close releases resources.
	Close() error
}
