// Package bolt provides an embedded VectorIndex stored in a single bbolt
// file. Search is an exact cosine scan, suited to one worker process and
// corpora of a few hundred thousand chunks.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

var (
	bucketMeta   = []byte("meta")
	bucketPoints = []byte("points")
	bucketIDs    = []byte("ids")

	keyDimension = []byte("dimension")
	keyDistance  = []byte("distance")
)

// record is the stored form of a point.
type record struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload domain.Payload `json:"payload"`
}

// Index stores each collection in its own top-level bucket with nested
// meta, points and ids buckets. Points are keyed by a per-collection
// sequence so a cursor walks them in insertion order.
type Index struct {
	db *bbolt.DB
}

// Open opens or creates the index file at path.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt index %s: %w", path, err)
	}
	return &Index{db: db}, nil
}

// EnsureCollection creates the collection if absent.
func (x *Index) EnsureCollection(_ context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", domain.ErrInvalidInput, dim)
	}
	return x.db.Update(func(tx *bbolt.Tx) error {
		if col := tx.Bucket([]byte(name)); col != nil {
			existing := dimensionOf(col)
			if existing != dim {
				return &domain.DimensionMismatchError{Collection: name, Existing: existing, Requested: dim}
			}
			return nil
		}

		col, err := tx.CreateBucket([]byte(name))
		if err != nil {
			return fmt.Errorf("create collection %q: %w", name, err)
		}
		meta, err := col.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		if err := meta.Put(keyDimension, []byte(strconv.Itoa(dim))); err != nil {
			return err
		}
		if err := meta.Put(keyDistance, []byte(domain.DistanceCosine)); err != nil {
			return err
		}
		if _, err := col.CreateBucket(bucketPoints); err != nil {
			return err
		}
		_, err = col.CreateBucket(bucketIDs)
		return err
	})
}

// Upsert writes every point in one transaction. A point whose ID exists
// keeps its position.
func (x *Index) Upsert(_ context.Context, name string, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	err := x.db.Update(func(tx *bbolt.Tx) error {
		col, err := collection(tx, name)
		if err != nil {
			return err
		}
		dim := dimensionOf(col)
		pts, ids := col.Bucket(bucketPoints), col.Bucket(bucketIDs)

		for _, p := range points {
			if len(p.Vector) != dim {
				return &domain.DimensionMismatchError{Collection: name, Existing: dim, Requested: len(p.Vector)}
			}
			data, err := json.Marshal(record{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
			if err != nil {
				return fmt.Errorf("encode point %s: %w", p.ID, err)
			}

			key := ids.Get([]byte(p.ID))
			if key == nil {
				seq, err := pts.NextSequence()
				if err != nil {
					return err
				}
				key = seqKey(seq)
				if err := ids.Put([]byte(p.ID), key); err != nil {
					return err
				}
			}
			if err := pts.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	return writeError("upsert", err)
}

// DeleteWhere removes matching points in one transaction.
func (x *Index) DeleteWhere(_ context.Context, name string, filter domain.PointFilter) (int, error) {
	deleted := 0
	err := x.db.Update(func(tx *bbolt.Tx) error {
		col, err := collection(tx, name)
		if err != nil {
			return err
		}
		pts, ids := col.Bucket(bucketPoints), col.Bucket(bucketIDs)

		var keys [][]byte
		var pointIDs []string
		err = pts.ForEach(func(k, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode point: %w", err)
			}
			if r.Payload.Matches(filter) {
				keys = append(keys, append([]byte(nil), k...))
				pointIDs = append(pointIDs, r.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Mutating a bucket while iterating it is not allowed.
		for i, k := range keys {
			if err := pts.Delete(k); err != nil {
				return err
			}
			if err := ids.Delete([]byte(pointIDs[i])); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	if err != nil {
		return 0, writeError("delete", err)
	}
	return deleted, nil
}

// Search scans every point. Equal scores keep insertion order.
func (x *Index) Search(ctx context.Context, name string, query []float32, topK int) ([]domain.ScoredPayload, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", domain.ErrInvalidInput, topK)
	}
	queryNorm := norm(query)

	var hits []domain.ScoredPayload
	err := x.db.View(func(tx *bbolt.Tx) error {
		col, err := collection(tx, name)
		if err != nil {
			return err
		}
		if dim := dimensionOf(col); len(query) != dim {
			return &domain.DimensionMismatchError{Collection: name, Existing: dim, Requested: len(query)}
		}
		return col.Bucket(bucketPoints).ForEach(func(_, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode point: %w", err)
			}
			hits = append(hits, domain.ScoredPayload{
				ID:      r.ID,
				Payload: r.Payload,
				Score:   cosine(query, queryNorm, r.Vector),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count returns the number of points matching filter.
func (x *Index) Count(_ context.Context, name string, filter domain.PointFilter) (int, error) {
	n := 0
	err := x.db.View(func(tx *bbolt.Tx) error {
		col, err := collection(tx, name)
		if err != nil {
			return err
		}
		pts := col.Bucket(bucketPoints)
		if filter == (domain.PointFilter{}) {
			n = pts.Stats().KeyN
			return nil
		}
		return pts.ForEach(func(_, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode point: %w", err)
			}
			if r.Payload.Matches(filter) {
				n++
			}
			return nil
		})
	})
	return n, err
}

// Info describes the collection.
func (x *Index) Info(_ context.Context, name string) (*domain.CollectionInfo, error) {
	var info *domain.CollectionInfo
	err := x.db.View(func(tx *bbolt.Tx) error {
		col, err := collection(tx, name)
		if err != nil {
			return err
		}
		info = &domain.CollectionInfo{
			Name:       name,
			Dimension:  dimensionOf(col),
			Distance:   string(col.Bucket(bucketMeta).Get(keyDistance)),
			PointCount: col.Bucket(bucketPoints).Stats().KeyN,
		}
		return nil
	})
	return info, err
}

// DropCollection deletes the collection bucket. A missing collection is a no-op.
func (x *Index) DropCollection(_ context.Context, name string) error {
	return x.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Close closes the underlying file.
func (x *Index) Close() error {
	return x.db.Close()
}

func collection(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	col := tx.Bucket([]byte(name))
	if col == nil {
		return nil, fmt.Errorf("%w: collection %q", domain.ErrNotFound, name)
	}
	return col, nil
}

func dimensionOf(col *bbolt.Bucket) int {
	meta := col.Bucket(bucketMeta)
	if meta == nil {
		return 0
	}
	dim, _ := strconv.Atoi(string(meta.Get(keyDimension)))
	return dim
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine returns 0 when either vector has zero length.
func cosine(query []float32, queryNorm float64, v []float32) float64 {
	vNorm := norm(v)
	if queryNorm == 0 || vNorm == 0 {
		return 0
	}
	var dot float64
	for i := range query {
		dot += float64(query[i]) * float64(v[i])
	}
	return dot / (queryNorm * vNorm)
}

// writeError tags a failed write unless it carries a more specific kind.
func writeError(op string, err error) error {
	if err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrDimensionMismatch) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrIndexWrite, op, err)
}
