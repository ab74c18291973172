package qdrant

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

// fakeQdrant implements the slice of the Qdrant REST API the index uses.
type fakeQdrant struct {
	t           *testing.T
	mu          sync.Mutex
	collections map[string]*fakeCollection
	indexes     []string
	apiKeys     []string

	// loseCreateRace makes the next create report a conflict after another
	// writer created the collection with raceDim.
	loseCreateRace bool
	raceDim        int
	failUpsert     bool
}

type fakeCollection struct {
	size   int
	points []point
}

type filterBody struct {
	Must []struct {
		Key   string `json:"key"`
		Match struct {
			Value string `json:"value"`
		} `json:"match"`
	} `json:"must"`
}

func (f filterBody) matches(p domain.Payload) bool {
	for _, c := range f.Must {
		switch c.Key {
		case "owner_id":
			if p.OwnerID != c.Match.Value {
				return false
			}
		case "source_name":
			if p.SourceName != c.Match.Value {
				return false
			}
		}
	}
	return true
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *Index) {
	t.Helper()
	f := &fakeQdrant{t: t, collections: make(map[string]*fakeCollection)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, NewIndex(Config{URL: srv.URL, APIKey: "secret"})
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/collections/"), "/")
	name := parts[0]
	rest := strings.Join(parts[1:], "/")
	col, exists := f.collections[name]

	notFound := func() {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection doesn't exist!"}}`))
	}
	ok := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": result})
	}

	switch {
	case r.Method == http.MethodGet && rest == "":
		if !exists {
			notFound()
			return
		}
		ok(map[string]any{
			"status":       "green",
			"points_count": len(col.points),
			"config": map[string]any{"params": map[string]any{
				"vectors": map[string]any{"size": col.size, "distance": "Cosine"},
			}},
		})

	case r.Method == http.MethodPut && rest == "":
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		if f.loseCreateRace {
			f.loseCreateRace = false
			f.collections[name] = &fakeCollection{size: f.raceDim}
			w.WriteHeader(http.StatusConflict)
			return
		}
		if exists {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.collections[name] = &fakeCollection{size: body.Vectors.Size}
		ok(true)

	case r.Method == http.MethodDelete && rest == "":
		if !exists {
			notFound()
			return
		}
		delete(f.collections, name)
		ok(true)

	case !exists:
		notFound()

	case r.Method == http.MethodPut && rest == "index":
		var body struct {
			FieldName string `json:"field_name"`
		}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.indexes = append(f.indexes, body.FieldName)
		ok(map[string]any{"status": "completed"})

	case r.Method == http.MethodPut && rest == "points":
		assert.Equal(f.t, "true", r.URL.Query().Get("wait"))
		if f.failUpsert {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var body struct {
			Points []point `json:"points"`
		}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		for _, p := range body.Points {
			if len(p.Vector) != col.size {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		col.points = append(col.points, body.Points...)
		ok(map[string]any{"status": "completed"})

	case r.Method == http.MethodPost && rest == "points/count":
		var body struct {
			Filter *filterBody `json:"filter"`
		}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		n := 0
		for _, p := range col.points {
			if body.Filter == nil || body.Filter.matches(p.Payload) {
				n++
			}
		}
		ok(map[string]any{"count": n})

	case r.Method == http.MethodPost && rest == "points/delete":
		var body struct {
			Filter filterBody `json:"filter"`
		}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		kept := col.points[:0]
		for _, p := range col.points {
			if !body.Filter.matches(p.Payload) {
				kept = append(kept, p)
			}
		}
		col.points = kept
		ok(map[string]any{"status": "completed"})

	case r.Method == http.MethodPost && rest == "points/search":
		var body struct {
			Vector []float32 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		type hit struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload domain.Payload `json:"payload"`
		}
		hits := make([]hit, 0, len(col.points))
		for _, p := range col.points {
			hits = append(hits, hit{ID: p.ID, Score: cosine(body.Vector, p.Vector), Payload: p.Payload})
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}
		ok(hits)

	default:
		http.NotFound(w, r)
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func testPoint(id, owner, source string, seq int, vector ...float32) domain.VectorPoint {
	return domain.VectorPoint{
		ID:     id,
		Vector: vector,
		Payload: domain.Payload{
			OwnerID:    owner,
			SourceName: source,
			Sequence:   seq,
			Text:       owner + " " + source,
			CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		},
	}
}

func TestEnsureCollection(t *testing.T) {
	ctx := context.Background()

	t.Run("creates with payload indexes", func(t *testing.T) {
		f, idx := newFakeQdrant(t)
		require.NoError(t, idx.EnsureCollection(ctx, "program_chunks", 3))
		assert.Equal(t, []string{"owner_id", "source_name"}, f.indexes)

		info, err := idx.Info(ctx, "program_chunks")
		require.NoError(t, err)
		assert.Equal(t, 3, info.Dimension)
		assert.Equal(t, domain.DistanceCosine, info.Distance)
		assert.Equal(t, "secret", f.apiKeys[0])
	})

	t.Run("idempotent", func(t *testing.T) {
		f, idx := newFakeQdrant(t)
		require.NoError(t, idx.EnsureCollection(ctx, "c", 3))
		require.NoError(t, idx.EnsureCollection(ctx, "c", 3))
		assert.Len(t, f.indexes, 2, "indexes only created once")
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, idx := newFakeQdrant(t)
		require.NoError(t, idx.EnsureCollection(ctx, "c", 3))

		err := idx.EnsureCollection(ctx, "c", 4)
		require.ErrorIs(t, err, domain.ErrDimensionMismatch)
		var mismatch *domain.DimensionMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 3, mismatch.Existing)
		assert.Equal(t, 4, mismatch.Requested)
	})

	t.Run("lost create race with same dimension", func(t *testing.T) {
		f, idx := newFakeQdrant(t)
		f.loseCreateRace, f.raceDim = true, 3
		assert.NoError(t, idx.EnsureCollection(ctx, "c", 3))
	})

	t.Run("lost create race with other dimension", func(t *testing.T) {
		f, idx := newFakeQdrant(t)
		f.loseCreateRace, f.raceDim = true, 8
		assert.ErrorIs(t, idx.EnsureCollection(ctx, "c", 3), domain.ErrDimensionMismatch)
	})

	t.Run("invalid dimension", func(t *testing.T) {
		_, idx := newFakeQdrant(t)
		assert.ErrorIs(t, idx.EnsureCollection(ctx, "c", 0), domain.ErrInvalidInput)
	})
}

func TestUpsertDeleteCount(t *testing.T) {
	ctx := context.Background()
	_, idx := newFakeQdrant(t)
	require.NoError(t, idx.EnsureCollection(ctx, "c", 2))

	require.NoError(t, idx.Upsert(ctx, "c", []domain.VectorPoint{
		testPoint("a", "W1", "p.pdf", 0, 1, 0),
		testPoint("b", "W1", "p.pdf", 1, 0, 1),
		testPoint("c", "W2", "p.pdf", 0, 1, 1),
	}))

	n, err := idx.Count(ctx, "c", domain.PointFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = idx.Count(ctx, "c", domain.PointFilter{OwnerID: "W1", SourceName: "p.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	deleted, err := idx.DeleteWhere(ctx, "c", domain.PointFilter{OwnerID: "W1", SourceName: "p.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	deleted, err = idx.DeleteWhere(ctx, "c", domain.PointFilter{OwnerID: "W9", SourceName: "none"})
	require.NoError(t, err)
	assert.Zero(t, deleted)

	info, err := idx.Info(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, info.PointCount)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	_, idx := newFakeQdrant(t)
	require.NoError(t, idx.EnsureCollection(ctx, "c", 2))
	require.NoError(t, idx.Upsert(ctx, "c", []domain.VectorPoint{
		testPoint("p2", "W2", "b.pdf", 0, 0, 1),
		testPoint("p1", "W1", "a.pdf", 0, 1, 0),
		testPoint("p0", "W1", "a.pdf", 1, 1, 0),
	}))

	hits, err := idx.Search(ctx, "c", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "p0", hits[0].ID, "ties ordered by id")
	assert.Equal(t, "p1", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "W1", hits[0].Payload.OwnerID)
	assert.Equal(t, 1, hits[0].Payload.Sequence)
	assert.True(t, hits[0].Payload.CreatedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))

	_, err = idx.Search(ctx, "c", []float32{1, 0}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMissingCollection(t *testing.T) {
	ctx := context.Background()
	_, idx := newFakeQdrant(t)

	_, err := idx.Search(ctx, "missing", []float32{1}, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = idx.Count(ctx, "missing", domain.PointFilter{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = idx.DeleteWhere(ctx, "missing", domain.PointFilter{OwnerID: "W", SourceName: "s"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = idx.Upsert(ctx, "missing", []domain.VectorPoint{testPoint("x", "W", "s", 0, 1)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = idx.Info(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, idx.DropCollection(ctx, "missing"))
}

func TestUpsertFailure(t *testing.T) {
	ctx := context.Background()
	f, idx := newFakeQdrant(t)
	require.NoError(t, idx.EnsureCollection(ctx, "c", 1))
	f.failUpsert = true

	err := idx.Upsert(ctx, "c", []domain.VectorPoint{testPoint("x", "W", "s", 0, 1)})
	assert.ErrorIs(t, err, domain.ErrIndexWrite)
}

func TestDropCollection(t *testing.T) {
	ctx := context.Background()
	_, idx := newFakeQdrant(t)
	require.NoError(t, idx.EnsureCollection(ctx, "c", 2))
	require.NoError(t, idx.DropCollection(ctx, "c"))

	_, err := idx.Info(ctx, "c")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, idx.Close())
}
