// Package qdrant provides a VectorIndex backed by a Qdrant server over its
// REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/logger"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

// Default configuration values.
const (
	DefaultURL     = "http://localhost:6333"
	DefaultTimeout = 15 * time.Second
)

// indexedFields get keyword payload indexes so filtered deletes stay cheap.
var indexedFields = []string{"owner_id", "source_name"}

// Config holds configuration for the Qdrant index.
type Config struct {
	// URL is the Qdrant REST endpoint (default: http://localhost:6333).
	URL string

	// APIKey is sent as the api-key header when set.
	APIKey string

	// Timeout bounds each request (default: 15s).
	Timeout time.Duration
}

// Index is a minimal REST client to Qdrant.
type Index struct {
	url    string
	apiKey string
	client *http.Client
}

// statusError is a non-2xx reply.
type statusError struct {
	method string
	path   string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s: status %d: %s", e.method, e.path, e.code, e.body)
}

// NewIndex creates a Qdrant-backed index. No request is made until first use.
func NewIndex(cfg Config) *Index {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Index{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type collectionResponse struct {
	Result struct {
		Status       string `json:"status"`
		PointsCount  *int   `json:"points_count"`
		VectorsCount *int   `json:"vectors_count"`
		Config       struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// EnsureCollection creates the collection and its payload indexes if absent.
// A create that loses a race to another process is resolved by re-reading
// the winner's configuration.
func (x *Index) EnsureCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", domain.ErrInvalidInput, dim)
	}

	info, err := x.Info(ctx, name)
	switch {
	case err == nil:
		return checkDimension(name, info.Dimension, dim)
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": domain.DistanceCosine,
		},
	}
	err = x.do(ctx, http.MethodPut, collectionPath(name), nil, body, nil)
	var se *statusError
	if errors.As(err, &se) && (se.code == http.StatusConflict || se.code == http.StatusBadRequest) {
		logger.Debug("qdrant: collection %q created concurrently, re-reading", name)
		info, err := x.Info(ctx, name)
		if err != nil {
			return fmt.Errorf("create collection %q: %w", name, err)
		}
		return checkDimension(name, info.Dimension, dim)
	}
	if err != nil {
		return fmt.Errorf("create collection %q: %w", name, err)
	}

	for _, field := range indexedFields {
		idx := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := x.do(ctx, http.MethodPut, collectionPath(name)+"/index", waitQuery(), idx, nil); err != nil {
			return fmt.Errorf("create payload index %s on %q: %w", field, name, err)
		}
	}
	logger.Info("qdrant: created collection %q (%d dimensions, cosine)", name, dim)
	return nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload domain.Payload `json:"payload"`
}

// Upsert writes points and waits for them to be applied.
func (x *Index) Upsert(ctx context.Context, name string, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	body := struct {
		Points []point `json:"points"`
	}{Points: make([]point, len(points))}
	for i, p := range points {
		body.Points[i] = point{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}

	if err := x.do(ctx, http.MethodPut, collectionPath(name)+"/points", waitQuery(), body, nil); err != nil {
		return writeError("upsert", err)
	}
	return nil
}

// DeleteWhere counts the matching points, then deletes them by filter.
// The two requests are not atomic: with concurrent writers on the same
// source the returned count may differ from the number actually deleted.
func (x *Index) DeleteWhere(ctx context.Context, name string, filter domain.PointFilter) (int, error) {
	n, err := x.Count(ctx, name, filter)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	body := map[string]any{"filter": mustFilter(filter)}
	if err := x.do(ctx, http.MethodPost, collectionPath(name)+"/points/delete", waitQuery(), body, nil); err != nil {
		return 0, writeError("delete", err)
	}
	return n, nil
}

type searchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload domain.Payload `json:"payload"`
	} `json:"result"`
}

// Search returns the nearest payloads, ordered by score and then point ID.
func (x *Index) Search(ctx context.Context, name string, query []float32, topK int) ([]domain.ScoredPayload, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", domain.ErrInvalidInput, topK)
	}
	body := map[string]any{
		"vector":       query,
		"limit":        topK,
		"with_payload": true,
	}
	var resp searchResponse
	if err := x.do(ctx, http.MethodPost, collectionPath(name)+"/points/search", nil, body, &resp); err != nil {
		return nil, err
	}

	hits := make([]domain.ScoredPayload, len(resp.Result))
	for i, r := range resp.Result {
		hits[i] = domain.ScoredPayload{ID: fmt.Sprint(r.ID), Payload: r.Payload, Score: r.Score}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

// Count returns the exact number of points matching filter.
func (x *Index) Count(ctx context.Context, name string, filter domain.PointFilter) (int, error) {
	body := map[string]any{"exact": true}
	if filter != (domain.PointFilter{}) {
		body["filter"] = mustFilter(filter)
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := x.do(ctx, http.MethodPost, collectionPath(name)+"/points/count", nil, body, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Info describes the collection.
func (x *Index) Info(ctx context.Context, name string) (*domain.CollectionInfo, error) {
	var resp collectionResponse
	if err := x.do(ctx, http.MethodGet, collectionPath(name), nil, nil, &resp); err != nil {
		return nil, err
	}
	info := &domain.CollectionInfo{
		Name:      name,
		Dimension: resp.Result.Config.Params.Vectors.Size,
		Distance:  resp.Result.Config.Params.Vectors.Distance,
	}
	switch {
	case resp.Result.PointsCount != nil:
		info.PointCount = *resp.Result.PointsCount
	case resp.Result.VectorsCount != nil:
		info.PointCount = *resp.Result.VectorsCount
	}
	return info, nil
}

// DropCollection deletes the collection. Dropping a missing collection is a no-op.
func (x *Index) DropCollection(ctx context.Context, name string) error {
	err := x.do(ctx, http.MethodDelete, collectionPath(name), nil, nil, nil)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("drop collection %q: %w", name, err)
	}
	logger.Info("qdrant: dropped collection %q", name)
	return nil
}

// Close releases resources.
func (x *Index) Close() error {
	x.client.CloseIdleConnections()
	return nil
}

// do sends one JSON request. A 404 maps to domain.ErrNotFound.
func (x *Index) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := x.url + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("qdrant: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if x.apiKey != "" {
		req.Header.Set("api-key", x.apiKey)
	}

	resp, err := x.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: qdrant %s %s", domain.ErrNotFound, method, path)
	}
	if resp.StatusCode >= 300 {
		return &statusError{method: method, path: path, code: resp.StatusCode, body: string(bytes.TrimSpace(data))}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("qdrant %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

func waitQuery() url.Values {
	return url.Values{"wait": []string{"true"}}
}

// mustFilter matches owner and source name exactly.
func mustFilter(f domain.PointFilter) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "owner_id", "match": map[string]any{"value": f.OwnerID}},
			{"key": "source_name", "match": map[string]any{"value": f.SourceName}},
		},
	}
}

func checkDimension(name string, existing, requested int) error {
	if existing != requested {
		return &domain.DimensionMismatchError{Collection: name, Existing: existing, Requested: requested}
	}
	return nil
}

// writeError tags a failed write unless the collection is simply missing.
func writeError(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrIndexWrite, op, err)
}
