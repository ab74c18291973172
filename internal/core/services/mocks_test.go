package services

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
)

// --- Mock implementations ---

// mockFileStore implements driven.FileStore for testing.
type mockFileStore struct {
	files map[domain.FileRef]*domain.StoredFile
}

func newMockFileStore() *mockFileStore {
	return &mockFileStore{files: make(map[domain.FileRef]*domain.StoredFile)}
}

func (m *mockFileStore) put(ref domain.FileRef, path, mediaType string) {
	m.files[ref] = &domain.StoredFile{Path: path, MediaType: mediaType}
}

func (m *mockFileStore) Resolve(_ context.Context, ref domain.FileRef) (*domain.StoredFile, error) {
	f, ok := m.files[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return f, nil
}

// mockExtractor implements driven.ExtractorRegistry for testing.
// Texts are keyed by path.
type mockExtractor struct {
	mu         sync.Mutex
	texts      map[string]string
	errs       map[string]error
	panics     map[string]bool
	mediaTypes []string
}

func newMockExtractor() *mockExtractor {
	return &mockExtractor{
		texts:  make(map[string]string),
		errs:   make(map[string]error),
		panics: make(map[string]bool),
	}
}

func (m *mockExtractor) Extract(_ context.Context, path, mediaType string) (string, error) {
	m.mu.Lock()
	m.mediaTypes = append(m.mediaTypes, mediaType)
	m.mu.Unlock()
	if m.panics[path] {
		panic("parser bug")
	}
	if err := m.errs[path]; err != nil {
		return "", err
	}
	return m.texts[path], nil
}

func (m *mockExtractor) Supports(string) bool { return true }

// mockEmbeddingService implements driven.EmbeddingService for testing.
// Every text embeds to the same vector unless vectorFor is set.
type mockEmbeddingService struct {
	mu        sync.Mutex
	embedding []float32
	vectorFor func(text string) []float32
	embedErr  error
	dims      int
	batches   int
	override  func(texts []string) [][]float32
}

func (m *mockEmbeddingService) vector(text string) []float32 {
	if m.vectorFor != nil {
		return m.vectorFor(text)
	}
	return m.embedding
}

func (m *mockEmbeddingService) Embed(_ context.Context, text string) ([]float32, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return m.vector(text), nil
}

func (m *mockEmbeddingService) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.batches++
	m.mu.Unlock()
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.override != nil {
		return m.override(texts), nil
	}
	result := make([][]float32, len(texts))
	for i, t := range texts {
		result[i] = m.vector(t)
	}
	return result, nil
}

func (m *mockEmbeddingService) Dimensions() int            { return m.dims }
func (m *mockEmbeddingService) ModelName() string          { return "mock-embed" }
func (m *mockEmbeddingService) Ping(context.Context) error { return nil }
func (m *mockEmbeddingService) Close() error               { return nil }

// mockLLMService implements driven.LLMService for testing.
type mockLLMService struct {
	reply    string
	err      error
	block    bool
	messages []driven.ChatMessage
	opts     driven.ChatOptions
}

func (m *mockLLMService) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (string, error) {
	m.messages = messages
	m.opts = opts
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return m.reply, m.err
}

func (m *mockLLMService) ModelName() string          { return "mock-llm" }
func (m *mockLLMService) Ping(context.Context) error { return nil }
func (m *mockLLMService) Close() error               { return nil }

// fakeVectorIndex is an in-memory driven.VectorIndex with exact cosine
// search; ties keep insertion order.
type fakeVectorIndex struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	ensureCalls int
	upsertErr   error
	searchErr   error
	lastTopK    int
}

type fakeCollection struct {
	dim    int
	points []domain.VectorPoint
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{collections: make(map[string]*fakeCollection)}
}

func (f *fakeVectorIndex) EnsureCollection(_ context.Context, name string, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	if c, ok := f.collections[name]; ok {
		if c.dim != dim {
			return &domain.DimensionMismatchError{Collection: name, Existing: c.dim, Requested: dim}
		}
		return nil
	}
	f.collections[name] = &fakeCollection{dim: dim}
	return nil
}

func (f *fakeVectorIndex) Upsert(_ context.Context, name string, points []domain.VectorPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	c, ok := f.collections[name]
	if !ok {
		return domain.ErrNotFound
	}
	for _, p := range points {
		replaced := false
		for i := range c.points {
			if c.points[i].ID == p.ID {
				c.points[i] = p
				replaced = true
			}
		}
		if !replaced {
			c.points = append(c.points, p)
		}
	}
	return nil
}

func (f *fakeVectorIndex) DeleteWhere(_ context.Context, name string, filter domain.PointFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[name]
	if !ok {
		return 0, domain.ErrNotFound
	}
	kept := c.points[:0]
	deleted := 0
	for _, p := range c.points {
		if p.Payload.Matches(filter) {
			deleted++
			continue
		}
		kept = append(kept, p)
	}
	c.points = kept
	return deleted, nil
}

func (f *fakeVectorIndex) Search(_ context.Context, name string, vector []float32, topK int) ([]domain.ScoredPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTopK = topK
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	c, ok := f.collections[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	hits := make([]domain.ScoredPayload, 0, len(c.points))
	for _, p := range c.points {
		hits = append(hits, domain.ScoredPayload{ID: p.ID, Payload: p.Payload, Score: cosine(vector, p.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeVectorIndex) Count(_ context.Context, name string, filter domain.PointFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[name]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if filter == (domain.PointFilter{}) {
		return len(c.points), nil
	}
	n := 0
	for _, p := range c.points {
		if p.Payload.Matches(filter) {
			n++
		}
	}
	return n, nil
}

func (f *fakeVectorIndex) Info(_ context.Context, name string) (*domain.CollectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.CollectionInfo{Name: name, Dimension: c.dim, Distance: domain.DistanceCosine, PointCount: len(c.points)}, nil
}

func (f *fakeVectorIndex) DropCollection(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, name)
	return nil
}

func (f *fakeVectorIndex) Close() error { return nil }

func (f *fakeVectorIndex) points(name string) []domain.VectorPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[name]
	if !ok {
		return nil
	}
	return append([]domain.VectorPoint(nil), c.points...)
}

func cosine(a, b []float32) float64 {
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

// mockLedger implements driven.IngestionLedger for testing.
type mockLedger struct {
	mu        sync.Mutex
	entries   []domain.LedgerEntry
	recordErr error
}

func (m *mockLedger) Record(_ context.Context, e domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockLedger) Recent(_ context.Context, limit int) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.entries) {
		limit = len(m.entries)
	}
	return append([]domain.LedgerEntry(nil), m.entries[:limit]...), nil
}

func (m *mockLedger) ForSource(_ context.Context, ref domain.FileRef) ([]domain.LedgerEntry, error) {
	return nil, errors.New("not implemented")
}

func (m *mockLedger) Close() error { return nil }

// mockPromptStore implements driven.PromptStore for testing.
type mockPromptStore struct {
	prompts map[string]string
}

func (m *mockPromptStore) Load(name string) (string, error) {
	p, ok := m.prompts[name]
	if !ok {
		return "", domain.ErrNotFound
	}
	return p, nil
}

// --- Queue mocks ---

type mockAck struct {
	mu       sync.Mutex
	acked    bool
	rejected bool
	requeue  bool
}

func (a *mockAck) Ack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = true
	return nil
}

func (a *mockAck) Reject(requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected = true
	a.requeue = requeue
	return nil
}

// mockSession replays a fixed list of deliveries and then closes the
// channel, or blocks until ctx ends when hold is set.
type mockSession struct {
	deliveries []driven.Delivery
	hold       bool
	published  [][]byte
	closed     bool
}

func (s *mockSession) Deliveries(ctx context.Context) (<-chan driven.Delivery, error) {
	ch := make(chan driven.Delivery)
	go func() {
		defer close(ch)
		for _, d := range s.deliveries {
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
		if s.hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (s *mockSession) Publish(_ context.Context, body []byte) error {
	s.published = append(s.published, body)
	return nil
}

func (s *mockSession) Close() error {
	s.closed = true
	return nil
}

// mockConnector hands out sessions in order, failing while failures remain.
type mockConnector struct {
	mu       sync.Mutex
	failures int
	sessions []*mockSession
	calls    int
}

func (c *mockConnector) Connect(_ context.Context) (driven.QueueSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failures > 0 {
		c.failures--
		return nil, errors.New("connection refused")
	}
	if len(c.sessions) == 0 {
		return nil, errors.New("no more sessions")
	}
	s := c.sessions[0]
	c.sessions = c.sessions[1:]
	return s, nil
}
