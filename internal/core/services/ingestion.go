package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/democracy-chain/dcindex/internal/chunker"
	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/core/ports/driving"
	"github.com/democracy-chain/dcindex/internal/logger"
)

// Ensure IngestionService implements the interface.
var _ driving.IngestionService = (*IngestionService)(nil)

// IngestionConfig tunes the add/remove pipeline.
type IngestionConfig struct {
	Collection string
	ChunkSize  int
	Workers    int
}

// IngestionService drives extraction, chunking, embedding and indexing.
type IngestionService struct {
	files     driven.FileStore
	extractor driven.ExtractorRegistry
	embedder  driven.EmbeddingService
	index     driven.VectorIndex
	ledger    driven.IngestionLedger
	chunker   *chunker.Chunker
	cfg       IngestionConfig

	newID func() string
	now   func() time.Time

	// Dimensions whose collection has been ensured by this process.
	mu      sync.Mutex
	ensured map[int]bool
}

// NewIngestionService creates a new ingestion service.
// ledger is optional; when nil outcomes are only logged.
func NewIngestionService(
	files driven.FileStore,
	extractor driven.ExtractorRegistry,
	embedder driven.EmbeddingService,
	index driven.VectorIndex,
	ledger driven.IngestionLedger,
	cfg IngestionConfig,
) *IngestionService {
	if cfg.Collection == "" {
		cfg.Collection = domain.DefaultAppSettings().VectorIndex.Collection
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &IngestionService{
		files:     files,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		ledger:    ledger,
		chunker:   chunker.New(chunker.WithChunkSize(cfg.ChunkSize)),
		cfg:       cfg,
		newID:     uuid.NewString,
		now:       time.Now,
		ensured:   make(map[int]bool),
	}
}

// HandleEvent attempts every add, then every remove, and returns their
// outcomes in event order. Panics inside an item are recovered into that
// item's error.
func (s *IngestionService) HandleEvent(ctx context.Context, event domain.IngestEvent) domain.BatchResult {
	outcomes := make([]domain.ItemOutcome, 0, len(event.Add)+len(event.Remove))

	adds := s.fanOut(ctx, len(event.Add), func(i int) domain.ItemOutcome {
		fd := event.Add[i]
		return s.guard(domain.ActionAdd, fd.Ref(), func() domain.ItemOutcome {
			return s.IngestFile(ctx, fd)
		})
	})
	outcomes = append(outcomes, adds...)

	removes := s.fanOut(ctx, len(event.Remove), func(i int) domain.ItemOutcome {
		ref := event.Remove[i]
		return s.guard(domain.ActionRemove, ref, func() domain.ItemOutcome {
			return s.RemoveFile(ctx, ref)
		})
	})
	outcomes = append(outcomes, removes...)

	result := domain.BatchResult{Outcomes: outcomes}
	logger.Info("batch done: %d succeeded, %d failed", result.Succeeded(), result.Failed())
	return result
}

// IngestFile indexes one document, replacing its previous chunks.
func (s *IngestionService) IngestFile(ctx context.Context, fd domain.FileDescriptor) domain.ItemOutcome {
	start := s.now()
	outcome := domain.ItemOutcome{Action: domain.ActionAdd, Ref: fd.Ref()}

	outcome.Chunks, outcome.Deleted, outcome.Err = s.ingest(ctx, fd)
	outcome.Duration = s.now().Sub(start)
	s.report(ctx, outcome)
	return outcome
}

// RemoveFile deletes every chunk of one document. A document that was
// never indexed, or a collection that does not exist yet, is not an error.
func (s *IngestionService) RemoveFile(ctx context.Context, ref domain.FileRef) domain.ItemOutcome {
	start := s.now()
	outcome := domain.ItemOutcome{Action: domain.ActionRemove, Ref: ref}

	if err := ref.Validate(); err != nil {
		outcome.Err = fmt.Errorf("remove: %w: owner and source name are required", err)
	} else {
		outcome.Deleted, outcome.Err = s.deleteExisting(ctx, ref)
	}
	outcome.Duration = s.now().Sub(start)
	s.report(ctx, outcome)
	return outcome
}

func (s *IngestionService) ingest(ctx context.Context, fd domain.FileDescriptor) (chunks, deleted int, err error) {
	ref := fd.Ref()
	if err := ref.Validate(); err != nil {
		return 0, 0, fmt.Errorf("add: %w: owner and name are required", err)
	}

	stored, err := s.files.Resolve(ctx, ref)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve file: %w", err)
	}
	mediaType := fd.MediaType
	if mediaType == "" {
		mediaType = stored.MediaType
	}

	text, err := s.extractor.Extract(ctx, stored.Path, mediaType)
	if err != nil {
		return 0, 0, err
	}

	parts := s.chunker.Chunk(ref, text)
	if len(parts) == 0 {
		logger.Warn("%s: no text extracted, clearing previous chunks", ref)
		deleted, err = s.deleteExisting(ctx, ref)
		return 0, deleted, err
	}

	texts := make([]string, len(parts))
	for i, c := range parts {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, 0, fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	dim, err := checkVectors(vectors, len(texts))
	if err != nil {
		return 0, 0, err
	}

	if err := s.ensureCollection(ctx, dim); err != nil {
		return 0, 0, err
	}

	createdAt := fd.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	points := make([]domain.VectorPoint, len(parts))
	for i, c := range parts {
		points[i] = domain.VectorPoint{
			ID:     s.newID(),
			Vector: vectors[i],
			Payload: domain.Payload{
				OwnerID:    c.OwnerID,
				SourceName: c.SourceName,
				Sequence:   c.Sequence,
				Text:       c.Text,
				CreatedAt:  createdAt,
			},
		}
	}

	// Delete-then-insert keeps redelivered adds from duplicating chunks.
	deleted, err = s.deleteExisting(ctx, ref)
	if err != nil {
		return 0, 0, err
	}
	if err := s.upsert(ctx, dim, points); err != nil {
		return 0, deleted, indexError("upsert", err)
	}
	return len(points), deleted, nil
}

// upsert writes points. A collection dropped since it was ensured is
// provisioned again and the write retried once.
func (s *IngestionService) upsert(ctx context.Context, dim int, points []domain.VectorPoint) error {
	err := s.index.Upsert(ctx, s.cfg.Collection, points)
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	logger.Warn("collection %q is gone, provisioning it again", s.cfg.Collection)
	s.mu.Lock()
	delete(s.ensured, dim)
	s.mu.Unlock()
	if err := s.ensureCollection(ctx, dim); err != nil {
		return err
	}
	return s.index.Upsert(ctx, s.cfg.Collection, points)
}

func (s *IngestionService) deleteExisting(ctx context.Context, ref domain.FileRef) (int, error) {
	n, err := s.index.DeleteWhere(ctx, s.cfg.Collection, domain.FilterFor(ref))
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, indexError("delete", err)
	}
	return n, nil
}

// ensureCollection provisions the collection once per dimension until an
// upsert finds it missing. A dimension mismatch is never cached so an
// operator fix is picked up.
func (s *IngestionService) ensureCollection(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[dim] {
		return nil
	}
	if err := s.index.EnsureCollection(ctx, s.cfg.Collection, dim); err != nil {
		if errors.Is(err, domain.ErrDimensionMismatch) {
			return err
		}
		return indexError("ensure collection", err)
	}
	s.ensured[dim] = true
	return nil
}

// fanOut runs fn for indices [0,n) on at most Workers goroutines and
// returns the outcomes in index order.
func (s *IngestionService) fanOut(ctx context.Context, n int, fn func(i int) domain.ItemOutcome) []domain.ItemOutcome {
	out := make([]domain.ItemOutcome, n)
	if n == 0 {
		return out
	}
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			out[i] = fn(i)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// guard converts a panic in fn into a failed outcome.
func (s *IngestionService) guard(action domain.Action, ref domain.FileRef, fn func() domain.ItemOutcome) (outcome domain.ItemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("panic stack:\n%s", debug.Stack())
			outcome = domain.ItemOutcome{
				Action: action,
				Ref:    ref,
				Err:    fmt.Errorf("panic while processing %s: %v", ref, r),
			}
			s.report(context.Background(), outcome)
		}
	}()
	return fn()
}

// report logs an outcome and records it in the ledger.
func (s *IngestionService) report(ctx context.Context, o domain.ItemOutcome) {
	if o.Err != nil {
		logger.Error("%s %s failed: %v", o.Action, o.Ref, o.Err)
	} else {
		logger.Info("%s %s: %d chunks written, %d deleted (%s)",
			o.Action, o.Ref, o.Chunks, o.Deleted, o.Duration.Round(time.Millisecond))
	}

	if s.ledger == nil {
		return
	}
	// Recording survives cancellation of the batch context.
	if err := s.ledger.Record(context.WithoutCancel(ctx), domain.EntryFromOutcome(o, s.now().UTC())); err != nil {
		logger.Warn("record %s %s in ledger: %v", o.Action, o.Ref, err)
	}
}

// checkVectors verifies one non-empty vector per text, all of equal length.
func checkVectors(vectors [][]float32, want int) (int, error) {
	if len(vectors) != want {
		return 0, fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbeddingMalformed, len(vectors), want)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, fmt.Errorf("%w: empty vector", domain.ErrEmbeddingMalformed)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				domain.ErrEmbeddingMalformed, i, len(v), dim)
		}
	}
	return dim, nil
}

// indexError tags err as an index write failure unless it already
// carries a more specific classification.
func indexError(op string, err error) error {
	if errors.Is(err, domain.ErrIndexWrite) || errors.Is(err, domain.ErrDimensionMismatch) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrIndexWrite, op, err)
}

// DiscoverDimensions returns the vector size to provision collections with:
// the configured value, else the embedder's known size, else the length
// of one sample embedding.
func DiscoverDimensions(ctx context.Context, embedder driven.EmbeddingService, configured int) (int, error) {
	if configured > 0 {
		return configured, nil
	}
	if d := embedder.Dimensions(); d > 0 {
		return d, nil
	}
	vector, err := embedder.Embed(ctx, "dimension check")
	if err != nil {
		return 0, fmt.Errorf("discover embedding dimensions: %w", err)
	}
	if len(vector) == 0 {
		return 0, fmt.Errorf("discover embedding dimensions: %w: empty vector", domain.ErrEmbeddingMalformed)
	}
	logger.Debug("embedder %s produces %d dimensions", embedder.ModelName(), len(vector))
	return len(vector), nil
}
