// Package app builds the adapters and services of one dcindex process from
// settings. Adapters are created on first use, so a command only touches
// the infrastructure it needs.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/democracy-chain/dcindex/internal/adapters/driven/ai"
	"github.com/democracy-chain/dcindex/internal/adapters/driven/config/file"
	"github.com/democracy-chain/dcindex/internal/adapters/driven/queue/amqp"
	"github.com/democracy-chain/dcindex/internal/adapters/driven/storage/local"
	"github.com/democracy-chain/dcindex/internal/adapters/driven/storage/sqlite"
	"github.com/democracy-chain/dcindex/internal/adapters/driven/vector/bolt"
	"github.com/democracy-chain/dcindex/internal/adapters/driven/vector/qdrant"
	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/core/ports/driving"
	"github.com/democracy-chain/dcindex/internal/core/services"
	"github.com/democracy-chain/dcindex/internal/extractors"
	"github.com/democracy-chain/dcindex/internal/logger"
)

// Container owns every adapter it creates and closes them together.
type Container struct {
	settings *domain.AppSettings

	mu        sync.Mutex
	ai        *ai.InitResult
	index     driven.VectorIndex
	ledger    driven.IngestionLedger
	ledgerSet bool
	connector driven.QueueConnector
	files     *local.FileStore
	ingestion *services.IngestionService
	grounding *services.GroundingService
}

// New creates a container for settings. Nothing is dialled or opened yet.
func New(settings *domain.AppSettings) *Container {
	return &Container{settings: settings}
}

// Settings returns the settings the container was built from.
func (c *Container) Settings() *domain.AppSettings {
	return c.settings
}

// FileStore returns the upload directory store.
func (c *Container) FileStore() *local.FileStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.files == nil {
		c.files = local.NewFileStore(c.settings.Storage.UploadDir)
	}
	return c.files
}

// Connector returns the broker connector.
func (c *Container) Connector() driven.QueueConnector {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connector == nil {
		c.connector = amqp.NewConnector(amqp.Config{
			URL:      c.settings.Queue.URL,
			Queue:    c.settings.Queue.Name,
			Prefetch: c.settings.Queue.Prefetch,
		})
	}
	return c.connector
}

// Index opens the configured vector backend.
func (c *Container) Index() (driven.VectorIndex, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexLocked()
}

func (c *Container) indexLocked() (driven.VectorIndex, error) {
	if c.index != nil {
		return c.index, nil
	}
	cfg := c.settings.VectorIndex
	switch cfg.Backend {
	case domain.VectorBackendQdrant:
		c.index = qdrant.NewIndex(qdrant.Config{URL: cfg.URL, APIKey: cfg.APIKey, Timeout: cfg.Timeout})
	case domain.VectorBackendBolt:
		path := cfg.Path
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("get home directory: %w", err)
			}
			path = filepath.Join(home, ".dcindex", "data", "vectors.db")
		}
		idx, err := bolt.Open(path)
		if err != nil {
			return nil, err
		}
		c.index = idx
	default:
		return nil, fmt.Errorf("%w: unknown vector backend %q", domain.ErrInvalidInput, cfg.Backend)
	}
	logger.Debug("vector index: %s, collection %q", cfg.Backend, cfg.Collection)
	return c.index, nil
}

// Ledger opens the SQLite ledger, or returns nil when it is disabled.
func (c *Container) Ledger() (driven.IngestionLedger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledgerLocked()
}

func (c *Container) ledgerLocked() (driven.IngestionLedger, error) {
	if c.ledgerSet {
		return c.ledger, nil
	}
	if c.settings.Ledger.Enabled {
		store, err := sqlite.NewStore(c.settings.Ledger.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		c.ledger = store
	}
	c.ledgerSet = true
	return c.ledger, nil
}

// aiLocked builds the embedder, pinging it when requireEmbedding is set,
// and the optional language model.
func (c *Container) aiLocked(requireEmbedding bool) (*ai.InitResult, error) {
	if c.ai != nil {
		return c.ai, nil
	}
	result, err := ai.Init(c.settings, requireEmbedding)
	if err != nil {
		return nil, err
	}
	c.ai = result
	return c.ai, nil
}

// Ingestion builds the ingestion service.
func (c *Container) Ingestion(_ context.Context) (driving.IngestionService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ingestionLocked()
}

func (c *Container) ingestionLocked() (*services.IngestionService, error) {
	if c.ingestion != nil {
		return c.ingestion, nil
	}
	models, err := c.aiLocked(false)
	if err != nil {
		return nil, err
	}
	index, err := c.indexLocked()
	if err != nil {
		return nil, err
	}
	ledger, err := c.ledgerLocked()
	if err != nil {
		return nil, err
	}
	if c.files == nil {
		c.files = local.NewFileStore(c.settings.Storage.UploadDir)
	}

	for _, tool := range extractors.MissingTools() {
		logger.Warn("extractor tool %q not found on PATH; its formats will fail", tool)
	}
	registry := extractors.NewDefaultRegistry(nil, os.TempDir())

	c.ingestion = services.NewIngestionService(c.files, registry, models.EmbeddingService, index, ledger,
		services.IngestionConfig{
			Collection: c.settings.VectorIndex.Collection,
			ChunkSize:  c.settings.Ingestion.ChunkSize,
			Workers:    c.settings.Ingestion.Workers,
		})
	return c.ingestion, nil
}

// Grounding builds the grounding service with prompts from the prompt directory.
func (c *Container) Grounding(_ context.Context) (driving.GroundingService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.grounding != nil {
		return c.grounding, nil
	}

	models, err := c.aiLocked(false)
	if err != nil {
		return nil, err
	}
	index, err := c.indexLocked()
	if err != nil {
		return nil, err
	}
	prompts, err := file.NewPromptStore(c.settings.Grounding.PromptDir)
	if err != nil {
		return nil, err
	}

	c.grounding = services.NewGroundingService(models.EmbeddingService, index, models.LLMService,
		services.GroundingConfigFrom(c.settings))
	c.grounding.SetPromptStore(prompts)
	return c.grounding, nil
}

// Consumer builds the queue worker after checking the collection can hold
// the embedder's vectors. A dimension mismatch is fatal; an unreachable
// embedder is not, since ingestion provisions the collection lazily.
func (c *Container) Consumer(ctx context.Context) (driving.ConsumerService, error) {
	c.mu.Lock()
	ingestion, err := c.ingestionLocked()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := c.checkCollection(ctx); err != nil {
		return nil, err
	}
	return services.NewConsumer(c.Connector(), ingestion, services.ConsumerConfigFrom(c.settings)), nil
}

func (c *Container) checkCollection(ctx context.Context) error {
	c.mu.Lock()
	embedder, index := c.ai.EmbeddingService, c.index
	c.mu.Unlock()

	dim, err := services.DiscoverDimensions(ctx, embedder, c.settings.Embedding.Dimensions)
	if err != nil {
		logger.Warn("cannot determine embedding dimensions at startup: %v", err)
		return nil
	}
	err = index.EnsureCollection(ctx, c.settings.VectorIndex.Collection, dim)
	switch {
	case errors.Is(err, domain.ErrDimensionMismatch):
		return fmt.Errorf("%w; drop the collection with 'dcindex collection drop' and re-ingest", err)
	case err != nil:
		logger.Warn("cannot provision collection %q at startup: %v", c.settings.VectorIndex.Collection, err)
	}
	return nil
}

// Publisher builds the event publisher.
func (c *Container) Publisher() driving.PublisherService {
	return services.NewPublisher(c.Connector())
}

// Close releases every adapter the container opened.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.ai != nil {
		c.ai.Close()
		c.ai = nil
	}
	if c.index != nil {
		errs = append(errs, c.index.Close())
		c.index = nil
	}
	if c.ledger != nil {
		errs = append(errs, c.ledger.Close())
		c.ledger = nil
	}
	c.ledgerSet = false
	c.ingestion, c.grounding = nil, nil
	return errors.Join(errs...)
}
