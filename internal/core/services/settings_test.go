package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/democracy-chain/dcindex/internal/adapters/driven/storage/memory"
	"github.com/democracy-chain/dcindex/internal/core/domain"
)

type mockAIValidator struct {
	embedErr error
	llmErr   error
	embedded *domain.EmbeddingSettings
	llm      *domain.LLMSettings
}

func (m *mockAIValidator) ValidateEmbedding(cfg *domain.EmbeddingSettings) error {
	m.embedded = cfg
	return m.embedErr
}

func (m *mockAIValidator) ValidateLLM(cfg *domain.LLMSettings) error {
	m.llm = cfg
	return m.llmErr
}

func TestSettingsService_Get_Defaults(t *testing.T) {
	svc := NewSettingsService(memory.NewConfigStore(), nil)

	settings, err := svc.Get()
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultAppSettings(), *settings)
	assert.Equal(t, domain.DefaultAppSettings(), svc.GetDefaults())
}

func TestSettingsService_Get_Overrides(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{
		"queue.url":                      "amqp://localhost:5672/",
		"queue.connect_delay":            "1s",
		"storage.upload_dir":             "/srv/uploads",
		"embedding.provider":             "openai",
		"embedding.api_key":              "sk-test",
		"embedding.dimensions":           1536,
		"embedding.requests_per_second":  2.5,
		"llm.temperature":                0.0,
		"llm.timeout":                    30,
		"vector_index.backend":           "bolt",
		"vector_index.path":              "/tmp/index.db",
		"ingestion.chunk_size":           "120",
		"grounding.max_chunks_per_owner": 4,
		"ledger.enabled":                 false,
		"log.level":                      "debug",
	})
	svc := NewSettingsService(store, nil)

	settings, err := svc.Get()
	require.NoError(t, err)

	assert.Equal(t, "amqp://localhost:5672/", settings.Queue.URL)
	assert.Equal(t, time.Second, settings.Queue.ConnectDelay)
	assert.Equal(t, 10, settings.Queue.ConnectAttempts)
	assert.Equal(t, "/srv/uploads", settings.Storage.UploadDir)
	assert.Equal(t, domain.AIProviderOpenAI, settings.Embedding.Provider)
	assert.Equal(t, "sk-test", settings.Embedding.APIKey)
	assert.Equal(t, 1536, settings.Embedding.Dimensions)
	assert.Equal(t, 2.5, settings.Embedding.RequestsPerSecond)
	assert.Equal(t, 0.0, settings.LLM.Temperature)
	assert.Equal(t, 30*time.Second, settings.LLM.Timeout)
	assert.Equal(t, domain.VectorBackendBolt, settings.VectorIndex.Backend)
	assert.Equal(t, "/tmp/index.db", settings.VectorIndex.Path)
	assert.Equal(t, 120, settings.Ingestion.ChunkSize)
	assert.Equal(t, 4, settings.Grounding.MaxChunksPerOwner)
	assert.False(t, settings.Ledger.Enabled)
	assert.Equal(t, "debug", settings.Log.Level)
}

func TestSettingsService_Get_InvalidProviderFallsBack(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{"llm.provider": "nonsense"})
	svc := NewSettingsService(store, nil)

	settings, err := svc.Get()
	require.NoError(t, err)
	assert.Equal(t, domain.AIProviderOllama, settings.LLM.Provider)
}

func TestSettingsService_SaveRoundTrip(t *testing.T) {
	store := memory.NewConfigStore()
	svc := NewSettingsService(store, nil)

	settings := domain.DefaultAppSettings()
	settings.Queue.Name = "programs"
	settings.Grounding.RequestTimeout = 90 * time.Second
	settings.LLM.APIKey = "key"
	require.NoError(t, svc.Save(&settings))

	got, err := svc.Get()
	require.NoError(t, err)
	assert.Equal(t, "programs", got.Queue.Name)
	assert.Equal(t, 90*time.Second, got.Grounding.RequestTimeout)
	assert.Equal(t, "key", got.LLM.APIKey)

	_, ok := store.Get("embedding.api_key")
	assert.False(t, ok, "empty api keys are not written")
}

func TestSettingsService_Validate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		svc := NewSettingsService(memory.NewConfigStore(), nil)
		assert.NoError(t, svc.Validate())
	})

	t.Run("unknown backend", func(t *testing.T) {
		store := memory.NewConfigStore(map[string]any{"vector_index.backend": "faiss"})
		err := NewSettingsService(store, nil).Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Contains(t, err.Error(), "faiss")
	})

	t.Run("anthropic embeddings", func(t *testing.T) {
		store := memory.NewConfigStore(map[string]any{"embedding.provider": "anthropic"})
		err := NewSettingsService(store, nil).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "anthropic does not support embeddings")
	})

	t.Run("missing api key", func(t *testing.T) {
		store := memory.NewConfigStore(map[string]any{"embedding.provider": "openai"})
		err := NewSettingsService(store, nil).Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestSettingsService_ValidateAIConfig(t *testing.T) {
	t.Run("nil validator", func(t *testing.T) {
		svc := NewSettingsService(memory.NewConfigStore(), nil)
		assert.NoError(t, svc.ValidateEmbeddingConfig())
		assert.NoError(t, svc.ValidateLLMConfig())
	})

	t.Run("delegates current settings", func(t *testing.T) {
		validator := &mockAIValidator{llmErr: errors.New("connection refused")}
		store := memory.NewConfigStore(map[string]any{"llm.model": "mistral"})
		svc := NewSettingsService(store, validator)

		assert.NoError(t, svc.ValidateEmbeddingConfig())
		require.NotNil(t, validator.embedded)
		assert.Equal(t, "all-minilm", validator.embedded.Model)

		err := svc.ValidateLLMConfig()
		assert.EqualError(t, err, "connection refused")
		assert.Equal(t, "mistral", validator.llm.Model)
	})
}
