package services

import (
	"fmt"
	"time"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyQueueURL             = "queue.url"
	keyQueueName            = "queue.name"
	keyQueuePrefetch        = "queue.prefetch"
	keyQueueConnectAttempts = "queue.connect_attempts"
	keyQueueConnectDelay    = "queue.connect_delay"
	keyQueueReconnectDelay  = "queue.reconnect_delay"

	keyUploadDir = "storage.upload_dir"

	keyEmbedProvider   = "embedding.provider"
	keyEmbedModel      = "embedding.model"
	keyEmbedBaseURL    = "embedding.base_url"
	keyEmbedAPIKey     = "embedding.api_key"
	keyEmbedDims       = "embedding.dimensions"
	keyEmbedBatchSize  = "embedding.batch_size"
	keyEmbedTimeout    = "embedding.timeout"
	keyEmbedRatePerSec = "embedding.requests_per_second"

	keyLLMProvider    = "llm.provider"
	keyLLMModel       = "llm.model"
	keyLLMBaseURL     = "llm.base_url"
	keyLLMAPIKey      = "llm.api_key"
	keyLLMTemperature = "llm.temperature"
	keyLLMMaxTokens   = "llm.max_tokens"
	keyLLMTimeout     = "llm.timeout"

	keyVectorBackend    = "vector_index.backend"
	keyVectorCollection = "vector_index.collection"
	keyVectorURL        = "vector_index.url"
	keyVectorAPIKey     = "vector_index.api_key"
	keyVectorPath       = "vector_index.path"
	keyVectorTimeout    = "vector_index.timeout"

	keyChunkSize        = "ingestion.chunk_size"
	keyWorkers          = "ingestion.workers"
	keyOutageBackoff    = "ingestion.outage_backoff"
	keyMaxOutageBackoff = "ingestion.max_outage_backoff"

	keyTopK              = "grounding.top_k"
	keyMaxTopK           = "grounding.max_top_k"
	keyMaxChunksPerOwner = "grounding.max_chunks_per_owner"
	keyRequestTimeout    = "grounding.request_timeout"
	keyPromptDir         = "grounding.prompt_dir"

	keyLedgerEnabled = "ledger.enabled"
	keyLedgerDataDir = "ledger.data_dir"

	keyLogLevel = "log.level"
)

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
	aiValidator driven.AIConfigValidator
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore, aiValidator driven.AIConfigValidator) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		aiValidator: aiValidator,
	}
}

// Get retrieves current application settings.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	defaults := domain.DefaultAppSettings()

	settings := &domain.AppSettings{
		Queue: domain.QueueSettings{
			URL:             s.getString(keyQueueURL, defaults.Queue.URL),
			Name:            s.getString(keyQueueName, defaults.Queue.Name),
			Prefetch:        s.getInt(keyQueuePrefetch, defaults.Queue.Prefetch),
			ConnectAttempts: s.getInt(keyQueueConnectAttempts, defaults.Queue.ConnectAttempts),
			ConnectDelay:    s.getDuration(keyQueueConnectDelay, defaults.Queue.ConnectDelay),
			ReconnectDelay:  s.getDuration(keyQueueReconnectDelay, defaults.Queue.ReconnectDelay),
		},
		Storage: domain.StorageSettings{
			UploadDir: s.getString(keyUploadDir, defaults.Storage.UploadDir),
		},
		Embedding: domain.EmbeddingSettings{
			Provider:          s.getProvider(keyEmbedProvider, defaults.Embedding.Provider),
			Model:             s.getString(keyEmbedModel, defaults.Embedding.Model),
			BaseURL:           s.getString(keyEmbedBaseURL, defaults.Embedding.BaseURL),
			APIKey:            s.configStore.GetString(keyEmbedAPIKey),
			Dimensions:        s.getInt(keyEmbedDims, defaults.Embedding.Dimensions),
			BatchSize:         s.getInt(keyEmbedBatchSize, defaults.Embedding.BatchSize),
			Timeout:           s.getDuration(keyEmbedTimeout, defaults.Embedding.Timeout),
			RequestsPerSecond: s.getFloat(keyEmbedRatePerSec, defaults.Embedding.RequestsPerSecond),
		},
		LLM: domain.LLMSettings{
			Provider:    s.getProvider(keyLLMProvider, defaults.LLM.Provider),
			Model:       s.getString(keyLLMModel, defaults.LLM.Model),
			BaseURL:     s.getString(keyLLMBaseURL, defaults.LLM.BaseURL),
			APIKey:      s.configStore.GetString(keyLLMAPIKey),
			Temperature: s.getFloat(keyLLMTemperature, defaults.LLM.Temperature),
			MaxTokens:   s.getInt(keyLLMMaxTokens, defaults.LLM.MaxTokens),
			Timeout:     s.getDuration(keyLLMTimeout, defaults.LLM.Timeout),
		},
		VectorIndex: domain.VectorIndexSettings{
			Backend:    s.getBackend(defaults.VectorIndex.Backend),
			Collection: s.getString(keyVectorCollection, defaults.VectorIndex.Collection),
			URL:        s.getString(keyVectorURL, defaults.VectorIndex.URL),
			APIKey:     s.configStore.GetString(keyVectorAPIKey),
			Path:       s.getString(keyVectorPath, defaults.VectorIndex.Path),
			Timeout:    s.getDuration(keyVectorTimeout, defaults.VectorIndex.Timeout),
		},
		Ingestion: domain.IngestionSettings{
			ChunkSize:        s.getInt(keyChunkSize, defaults.Ingestion.ChunkSize),
			Workers:          s.getInt(keyWorkers, defaults.Ingestion.Workers),
			OutageBackoff:    s.getDuration(keyOutageBackoff, defaults.Ingestion.OutageBackoff),
			MaxOutageBackoff: s.getDuration(keyMaxOutageBackoff, defaults.Ingestion.MaxOutageBackoff),
		},
		Grounding: domain.GroundingSettings{
			TopK:              s.getInt(keyTopK, defaults.Grounding.TopK),
			MaxTopK:           s.getInt(keyMaxTopK, defaults.Grounding.MaxTopK),
			MaxChunksPerOwner: s.getInt(keyMaxChunksPerOwner, defaults.Grounding.MaxChunksPerOwner),
			RequestTimeout:    s.getDuration(keyRequestTimeout, defaults.Grounding.RequestTimeout),
			PromptDir:         s.getString(keyPromptDir, defaults.Grounding.PromptDir),
		},
		Ledger: domain.LedgerSettings{
			Enabled: s.getBool(keyLedgerEnabled, defaults.Ledger.Enabled),
			DataDir: s.getString(keyLedgerDataDir, defaults.Ledger.DataDir),
		},
		Log: domain.LogSettings{
			Level: s.getString(keyLogLevel, defaults.Log.Level),
		},
	}

	return settings, nil
}

// Save persists application settings. API keys are only written when set,
// so a key supplied through the environment never lands on disk.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	values := []struct {
		key   string
		value any
	}{
		{keyQueueURL, settings.Queue.URL},
		{keyQueueName, settings.Queue.Name},
		{keyQueuePrefetch, settings.Queue.Prefetch},
		{keyQueueConnectAttempts, settings.Queue.ConnectAttempts},
		{keyQueueConnectDelay, settings.Queue.ConnectDelay.String()},
		{keyQueueReconnectDelay, settings.Queue.ReconnectDelay.String()},
		{keyUploadDir, settings.Storage.UploadDir},
		{keyEmbedProvider, settings.Embedding.Provider.String()},
		{keyEmbedModel, settings.Embedding.Model},
		{keyEmbedBaseURL, settings.Embedding.BaseURL},
		{keyEmbedDims, settings.Embedding.Dimensions},
		{keyEmbedBatchSize, settings.Embedding.BatchSize},
		{keyEmbedTimeout, settings.Embedding.Timeout.String()},
		{keyEmbedRatePerSec, settings.Embedding.RequestsPerSecond},
		{keyLLMProvider, settings.LLM.Provider.String()},
		{keyLLMModel, settings.LLM.Model},
		{keyLLMBaseURL, settings.LLM.BaseURL},
		{keyLLMTemperature, settings.LLM.Temperature},
		{keyLLMMaxTokens, settings.LLM.MaxTokens},
		{keyLLMTimeout, settings.LLM.Timeout.String()},
		{keyVectorBackend, string(settings.VectorIndex.Backend)},
		{keyVectorCollection, settings.VectorIndex.Collection},
		{keyVectorURL, settings.VectorIndex.URL},
		{keyVectorPath, settings.VectorIndex.Path},
		{keyVectorTimeout, settings.VectorIndex.Timeout.String()},
		{keyChunkSize, settings.Ingestion.ChunkSize},
		{keyWorkers, settings.Ingestion.Workers},
		{keyOutageBackoff, settings.Ingestion.OutageBackoff.String()},
		{keyMaxOutageBackoff, settings.Ingestion.MaxOutageBackoff.String()},
		{keyTopK, settings.Grounding.TopK},
		{keyMaxTopK, settings.Grounding.MaxTopK},
		{keyMaxChunksPerOwner, settings.Grounding.MaxChunksPerOwner},
		{keyRequestTimeout, settings.Grounding.RequestTimeout.String()},
		{keyPromptDir, settings.Grounding.PromptDir},
		{keyLedgerEnabled, settings.Ledger.Enabled},
		{keyLedgerDataDir, settings.Ledger.DataDir},
		{keyLogLevel, settings.Log.Level},
	}
	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}

	secrets := map[string]string{
		keyEmbedAPIKey:  settings.Embedding.APIKey,
		keyLLMAPIKey:    settings.LLM.APIKey,
		keyVectorAPIKey: settings.VectorIndex.APIKey,
	}
	for key, value := range secrets {
		if value == "" {
			continue
		}
		if err := s.configStore.Set(key, value); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks that current settings allow the worker to start.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if !settings.Embedding.IsConfigured() {
		return fmt.Errorf("%w: embedding provider %q is not configured",
			domain.ErrInvalidInput, settings.Embedding.Provider)
	}
	return nil
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// ValidateEmbeddingConfig validates the current embedding configuration by pinging the provider.
func (s *SettingsService) ValidateEmbeddingConfig() error {
	if s.aiValidator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.aiValidator.ValidateEmbedding(&settings.Embedding)
}

// ValidateLLMConfig validates the current LLM configuration by pinging the provider.
func (s *SettingsService) ValidateLLMConfig() error {
	if s.aiValidator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.aiValidator.ValidateLLM(&settings.LLM)
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetFloat(key)
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	val := s.configStore.GetDuration(key)
	if val <= 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getBool(key string, defaultVal bool) bool {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetBool(key)
}

func (s *SettingsService) getProvider(key string, defaultVal domain.AIProvider) domain.AIProvider {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	provider := domain.AIProvider(val)
	if !provider.IsValid() {
		return defaultVal
	}
	return provider
}

func (s *SettingsService) getBackend(defaultVal domain.VectorBackend) domain.VectorBackend {
	val := s.configStore.GetString(keyVectorBackend)
	if val == "" {
		return defaultVal
	}
	// Unknown backends are kept so Validate can name them.
	return domain.VectorBackend(val)
}
