package driven

import "github.com/democracy-chain/dcindex/internal/core/domain"

// AIConfigValidator checks provider settings against the live services.
type AIConfigValidator interface {
	// ValidateEmbedding fails unless an embedder is configured and reachable.
	ValidateEmbedding(config *domain.EmbeddingSettings) error

	// ValidateLLM fails when a configured model cannot be reached.
	// An unconfigured model is valid.
	ValidateLLM(config *domain.LLMSettings) error
}
