package ai

import (
	"fmt"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
)

// Ensure ConfigValidator implements the interface.
var _ driven.AIConfigValidator = (*ConfigValidator)(nil)

// ConfigValidator checks provider settings by building the service and
// pinging it. The embedder is required; the language model is optional.
type ConfigValidator struct{}

// NewConfigValidator creates a validator.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{}
}

// ValidateEmbedding fails when no embedder is configured or it cannot be reached.
func (v *ConfigValidator) ValidateEmbedding(config *domain.EmbeddingSettings) error {
	svc, err := CreateAndValidateEmbeddingService(config)
	if err != nil {
		return err
	}
	if svc == nil {
		provider := domain.AIProvider("")
		if config != nil {
			provider = config.Provider
		}
		return fmt.Errorf("%w: embedding provider %q is not configured", domain.ErrEmbeddingUnavailable, provider)
	}
	return svc.Close()
}

// ValidateLLM pings the configured model. No model is not an error.
func (v *ConfigValidator) ValidateLLM(config *domain.LLMSettings) error {
	svc, err := CreateAndValidateLLMService(config)
	if err != nil || svc == nil {
		return err
	}
	return svc.Close()
}
