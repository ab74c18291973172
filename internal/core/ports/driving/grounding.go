package driving

import (
	"context"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

// GroundingService answers questions from indexed programmes.
type GroundingService interface {
	// Retrieve embeds the query and groups the nearest chunks by owner.
	// topK <= 0 selects the configured default.
	Retrieve(ctx context.Context, query string, topK int) (*domain.RetrievalGroup, error)

	// ComposePrompt renders the grounding prompt for a question and its
	// retrieved group, keeping at most maxPerOwner texts for each owner.
	ComposePrompt(query string, group *domain.RetrievalGroup, maxPerOwner int) (string, error)

	// Ask sends a composed prompt to the language model and returns its raw reply.
	Ask(ctx context.Context, prompt string) (string, error)

	// ExtractOwners strips the WALLETS marker from a reply and parses it.
	// A missing or malformed marker yields the reply unchanged and no owners.
	ExtractOwners(reply string) (string, []string)

	// Chat runs retrieval, prompting and parsing under one request timeout.
	Chat(ctx context.Context, query string, topK int) (*domain.Answer, error)
}
