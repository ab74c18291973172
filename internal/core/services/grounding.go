package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/core/ports/driving"
	"github.com/democracy-chain/dcindex/internal/logger"
)

// Ensure GroundingService implements the interfaces.
var (
	_ driving.GroundingService = (*GroundingService)(nil)
	_ driven.PromptStoreAware  = (*GroundingService)(nil)
)

// MarkerTag is the literal that opens the owner marker line.
const MarkerTag = "WALLETS"

// markerPattern matches the tag up to the opening bracket of its JSON
// array; the array itself is decoded from the rest of the line.
var markerPattern = regexp.MustCompile(MarkerTag + `\s*=\s*\[`)

// Fallback prompts used when no PromptStore is configured.
const (
	fallbackSystemPrompt = `Answer using only the programme excerpts provided and cite programmes by wallet.
End your reply with one line in exactly this form and nothing else on it:
WALLETS=["<wallet>", "<wallet>"]
listing the wallets whose programmes best match, or WALLETS=[] if none do.`

	fallbackContextPrompt = `A citizen asks: "%s"

Programme excerpts grouped by wallet:
%s
Explain clearly which programmes best match the citizen's criteria.`
)

// GroundingConfig tunes retrieval and prompting.
type GroundingConfig struct {
	Collection        string
	TopK              int
	MaxTopK           int
	MaxChunksPerOwner int
	RequestTimeout    time.Duration
	ModelTimeout      time.Duration
	Temperature       float64
	MaxTokens         int
}

// GroundingConfigFrom derives the service configuration from settings.
func GroundingConfigFrom(s *domain.AppSettings) GroundingConfig {
	return GroundingConfig{
		Collection:        s.VectorIndex.Collection,
		TopK:              s.Grounding.TopK,
		MaxTopK:           s.Grounding.MaxTopK,
		MaxChunksPerOwner: s.Grounding.MaxChunksPerOwner,
		RequestTimeout:    s.Grounding.RequestTimeout,
		ModelTimeout:      s.LLM.Timeout,
		Temperature:       s.LLM.Temperature,
		MaxTokens:         s.LLM.MaxTokens,
	}
}

// GroundingService answers citizen questions from indexed programmes.
// The language model is optional; without it only Retrieve works.
type GroundingService struct {
	embedder    driven.EmbeddingService
	index       driven.VectorIndex
	llm         driven.LLMService
	promptStore driven.PromptStore
	cfg         GroundingConfig
}

// NewGroundingService creates a new grounding service.
func NewGroundingService(
	embedder driven.EmbeddingService,
	index driven.VectorIndex,
	llm driven.LLMService,
	cfg GroundingConfig,
) *GroundingService {
	defaults := domain.DefaultAppSettings()
	if cfg.Collection == "" {
		cfg.Collection = defaults.VectorIndex.Collection
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaults.Grounding.TopK
	}
	if cfg.MaxTopK < cfg.TopK {
		cfg.MaxTopK = max(cfg.TopK, defaults.Grounding.MaxTopK)
	}
	if cfg.MaxChunksPerOwner <= 0 {
		cfg.MaxChunksPerOwner = defaults.Grounding.MaxChunksPerOwner
	}
	return &GroundingService{
		embedder: embedder,
		index:    index,
		llm:      llm,
		cfg:      cfg,
	}
}

// SetPromptStore sets the prompt store for loading customisable prompts.
func (s *GroundingService) SetPromptStore(store driven.PromptStore) {
	s.promptStore = store
}

// Retrieve embeds the query and groups the nearest chunks by owner.
// topK is clamped to [1, MaxTopK]; zero or negative selects the default.
func (s *GroundingService) Retrieve(ctx context.Context, query string, topK int) (*domain.RetrievalGroup, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidInput)
	}
	topK = s.clampTopK(topK)

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.index.Search(ctx, s.cfg.Collection, vector, topK)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Debug("collection %q does not exist yet, nothing to retrieve", s.cfg.Collection)
		return domain.NewRetrievalGroup(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.cfg.Collection, err)
	}

	group := domain.NewRetrievalGroup()
	for _, hit := range hits {
		group.Add(hit.Payload.OwnerID, hit.Payload.Text)
	}
	logger.Debug("retrieved %d hits across %d owners", len(hits), group.Len())
	return group, nil
}

// ComposePrompt renders the question and at most maxPerOwner texts per
// owner into the context template. Output depends only on its inputs
// and the loaded template.
func (s *GroundingService) ComposePrompt(query string, group *domain.RetrievalGroup, maxPerOwner int) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("%w: query is empty", domain.ErrInvalidInput)
	}
	if maxPerOwner <= 0 {
		maxPerOwner = s.cfg.MaxChunksPerOwner
	}

	var b strings.Builder
	for _, owner := range group.Owners() {
		texts := group.Texts(owner)
		if len(texts) > maxPerOwner {
			texts = texts[:maxPerOwner]
		}
		fmt.Fprintf(&b, "\nPrograma de %s:\n", owner)
		for _, text := range texts {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(text))
		}
	}

	template := s.loadPrompt(driven.PromptGroundingContext, fallbackContextPrompt)
	return fmt.Sprintf(template, query, b.String()), nil
}

// Ask sends one prompt to the language model under the model timeout.
func (s *GroundingService) Ask(ctx context.Context, prompt string) (string, error) {
	if s.llm == nil {
		return "", domain.ErrLLMNotConfigured
	}
	if s.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ModelTimeout)
		defer cancel()
	}

	messages := []driven.ChatMessage{
		{Role: driven.RoleSystem, Content: s.loadPrompt(driven.PromptGroundingSystem, fallbackSystemPrompt)},
		{Role: driven.RoleUser, Content: prompt},
	}
	reply, err := s.llm.Chat(ctx, messages, driven.ChatOptions{
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return "", classifyModelError(ctx, err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("%w: empty reply from %s", domain.ErrModelUnavailable, s.llm.ModelName())
	}
	return reply, nil
}

// ExtractOwners strips the owner marker from reply and returns the parsed
// owners. The last parseable marker wins. Without one the reply is returned
// unchanged with an empty, non-nil owner list.
func (s *GroundingService) ExtractOwners(reply string) (string, []string) {
	return ExtractOwners(reply)
}

// ExtractOwners is the stateless form of GroundingService.ExtractOwners.
func ExtractOwners(reply string) (string, []string) {
	matches := markerPattern.FindAllStringIndex(reply, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		start, open := matches[i][0], matches[i][1]-1
		line := reply[open:]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}
		owners, n, ok := parseOwners(line)
		if !ok {
			continue
		}
		return stripMarker(reply, start, open+n), owners
	}
	return reply, []string{}
}

// Chat runs retrieval, prompting, the model call and marker extraction
// under one request timeout.
func (s *GroundingService) Chat(ctx context.Context, query string, topK int) (*domain.Answer, error) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	group, err := s.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	prompt, err := s.ComposePrompt(query, group, s.cfg.MaxChunksPerOwner)
	if err != nil {
		return nil, fmt.Errorf("compose prompt: %w", err)
	}

	raw, err := s.Ask(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}

	reply, owners := s.ExtractOwners(raw)
	logger.Info("answered question with %d retrieved owners, %d matched", group.Len(), len(owners))
	return &domain.Answer{Reply: reply, Owners: owners, Group: group}, nil
}

func (s *GroundingService) clampTopK(topK int) int {
	if topK <= 0 {
		return s.cfg.TopK
	}
	return min(topK, s.cfg.MaxTopK)
}

// loadPrompt loads a prompt from the store, falling back to the default if unavailable.
func (s *GroundingService) loadPrompt(name, fallback string) string {
	if s.promptStore == nil {
		return fallback
	}
	prompt, err := s.promptStore.Load(name)
	if err != nil {
		logger.Warn("prompt %q unavailable, using built-in default: %v", name, err)
		return fallback
	}
	return prompt
}

// classifyModelError maps a failed model call onto the query-time taxonomy.
func classifyModelError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrModelTimeout), errors.Is(err, domain.ErrModelUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrModelTimeout, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
	}
}

// parseOwners decodes the JSON string array at the start of raw and
// returns the owners with the number of bytes it spans.
func parseOwners(raw string) ([]string, int, bool) {
	dec := json.NewDecoder(strings.NewReader(raw))
	var values []string
	if err := dec.Decode(&values); err != nil {
		return nil, 0, false
	}
	owners := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		owners = append(owners, v)
	}
	return owners, int(dec.InputOffset()), true
}

// stripMarker removes reply[start:end]; the surrounding line goes too when
// nothing else is left on it.
func stripMarker(reply string, start, end int) string {
	lineStart := strings.LastIndexByte(reply[:start], '\n') + 1
	lineEnd := len(reply)
	if i := strings.IndexByte(reply[end:], '\n'); i >= 0 {
		lineEnd = end + i
	}

	rest := strings.TrimSpace(reply[lineStart:start] + reply[end:lineEnd])
	var cleaned string
	if rest == "" {
		tail := reply[lineEnd:]
		if lineEnd < len(reply) {
			tail = reply[lineEnd+1:]
		}
		cleaned = reply[:lineStart] + tail
	} else {
		cleaned = reply[:start] + reply[end:]
	}
	return strings.TrimSpace(cleaned)
}
