package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
)

func TestExtractOwners(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantText   string
		wantOwners []string
	}{
		{
			name:       "marker on last line",
			reply:      "El programa de 0xAB prioriza la educación.\nWALLETS=[\"0xAB\",\"0xCD\"]",
			wantText:   "El programa de 0xAB prioriza la educación.",
			wantOwners: []string{"0xAB", "0xCD"},
		},
		{
			name:       "no marker",
			reply:      "Ningún programa encaja.\n",
			wantText:   "Ningún programa encaja.\n",
			wantOwners: []string{},
		},
		{
			name:       "malformed array",
			reply:      "Texto.\nWALLETS=[0xAB, 0xCD]",
			wantText:   "Texto.\nWALLETS=[0xAB, 0xCD]",
			wantOwners: []string{},
		},
		{
			name:       "unterminated array",
			reply:      "Texto.\nWALLETS=[\"0xAB\"",
			wantText:   "Texto.\nWALLETS=[\"0xAB\"",
			wantOwners: []string{},
		},
		{
			name:       "empty marker",
			reply:      "Ninguno encaja.\n  WALLETS = []  \n",
			wantText:   "Ninguno encaja.",
			wantOwners: []string{},
		},
		{
			name:       "marker sharing a line keeps the rest",
			reply:      "Resultado: WALLETS=[\"0xAB\"] fin",
			wantText:   "Resultado:  fin",
			wantOwners: []string{"0xAB"},
		},
		{
			name:       "last parseable marker wins",
			reply:      "WALLETS=[\"0x01\"]\nmedio\nWALLETS=[\"0x02\"]",
			wantText:   "WALLETS=[\"0x01\"]\nmedio",
			wantOwners: []string{"0x02"},
		},
		{
			name:       "invalid last marker falls back to earlier one",
			reply:      "WALLETS=[\"0x01\"]\nfinal WALLETS=[1, 2]",
			wantText:   "final WALLETS=[1, 2]",
			wantOwners: []string{"0x01"},
		},
		{
			name:       "brackets inside a wallet",
			reply:      "Texto.\nWALLETS=[\"0x[AB]\",\"0xCD\"]",
			wantText:   "Texto.",
			wantOwners: []string{"0x[AB]", "0xCD"},
		},
		{
			name:       "two markers on one line",
			reply:      "WALLETS=[\"0x01\"] y WALLETS=[\"0x02\"]",
			wantText:   "WALLETS=[\"0x01\"] y",
			wantOwners: []string{"0x02"},
		},
		{
			name:       "duplicates and blanks dropped",
			reply:      "ok\nWALLETS=[\"0xAB\", \"\", \"0xAB\", \" 0xCD \"]",
			wantText:   "ok",
			wantOwners: []string{"0xAB", "0xCD"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, owners := ExtractOwners(tt.reply)
			assert.Equal(t, tt.wantText, text)
			require.NotNil(t, owners)
			assert.Equal(t, tt.wantOwners, owners)
		})
	}
}

// seedIndex writes points directly; every owner's texts get the given vector.
func seedIndex(t *testing.T, index *fakeVectorIndex, owner string, vector []float32, texts ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, index.EnsureCollection(ctx, testCollection, len(vector)))
	points := make([]domain.VectorPoint, len(texts))
	for i, text := range texts {
		points[i] = domain.VectorPoint{
			ID:     fmt.Sprintf("%s-%d", owner, i),
			Vector: vector,
			Payload: domain.Payload{
				OwnerID:    owner,
				SourceName: "programa.pdf",
				Sequence:   i,
				Text:       text,
			},
		}
	}
	require.NoError(t, index.Upsert(ctx, testCollection, points))
}

func newGroundingFixture(llm *mockLLMService) (*GroundingService, *fakeVectorIndex) {
	index := newFakeVectorIndex()
	embedder := &mockEmbeddingService{embedding: []float32{1, 0}}
	var model driven.LLMService
	if llm != nil {
		model = llm
	}
	svc := NewGroundingService(embedder, index, model, GroundingConfig{
		Collection:        testCollection,
		TopK:              5,
		MaxTopK:           50,
		MaxChunksPerOwner: 3,
		RequestTimeout:    time.Second,
		ModelTimeout:      time.Second,
		Temperature:       0.2,
	})
	return svc, index
}

func TestRetrieve_GroupsByOwnerInRankOrder(t *testing.T) {
	svc, index := newGroundingFixture(nil)
	seedIndex(t, index, "W1", []float32{1, 0}, "w1 education a", "w1 education b", "w1 education c")
	seedIndex(t, index, "W2", []float32{0.9, 0.1}, "w2 schools a", "w2 schools b", "w2 schools c")
	seedIndex(t, index, "W3", []float32{0, 1}, "w3 roads")

	group, err := svc.Retrieve(context.Background(), "education policy", 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"W1", "W2"}, group.Owners())
	assert.Equal(t, []string{"w1 education a", "w1 education b", "w1 education c"}, group.Texts("W1"))
	assert.Equal(t, []string{"w2 schools a", "w2 schools b"}, group.Texts("W2"))
	assert.Nil(t, group.Texts("W3"))
	for _, owner := range group.Owners() {
		n := len(group.Texts(owner))
		assert.True(t, n >= 1 && n <= 5)
	}
}

func TestRetrieve_TopKClamping(t *testing.T) {
	svc, index := newGroundingFixture(nil)
	seedIndex(t, index, "W1", []float32{1, 0}, "a")
	ctx := context.Background()

	_, err := svc.Retrieve(ctx, "q", 1000)
	require.NoError(t, err)
	assert.Equal(t, 50, index.lastTopK)

	_, err = svc.Retrieve(ctx, "q", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, index.lastTopK)

	_, err = svc.Retrieve(ctx, "q", -3)
	require.NoError(t, err)
	assert.Equal(t, 5, index.lastTopK)
}

func TestRetrieve_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty query", func(t *testing.T) {
		svc, _ := newGroundingFixture(nil)
		_, err := svc.Retrieve(ctx, "  ", 5)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("missing collection yields empty group", func(t *testing.T) {
		svc, _ := newGroundingFixture(nil)
		group, err := svc.Retrieve(ctx, "q", 5)
		require.NoError(t, err)
		assert.Equal(t, 0, group.Len())
	})

	t.Run("embedding failure", func(t *testing.T) {
		index := newFakeVectorIndex()
		svc := NewGroundingService(&mockEmbeddingService{embedErr: domain.ErrEmbeddingUnavailable}, index, nil, GroundingConfig{})
		_, err := svc.Retrieve(ctx, "q", 5)
		assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	})

	t.Run("search failure", func(t *testing.T) {
		svc, index := newGroundingFixture(nil)
		index.searchErr = errors.New("qdrant: 500")
		_, err := svc.Retrieve(ctx, "q", 5)
		assert.ErrorContains(t, err, "qdrant: 500")
	})
}

func TestComposePrompt_CapsEachOwner(t *testing.T) {
	svc, _ := newGroundingFixture(nil)
	group := domain.NewRetrievalGroup()
	for i := 0; i < 5; i++ {
		group.Add("W1", fmt.Sprintf("  w1 text %d  ", i))
	}
	group.Add("W2", "w2 only")

	prompt, err := svc.ComposePrompt("education policy", group, 3)
	require.NoError(t, err)

	assert.Contains(t, prompt, `"education policy"`)
	assert.Contains(t, prompt, "\nPrograma de W1:\n- w1 text 0\n- w1 text 1\n- w1 text 2\n")
	assert.NotContains(t, prompt, "w1 text 3")
	assert.Contains(t, prompt, "\nPrograma de W2:\n- w2 only\n")
	assert.Less(t, strings.Index(prompt, "W1"), strings.Index(prompt, "W2"))

	again, err := svc.ComposePrompt("education policy", group, 3)
	require.NoError(t, err)
	assert.Equal(t, prompt, again)
}

func TestComposePrompt_UsesPromptStore(t *testing.T) {
	svc, _ := newGroundingFixture(nil)
	svc.SetPromptStore(&mockPromptStore{prompts: map[string]string{
		driven.PromptGroundingContext: "Q=%s\nCTX=%s",
	}})
	group := domain.NewRetrievalGroup()
	group.Add("W1", "a")

	prompt, err := svc.ComposePrompt("q", group, 0)
	require.NoError(t, err)
	assert.Equal(t, "Q=q\nCTX=\nPrograma de W1:\n- a\n", prompt)
}

func TestComposePrompt_EmptyQuery(t *testing.T) {
	svc, _ := newGroundingFixture(nil)
	_, err := svc.ComposePrompt("", domain.NewRetrievalGroup(), 3)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("sends system and user messages", func(t *testing.T) {
		llm := &mockLLMService{reply: "respuesta"}
		svc, _ := newGroundingFixture(llm)
		svc.SetPromptStore(&mockPromptStore{prompts: map[string]string{
			driven.PromptGroundingSystem: "system prompt",
		}})

		reply, err := svc.Ask(ctx, "user prompt")
		require.NoError(t, err)
		assert.Equal(t, "respuesta", reply)
		require.Len(t, llm.messages, 2)
		assert.Equal(t, driven.ChatMessage{Role: driven.RoleSystem, Content: "system prompt"}, llm.messages[0])
		assert.Equal(t, driven.ChatMessage{Role: driven.RoleUser, Content: "user prompt"}, llm.messages[1])
		assert.Equal(t, 0.2, llm.opts.Temperature)
	})

	t.Run("not configured", func(t *testing.T) {
		svc, _ := newGroundingFixture(nil)
		_, err := svc.Ask(ctx, "p")
		assert.ErrorIs(t, err, domain.ErrLLMNotConfigured)
	})

	t.Run("timeout", func(t *testing.T) {
		llm := &mockLLMService{block: true}
		svc, _ := newGroundingFixture(llm)
		svc.cfg.ModelTimeout = 20 * time.Millisecond
		_, err := svc.Ask(ctx, "p")
		assert.ErrorIs(t, err, domain.ErrModelTimeout)
	})

	t.Run("unavailable", func(t *testing.T) {
		svc, _ := newGroundingFixture(&mockLLMService{err: errors.New("connection refused")})
		_, err := svc.Ask(ctx, "p")
		assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	})

	t.Run("empty reply", func(t *testing.T) {
		svc, _ := newGroundingFixture(&mockLLMService{reply: "  \n"})
		_, err := svc.Ask(ctx, "p")
		assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	})
}

func TestChat(t *testing.T) {
	ctx := context.Background()

	t.Run("grounded answer", func(t *testing.T) {
		llm := &mockLLMService{reply: "W1 apuesta por la educación pública.\nWALLETS=[\"W1\"]"}
		svc, index := newGroundingFixture(llm)
		seedIndex(t, index, "W1", []float32{1, 0}, "educación pública")

		answer, err := svc.Chat(ctx, "education policy", 0)
		require.NoError(t, err)
		assert.Equal(t, "W1 apuesta por la educación pública.", answer.Reply)
		assert.Equal(t, []string{"W1"}, answer.Owners)
		assert.Equal(t, []string{"W1"}, answer.Group.Owners())
		assert.Contains(t, llm.messages[1].Content, "Programa de W1:\n- educación pública")
	})

	t.Run("model failure yields no answer", func(t *testing.T) {
		svc, index := newGroundingFixture(&mockLLMService{err: errors.New("boom")})
		seedIndex(t, index, "W1", []float32{1, 0}, "a")

		answer, err := svc.Chat(ctx, "q", 5)
		assert.Nil(t, answer)
		assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	})

	t.Run("request timeout bounds the whole call", func(t *testing.T) {
		svc, index := newGroundingFixture(&mockLLMService{block: true})
		seedIndex(t, index, "W1", []float32{1, 0}, "a")
		svc.cfg.RequestTimeout = 20 * time.Millisecond
		svc.cfg.ModelTimeout = time.Minute

		_, err := svc.Chat(ctx, "q", 5)
		assert.ErrorIs(t, err, domain.ErrModelTimeout)
	})
}
