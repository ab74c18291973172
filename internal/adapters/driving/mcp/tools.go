package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

// AskInput is the input schema for the ask tool.
type AskInput struct {
	Question string `json:"question" jsonschema:"the citizen's question about electoral programmes"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"number of excerpts to retrieve (default from settings)"`
}

// AskOutput is the output schema for the ask tool.
type AskOutput struct {
	Reply   string         `json:"reply"`
	Wallets []string       `json:"wallets"`
	Context []OwnerExcerpt `json:"context"`
}

// RetrieveInput is the input schema for the retrieve tool.
type RetrieveInput struct {
	Query string `json:"query" jsonschema:"the text to find matching programme excerpts for"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of excerpts to retrieve (default from settings)"`
}

// RetrieveOutput is the output schema for the retrieve tool.
type RetrieveOutput struct {
	Owners []OwnerExcerpt `json:"owners"`
	Count  int            `json:"count"`
}

// OwnerExcerpt holds one wallet's retrieved texts in rank order.
type OwnerExcerpt struct {
	Wallet string   `json:"wallet"`
	Texts  []string `json:"texts"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question from the indexed electoral programmes and list the matching wallets",
	}, s.handleAsk)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "retrieve",
		Description: "Find programme excerpts similar to a query, grouped by wallet",
	}, s.handleRetrieve)
}

// handleAsk handles the ask tool invocation.
func (s *Server) handleAsk(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, AskOutput{}, errors.New("question is required")
	}

	answer, err := s.ports.Grounding.Chat(ctx, input.Question, input.TopK)
	if err != nil {
		return nil, AskOutput{}, err
	}

	return nil, AskOutput{
		Reply:   answer.Reply,
		Wallets: answer.Owners,
		Context: excerpts(answer.Group),
	}, nil
}

// handleRetrieve handles the retrieve tool invocation.
func (s *Server) handleRetrieve(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RetrieveInput,
) (*mcp.CallToolResult, RetrieveOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, RetrieveOutput{}, errors.New("query is required")
	}

	group, err := s.ports.Grounding.Retrieve(ctx, input.Query, input.TopK)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}

	owners := excerpts(group)
	return nil, RetrieveOutput{Owners: owners, Count: len(owners)}, nil
}

func excerpts(group *domain.RetrievalGroup) []OwnerExcerpt {
	out := make([]OwnerExcerpt, 0, group.Len())
	for _, owner := range group.Owners() {
		out = append(out, OwnerExcerpt{Wallet: owner, Texts: group.Texts(owner)})
	}
	return out
}
