package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

const (
	// uriScheme is the custom URI scheme for dcindex resources.
	uriScheme = "dcindex://"

	// historyLimit bounds the entries in the history resource.
	historyLimit = 50
)

// registerResources registers the ledger resources. Without a ledger there are none.
func (s *Server) registerResources() {
	if s.ports.Ledger == nil {
		return
	}

	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "history",
		Name:        "history",
		Description: "Most recent ingestion and removal outcomes",
		MIMEType:    "application/json",
	}, s.handleHistoryResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "sources/{owner}/{name}",
		Name:        "source-history",
		Description: "Ingestion history of one programme file",
		MIMEType:    "application/json",
	}, s.handleSourceResource)
}

// ledgerEntry is the JSON form of a ledger entry.
type ledgerEntry struct {
	Action      string `json:"action"`
	Wallet      string `json:"wallet"`
	Source      string `json:"source"`
	Status      string `json:"status"`
	Chunks      int    `json:"chunks"`
	Deleted     int    `json:"deleted"`
	Error       string `json:"error,omitempty"`
	ProcessedAt string `json:"processed_at"`
}

// handleHistoryResource returns the newest ledger entries.
func (s *Server) handleHistoryResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	entries, err := s.ports.Ledger.Recent(ctx, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return jsonResource(req.Params.URI, entries)
}

// handleSourceResource returns the ledger entries of one file.
func (s *Server) handleSourceResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	ref, ok := extractSourceRef(req.Params.URI)
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	entries, err := s.ports.Ledger.ForSource(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("reading source history: %w", err)
	}
	if len(entries) == 0 {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return jsonResource(req.Params.URI, entries)
}

func jsonResource(uri string, entries []domain.LedgerEntry) (*mcp.ReadResourceResult, error) {
	out := make([]ledgerEntry, len(entries))
	for i, e := range entries {
		out[i] = ledgerEntry{
			Action:      string(e.Action),
			Wallet:      e.OwnerID,
			Source:      e.SourceName,
			Status:      string(e.Status),
			Chunks:      e.Chunks,
			Deleted:     e.Deleted,
			Error:       e.Error,
			ProcessedAt: e.ProcessedAt.UTC().Format(time.RFC3339),
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling history: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractSourceRef parses a URI like dcindex://sources/{owner}/{name}.
func extractSourceRef(uri string) (domain.FileRef, bool) {
	const prefix = uriScheme + "sources/"

	if !strings.HasPrefix(uri, prefix) {
		return domain.FileRef{}, false
	}
	owner, name, ok := strings.Cut(strings.TrimPrefix(uri, prefix), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return domain.FileRef{}, false
	}
	return domain.FileRef{OwnerID: owner, SourceName: name}, true
}
