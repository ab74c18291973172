package mcp

import (
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/core/ports/driving"
)

// Ports aggregates the ports required by the MCP server.
type Ports struct {
	// Grounding answers and retrieves.
	Grounding driving.GroundingService

	// Ledger exposes ingestion history as resources. Optional.
	Ledger driven.IngestionLedger
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Grounding == nil {
		return ErrMissingGroundingService
	}
	return nil
}
