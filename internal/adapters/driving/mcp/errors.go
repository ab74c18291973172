// Package mcp provides an MCP (Model Context Protocol) server adapter for dcindex.
// It lets assistants ask grounded questions about indexed electoral programmes.
package mcp

import "errors"

// ErrMissingGroundingService is returned when the grounding service is not provided.
var ErrMissingGroundingService = errors.New("mcp: grounding service is required")
