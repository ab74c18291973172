// Package driving defines what the CLI, the queue consumer loop, the
// upload watcher and the MCP server call into: ingestion, publishing,
// grounding and settings.
//
// Implementations live in internal/core/services.
package driving
