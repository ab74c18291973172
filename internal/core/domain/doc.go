// Package domain defines the core business entities for dcindex.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - FileDescriptor: A stored document announced for ingestion
//   - Chunk: A bounded slice of a document's extracted text
//   - VectorPoint: An embedded chunk as held by the vector index
//   - RetrievalGroup: Query hits grouped by owning wallet
//   - IngestEvent: One queue message carrying add and remove batches
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
