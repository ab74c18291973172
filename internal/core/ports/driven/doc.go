// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the worker to function:
//
//   - Extractor: Turns a stored file into plain text for one media type family
//   - EmbeddingService: Generates vector embeddings
//   - VectorIndex: Collection lifecycle, upsert, filtered delete, search
//   - QueueConnector: Opens sessions against the message broker
//   - FileStore: Resolves owner/name pairs to stored files
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - LLMService: Without it, grounded answers are unavailable; retrieval still works.
//   - IngestionLedger: Without it, outcomes are only logged.
//   - PromptStore: Without it, embedded default prompts are used.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or extractor package
package driven
