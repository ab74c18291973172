package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// Ingestion Errors.

	// ErrUnsupportedFormat indicates no extractor handles the declared media type.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrExtractionFailed indicates a parser or converter could not produce text.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrEmbeddingUnavailable indicates the embedding service could not be reached.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrEmbeddingMalformed indicates the embedding service returned an unusable response.
	ErrEmbeddingMalformed = errors.New("embedding response malformed")

	// ErrDimensionMismatch indicates a collection exists with a different vector size.
	// Requires operator intervention; the collection is never recreated automatically.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrIndexWrite indicates an upsert or delete against the vector index failed.
	ErrIndexWrite = errors.New("index write failed")

	// ErrInvalidEvent indicates a queue message that cannot be decoded.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrQueueUnavailable indicates the message broker could not be reached.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// Query Errors.

	// ErrModelUnavailable indicates the language model could not produce a reply.
	ErrModelUnavailable = errors.New("language model unavailable")

	// ErrModelTimeout indicates the language model did not reply in time.
	ErrModelTimeout = errors.New("language model timeout")

	// ErrLLMNotConfigured indicates no language model provider is configured.
	ErrLLMNotConfigured = errors.New("LLM service not configured")
)

// UnsupportedFormatError carries the media type that no extractor accepts.
type UnsupportedFormatError struct {
	MediaType string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnsupportedFormat, e.MediaType)
}

// Is reports whether target is ErrUnsupportedFormat.
func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// DimensionMismatchError describes an existing collection whose vector size
// differs from the one requested.
type DimensionMismatchError struct {
	Collection string
	Existing   int
	Requested  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: collection %q has dimension %d, embedder produces %d",
		ErrDimensionMismatch, e.Collection, e.Existing, e.Requested)
}

// Is reports whether target is ErrDimensionMismatch.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
