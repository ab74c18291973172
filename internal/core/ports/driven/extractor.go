package driven

import (
	"context"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

// Format is a closed set of document families the extractors understand.
// New formats are added by extending the enumeration.
type Format string

// Supported formats.
const (
	FormatPlainText    Format = "plaintext"
	FormatHTML         Format = "html"
	FormatXML          Format = "xml"
	FormatCSV          Format = "csv"
	FormatPDF          Format = "pdf"
	FormatDOCX         Format = "docx"
	FormatXLSX         Format = "xlsx"
	FormatPPTX         Format = "pptx"
	FormatLegacyOffice Format = "legacy_office"
)

// Extractor turns a stored file of one format into plain text.
type Extractor interface {
	// Format returns the format tag this extractor serves.
	Format() Format

	// Extract reads the file at path and returns its visible text.
	// mediaType is the declared type, for extractors serving several.
	Extract(ctx context.Context, path, mediaType string) (string, error)
}

// ExtractorRegistry dispatches a media type to its extractor.
type ExtractorRegistry interface {
	// Extract resolves mediaType to a format and runs its extractor.
	// Unknown media types fail with *domain.UnsupportedFormatError.
	Extract(ctx context.Context, path, mediaType string) (string, error)

	// Supports reports whether mediaType maps to a registered extractor.
	Supports(mediaType string) bool
}

// FileStore resolves documents to files on disk.
type FileStore interface {
	// Resolve returns the stored file for ref, or domain.ErrNotFound.
	Resolve(ctx context.Context, ref domain.FileRef) (*domain.StoredFile, error)
}
