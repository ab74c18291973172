// Package docx extracts paragraph text from Word (OOXML) documents.
package docx

import (
	"context"
	"fmt"
	"strings"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/extractors/ooxml"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

const documentPart = "word/document.xml"

// Extractor reads word/document.xml from the package.
type Extractor struct{}

// New creates a new DOCX extractor.
func New() *Extractor {
	return &Extractor{}
}

// Format returns the format tag.
func (e *Extractor) Format() driven.Format {
	return driven.FormatDOCX
}

// Extract returns one line per paragraph, empty paragraphs included, so
// the output mirrors the document's paragraph list.
func (e *Extractor) Extract(_ context.Context, path, _ string) (string, error) {
	pkg, err := ooxml.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}
	defer pkg.Close()

	data, err := pkg.Read(documentPart)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}

	paras, err := ooxml.Paragraphs(data, "p", "t")
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}
	return strings.Join(paras, "\n"), nil
}
