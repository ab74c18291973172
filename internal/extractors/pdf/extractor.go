// Package pdf extracts PDF text page by page with poppler's pdftotext.
package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/extractors/plaintext"
	"github.com/democracy-chain/dcindex/internal/extractors/runner"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Tool is the external binary used for extraction.
const Tool = "pdftotext"

// Extractor shells out to pdftotext.
type Extractor struct {
	runner runner.CommandRunner
}

// New creates a PDF extractor. A nil runner uses os/exec.
func New(r runner.CommandRunner) *Extractor {
	if r == nil {
		r = runner.New()
	}
	return &Extractor{runner: r}
}

// Format returns the format tag.
func (e *Extractor) Format() driven.Format {
	return driven.FormatPDF
}

// Extract returns the text of every page joined by newlines. Pages with no
// extractable text contribute an empty line.
func (e *Extractor) Extract(ctx context.Context, path, _ string) (string, error) {
	out, err := e.runner.Run(ctx, Tool, "-enc", "UTF-8", path, "-")
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}
	return strings.Join(Pages(plaintext.Decode(out)), "\n"), nil
}

// Pages splits pdftotext output on form feeds, one entry per page, each
// without trailing whitespace.
func Pages(out string) []string {
	pages := strings.Split(out, "\f")
	// pdftotext terminates every page, including the last, with a form feed.
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	for i, p := range pages {
		pages[i] = strings.TrimRight(p, " \t\r\n")
	}
	return pages
}

// InstallInstructions describes how to install pdftotext.
func InstallInstructions() string {
	return `PDF extraction requires pdftotext (poppler).
  macOS:          brew install poppler
  Debian/Ubuntu:  apt install poppler-utils
  Alpine:         apk add poppler-utils`
}
