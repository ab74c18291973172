// Package pptx extracts slide text from PowerPoint (OOXML) presentations.
package pptx

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

const slidePrefix = "ppt/slides/slide"

// Extractor reads the text frames of every slide.
type Extractor struct{}

// New creates a new PPTX extractor.
func New() *Extractor {
	return &Extractor{}
}

// Format returns the format tag.
func (e *Extractor) Format() driven.Format {
	return driven.FormatPPTX
}

// Extract returns the non-empty paragraphs of all slides in slide order,
// one per line.
func (e *Extractor) Extract(_ context.Context, path, _ string) (string, error) {
	pkg, err := ooxml.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}
	defer pkg.Close()

	slides := pkg.Numbered(slidePrefix)
	if len(slides) == 0 {
		return "", fmt.Errorf("%w: presentation has no slides", domain.ErrExtractionFailed)
	}

	var lines []string
	for _, part := range slides {
		data, err := pkg.Read(part)
		if err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
		}
		paras, err := ooxml.Paragraphs(data, "p", "t")
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", domain.ErrExtractionFailed, part, err)
		}
		for _, p := range paras {
			if strings.TrimSpace(p) != "" {
				lines = append(lines, p)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}
