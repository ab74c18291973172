package extractors

import (
	"context"
	"fmt"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/extractors/csvtext"
	"github.com/democracy-chain/dcindex/internal/extractors/docx"
	"github.com/democracy-chain/dcindex/internal/extractors/html"
	"github.com/democracy-chain/dcindex/internal/extractors/legacy"
	"github.com/democracy-chain/dcindex/internal/extractors/pdf"
	"github.com/democracy-chain/dcindex/internal/extractors/plaintext"
	"github.com/democracy-chain/dcindex/internal/extractors/pptx"
	"github.com/democracy-chain/dcindex/internal/extractors/runner"
	"github.com/democracy-chain/dcindex/internal/extractors/xlsx"
	"github.com/democracy-chain/dcindex/internal/extractors/xmltext"
	"github.com/democracy-chain/dcindex/internal/logger"
)

// Ensure Registry implements the interface.
var _ driven.ExtractorRegistry = (*Registry)(nil)

// Registry dispatches media types to the extractor of their format.
type Registry struct {
	extractors map[driven.Format]driven.Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[driven.Format]driven.Extractor),
	}
}

// NewDefaultRegistry registers an extractor for every format. External
// tools run through r; a nil runner uses os/exec.
func NewDefaultRegistry(r runner.CommandRunner, tmpDir string) *Registry {
	if r == nil {
		r = runner.New()
	}
	reg := NewRegistry()
	reg.Register(plaintext.New())
	reg.Register(html.New())
	reg.Register(xmltext.New())
	reg.Register(csvtext.New())
	reg.Register(pdf.New(r))
	reg.Register(docx.New())
	reg.Register(xlsx.New())
	reg.Register(pptx.New())
	reg.Register(legacy.New(r, legacy.WithTempDir(tmpDir)))
	return reg
}

// Register adds or replaces the extractor for its format.
func (r *Registry) Register(e driven.Extractor) {
	r.extractors[e.Format()] = e
}

// Supports reports whether the media type has a registered extractor.
func (r *Registry) Supports(mediaType string) bool {
	f, ok := FormatOf(mediaType)
	if !ok {
		return false
	}
	_, ok = r.extractors[f]
	return ok
}

// Extract runs the extractor for the media type's format.
func (r *Registry) Extract(ctx context.Context, path, mediaType string) (string, error) {
	f, ok := FormatOf(mediaType)
	if !ok {
		return "", &domain.UnsupportedFormatError{MediaType: mediaType}
	}
	e, ok := r.extractors[f]
	if !ok {
		return "", &domain.UnsupportedFormatError{MediaType: mediaType}
	}

	logger.Debug("extract %s as %s (%s)", path, f, mediaType)
	text, err := e.Extract(ctx, path, Normalise(mediaType))
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", f, err)
	}
	return text, nil
}

// MissingTools lists external binaries the registered extractors need but
// cannot find on PATH.
func MissingTools() []string {
	var missing []string
	for _, tool := range []string{pdf.Tool, legacy.Tool} {
		if !runner.Available(tool) {
			missing = append(missing, tool)
		}
	}
	return missing
}
