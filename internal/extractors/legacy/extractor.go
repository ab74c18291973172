// Package legacy converts binary and OpenDocument office files with
// LibreOffice before reading them.
//
// Word-processing files are converted straight to UTF-8 text. Spreadsheets
// and presentations are converted to their OOXML equivalents and handed to
// the xlsx and pptx extractors so every sheet and slide is read. Every
// conversion runs in its own temporary directory, removed on return, which
// also isolates LibreOffice's user profile so concurrent conversions do not
// contend for a lock.
package legacy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/extractors/plaintext"
	"github.com/democracy-chain/dcindex/internal/extractors/pptx"
	"github.com/democracy-chain/dcindex/internal/extractors/runner"
	"github.com/democracy-chain/dcindex/internal/extractors/xlsx"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Tool is the external binary used for conversion.
const Tool = "libreoffice"

type family int

const (
	familyText family = iota
	familySpreadsheet
	familyPresentation
)

// families maps each accepted media type to its document family.
var families = map[string]family{
	"application/msword": familyText,
	"application/rtf":    familyText,
	"text/rtf":           familyText,
	"application/vnd.oasis.opendocument.text": familyText,

	"application/vnd.ms-excel":                       familySpreadsheet,
	"application/vnd.oasis.opendocument.spreadsheet": familySpreadsheet,

	"application/vnd.ms-powerpoint":                   familyPresentation,
	"application/vnd.oasis.opendocument.presentation": familyPresentation,
}

// conversion describes the LibreOffice filter and output extension per family.
var conversion = map[family]struct{ filter, ext string }{
	familyText:         {filter: "txt:Text (encoded):UTF8", ext: ".txt"},
	familySpreadsheet:  {filter: "xlsx", ext: ".xlsx"},
	familyPresentation: {filter: "pptx", ext: ".pptx"},
}

// MediaTypes returns every media type this extractor accepts.
func MediaTypes() []string {
	out := make([]string, 0, len(families))
	for mt := range families {
		out = append(out, mt)
	}
	return out
}

// Extractor drives headless LibreOffice.
type Extractor struct {
	runner runner.CommandRunner
	tmpDir string
	sheets driven.Extractor
	slides driven.Extractor
}

// Option configures the extractor.
type Option func(*Extractor)

// WithTempDir sets the parent directory for scratch conversion directories.
func WithTempDir(dir string) Option {
	return func(e *Extractor) {
		e.tmpDir = dir
	}
}

// New creates a legacy office extractor. A nil runner uses os/exec.
func New(r runner.CommandRunner, opts ...Option) *Extractor {
	if r == nil {
		r = runner.New()
	}
	e := &Extractor{
		runner: r,
		sheets: xlsx.New(),
		slides: pptx.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Format returns the format tag.
func (e *Extractor) Format() driven.Format {
	return driven.FormatLegacyOffice
}

// Extract converts the file according to its media type and reads the result.
func (e *Extractor) Extract(ctx context.Context, path, mediaType string) (string, error) {
	fam, ok := families[mediaType]
	if !ok {
		return "", &domain.UnsupportedFormatError{MediaType: mediaType}
	}
	conv := conversion[fam]

	scratch, err := os.MkdirTemp(e.tmpDir, "dcindex-convert-*")
	if err != nil {
		return "", fmt.Errorf("%w: create scratch dir: %w", domain.ErrExtractionFailed, err)
	}
	defer os.RemoveAll(scratch)

	profile := "file://" + filepath.ToSlash(filepath.Join(scratch, "profile"))
	_, err = e.runner.Run(ctx, Tool,
		"-env:UserInstallation="+profile,
		"--headless",
		"--convert-to", conv.filter,
		"--outdir", scratch,
		path,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	converted := filepath.Join(scratch, base+conv.ext)
	if _, err := os.Stat(converted); err != nil {
		return "", fmt.Errorf("%w: %s produced no output: %w", domain.ErrExtractionFailed, Tool, err)
	}

	switch fam {
	case familySpreadsheet:
		return e.sheets.Extract(ctx, converted, "")
	case familyPresentation:
		return e.slides.Extract(ctx, converted, "")
	default:
		data, err := os.ReadFile(converted)
		if err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
		}
		return plaintext.Decode(data), nil
	}
}
