// Package xmltext extracts the character data of XML documents.
package xmltext

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor streams XML with encoding/xml and keeps only character data.
type Extractor struct{}

// New creates a new XML extractor.
func New() *Extractor {
	return &Extractor{}
}

// Format returns the format tag.
func (e *Extractor) Format() driven.Format {
	return driven.FormatXML
}

// Extract returns the text content of every element, one run per line.
// Markup, attributes, comments and processing instructions are dropped.
func (e *Extractor) Extract(_ context.Context, path, _ string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}
	defer f.Close()

	return Text(f)
}

// Text renders the character data of an XML stream. Undeclared HTML
// entities are accepted.
func Text(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	var lines []string
	var cur strings.Builder
	flush := func() {
		if fields := strings.Fields(cur.String()); len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
		cur.Reset()
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: parse xml: %w", domain.ErrExtractionFailed, err)
		}

		switch t := tok.(type) {
		case xml.CharData:
			cur.Write(t)
		case xml.StartElement, xml.EndElement:
			flush()
		}
	}
	flush()
	return strings.Join(lines, "\n"), nil
}
